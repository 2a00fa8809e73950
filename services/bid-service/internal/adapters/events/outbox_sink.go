package events

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	pkgdb "github.com/floroz/gavel-engine/pkg/database"
	pkgevents "github.com/floroz/gavel-engine/pkg/events"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// OutboxWriter is the part of the outbox repository the sink needs
type OutboxWriter interface {
	SaveEvent(ctx context.Context, tx pgx.Tx, event *pkgevents.OutboxEvent) error
}

// OutboxSink stores events in the outbox table; the worker relays them to RabbitMQ
type OutboxSink struct {
	txManager pkgdb.TransactionManager
	outbox    OutboxWriter
	logger    *slog.Logger
}

// NewOutboxSink creates a new outbox sink
func NewOutboxSink(txManager pkgdb.TransactionManager, outbox OutboxWriter, logger *slog.Logger) *OutboxSink {
	return &OutboxSink{txManager: txManager, outbox: outbox, logger: logger}
}

// Emit writes the event in its own transaction. Failures are logged, never returned.
func (s *OutboxSink) Emit(ctx context.Context, e auctions.Event) {
	payload, err := MarshalBinary(e)
	if err != nil {
		s.logger.Error("Failed to encode event", "event_type", e.Type, "auction_id", e.AuctionID, "error", err)
		return
	}

	row := &pkgevents.OutboxEvent{
		ID:        e.ID,
		EventType: string(e.Type),
		Payload:   payload,
		Status:    pkgevents.OutboxStatusPending,
		CreatedAt: e.OccurredAt,
	}
	err = pkgdb.WithinTx(ctx, s.txManager, func(tx pgx.Tx) error {
		return s.outbox.SaveEvent(ctx, tx, row)
	})
	if err != nil {
		s.logger.Error("Failed to store outbox event", "event_type", e.Type, "auction_id", e.AuctionID, "error", err)
	}
}
