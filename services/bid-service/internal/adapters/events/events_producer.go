package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	pkgdb "github.com/floroz/gavel-engine/pkg/database"
	pkgevents "github.com/floroz/gavel-engine/pkg/events"
	"github.com/floroz/gavel-engine/services/bid-service/internal/adapters/database"
)

// ProducerConfig tunes the outbox relay
type ProducerConfig struct {
	Exchange     string
	BatchSize    int
	PollInterval time.Duration
	LockTimeout  time.Duration
}

// AuctionEventsProducer relays auction and bid events from the outbox to RabbitMQ
type AuctionEventsProducer struct {
	relay     *pkgevents.OutboxRelay
	publisher *pkgevents.RabbitMQPublisher
	outbox    *database.PostgresOutboxRepository
	logger    *slog.Logger
}

// NewAuctionEventsProducer creates a new producer
func NewAuctionEventsProducer(pool *pgxpool.Pool, conn *amqp.Connection, cfg ProducerConfig, logger *slog.Logger) (*AuctionEventsProducer, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = pkgevents.DefaultExchange
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	publisher, err := pkgevents.NewRabbitMQPublisher(conn, cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.LockTimeout)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	relay := pkgevents.NewOutboxRelay(
		outboxRepo,
		publisher,
		txManager,
		cfg.BatchSize,
		cfg.PollInterval,
		cfg.Exchange,
		logger,
	)

	return &AuctionEventsProducer{
		relay:     relay,
		publisher: publisher,
		outbox:    outboxRepo,
		logger:    logger,
	}, nil
}

// Run starts the relay loop
func (p *AuctionEventsProducer) Run(ctx context.Context) error {
	if backlog, err := p.outbox.PendingCount(ctx); err == nil && backlog > 0 {
		p.logger.Info("Relaying outbox backlog", "pending", backlog)
	}
	return p.relay.Run(ctx)
}

// Close closes the publisher channel
func (p *AuctionEventsProducer) Close() error {
	return p.publisher.Close()
}
