package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// ChannelPrefix namespaces the per-auction pub/sub channels
const ChannelPrefix = "auction:"

// Channel returns the pub/sub channel live viewers of an auction subscribe to
func Channel(auctionID uuid.UUID) string {
	return ChannelPrefix + auctionID.String()
}

// RedisSink broadcasts events to live viewers over Redis pub/sub
type RedisSink struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisSink creates a new Redis broadcast sink
func NewRedisSink(client redis.UniversalClient, logger *slog.Logger) *RedisSink {
	return &RedisSink{client: client, logger: logger}
}

// Emit publishes the event as JSON on the auction's channel
func (s *RedisSink) Emit(ctx context.Context, e auctions.Event) {
	payload, err := MarshalJSON(e)
	if err != nil {
		s.logger.Error("Failed to encode event", "event_type", e.Type, "error", err)
		return
	}
	if err := s.client.Publish(ctx, Channel(e.AuctionID), payload).Err(); err != nil {
		s.logger.Warn("Failed to broadcast event", "event_type", e.Type, "auction_id", e.AuctionID, "error", err)
	}
}
