package events

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
)

// MessageWriter is satisfied by *kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a writer that hashes messages by key, so every event of
// one auction lands on the same partition in order
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// KafkaSink streams events to a Kafka topic for notification services
type KafkaSink struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaSink creates a new Kafka sink
func NewKafkaSink(writer MessageWriter, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{writer: writer, logger: logger}
}

// Emit writes the event keyed by auction ID
func (s *KafkaSink) Emit(ctx context.Context, e auctions.Event) {
	payload, err := MarshalJSON(e)
	if err != nil {
		s.logger.Error("Failed to encode event", "event_type", e.Type, "error", err)
		return
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.AuctionID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		s.logger.Warn("Failed to stream event", "event_type", e.Type, "auction_id", e.AuctionID, "error", err)
	}
}
