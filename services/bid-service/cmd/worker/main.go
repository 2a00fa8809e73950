package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/floroz/gavel-engine/services/bid-service/internal/adapters/events"
	"github.com/floroz/gavel-engine/services/bid-service/internal/config"
)

// The worker relays committed outbox rows to the auction events exchange.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.ValidateRelay(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := relay(ctx, cfg, logger); err != nil {
		logger.Error("Outbox relay stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}

func relay(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	logger.Info("Postgres Connected")

	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	defer conn.Close()
	logger.Info("RabbitMQ Connected", "exchange", cfg.RabbitMQ.Exchange)

	producer, err := events.NewAuctionEventsProducer(pool, conn, events.ProducerConfig{
		Exchange:     cfg.RabbitMQ.Exchange,
		BatchSize:    cfg.RabbitMQ.BatchSize,
		PollInterval: cfg.RabbitMQ.PollInterval,
		LockTimeout:  cfg.Store.LockTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	defer producer.Close()

	logger.Info("Relaying auction events", "batch_size", cfg.RabbitMQ.BatchSize, "poll_interval", cfg.RabbitMQ.PollInterval)
	// Run returns nil once ctx is cancelled
	if err := producer.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
