package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/gavel-engine/pkg/auth"
	pkgdb "github.com/floroz/gavel-engine/pkg/database"
	"github.com/floroz/gavel-engine/services/bid-service/internal/adapters/api"
	"github.com/floroz/gavel-engine/services/bid-service/internal/adapters/database"
	"github.com/floroz/gavel-engine/services/bid-service/internal/adapters/events"
	"github.com/floroz/gavel-engine/services/bid-service/internal/config"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/bids"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/ingestion"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/lifecycle"
	"github.com/floroz/gavel-engine/services/bid-service/internal/domain/proxy"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	var (
		repo  auctions.Repository
		sinks events.MultiSink
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := connectPostgres(ctx, cfg.Store.PostgresURL)
		if err != nil {
			logger.Error("Unable to connect to Postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("Postgres Connected")

		txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.Store.LockTimeout)
		repo = database.NewPostgresAuctionRepository(pool, txManager)
		// the worker binary relays the outbox to RabbitMQ
		sinks = append(sinks, events.NewOutboxSink(txManager, database.NewPostgresOutboxRepository(pool), logger))

	case config.StoreSQLite:
		db, err := database.OpenSQLite(cfg.Store.SQLiteDSN)
		if err != nil {
			logger.Error("Unable to open SQLite", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		sqliteRepo := database.NewSQLiteAuctionRepository(db)
		if err := sqliteRepo.Migrate(ctx); err != nil {
			logger.Error("Unable to migrate SQLite", "error", err)
			os.Exit(1)
		}
		repo = sqliteRepo
		logger.Info("SQLite Ready", "dsn", cfg.Store.SQLiteDSN)

	default:
		repo = database.NewMemoryRepository()
		logger.Warn("Using in-memory store, auctions are lost on restart")
	}

	// 2. Event sinks
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis connection failed (live updates disabled)", "error", err)
		} else {
			logger.Info("Redis Connected")
			sinks = append(sinks, events.NewRedisSink(rdb, logger))
		}
	}
	if cfg.Kafka.Enabled {
		writer := events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		sinks = append(sinks, events.NewKafkaSink(writer, logger))
		logger.Info("Kafka Writer Ready", "topic", cfg.Kafka.Topic)
	}
	sink := events.NewAsyncSink(sinks, cfg.Engine.EventBuffer, logger)
	defer sink.Close()

	// 3. Domain
	locks := auctions.NewLockTable()
	validator := bids.NewLimitValidator(bids.LimitPolicy{
		MaxBidAmount:   cfg.Engine.MaxBidAmount,
		MaxJumpFactor:  cfg.Engine.MaxJumpFactor,
		BlockedBidders: cfg.Engine.BlockedBidders,
	})
	engine := bids.NewEngine(repo, locks, validator, proxy.NewResolver(), sink)
	dispatcher := bids.NewDispatcher(engine, cfg.Engine.Workers)
	auctionService := auctions.NewService(repo, locks, sink)
	scheduler := lifecycle.NewScheduler(repo, locks, sink, cfg.Scheduler.Interval, cfg.Scheduler.EndingSoonWindow, logger)

	// 4. API Handler (ConnectRPC)
	publicKey, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		logger.Error("Failed to read JWT public key", "path", cfg.Auth.PublicKeyPath, "error", err)
		os.Exit(1)
	}
	signer, err := auth.NewSignerFromPublicKey(publicKey, cfg.Auth.Issuer)
	if err != nil {
		logger.Error("Failed to load JWT public key", "error", err)
		os.Exit(1)
	}
	path, handler := api.NewAuctionServiceHandler(dispatcher, auctionService).Routes(signer)

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Use h2c for HTTP/2 without TLS (common for internal services / local dev)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h2c.NewHandler(mux, &http2.Server{}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 5. Run everything until a signal arrives
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("Starting Lifecycle Scheduler", "interval", cfg.Scheduler.Interval)
		return scheduler.Run(gctx)
	})

	if cfg.Ingestion.Enabled {
		aggregator, err := newAggregator(cfg.Ingestion, repo, auctionService, logger)
		if err != nil {
			logger.Error("Failed to configure ingestion", "error", err)
			os.Exit(1)
		}
		group.Go(func() error {
			logger.Info("Starting Auction Aggregator", "interval", cfg.Ingestion.Interval)
			return aggregator.Run(gctx)
		})
	}

	group.Go(func() error {
		logger.Info("Starting Bid Service API", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

func connectPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func newAggregator(
	cfg config.IngestionConfig,
	repo auctions.Repository,
	service *auctions.Service,
	logger *slog.Logger,
) (*ingestion.Aggregator, error) {
	names := make([]string, 0, len(cfg.Feeds))
	for name := range cfg.Feeds {
		names = append(names, name)
	}
	sort.Strings(names)

	registry, err := ingestion.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := registry.Register(ingestion.NewFeedSource(name, cfg.Feeds[name], true, cfg.Timeout)); err != nil {
			return nil, err
		}
	}

	return ingestion.NewAggregator(
		registry,
		ingestion.NewHealthRegistry(),
		repo,
		service,
		cfg.Parallelism,
		cfg.Interval,
		logger,
	), nil
}
