package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Engine    EngineConfig
	Scheduler SchedulerConfig
	Ingestion IngestionConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type StoreConfig struct {
	Driver      string
	PostgresURL string
	SQLiteDSN   string
	LockTimeout time.Duration
}

type RabbitMQConfig struct {
	URL          string
	Exchange     string
	BatchSize    int
	PollInterval time.Duration
}

type RedisConfig struct {
	Addr    string
	Enabled bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type EngineConfig struct {
	Workers        int
	EventBuffer    int
	MaxBidAmount   decimal.Decimal
	MaxJumpFactor  decimal.Decimal
	BlockedBidders []uuid.UUID
}

type SchedulerConfig struct {
	Interval         time.Duration
	EndingSoonWindow time.Duration
}

type IngestionConfig struct {
	Enabled     bool
	Interval    time.Duration
	Parallelism int
	Timeout     time.Duration
	// Feeds maps a source name to its JSON feed URL
	Feeds map[string]string
}

type AuthConfig struct {
	PublicKeyPath string
	Issuer        string
}

// Load reads the configuration from the environment. Unparseable values fall back to defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         getEnv("ADDR", ":8080"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
			PostgresURL: getEnv("BID_DB_URL", ""),
			SQLiteDSN:   getEnv("SQLITE_DSN", "file:gavel.db"),
			LockTimeout: getEnvDuration("DB_LOCK_TIMEOUT", 3*time.Second),
		},
		RabbitMQ: RabbitMQConfig{
			URL:          getEnv("RABBITMQ_URL", ""),
			Exchange:     getEnv("RABBITMQ_EXCHANGE", "auction.events"),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 10),
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnvBool("REDIS_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "auction-events"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
		},
		Engine: EngineConfig{
			Workers:        getEnvInt("BID_WORKERS", 64),
			EventBuffer:    getEnvInt("EVENT_BUFFER", 1024),
			MaxBidAmount:   getEnvDecimal("MAX_BID_AMOUNT", decimal.Zero),
			MaxJumpFactor:  getEnvDecimal("MAX_BID_JUMP_FACTOR", decimal.Zero),
			BlockedBidders: getEnvUUIDs("BLOCKED_BIDDERS"),
		},
		Scheduler: SchedulerConfig{
			Interval:         getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
			EndingSoonWindow: getEnvDuration("ENDING_SOON_WINDOW", 30*time.Minute),
		},
		Ingestion: IngestionConfig{
			Enabled:     getEnvBool("INGESTION_ENABLED", false),
			Interval:    getEnvDuration("INGESTION_INTERVAL", 6*time.Hour),
			Parallelism: getEnvInt("INGESTION_PARALLELISM", 4),
			Timeout:     getEnvDuration("INGESTION_TIMEOUT", 30*time.Second),
			Feeds:       getEnvMap("INGESTION_FEEDS"),
		},
		Auth: AuthConfig{
			PublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", "keys/public.pem"),
			Issuer:        getEnv("JWT_ISSUER", "gavel-auth"),
		},
	}
}

// Validate reports settings that are missing for the selected store and transports
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("BID_DB_URL is not set"))
		}
	case StoreSQLite:
		if c.Store.SQLiteDSN == "" {
			errs = append(errs, errors.New("SQLITE_DSN is not set"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is not set"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHEDULER_INTERVAL must be positive"))
	}
	if c.Ingestion.Enabled && c.Ingestion.Interval <= 0 {
		errs = append(errs, errors.New("INGESTION_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateRelay reports settings the outbox relay cannot run without
func (c *Config) ValidateRelay() error {
	var errs []error
	if c.Store.PostgresURL == "" {
		errs = append(errs, errors.New("BID_DB_URL is not set"))
	}
	if c.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("RABBITMQ_URL is not set"))
	}
	if c.RabbitMQ.BatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	if c.RabbitMQ.PollInterval <= 0 {
		errs = append(errs, errors.New("OUTBOX_POLL_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// getEnvUUIDs skips items that are not valid UUIDs
func getEnvUUIDs(key string) []uuid.UUID {
	var result []uuid.UUID
	for _, item := range getEnvList(key, nil) {
		if id, err := uuid.Parse(item); err == nil {
			result = append(result, id)
		}
	}
	return result
}

// getEnvMap parses "name=value,name=value"
func getEnvMap(key string) map[string]string {
	result := make(map[string]string)
	for _, item := range getEnvList(key, nil) {
		name, value, ok := strings.Cut(item, "=")
		if !ok || name == "" || value == "" {
			continue
		}
		result[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return result
}
