package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	Redis       RedisConfig
	RabbitMQ    RabbitMQConfig
	Pipeline    PipelineConfig
	Presence    PresenceConfig
	Session     SessionConfig
	Alerts      AlertsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string
	MaxConns int
}

// RedisConfig holds the shared-cache connection settings. When Addr is
// empty the service falls back to the in-process store (single node only).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL              string
	IngestExchange   string
	IngestQueue      string
	IngestRoutingKey string
	EventsExchange   string
	EventsRoutingKey string
	AlertsRoutingKey string
	DLQQueue         string
	PrefetchCount    int
}

// PipelineConfig holds the ingestion pipeline defaults. Families can
// override the first block per family; the rest is service-wide.
type PipelineConfig struct {
	AccuracyCeilingM   float64
	DedupeRadiusM      float64
	DedupeWindow       time.Duration
	SpeedThresholdMPS  float64
	DistanceThresholdM float64
	IdleHeartbeat      time.Duration
	MinFixInterval     time.Duration

	MaxBatchSize     int
	ScoreTolerance   float64
	FreshnessCeiling time.Duration
	MaxPlausibleMPS  float64
	SnapshotTTL      time.Duration

	HistoryKeepCount int
	HistoryMaxAge    time.Duration
}

// PresenceConfig holds the staleness classification thresholds
type PresenceConfig struct {
	OnlineWithin time.Duration
	IdleWithin   time.Duration
}

// SessionConfig holds live-tracking session settings
type SessionConfig struct {
	TTL time.Duration
}

// AlertsConfig holds alert rule debounce defaults
type AlertsConfig struct {
	DefaultDebounce time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "relatives-location-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8080),
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvAsInt("DATABASE_MAX_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			IngestExchange:   getEnv("RABBITMQ_INGEST_EXCHANGE", "relatives.location.ingest.exchange"),
			IngestQueue:      getEnv("RABBITMQ_INGEST_QUEUE", "relatives.location.ingest.queue"),
			IngestRoutingKey: getEnv("RABBITMQ_INGEST_ROUTING_KEY", "location.batch.raw"),
			EventsExchange:   getEnv("RABBITMQ_EVENTS_EXCHANGE", "relatives.location.events.exchange"),
			EventsRoutingKey: getEnv("RABBITMQ_EVENTS_ROUTING_KEY", "location.fix.accepted"),
			AlertsRoutingKey: getEnv("RABBITMQ_ALERTS_ROUTING_KEY", "location.alert.fired"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "relatives.location.ingest.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Pipeline: PipelineConfig{
			AccuracyCeilingM:   getEnvAsFloat("PIPELINE_ACCURACY_CEILING_M", 250),
			DedupeRadiusM:      getEnvAsFloat("PIPELINE_DEDUPE_RADIUS_M", 10),
			DedupeWindow:       getEnvAsDuration("PIPELINE_DEDUPE_WINDOW", 60*time.Second),
			SpeedThresholdMPS:  getEnvAsFloat("PIPELINE_SPEED_THRESHOLD_MPS", 1.0),
			DistanceThresholdM: getEnvAsFloat("PIPELINE_DISTANCE_THRESHOLD_M", 50),
			IdleHeartbeat:      getEnvAsDuration("PIPELINE_IDLE_HEARTBEAT", 10*time.Minute),
			MinFixInterval:     getEnvAsDuration("PIPELINE_MIN_FIX_INTERVAL", 5*time.Second),
			MaxBatchSize:       getEnvAsInt("PIPELINE_MAX_BATCH_SIZE", 100),
			ScoreTolerance:     getEnvAsFloat("PIPELINE_SCORE_TOLERANCE", 10),
			FreshnessCeiling:   getEnvAsDuration("PIPELINE_FRESHNESS_CEILING", 2*time.Minute),
			MaxPlausibleMPS:    getEnvAsFloat("PIPELINE_MAX_PLAUSIBLE_MPS", 70),
			SnapshotTTL:        getEnvAsDuration("PIPELINE_SNAPSHOT_TTL", 5*time.Minute),
			HistoryKeepCount:   getEnvAsInt("PIPELINE_HISTORY_KEEP_COUNT", 10000),
			HistoryMaxAge:      getEnvAsDuration("PIPELINE_HISTORY_MAX_AGE", 90*24*time.Hour),
		},
		Presence: PresenceConfig{
			OnlineWithin: getEnvAsDuration("PRESENCE_ONLINE_WITHIN", 2*time.Minute),
			IdleWithin:   getEnvAsDuration("PRESENCE_IDLE_WITHIN", 15*time.Minute),
		},
		Session: SessionConfig{
			TTL: getEnvAsDuration("SESSION_TTL", 300*time.Second),
		},
		Alerts: AlertsConfig{
			DefaultDebounce: getEnvAsDuration("ALERTS_DEFAULT_DEBOUNCE", time.Hour),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
