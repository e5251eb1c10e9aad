// Package config loads the engine's runtime configuration from the
// environment. Every variable is prefixed ENTITLE_ and has a sensible
// default except the database URL and the rights catalog path.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the runtime configuration of the entitlement engine.
type Config struct {
	// HTTP
	HTTPAddr   string
	HealthAddr string

	// Storage
	DatabaseURL string

	// Rights catalog
	CatalogPath    string
	StrictRegistry bool

	// Membership cache
	SnapshotTTL    time.Duration
	WarmerSchedule string

	// Resolution memo
	MemoSize int
	MemoTTL  time.Duration

	// Invalidation bus; empty RedisAddr disables it.
	RedisAddr     string
	RedisPassword string
	RedisChannel  string

	// Observability
	LogLevel       string
	TracingEnabled bool
	OTLPEndpoint   string
	ServiceName    string
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		HTTPAddr:   getEnv("ENTITLE_HTTP_ADDR", ":8080"),
		HealthAddr: getEnv("ENTITLE_HEALTH_ADDR", ":8081"),

		DatabaseURL: getEnv("ENTITLE_DATABASE_URL", ""),

		CatalogPath:    getEnv("ENTITLE_CATALOG_PATH", ""),
		StrictRegistry: getEnvBool("ENTITLE_STRICT_REGISTRY", false),

		SnapshotTTL:    getEnvDuration("ENTITLE_SNAPSHOT_TTL", time.Hour),
		WarmerSchedule: getEnv("ENTITLE_WARMER_SCHEDULE", ""),

		MemoSize: getEnvInt("ENTITLE_MEMO_SIZE", 8192),
		MemoTTL:  getEnvDuration("ENTITLE_MEMO_TTL", 5*time.Minute),

		RedisAddr:     getEnv("ENTITLE_REDIS_ADDR", ""),
		RedisPassword: getEnv("ENTITLE_REDIS_PASSWORD", ""),
		RedisChannel:  getEnv("ENTITLE_REDIS_CHANNEL", "entitlements:invalidations"),

		LogLevel:       getEnv("ENTITLE_LOG_LEVEL", "info"),
		TracingEnabled: getEnvBool("ENTITLE_TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("ENTITLE_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName:    getEnv("ENTITLE_SERVICE_NAME", "entitlements"),
	}
}

// Validate checks that the configuration can actually run the engine.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("ENTITLE_DATABASE_URL is required")
	}
	if c.CatalogPath == "" {
		return fmt.Errorf("ENTITLE_CATALOG_PATH is required")
	}
	if c.SnapshotTTL <= 0 {
		return fmt.Errorf("ENTITLE_SNAPSHOT_TTL must be positive, got %s", c.SnapshotTTL)
	}
	if c.MemoSize <= 0 {
		return fmt.Errorf("ENTITLE_MEMO_SIZE must be positive, got %d", c.MemoSize)
	}
	if c.TracingEnabled && c.OTLPEndpoint == "" {
		return fmt.Errorf("ENTITLE_OTLP_ENDPOINT is required when tracing is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
