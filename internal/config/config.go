package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Mail gateway (external transport)
	GatewayURL     string
	GatewayTimeout time.Duration

	// Dispatcher sweep
	SweepInterval  time.Duration
	SweepBatchSize int

	// Retry policy: maximum transient retries per entry, then the
	// backoff durations (index 0 = first retry delay, etc.)
	MaxRetries   int
	RetryBackoff []time.Duration

	// Rate limiting: maximum delivery attempts per second
	SendRate int
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		GatewayURL:     getEnv("GATEWAY_URL", "http://localhost:8025/api/send"),
		GatewayTimeout: getDuration("GATEWAY_TIMEOUT", 10*time.Second),

		SweepInterval:  getDuration("SWEEP_INTERVAL", 10*time.Second),
		SweepBatchSize: getInt("SWEEP_BATCH_SIZE", 500),

		MaxRetries: getInt("MAX_RETRIES", 3),
		RetryBackoff: []time.Duration{
			getDuration("RETRY_BACKOFF_1", 30*time.Second),
			getDuration("RETRY_BACKOFF_2", 2*time.Minute),
			getDuration("RETRY_BACKOFF_3", 10*time.Minute),
		},

		SendRate: getInt("SEND_RATE_PER_SECOND", 50),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
