package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the TaskPilot server.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Model     ModelConfig
	Sync      SyncConfig
}

type DatabaseConfig struct {
	// URL is the Postgres connection string. Empty selects the in-memory
	// store (zero-config mode).
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type ModelConfig struct {
	// Timeout bounds a single language-model invocation. A turn that
	// exceeds it ends with an error event instead of hanging the stream.
	Timeout  time.Duration
	MaxTurns int
}

type SyncConfig struct {
	// Enabled turns on the best-effort push to the external task provider.
	Enabled  bool
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("TASKPILOT_PORT", 8080),
		Version: envStr("TASKPILOT_VERSION", "0.2.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "taskpilot"),
		},
		Model: ModelConfig{
			Timeout:  envDur("MODEL_TIMEOUT", 60*time.Second),
			MaxTurns: envInt("MODEL_MAX_TURNS", 10),
		},
		Sync: SyncConfig{
			Enabled:  envBool("SYNC_ENABLED", false),
			Endpoint: envStr("SYNC_ENDPOINT", ""),
			Token:    envStr("SYNC_TOKEN", ""),
			Timeout:  envDur("SYNC_TIMEOUT", 10*time.Second),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
