// Package config provides configuration for the observability service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Storage
	DataDir string

	// Trace store
	SessionTTL    time.Duration
	SweepInterval time.Duration
	ReplayLimit   int

	// WebSocket settings
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64

	// Query limits
	TranscriptLimit int64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 4780),
		DataDir:         getEnv("DATA_DIR", ".agent-trace"),
		SessionTTL:      time.Duration(getEnvInt("SESSION_TTL_MS", 1800000)) * time.Millisecond,
		SweepInterval:   time.Duration(getEnvInt("SWEEP_INTERVAL_MS", 60000)) * time.Millisecond,
		ReplayLimit:     getEnvInt("REPLAY_LIMIT", 50),
		ReadTimeout:     time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		WriteTimeout:    time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		PingInterval:    time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		MaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		TranscriptLimit: int64(getEnvInt("TRANSCRIPT_LIMIT_BYTES", 1048576)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
