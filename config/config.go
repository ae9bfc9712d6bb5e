// Package config provides application configuration management.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAPIBase is used when no backend URL is configured.
	DefaultAPIBase = "http://localhost:8080"
	// DefaultRefreshInterval drives the polling fallback while the live feed is down.
	DefaultRefreshInterval = 10 * time.Second
)

// Feed is the configuration injected into the API client and the event stream
// client. It replaces any ambient lookup of the backend URL or poll interval.
type Feed struct {
	APIBase         string
	RefreshInterval time.Duration
	APIToken        string
}

// Normalized returns a copy with defaults applied.
func (f Feed) Normalized() Feed {
	f.APIBase = strings.TrimRight(strings.TrimSpace(f.APIBase), "/")
	if f.APIBase == "" {
		f.APIBase = DefaultAPIBase
	}
	if f.RefreshInterval <= 0 {
		f.RefreshInterval = DefaultRefreshInterval
	}
	return f
}

// Config holds all process configuration for the relay worker and server.
type Config struct {
	// Upstream platform feed
	Feed Feed

	// Server configuration
	ServerPort string
	APIToken   string

	// Journal configuration
	JournalDriver string
	JournalDSN    string
	JournalKeep   int

	// Redis / events configuration
	RedisAddr        string
	RedisUsername    string
	RedisPassword    string
	RedisDB          int
	RedisTLSEnabled  bool
	RedisTLSInsecure bool
	EventsChannel    string

	// Worker configuration
	HeartbeatInterval time.Duration
	MetricsPort       string

	LogLevel string
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	statePath := getEnv("STATE_PATH", "./state")
	journalDriver := getEnv("JOURNAL_DRIVER", "sqlite")
	journalDSN := getEnv("JOURNAL_DSN", "")
	if journalDSN == "" {
		if journalDriver == "postgres" {
			journalDSN = os.Getenv("POSTGRES_DSN")
		} else {
			journalDSN = filepath.Join(statePath, "ops-console.db")
		}
	}
	return &Config{
		Feed: Feed{
			APIBase:         getEnv("OPS_API_BASE", DefaultAPIBase),
			RefreshInterval: getEnvDuration("OPS_REFRESH_INTERVAL", DefaultRefreshInterval),
			APIToken:        os.Getenv("OPS_API_TOKEN"),
		}.Normalized(),
		ServerPort:        getEnv("SERVER_PORT", "8090"),
		APIToken:          os.Getenv("OPS_CONSOLE_API_TOKEN"),
		JournalDriver:     journalDriver,
		JournalDSN:        journalDSN,
		JournalKeep:       getEnvInt("JOURNAL_KEEP", 5000),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisUsername:     getEnv("REDIS_USERNAME", ""),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisTLSEnabled:   getEnvBool("REDIS_TLS_ENABLED", false),
		RedisTLSInsecure:  getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false),
		EventsChannel:     getEnv("EVENTS_CHANNEL", "ops-console-events"),
		HeartbeatInterval: getEnvDuration("WORKER_HEARTBEAT_INTERVAL", time.Minute),
		MetricsPort:       getEnv("METRICS_PORT", "9090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are milliseconds, matching refreshIntervalMs in dashboard settings.
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
