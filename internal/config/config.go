package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Chunk runner kinds
const (
	RunnerInline = "inline"
	RunnerLocal  = "local"
	RunnerAMQP   = "amqp"
)

type Config struct {
	// Status HTTP server
	StatusPort         string
	// Requests per minute per client on mutation and control routes; 0 disables
	RateLimitPerMinute int

	// Database
	SQLiteDBPath string

	// History index
	BootstrapWindowDays int
	BackfillChunkDays   int
	BackfillInterval    time.Duration
	YieldEvery          int
	Runner              string
	JobTimeout          time.Duration
	Timezone            string
	StatsCacheTTL       time.Duration

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		StatusPort:         getEnv("STATUS_PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		SQLiteDBPath:       getEnv("SQLITE_DB_PATH", "./data/ledger.db"),

		BootstrapWindowDays: getEnvInt("INDEX_BOOTSTRAP_WINDOW_DAYS", 30),
		BackfillChunkDays:   getEnvInt("INDEX_BACKFILL_CHUNK_DAYS", 90),
		BackfillInterval:    getEnvDuration("INDEX_BACKFILL_INTERVAL", time.Minute),
		YieldEvery:          getEnvInt("INDEX_YIELD_EVERY", 500),
		Runner:              strings.ToLower(getEnv("INDEX_RUNNER", RunnerInline)),
		JobTimeout:          getEnvDuration("INDEX_JOB_TIMEOUT", 2*time.Minute),
		Timezone:            getEnv("INDEX_TIMEZONE", "Local"),
		StatsCacheTTL:       getEnvDuration("STATS_CACHE_TTL", 30*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledgerindex"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "index_chunks"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.StatusPort); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.StatusPort))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		// Check if directory exists or can be created
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.BootstrapWindowDays < 1 || c.BootstrapWindowDays > 3650 {
		errors = append(errors, fmt.Sprintf("invalid bootstrap window %d: must be between 1 and 3650 days", c.BootstrapWindowDays))
	}
	if c.BackfillChunkDays < 1 || c.BackfillChunkDays > 3650 {
		errors = append(errors, fmt.Sprintf("invalid backfill chunk %d: must be between 1 and 3650 days", c.BackfillChunkDays))
	}
	if c.BackfillInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid backfill interval %v: must be at least 1 second", c.BackfillInterval))
	} else if c.BackfillInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid backfill interval %v: must be at most 24 hours", c.BackfillInterval))
	}
	if c.YieldEvery < 1 {
		errors = append(errors, fmt.Sprintf("invalid yield interval %d: must be at least 1", c.YieldEvery))
	}
	if c.JobTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid job timeout %v: must be at least 1 second", c.JobTimeout))
	}
	if c.StatsCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid stats cache TTL %v: must not be negative", c.StatsCacheTTL))
	}
	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	validRunners := []string{RunnerInline, RunnerLocal, RunnerAMQP}
	isValidRunner := false
	for _, r := range validRunners {
		if c.Runner == r {
			isValidRunner = true
			break
		}
	}
	if !isValidRunner {
		errors = append(errors, fmt.Sprintf("invalid chunk runner '%s': must be one of %v", c.Runner, validRunners))
	}

	if c.Runner == RunnerAMQP && c.AMQPURL == "" {
		errors = append(errors, "AMQP URL is required when using the amqp chunk runner")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
