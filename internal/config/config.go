package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	// Environment is "dev" or "prod".
	Environment string

	DatabaseURL string

	// Timezone is applied as the session timezone of every pooled connection.
	Timezone string

	ListenAddr string

	LogLevel    string
	LogEncoding string

	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration

	// ConnectAttempts bounds the startup ping retries.
	ConnectAttempts int

	// RetentionDays drops hypertable chunks older than this many days.
	// Zero keeps data forever.
	RetentionDays int

	// GzipLevel is the compression level for responses (1-9).
	GzipLevel int
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		Environment:      strings.ToLower(getenv("APP_ENVIRONMENT", "dev")),
		DatabaseURL:      os.Getenv("APP_DATABASE_URL"),
		Timezone:         getenv("APP_TIMEZONE", "UTC"),
		ListenAddr:       getenv("APP_LISTEN_ADDR", ":8080"),
		LogLevel:         getenv("APP_LOG_LEVEL", "info"),
		LogEncoding:      getenv("APP_LOG_ENCODING", "json"),
		MaxOpenConns:     getenvInt("APP_DB_MAX_OPEN_CONNS", 100),
		MaxIdleConns:     getenvInt("APP_DB_MAX_IDLE_CONNS", 10),
		ConnMaxLifetime:  getenvDuration("APP_DB_CONN_MAX_LIFETIME", time.Hour),
		StatementTimeout: getenvDuration("APP_DB_STATEMENT_TIMEOUT", 30*time.Second),
		ConnectAttempts:  getenvInt("APP_DB_CONNECT_ATTEMPTS", 5),
		GzipLevel:        getenvInt("APP_GZIP_LEVEL", 7),
	}

	if v := os.Getenv("APP_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.RetentionDays = days
		}
	}

	return cfg
}

// IsDev reports whether the service runs in the development environment.
func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

// Validate returns the first configuration problem found.
func (c *Config) Validate() error {
	dsn := strings.TrimSpace(c.DatabaseURL)
	if dsn == "" {
		return errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return errors.New("APP_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}
	if c.Environment != "dev" && c.Environment != "prod" {
		return fmt.Errorf("APP_ENVIRONMENT must be dev or prod, got %q", c.Environment)
	}
	if c.Timezone == "Local" {
		return errors.New("APP_TIMEZONE must name an IANA zone, not Local")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("APP_TIMEZONE %q is not a valid timezone: %w", c.Timezone, err)
	}
	if c.GzipLevel < 1 || c.GzipLevel > 9 {
		return fmt.Errorf("APP_GZIP_LEVEL must be between 1 and 9, got %d", c.GzipLevel)
	}
	return nil
}

// DSN returns the database URL with the configured session timezone.
func (c *Config) DSN() (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.DatabaseURL))
	if err != nil {
		return "", fmt.Errorf("parse APP_DATABASE_URL: %w", err)
	}
	q := u.Query()
	if q.Get("timezone") == "" && c.Timezone != "" {
		q.Set("timezone", c.Timezone)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
