// Package config loads server configuration from the environment.
//
// A .env file in the working directory is read first when present; values
// already set in the process environment win over it.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration values.
type Config struct {
	HTTPPort          string
	DatabasePath      string
	LowStockThreshold int64
	RecentLimit       int
	LogLevel          string
	Environment       string
	ScanInterval      time.Duration
	RabbitURL         string
	RabbitQueue       string
	CORSOrigins       []string
	SeedCatalog       string
}

// IsDevelopment reports whether logs should be human readable.
func (c Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == "development"
}

// Load reads .env (if any) and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables with defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPPort:     getenv("HTTP_PORT", "8080"),
		DatabasePath: getenv("DATABASE_PATH", "pharmacy.db"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		Environment:  getenv("ENVIRONMENT", "development"),
		RabbitURL:    os.Getenv("RABBITMQ_URL"),
		RabbitQueue:  getenv("RABBITMQ_QUEUE", "pharmacy.events"),
		CORSOrigins:  splitList(getenv("CORS_ORIGINS", "*")),
		SeedCatalog:  os.Getenv("SEED_CATALOG"),
	}

	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		log.Warn().Str("value", cfg.HTTPPort).Msg("invalid HTTP_PORT, defaulting to 8080")
		cfg.HTTPPort = "8080"
	}

	var err error
	if cfg.LowStockThreshold, err = getInt64("LOW_STOCK_THRESHOLD", 10); err != nil {
		return Config{}, err
	}
	if cfg.LowStockThreshold <= 0 {
		return Config{}, fmt.Errorf("LOW_STOCK_THRESHOLD must be positive, got %d", cfg.LowStockThreshold)
	}
	limit, err := getInt64("RECENT_LIMIT", 20)
	if err != nil {
		return Config{}, err
	}
	if limit <= 0 {
		return Config{}, fmt.Errorf("RECENT_LIMIT must be positive, got %d", limit)
	}
	cfg.RecentLimit = int(limit)

	if cfg.ScanInterval, err = time.ParseDuration(getenv("SCAN_INTERVAL", "1h")); err != nil {
		return Config{}, fmt.Errorf("invalid SCAN_INTERVAL: %w", err)
	}
	return cfg, nil
}

// BindFlags registers command line overrides for the most common settings.
// Call flags.Parse afterwards.
func (c *Config) BindFlags(flags *flag.FlagSet) {
	flags.StringVar(&c.HTTPPort, "port", c.HTTPPort, "HTTP server port")
	flags.StringVar(&c.DatabasePath, "db", c.DatabasePath, "SQLite database path")
	flags.StringVar(&c.SeedCatalog, "seed", c.SeedCatalog, "catalog file (JSON or CSV) to load on startup")
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt64(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
