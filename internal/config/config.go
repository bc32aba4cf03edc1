// Package config loads server configuration from environment variables.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	DatabaseURL string // selects the storage backend by URL prefix
	Host        string
	Port        int

	CORSOrigins []string // allowed origins; empty disables CORS headers
	Debug       bool     // enables /api/debug/* endpoints

	MaxSyncBatchSize int // upper bound on ops per push
	RetentionDays    int // purge sync events older than this; 0 disables

	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"
	ShutdownTimeout time.Duration

	RateLimitSync int // sync requests per IP per minute; 0 disables
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL: "sqlite:///./tablehub.db",
		Host:        "0.0.0.0",
		Port:        8000,
		CORSOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
			"http://localhost:8080",
		},
		Debug:            true,
		MaxSyncBatchSize: 100,
		RetentionDays:    0,
		LogFormat:        "json",
		LogLevel:         "info",
		ShutdownTimeout:  30 * time.Second,
		RateLimitSync:    240,
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MAX_SYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSyncBatchSize = n
		}
	}
	if v := os.Getenv("SYNC_EVENT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetentionDays = n
		}
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("RATE_LIMIT_SYNC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RateLimitSync = n
		}
	}

	return cfg
}

// ListenAddr returns the host:port bind address.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
