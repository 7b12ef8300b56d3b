// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New(ctx) returns a Config populated with defaults.
// - Load(ctx) layers .env, an optional YAML file and LEADFLOW_* env vars on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Storage backends accepted by the store key.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Store selects the persistence backend: memory or postgres.
	Store       string `koanf:"store"`
	PostgresURL string `koanf:"postgres_url"`

	// RedisAddr enables the distributed per-lead lock when set.
	RedisAddr string `koanf:"redis_addr"`
	LockTTLMS int    `koanf:"lock_ttl_ms"`

	// NatsURL enables the NATS score update publisher when set.
	NatsURL string `koanf:"nats_url"`

	// QueueSize bounds the in-memory recalculation queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of recalculation workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize sets the size of the committed event id cache.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxLeaderboardLimit caps GET /api/leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// ConflictRetries bounds replays after an optimistic score write loses a race.
	ConflictRetries int `koanf:"conflict_retries"`

	// ReconcileIntervalMS is how often unprocessed events are swept; 0 disables it.
	ReconcileIntervalMS int `koanf:"reconcile_interval_ms"`
	// ReconcileGraceMS skips events younger than this during a sweep.
	ReconcileGraceMS int `koanf:"reconcile_grace_ms"`

	// RecalcOnRuleChange enqueues a recalculation of every lead after a rule upsert.
	RecalcOnRuleChange bool `koanf:"recalc_on_rule_change"`

	// IngestRateLimit is events per second accepted by the ingest endpoints; 0 disables limiting.
	IngestRateLimit float64 `koanf:"ingest_rate_limit"`
	IngestBurst     int     `koanf:"ingest_burst"`

	// MaxUploadBytes caps the multipart body of POST /api/events/batch.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	// CORSOrigins lists allowed origins for browser clients.
	CORSOrigins []string `koanf:"cors_origins"`

	// DefaultRules seeds the rule store on first start.
	DefaultRules map[string]int64 `koanf:"default_rules"`
}

// New creates a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		Store:               StoreMemory,
		LockTTLMS:           5_000,
		QueueSize:           10_000,
		WorkerCount:         runtime.NumCPU() * 2,
		DedupeSize:          500_000,
		MaxLeaderboardLimit: 100,
		ConflictRetries:     5,
		ReconcileIntervalMS: 30_000,
		ReconcileGraceMS:    5_000,
		IngestRateLimit:     0,
		IngestBurst:         100,
		MaxUploadBytes:      10 << 20,
		CORSOrigins:         []string{"*"},
		DefaultRules: map[string]int64{
			"email_open":      10,
			"page_view":       5,
			"form_submission": 20,
			"demo_request":    50,
			"purchase":        100,
		},
	}
}

// LockTTL returns the distributed lock lease as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}

// ReconcileInterval returns the sweep interval as a duration.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMS) * time.Millisecond
}

// ReconcileGrace returns the minimum event age considered by a sweep.
func (c *Config) ReconcileGrace() time.Duration {
	return time.Duration(c.ReconcileGraceMS) * time.Millisecond
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Store != StoreMemory && c.Store != StorePostgres:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	case c.Store == StorePostgres && c.PostgresURL == "":
		return fmt.Errorf("%w: postgres_url is required when store=postgres", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.DedupeSize <= 0:
		return fmt.Errorf("%w: dedupe_size must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	case c.ConflictRetries < 0:
		return fmt.Errorf("%w: conflict_retries must not be negative", ErrInvalidConfig)
	case c.ReconcileIntervalMS < 0 || c.ReconcileGraceMS < 0:
		return fmt.Errorf("%w: reconcile durations must not be negative", ErrInvalidConfig)
	case c.IngestRateLimit < 0:
		return fmt.Errorf("%w: ingest_rate_limit must not be negative", ErrInvalidConfig)
	case c.IngestRateLimit > 0 && c.IngestBurst <= 0:
		return fmt.Errorf("%w: ingest_burst must be positive when rate limiting", ErrInvalidConfig)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("%w: max_upload_bytes must be positive", ErrInvalidConfig)
	case c.RedisAddr != "" && c.LockTTLMS <= 0:
		return fmt.Errorf("%w: lock_ttl_ms must be positive when redis_addr is set", ErrInvalidConfig)
	}
	for eventType, points := range c.DefaultRules {
		if strings.TrimSpace(eventType) == "" {
			return fmt.Errorf("%w: default_rules has an empty event type", ErrInvalidConfig)
		}
		if points < 0 {
			return fmt.Errorf("%w: default_rules[%s] must not be negative", ErrInvalidConfig, eventType)
		}
	}
	return nil
}
