// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config populated with defaults.
// - Load layers a YAML file and EQUITY_ environment variables on top.
// - Errors wrap ErrInvalidConfig or ErrLoadConfig so callers can errors.Is them.
package config

import (
	"fmt"
	"runtime"
	"strings"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text, json or console.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory assignment queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of tally workers. Zero picks a CPU-based default.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds how many assignment IDs are remembered. Zero is unbounded.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxListLimit caps GET /custodians?limit.
	MaxListLimit int `koanf:"max_list_limit"`

	// MaxAuditEntities caps how many entities one report may cover.
	MaxAuditEntities int `koanf:"max_audit_entities"`

	// MergeNames folds spelling variants of a custodian together in reports.
	MergeNames bool `koanf:"merge_names"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		QueueSize:        100_000,
		WorkerCount:      runtime.NumCPU() * 2,
		DedupeSize:       500_000,
		MaxListLimit:     100,
		MaxAuditEntities: 50_000,
		MergeNames:       true,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.QueueSize)
	case c.WorkerCount < 0:
		return fmt.Errorf("%w: worker_count must not be negative, got %d", ErrInvalidConfig, c.WorkerCount)
	case c.DedupeSize < 0:
		return fmt.Errorf("%w: dedupe_size must not be negative, got %d", ErrInvalidConfig, c.DedupeSize)
	case c.MaxListLimit < 1:
		return fmt.Errorf("%w: max_list_limit must be positive, got %d", ErrInvalidConfig, c.MaxListLimit)
	case c.MaxAuditEntities < 1:
		return fmt.Errorf("%w: max_audit_entities must be positive, got %d", ErrInvalidConfig, c.MaxAuditEntities)
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json", "console":
	default:
		return fmt.Errorf("%w: log_format %q is not one of text, json, console", ErrInvalidConfig, c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}
