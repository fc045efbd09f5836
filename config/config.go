// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads datavault configuration from YAML with DATAVAULT_*
// environment overrides, and persists the active backend choice.
package config

import (
	"time"

	"github.com/poiesic/datavault/storage/badger"
	"github.com/poiesic/datavault/storage/sqlite"
	"github.com/poiesic/datavault/tiering"
)

// Config is the complete datavault configuration.
type Config struct {
	// Backend is the backend used when no choice has been persisted yet.
	Backend string `yaml:"backend"`

	// StateFile persists the active backend across restarts. Empty keeps
	// the choice in memory only.
	StateFile string `yaml:"state_file"`

	// WatchState applies external edits of StateFile at runtime.
	WatchState bool `yaml:"watch_state"`

	Document   DocumentConfig   `yaml:"document"`
	Relational RelationalConfig `yaml:"relational"`
	Tiering    TieringConfig    `yaml:"tiering"`
	Retry      RetryConfig      `yaml:"retry"`

	// OperationTimeout bounds each repository call whose context carries no
	// deadline. Zero disables it.
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	Sweep   SweepConfig   `yaml:"sweep"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DocumentConfig configures the badger-backed document store.
type DocumentConfig struct {
	Path           string `yaml:"path"`
	InMemory       bool   `yaml:"in_memory"`
	ChunkSize      int    `yaml:"chunk_size"`
	Compression    bool   `yaml:"compression"`
	MaxInlineBytes int64  `yaml:"max_inline_bytes"`
	MaxBlobBytes   int64  `yaml:"max_blob_bytes"`
}

// RelationalConfig configures the SQLite-backed relational store. SQLite
// is embedded, so there is no host, port or credential to configure.
type RelationalConfig struct {
	Path           string        `yaml:"path"`
	MinSessions    int           `yaml:"min_sessions"`
	MaxSessions    int           `yaml:"max_sessions"`
	BusyTimeout    time.Duration `yaml:"busy_timeout"`
	Compression    bool          `yaml:"compression"`
	MaxInlineBytes int64         `yaml:"max_inline_bytes"`
	MaxBlobBytes   int64         `yaml:"max_blob_bytes"`
}

// TieringConfig configures the direct/blob split.
type TieringConfig struct {
	Threshold int64 `yaml:"threshold"`
}

// RetryConfig bounds retries of transient connectivity failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// SweepConfig configures the orphan sweeper.
type SweepConfig struct {
	// Schedule is a standard five-field cron expression. Empty disables
	// scheduled sweeps.
	Schedule    string        `yaml:"schedule"`
	GracePeriod time.Duration `yaml:"grace_period"`
	Workers     int           `yaml:"workers"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls Prometheus registration.
type MetricsConfig struct {
	// Enabled registers collectors with the default Prometheus registry.
	Enabled bool `yaml:"enabled"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Backend: badger.Name,
		Document: DocumentConfig{
			Path:           "data/document",
			ChunkSize:      badger.DefaultChunkSize,
			Compression:    true,
			MaxInlineBytes: badger.DefaultMaxInlineBytes,
			MaxBlobBytes:   badger.DefaultMaxBlobBytes,
		},
		Relational: RelationalConfig{
			Path:           "data/relational.db",
			MinSessions:    sqlite.DefaultMinSessions,
			MaxSessions:    sqlite.DefaultMaxSessions,
			BusyTimeout:    sqlite.DefaultBusyTimeout,
			Compression:    true,
			MaxInlineBytes: sqlite.DefaultMaxInlineBytes,
			MaxBlobBytes:   sqlite.DefaultMaxBlobBytes,
		},
		Tiering: TieringConfig{Threshold: tiering.DefaultThreshold},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   50 * time.Millisecond,
		},
		OperationTimeout: 30 * time.Second,
		Sweep: SweepConfig{
			GracePeriod: time.Hour,
			Workers:     4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Option modifies a Config.
type Option func(*Config)

// New returns the default configuration with opts applied.
func New(opts ...Option) *Config {
	cfg := Default()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithBackend sets the initial backend.
func WithBackend(name string) Option {
	return func(c *Config) { c.Backend = name }
}

// WithStateFile persists the active backend choice to path.
func WithStateFile(path string) Option {
	return func(c *Config) { c.StateFile = path }
}

// WithDocumentPath sets the document store directory.
func WithDocumentPath(path string) Option {
	return func(c *Config) {
		c.Document.Path = path
		c.Document.InMemory = false
	}
}

// WithInMemoryDocument runs the document store in memory.
func WithInMemoryDocument() Option {
	return func(c *Config) { c.Document.InMemory = true }
}

// WithRelationalPath sets the SQLite database file.
func WithRelationalPath(path string) Option {
	return func(c *Config) { c.Relational.Path = path }
}

// WithThreshold sets the tiering threshold in bytes.
func WithThreshold(n int64) Option {
	return func(c *Config) { c.Tiering.Threshold = n }
}

// WithCompression enables or disables blob compression on both backends.
func WithCompression(enabled bool) Option {
	return func(c *Config) {
		c.Document.Compression = enabled
		c.Relational.Compression = enabled
	}
}

// WithRetry sets the retry bounds.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Config) {
		c.Retry.MaxAttempts = maxAttempts
		c.Retry.BaseDelay = baseDelay
	}
}

// WithOperationTimeout sets the default per-operation deadline.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Config) { c.OperationTimeout = d }
}

// WithSweep configures the orphan sweeper.
func WithSweep(schedule string, grace time.Duration, workers int) Option {
	return func(c *Config) {
		c.Sweep.Schedule = schedule
		c.Sweep.GracePeriod = grace
		c.Sweep.Workers = workers
	}
}

// Limits returns the size ceilings configured for the named backend.
func (c *Config) Limits(backend string) tiering.Limits {
	if backend == sqlite.Name {
		return tiering.Limits{MaxInlineBytes: c.Relational.MaxInlineBytes, MaxBlobBytes: c.Relational.MaxBlobBytes}
	}
	return tiering.Limits{MaxInlineBytes: c.Document.MaxInlineBytes, MaxBlobBytes: c.Document.MaxBlobBytes}
}

// Compression reports whether blob compression is enabled for the named
// backend.
func (c *Config) Compression(backend string) bool {
	if backend == sqlite.Name {
		return c.Relational.Compression
	}
	return c.Document.Compression
}

// DocumentOptions converts the document section to adapter options.
func (c *Config) DocumentOptions() badger.Options {
	return badger.Options{
		Path:           c.Document.Path,
		InMemory:       c.Document.InMemory,
		ChunkSize:      c.Document.ChunkSize,
		MaxInlineBytes: c.Document.MaxInlineBytes,
		MaxBlobBytes:   c.Document.MaxBlobBytes,
	}
}

// RelationalOptions converts the relational section to adapter options.
func (c *Config) RelationalOptions() sqlite.Options {
	return sqlite.Options{
		Path:           c.Relational.Path,
		MinSessions:    c.Relational.MinSessions,
		MaxSessions:    c.Relational.MaxSessions,
		BusyTimeout:    c.Relational.BusyTimeout,
		MaxInlineBytes: c.Relational.MaxInlineBytes,
		MaxBlobBytes:   c.Relational.MaxBlobBytes,
	}
}
