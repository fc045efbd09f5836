package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/datavault/config"
	"github.com/poiesic/datavault/coordinator"
	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage/badger"
	"github.com/poiesic/datavault/storage/sqlite"
	"github.com/poiesic/datavault/tiering"
)

var (
	_ coordinator.StateStore = (*config.FileState)(nil)
	_ coordinator.StateStore = (*config.MemoryState)(nil)
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datavault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, badger.Name, cfg.Backend)
	assert.Equal(t, tiering.DefaultThreshold, cfg.Tiering.Threshold)
	assert.Equal(t, sqlite.DefaultMaxSessions, cfg.Relational.MaxSessions)
}

func TestNew_Options(t *testing.T) {
	cfg := config.New(
		config.WithBackend(sqlite.Name),
		config.WithStateFile("/tmp/state.yaml"),
		config.WithInMemoryDocument(),
		config.WithRelationalPath("/tmp/r.db"),
		config.WithThreshold(1024),
		config.WithCompression(false),
		config.WithRetry(5, time.Second),
		config.WithOperationTimeout(0),
		config.WithSweep("@hourly", time.Minute, 2),
	)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, sqlite.Name, cfg.Backend)
	assert.Equal(t, "/tmp/state.yaml", cfg.StateFile)
	assert.True(t, cfg.Document.InMemory)
	assert.Equal(t, "/tmp/r.db", cfg.Relational.Path)
	assert.Equal(t, int64(1024), cfg.Tiering.Threshold)
	assert.False(t, cfg.Compression(badger.Name))
	assert.False(t, cfg.Compression(sqlite.Name))
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Zero(t, cfg.OperationTimeout)
	assert.Equal(t, "@hourly", cfg.Sweep.Schedule)

	// A later path option leaves in-memory mode.
	cfg = config.New(config.WithInMemoryDocument(), config.WithDocumentPath("/tmp/doc"))
	assert.False(t, cfg.Document.InMemory)
	assert.Equal(t, "/tmp/doc", cfg.Document.Path)
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
backend: relational
state_file: /var/lib/datavault/state.yaml
watch_state: true
document:
  in_memory: true
  chunk_size: 65536
relational:
  path: /var/lib/datavault/data.db
  min_sessions: 1
  max_sessions: 4
  busy_timeout: 2s
tiering:
  threshold: 1048576
retry:
  max_attempts: 4
  base_delay: 10ms
operation_timeout: 1m
sweep:
  schedule: "0 3 * * *"
  grace_period: 30m
  workers: 8
log:
  level: debug
  format: json
metrics:
  enabled: true
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, sqlite.Name, cfg.Backend)
	assert.True(t, cfg.WatchState)
	assert.True(t, cfg.Document.InMemory)
	assert.Equal(t, 65536, cfg.Document.ChunkSize)
	assert.Equal(t, 4, cfg.Relational.MaxSessions)
	assert.Equal(t, 2*time.Second, cfg.Relational.BusyTimeout)
	assert.Equal(t, int64(1<<20), cfg.Tiering.Threshold)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, time.Minute, cfg.OperationTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.GracePeriod)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)

	// Unset keys keep their defaults.
	assert.Equal(t, badger.DefaultMaxInlineBytes, cfg.Document.MaxInlineBytes)
	assert.Equal(t, sqlite.DefaultMaxBlobBytes, cfg.Relational.MaxBlobBytes)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = config.Load(writeFile(t, "backend: [unclosed"))
	require.Error(t, err)

	_, err = config.Load(writeFile(t, "backend: columnar\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		fields []string
	}{
		{
			name:   "unknown backend",
			mutate: func(c *config.Config) { c.Backend = "mongo" },
			fields: []string{"backend"},
		},
		{
			name: "document path required",
			mutate: func(c *config.Config) {
				c.Document.Path = ""
				c.Document.InMemory = false
			},
			fields: []string{"document.path"},
		},
		{
			name:   "inline above blob ceiling",
			mutate: func(c *config.Config) { c.Relational.MaxInlineBytes = c.Relational.MaxBlobBytes + 1 },
			fields: []string{"relational.max_inline_bytes"},
		},
		{
			name: "sessions inverted",
			mutate: func(c *config.Config) {
				c.Relational.MinSessions = 8
				c.Relational.MaxSessions = 2
			},
			fields: []string{"relational.min_sessions"},
		},
		{
			name:   "bad cron",
			mutate: func(c *config.Config) { c.Sweep.Schedule = "every tuesday" },
			fields: []string{"sweep.schedule"},
		},
		{
			name: "several at once",
			mutate: func(c *config.Config) {
				c.Tiering.Threshold = 0
				c.Retry.MaxAttempts = 0
				c.Retry.BaseDelay = 0
				c.Sweep.Workers = 0
				c.Log.Level = "trace"
				c.Log.Format = "xml"
			},
			fields: []string{
				"tiering.threshold",
				"retry.max_attempts",
				"retry.base_delay",
				"sweep.workers",
				"log.level",
				"log.format",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrValidation)

			var verr config.ValidationError
			require.ErrorAs(t, err, &verr)
			var got []string
			for _, fe := range verr.Errors {
				got = append(got, fe.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeFile(t, "backend: document\nlog:\n  level: warn\n")

	t.Setenv("DATAVAULT_BACKEND", "relational")
	t.Setenv("DATAVAULT_RELATIONAL_MAX_SESSIONS", "3")
	t.Setenv("DATAVAULT_RELATIONAL_BUSY_TIMEOUT", "250ms")
	t.Setenv("DATAVAULT_DOCUMENT_IN_MEMORY", "true")
	t.Setenv("DATAVAULT_TIERING_THRESHOLD", "4096")
	t.Setenv("DATAVAULT_SWEEP_SCHEDULE", "@daily")

	cfg, err := config.LoadWithEnvOverrides(path)
	require.NoError(t, err)

	assert.Equal(t, sqlite.Name, cfg.Backend)
	assert.Equal(t, 3, cfg.Relational.MaxSessions)
	assert.Equal(t, 250*time.Millisecond, cfg.Relational.BusyTimeout)
	assert.True(t, cfg.Document.InMemory)
	assert.Equal(t, int64(4096), cfg.Tiering.Threshold)
	assert.Equal(t, "@daily", cfg.Sweep.Schedule)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("DATAVAULT_LOG_FORMAT", "json")

	cfg, err := config.LoadWithEnvOverrides("")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	t.Setenv("DATAVAULT_RETRY_MAX_ATTEMPTS", "many")
	t.Setenv("DATAVAULT_OPERATION_TIMEOUT", "soon")
	t.Setenv("DATAVAULT_METRICS_ENABLED", "perhaps")

	cfg := config.Default()
	err := config.ApplyEnvOverrides(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATAVAULT_RETRY_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "DATAVAULT_OPERATION_TIMEOUT")
	assert.Contains(t, err.Error(), "DATAVAULT_METRICS_ENABLED")

	// Invalid values leave the defaults untouched.
	assert.Equal(t, config.Default().Retry.MaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, config.Default().OperationTimeout, cfg.OperationTimeout)
}

func TestAdapterOptions(t *testing.T) {
	cfg := config.New(config.WithDocumentPath("/data/doc"), config.WithRelationalPath("/data/rel.db"))

	doc := cfg.DocumentOptions()
	assert.Equal(t, "/data/doc", doc.Path)
	assert.Equal(t, cfg.Document.ChunkSize, doc.ChunkSize)

	rel := cfg.RelationalOptions()
	assert.Equal(t, "/data/rel.db", rel.Path)
	assert.Equal(t, cfg.Relational.BusyTimeout, rel.BusyTimeout)

	assert.Equal(t, cfg.Relational.MaxInlineBytes, cfg.Limits(sqlite.Name).MaxInlineBytes)
	assert.Equal(t, cfg.Document.MaxBlobBytes, cfg.Limits(badger.Name).MaxBlobBytes)
	assert.Equal(t, cfg.Tiering.Threshold, cfg.Policy().Threshold)
}
