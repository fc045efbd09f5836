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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DATAVAULT_"

// Load reads the YAML file at path over the defaults and validates the
// result. Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads path, or the defaults when path is empty,
// then applies DATAVAULT_* environment variables and validates again.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config invalid after environment overrides: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides sets fields from DATAVAULT_<SECTION>_<FIELD> variables.
// Unparseable values are reported together.
func ApplyEnvOverrides(cfg *Config) error {
	e := &envReader{}

	e.str("BACKEND", &cfg.Backend)
	e.str("STATE_FILE", &cfg.StateFile)
	e.boolean("WATCH_STATE", &cfg.WatchState)

	e.str("DOCUMENT_PATH", &cfg.Document.Path)
	e.boolean("DOCUMENT_IN_MEMORY", &cfg.Document.InMemory)
	e.integer("DOCUMENT_CHUNK_SIZE", &cfg.Document.ChunkSize)
	e.boolean("DOCUMENT_COMPRESSION", &cfg.Document.Compression)
	e.size("DOCUMENT_MAX_INLINE_BYTES", &cfg.Document.MaxInlineBytes)
	e.size("DOCUMENT_MAX_BLOB_BYTES", &cfg.Document.MaxBlobBytes)

	e.str("RELATIONAL_PATH", &cfg.Relational.Path)
	e.integer("RELATIONAL_MIN_SESSIONS", &cfg.Relational.MinSessions)
	e.integer("RELATIONAL_MAX_SESSIONS", &cfg.Relational.MaxSessions)
	e.duration("RELATIONAL_BUSY_TIMEOUT", &cfg.Relational.BusyTimeout)
	e.boolean("RELATIONAL_COMPRESSION", &cfg.Relational.Compression)
	e.size("RELATIONAL_MAX_INLINE_BYTES", &cfg.Relational.MaxInlineBytes)
	e.size("RELATIONAL_MAX_BLOB_BYTES", &cfg.Relational.MaxBlobBytes)

	e.size("TIERING_THRESHOLD", &cfg.Tiering.Threshold)

	e.integer("RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	e.duration("RETRY_BASE_DELAY", &cfg.Retry.BaseDelay)
	e.duration("OPERATION_TIMEOUT", &cfg.OperationTimeout)

	e.str("SWEEP_SCHEDULE", &cfg.Sweep.Schedule)
	e.duration("SWEEP_GRACE_PERIOD", &cfg.Sweep.GracePeriod)
	e.integer("SWEEP_WORKERS", &cfg.Sweep.Workers)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)
	e.boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)

	return errors.Join(e.errs...)
}

type envReader struct {
	errs []error
}

func (e *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, name, value, err))
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) size(name string, dst *int64) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}
