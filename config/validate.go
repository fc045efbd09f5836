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
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage/badger"
	"github.com/poiesic/datavault/storage/sqlite"
	"github.com/poiesic/datavault/tiering"
)

// FieldError is a validation failure of one configuration field.
type FieldError struct {
	// Field is the dotted YAML path, e.g. "relational.max_sessions".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Is matches core.ErrValidation.
func (e ValidationError) Is(target error) bool {
	return target == core.ErrValidation
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Validate checks the whole configuration and reports all problems at once.
func (c *Config) Validate() error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Backend {
	case badger.Name, sqlite.Name:
	default:
		add("backend", "must be %q or %q, got %q", badger.Name, sqlite.Name, c.Backend)
	}

	if !c.Document.InMemory && c.Document.Path == "" {
		add("document.path", "is required unless document.in_memory is set")
	}
	if c.Document.ChunkSize <= 0 {
		add("document.chunk_size", "must be positive")
	}
	if err := c.Limits(badger.Name).Validate(); err != nil {
		add("document.max_inline_bytes", "%v", err)
	}

	if c.Relational.Path == "" {
		add("relational.path", "is required")
	}
	if c.Relational.MinSessions < 0 {
		add("relational.min_sessions", "must not be negative")
	}
	if c.Relational.MaxSessions <= 0 {
		add("relational.max_sessions", "must be positive")
	} else if c.Relational.MinSessions > c.Relational.MaxSessions {
		add("relational.min_sessions", "must not exceed max_sessions (%d)", c.Relational.MaxSessions)
	}
	if c.Relational.BusyTimeout < 0 {
		add("relational.busy_timeout", "must not be negative")
	}
	if err := c.Limits(sqlite.Name).Validate(); err != nil {
		add("relational.max_inline_bytes", "%v", err)
	}

	if c.Tiering.Threshold <= 0 {
		add("tiering.threshold", "must be positive")
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts", "must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 {
		add("retry.base_delay", "must be positive")
	}
	if c.OperationTimeout < 0 {
		add("operation_timeout", "must not be negative")
	}

	if c.Sweep.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			add("sweep.schedule", "invalid cron expression: %v", err)
		}
	}
	if c.Sweep.GracePeriod < 0 {
		add("sweep.grace_period", "must not be negative")
	}
	if c.Sweep.Workers < 1 {
		add("sweep.workers", "must be at least 1")
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		add("log.level", "must be one of %s", strings.Join(logLevels, ", "))
	}
	if !slices.Contains(logFormats, strings.ToLower(c.Log.Format)) {
		add("log.format", "must be one of %s", strings.Join(logFormats, ", "))
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// Policy returns the tiering policy for the configured threshold.
func (c *Config) Policy() tiering.Policy {
	return tiering.NewPolicy(c.Tiering.Threshold)
}
