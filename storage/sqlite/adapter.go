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

// Package sqlite implements the relational backend on SQLite. Payloads live
// in BLOB columns, structured fields in TEXT columns checked with
// json_valid, and dependents are removed by the schema's foreign key
// cascades.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
	"github.com/poiesic/datavault/tiering"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// Name is the configuration name of the relational backend.
const Name = "relational"

const (
	DefaultMinSessions = 2
	DefaultMaxSessions = 10
	DefaultBusyTimeout = 5 * time.Second
	// DefaultMaxInlineBytes keeps inline rows well inside SQLite's page cache.
	DefaultMaxInlineBytes int64 = 64 << 20
	// DefaultMaxBlobBytes stays under SQLite's default SQLITE_MAX_LENGTH.
	DefaultMaxBlobBytes int64 = 900 << 20
)

// Options configure the relational adapter.
type Options struct {
	Path           string
	MinSessions    int
	MaxSessions    int
	BusyTimeout    time.Duration
	MaxInlineBytes int64
	MaxBlobBytes   int64
}

func (o Options) withDefaults() Options {
	if o.MinSessions <= 0 {
		o.MinSessions = DefaultMinSessions
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = DefaultMaxSessions
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
	if o.MaxInlineBytes <= 0 {
		o.MaxInlineBytes = DefaultMaxInlineBytes
	}
	if o.MaxBlobBytes <= 0 {
		o.MaxBlobBytes = DefaultMaxBlobBytes
	}
	return o
}

// Adapter implements storage.Adapter on SQLite.
type Adapter struct {
	db     *sql.DB
	limits tiering.Limits
	closed atomic.Bool
	logger *slog.Logger
}

var _ storage.Adapter = (*Adapter)(nil)

// Open opens the database file, applies migrations and pre-warms
// MinSessions connections.
func Open(ctx context.Context, opts Options) (*Adapter, error) {
	opts = opts.withDefaults()
	if opts.Path == "" {
		return nil, fmt.Errorf("relational store path is required")
	}
	if opts.MinSessions > opts.MaxSessions {
		return nil, fmt.Errorf("min sessions (%d) exceeds max sessions (%d)", opts.MinSessions, opts.MaxSessions)
	}
	limits := tiering.Limits{MaxInlineBytes: opts.MaxInlineBytes, MaxBlobBytes: opts.MaxBlobBytes}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, storage.Wrap(Name, "open", fmt.Errorf("%w: %w", core.ErrConnectivity, err))
		}
	}

	logger := slog.Default().With("component", "relational-adapter")
	db, err := sql.Open("sqlite", dsn(opts))
	if err != nil {
		return nil, storage.Wrap(Name, "open", fmt.Errorf("%w: %w", core.ErrConnectivity, err))
	}
	db.SetMaxOpenConns(opts.MaxSessions)
	db.SetMaxIdleConns(opts.MaxSessions)

	if err := prewarm(ctx, db, opts.MinSessions); err != nil {
		db.Close()
		return nil, storage.Wrap(Name, "open", err)
	}
	version, err := migrateUp(db)
	if err != nil {
		db.Close()
		return nil, storage.Wrap(Name, "migrate", fmt.Errorf("%w: %w", core.ErrConnectivity, err))
	}

	logger.Info("relational store opened",
		"path", opts.Path,
		"schema_version", version,
		"min_sessions", opts.MinSessions,
		"max_sessions", opts.MaxSessions,
	)
	return &Adapter{db: db, limits: limits, logger: logger}, nil
}

// dsn builds a modernc DSN. Pragmas are applied to every new connection.
func dsn(opts Options) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + opts.Path + "?" + q.Encode()
}

// prewarm opens n connections up front so the first requests do not pay for
// them. They return to the idle pool.
func prewarm(ctx context.Context, db *sql.DB, n int) error {
	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for range n {
		c, err := db.Conn(ctx)
		if err != nil {
			return classify(err)
		}
		if err := c.PingContext(ctx); err != nil {
			c.Close()
			return classify(err)
		}
		conns = append(conns, c)
	}
	return nil
}

// Name implements storage.Adapter.
func (a *Adapter) Name() string { return Name }

// Limits implements storage.Adapter.
func (a *Adapter) Limits() tiering.Limits { return a.limits }

// Ping implements storage.Adapter.
func (a *Adapter) Ping(ctx context.Context) error {
	const op = "ping"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		return tx.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
	})
	if err != nil && core.KindOf(err) == nil {
		err = fmt.Errorf("%w: %w", core.ErrConnectivity, err)
	}
	return storage.Wrap(Name, op, err)
}

// Close closes the connection pool.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return a.db.Close()
}

func (a *Adapter) begin(ctx context.Context) error {
	if a.closed.Load() {
		return core.ErrClosed
	}
	return ctx.Err()
}

// withTx runs fn in one transaction. The connection goes back to the pool
// on every exit path.
func (a *Adapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

func (a *Adapter) checkInline(n int) error {
	if int64(n) > a.limits.MaxInlineBytes {
		return &core.SizeLimitError{Size: int64(n), Limit: a.limits.MaxInlineBytes}
	}
	return nil
}

// claimBlob marks blobID as owned by the record that now references it. It
// fails when the blob was stored for a different owner or is already
// claimed.
func claimBlob(ctx context.Context, tx *sql.Tx, blobID string, owner core.Reference) error {
	column := "dataset_id"
	if owner.Kind == core.KindWorkspace {
		column = "workspace_id"
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE blobs SET `+column+` = ?
		 WHERE id = ? AND owner_kind = ? AND owner_id = ?
		   AND dataset_id IS NULL AND workspace_id IS NULL`,
		owner.ID, blobID, string(owner.Kind), owner.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: blob %s is not an unclaimed blob of %s %s", core.ErrConstraintViolation, blobID, owner.Kind, owner.ID)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// nullString maps "" to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullBytes maps an empty payload to NULL.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return core.UnixMicro(t)
}

func fromNullTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return core.FromUnixMicro(v.Int64)
}

// limit maps a zero limit to SQLite's "no limit".
func limit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
