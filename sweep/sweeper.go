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

// Package sweep removes orphaned blobs and dependents left behind by
// interrupted writes.
//
// A blob is written before the record that references it, so a crash
// between the two leaves an unreferenced blob. Blobs younger than the grace
// period are skipped because their owning record may still be on its way.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

const (
	DefaultGracePeriod = time.Hour
	DefaultWorkers     = 4
)

// Source hands out the active adapter for the duration of one sweep.
type Source interface {
	Acquire(ctx context.Context) (storage.Adapter, func(), error)
}

// Observer receives per-kind sweep counts.
type Observer interface {
	ObserveSweep(backend string, kind core.EntityKind, n int)
}

// Result summarizes one sweep.
type Result struct {
	Backend    string
	Blobs      int
	Workspaces int
	Training   int
	Feedback   int
	// Skipped counts blobs whose owner published them after they were
	// found.
	Skipped int
}

// Total returns the number of removed entities.
func (r *Result) Total() int {
	return r.Blobs + r.Workspaces + r.Training + r.Feedback
}

// Sweeper finds and deletes orphans on the active backend.
type Sweeper struct {
	source   Source
	grace    time.Duration
	workers  int
	observer Observer
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithGracePeriod sets the minimum age of a blob before it is swept.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Sweeper) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithWorkers sets the number of concurrent deletions.
func WithWorkers(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithObserver reports sweep counts to o.
func WithObserver(o Observer) Option {
	return func(s *Sweeper) { s.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a Sweeper over source.
func New(source Source, opts ...Option) *Sweeper {
	s := &Sweeper{
		source:  source,
		grace:   DefaultGracePeriod,
		workers: DefaultWorkers,
		now:     time.Now,
		logger:  slog.Default().With("component", "sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass, removing dependents before blobs. The adapter is held
// for the whole pass, so a backend switch waits for it. Individual deletion
// failures are joined into the returned error; the counts reflect
// what was actually removed.
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	adapter, release, err := s.source.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	cutoff := s.now().Add(-s.grace)
	orphans, err := adapter.FindOrphans(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("finding orphans: %w", err)
	}
	result := &Result{Backend: adapter.Name()}
	if orphans.Empty() {
		s.logger.Debug("no orphans found", "backend", result.Backend)
		return result, nil
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var errs []error
	var errMu sync.Mutex
	fail := func(err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	run := func(kind core.EntityKind, ids []string, del func(context.Context, string) error) int {
		var removed, skipped atomic.Int64
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			submitErr := pool.Submit(func() {
				defer wg.Done()
				err := del(ctx, id)
				switch {
				case err == nil:
					removed.Add(1)
				case errors.Is(err, core.ErrBlobInUse):
					skipped.Add(1)
				default:
					fail(fmt.Errorf("deleting %s %s: %w", kind, id, err))
				}
			})
			if submitErr != nil {
				wg.Done()
				fail(fmt.Errorf("scheduling deletion of %s %s: %w", kind, id, submitErr))
			}
		}
		wg.Wait()
		result.Skipped += int(skipped.Load())
		n := int(removed.Load())
		if n > 0 && s.observer != nil {
			s.observer.ObserveSweep(result.Backend, kind, n)
		}
		return n
	}

	result.Workspaces = run(core.KindWorkspace, orphans.WorkspaceIDs, adapter.DeleteWorkspace)
	result.Training = run(core.KindTrainingMetadata, orphans.TrainingIDs, adapter.DeleteTraining)
	result.Feedback = run(core.KindFeedback, orphans.FeedbackIDs, adapter.DeleteFeedback)
	result.Blobs = run(core.KindBlob, orphans.BlobIDs, adapter.DeleteBlob)

	s.logger.Info("sweep completed",
		"backend", result.Backend,
		"blobs", result.Blobs,
		"workspaces", result.Workspaces,
		"training", result.Training,
		"feedback", result.Feedback,
		"skipped", result.Skipped,
	)
	return result, errors.Join(errs...)
}
