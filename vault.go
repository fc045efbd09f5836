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

// Package datavault persists datasets, workspace snapshots, training
// metadata and prediction feedback on one of two interchangeable backends.
//
// A Vault routes each write through validation and the tiering policy to
// whichever adapter the coordinator currently holds, and rebuilds payloads
// on the way back. Callers never see which backend is active except through
// CurrentBackend.
//
//	v, err := datavault.Open(ctx, config.Default())
//	...
//	ds, err := v.Datasets().Create(ctx, &core.Dataset{ID: "sales", Name: "Sales", Data: csv})
package datavault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poiesic/datavault/config"
	"github.com/poiesic/datavault/coordinator"
	"github.com/poiesic/datavault/storage"
	"github.com/poiesic/datavault/storage/badger"
	"github.com/poiesic/datavault/storage/blobcodec"
	"github.com/poiesic/datavault/storage/sqlite"
	"github.com/poiesic/datavault/sweep"
	"github.com/poiesic/datavault/tiering"
)

// ListOptions narrows a list call.
type ListOptions = storage.ListOptions

// Vault is the entry point to datavault.
type Vault struct {
	cfg     *config.Config
	policy  tiering.Policy
	factory *coordinator.Factory
	coord   *coordinator.Coordinator
	metrics *coordinator.Metrics
	sweeper *sweep.Sweeper
	sched   *sweep.Scheduler
	logger  *slog.Logger

	codecMu sync.Mutex
	codecs  map[string]*blobcodec.Codec

	stopWatch context.CancelFunc
	watchDone chan struct{}

	datasets   *DatasetRepository
	workspaces *WorkspaceRepository
	training   *TrainingRepository
	feedback   *FeedbackRepository
	blobs      *BlobRepository
}

// Option configures Open.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	state      coordinator.StateStore
	extra      map[string]coordinator.Constructor
}

// WithRegisterer registers metrics with reg instead of the registry implied
// by the metrics configuration.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithStateStore overrides the store that persists the active backend.
func WithStateStore(s coordinator.StateStore) Option {
	return func(o *options) { o.state = s }
}

// WithBackend registers an additional backend constructor under name.
func WithBackend(name string, c coordinator.Constructor) Option {
	return func(o *options) {
		if o.extra == nil {
			o.extra = make(map[string]coordinator.Constructor)
		}
		o.extra[name] = c
	}
}

// Open validates cfg, opens the configured backend and starts the optional
// state watcher and sweep schedule.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Vault, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	reg := o.registerer
	if reg == nil && cfg.Metrics.Enabled {
		reg = prometheus.DefaultRegisterer
	}
	metrics := coordinator.NewMetrics(reg)

	factory := coordinator.NewFactory()
	factory.Register(badger.Name, func(ctx context.Context) (storage.Adapter, error) {
		a, err := badger.Open(cfg.DocumentOptions())
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	factory.Register(sqlite.Name, func(ctx context.Context) (storage.Adapter, error) {
		a, err := sqlite.Open(ctx, cfg.RelationalOptions())
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	for name, c := range o.extra {
		factory.Register(name, c)
	}

	state := o.state
	if state == nil {
		if cfg.StateFile != "" {
			state = config.NewFileState(cfg.StateFile)
		} else {
			state = &config.MemoryState{}
		}
	}

	v := &Vault{
		cfg:     cfg,
		factory: factory,
		policy:  cfg.Policy(),
		metrics: metrics,
		logger:  slog.Default().With("component", "vault"),
		codecs:  make(map[string]*blobcodec.Codec),
	}
	v.coord = coordinator.New(factory, state, metrics)
	if err := v.coord.Start(ctx, cfg.Backend); err != nil {
		return nil, err
	}

	v.sweeper = sweep.New(v.coord,
		sweep.WithGracePeriod(cfg.Sweep.GracePeriod),
		sweep.WithWorkers(cfg.Sweep.Workers),
		sweep.WithObserver(metrics),
	)

	if cfg.WatchState && cfg.StateFile != "" {
		if err := v.startWatcher(); err != nil {
			v.coord.Close()
			return nil, err
		}
	}
	if cfg.Sweep.Schedule != "" {
		v.sched = sweep.NewScheduler(v.sweeper, cfg.Sweep.Schedule)
		if err := v.sched.Start(context.Background()); err != nil {
			v.Close()
			return nil, err
		}
	}

	v.datasets = &DatasetRepository{v: v}
	v.workspaces = &WorkspaceRepository{v: v}
	v.training = &TrainingRepository{v: v}
	v.feedback = &FeedbackRepository{v: v}
	v.blobs = &BlobRepository{v: v}

	v.logger.Info("vault opened", "backend", v.coord.Current())
	return v, nil
}

func (v *Vault) startWatcher() error {
	w, err := coordinator.NewWatcher(v.coord, v.cfg.StateFile, coordinator.DefaultDebounce)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	v.stopWatch = cancel
	v.watchDone = make(chan struct{})
	go func() {
		defer close(v.watchDone)
		if err := w.Run(ctx); err != nil {
			v.logger.Error("state watcher stopped", "error", err)
		}
	}()
	return nil
}

// Close stops background work, waits for in-flight operations and closes
// the active backend.
func (v *Vault) Close() error {
	if v.sched != nil {
		v.sched.Stop()
	}
	if v.stopWatch != nil {
		v.stopWatch()
		<-v.watchDone
	}
	err := v.coord.Close()

	v.codecMu.Lock()
	for name, c := range v.codecs {
		c.Close()
		delete(v.codecs, name)
	}
	v.codecMu.Unlock()
	return err
}

// CurrentBackend returns the name of the active backend.
func (v *Vault) CurrentBackend() string {
	return v.coord.Current()
}

// SwitchBackend makes name the active backend. Existing data is not
// migrated. On failure the previous backend stays active and the error
// matches core.ErrSwitchFailure.
func (v *Vault) SwitchBackend(ctx context.Context, name string) error {
	return v.coord.Switch(ctx, name)
}

// Backends returns the names SwitchBackend accepts.
func (v *Vault) Backends() []string {
	return v.factory.Names()
}

// Sweep removes orphaned blobs and dependents from the active backend.
func (v *Vault) Sweep(ctx context.Context) (*sweep.Result, error) {
	return v.sweeper.Sweep(ctx)
}

// Datasets returns the dataset repository.
func (v *Vault) Datasets() *DatasetRepository { return v.datasets }

// Workspaces returns the workspace repository.
func (v *Vault) Workspaces() *WorkspaceRepository { return v.workspaces }

// TrainingMetadata returns the training metadata repository.
func (v *Vault) TrainingMetadata() *TrainingRepository { return v.training }

// Feedback returns the prediction feedback repository.
func (v *Vault) Feedback() *FeedbackRepository { return v.feedback }

// Blobs gives direct access to raw blob storage.
func (v *Vault) Blobs() *BlobRepository { return v.blobs }

// do runs fn against the active adapter. Transient connectivity failures
// are retried with backoff; each attempt acquires the adapter afresh so a
// completed switch is picked up. A caller context without a deadline gets
// the configured operation timeout.
func (v *Vault) do(ctx context.Context, op string, fn func(ctx context.Context, a storage.Adapter) error) error {
	if _, ok := ctx.Deadline(); !ok && v.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.OperationTimeout)
		defer cancel()
	}

	start := time.Now()
	backend := ""
	attempts := 0
	err := storage.RetryWithBackoff(ctx, func(ctx context.Context) error {
		a, release, err := v.coord.Acquire(ctx)
		if err != nil {
			return storage.Wrap(v.coord.Current(), op, err)
		}
		defer release()
		backend = a.Name()
		attempts++
		if attempts > 1 {
			v.metrics.ObserveRetry(backend, op)
		}
		return fn(ctx, a)
	}, v.cfg.Retry.MaxAttempts, v.cfg.Retry.BaseDelay)

	if backend == "" {
		backend = v.coord.Current()
	}
	v.metrics.ObserveOperation(backend, op, time.Since(start), err)
	if err != nil && !errors.Is(err, context.Canceled) {
		v.logger.Debug("operation failed", "backend", backend, "operation", op, "error", err)
	}
	return err
}

// codec returns the blob codec for the named backend.
func (v *Vault) codec(backend string) (*blobcodec.Codec, error) {
	v.codecMu.Lock()
	defer v.codecMu.Unlock()
	if c, ok := v.codecs[backend]; ok {
		return c, nil
	}
	c, err := blobcodec.New(v.cfg.Compression(backend))
	if err != nil {
		return nil, fmt.Errorf("creating blob codec for %s: %w", backend, err)
	}
	v.codecs[backend] = c
	return c, nil
}
