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

// Package coordinator owns the active storage adapter and switches it at
// runtime. Repositories acquire the adapter for the duration of one
// operation; a switch waits for those to finish before the next backend is
// constructed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// Phase is the coordinator's state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSwitchRequested
	PhaseDraining
	PhaseReinitializing
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSwitchRequested:
		return "switch_requested"
	case PhaseDraining:
		return "draining"
	case PhaseReinitializing:
		return "reinitializing"
	case PhaseActive:
		return "active"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// StateStore persists the active backend choice across restarts.
type StateStore interface {
	// Load returns the persisted backend name, or "" when none was saved.
	Load() (string, error)
	Save(name string) error
}

// Coordinator holds exactly one active adapter.
type Coordinator struct {
	factory *Factory
	state   StateStore
	metrics *Metrics
	logger  *slog.Logger

	// switchMu serializes Start, Switch, Reconcile and Close.
	switchMu sync.Mutex

	mu       sync.Mutex
	drained  *sync.Cond
	phase    Phase
	active   storage.Adapter
	inflight int
}

// New creates an idle coordinator. Call Start before use.
func New(factory *Factory, state StateStore, metrics *Metrics) *Coordinator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	c := &Coordinator{
		factory: factory,
		state:   state,
		metrics: metrics,
		logger:  slog.Default().With("component", "coordinator"),
	}
	c.drained = sync.NewCond(&c.mu)
	return c
}

// Start opens the persisted backend, or fallback when nothing was persisted,
// and begins serving.
func (c *Coordinator) Start(ctx context.Context, fallback string) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.mu.Unlock()

	name, err := c.state.Load()
	if err != nil {
		return fmt.Errorf("failed to load backend state: %w", err)
	}
	if name == "" {
		name = fallback
	}
	adapter, err := c.factory.Open(ctx, name)
	if err != nil {
		return err
	}
	if err := adapter.Ping(ctx); err != nil {
		adapter.Close()
		return err
	}
	if err := c.state.Save(name); err != nil {
		adapter.Close()
		return fmt.Errorf("failed to persist backend state: %w", err)
	}
	c.install(adapter)
	c.logger.Info("backend active", "backend", name)
	return nil
}

// Acquire returns the active adapter and a release func that must be called
// when the operation completes. Outside the active phase it fails with
// core.ErrBackendUnavailable.
func (c *Coordinator) Acquire(ctx context.Context) (storage.Adapter, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive {
		return nil, nil, core.NewStorageError(c.nameLocked(), "acquire", core.ErrBackendUnavailable,
			fmt.Errorf("coordinator is %s", c.phase))
	}
	c.inflight++
	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			c.inflight--
			if c.inflight == 0 {
				c.drained.Broadcast()
			}
			c.mu.Unlock()
		})
	}
	return c.active, release, nil
}

// Current returns the name of the active backend, or "" before Start.
func (c *Coordinator) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nameLocked()
}

func (c *Coordinator) nameLocked() string {
	if c.active == nil {
		return ""
	}
	return c.active.Name()
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Switch makes name the active backend. Switching to the active backend is
// a no-op. On any failure the previous backend stays active and the error
// matches core.ErrSwitchFailure.
func (c *Coordinator) Switch(ctx context.Context, name string) error {
	if err := c.factory.Check(name); err != nil {
		return err
	}
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	return c.switchLocked(ctx, name)
}

// Reconcile switches to the persisted backend when it differs from the
// active one. It is how external edits of the state file take effect.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	name, err := c.state.Load()
	if err != nil {
		return fmt.Errorf("failed to load backend state: %w", err)
	}
	if name == "" || !c.factory.Has(name) {
		c.logger.Warn("ignoring persisted backend", "backend", name)
		return nil
	}
	return c.switchLocked(ctx, name)
}

func (c *Coordinator) switchLocked(ctx context.Context, to string) error {
	c.mu.Lock()
	if c.phase != PhaseActive {
		phase := c.phase
		c.mu.Unlock()
		return &core.SwitchError{From: "", To: to, Reason: fmt.Errorf("coordinator is %s", phase)}
	}
	from := c.active.Name()
	if from == to {
		c.mu.Unlock()
		return nil
	}
	c.setPhaseLocked(PhaseSwitchRequested)
	c.mu.Unlock()

	logger := c.logger.With("from", from, "to", to)
	logger.Info("backend switch requested")

	err := c.runSwitch(ctx, from, to, logger)
	c.metrics.observeSwitch(from, to, err)
	if err != nil {
		logger.Error("backend switch failed", "error", err)
		return &core.SwitchError{From: from, To: to, Reason: err}
	}
	logger.Info("backend switch completed")
	return nil
}

// runSwitch drives Draining and Reinitializing. Every failure path restores
// the previous adapter and persisted choice before returning.
func (c *Coordinator) runSwitch(ctx context.Context, from, to string, logger *slog.Logger) error {
	c.mu.Lock()
	c.setPhaseLocked(PhaseDraining)
	c.mu.Unlock()
	if err := c.drain(ctx); err != nil {
		c.resume()
		return fmt.Errorf("draining in-flight operations: %w", err)
	}

	c.mu.Lock()
	c.setPhaseLocked(PhaseReinitializing)
	c.mu.Unlock()

	if err := c.state.Save(to); err != nil {
		c.resume()
		return fmt.Errorf("persisting backend choice: %w", err)
	}
	next, err := c.factory.Open(ctx, to)
	if err == nil {
		if err = next.Ping(ctx); err != nil {
			next.Close()
		}
	}
	if err != nil {
		if rerr := c.state.Save(from); rerr != nil {
			logger.Error("failed to revert persisted backend choice", "error", rerr)
			err = errors.Join(err, rerr)
		}
		c.resume()
		return err
	}

	c.mu.Lock()
	previous := c.active
	c.mu.Unlock()
	if err := previous.Close(); err != nil {
		logger.Warn("failed to close previous backend", "error", err)
	}
	c.install(next)
	return nil
}

// drain waits until no operation holds the adapter, or ctx ends.
func (c *Coordinator) drain(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.drained.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inflight > 0 && ctx.Err() == nil {
		c.drained.Wait()
	}
	if c.inflight > 0 {
		return ctx.Err()
	}
	return nil
}

// resume puts the current adapter back into service.
func (c *Coordinator) resume() {
	c.mu.Lock()
	c.setPhaseLocked(PhaseActive)
	c.mu.Unlock()
}

func (c *Coordinator) install(adapter storage.Adapter) {
	c.mu.Lock()
	previous := c.nameLocked()
	c.active = adapter
	c.setPhaseLocked(PhaseActive)
	c.mu.Unlock()
	c.metrics.setActive(previous, adapter.Name())
}

func (c *Coordinator) setPhaseLocked(p Phase) {
	c.phase = p
	c.metrics.setPhase(p)
}

// Close stops serving, waits for in-flight operations and closes the active
// adapter.
func (c *Coordinator) Close() error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return nil
	}
	c.setPhaseLocked(PhaseIdle)
	for c.inflight > 0 {
		c.drained.Wait()
	}
	adapter := c.active
	c.active = nil
	c.mu.Unlock()

	c.metrics.setActive(adapter.Name(), "")
	return adapter.Close()
}
