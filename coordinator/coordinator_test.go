package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/datavault/config"
	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
	"github.com/poiesic/datavault/storage/badger"
	"github.com/poiesic/datavault/storage/sqlite"
	"github.com/poiesic/datavault/storage/storagetest"
)

// unreachable wraps an adapter whose probe always fails.
type unreachable struct {
	storage.Adapter
}

func (u unreachable) Name() string { return "unreachable" }

func (u unreachable) Ping(context.Context) error {
	return core.NewStorageError("unreachable", "ping", core.ErrConnectivity, errors.New("connection refused"))
}

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	dir := t.TempDir()
	f := NewFactory()
	f.Register(badger.Name, func(ctx context.Context) (storage.Adapter, error) {
		a, err := badger.NewMemoryAdapter(badger.Options{})
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	f.Register(sqlite.Name, func(ctx context.Context) (storage.Adapter, error) {
		a, err := sqlite.Open(ctx, sqlite.Options{Path: filepath.Join(dir, "vault.db"), MinSessions: 1, MaxSessions: 2})
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	f.Register("unreachable", func(ctx context.Context) (storage.Adapter, error) {
		a, err := badger.NewMemoryAdapter(badger.Options{})
		if err != nil {
			return nil, err
		}
		return unreachable{Adapter: a}, nil
	})
	f.Register("broken", func(ctx context.Context) (storage.Adapter, error) {
		return nil, errors.New("no such host")
	})
	return f
}

func startCoordinator(t *testing.T, state StateStore, fallback string) (*Coordinator, *Metrics) {
	t.Helper()
	metrics := NewMetrics(nil)
	c := New(newTestFactory(t), state, metrics)
	require.NoError(t, c.Start(context.Background(), fallback))
	t.Cleanup(func() { c.Close() })
	return c, metrics
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseIdle, "idle"},
		{PhaseSwitchRequested, "switch_requested"},
		{PhaseDraining, "draining"},
		{PhaseReinitializing, "reinitializing"},
		{PhaseActive, "active"},
		{Phase(42), "phase(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.phase.String())
	}
}

func TestFactory(t *testing.T) {
	f := newTestFactory(t)

	assert.Equal(t, []string{"broken", badger.Name, sqlite.Name, "unreachable"}, f.Names())
	assert.True(t, f.Has(badger.Name))
	assert.False(t, f.Has("mongo"))
	require.NoError(t, f.Check(sqlite.Name))

	err := f.Check("mongo")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.Open(context.Background(), "mongo")
	assert.ErrorIs(t, err, core.ErrValidation)

	a, err := f.Open(context.Background(), badger.Name)
	require.NoError(t, err)
	assert.Equal(t, badger.Name, a.Name())
	require.NoError(t, a.Close())
}

func TestStart(t *testing.T) {
	state := &config.MemoryState{}
	c, metrics := startCoordinator(t, state, badger.Name)

	assert.Equal(t, PhaseActive, c.Phase())
	assert.Equal(t, badger.Name, c.Current())
	saved, _ := state.Load()
	assert.Equal(t, badger.Name, saved, "fallback is persisted")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.active.WithLabelValues(badger.Name)))
	assert.Equal(t, float64(PhaseActive), testutil.ToFloat64(metrics.phase))

	assert.Error(t, c.Start(context.Background(), badger.Name), "second start is rejected")
}

func TestStart_PersistedChoiceWins(t *testing.T) {
	state := &config.MemoryState{}
	require.NoError(t, state.Save(sqlite.Name))

	c, _ := startCoordinator(t, state, badger.Name)
	assert.Equal(t, sqlite.Name, c.Current())
}

func TestStart_Failures(t *testing.T) {
	tests := []struct {
		name     string
		fallback string
		state    *config.MemoryState
	}{
		{name: "unknown backend", fallback: "mongo", state: &config.MemoryState{}},
		{name: "constructor fails", fallback: "broken", state: &config.MemoryState{}},
		{name: "probe fails", fallback: "unreachable", state: &config.MemoryState{}},
		{name: "state not writable", fallback: badger.Name, state: &config.MemoryState{FailSave: errors.New("read-only")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(newTestFactory(t), tt.state, nil)
			require.Error(t, c.Start(context.Background(), tt.fallback))
			assert.Equal(t, PhaseIdle, c.Phase())
			assert.Empty(t, c.Current())

			_, _, err := c.Acquire(context.Background())
			assert.ErrorIs(t, err, core.ErrBackendUnavailable)
		})
	}
}

func TestAcquire(t *testing.T) {
	c, _ := startCoordinator(t, &config.MemoryState{}, badger.Name)

	a, release, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, badger.Name, a.Name())
	require.NoError(t, a.Ping(context.Background()))
	release()
	release() // idempotent

	c.mu.Lock()
	assert.Zero(t, c.inflight)
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = c.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSwitch_RoundTripKeepsData(t *testing.T) {
	ctx := context.Background()
	state := &config.MemoryState{}
	c, metrics := startCoordinator(t, state, sqlite.Name)

	a, release, err := c.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, a.CreateDataset(ctx, storagetest.NewDataset("ds-1", []byte("a,b\n1,2\n"))))
	release()

	require.NoError(t, c.Switch(ctx, badger.Name))
	assert.Equal(t, badger.Name, c.Current())
	assert.Equal(t, PhaseActive, c.Phase())
	saved, _ := state.Load()
	assert.Equal(t, badger.Name, saved)

	// Data is not migrated between backends.
	a, release, err = c.Acquire(ctx)
	require.NoError(t, err)
	_, err = a.GetDataset(ctx, "ds-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	release()

	require.NoError(t, c.Switch(ctx, sqlite.Name))
	a, release, err = c.Acquire(ctx)
	require.NoError(t, err)
	got, err := a.GetDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a,b\n1,2\n"), got.Data)
	release()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.switches.WithLabelValues(sqlite.Name, badger.Name, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.switches.WithLabelValues(badger.Name, sqlite.Name, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.active.WithLabelValues(sqlite.Name)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.active.WithLabelValues(badger.Name)))
}

func TestSwitch_SameBackendIsNoop(t *testing.T) {
	c, metrics := startCoordinator(t, &config.MemoryState{}, badger.Name)

	before, release, err := c.Acquire(context.Background())
	require.NoError(t, err)
	release()

	require.NoError(t, c.Switch(context.Background(), badger.Name))

	after, release, err := c.Acquire(context.Background())
	require.NoError(t, err)
	release()
	assert.Same(t, before, after)
	assert.Zero(t, testutil.CollectAndCount(metrics.switches))
}

func TestSwitch_UnknownBackend(t *testing.T) {
	c, _ := startCoordinator(t, &config.MemoryState{}, badger.Name)

	err := c.Switch(context.Background(), "mongo")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, badger.Name, c.Current())
}

func TestSwitch_FailureKeepsPreviousBackend(t *testing.T) {
	for _, target := range []string{"broken", "unreachable"} {
		t.Run(target, func(t *testing.T) {
			ctx := context.Background()
			state := &config.MemoryState{}
			c, metrics := startCoordinator(t, state, badger.Name)

			before, release, err := c.Acquire(ctx)
			require.NoError(t, err)
			require.NoError(t, before.CreateDataset(ctx, storagetest.NewDataset("ds-keep", []byte("x"))))
			release()

			err = c.Switch(ctx, target)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrSwitchFailure)
			assert.NotErrorIs(t, err, core.ErrConnectivity)

			var serr *core.SwitchError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, badger.Name, serr.From)
			assert.Equal(t, target, serr.To)

			assert.Equal(t, PhaseActive, c.Phase())
			assert.Equal(t, badger.Name, c.Current())
			saved, _ := state.Load()
			assert.Equal(t, badger.Name, saved, "persisted choice is reverted")

			after, release, err := c.Acquire(ctx)
			require.NoError(t, err)
			assert.Same(t, before, after)
			_, err = after.GetDataset(ctx, "ds-keep")
			require.NoError(t, err, "previous adapter stays open")
			release()

			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.switches.WithLabelValues(badger.Name, target, "failed")))
		})
	}
}

func TestSwitch_StateSaveFailure(t *testing.T) {
	state := &config.MemoryState{}
	c, _ := startCoordinator(t, state, badger.Name)

	state.FailSave = errors.New("read-only file system")
	err := c.Switch(context.Background(), sqlite.Name)
	assert.ErrorIs(t, err, core.ErrSwitchFailure)
	assert.Equal(t, badger.Name, c.Current())
	assert.Equal(t, PhaseActive, c.Phase())
}

func TestSwitch_DrainsInflightOperations(t *testing.T) {
	ctx := context.Background()
	c, _ := startCoordinator(t, &config.MemoryState{}, badger.Name)

	_, release, err := c.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Switch(ctx, sqlite.Name) }()

	require.Eventually(t, func() bool { return c.Phase() == PhaseDraining }, 5*time.Second, 5*time.Millisecond)

	// New operations are turned away while the switch is pending.
	_, _, err = c.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBackendUnavailable)
	assert.False(t, core.IsRetryable(err))

	select {
	case err := <-done:
		t.Fatalf("switch finished before in-flight operation released: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("switch did not complete after release")
	}
	assert.Equal(t, sqlite.Name, c.Current())
}

func TestSwitch_DrainTimeoutAborts(t *testing.T) {
	c, _ := startCoordinator(t, &config.MemoryState{}, badger.Name)

	_, release, err := c.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Switch(ctx, sqlite.Name)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSwitchFailure)
	assert.Equal(t, badger.Name, c.Current())
	assert.Equal(t, PhaseActive, c.Phase())

	a, rel, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, badger.Name, a.Name())
	rel()
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	state := &config.MemoryState{}
	c, _ := startCoordinator(t, state, badger.Name)

	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, badger.Name, c.Current())

	require.NoError(t, state.Save(sqlite.Name))
	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, sqlite.Name, c.Current())

	require.NoError(t, state.Save("mongo"))
	require.NoError(t, c.Reconcile(ctx), "unknown names are ignored")
	assert.Equal(t, sqlite.Name, c.Current())
}

func TestClose(t *testing.T) {
	c := New(newTestFactory(t), &config.MemoryState{}, nil)
	require.NoError(t, c.Close(), "closing an unstarted coordinator is a no-op")
	require.NoError(t, c.Start(context.Background(), badger.Name))

	a, release, err := c.Acquire(context.Background())
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	require.Eventually(t, func() bool { return c.Phase() == PhaseIdle }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, a.Ping(context.Background()), "adapter stays open while in use")
	release()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
	assert.Empty(t, c.Current())
	assert.ErrorIs(t, a.Ping(context.Background()), core.ErrClosed)

	err = c.Switch(context.Background(), sqlite.Name)
	assert.ErrorIs(t, err, core.ErrSwitchFailure)
}
