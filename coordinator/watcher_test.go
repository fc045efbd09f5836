package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/datavault/config"
	"github.com/poiesic/datavault/storage/badger"
	"github.com/poiesic/datavault/storage/sqlite"
)

func runWatcher(t *testing.T, c *Coordinator, path string) {
	t.Helper()
	w, err := NewWatcher(c, path, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestWatcher_AppliesExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	c, _ := startCoordinator(t, config.NewFileState(path), badger.Name)
	runWatcher(t, c, path)

	require.NoError(t, os.WriteFile(path, []byte("backend: relational\n"), 0644))
	require.Eventually(t, func() bool { return c.Current() == sqlite.Name }, 5*time.Second, 10*time.Millisecond)

	// Replacing the file the way editors do is noticed too.
	require.NoError(t, config.NewFileState(path).Save(badger.Name))
	require.Eventually(t, func() bool { return c.Current() == badger.Name }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresInvalidAndUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	c, _ := startCoordinator(t, config.NewFileState(path), badger.Name)
	runWatcher(t, c, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("backend: relational\n"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("backend: mongo\n"), 0644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, badger.Name, c.Current())
	assert.Equal(t, PhaseActive, c.Phase())
}

func TestWatcher_APISwitchIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	state := config.NewFileState(path)
	c, metrics := startCoordinator(t, state, badger.Name)
	runWatcher(t, c, path)

	require.NoError(t, c.Switch(context.Background(), sqlite.Name))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, sqlite.Name, c.Current())
	saved, err := state.Load()
	require.NoError(t, err)
	assert.Equal(t, sqlite.Name, saved)

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.switches), "no switch back was attempted")
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	c := New(NewFactory(), &config.MemoryState{}, nil)
	_, err := NewWatcher(c, filepath.Join(t.TempDir(), "absent", "state.yaml"), 0)
	assert.Error(t, err)
}
