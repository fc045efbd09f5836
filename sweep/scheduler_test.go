package sweep_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage/badger"
	"github.com/poiesic/datavault/sweep"
)

func TestScheduler_EmptyScheduleIsNoop(t *testing.T) {
	s := sweep.NewScheduler(sweep.New(fixedSource{err: core.ErrBackendUnavailable}), "")
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.NextRun())
	s.Stop()
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := sweep.NewScheduler(sweep.New(fixedSource{err: core.ErrBackendUnavailable}), "every other tuesday")
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron schedule")
	assert.False(t, s.IsRunning())
}

func TestScheduler_RunsSweeps(t *testing.T) {
	a := openAdapters(t)[badger.Name]
	storeLooseBlob(t, a, "ds-crashed", core.Now().Add(-time.Hour))

	observer := &countingObserver{}
	sweeper := sweep.New(fixedSource{adapter: a}, sweep.WithGracePeriod(time.Minute), sweep.WithObserver(observer))
	s := sweep.NewScheduler(sweeper, "@every 1s")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	require.NotNil(t, s.NextRun())
	assert.Error(t, s.Start(ctx), "already running")

	require.Eventually(t, func() bool { return observer.get(core.KindBlob) == 1 }, 5*time.Second, 50*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestScheduler_StopsWithContext(t *testing.T) {
	s := sweep.NewScheduler(sweep.New(fixedSource{err: core.ErrBackendUnavailable}), "0 3 * * *")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.True(t, s.IsRunning())

	cancel()
	require.Eventually(t, func() bool { return !s.IsRunning() }, 5*time.Second, 10*time.Millisecond)
}
