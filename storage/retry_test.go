package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/datavault/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff_Success(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), func(context.Context) error {
		attempts++
		return nil
	}, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_RetriesConnectivity(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return core.NewStorageError("relational", "dataset.get", core.ErrConnectivity, errors.New("database is locked"))
		}
		return nil
	}, 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_NeverRetries(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "validation", err: &core.ValidationError{Field: "ID", Reason: "required"}},
		{name: "size", err: &core.SizeLimitError{Size: 2, Limit: 1}},
		{name: "constraint", err: core.ErrDuplicatePrediction},
		{name: "not found", err: core.ErrNotFound},
		{name: "switch in progress", err: core.ErrBackendUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := RetryWithBackoff(context.Background(), func(context.Context) error {
				attempts++
				return tt.err
			}, 5, time.Millisecond)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, attempts)
		})
	}
}

func TestRetryWithBackoff_AllAttemptsFail(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), func(context.Context) error {
		attempts++
		return core.ErrConflict
	}, 3, time.Millisecond)
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryWithBackoff(ctx, func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return core.ErrConflict
	}, 10, time.Millisecond)
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithBackoff_InvalidMaxAttempts(t *testing.T) {
	err := RetryWithBackoff(context.Background(), func(context.Context) error { return nil }, 0, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("document", "dataset.get", nil))

	err := Wrap("document", "dataset.get", context.DeadlineExceeded)
	assert.ErrorIs(t, err, core.ErrConnectivity)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = Wrap("document", "feedback.create", core.ErrDuplicatePrediction)
	var serr *core.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "document", serr.Backend)
	assert.ErrorIs(t, err, core.ErrConstraintViolation)

	again := Wrap("relational", "other", err)
	assert.Same(t, err, again)

	t.Run("unrecognised backend error gets a kind", func(t *testing.T) {
		cause := errors.New("Value with size 5243026 exceeded 1048576 limit")
		err := Wrap("document", "dataset.create", cause)
		require.NotNil(t, core.KindOf(err))
		assert.ErrorIs(t, err, core.ErrBackendFailure)
		assert.ErrorIs(t, err, core.ErrConnectivity)
		assert.ErrorIs(t, err, cause)
		assert.False(t, core.IsRetryable(err))
		assert.Equal(t, "connectivity", core.KindName(err))
		assert.NotContains(t, err.Error(), "<nil>")
	})

	err = NotFound("document", "dataset.get", core.KindDataset, "ds-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Contains(t, err.Error(), "dataset ds-1")
}
