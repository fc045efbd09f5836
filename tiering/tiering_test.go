package tiering

import (
	"testing"

	"github.com/poiesic/datavault/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	limits := Limits{MaxInlineBytes: 8 << 20, MaxBlobBytes: 64 << 20}
	policy := NewPolicy(0)

	tests := []struct {
		name    string
		size    int64
		want    core.StorageType
		wantErr error
	}{
		{name: "empty", size: 0, want: core.StorageDirect},
		{name: "2KB preview", size: 2 << 10, want: core.StorageDirect},
		{name: "one below threshold", size: DefaultThreshold - 1, want: core.StorageDirect},
		{name: "exactly at threshold", size: DefaultThreshold, want: core.StorageBlob},
		{name: "20MB dump", size: 20 << 20, want: core.StorageBlob},
		{name: "at absolute ceiling", size: 64 << 20, want: core.StorageBlob},
		{name: "above absolute ceiling", size: 64<<20 + 1, wantErr: core.ErrSizeLimitExceeded},
		{name: "negative", size: -1, wantErr: core.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Decide(tt.size, limits)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide_InlineCeilingBelowThreshold(t *testing.T) {
	limits := Limits{MaxInlineBytes: 1 << 20, MaxBlobBytes: 64 << 20}
	policy := NewPolicy(10 << 20)

	got, err := policy.Decide(1<<20, limits)
	require.NoError(t, err)
	assert.Equal(t, core.StorageDirect, got)

	got, err = policy.Decide(1<<20+1, limits)
	require.NoError(t, err)
	assert.Equal(t, core.StorageBlob, got)

	assert.Equal(t, int64(1<<20+1), policy.EffectiveThreshold(limits))
}

func TestDecide_SizeLimitDetail(t *testing.T) {
	_, err := NewPolicy(0).Decide(101, Limits{MaxInlineBytes: 10, MaxBlobBytes: 100})
	var serr *core.SizeLimitError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, int64(101), serr.Size)
	assert.Equal(t, int64(100), serr.Limit)
}

func TestLimitsValidate(t *testing.T) {
	assert.NoError(t, Limits{MaxInlineBytes: 1, MaxBlobBytes: 1}.Validate())
	assert.Error(t, Limits{}.Validate())
	assert.Error(t, Limits{MaxInlineBytes: 10, MaxBlobBytes: 5}.Validate())
}
