package blobcodec

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/poiesic/datavault/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	random := make([]byte, 64<<10)
	_, err := rand.Read(random)
	require.NoError(t, err)

	tests := []struct {
		name           string
		compress       bool
		data           []byte
		wantCompressed bool
	}{
		{name: "repetitive compressed", compress: true, data: bytes.Repeat([]byte("a,b,c\n1,2,3\n"), 10000), wantCompressed: true},
		{name: "random stays raw", compress: true, data: random, wantCompressed: false},
		{name: "compression disabled", compress: false, data: bytes.Repeat([]byte("x"), 4096), wantCompressed: false},
		{name: "empty", compress: true, data: []byte{}, wantCompressed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.compress)
			require.NoError(t, err)
			defer c.Close()

			rec := &core.BlobRecord{ID: "blob-1"}
			stored := c.Encode(rec, tt.data)
			assert.Equal(t, tt.wantCompressed, rec.Compressed)
			assert.Equal(t, int64(len(tt.data)), rec.OriginalSize)
			assert.Equal(t, int64(len(stored)), rec.Size)
			assert.Len(t, rec.Digest, 64)
			if tt.wantCompressed {
				assert.Less(t, len(stored), len(tt.data))
			}

			got, err := c.Decode(rec, stored)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.data, got))
		})
	}
}

func TestCodec_DetectsCorruption(t *testing.T) {
	c, err := New(false)
	require.NoError(t, err)
	defer c.Close()

	data := []byte("species,sepal\nsetosa,5.1\n")
	rec := &core.BlobRecord{ID: "blob-1"}
	stored := c.Encode(rec, data)

	_, err = c.Decode(rec, stored[:len(stored)-1])
	assert.ErrorIs(t, err, core.ErrBlobCorrupted)

	tampered := bytes.Clone(stored)
	tampered[0] ^= 0xff
	_, err = c.Decode(rec, tampered)
	assert.ErrorIs(t, err, core.ErrBlobCorrupted)
	assert.ErrorIs(t, err, core.ErrConstraintViolation)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, Digest([]byte("abc")), Digest([]byte("abc")))
	assert.NotEqual(t, Digest([]byte("abc")), Digest([]byte("abd")))
}
