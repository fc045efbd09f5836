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

// Package blobcodec prepares blob payloads for storage and verifies them on
// the way back.
//
// Payloads are optionally zstd-compressed; compression is skipped when it
// does not shrink the payload. Every payload carries a BLAKE2b-256 digest of
// its original bytes, checked on every decode.
package blobcodec

import (
	"encoding/hex"
	"fmt"

	"github.com/go-crypt/x/blake2b"
	"github.com/klauspost/compress/zstd"
	"github.com/poiesic/datavault/core"
)

// Codec encodes and decodes blob payloads. It is safe for concurrent use.
type Codec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// New creates a Codec. When compress is false payloads are stored as-is.
func New(compress bool) (*Codec, error) {
	c := &Codec{compress: compress}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	c.dec = dec
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		c.enc = enc
	}
	return c, nil
}

// Close releases the codec's zstd state.
func (c *Codec) Close() {
	if c.enc != nil {
		c.enc.Close()
	}
	c.dec.Close()
}

// Encode fills the size, compression and digest fields of rec and returns
// the bytes to store.
func (c *Codec) Encode(rec *core.BlobRecord, data []byte) []byte {
	rec.OriginalSize = int64(len(data))
	rec.Digest = Digest(data)
	rec.Compressed = false
	stored := data
	if c.compress && len(data) > 0 {
		if packed := c.enc.EncodeAll(data, make([]byte, 0, len(data)/2)); len(packed) < len(data) {
			stored = packed
			rec.Compressed = true
		}
	}
	rec.Size = int64(len(stored))
	return stored
}

// Decode reverses Encode. Any mismatch between rec and the stored bytes
// fails with core.ErrBlobCorrupted.
func (c *Codec) Decode(rec *core.BlobRecord, stored []byte) ([]byte, error) {
	if int64(len(stored)) != rec.Size {
		return nil, fmt.Errorf("%w: blob %s: stored %d bytes, expected %d", core.ErrBlobCorrupted, rec.ID, len(stored), rec.Size)
	}
	data := stored
	if rec.Compressed {
		var err error
		data, err = c.dec.DecodeAll(stored, make([]byte, 0, rec.OriginalSize))
		if err != nil {
			return nil, fmt.Errorf("%w: blob %s: %v", core.ErrBlobCorrupted, rec.ID, err)
		}
	}
	if int64(len(data)) != rec.OriginalSize {
		return nil, fmt.Errorf("%w: blob %s: decoded %d bytes, expected %d", core.ErrBlobCorrupted, rec.ID, len(data), rec.OriginalSize)
	}
	if rec.Digest != "" && Digest(data) != rec.Digest {
		return nil, fmt.Errorf("%w: blob %s: digest mismatch", core.ErrBlobCorrupted, rec.ID)
	}
	return data, nil
}

// Digest returns the hex BLAKE2b-256 digest of data.
func Digest(data []byte) string {
	h, _ := blake2b.New(32, nil)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
