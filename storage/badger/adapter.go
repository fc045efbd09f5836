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

package badger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
	"github.com/poiesic/datavault/tiering"
)

// Name is the configuration name of the document backend.
const Name = "document"

const (
	// DefaultChunkSize keeps each chunk comfortably below badger's value
	// threshold defaults.
	DefaultChunkSize = 255 << 10
	// DefaultMaxInlineBytes stays under badger's default transaction ceiling.
	DefaultMaxInlineBytes int64 = 8 << 20
	// DefaultMaxBlobBytes is the largest blob accepted.
	DefaultMaxBlobBytes int64 = 1 << 30

	// MemoryValueCeiling is the largest value badger accepts when running
	// in memory.
	MemoryValueCeiling int64 = 1 << 20
	// MemoryMaxInlineBytes caps inline payloads in memory mode, leaving room
	// for the rest of the encoded record.
	MemoryMaxInlineBytes = MemoryValueCeiling - 64<<10
)

// Options configure the document adapter.
type Options struct {
	Path           string
	InMemory       bool
	ChunkSize      int
	MaxInlineBytes int64
	MaxBlobBytes   int64
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxInlineBytes <= 0 {
		o.MaxInlineBytes = DefaultMaxInlineBytes
	}
	if o.MaxBlobBytes <= 0 {
		o.MaxBlobBytes = DefaultMaxBlobBytes
	}
	return o
}

// Adapter implements storage.Adapter on BadgerDB.
type Adapter struct {
	backend   *Backend
	seq       *badger.Sequence
	seqMu     sync.Mutex
	chunkSize int
	limits    tiering.Limits
	maxValue  int64 // Zero when badger imposes no value ceiling of its own
	closed    atomic.Bool
	logger    *slog.Logger
}

var _ storage.Adapter = (*Adapter)(nil)

// Open opens a document adapter. In memory mode inline payloads and chunks
// are capped below MemoryValueCeiling, so larger payloads tier to blobs.
func Open(opts Options) (*Adapter, error) {
	opts = opts.withDefaults()
	limits := tiering.Limits{MaxInlineBytes: opts.MaxInlineBytes, MaxBlobBytes: opts.MaxBlobBytes}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	var maxValue int64
	if opts.InMemory {
		maxValue = MemoryValueCeiling
		limits.MaxInlineBytes = min(limits.MaxInlineBytes, MemoryMaxInlineBytes)
		opts.ChunkSize = int(min(int64(opts.ChunkSize), MemoryMaxInlineBytes))
	}
	if !opts.InMemory && opts.Path == "" {
		return nil, fmt.Errorf("document store path is required unless running in memory")
	}
	backend, err := OpenBackend(opts.Path, opts.InMemory)
	if err != nil {
		return nil, storage.Wrap(Name, "open", fmt.Errorf("%w: %w", core.ErrConnectivity, err))
	}
	seq, err := backend.GetSequence(recordSeq)
	if err != nil {
		backend.Close()
		return nil, storage.Wrap(Name, "open", err)
	}
	return &Adapter{
		backend:   backend,
		seq:       seq,
		chunkSize: opts.ChunkSize,
		limits:    limits,
		maxValue:  maxValue,
		logger:    slog.Default().With("component", "document-adapter"),
	}, nil
}

// Name implements storage.Adapter.
func (a *Adapter) Name() string { return Name }

// Limits implements storage.Adapter.
func (a *Adapter) Limits() tiering.Limits { return a.limits }

// Ping implements storage.Adapter.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, "ping", err)
	}
	err := a.backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get([]byte(recordSeq))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	}, false)
	if err != nil {
		return storage.Wrap(Name, "ping", fmt.Errorf("%w: %w", core.ErrConnectivity, err))
	}
	return nil
}

// Close releases the sequence and closes the database.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := a.seq.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := a.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing document store: %v", errs)
	}
	return nil
}

// begin checks that the operation may start.
func (a *Adapter) begin(ctx context.Context) error {
	if a.closed.Load() || a.backend.IsClosed() {
		return core.ErrClosed
	}
	return ctx.Err()
}

// nextSeq returns the next insertion sequence. Badger sequences may hand out
// 0 first, so it is skipped.
func (a *Adapter) nextSeq() (uint64, error) {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()
	next, err := a.seq.Next()
	if err != nil {
		return 0, err
	}
	if next == 0 {
		return a.seq.Next()
	}
	return next, nil
}

// update runs fn in a read-write transaction and commits it.
func (a *Adapter) update(fn func(tx *badger.Txn) error) error {
	return classify(a.backend.WithTx(func(tx *badger.Txn) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	}, true))
}

// view runs fn in a read-only transaction.
func (a *Adapter) view(fn func(tx *badger.Txn) error) error {
	return classify(a.backend.WithTx(fn, false))
}

// getValue reads key and decodes it with decode. A missing key yields
// found == false and no error.
func getValue[T any](tx *badger.Txn, key []byte, decode func([]byte) (T, error)) (v T, found bool, err error) {
	item, err := tx.Get(key)
	if err == badger.ErrKeyNotFound {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	err = item.Value(func(val []byte) error {
		v, err = decode(val)
		return err
	})
	return v, err == nil, err
}

func exists(tx *badger.Txn, key []byte) (bool, error) {
	_, err := tx.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// scanIndex walks an index prefix newest first and returns the referenced ids.
func scanIndex(tx *badger.Txn, prefix []byte, limit int) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var ids []string
	for iter.Seek(seekLast(prefix)); iter.ValidForPrefix(prefix); iter.Next() {
		if limit > 0 && len(ids) >= limit {
			break
		}
		var id string
		if err := iter.Item().Value(func(val []byte) error {
			var err error
			id, err = unmarshalID(val)
			return err
		}); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// checkInline rejects inline payloads above the inline ceiling.
func (a *Adapter) checkInline(n int) error {
	if int64(n) > a.limits.MaxInlineBytes {
		return &core.SizeLimitError{Size: int64(n), Limit: a.limits.MaxInlineBytes}
	}
	return nil
}

// checkValue rejects an encoded record badger would refuse to store.
func (a *Adapter) checkValue(value []byte) error {
	if a.maxValue > 0 && int64(len(value)) > a.maxValue {
		return &core.SizeLimitError{Size: int64(len(value)), Limit: a.maxValue}
	}
	return nil
}

// checkBlobRef verifies that blobID names a stored blob owned by owner.
func checkBlobRef(tx *badger.Txn, blobID string, owner core.Reference) error {
	meta, found, err := getValue(tx, makeKey(blobPrefix, blobID), unmarshalBlob)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: blob %s", core.ErrMissingReference, blobID)
	}
	if meta.OwnerKind != owner.Kind || meta.OwnerID != owner.ID {
		return fmt.Errorf("%w: blob %s is owned by %s %s", core.ErrConstraintViolation, blobID, meta.OwnerKind, meta.OwnerID)
	}
	return nil
}

func checkDataset(tx *badger.Txn, datasetID string) error {
	ok, err := exists(tx, makeKey(datasetPrefix, datasetID))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: dataset %s", core.ErrMissingReference, datasetID)
	}
	return nil
}

// checkTier enforces that exactly one of inline payload and blob reference
// is populated.
func checkTier(storageType core.StorageType, inline int, blobID string) error {
	switch storageType {
	case core.StorageDirect:
		if blobID != "" {
			return fmt.Errorf("%w: direct record references blob %s", core.ErrConstraintViolation, blobID)
		}
	case core.StorageBlob:
		if inline > 0 || blobID == "" {
			return fmt.Errorf("%w: blob record must reference a blob and carry no inline payload", core.ErrConstraintViolation)
		}
	default:
		return fmt.Errorf("%w: unknown storage type %q", core.ErrConstraintViolation, storageType)
	}
	return nil
}
