package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// chunksPerCheck is how many chunks are written between context checks.
const chunksPerCheck = 32

// StoreBlob writes data as ordered chunks. A pending marker is committed
// first, then the chunks through a write batch, and only after the batch
// has flushed is the metadata record written. Interrupted writes leave a
// pending marker that FindOrphans reports.
func (a *Adapter) StoreBlob(ctx context.Context, rec *core.BlobRecord, data []byte) error {
	const op = "blob.store"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if int64(len(data)) > a.limits.MaxBlobBytes {
		return storage.Wrap(Name, op, &core.SizeLimitError{Size: int64(len(data)), Limit: a.limits.MaxBlobBytes})
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = core.Now()
	}
	rec.Size = int64(len(data))
	rec.ChunkCount = (len(data) + a.chunkSize - 1) / a.chunkSize

	err := a.update(func(tx *badger.Txn) error {
		for _, key := range [][]byte{makeKey(blobPrefix, rec.ID), makeKey(blobPendingPrefix, rec.ID)} {
			taken, err := exists(tx, key)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: blob %s", core.ErrDuplicateKey, rec.ID)
			}
		}
		return tx.Set(makeKey(blobPendingPrefix, rec.ID), marshalTime(core.UnixMicro(rec.CreatedAt)))
	})
	if err != nil {
		return storage.Wrap(Name, op, err)
	}

	if err := a.writeChunks(ctx, rec, data); err != nil {
		a.abandon(rec.ID, err)
		return storage.Wrap(Name, op, err)
	}

	err = a.update(func(tx *badger.Txn) error {
		if err := tx.Set(makeKey(blobPrefix, rec.ID), marshalBlob(rec)); err != nil {
			return err
		}
		return tx.Delete(makeKey(blobPendingPrefix, rec.ID))
	})
	if err != nil {
		a.abandon(rec.ID, err)
		return storage.Wrap(Name, op, err)
	}
	return nil
}

func (a *Adapter) writeChunks(ctx context.Context, rec *core.BlobRecord, data []byte) error {
	wb := a.backend.NewWriteBatch()
	defer wb.Cancel()
	for i := 0; i < rec.ChunkCount; i++ {
		if i%chunksPerCheck == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		lo := i * a.chunkSize
		hi := min(lo+a.chunkSize, len(data))
		if err := wb.Set(makeChunkKey(rec.ID, uint32(i)), data[lo:hi]); err != nil {
			return classify(err)
		}
	}
	return classify(wb.Flush())
}

// abandon removes whatever a failed StoreBlob left behind. Failures here are
// left for the orphan sweeper.
func (a *Adapter) abandon(id string, cause error) {
	if err := a.deleteBlobData(context.Background(), id); err != nil {
		a.logger.Warn("failed to clean up interrupted blob write", "blob", id, "cause", cause, "error", err)
	}
}

// RetrieveBlob reassembles a blob from its chunks, failing on any missing,
// out-of-order or mis-sized chunk data.
func (a *Adapter) RetrieveBlob(ctx context.Context, id string) (*core.BlobRecord, []byte, error) {
	const op = "blob.retrieve"
	if err := a.begin(ctx); err != nil {
		return nil, nil, storage.Wrap(Name, op, err)
	}
	var meta *core.BlobRecord
	var data []byte
	var found bool
	err := a.view(func(tx *badger.Txn) error {
		var err error
		meta, found, err = getValue(tx, makeKey(blobPrefix, id), unmarshalBlob)
		if err != nil || !found {
			return err
		}
		data, err = readChunks(tx, meta)
		return err
	})
	if err != nil {
		return nil, nil, storage.Wrap(Name, op, err)
	}
	if !found {
		return nil, nil, storage.NotFound(Name, op, core.KindBlob, id)
	}
	return meta, data, nil
}

func readChunks(tx *badger.Txn, meta *core.BlobRecord) ([]byte, error) {
	prefix := makeChunkPrefix(meta.ID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	data := make([]byte, 0, meta.Size)
	expected := uint32(0)
	for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
		item := iter.Item()
		seq, ok := chunkSeq(item.Key()[len(prefix):])
		if !ok || seq != expected {
			return nil, fmt.Errorf("%w: blob %s: expected chunk %d, found %d", core.ErrBlobCorrupted, meta.ID, expected, seq)
		}
		if err := item.Value(func(val []byte) error {
			data = append(data, val...)
			return nil
		}); err != nil {
			return nil, err
		}
		expected++
	}
	if int(expected) != meta.ChunkCount {
		return nil, fmt.Errorf("%w: blob %s: found %d of %d chunks", core.ErrBlobCorrupted, meta.ID, expected, meta.ChunkCount)
	}
	if int64(len(data)) != meta.Size {
		return nil, fmt.Errorf("%w: blob %s: read %d of %d bytes", core.ErrBlobCorrupted, meta.ID, len(data), meta.Size)
	}
	return data, nil
}

// GetBlobInfo implements storage.BlobStore.
func (a *Adapter) GetBlobInfo(ctx context.Context, id string) (*core.BlobRecord, error) {
	const op = "blob.info"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var meta *core.BlobRecord
	var found bool
	err := a.view(func(tx *badger.Txn) error {
		var err error
		meta, found, err = getValue(tx, makeKey(blobPrefix, id), unmarshalBlob)
		return err
	})
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	if !found {
		return nil, storage.NotFound(Name, op, core.KindBlob, id)
	}
	return meta, nil
}

// DeleteBlob implements storage.BlobStore.
func (a *Adapter) DeleteBlob(ctx context.Context, id string) error {
	const op = "blob.delete"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.view(func(tx *badger.Txn) error {
		meta, found, err := getValue(tx, makeKey(blobPrefix, id), unmarshalBlob)
		if err != nil || !found {
			return err
		}
		inUse, err := ownerReferences(tx, meta)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%w: blob %s, %s %s", core.ErrBlobInUse, id, meta.OwnerKind, meta.OwnerID)
		}
		return nil
	})
	if err != nil {
		return storage.Wrap(Name, op, err)
	}
	return storage.Wrap(Name, op, a.deleteBlobData(ctx, id))
}

// ownerReferences reports whether the blob's owner still points at it.
func ownerReferences(tx *badger.Txn, meta *core.BlobRecord) (bool, error) {
	switch meta.OwnerKind {
	case core.KindDataset:
		doc, found, err := getValue(tx, makeKey(datasetPrefix, meta.OwnerID), unmarshalDataset)
		return found && doc.rec.BlobID == meta.ID, err
	case core.KindWorkspace:
		doc, found, err := getValue(tx, makeKey(workspacePrefix, meta.OwnerID), unmarshalWorkspace)
		return found && doc.rec.BlobID == meta.ID, err
	default:
		return false, nil
	}
}

// deleteBlobData removes chunks first, then the metadata and any pending
// marker, so metadata never outlives its chunks unnoticed.
func (a *Adapter) deleteBlobData(ctx context.Context, id string) error {
	var keys [][]byte
	err := a.view(func(tx *badger.Txn) error {
		prefix := makeChunkPrefix(id)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		wb := a.backend.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range keys {
			if err := wb.Delete(key); err != nil {
				return classify(err)
			}
		}
		if err := wb.Flush(); err != nil {
			return classify(err)
		}
	}
	return a.update(func(tx *badger.Txn) error {
		if err := tx.Delete(makeKey(blobPrefix, id)); err != nil {
			return err
		}
		return tx.Delete(makeKey(blobPendingPrefix, id))
	})
}
