package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

const blobColumns = `id, owner_kind, owner_id, size, compressed, original_size, content_type, digest, created_at`

func scanBlob(s scanner, extra ...any) (*core.BlobRecord, error) {
	var (
		rec        core.BlobRecord
		ownerKind  string
		compressed int
		created    int64
	)
	dest := []any{&rec.ID, &ownerKind, &rec.OwnerID, &rec.Size, &compressed, &rec.OriginalSize,
		&rec.ContentType, &rec.Digest, &created}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rec.OwnerKind = core.EntityKind(ownerKind)
	rec.Compressed = compressed != 0
	rec.CreatedAt = core.FromUnixMicro(created)
	return &rec, nil
}

// StoreBlob writes the blob in a single row. The row is unclaimed until its
// owner record references it.
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
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO blobs (`+blobColumns+`, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, string(rec.OwnerKind), rec.OwnerID, rec.Size, boolInt(rec.Compressed), rec.OriginalSize,
			rec.ContentType, rec.Digest, core.UnixMicro(rec.CreatedAt), nullBytes(data),
		)
		return err
	})
	return storage.Wrap(Name, op, err)
}

// RetrieveBlob implements storage.BlobStore.
func (a *Adapter) RetrieveBlob(ctx context.Context, id string) (*core.BlobRecord, []byte, error) {
	const op = "blob.retrieve"
	if err := a.begin(ctx); err != nil {
		return nil, nil, storage.Wrap(Name, op, err)
	}
	var rec *core.BlobRecord
	var data []byte
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		row := tx.QueryRowContext(ctx, `SELECT `+blobColumns+`, data FROM blobs WHERE id = ?`, id)
		rec, err = scanBlob(row, &data)
		return err
	})
	if core.KindOf(err) == core.ErrNotFound {
		return nil, nil, storage.NotFound(Name, op, core.KindBlob, id)
	}
	if err != nil {
		return nil, nil, storage.Wrap(Name, op, err)
	}
	if int64(len(data)) != rec.Size {
		return nil, nil, storage.Wrap(Name, op,
			fmt.Errorf("%w: blob %s: read %d of %d bytes", core.ErrBlobCorrupted, id, len(data), rec.Size))
	}
	return rec, data, nil
}

// GetBlobInfo implements storage.BlobStore.
func (a *Adapter) GetBlobInfo(ctx context.Context, id string) (*core.BlobRecord, error) {
	const op = "blob.info"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var rec *core.BlobRecord
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = scanBlob(tx.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE id = ?`, id))
		return err
	})
	if core.KindOf(err) == core.ErrNotFound {
		return nil, storage.NotFound(Name, op, core.KindBlob, id)
	}
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	return rec, nil
}

// DeleteBlob implements storage.BlobStore. A claimed blob is still
// referenced by its owner and is refused.
func (a *Adapter) DeleteBlob(ctx context.Context, id string) error {
	const op = "blob.delete"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var claimed int
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM datasets WHERE blob_id = ?)
			    OR EXISTS (SELECT 1 FROM workspaces WHERE blob_id = ?)`, id, id).Scan(&claimed)
		if err != nil {
			return err
		}
		if claimed != 0 {
			return fmt.Errorf("%w: blob %s", core.ErrBlobInUse, id)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id)
		return err
	})
	return storage.Wrap(Name, op, err)
}
