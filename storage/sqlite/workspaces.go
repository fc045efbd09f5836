package sqlite

import (
	"context"
	"database/sql"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

const workspaceColumns = `id, dataset_id, name, storage_type, blob_id, created_at, updated_at`

func scanWorkspace(s scanner, extra ...any) (*core.WorkspaceRecord, error) {
	var (
		rec         core.WorkspaceRecord
		storageType string
		blobID      sql.NullString
		created     int64
		updated     int64
	)
	dest := []any{&rec.ID, &rec.DatasetID, &rec.Name, &storageType, &blobID, &created, &updated}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rec.StorageType = core.StorageType(storageType)
	rec.BlobID = blobID.String
	rec.CreatedAt = core.FromUnixMicro(created)
	rec.UpdatedAt = core.FromUnixMicro(updated)
	return &rec, nil
}

// CreateWorkspace implements storage.WorkspaceStore.
func (a *Adapter) CreateWorkspace(ctx context.Context, rec *core.WorkspaceRecord) error {
	const op = "workspace.create"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := a.checkInline(len(rec.State)); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workspaces (`+workspaceColumns+`, state)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.DatasetID, rec.Name, string(rec.StorageType), nullString(rec.BlobID),
			core.UnixMicro(rec.CreatedAt), core.UnixMicro(rec.UpdatedAt), nullBytes(rec.State),
		)
		if err != nil {
			return err
		}
		if rec.BlobID != "" {
			return claimBlob(ctx, tx, rec.BlobID, core.Reference{Kind: core.KindWorkspace, ID: rec.ID})
		}
		return nil
	})
	return storage.Wrap(Name, op, err)
}

// GetWorkspace implements storage.WorkspaceStore.
func (a *Adapter) GetWorkspace(ctx context.Context, id string) (*core.WorkspaceRecord, error) {
	const op = "workspace.get"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var rec *core.WorkspaceRecord
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var state []byte
		var err error
		row := tx.QueryRowContext(ctx, `SELECT `+workspaceColumns+`, state FROM workspaces WHERE id = ?`, id)
		if rec, err = scanWorkspace(row, &state); err != nil {
			return err
		}
		rec.State = state
		return nil
	})
	if core.KindOf(err) == core.ErrNotFound {
		return nil, storage.NotFound(Name, op, core.KindWorkspace, id)
	}
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	return rec, nil
}

// ListWorkspaces implements storage.WorkspaceStore.
func (a *Adapter) ListWorkspaces(ctx context.Context, opts storage.ListOptions) ([]*core.WorkspaceRecord, error) {
	const op = "workspace.list"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var results []*core.WorkspaceRecord
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+workspaceColumns+` FROM workspaces
			WHERE ? = '' OR dataset_id = ?
			ORDER BY seq DESC LIMIT ?`,
			opts.DatasetID, opts.DatasetID, limit(opts.Limit))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanWorkspace(rows)
			if err != nil {
				return err
			}
			results = append(results, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	return results, nil
}

// UpdateWorkspace implements storage.WorkspaceStore.
func (a *Adapter) UpdateWorkspace(ctx context.Context, rec *core.WorkspaceRecord) error {
	const op = "workspace.update"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := a.checkInline(len(rec.State)); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var oldBlob sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT blob_id FROM workspaces WHERE id = ?`, rec.ID).Scan(&oldBlob)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE workspaces
			SET name = ?, storage_type = ?, state = ?, blob_id = ?, updated_at = ?
			WHERE id = ?`,
			rec.Name, string(rec.StorageType), nullBytes(rec.State), nullString(rec.BlobID),
			core.UnixMicro(rec.UpdatedAt), rec.ID,
		)
		if err != nil {
			return err
		}
		if rec.BlobID != "" && rec.BlobID != oldBlob.String {
			if err := claimBlob(ctx, tx, rec.BlobID, core.Reference{Kind: core.KindWorkspace, ID: rec.ID}); err != nil {
				return err
			}
		}
		if oldBlob.Valid && oldBlob.String != rec.BlobID {
			_, err = tx.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, oldBlob.String)
		}
		return err
	})
	return storage.Wrap(Name, op, err)
}

// DeleteWorkspace implements storage.WorkspaceStore. Its claimed blob goes
// with it through the schema's cascade.
func (a *Adapter) DeleteWorkspace(ctx context.Context, id string) error {
	const op = "workspace.delete"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
		return err
	})
	return storage.Wrap(Name, op, err)
}
