package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

const datasetColumns = `id, name, row_count, column_count, columns_json, column_types_json,
	preview_json, storage_type, blob_id, training_count, last_trained_at, created_at, updated_at`

func scanDataset(s scanner, extra ...any) (*core.DatasetRecord, error) {
	var (
		rec         core.DatasetRecord
		storageType string
		blobID      sql.NullString
		lastTrained sql.NullInt64
		created     int64
		updated     int64
	)
	dest := []any{
		&rec.ID, &rec.Name, &rec.RowCount, &rec.ColumnCount, &rec.ColumnsJSON, &rec.ColumnTypesJSON,
		&rec.PreviewJSON, &storageType, &blobID, &rec.TrainingCount, &lastTrained, &created, &updated,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rec.StorageType = core.StorageType(storageType)
	rec.BlobID = blobID.String
	rec.LastTrainedAt = fromNullTime(lastTrained)
	rec.CreatedAt = core.FromUnixMicro(created)
	rec.UpdatedAt = core.FromUnixMicro(updated)
	return &rec, nil
}

// CreateDataset implements storage.DatasetStore. A referenced blob is
// claimed in the same transaction.
func (a *Adapter) CreateDataset(ctx context.Context, rec *core.DatasetRecord) error {
	const op = "dataset.create"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := a.checkInline(len(rec.Data)); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO datasets (`+datasetColumns+`, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Name, rec.RowCount, rec.ColumnCount, rec.ColumnsJSON, rec.ColumnTypesJSON,
			rec.PreviewJSON, string(rec.StorageType), nullString(rec.BlobID), rec.TrainingCount,
			nullTime(rec.LastTrainedAt), core.UnixMicro(rec.CreatedAt), core.UnixMicro(rec.UpdatedAt),
			nullBytes(rec.Data),
		)
		if err != nil {
			return err
		}
		if rec.BlobID != "" {
			return claimBlob(ctx, tx, rec.BlobID, core.Reference{Kind: core.KindDataset, ID: rec.ID})
		}
		return nil
	})
	return storage.Wrap(Name, op, err)
}

// GetDataset implements storage.DatasetStore.
func (a *Adapter) GetDataset(ctx context.Context, id string) (*core.DatasetRecord, error) {
	const op = "dataset.get"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var rec *core.DatasetRecord
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var data []byte
		var err error
		row := tx.QueryRowContext(ctx, `SELECT `+datasetColumns+`, data FROM datasets WHERE id = ?`, id)
		if rec, err = scanDataset(row, &data); err != nil {
			return err
		}
		rec.Data = data
		return nil
	})
	if core.KindOf(err) == core.ErrNotFound {
		return nil, storage.NotFound(Name, op, core.KindDataset, id)
	}
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	return rec, nil
}

// ListDatasets implements storage.DatasetStore.
func (a *Adapter) ListDatasets(ctx context.Context, opts storage.ListOptions) ([]*core.DatasetRecord, error) {
	const op = "dataset.list"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var results []*core.DatasetRecord
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+datasetColumns+` FROM datasets ORDER BY seq DESC LIMIT ?`, limit(opts.Limit))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanDataset(rows)
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

// UpdateDataset implements storage.DatasetStore. The replaced blob is
// deleted in the same transaction.
func (a *Adapter) UpdateDataset(ctx context.Context, rec *core.DatasetRecord) error {
	const op = "dataset.update"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := a.checkInline(len(rec.Data)); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var oldBlob sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT blob_id FROM datasets WHERE id = ?`, rec.ID).Scan(&oldBlob)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE datasets
			SET name = ?, row_count = ?, column_count = ?, columns_json = ?, column_types_json = ?,
			    preview_json = ?, storage_type = ?, data = ?, blob_id = ?, updated_at = ?
			WHERE id = ?`,
			rec.Name, rec.RowCount, rec.ColumnCount, rec.ColumnsJSON, rec.ColumnTypesJSON,
			rec.PreviewJSON, string(rec.StorageType), nullBytes(rec.Data), nullString(rec.BlobID),
			core.UnixMicro(rec.UpdatedAt), rec.ID,
		)
		if err != nil {
			return err
		}
		if rec.BlobID != "" && rec.BlobID != oldBlob.String {
			if err := claimBlob(ctx, tx, rec.BlobID, core.Reference{Kind: core.KindDataset, ID: rec.ID}); err != nil {
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

// RecordTraining implements storage.DatasetStore.
func (a *Adapter) RecordTraining(ctx context.Context, id string, at time.Time) error {
	const op = "dataset.record_training"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE datasets SET training_count = training_count + 1, last_trained_at = ?
			WHERE id = ?`, core.UnixMicro(at), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: dataset %s", core.ErrNotFound, id)
		}
		return nil
	})
	return storage.Wrap(Name, op, err)
}

// DeleteDataset issues the top-level delete only. Workspaces, training
// metadata, feedback and claimed blobs go with it through the schema's
// cascades.
func (a *Adapter) DeleteDataset(ctx context.Context, id string) error {
	const op = "dataset.delete"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			a.logger.Debug("dataset deleted", "dataset", id)
		}
		return nil
	})
	return storage.Wrap(Name, op, err)
}
