package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

const trainingColumns = `id, dataset_id, model_id, problem_type, target_column, feature_columns_json,
	metrics_json, hyperparameters_json, duration_seconds, trained_at, created_at`

func scanTraining(s scanner) (*core.TrainingRecord, error) {
	var (
		rec     core.TrainingRecord
		trained int64
		created int64
	)
	err := s.Scan(&rec.ID, &rec.DatasetID, &rec.ModelID, &rec.ProblemType, &rec.TargetColumn,
		&rec.FeatureColumnsJSON, &rec.MetricsJSON, &rec.HyperparametersJSON, &rec.DurationSeconds,
		&trained, &created)
	if err != nil {
		return nil, err
	}
	rec.TrainedAt = core.FromUnixMicro(trained)
	rec.CreatedAt = core.FromUnixMicro(created)
	return &rec, nil
}

// CreateTraining implements storage.TrainingStore.
func (a *Adapter) CreateTraining(ctx context.Context, rec *core.TrainingRecord) error {
	const op = "training.create"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO training_metadata (`+trainingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.DatasetID, rec.ModelID, rec.ProblemType, rec.TargetColumn,
			rec.FeatureColumnsJSON, rec.MetricsJSON, rec.HyperparametersJSON, rec.DurationSeconds,
			core.UnixMicro(rec.TrainedAt), core.UnixMicro(rec.CreatedAt),
		)
		return err
	})
	return storage.Wrap(Name, op, err)
}

// GetTraining implements storage.TrainingStore.
func (a *Adapter) GetTraining(ctx context.Context, id string) (*core.TrainingRecord, error) {
	const op = "training.get"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var rec *core.TrainingRecord
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = scanTraining(tx.QueryRowContext(ctx,
			`SELECT `+trainingColumns+` FROM training_metadata WHERE id = ?`, id))
		return err
	})
	if core.KindOf(err) == core.ErrNotFound {
		return nil, storage.NotFound(Name, op, core.KindTrainingMetadata, id)
	}
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	return rec, nil
}

// ListTraining implements storage.TrainingStore.
func (a *Adapter) ListTraining(ctx context.Context, opts storage.ListOptions) ([]*core.TrainingRecord, error) {
	const op = "training.list"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var results []*core.TrainingRecord
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+trainingColumns+` FROM training_metadata
			WHERE ? = '' OR dataset_id = ?
			ORDER BY seq DESC LIMIT ?`,
			opts.DatasetID, opts.DatasetID, limit(opts.Limit))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanTraining(rows)
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

// UpdateTraining implements storage.TrainingStore. DatasetID and CreatedAt
// are kept.
func (a *Adapter) UpdateTraining(ctx context.Context, rec *core.TrainingRecord) error {
	const op = "training.update"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE training_metadata
			SET model_id = ?, problem_type = ?, target_column = ?, feature_columns_json = ?,
			    metrics_json = ?, hyperparameters_json = ?, duration_seconds = ?, trained_at = ?
			WHERE id = ?`,
			rec.ModelID, rec.ProblemType, rec.TargetColumn, rec.FeatureColumnsJSON,
			rec.MetricsJSON, rec.HyperparametersJSON, rec.DurationSeconds, core.UnixMicro(rec.TrainedAt),
			rec.ID,
		)
		if err != nil {
			return err
		}
		return requireRow(res, "training metadata", rec.ID)
	})
	return storage.Wrap(Name, op, err)
}

// DeleteTraining implements storage.TrainingStore.
func (a *Adapter) DeleteTraining(ctx context.Context, id string) error {
	const op = "training.delete"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM training_metadata WHERE id = ?`, id)
		return err
	})
	return storage.Wrap(Name, op, err)
}

// requireRow fails with core.ErrNotFound when res touched no row.
func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", core.ErrNotFound, what, id)
	}
	return nil
}
