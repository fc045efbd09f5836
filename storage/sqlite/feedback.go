package sqlite

import (
	"context"
	"database/sql"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

const feedbackColumns = `id, prediction_id, dataset_id, model_id, is_correct, predicted_json,
	actual_json, comment, created_at`

func scanFeedback(s scanner) (*core.FeedbackRecord, error) {
	var (
		rec     core.FeedbackRecord
		correct int
		created int64
	)
	err := s.Scan(&rec.ID, &rec.PredictionID, &rec.DatasetID, &rec.ModelID, &correct,
		&rec.PredictedJSON, &rec.ActualJSON, &rec.Comment, &created)
	if err != nil {
		return nil, err
	}
	rec.IsCorrect = correct != 0
	rec.CreatedAt = core.FromUnixMicro(created)
	return &rec, nil
}

// CreateFeedback implements storage.FeedbackStore. Prediction id
// uniqueness is enforced by a unique index.
func (a *Adapter) CreateFeedback(ctx context.Context, rec *core.FeedbackRecord) error {
	const op = "feedback.create"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feedback (`+feedbackColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.PredictionID, rec.DatasetID, rec.ModelID, boolInt(rec.IsCorrect),
			rec.PredictedJSON, rec.ActualJSON, rec.Comment, core.UnixMicro(rec.CreatedAt),
		)
		return err
	})
	return storage.Wrap(Name, op, err)
}

// GetFeedback implements storage.FeedbackStore.
func (a *Adapter) GetFeedback(ctx context.Context, id string) (*core.FeedbackRecord, error) {
	const op = "feedback.get"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var rec *core.FeedbackRecord
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = scanFeedback(tx.QueryRowContext(ctx,
			`SELECT `+feedbackColumns+` FROM feedback WHERE id = ?`, id))
		return err
	})
	if core.KindOf(err) == core.ErrNotFound {
		return nil, storage.NotFound(Name, op, core.KindFeedback, id)
	}
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	return rec, nil
}

// ListFeedback implements storage.FeedbackStore.
func (a *Adapter) ListFeedback(ctx context.Context, opts storage.ListOptions) ([]*core.FeedbackRecord, error) {
	const op = "feedback.list"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var results []*core.FeedbackRecord
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+feedbackColumns+` FROM feedback
			WHERE ? = '' OR dataset_id = ?
			ORDER BY seq DESC LIMIT ?`,
			opts.DatasetID, opts.DatasetID, limit(opts.Limit))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanFeedback(rows)
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

// UpdateFeedback implements storage.FeedbackStore. DatasetID and CreatedAt
// are kept.
func (a *Adapter) UpdateFeedback(ctx context.Context, rec *core.FeedbackRecord) error {
	const op = "feedback.update"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE feedback
			SET prediction_id = ?, model_id = ?, is_correct = ?, predicted_json = ?,
			    actual_json = ?, comment = ?
			WHERE id = ?`,
			rec.PredictionID, rec.ModelID, boolInt(rec.IsCorrect), rec.PredictedJSON,
			rec.ActualJSON, rec.Comment, rec.ID,
		)
		if err != nil {
			return err
		}
		return requireRow(res, "feedback", rec.ID)
	})
	return storage.Wrap(Name, op, err)
}

// DeleteFeedback implements storage.FeedbackStore.
func (a *Adapter) DeleteFeedback(ctx context.Context, id string) error {
	const op = "feedback.delete"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM feedback WHERE id = ?`, id)
		return err
	})
	return storage.Wrap(Name, op, err)
}
