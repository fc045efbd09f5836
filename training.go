package datavault

import (
	"context"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// TrainingRepository stores training-run metadata.
type TrainingRepository struct {
	v *Vault
}

// Create stores m and bumps its dataset's training counter. The two writes
// are independent: once the metadata is stored Create succeeds, and a failed
// counter bump is only logged.
func (r *TrainingRepository) Create(ctx context.Context, m *core.TrainingMetadata) (*core.TrainingMetadata, error) {
	rec, err := core.CanonicalizeTraining(m)
	if err != nil {
		return nil, err
	}
	now := core.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.TrainedAt.IsZero() {
		rec.TrainedAt = now
	}
	if err := r.v.do(ctx, "training.create", func(ctx context.Context, a storage.Adapter) error {
		return a.CreateTraining(ctx, rec)
	}); err != nil {
		return nil, err
	}
	if err := r.v.Datasets().RecordTraining(ctx, rec.DatasetID, rec.TrainedAt); err != nil {
		r.v.logger.Warn("failed to record training on dataset",
			"dataset", rec.DatasetID, "training", rec.ID, "error", err)
	}
	return core.TrainingFromRecord(rec)
}

// Get returns one training run.
func (r *TrainingRepository) Get(ctx context.Context, id string) (*core.TrainingMetadata, error) {
	var out *core.TrainingMetadata
	err := r.v.do(ctx, "training.get", func(ctx context.Context, a storage.Adapter) error {
		rec, err := a.GetTraining(ctx, id)
		if err != nil {
			return err
		}
		out, err = core.TrainingFromRecord(rec)
		return err
	})
	return out, err
}

// List returns training runs newest first.
func (r *TrainingRepository) List(ctx context.Context, opts ListOptions) ([]*core.TrainingMetadata, error) {
	var out []*core.TrainingMetadata
	err := r.v.do(ctx, "training.list", func(ctx context.Context, a storage.Adapter) error {
		recs, err := a.ListTraining(ctx, opts)
		if err != nil {
			return err
		}
		out = make([]*core.TrainingMetadata, 0, len(recs))
		for _, rec := range recs {
			m, err := core.TrainingFromRecord(rec)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// Update replaces a training run's metadata.
func (r *TrainingRepository) Update(ctx context.Context, m *core.TrainingMetadata) (*core.TrainingMetadata, error) {
	rec, err := core.CanonicalizeTraining(m)
	if err != nil {
		return nil, err
	}
	var out *core.TrainingMetadata
	err = r.v.do(ctx, "training.update", func(ctx context.Context, a storage.Adapter) error {
		if err := a.UpdateTraining(ctx, rec); err != nil {
			return err
		}
		stored, err := a.GetTraining(ctx, rec.ID)
		if err != nil {
			return err
		}
		out, err = core.TrainingFromRecord(stored)
		return err
	})
	return out, err
}

func (r *TrainingRepository) Delete(ctx context.Context, id string) error {
	return r.v.do(ctx, "training.delete", func(ctx context.Context, a storage.Adapter) error {
		return a.DeleteTraining(ctx, id)
	})
}
