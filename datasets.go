package datavault

import (
	"context"
	"time"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// DatasetContentType labels dataset blobs.
const DatasetContentType = "application/octet-stream"

// errEmptyData rejects a dataset with no row data, which could be neither
// inline nor in a blob.
var errEmptyData = &core.ValidationError{Field: "Data", Reason: "is required"}

// DatasetRepository stores datasets with their row data.
type DatasetRepository struct {
	v *Vault
}

// Create validates and stores d. Data goes inline or to blob storage by
// size; StorageType and BlobID are filled in on the returned copy.
func (r *DatasetRepository) Create(ctx context.Context, d *core.Dataset) (*core.Dataset, error) {
	rec, err := core.CanonicalizeDataset(d)
	if err != nil {
		return nil, err
	}
	if err := rejectBlobID(rec.BlobID); err != nil {
		return nil, err
	}
	if len(rec.Data) == 0 {
		return nil, errEmptyData
	}
	now := core.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	payload := rec.Data

	err = r.v.do(ctx, "dataset.create", func(ctx context.Context, a storage.Adapter) error {
		t, err := r.v.placePayload(ctx, a, core.Reference{Kind: core.KindDataset, ID: rec.ID}, payload, DatasetContentType)
		if err != nil {
			return err
		}
		rec.StorageType, rec.Data, rec.BlobID = t.storageType, t.inline, t.blobID
		if err := a.CreateDataset(ctx, rec); err != nil {
			r.v.discard(ctx, a, t)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out, err := core.DatasetFromRecord(rec)
	if err != nil {
		return nil, err
	}
	out.Data = payload
	return out, nil
}

// Get returns the dataset with its row data, reassembled from blob storage
// when needed.
func (r *DatasetRepository) Get(ctx context.Context, id string) (*core.Dataset, error) {
	var out *core.Dataset
	err := r.v.do(ctx, "dataset.get", func(ctx context.Context, a storage.Adapter) error {
		rec, err := a.GetDataset(ctx, id)
		if err != nil {
			return err
		}
		if rec.StorageType == core.StorageBlob {
			_, data, err := r.v.loadBlob(ctx, a, rec.BlobID)
			if err != nil {
				return err
			}
			rec.Data = data
		}
		out, err = core.DatasetFromRecord(rec)
		return err
	})
	return out, err
}

// List returns datasets without row data, newest first.
func (r *DatasetRepository) List(ctx context.Context, opts ListOptions) ([]*core.Dataset, error) {
	var out []*core.Dataset
	err := r.v.do(ctx, "dataset.list", func(ctx context.Context, a storage.Adapter) error {
		recs, err := a.ListDatasets(ctx, opts)
		if err != nil {
			return err
		}
		out = make([]*core.Dataset, 0, len(recs))
		for _, rec := range recs {
			d, err := core.DatasetFromRecord(rec)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// Update replaces the dataset's metadata. When d.Data is nil the stored
// payload is kept, and an empty non-nil d.Data is rejected. Otherwise the
// payload is re-tiered and any replaced blob is removed. CreatedAt and the
// training counters are never changed here. The returned dataset carries
// Data only when it was replaced.
func (r *DatasetRepository) Update(ctx context.Context, d *core.Dataset) (*core.Dataset, error) {
	rec, err := core.CanonicalizeDataset(d)
	if err != nil {
		return nil, err
	}
	if err := rejectBlobID(rec.BlobID); err != nil {
		return nil, err
	}
	keep := d.Data == nil
	if !keep && len(d.Data) == 0 {
		return nil, errEmptyData
	}
	rec.UpdatedAt = core.Now()
	payload := rec.Data

	var out *core.Dataset
	err = r.v.do(ctx, "dataset.update", func(ctx context.Context, a storage.Adapter) error {
		current, err := a.GetDataset(ctx, rec.ID)
		if err != nil {
			return err
		}
		next := *rec
		var placed *tiered
		if keep {
			next.StorageType, next.Data, next.BlobID = current.StorageType, current.Data, current.BlobID
		} else {
			placed, err = r.v.placePayload(ctx, a, core.Reference{Kind: core.KindDataset, ID: rec.ID}, payload, DatasetContentType)
			if err != nil {
				return err
			}
			next.StorageType, next.Data, next.BlobID = placed.storageType, placed.inline, placed.blobID
		}
		if err := a.UpdateDataset(ctx, &next); err != nil {
			r.v.discard(ctx, a, placed)
			return err
		}
		next.CreatedAt = current.CreatedAt
		next.TrainingCount = current.TrainingCount
		next.LastTrainedAt = current.LastTrainedAt
		out, err = core.DatasetFromRecord(&next)
		if err != nil {
			return err
		}
		if !keep {
			out.Data = payload
		}
		return nil
	})
	return out, err
}

// Delete removes the dataset with its blob, workspaces, training metadata
// and feedback. Deleting a missing dataset succeeds.
func (r *DatasetRepository) Delete(ctx context.Context, id string) error {
	return r.v.do(ctx, "dataset.delete", func(ctx context.Context, a storage.Adapter) error {
		return a.DeleteDataset(ctx, id)
	})
}

// RecordTraining bumps the dataset's training counter. A zero at means now.
func (r *DatasetRepository) RecordTraining(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = core.Now()
	}
	at = core.NormalizeTime(at)
	return r.v.do(ctx, "dataset.record_training", func(ctx context.Context, a storage.Adapter) error {
		return a.RecordTraining(ctx, id, at)
	})
}
