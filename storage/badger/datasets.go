package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// CreateDataset stores a new dataset and its recency index entry.
func (a *Adapter) CreateDataset(ctx context.Context, rec *core.DatasetRecord) error {
	const op = "dataset.create"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := checkTier(rec.StorageType, len(rec.Data), rec.BlobID); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := a.checkInline(len(rec.Data)); err != nil {
		return storage.Wrap(Name, op, err)
	}
	seq, err := a.nextSeq()
	if err != nil {
		return storage.Wrap(Name, op, err)
	}
	err = a.update(func(tx *badger.Txn) error {
		key := makeKey(datasetPrefix, rec.ID)
		taken, err := exists(tx, key)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: dataset %s", core.ErrDuplicateKey, rec.ID)
		}
		if rec.BlobID != "" {
			if err := checkBlobRef(tx, rec.BlobID, core.Reference{Kind: core.KindDataset, ID: rec.ID}); err != nil {
				return err
			}
		}
		value := marshalDataset(seq, rec)
		if err := a.checkValue(value); err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Set(makeIndexKey(datasetIndexPrefix, "", seq), marshalID(rec.ID))
	})
	return storage.Wrap(Name, op, err)
}

// GetDataset implements storage.DatasetStore.
func (a *Adapter) GetDataset(ctx context.Context, id string) (*core.DatasetRecord, error) {
	const op = "dataset.get"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var doc *datasetDoc
	var found bool
	err := a.view(func(tx *badger.Txn) error {
		var err error
		doc, found, err = getValue(tx, makeKey(datasetPrefix, id), unmarshalDataset)
		return err
	})
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	if !found {
		return nil, storage.NotFound(Name, op, core.KindDataset, id)
	}
	return doc.rec, nil
}

// ListDatasets implements storage.DatasetStore.
func (a *Adapter) ListDatasets(ctx context.Context, opts storage.ListOptions) ([]*core.DatasetRecord, error) {
	const op = "dataset.list"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var results []*core.DatasetRecord
	err := a.view(func(tx *badger.Txn) error {
		ids, err := scanIndex(tx, []byte(datasetIndexPrefix), opts.Limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			doc, found, err := getValue(tx, makeKey(datasetPrefix, id), unmarshalDataset)
			if err != nil {
				return err
			}
			if found {
				doc.rec.Data = nil
				results = append(results, doc.rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	return results, nil
}

// UpdateDataset replaces a dataset. A blob it no longer references is
// removed after the new record is committed.
func (a *Adapter) UpdateDataset(ctx context.Context, rec *core.DatasetRecord) error {
	const op = "dataset.update"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := checkTier(rec.StorageType, len(rec.Data), rec.BlobID); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := a.checkInline(len(rec.Data)); err != nil {
		return storage.Wrap(Name, op, err)
	}
	var staleBlob string
	err := a.update(func(tx *badger.Txn) error {
		key := makeKey(datasetPrefix, rec.ID)
		old, found, err := getValue(tx, key, unmarshalDataset)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: dataset %s", core.ErrNotFound, rec.ID)
		}
		if rec.BlobID != "" && rec.BlobID != old.rec.BlobID {
			if err := checkBlobRef(tx, rec.BlobID, core.Reference{Kind: core.KindDataset, ID: rec.ID}); err != nil {
				return err
			}
		}
		if old.rec.BlobID != "" && old.rec.BlobID != rec.BlobID {
			staleBlob = old.rec.BlobID
		}
		next := *rec
		next.CreatedAt = old.rec.CreatedAt
		next.TrainingCount = old.rec.TrainingCount
		next.LastTrainedAt = old.rec.LastTrainedAt
		value := marshalDataset(old.seq, &next)
		if err := a.checkValue(value); err != nil {
			return err
		}
		return tx.Set(key, value)
	})
	if err != nil {
		return storage.Wrap(Name, op, err)
	}
	if staleBlob != "" {
		if err := a.deleteBlobData(ctx, staleBlob); err != nil {
			a.logger.Warn("failed to remove replaced blob", "dataset", rec.ID, "blob", staleBlob, "error", err)
		}
	}
	return nil
}

// RecordTraining implements storage.DatasetStore.
func (a *Adapter) RecordTraining(ctx context.Context, id string, at time.Time) error {
	const op = "dataset.record_training"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.update(func(tx *badger.Txn) error {
		key := makeKey(datasetPrefix, id)
		doc, found, err := getValue(tx, key, unmarshalDataset)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: dataset %s", core.ErrNotFound, id)
		}
		doc.rec.TrainingCount++
		doc.rec.LastTrainedAt = core.NormalizeTime(at)
		return tx.Set(key, marshalDataset(doc.seq, doc.rec))
	})
	return storage.Wrap(Name, op, err)
}

// DeleteDataset removes a dataset and everything that depends on it, in
// order: the dataset's blob, each workspace with its blob, training
// metadata, feedback, and finally the dataset record. A failure part way
// leaves the dataset record in place so the delete can be repeated.
func (a *Adapter) DeleteDataset(ctx context.Context, id string) error {
	const op = "dataset.delete"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	var doc *datasetDoc
	var found bool
	err := a.view(func(tx *badger.Txn) error {
		var err error
		doc, found, err = getValue(tx, makeKey(datasetPrefix, id), unmarshalDataset)
		return err
	})
	if err != nil {
		return storage.Wrap(Name, op, err)
	}

	if found && doc.rec.BlobID != "" {
		if err := a.deleteBlobData(ctx, doc.rec.BlobID); err != nil {
			return storage.Wrap(Name, op, err)
		}
	}

	workspaces, err := a.dependentIDs(workspaceByDSPrefix, id)
	if err != nil {
		return storage.Wrap(Name, op, err)
	}
	for _, wsID := range workspaces {
		if err := a.deleteWorkspace(ctx, wsID); err != nil {
			return storage.Wrap(Name, op, err)
		}
	}

	trainings, err := a.dependentIDs(trainingByDSPrefix, id)
	if err != nil {
		return storage.Wrap(Name, op, err)
	}
	for _, tmID := range trainings {
		if err := a.deleteTraining(ctx, tmID); err != nil {
			return storage.Wrap(Name, op, err)
		}
	}

	feedback, err := a.dependentIDs(feedbackByDSPrefix, id)
	if err != nil {
		return storage.Wrap(Name, op, err)
	}
	for _, fbID := range feedback {
		if err := a.deleteFeedback(ctx, fbID); err != nil {
			return storage.Wrap(Name, op, err)
		}
	}

	if !found {
		return nil
	}
	err = a.update(func(tx *badger.Txn) error {
		if err := tx.Delete(makeIndexKey(datasetIndexPrefix, "", doc.seq)); err != nil {
			return err
		}
		return tx.Delete(makeKey(datasetPrefix, id))
	})
	if err != nil {
		return storage.Wrap(Name, op, err)
	}
	a.logger.Debug("dataset deleted", "dataset", id,
		"workspaces", len(workspaces), "training", len(trainings), "feedback", len(feedback))
	return nil
}

// dependentIDs lists the ids in a per-dataset index.
func (a *Adapter) dependentIDs(prefix, datasetID string) ([]string, error) {
	var ids []string
	err := a.view(func(tx *badger.Txn) error {
		var err error
		ids, err = scanIndex(tx, makeIndexPrefix(prefix, datasetID), 0)
		return err
	})
	return ids, err
}
