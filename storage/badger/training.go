package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// CreateTraining implements storage.TrainingStore.
func (a *Adapter) CreateTraining(ctx context.Context, rec *core.TrainingRecord) error {
	const op = "training.create"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	seq, err := a.nextSeq()
	if err != nil {
		return storage.Wrap(Name, op, err)
	}
	err = a.update(func(tx *badger.Txn) error {
		key := makeKey(trainingPrefix, rec.ID)
		taken, err := exists(tx, key)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: training metadata %s", core.ErrDuplicateKey, rec.ID)
		}
		if err := checkDataset(tx, rec.DatasetID); err != nil {
			return err
		}
		if err := tx.Set(key, marshalTraining(seq, rec)); err != nil {
			return err
		}
		if err := tx.Set(makeIndexKey(trainingByDSPrefix, rec.DatasetID, seq), marshalID(rec.ID)); err != nil {
			return err
		}
		return tx.Set(makeIndexKey(trainingIndexPrefix, "", seq), marshalID(rec.ID))
	})
	return storage.Wrap(Name, op, err)
}

// GetTraining implements storage.TrainingStore.
func (a *Adapter) GetTraining(ctx context.Context, id string) (*core.TrainingRecord, error) {
	const op = "training.get"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var doc *trainingDoc
	var found bool
	err := a.view(func(tx *badger.Txn) error {
		var err error
		doc, found, err = getValue(tx, makeKey(trainingPrefix, id), unmarshalTraining)
		return err
	})
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	if !found {
		return nil, storage.NotFound(Name, op, core.KindTrainingMetadata, id)
	}
	return doc.rec, nil
}

// ListTraining implements storage.TrainingStore.
func (a *Adapter) ListTraining(ctx context.Context, opts storage.ListOptions) ([]*core.TrainingRecord, error) {
	const op = "training.list"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	prefix := makeIndexPrefix(trainingIndexPrefix, "")
	if opts.DatasetID != "" {
		prefix = makeIndexPrefix(trainingByDSPrefix, opts.DatasetID)
	}
	var results []*core.TrainingRecord
	err := a.view(func(tx *badger.Txn) error {
		ids, err := scanIndex(tx, prefix, opts.Limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			doc, found, err := getValue(tx, makeKey(trainingPrefix, id), unmarshalTraining)
			if err != nil {
				return err
			}
			if found {
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

// UpdateTraining keeps the stored dataset id and creation time.
func (a *Adapter) UpdateTraining(ctx context.Context, rec *core.TrainingRecord) error {
	const op = "training.update"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.update(func(tx *badger.Txn) error {
		key := makeKey(trainingPrefix, rec.ID)
		old, found, err := getValue(tx, key, unmarshalTraining)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: training metadata %s", core.ErrNotFound, rec.ID)
		}
		next := *rec
		next.DatasetID = old.rec.DatasetID
		next.CreatedAt = old.rec.CreatedAt
		return tx.Set(key, marshalTraining(old.seq, &next))
	})
	return storage.Wrap(Name, op, err)
}

// DeleteTraining implements storage.TrainingStore.
func (a *Adapter) DeleteTraining(ctx context.Context, id string) error {
	const op = "training.delete"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	return storage.Wrap(Name, op, a.deleteTraining(ctx, id))
}

func (a *Adapter) deleteTraining(_ context.Context, id string) error {
	return a.update(func(tx *badger.Txn) error {
		key := makeKey(trainingPrefix, id)
		doc, found, err := getValue(tx, key, unmarshalTraining)
		if err != nil || !found {
			return err
		}
		if err := tx.Delete(makeIndexKey(trainingByDSPrefix, doc.rec.DatasetID, doc.seq)); err != nil {
			return err
		}
		if err := tx.Delete(makeIndexKey(trainingIndexPrefix, "", doc.seq)); err != nil {
			return err
		}
		return tx.Delete(key)
	})
}
