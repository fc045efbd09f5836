package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// CreateFeedback stores feedback and claims its prediction id. Two
// concurrent claims of the same prediction id conflict at commit; the retry
// then observes the duplicate.
func (a *Adapter) CreateFeedback(ctx context.Context, rec *core.FeedbackRecord) error {
	const op = "feedback.create"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	seq, err := a.nextSeq()
	if err != nil {
		return storage.Wrap(Name, op, err)
	}
	err = a.update(func(tx *badger.Txn) error {
		key := makeKey(feedbackPrefix, rec.ID)
		taken, err := exists(tx, key)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: feedback %s", core.ErrDuplicateKey, rec.ID)
		}
		predKey := makeKey(predictionPrefix, rec.PredictionID)
		claimed, err := exists(tx, predKey)
		if err != nil {
			return err
		}
		if claimed {
			return fmt.Errorf("%w: %s", core.ErrDuplicatePrediction, rec.PredictionID)
		}
		if err := checkDataset(tx, rec.DatasetID); err != nil {
			return err
		}
		if err := tx.Set(key, marshalFeedback(seq, rec)); err != nil {
			return err
		}
		if err := tx.Set(predKey, marshalID(rec.ID)); err != nil {
			return err
		}
		if err := tx.Set(makeIndexKey(feedbackByDSPrefix, rec.DatasetID, seq), marshalID(rec.ID)); err != nil {
			return err
		}
		return tx.Set(makeIndexKey(feedbackIndexPrefix, "", seq), marshalID(rec.ID))
	})
	return storage.Wrap(Name, op, err)
}

// GetFeedback implements storage.FeedbackStore.
func (a *Adapter) GetFeedback(ctx context.Context, id string) (*core.FeedbackRecord, error) {
	const op = "feedback.get"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var doc *feedbackDoc
	var found bool
	err := a.view(func(tx *badger.Txn) error {
		var err error
		doc, found, err = getValue(tx, makeKey(feedbackPrefix, id), unmarshalFeedback)
		return err
	})
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	if !found {
		return nil, storage.NotFound(Name, op, core.KindFeedback, id)
	}
	return doc.rec, nil
}

// ListFeedback implements storage.FeedbackStore.
func (a *Adapter) ListFeedback(ctx context.Context, opts storage.ListOptions) ([]*core.FeedbackRecord, error) {
	const op = "feedback.list"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	prefix := makeIndexPrefix(feedbackIndexPrefix, "")
	if opts.DatasetID != "" {
		prefix = makeIndexPrefix(feedbackByDSPrefix, opts.DatasetID)
	}
	var results []*core.FeedbackRecord
	err := a.view(func(tx *badger.Txn) error {
		ids, err := scanIndex(tx, prefix, opts.Limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			doc, found, err := getValue(tx, makeKey(feedbackPrefix, id), unmarshalFeedback)
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

// UpdateFeedback moves the prediction claim when the prediction id changes.
func (a *Adapter) UpdateFeedback(ctx context.Context, rec *core.FeedbackRecord) error {
	const op = "feedback.update"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	err := a.update(func(tx *badger.Txn) error {
		key := makeKey(feedbackPrefix, rec.ID)
		old, found, err := getValue(tx, key, unmarshalFeedback)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: feedback %s", core.ErrNotFound, rec.ID)
		}
		if rec.PredictionID != old.rec.PredictionID {
			predKey := makeKey(predictionPrefix, rec.PredictionID)
			claimed, err := exists(tx, predKey)
			if err != nil {
				return err
			}
			if claimed {
				return fmt.Errorf("%w: %s", core.ErrDuplicatePrediction, rec.PredictionID)
			}
			if err := tx.Delete(makeKey(predictionPrefix, old.rec.PredictionID)); err != nil {
				return err
			}
			if err := tx.Set(predKey, marshalID(rec.ID)); err != nil {
				return err
			}
		}
		next := *rec
		next.DatasetID = old.rec.DatasetID
		next.CreatedAt = old.rec.CreatedAt
		return tx.Set(key, marshalFeedback(old.seq, &next))
	})
	return storage.Wrap(Name, op, err)
}

// DeleteFeedback implements storage.FeedbackStore.
func (a *Adapter) DeleteFeedback(ctx context.Context, id string) error {
	const op = "feedback.delete"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	return storage.Wrap(Name, op, a.deleteFeedback(ctx, id))
}

func (a *Adapter) deleteFeedback(_ context.Context, id string) error {
	return a.update(func(tx *badger.Txn) error {
		key := makeKey(feedbackPrefix, id)
		doc, found, err := getValue(tx, key, unmarshalFeedback)
		if err != nil || !found {
			return err
		}
		if err := tx.Delete(makeKey(predictionPrefix, doc.rec.PredictionID)); err != nil {
			return err
		}
		if err := tx.Delete(makeIndexKey(feedbackByDSPrefix, doc.rec.DatasetID, doc.seq)); err != nil {
			return err
		}
		if err := tx.Delete(makeIndexKey(feedbackIndexPrefix, "", doc.seq)); err != nil {
			return err
		}
		return tx.Delete(key)
	})
}
