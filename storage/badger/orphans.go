package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// FindOrphans implements storage.Adapter. Blobs qualify when they were
// never published (pending marker or metadata whose owner does not point at
// them) and are older than olderThan. Workspaces, training metadata and
// feedback qualify when their dataset is gone.
func (a *Adapter) FindOrphans(ctx context.Context, olderThan time.Time) (*storage.Orphans, error) {
	const op = "orphans.find"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	cutoff := core.UnixMicro(olderThan)
	orphans := &storage.Orphans{}
	err := a.view(func(tx *badger.Txn) error {
		var err error
		if orphans.BlobIDs, err = pendingBlobs(tx, cutoff); err != nil {
			return err
		}
		unpublished, err := unpublishedBlobs(tx, cutoff)
		if err != nil {
			return err
		}
		orphans.BlobIDs = append(orphans.BlobIDs, unpublished...)
		if orphans.WorkspaceIDs, err = danglingDependents(tx, workspaceIndexPrefix, workspacePrefix, func(val []byte) (string, error) {
			doc, err := unmarshalWorkspace(val)
			if err != nil {
				return "", err
			}
			return doc.rec.DatasetID, nil
		}); err != nil {
			return err
		}
		if orphans.TrainingIDs, err = danglingDependents(tx, trainingIndexPrefix, trainingPrefix, func(val []byte) (string, error) {
			doc, err := unmarshalTraining(val)
			if err != nil {
				return "", err
			}
			return doc.rec.DatasetID, nil
		}); err != nil {
			return err
		}
		orphans.FeedbackIDs, err = danglingDependents(tx, feedbackIndexPrefix, feedbackPrefix, func(val []byte) (string, error) {
			doc, err := unmarshalFeedback(val)
			if err != nil {
				return "", err
			}
			return doc.rec.DatasetID, nil
		})
		return err
	})
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	return orphans, nil
}

func pendingBlobs(tx *badger.Txn, cutoff int64) ([]string, error) {
	prefix := []byte(blobPendingPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var ids []string
	for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
		item := iter.Item()
		var created int64
		if err := item.Value(func(val []byte) error {
			var err error
			created, err = unmarshalTime(val)
			return err
		}); err != nil {
			return nil, err
		}
		if created < cutoff {
			ids = append(ids, string(item.Key()[len(prefix):]))
		}
	}
	return ids, nil
}

func unpublishedBlobs(tx *badger.Txn, cutoff int64) ([]string, error) {
	prefix := []byte(blobPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var metas []*core.BlobRecord
	for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
		var meta *core.BlobRecord
		if err := iter.Item().Value(func(val []byte) error {
			var err error
			meta, err = unmarshalBlob(val)
			return err
		}); err != nil {
			return nil, err
		}
		if core.UnixMicro(meta.CreatedAt) < cutoff {
			metas = append(metas, meta)
		}
	}

	var ids []string
	for _, meta := range metas {
		inUse, err := ownerReferences(tx, meta)
		if err != nil {
			return nil, err
		}
		if !inUse {
			ids = append(ids, meta.ID)
		}
	}
	return ids, nil
}

// danglingDependents walks a recency index and returns records whose
// dataset no longer exists.
func danglingDependents(tx *badger.Txn, indexPrefix, recordPrefix string, datasetOf func([]byte) (string, error)) ([]string, error) {
	ids, err := scanIndex(tx, []byte(indexPrefix), 0)
	if err != nil {
		return nil, err
	}
	var dangling []string
	for _, id := range ids {
		datasetID, found, err := getValue(tx, makeKey(recordPrefix, id), datasetOf)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		ok, err := exists(tx, makeKey(datasetPrefix, datasetID))
		if err != nil {
			return nil, err
		}
		if !ok {
			dangling = append(dangling, id)
		}
	}
	return dangling, nil
}
