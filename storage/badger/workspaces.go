package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// CreateWorkspace implements storage.WorkspaceStore.
func (a *Adapter) CreateWorkspace(ctx context.Context, rec *core.WorkspaceRecord) error {
	const op = "workspace.create"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := checkTier(rec.StorageType, len(rec.State), rec.BlobID); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := a.checkInline(len(rec.State)); err != nil {
		return storage.Wrap(Name, op, err)
	}
	seq, err := a.nextSeq()
	if err != nil {
		return storage.Wrap(Name, op, err)
	}
	err = a.update(func(tx *badger.Txn) error {
		key := makeKey(workspacePrefix, rec.ID)
		taken, err := exists(tx, key)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: workspace %s", core.ErrDuplicateKey, rec.ID)
		}
		if err := checkDataset(tx, rec.DatasetID); err != nil {
			return err
		}
		if rec.BlobID != "" {
			if err := checkBlobRef(tx, rec.BlobID, core.Reference{Kind: core.KindWorkspace, ID: rec.ID}); err != nil {
				return err
			}
		}
		value := marshalWorkspace(seq, rec)
		if err := a.checkValue(value); err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		if err := tx.Set(makeIndexKey(workspaceByDSPrefix, rec.DatasetID, seq), marshalID(rec.ID)); err != nil {
			return err
		}
		return tx.Set(makeIndexKey(workspaceIndexPrefix, "", seq), marshalID(rec.ID))
	})
	return storage.Wrap(Name, op, err)
}

// GetWorkspace implements storage.WorkspaceStore.
func (a *Adapter) GetWorkspace(ctx context.Context, id string) (*core.WorkspaceRecord, error) {
	const op = "workspace.get"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	var doc *workspaceDoc
	var found bool
	err := a.view(func(tx *badger.Txn) error {
		var err error
		doc, found, err = getValue(tx, makeKey(workspacePrefix, id), unmarshalWorkspace)
		return err
	})
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	if !found {
		return nil, storage.NotFound(Name, op, core.KindWorkspace, id)
	}
	return doc.rec, nil
}

// ListWorkspaces implements storage.WorkspaceStore.
func (a *Adapter) ListWorkspaces(ctx context.Context, opts storage.ListOptions) ([]*core.WorkspaceRecord, error) {
	const op = "workspace.list"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	prefix := makeIndexPrefix(workspaceIndexPrefix, "")
	if opts.DatasetID != "" {
		prefix = makeIndexPrefix(workspaceByDSPrefix, opts.DatasetID)
	}
	var results []*core.WorkspaceRecord
	err := a.view(func(tx *badger.Txn) error {
		ids, err := scanIndex(tx, prefix, opts.Limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			doc, found, err := getValue(tx, makeKey(workspacePrefix, id), unmarshalWorkspace)
			if err != nil {
				return err
			}
			if found {
				doc.rec.State = nil
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

// UpdateWorkspace implements storage.WorkspaceStore.
func (a *Adapter) UpdateWorkspace(ctx context.Context, rec *core.WorkspaceRecord) error {
	const op = "workspace.update"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := checkTier(rec.StorageType, len(rec.State), rec.BlobID); err != nil {
		return storage.Wrap(Name, op, err)
	}
	if err := a.checkInline(len(rec.State)); err != nil {
		return storage.Wrap(Name, op, err)
	}
	var staleBlob string
	err := a.update(func(tx *badger.Txn) error {
		key := makeKey(workspacePrefix, rec.ID)
		old, found, err := getValue(tx, key, unmarshalWorkspace)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: workspace %s", core.ErrNotFound, rec.ID)
		}
		if rec.BlobID != "" && rec.BlobID != old.rec.BlobID {
			if err := checkBlobRef(tx, rec.BlobID, core.Reference{Kind: core.KindWorkspace, ID: rec.ID}); err != nil {
				return err
			}
		}
		if old.rec.BlobID != "" && old.rec.BlobID != rec.BlobID {
			staleBlob = old.rec.BlobID
		}
		next := *rec
		next.DatasetID = old.rec.DatasetID
		next.CreatedAt = old.rec.CreatedAt
		value := marshalWorkspace(old.seq, &next)
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
			a.logger.Warn("failed to remove replaced blob", "workspace", rec.ID, "blob", staleBlob, "error", err)
		}
	}
	return nil
}

// DeleteWorkspace implements storage.WorkspaceStore.
func (a *Adapter) DeleteWorkspace(ctx context.Context, id string) error {
	const op = "workspace.delete"
	if err := a.begin(ctx); err != nil {
		return storage.Wrap(Name, op, err)
	}
	return storage.Wrap(Name, op, a.deleteWorkspace(ctx, id))
}

// deleteWorkspace removes the workspace's blob, then the record and its
// index entries.
func (a *Adapter) deleteWorkspace(ctx context.Context, id string) error {
	var doc *workspaceDoc
	var found bool
	err := a.view(func(tx *badger.Txn) error {
		var err error
		doc, found, err = getValue(tx, makeKey(workspacePrefix, id), unmarshalWorkspace)
		return err
	})
	if err != nil || !found {
		return err
	}
	if doc.rec.BlobID != "" {
		if err := a.deleteBlobData(ctx, doc.rec.BlobID); err != nil {
			return err
		}
	}
	return a.update(func(tx *badger.Txn) error {
		if err := tx.Delete(makeIndexKey(workspaceByDSPrefix, doc.rec.DatasetID, doc.seq)); err != nil {
			return err
		}
		if err := tx.Delete(makeIndexKey(workspaceIndexPrefix, "", doc.seq)); err != nil {
			return err
		}
		return tx.Delete(makeKey(workspacePrefix, id))
	})
}
