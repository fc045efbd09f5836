package datavault

import (
	"context"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// WorkspaceContentType labels workspace state blobs.
const WorkspaceContentType = "application/json"

// WorkspaceRepository stores saved analysis snapshots.
type WorkspaceRepository struct {
	v *Vault
}

// Create validates and stores w. The serialized state is tiered like
// dataset rows; a nil State is stored as an empty one.
func (r *WorkspaceRepository) Create(ctx context.Context, w *core.Workspace) (*core.Workspace, error) {
	rec, err := core.CanonicalizeWorkspace(w)
	if err != nil {
		return nil, err
	}
	if err := rejectBlobID(rec.BlobID); err != nil {
		return nil, err
	}
	if rec.State == nil {
		if rec.State, err = core.EncodeWorkspaceState(nil); err != nil {
			return nil, err
		}
	}
	now := core.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	payload := rec.State

	err = r.v.do(ctx, "workspace.create", func(ctx context.Context, a storage.Adapter) error {
		t, err := r.v.placePayload(ctx, a, core.Reference{Kind: core.KindWorkspace, ID: rec.ID}, payload, WorkspaceContentType)
		if err != nil {
			return err
		}
		rec.StorageType, rec.State, rec.BlobID = t.storageType, t.inline, t.blobID
		if err := a.CreateWorkspace(ctx, rec); err != nil {
			r.v.discard(ctx, a, t)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return workspaceWithState(rec, payload)
}

// Get returns the workspace with its decoded state.
func (r *WorkspaceRepository) Get(ctx context.Context, id string) (*core.Workspace, error) {
	var out *core.Workspace
	err := r.v.do(ctx, "workspace.get", func(ctx context.Context, a storage.Adapter) error {
		rec, err := a.GetWorkspace(ctx, id)
		if err != nil {
			return err
		}
		payload := rec.State
		if rec.StorageType == core.StorageBlob {
			if _, payload, err = r.v.loadBlob(ctx, a, rec.BlobID); err != nil {
				return err
			}
		}
		out, err = workspaceWithState(rec, payload)
		return err
	})
	return out, err
}

// List returns workspaces without state, newest first. Set
// opts.DatasetID to list one dataset's workspaces.
func (r *WorkspaceRepository) List(ctx context.Context, opts ListOptions) ([]*core.Workspace, error) {
	var out []*core.Workspace
	err := r.v.do(ctx, "workspace.list", func(ctx context.Context, a storage.Adapter) error {
		recs, err := a.ListWorkspaces(ctx, opts)
		if err != nil {
			return err
		}
		out = make([]*core.Workspace, 0, len(recs))
		for _, rec := range recs {
			rec.State = nil
			w, err := core.WorkspaceFromRecord(rec)
			if err != nil {
				return err
			}
			out = append(out, w)
		}
		return nil
	})
	return out, err
}

// Update replaces the workspace's name and, when w.State is non-nil, its
// state. The dataset reference cannot change. The returned workspace
// carries State only when it was replaced.
func (r *WorkspaceRepository) Update(ctx context.Context, w *core.Workspace) (*core.Workspace, error) {
	rec, err := core.CanonicalizeWorkspace(w)
	if err != nil {
		return nil, err
	}
	if err := rejectBlobID(rec.BlobID); err != nil {
		return nil, err
	}
	rec.UpdatedAt = core.Now()
	payload := rec.State
	keep := w.State == nil

	var out *core.Workspace
	err = r.v.do(ctx, "workspace.update", func(ctx context.Context, a storage.Adapter) error {
		current, err := a.GetWorkspace(ctx, rec.ID)
		if err != nil {
			return err
		}
		if current.DatasetID != rec.DatasetID {
			return &core.ValidationError{Field: "DatasetID", Reason: "cannot be changed"}
		}
		next := *rec
		var placed *tiered
		if keep {
			next.StorageType, next.State, next.BlobID = current.StorageType, current.State, current.BlobID
		} else {
			placed, err = r.v.placePayload(ctx, a, core.Reference{Kind: core.KindWorkspace, ID: rec.ID}, payload, WorkspaceContentType)
			if err != nil {
				return err
			}
			next.StorageType, next.State, next.BlobID = placed.storageType, placed.inline, placed.blobID
		}
		if err := a.UpdateWorkspace(ctx, &next); err != nil {
			r.v.discard(ctx, a, placed)
			return err
		}
		next.CreatedAt = current.CreatedAt
		// payload is nil when the state was kept
		out, err = workspaceWithState(&next, payload)
		return err
	})
	return out, err
}

// Delete removes the workspace and its blob. The dataset is untouched.
func (r *WorkspaceRepository) Delete(ctx context.Context, id string) error {
	return r.v.do(ctx, "workspace.delete", func(ctx context.Context, a storage.Adapter) error {
		return a.DeleteWorkspace(ctx, id)
	})
}

// workspaceWithState converts rec, decoding payload as its state.
func workspaceWithState(rec *core.WorkspaceRecord, payload []byte) (*core.Workspace, error) {
	view := *rec
	view.State = payload
	return core.WorkspaceFromRecord(&view)
}
