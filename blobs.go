package datavault

import (
	"context"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// BlobRepository exposes raw blob storage. Blobs stored here stay
// unpublished until their owner references them, and unpublished blobs are
// removed by the sweeper once the grace period has passed.
type BlobRepository struct {
	v *Vault
}

// Store writes data as a new blob owned by owner and returns its
// description. Payloads above the active backend's ceiling fail with
// core.ErrSizeLimitExceeded.
func (r *BlobRepository) Store(ctx context.Context, owner core.Reference, data []byte, contentType string) (*core.BlobInfo, error) {
	if err := core.ValidateBlobOwner(owner); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = DatasetContentType
	}
	var out *core.BlobInfo
	err := r.v.do(ctx, "blob.store", func(ctx context.Context, a storage.Adapter) error {
		if limit := a.Limits().MaxBlobBytes; int64(len(data)) > limit {
			return &core.SizeLimitError{Size: int64(len(data)), Limit: limit}
		}
		rec, err := r.v.storeBlob(ctx, a, owner, data, contentType)
		if err != nil {
			return err
		}
		out = rec.Info()
		return nil
	})
	return out, err
}

// Retrieve returns the blob's original bytes, verified against its digest.
func (r *BlobRepository) Retrieve(ctx context.Context, id string) ([]byte, *core.BlobInfo, error) {
	var data []byte
	var info *core.BlobInfo
	err := r.v.do(ctx, "blob.retrieve", func(ctx context.Context, a storage.Adapter) error {
		rec, d, err := r.v.loadBlob(ctx, a, id)
		if err != nil {
			return err
		}
		data, info = d, rec.Info()
		return nil
	})
	return data, info, err
}

// Info returns the blob's description without reading its bytes.
func (r *BlobRepository) Info(ctx context.Context, id string) (*core.BlobInfo, error) {
	var info *core.BlobInfo
	err := r.v.do(ctx, "blob.info", func(ctx context.Context, a storage.Adapter) error {
		rec, err := a.GetBlobInfo(ctx, id)
		if err != nil {
			return err
		}
		info = rec.Info()
		return nil
	})
	return info, err
}

// Delete removes a blob that its owner no longer references. Blobs in use
// fail with core.ErrBlobInUse; delete the owner instead.
func (r *BlobRepository) Delete(ctx context.Context, id string) error {
	return r.v.do(ctx, "blob.delete", func(ctx context.Context, a storage.Adapter) error {
		return a.DeleteBlob(ctx, id)
	})
}
