// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package datavault

import (
	"context"
	"fmt"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// tiered is where a payload ended up.
type tiered struct {
	storageType core.StorageType
	inline      []byte
	blobID      string
}

// placePayload applies the tiering policy to payload. Blob-tier payloads are
// fully written before returning, so the caller may then publish the
// reference.
func (v *Vault) placePayload(ctx context.Context, a storage.Adapter, owner core.Reference, payload []byte, contentType string) (*tiered, error) {
	tier, err := v.policy.Decide(int64(len(payload)), a.Limits())
	if err != nil {
		return nil, err
	}
	if tier == core.StorageDirect {
		return &tiered{storageType: core.StorageDirect, inline: payload}, nil
	}
	rec, err := v.storeBlob(ctx, a, owner, payload, contentType)
	if err != nil {
		return nil, err
	}
	return &tiered{storageType: core.StorageBlob, blobID: rec.ID}, nil
}

func (v *Vault) storeBlob(ctx context.Context, a storage.Adapter, owner core.Reference, data []byte, contentType string) (*core.BlobRecord, error) {
	codec, err := v.codec(a.Name())
	if err != nil {
		return nil, err
	}
	rec := &core.BlobRecord{
		ID:          core.NewID(),
		OwnerKind:   owner.Kind,
		OwnerID:     owner.ID,
		ContentType: contentType,
		CreatedAt:   core.Now(),
	}
	stored := codec.Encode(rec, data)
	if err := a.StoreBlob(ctx, rec, stored); err != nil {
		return nil, err
	}
	return rec, nil
}

// loadBlob reads and verifies a blob.
func (v *Vault) loadBlob(ctx context.Context, a storage.Adapter, id string) (*core.BlobRecord, []byte, error) {
	rec, stored, err := a.RetrieveBlob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	codec, err := v.codec(a.Name())
	if err != nil {
		return nil, nil, err
	}
	data, err := codec.Decode(rec, stored)
	if err != nil {
		return nil, nil, storage.Wrap(a.Name(), "blob.retrieve", err)
	}
	return rec, data, nil
}

// discard removes a blob whose owning record was never written. Failures
// only leave an orphan for the sweeper.
func (v *Vault) discard(ctx context.Context, a storage.Adapter, t *tiered) {
	if t == nil || t.blobID == "" {
		return
	}
	if err := a.DeleteBlob(context.WithoutCancel(ctx), t.blobID); err != nil {
		v.logger.Warn("failed to discard unpublished blob", "backend", a.Name(), "blob", t.blobID, "error", err)
	}
}

// rejectBlobID refuses caller-supplied blob references; blobs behind
// records are always placed by the vault.
func rejectBlobID(blobID string) error {
	if blobID == "" {
		return nil
	}
	return &core.ValidationError{Field: "BlobID", Reason: fmt.Sprintf("is assigned by the vault, got %q", blobID)}
}
