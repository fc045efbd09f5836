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

package storage

import (
	"context"
	"time"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/tiering"
)

// ListOptions narrows a list operation.
type ListOptions struct {
	// DatasetID restricts results to records owned by one dataset. It is
	// ignored when listing datasets.
	DatasetID string
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Orphans are records and blobs that no live owner references.
type Orphans struct {
	BlobIDs      []string
	WorkspaceIDs []string
	TrainingIDs  []string
	FeedbackIDs  []string
}

// Empty reports whether nothing was found.
func (o *Orphans) Empty() bool {
	return len(o.BlobIDs) == 0 && len(o.WorkspaceIDs) == 0 && len(o.TrainingIDs) == 0 && len(o.FeedbackIDs) == 0
}

// Count returns the total number of orphans.
func (o *Orphans) Count() int {
	return len(o.BlobIDs) + len(o.WorkspaceIDs) + len(o.TrainingIDs) + len(o.FeedbackIDs)
}

// DatasetStore persists datasets.
type DatasetStore interface {
	// CreateDataset stores a new dataset. A blob-tier record must reference a
	// blob already stored with the dataset as owner.
	// Returns core.ErrDuplicateKey if the id is taken.
	CreateDataset(ctx context.Context, rec *core.DatasetRecord) error

	// GetDataset returns the dataset including its inline payload.
	GetDataset(ctx context.Context, id string) (*core.DatasetRecord, error)

	// ListDatasets returns datasets without payload, most recent first.
	ListDatasets(ctx context.Context, opts ListOptions) ([]*core.DatasetRecord, error)

	// UpdateDataset replaces the dataset's metadata and payload. CreatedAt,
	// TrainingCount and LastTrainedAt are kept from the stored record. A
	// blob no longer referenced after the update is deleted.
	UpdateDataset(ctx context.Context, rec *core.DatasetRecord) error

	// DeleteDataset removes the dataset with its blob, workspaces (and
	// their blobs), training metadata and feedback.
	DeleteDataset(ctx context.Context, id string) error

	// RecordTraining atomically increments the dataset's training count and
	// sets its last training time.
	RecordTraining(ctx context.Context, id string, at time.Time) error
}

// WorkspaceStore persists workspaces.
type WorkspaceStore interface {
	CreateWorkspace(ctx context.Context, rec *core.WorkspaceRecord) error
	GetWorkspace(ctx context.Context, id string) (*core.WorkspaceRecord, error)
	ListWorkspaces(ctx context.Context, opts ListOptions) ([]*core.WorkspaceRecord, error)
	// UpdateWorkspace keeps CreatedAt and DatasetID from the stored record.
	UpdateWorkspace(ctx context.Context, rec *core.WorkspaceRecord) error
	// DeleteWorkspace removes the workspace and its blob, never its dataset.
	DeleteWorkspace(ctx context.Context, id string) error
}

// TrainingStore persists training metadata.
type TrainingStore interface {
	CreateTraining(ctx context.Context, rec *core.TrainingRecord) error
	GetTraining(ctx context.Context, id string) (*core.TrainingRecord, error)
	ListTraining(ctx context.Context, opts ListOptions) ([]*core.TrainingRecord, error)
	UpdateTraining(ctx context.Context, rec *core.TrainingRecord) error
	DeleteTraining(ctx context.Context, id string) error
}

// FeedbackStore persists prediction feedback.
type FeedbackStore interface {
	// CreateFeedback returns core.ErrDuplicatePrediction if another feedback
	// already uses the prediction id.
	CreateFeedback(ctx context.Context, rec *core.FeedbackRecord) error
	GetFeedback(ctx context.Context, id string) (*core.FeedbackRecord, error)
	ListFeedback(ctx context.Context, opts ListOptions) ([]*core.FeedbackRecord, error)
	UpdateFeedback(ctx context.Context, rec *core.FeedbackRecord) error
	DeleteFeedback(ctx context.Context, id string) error
}

// BlobStore persists raw blob bytes with caller-supplied metadata.
type BlobStore interface {
	// StoreBlob writes data under rec.ID. The blob is not visible to its
	// owner until the owning record references it.
	StoreBlob(ctx context.Context, rec *core.BlobRecord, data []byte) error

	// RetrieveBlob returns the blob's metadata and stored bytes. Missing or
	// inconsistent data fails with core.ErrBlobCorrupted.
	RetrieveBlob(ctx context.Context, id string) (*core.BlobRecord, []byte, error)

	// GetBlobInfo returns the blob's metadata without reading its bytes.
	GetBlobInfo(ctx context.Context, id string) (*core.BlobRecord, error)

	// DeleteBlob removes an unreferenced blob. Returns core.ErrBlobInUse if
	// the owning record still points at it.
	DeleteBlob(ctx context.Context, id string) error
}

// Adapter is a complete backend.
type Adapter interface {
	DatasetStore
	WorkspaceStore
	TrainingStore
	FeedbackStore
	BlobStore

	// Name returns the backend name used in configuration.
	Name() string

	// Limits returns the backend's per-record size ceilings.
	Limits() tiering.Limits

	// Ping probes connectivity.
	Ping(ctx context.Context) error

	// FindOrphans returns blobs created before olderThan that no record
	// references, and dependents whose dataset no longer exists.
	FindOrphans(ctx context.Context, olderThan time.Time) (*Orphans, error)

	// Close releases the backend's resources.
	Close() error
}
