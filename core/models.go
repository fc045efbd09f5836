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

package core

import (
	"encoding/json"
	"time"
)

// StorageType records where an entity's payload lives.
type StorageType string

const (
	// StorageDirect keeps the payload inline in the owning record.
	StorageDirect StorageType = "direct"
	// StorageBlob keeps the payload in blob storage; the record holds a reference.
	StorageBlob StorageType = "blob"
)

// EntityKind names an entity type that can be referenced and cascaded.
type EntityKind string

const (
	KindDataset          EntityKind = "dataset"
	KindWorkspace        EntityKind = "workspace"
	KindTrainingMetadata EntityKind = "training_metadata"
	KindFeedback         EntityKind = "feedback"
	KindBlob             EntityKind = "blob"
)

// Reference points at another entity by kind and id.
type Reference struct {
	Kind EntityKind
	ID   string
}

// Dataset is a raw tabular dataset as seen by callers.
type Dataset struct {
	ID            string            `validate:"required,entityid"`
	Name          string            `validate:"required,max=512"`
	RowCount      int64             `validate:"gte=0"`
	ColumnCount   int               `validate:"gte=0"`
	Columns       []string          `validate:"dive,required,max=1024"`
	ColumnTypes   map[string]string `validate:"dive,keys,required,endkeys,required"`
	Preview       []map[string]any  `validate:"max=100"`
	StorageType   StorageType       `validate:"omitempty,oneof=direct blob"`
	Data          []byte            // Row data; loaded by Get, nil in listings
	BlobID        string            // Set when StorageType is StorageBlob
	TrainingCount int64             `validate:"gte=0"`
	LastTrainedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChatMessage is one turn of a workspace chat transcript.
type ChatMessage struct {
	Role      string    `json:"role" validate:"required,max=64"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkspaceState is the saved analysis state of a workspace.
type WorkspaceState struct {
	ModelResults map[string]any   `json:"model_results,omitempty"`
	Charts       []map[string]any `json:"charts,omitempty"`
	ChatHistory  []ChatMessage    `json:"chat_history,omitempty" validate:"dive"`
}

// Workspace is a saved analysis snapshot over one dataset.
type Workspace struct {
	ID          string          `validate:"required,entityid"`
	DatasetID   string          `validate:"required,entityid"`
	Name        string          `validate:"required,max=512"`
	StorageType StorageType     `validate:"omitempty,oneof=direct blob"`
	State       *WorkspaceState // Loaded by Get, nil in listings
	BlobID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TrainingMetadata describes one training run over a dataset.
type TrainingMetadata struct {
	ID              string   `validate:"required,entityid"`
	DatasetID       string   `validate:"required,entityid"`
	ModelID         string   `validate:"required,max=256"`
	ProblemType     string   `validate:"required,max=64"`
	TargetColumn    string   `validate:"max=1024"`
	FeatureColumns  []string `validate:"dive,required"`
	Metrics         map[string]float64
	Hyperparameters map[string]any
	DurationSeconds float64 `validate:"gte=0"`
	TrainedAt       time.Time
	CreatedAt       time.Time
}

// Feedback records whether a single prediction was correct.
type Feedback struct {
	ID             string `validate:"required,entityid"`
	PredictionID   string `validate:"required,max=256"`
	DatasetID      string `validate:"required,entityid"`
	ModelID        string `validate:"required,max=256"`
	IsCorrect      bool
	PredictedValue any
	ActualValue    any
	Comment        string `validate:"max=8192"`
	CreatedAt      time.Time
}

// BlobInfo describes a stored blob without its bytes.
type BlobInfo struct {
	ID           string
	Owner        Reference
	Size         int64 // Stored bytes, after compression
	Compressed   bool
	OriginalSize int64
	ContentType  string
	Digest       string
	CreatedAt    time.Time
}

// DatasetRecord is the backend-neutral, validated form of a Dataset.
// Exactly one of Data and BlobID is set.
type DatasetRecord struct {
	ID              string
	Name            string
	RowCount        int64
	ColumnCount     int
	ColumnsJSON     string
	ColumnTypesJSON string
	PreviewJSON     string
	StorageType     StorageType
	Data            []byte
	BlobID          string
	TrainingCount   int64
	LastTrainedAt   time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// References returns the entities this record points at.
func (r *DatasetRecord) References() []Reference {
	if r.BlobID == "" {
		return nil
	}
	return []Reference{{Kind: KindBlob, ID: r.BlobID}}
}

// WorkspaceRecord is the backend-neutral form of a Workspace. State holds
// the serialized WorkspaceState when StorageType is StorageDirect.
type WorkspaceRecord struct {
	ID          string
	DatasetID   string
	Name        string
	StorageType StorageType
	State       []byte
	BlobID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// References returns the entities this record points at.
func (r *WorkspaceRecord) References() []Reference {
	refs := []Reference{{Kind: KindDataset, ID: r.DatasetID}}
	if r.BlobID != "" {
		refs = append(refs, Reference{Kind: KindBlob, ID: r.BlobID})
	}
	return refs
}

// TrainingRecord is the backend-neutral form of TrainingMetadata.
type TrainingRecord struct {
	ID                  string
	DatasetID           string
	ModelID             string
	ProblemType         string
	TargetColumn        string
	FeatureColumnsJSON  string
	MetricsJSON         string
	HyperparametersJSON string
	DurationSeconds     float64
	TrainedAt           time.Time
	CreatedAt           time.Time
}

// References returns the entities this record points at.
func (r *TrainingRecord) References() []Reference {
	return []Reference{{Kind: KindDataset, ID: r.DatasetID}}
}

// FeedbackRecord is the backend-neutral form of Feedback.
type FeedbackRecord struct {
	ID            string
	PredictionID  string
	DatasetID     string
	ModelID       string
	IsCorrect     bool
	PredictedJSON string
	ActualJSON    string
	Comment       string
	CreatedAt     time.Time
}

// References returns the entities this record points at.
func (r *FeedbackRecord) References() []Reference {
	return []Reference{{Kind: KindDataset, ID: r.DatasetID}}
}

// BlobRecord is the stored metadata of a blob. The owner is fixed at write
// time and never changes.
type BlobRecord struct {
	ID           string
	OwnerKind    EntityKind
	OwnerID      string
	Size         int64
	Compressed   bool
	OriginalSize int64
	ContentType  string
	Digest       string
	ChunkCount   int // Populated by chunking backends only
	CreatedAt    time.Time
}

// Info converts the record to its caller-facing description.
func (r *BlobRecord) Info() *BlobInfo {
	return &BlobInfo{
		ID:           r.ID,
		Owner:        Reference{Kind: r.OwnerKind, ID: r.OwnerID},
		Size:         r.Size,
		Compressed:   r.Compressed,
		OriginalSize: r.OriginalSize,
		ContentType:  r.ContentType,
		Digest:       r.Digest,
		CreatedAt:    r.CreatedAt,
	}
}

// EncodeWorkspaceState serializes a workspace state to its payload bytes.
func EncodeWorkspaceState(state *WorkspaceState) ([]byte, error) {
	if state == nil {
		state = &WorkspaceState{}
	}
	return json.Marshal(state)
}

// DecodeWorkspaceState parses payload bytes produced by EncodeWorkspaceState.
func DecodeWorkspaceState(payload []byte) (*WorkspaceState, error) {
	var state WorkspaceState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
