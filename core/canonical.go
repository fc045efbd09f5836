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
	"fmt"
)

// Stored JSON text was accepted by Canonicalize*, so a decode failure means
// the backend returned something other than what was written.
func decodeJSON(entity, id, field, text string, v any) error {
	if text == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("%w: %s %s: field %s: %v", ErrConstraintViolation, entity, id, field, err)
	}
	return nil
}

// DatasetFromRecord rebuilds the caller-facing Dataset. Data is shared with
// the record, not copied.
func DatasetFromRecord(r *DatasetRecord) (*Dataset, error) {
	d := &Dataset{
		ID:            r.ID,
		Name:          r.Name,
		RowCount:      r.RowCount,
		ColumnCount:   r.ColumnCount,
		StorageType:   r.StorageType,
		Data:          r.Data,
		BlobID:        r.BlobID,
		TrainingCount: r.TrainingCount,
		LastTrainedAt: r.LastTrainedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := decodeJSON("dataset", r.ID, "Columns", r.ColumnsJSON, &d.Columns); err != nil {
		return nil, err
	}
	if err := decodeJSON("dataset", r.ID, "ColumnTypes", r.ColumnTypesJSON, &d.ColumnTypes); err != nil {
		return nil, err
	}
	if err := decodeJSON("dataset", r.ID, "Preview", r.PreviewJSON, &d.Preview); err != nil {
		return nil, err
	}
	return d, nil
}

// WorkspaceFromRecord rebuilds the caller-facing Workspace. State is decoded
// only when the record carries an inline payload.
func WorkspaceFromRecord(r *WorkspaceRecord) (*Workspace, error) {
	w := &Workspace{
		ID:          r.ID,
		DatasetID:   r.DatasetID,
		Name:        r.Name,
		StorageType: r.StorageType,
		BlobID:      r.BlobID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.State) > 0 {
		state, err := DecodeWorkspaceState(r.State)
		if err != nil {
			return nil, fmt.Errorf("%w: workspace %s: state: %v", ErrConstraintViolation, r.ID, err)
		}
		w.State = state
	}
	return w, nil
}

// TrainingFromRecord rebuilds the caller-facing TrainingMetadata.
func TrainingFromRecord(r *TrainingRecord) (*TrainingMetadata, error) {
	m := &TrainingMetadata{
		ID:              r.ID,
		DatasetID:       r.DatasetID,
		ModelID:         r.ModelID,
		ProblemType:     r.ProblemType,
		TargetColumn:    r.TargetColumn,
		DurationSeconds: r.DurationSeconds,
		TrainedAt:       r.TrainedAt,
		CreatedAt:       r.CreatedAt,
	}
	if err := decodeJSON("training_metadata", r.ID, "FeatureColumns", r.FeatureColumnsJSON, &m.FeatureColumns); err != nil {
		return nil, err
	}
	if err := decodeJSON("training_metadata", r.ID, "Metrics", r.MetricsJSON, &m.Metrics); err != nil {
		return nil, err
	}
	if err := decodeJSON("training_metadata", r.ID, "Hyperparameters", r.HyperparametersJSON, &m.Hyperparameters); err != nil {
		return nil, err
	}
	return m, nil
}

// FeedbackFromRecord rebuilds the caller-facing Feedback. Numeric values come
// back as float64, per encoding/json.
func FeedbackFromRecord(r *FeedbackRecord) (*Feedback, error) {
	f := &Feedback{
		ID:           r.ID,
		PredictionID: r.PredictionID,
		DatasetID:    r.DatasetID,
		ModelID:      r.ModelID,
		IsCorrect:    r.IsCorrect,
		Comment:      r.Comment,
		CreatedAt:    r.CreatedAt,
	}
	if err := decodeJSON("feedback", r.ID, "PredictedValue", r.PredictedJSON, &f.PredictedValue); err != nil {
		return nil, err
	}
	if err := decodeJSON("feedback", r.ID, "ActualValue", r.ActualJSON, &f.ActualValue); err != nil {
		return nil, err
	}
	return f, nil
}
