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
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("entityid", func(fl validator.FieldLevel) bool {
		return IsValidID(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// validateStruct runs the struct-tag rules and reports the first violation.
func validateStruct(entity string, s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: entity, Reason: err.Error()}
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	reason := "failed " + fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return &ValidationError{Field: field, Reason: reason}
}

// encodeJSON serializes a JSON-shaped field. Nil collections encode as their
// empty form so both backends store identical text.
func encodeJSON(field string, v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("not JSON-serializable: %v", err)}
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

// encodeScalar serializes a JSON scalar. Objects and arrays are rejected.
func encodeScalar(field string, v any) (string, error) {
	text, err := encodeJSON(field, v, "null")
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return "", &ValidationError{Field: field, Reason: "must be a JSON scalar"}
	}
	return text, nil
}

// CanonicalizeDataset validates d and converts it to a DatasetRecord. The
// payload is copied as-is; tiering fills StorageType, Data and BlobID.
func CanonicalizeDataset(d *Dataset) (*DatasetRecord, error) {
	if d == nil {
		return nil, &ValidationError{Field: "Dataset", Reason: "is nil"}
	}
	if err := validateStruct("Dataset", d); err != nil {
		return nil, err
	}
	if len(d.Data) > 0 && d.BlobID != "" {
		return nil, &ValidationError{Field: "Data", Reason: "inline data and blob reference are mutually exclusive"}
	}
	columns, err := encodeJSON("Columns", d.Columns, "[]")
	if err != nil {
		return nil, err
	}
	columnTypes, err := encodeJSON("ColumnTypes", d.ColumnTypes, "{}")
	if err != nil {
		return nil, err
	}
	preview, err := encodeJSON("Preview", d.Preview, "[]")
	if err != nil {
		return nil, err
	}
	return &DatasetRecord{
		ID:              d.ID,
		Name:            d.Name,
		RowCount:        d.RowCount,
		ColumnCount:     d.ColumnCount,
		ColumnsJSON:     columns,
		ColumnTypesJSON: columnTypes,
		PreviewJSON:     preview,
		StorageType:     d.StorageType,
		Data:            d.Data,
		BlobID:          d.BlobID,
		TrainingCount:   d.TrainingCount,
		LastTrainedAt:   NormalizeTime(d.LastTrainedAt),
		CreatedAt:       NormalizeTime(d.CreatedAt),
		UpdatedAt:       NormalizeTime(d.UpdatedAt),
	}, nil
}

// CanonicalizeWorkspace validates w and converts it to a WorkspaceRecord. A
// non-nil State is serialized into the record payload.
func CanonicalizeWorkspace(w *Workspace) (*WorkspaceRecord, error) {
	if w == nil {
		return nil, &ValidationError{Field: "Workspace", Reason: "is nil"}
	}
	if err := validateStruct("Workspace", w); err != nil {
		return nil, err
	}
	rec := &WorkspaceRecord{
		ID:          w.ID,
		DatasetID:   w.DatasetID,
		Name:        w.Name,
		StorageType: w.StorageType,
		BlobID:      w.BlobID,
		CreatedAt:   NormalizeTime(w.CreatedAt),
		UpdatedAt:   NormalizeTime(w.UpdatedAt),
	}
	if w.State != nil {
		state, err := EncodeWorkspaceState(w.State)
		if err != nil {
			return nil, &ValidationError{Field: "State", Reason: fmt.Sprintf("not JSON-serializable: %v", err)}
		}
		rec.State = state
	}
	return rec, nil
}

// CanonicalizeTraining validates m and converts it to a TrainingRecord.
func CanonicalizeTraining(m *TrainingMetadata) (*TrainingRecord, error) {
	if m == nil {
		return nil, &ValidationError{Field: "TrainingMetadata", Reason: "is nil"}
	}
	if err := validateStruct("TrainingMetadata", m); err != nil {
		return nil, err
	}
	features, err := encodeJSON("FeatureColumns", m.FeatureColumns, "[]")
	if err != nil {
		return nil, err
	}
	metrics, err := encodeJSON("Metrics", m.Metrics, "{}")
	if err != nil {
		return nil, err
	}
	hyper, err := encodeJSON("Hyperparameters", m.Hyperparameters, "{}")
	if err != nil {
		return nil, err
	}
	return &TrainingRecord{
		ID:                  m.ID,
		DatasetID:           m.DatasetID,
		ModelID:             m.ModelID,
		ProblemType:         m.ProblemType,
		TargetColumn:        m.TargetColumn,
		FeatureColumnsJSON:  features,
		MetricsJSON:         metrics,
		HyperparametersJSON: hyper,
		DurationSeconds:     m.DurationSeconds,
		TrainedAt:           NormalizeTime(m.TrainedAt),
		CreatedAt:           NormalizeTime(m.CreatedAt),
	}, nil
}

// CanonicalizeFeedback validates f and converts it to a FeedbackRecord.
func CanonicalizeFeedback(f *Feedback) (*FeedbackRecord, error) {
	if f == nil {
		return nil, &ValidationError{Field: "Feedback", Reason: "is nil"}
	}
	if err := validateStruct("Feedback", f); err != nil {
		return nil, err
	}
	predicted, err := encodeScalar("PredictedValue", f.PredictedValue)
	if err != nil {
		return nil, err
	}
	actual, err := encodeScalar("ActualValue", f.ActualValue)
	if err != nil {
		return nil, err
	}
	return &FeedbackRecord{
		ID:            f.ID,
		PredictionID:  f.PredictionID,
		DatasetID:     f.DatasetID,
		ModelID:       f.ModelID,
		IsCorrect:     f.IsCorrect,
		PredictedJSON: predicted,
		ActualJSON:    actual,
		Comment:       f.Comment,
		CreatedAt:     NormalizeTime(f.CreatedAt),
	}, nil
}

// ValidateReference checks that ref names a cascadable kind and a valid id.
func ValidateReference(ref Reference) error {
	switch ref.Kind {
	case KindDataset, KindWorkspace, KindTrainingMetadata, KindFeedback, KindBlob:
	default:
		return &ValidationError{Field: "Reference.Kind", Reason: fmt.Sprintf("unknown entity kind %q", ref.Kind)}
	}
	if !IsValidID(ref.ID) {
		return &ValidationError{Field: "Reference.ID", Reason: fmt.Sprintf("invalid id %q", ref.ID)}
	}
	return nil
}

// ValidateBlobOwner checks that ref may own a blob.
func ValidateBlobOwner(ref Reference) error {
	if err := ValidateReference(ref); err != nil {
		return err
	}
	if ref.Kind != KindDataset && ref.Kind != KindWorkspace {
		return &ValidationError{Field: "Owner.Kind", Reason: fmt.Sprintf("%s cannot own a blob", ref.Kind)}
	}
	return nil
}
