package core

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDataset() *Dataset {
	return &Dataset{
		ID:          "ds-1",
		Name:        "iris",
		RowCount:    2,
		ColumnCount: 2,
		Columns:     []string{"sepal", "species"},
		ColumnTypes: map[string]string{"sepal": "float", "species": "string"},
		Preview:     []map[string]any{{"sepal": 5.1, "species": "setosa"}},
		Data:        []byte("sepal,species\n5.1,setosa\n"),
	}
}

func TestCanonicalizeDataset(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(d *Dataset)
		wantField string
	}{
		{name: "valid", mutate: func(d *Dataset) {}},
		{name: "nil columns encode as empty list", mutate: func(d *Dataset) { d.Columns = nil }},
		{name: "missing id", mutate: func(d *Dataset) { d.ID = "" }, wantField: "ID"},
		{name: "id with slash", mutate: func(d *Dataset) { d.ID = "a/b" }, wantField: "ID"},
		{name: "missing name", mutate: func(d *Dataset) { d.Name = "" }, wantField: "Name"},
		{name: "negative row count", mutate: func(d *Dataset) { d.RowCount = -1 }, wantField: "RowCount"},
		{name: "empty column name", mutate: func(d *Dataset) { d.Columns = []string{"a", ""} }, wantField: "Columns[1]"},
		{name: "unknown storage type", mutate: func(d *Dataset) { d.StorageType = "tape" }, wantField: "StorageType"},
		{name: "unserializable preview", mutate: func(d *Dataset) {
			d.Preview = []map[string]any{{"x": math.NaN()}}
		}, wantField: "Preview"},
		{name: "data and blob reference", mutate: func(d *Dataset) { d.BlobID = "blob-1" }, wantField: "Data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDataset()
			tt.mutate(d)
			rec, err := CanonicalizeDataset(d)
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, d.ID, rec.ID)
				assert.True(t, strings.HasPrefix(rec.ColumnsJSON, "["))
				assert.Equal(t, d.Data, rec.Data)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestCanonicalizeDataset_Nil(t *testing.T) {
	_, err := CanonicalizeDataset(nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDatasetRoundTrip(t *testing.T) {
	d := validDataset()
	d.CreatedAt = time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	rec, err := CanonicalizeDataset(d)
	require.NoError(t, err)
	assert.Equal(t, `["sepal","species"]`, rec.ColumnsJSON)
	assert.Equal(t, 123456000, rec.CreatedAt.Nanosecond())

	got, err := DatasetFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, d.Columns, got.Columns)
	assert.Equal(t, d.ColumnTypes, got.ColumnTypes)
	assert.Equal(t, "setosa", got.Preview[0]["species"])
	assert.Equal(t, d.Data, got.Data)
}

func TestDatasetFromRecord_CorruptJSON(t *testing.T) {
	_, err := DatasetFromRecord(&DatasetRecord{ID: "ds-1", ColumnsJSON: "[oops"})
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestCanonicalizeWorkspace(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	w := &Workspace{
		ID:        "ws-1",
		DatasetID: "ds-1",
		Name:      "analysis",
		State: &WorkspaceState{
			ModelResults: map[string]any{"accuracy": 0.93},
			Charts:       []map[string]any{{"type": "bar"}},
			ChatHistory:  []ChatMessage{{Role: "user", Content: "plot species", Timestamp: ts}},
		},
	}
	rec, err := CanonicalizeWorkspace(w)
	require.NoError(t, err)
	require.NotEmpty(t, rec.State)
	assert.Equal(t, []Reference{{Kind: KindDataset, ID: "ds-1"}}, rec.References())

	got, err := WorkspaceFromRecord(rec)
	require.NoError(t, err)
	require.NotNil(t, got.State)
	assert.Equal(t, 0.93, got.State.ModelResults["accuracy"])
	assert.Equal(t, "plot species", got.State.ChatHistory[0].Content)
	assert.True(t, ts.Equal(got.State.ChatHistory[0].Timestamp))

	w.State.ChatHistory[0].Role = ""
	_, err = CanonicalizeWorkspace(w)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "State.ChatHistory[0].Role", verr.Field)

	_, err = CanonicalizeWorkspace(&Workspace{ID: "ws-2", Name: "x"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "DatasetID", verr.Field)
}

func TestCanonicalizeTraining(t *testing.T) {
	m := &TrainingMetadata{
		ID:              "tm-1",
		DatasetID:       "ds-1",
		ModelID:         "rf-1",
		ProblemType:     "classification",
		TargetColumn:    "species",
		FeatureColumns:  []string{"sepal"},
		Metrics:         map[string]float64{"accuracy": 0.9},
		Hyperparameters: map[string]any{"trees": 100, "criterion": "gini"},
		DurationSeconds: 1.5,
	}
	rec, err := CanonicalizeTraining(m)
	require.NoError(t, err)
	assert.Equal(t, `{"accuracy":0.9}`, rec.MetricsJSON)

	got, err := TrainingFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, m.Metrics, got.Metrics)
	assert.Equal(t, float64(100), got.Hyperparameters["trees"])

	m.Metrics["loss"] = math.Inf(1)
	_, err = CanonicalizeTraining(m)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Metrics", verr.Field)
}

func TestCanonicalizeFeedback(t *testing.T) {
	f := &Feedback{
		ID:             "fb-1",
		PredictionID:   "pred-12345",
		DatasetID:      "ds-1",
		ModelID:        "rf-1",
		IsCorrect:      false,
		PredictedValue: "setosa",
		ActualValue:    "versicolor",
	}
	rec, err := CanonicalizeFeedback(f)
	require.NoError(t, err)
	assert.Equal(t, `"setosa"`, rec.PredictedJSON)

	got, err := FeedbackFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "versicolor", got.ActualValue)

	f.ActualValue = nil
	rec, err = CanonicalizeFeedback(f)
	require.NoError(t, err)
	assert.Equal(t, "null", rec.ActualJSON)

	f.PredictedValue = []int{1, 2}
	_, err = CanonicalizeFeedback(f)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "PredictedValue", verr.Field)

	f.PredictedValue = 1
	f.PredictionID = ""
	_, err = CanonicalizeFeedback(f)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "PredictionID", verr.Field)
}

func TestValidateBlobOwner(t *testing.T) {
	assert.NoError(t, ValidateBlobOwner(Reference{Kind: KindDataset, ID: "ds-1"}))
	assert.NoError(t, ValidateBlobOwner(Reference{Kind: KindWorkspace, ID: "ws-1"}))
	assert.ErrorIs(t, ValidateBlobOwner(Reference{Kind: KindFeedback, ID: "fb-1"}), ErrValidation)
	assert.ErrorIs(t, ValidateBlobOwner(Reference{Kind: "chart", ID: "c-1"}), ErrValidation)
	assert.ErrorIs(t, ValidateBlobOwner(Reference{Kind: KindDataset, ID: ""}), ErrValidation)
}
