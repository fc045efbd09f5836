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

// Package storagetest holds the conformance suite every storage.Adapter must
// pass. Running the same suite against each backend is what shows that the
// document store's manual cascades and the relational store's schema
// cascades behave identically.
package storagetest

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty adapter. The suite closes it. Adapters must be
// opened with an inline ceiling of at most 1 MiB and a blob ceiling of at
// most 8 MiB so the size limit cases stay cheap.
type Factory func(t *testing.T) storage.Adapter

// Run runs the full suite.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, a storage.Adapter)
	}{
		{"DatasetRoundTrip", testDatasetRoundTrip},
		{"BlobRoundTrip", testBlobRoundTrip},
		{"BlobReferenceChecks", testBlobReferenceChecks},
		{"TierConstraint", testTierConstraint},
		{"SizeLimits", testSizeLimits},
		{"ListOrderAndFilter", testListOrderAndFilter},
		{"UpdateDataset", testUpdateDataset},
		{"UpdateWorkspace", testUpdateWorkspace},
		{"RecordTraining", testRecordTraining},
		{"MissingReferences", testMissingReferences},
		{"CascadeDelete", testCascadeDelete},
		{"WorkspaceDeleteKeepsDataset", testWorkspaceDeleteKeepsDataset},
		{"IdempotentDelete", testIdempotentDelete},
		{"DuplicateKeys", testDuplicateKeys},
		{"PredictionUniqueness", testPredictionUniqueness},
		{"DeleteBlobInUse", testDeleteBlobInUse},
		{"FindOrphans", testFindOrphans},
		{"UnicodeAndReservedWords", testUnicodeAndReservedWords},
		{"Closed", testClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := open(t)
			defer a.Close()
			tt.fn(t, a)
		})
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

// NewDataset returns a valid direct-tier dataset record.
func NewDataset(id string, data []byte) *core.DatasetRecord {
	now := core.Now()
	return &core.DatasetRecord{
		ID:              id,
		Name:            "dataset " + id,
		RowCount:        3,
		ColumnCount:     2,
		ColumnsJSON:     `["a","b"]`,
		ColumnTypesJSON: `{"a":"int","b":"string"}`,
		PreviewJSON:     `[{"a":1,"b":"x"}]`,
		StorageType:     core.StorageDirect,
		Data:            data,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewWorkspace returns a valid direct-tier workspace record.
func NewWorkspace(id, datasetID string) *core.WorkspaceRecord {
	now := core.Now()
	return &core.WorkspaceRecord{
		ID:          id,
		DatasetID:   datasetID,
		Name:        "workspace " + id,
		StorageType: core.StorageDirect,
		State:       []byte(`{"model_results":{"accuracy":0.9}}`),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewTraining returns a valid training record.
func NewTraining(id, datasetID string) *core.TrainingRecord {
	now := core.Now()
	return &core.TrainingRecord{
		ID:                  id,
		DatasetID:           datasetID,
		ModelID:             "model-1",
		ProblemType:         "classification",
		TargetColumn:        "b",
		FeatureColumnsJSON:  `["a"]`,
		MetricsJSON:         `{"accuracy":0.91}`,
		HyperparametersJSON: `{"depth":3}`,
		DurationSeconds:     2.5,
		TrainedAt:           now,
		CreatedAt:           now,
	}
}

// NewFeedback returns a valid feedback record.
func NewFeedback(id, datasetID, predictionID string) *core.FeedbackRecord {
	return &core.FeedbackRecord{
		ID:            id,
		PredictionID:  predictionID,
		DatasetID:     datasetID,
		ModelID:       "model-1",
		IsCorrect:     true,
		PredictedJSON: `"x"`,
		ActualJSON:    `"x"`,
		Comment:       "looks right",
		CreatedAt:     core.Now(),
	}
}

// storeBlob stores data as a blob owned by owner.
func storeBlob(t *testing.T, a storage.Adapter, owner core.Reference, data []byte) *core.BlobRecord {
	t.Helper()
	rec := &core.BlobRecord{
		ID:           core.NewID(),
		OwnerKind:    owner.Kind,
		OwnerID:      owner.ID,
		Size:         int64(len(data)),
		OriginalSize: int64(len(data)),
		ContentType:  "application/octet-stream",
		CreatedAt:    core.Now(),
	}
	require.NoError(t, a.StoreBlob(context.Background(), rec, data))
	return rec
}

func createBlobDataset(t *testing.T, a storage.Adapter, id string, data []byte) (*core.DatasetRecord, *core.BlobRecord) {
	t.Helper()
	blob := storeBlob(t, a, core.Reference{Kind: core.KindDataset, ID: id}, data)
	rec := NewDataset(id, nil)
	rec.StorageType = core.StorageBlob
	rec.BlobID = blob.ID
	require.NoError(t, a.CreateDataset(context.Background(), rec))
	return rec, blob
}

func assertSameTime(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %v, got %v", want, got)
}

func testDatasetRoundTrip(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	data := randomBytes(t, 2<<10)
	rec := NewDataset("ds-1", data)
	rec.LastTrainedAt = time.Time{}
	require.NoError(t, a.CreateDataset(ctx, rec))

	got, err := a.GetDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.RowCount, got.RowCount)
	assert.Equal(t, rec.ColumnCount, got.ColumnCount)
	assert.JSONEq(t, rec.ColumnsJSON, got.ColumnsJSON)
	assert.JSONEq(t, rec.ColumnTypesJSON, got.ColumnTypesJSON)
	assert.JSONEq(t, rec.PreviewJSON, got.PreviewJSON)
	assert.Equal(t, core.StorageDirect, got.StorageType)
	assert.True(t, bytes.Equal(data, got.Data))
	assert.Empty(t, got.BlobID)
	assert.True(t, got.LastTrainedAt.IsZero())
	assertSameTime(t, rec.CreatedAt, got.CreatedAt)
	assertSameTime(t, rec.UpdatedAt, got.UpdatedAt)

	ws := NewWorkspace("ws-1", "ds-1")
	require.NoError(t, a.CreateWorkspace(ctx, ws))
	gotWS, err := a.GetWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(ws.State), string(gotWS.State))
	assert.Equal(t, "ds-1", gotWS.DatasetID)

	tm := NewTraining("tm-1", "ds-1")
	require.NoError(t, a.CreateTraining(ctx, tm))
	gotTM, err := a.GetTraining(ctx, "tm-1")
	require.NoError(t, err)
	assert.Equal(t, tm.ModelID, gotTM.ModelID)
	assert.JSONEq(t, tm.MetricsJSON, gotTM.MetricsJSON)
	assert.JSONEq(t, tm.HyperparametersJSON, gotTM.HyperparametersJSON)
	assert.Equal(t, tm.DurationSeconds, gotTM.DurationSeconds)
	assertSameTime(t, tm.TrainedAt, gotTM.TrainedAt)

	fb := NewFeedback("fb-1", "ds-1", "pred-1")
	fb.IsCorrect = false
	require.NoError(t, a.CreateFeedback(ctx, fb))
	gotFB, err := a.GetFeedback(ctx, "fb-1")
	require.NoError(t, err)
	assert.Equal(t, "pred-1", gotFB.PredictionID)
	assert.False(t, gotFB.IsCorrect)
	assert.Equal(t, fb.Comment, gotFB.Comment)
	assert.JSONEq(t, fb.PredictedJSON, gotFB.PredictedJSON)

	_, err = a.GetDataset(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = a.GetWorkspace(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = a.GetTraining(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = a.GetFeedback(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = a.GetBlobInfo(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = a.RetrieveBlob(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testBlobRoundTrip(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	for _, size := range []int{1, 255<<10 - 1, 255 << 10, 255<<10 + 1, 3 << 20} {
		data := randomBytes(t, size)
		owner := core.Reference{Kind: core.KindDataset, ID: core.NewID()}
		blob := storeBlob(t, a, owner, data)

		meta, got, err := a.RetrieveBlob(ctx, blob.ID)
		require.NoError(t, err, "size %d", size)
		assert.True(t, bytes.Equal(data, got), "size %d", size)
		assert.Equal(t, int64(size), meta.Size)
		assert.Equal(t, owner.Kind, meta.OwnerKind)
		assert.Equal(t, owner.ID, meta.OwnerID)
		assert.Equal(t, "application/octet-stream", meta.ContentType)

		info, err := a.GetBlobInfo(ctx, blob.ID)
		require.NoError(t, err)
		assert.Equal(t, meta.Size, info.Size)
		assertSameTime(t, blob.CreatedAt, info.CreatedAt)
	}

	rec, blob := createBlobDataset(t, a, "ds-blob", randomBytes(t, 600<<10))
	got, err := a.GetDataset(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StorageBlob, got.StorageType)
	assert.Equal(t, blob.ID, got.BlobID)
	assert.Empty(t, got.Data)
}

func testBlobReferenceChecks(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	blob := storeBlob(t, a, core.Reference{Kind: core.KindDataset, ID: "other"}, []byte("payload"))

	rec := NewDataset("ds-1", nil)
	rec.StorageType = core.StorageBlob
	rec.BlobID = blob.ID
	err := a.CreateDataset(ctx, rec)
	assert.ErrorIs(t, err, core.ErrConstraintViolation)

	rec.BlobID = "no-such-blob"
	err = a.CreateDataset(ctx, rec)
	assert.ErrorIs(t, err, core.ErrConstraintViolation)

	_, err = a.GetDataset(ctx, "ds-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testTierConstraint(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	rec := NewDataset("ds-1", nil)
	rec.StorageType = core.StorageBlob
	err := a.CreateDataset(ctx, rec)
	assert.ErrorIs(t, err, core.ErrConstraintViolation)

	require.NoError(t, a.CreateDataset(ctx, NewDataset("ds-2", []byte("x"))))
	ws := NewWorkspace("ws-1", "ds-2")
	ws.StorageType = core.StorageBlob
	err = a.CreateWorkspace(ctx, ws)
	assert.ErrorIs(t, err, core.ErrConstraintViolation)
}

func testSizeLimits(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	limits := a.Limits()
	require.LessOrEqual(t, limits.MaxInlineBytes, int64(1<<20))
	require.LessOrEqual(t, limits.MaxBlobBytes, int64(8<<20))

	rec := NewDataset("ds-1", make([]byte, limits.MaxInlineBytes+1))
	err := a.CreateDataset(ctx, rec)
	assert.ErrorIs(t, err, core.ErrSizeLimitExceeded)

	blob := &core.BlobRecord{ID: core.NewID(), OwnerKind: core.KindDataset, OwnerID: "ds-1", CreatedAt: core.Now()}
	err = a.StoreBlob(ctx, blob, make([]byte, limits.MaxBlobBytes+1))
	assert.ErrorIs(t, err, core.ErrSizeLimitExceeded)
	_, err = a.GetBlobInfo(ctx, blob.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testListOrderAndFilter(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	for _, id := range []string{"ds-a", "ds-b", "ds-c"} {
		require.NoError(t, a.CreateDataset(ctx, NewDataset(id, []byte(id))))
	}
	datasets, err := a.ListDatasets(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, datasets, 3)
	assert.Equal(t, []string{"ds-c", "ds-b", "ds-a"}, datasetIDs(datasets))
	for _, d := range datasets {
		assert.Empty(t, d.Data, "listings carry no payload")
	}

	limited, err := a.ListDatasets(ctx, storage.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"ds-c", "ds-b"}, datasetIDs(limited))

	require.NoError(t, a.CreateWorkspace(ctx, NewWorkspace("ws-1", "ds-a")))
	require.NoError(t, a.CreateWorkspace(ctx, NewWorkspace("ws-2", "ds-b")))
	require.NoError(t, a.CreateWorkspace(ctx, NewWorkspace("ws-3", "ds-a")))

	all, err := a.ListWorkspaces(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ws-3", "ws-2", "ws-1"}, workspaceIDs(all))
	for _, w := range all {
		assert.Empty(t, w.State, "listings carry no payload")
	}

	forA, err := a.ListWorkspaces(ctx, storage.ListOptions{DatasetID: "ds-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ws-3", "ws-1"}, workspaceIDs(forA))

	require.NoError(t, a.CreateTraining(ctx, NewTraining("tm-1", "ds-a")))
	require.NoError(t, a.CreateTraining(ctx, NewTraining("tm-2", "ds-a")))
	require.NoError(t, a.CreateTraining(ctx, NewTraining("tm-3", "ds-b")))
	trainings, err := a.ListTraining(ctx, storage.ListOptions{DatasetID: "ds-a"})
	require.NoError(t, err)
	require.Len(t, trainings, 2)
	assert.Equal(t, "tm-2", trainings[0].ID)
	assert.Equal(t, "tm-1", trainings[1].ID)

	require.NoError(t, a.CreateFeedback(ctx, NewFeedback("fb-1", "ds-b", "p-1")))
	require.NoError(t, a.CreateFeedback(ctx, NewFeedback("fb-2", "ds-a", "p-2")))
	feedback, err := a.ListFeedback(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, feedback, 2)
	assert.Equal(t, "fb-2", feedback[0].ID)
	forB, err := a.ListFeedback(ctx, storage.ListOptions{DatasetID: "ds-b"})
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, "fb-1", forB[0].ID)

	none, err := a.ListWorkspaces(ctx, storage.ListOptions{DatasetID: "ds-c"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func datasetIDs(recs []*core.DatasetRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

func workspaceIDs(recs []*core.WorkspaceRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

func testUpdateDataset(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	rec, oldBlob := createBlobDataset(t, a, "ds-1", randomBytes(t, 300<<10))
	require.NoError(t, a.RecordTraining(ctx, "ds-1", core.Now()))

	newBlob := storeBlob(t, a, core.Reference{Kind: core.KindDataset, ID: "ds-1"}, randomBytes(t, 400<<10))
	next := *rec
	next.Name = "renamed"
	next.BlobID = newBlob.ID
	next.TrainingCount = 0
	next.UpdatedAt = core.Now().Add(time.Second)
	require.NoError(t, a.UpdateDataset(ctx, &next))

	got, err := a.GetDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, newBlob.ID, got.BlobID)
	assert.Equal(t, int64(1), got.TrainingCount, "training counters are kept")
	assertSameTime(t, rec.CreatedAt, got.CreatedAt)
	assertSameTime(t, next.UpdatedAt, got.UpdatedAt)

	_, err = a.GetBlobInfo(ctx, oldBlob.ID)
	assert.ErrorIs(t, err, core.ErrNotFound, "replaced blob is removed")

	direct := next
	direct.StorageType = core.StorageDirect
	direct.BlobID = ""
	direct.Data = []byte("small again")
	require.NoError(t, a.UpdateDataset(ctx, &direct))
	got, err = a.GetDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, core.StorageDirect, got.StorageType)
	assert.Equal(t, []byte("small again"), got.Data)
	_, err = a.GetBlobInfo(ctx, newBlob.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	missing := NewDataset("nope", []byte("x"))
	assert.ErrorIs(t, a.UpdateDataset(ctx, missing), core.ErrNotFound)
}

func testUpdateWorkspace(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.CreateDataset(ctx, NewDataset("ds-1", []byte("x"))))
	ws := NewWorkspace("ws-1", "ds-1")
	require.NoError(t, a.CreateWorkspace(ctx, ws))

	blob := storeBlob(t, a, core.Reference{Kind: core.KindWorkspace, ID: "ws-1"}, randomBytes(t, 100))
	next := *ws
	next.StorageType = core.StorageBlob
	next.State = nil
	next.BlobID = blob.ID
	next.Name = "moved to blob"
	require.NoError(t, a.UpdateWorkspace(ctx, &next))

	got, err := a.GetWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, core.StorageBlob, got.StorageType)
	assert.Equal(t, blob.ID, got.BlobID)
	assert.Empty(t, got.State)
	assert.Equal(t, "moved to blob", got.Name)

	tm := NewTraining("tm-1", "ds-1")
	require.NoError(t, a.CreateTraining(ctx, tm))
	tm.MetricsJSON = `{"accuracy":0.99}`
	require.NoError(t, a.UpdateTraining(ctx, tm))
	gotTM, err := a.GetTraining(ctx, "tm-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"accuracy":0.99}`, gotTM.MetricsJSON)

	fb := NewFeedback("fb-1", "ds-1", "p-1")
	require.NoError(t, a.CreateFeedback(ctx, fb))
	fb.PredictionID = "p-2"
	fb.Comment = "changed"
	require.NoError(t, a.UpdateFeedback(ctx, fb))
	require.NoError(t, a.CreateFeedback(ctx, NewFeedback("fb-2", "ds-1", "p-1")), "old prediction id is released")
	assert.ErrorIs(t, a.CreateFeedback(ctx, NewFeedback("fb-3", "ds-1", "p-2")), core.ErrDuplicatePrediction)

	assert.ErrorIs(t, a.UpdateWorkspace(ctx, NewWorkspace("nope", "ds-1")), core.ErrNotFound)
	assert.ErrorIs(t, a.UpdateTraining(ctx, NewTraining("nope", "ds-1")), core.ErrNotFound)
	assert.ErrorIs(t, a.UpdateFeedback(ctx, NewFeedback("nope", "ds-1", "p-9")), core.ErrNotFound)
}

func testRecordTraining(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.CreateDataset(ctx, NewDataset("ds-1", []byte("x"))))
	at := core.Now()
	require.NoError(t, a.RecordTraining(ctx, "ds-1", at.Add(-time.Minute)))
	require.NoError(t, a.RecordTraining(ctx, "ds-1", at))

	got, err := a.GetDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TrainingCount)
	assertSameTime(t, at, got.LastTrainedAt)

	assert.ErrorIs(t, a.RecordTraining(ctx, "missing", at), core.ErrNotFound)
}

func testMissingReferences(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	assert.ErrorIs(t, a.CreateWorkspace(ctx, NewWorkspace("ws-1", "missing")), core.ErrConstraintViolation)
	assert.ErrorIs(t, a.CreateTraining(ctx, NewTraining("tm-1", "missing")), core.ErrConstraintViolation)
	assert.ErrorIs(t, a.CreateFeedback(ctx, NewFeedback("fb-1", "missing", "p-1")), core.ErrConstraintViolation)
}

func testCascadeDelete(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	_, dsBlob := createBlobDataset(t, a, "ds-1", randomBytes(t, 700<<10))
	require.NoError(t, a.CreateDataset(ctx, NewDataset("ds-2", []byte("survivor"))))

	require.NoError(t, a.CreateWorkspace(ctx, NewWorkspace("ws-1", "ds-1")))
	wsBlob := storeBlob(t, a, core.Reference{Kind: core.KindWorkspace, ID: "ws-2"}, randomBytes(t, 300<<10))
	ws2 := NewWorkspace("ws-2", "ds-1")
	ws2.StorageType = core.StorageBlob
	ws2.State = nil
	ws2.BlobID = wsBlob.ID
	require.NoError(t, a.CreateWorkspace(ctx, ws2))
	require.NoError(t, a.CreateWorkspace(ctx, NewWorkspace("ws-3", "ds-2")))

	require.NoError(t, a.CreateTraining(ctx, NewTraining("tm-1", "ds-1")))
	require.NoError(t, a.CreateTraining(ctx, NewTraining("tm-2", "ds-1")))
	require.NoError(t, a.CreateFeedback(ctx, NewFeedback("fb-1", "ds-1", "p-1")))
	require.NoError(t, a.CreateFeedback(ctx, NewFeedback("fb-2", "ds-2", "p-2")))

	require.NoError(t, a.DeleteDataset(ctx, "ds-1"))

	_, err := a.GetDataset(ctx, "ds-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	for _, id := range []string{dsBlob.ID, wsBlob.ID} {
		_, err = a.GetBlobInfo(ctx, id)
		assert.ErrorIs(t, err, core.ErrNotFound)
	}
	filter := storage.ListOptions{DatasetID: "ds-1"}
	workspaces, err := a.ListWorkspaces(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, workspaces)
	trainings, err := a.ListTraining(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, trainings)
	feedback, err := a.ListFeedback(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, feedback)
	datasets, err := a.ListDatasets(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ds-2"}, datasetIDs(datasets))

	_, err = a.GetWorkspace(ctx, "ws-3")
	assert.NoError(t, err, "other datasets are untouched")
	_, err = a.GetFeedback(ctx, "fb-2")
	assert.NoError(t, err)

	require.NoError(t, a.CreateFeedback(ctx, NewFeedback("fb-3", "ds-2", "p-1")), "prediction id is released")
}

func testWorkspaceDeleteKeepsDataset(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.CreateDataset(ctx, NewDataset("ds-1", []byte("x"))))
	blob := storeBlob(t, a, core.Reference{Kind: core.KindWorkspace, ID: "ws-1"}, []byte("state"))
	ws := NewWorkspace("ws-1", "ds-1")
	ws.StorageType = core.StorageBlob
	ws.State = nil
	ws.BlobID = blob.ID
	require.NoError(t, a.CreateWorkspace(ctx, ws))

	require.NoError(t, a.DeleteWorkspace(ctx, "ws-1"))
	_, err := a.GetWorkspace(ctx, "ws-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = a.GetBlobInfo(ctx, blob.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = a.GetDataset(ctx, "ds-1")
	assert.NoError(t, err)
}

func testIdempotentDelete(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	assert.NoError(t, a.DeleteDataset(ctx, "missing"))
	assert.NoError(t, a.DeleteWorkspace(ctx, "missing"))
	assert.NoError(t, a.DeleteTraining(ctx, "missing"))
	assert.NoError(t, a.DeleteFeedback(ctx, "missing"))
	assert.NoError(t, a.DeleteBlob(ctx, "missing"))

	require.NoError(t, a.CreateDataset(ctx, NewDataset("ds-1", []byte("x"))))
	require.NoError(t, a.CreateTraining(ctx, NewTraining("tm-1", "ds-1")))
	require.NoError(t, a.DeleteTraining(ctx, "tm-1"))
	require.NoError(t, a.DeleteTraining(ctx, "tm-1"))
	require.NoError(t, a.DeleteDataset(ctx, "ds-1"))
	require.NoError(t, a.DeleteDataset(ctx, "ds-1"))
}

func testDuplicateKeys(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.CreateDataset(ctx, NewDataset("ds-1", []byte("x"))))
	err := a.CreateDataset(ctx, NewDataset("ds-1", []byte("y")))
	assert.ErrorIs(t, err, core.ErrConstraintViolation)

	got, err := a.GetDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got.Data)

	blob := storeBlob(t, a, core.Reference{Kind: core.KindDataset, ID: "ds-2"}, []byte("a"))
	dup := *blob
	err = a.StoreBlob(ctx, &dup, []byte("b"))
	assert.ErrorIs(t, err, core.ErrConstraintViolation)
}

func testPredictionUniqueness(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.CreateDataset(ctx, NewDataset("ds-1", []byte("x"))))
	require.NoError(t, a.CreateDataset(ctx, NewDataset("ds-2", []byte("x"))))
	require.NoError(t, a.CreateFeedback(ctx, NewFeedback("fb-1", "ds-1", "pred-12345")))

	err := a.CreateFeedback(ctx, NewFeedback("fb-2", "ds-2", "pred-12345"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConstraintViolation)
	assert.ErrorIs(t, err, core.ErrDuplicatePrediction)
	assert.Equal(t, core.ErrConstraintViolation, core.KindOf(err))

	_, err = a.GetFeedback(ctx, "fb-2")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testDeleteBlobInUse(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	_, blob := createBlobDataset(t, a, "ds-1", []byte("payload"))
	err := a.DeleteBlob(ctx, blob.ID)
	assert.ErrorIs(t, err, core.ErrBlobInUse)
	assert.ErrorIs(t, err, core.ErrConstraintViolation)

	_, data, err := a.RetrieveBlob(ctx, blob.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func testFindOrphans(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	old := core.Now().Add(-time.Hour)

	unpublished := &core.BlobRecord{ID: core.NewID(), OwnerKind: core.KindDataset, OwnerID: "ds-never", CreatedAt: old}
	require.NoError(t, a.StoreBlob(ctx, unpublished, []byte("lost")))
	fresh := &core.BlobRecord{ID: core.NewID(), OwnerKind: core.KindDataset, OwnerID: "ds-later", CreatedAt: core.Now()}
	require.NoError(t, a.StoreBlob(ctx, fresh, []byte("in flight")))

	published := storeBlob(t, a, core.Reference{Kind: core.KindDataset, ID: "ds-1"}, []byte("kept"))
	rec := NewDataset("ds-1", nil)
	rec.StorageType = core.StorageBlob
	rec.BlobID = published.ID
	require.NoError(t, a.CreateDataset(ctx, rec))

	orphans, err := a.FindOrphans(ctx, core.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{unpublished.ID}, orphans.BlobIDs)
	assert.Empty(t, orphans.WorkspaceIDs)
	assert.Empty(t, orphans.TrainingIDs)
	assert.Empty(t, orphans.FeedbackIDs)
	assert.Equal(t, 1, orphans.Count())

	require.NoError(t, a.DeleteBlob(ctx, unpublished.ID))
	orphans, err = a.FindOrphans(ctx, core.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, orphans.Empty())
}

func testUnicodeAndReservedWords(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	rec := NewDataset("ds-1", []byte("x"))
	rec.Name = `select * from "datasets"; drop table datasets; -- 数据集 🚀`
	rec.ColumnsJSON = `["order","group","naïve","列"]`
	require.NoError(t, a.CreateDataset(ctx, rec))

	got, err := a.GetDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.JSONEq(t, rec.ColumnsJSON, got.ColumnsJSON)

	fb := NewFeedback("fb-1", "ds-1", "préd-'1'")
	fb.Comment = "it's \"quoted\"\nand multi-line"
	require.NoError(t, a.CreateFeedback(ctx, fb))
	gotFB, err := a.GetFeedback(ctx, "fb-1")
	require.NoError(t, err)
	assert.Equal(t, fb.Comment, gotFB.Comment)
	assert.Equal(t, fb.PredictionID, gotFB.PredictionID)
}

func testClosed(t *testing.T, a storage.Adapter) {
	ctx := context.Background()
	require.NoError(t, a.Ping(ctx))
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.Ping(ctx), core.ErrConnectivity)
	_, err := a.GetDataset(ctx, "ds-1")
	assert.ErrorIs(t, err, core.ErrConnectivity)
	assert.ErrorIs(t, a.CreateDataset(ctx, NewDataset("ds-1", []byte("x"))), core.ErrConnectivity)
}
