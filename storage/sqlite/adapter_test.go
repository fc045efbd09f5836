package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
	"github.com/poiesic/datavault/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := Open(context.Background(), Options{
		Path:           filepath.Join(t.TempDir(), "vault.db"),
		MaxInlineBytes: 1 << 20,
		MaxBlobBytes:   8 << 20,
	})
	require.NoError(t, err)
	return a
}

func TestAdapterConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Adapter {
		return newTestAdapter(t)
	})
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		opts Options
	}{
		{"missing path", Options{}},
		{"min above max", Options{Path: filepath.Join(t.TempDir(), "a.db"), MinSessions: 5, MaxSessions: 2}},
		{"inverted limits", Options{Path: filepath.Join(t.TempDir(), "b.db"), MaxInlineBytes: 10, MaxBlobBytes: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Open(ctx, tt.opts)
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}

func TestOpen_ReopenKeepsDataAndSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "vault.db")

	a, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, a.CreateDataset(ctx, storagetest.NewDataset("ds-1", []byte("rows"))))
	require.NoError(t, a.Close())

	a, err = Open(ctx, Options{Path: path})
	require.NoError(t, err)
	defer a.Close()
	got, err := a.GetDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("rows"), got.Data)
}

func TestOpen_PoolSettings(t *testing.T) {
	a, err := Open(context.Background(), Options{
		Path:        filepath.Join(t.TempDir(), "vault.db"),
		MinSessions: 3,
		MaxSessions: 4,
	})
	require.NoError(t, err)
	defer a.Close()

	stats := a.db.Stats()
	assert.Equal(t, 4, stats.MaxOpenConnections)
	assert.GreaterOrEqual(t, stats.OpenConnections, 3, "min sessions are pre-warmed")
}

func TestDSN(t *testing.T) {
	got := dsn(Options{Path: "/tmp/x.db", BusyTimeout: 2 * time.Second})
	assert.Contains(t, got, "file:/tmp/x.db?")
	assert.Contains(t, got, "busy_timeout%282000%29")
	assert.Contains(t, got, "foreign_keys%281%29")
	assert.Contains(t, got, "_txlock=immediate")
}

func TestSchemaConstraints(t *testing.T) {
	a := newTestAdapter(t)
	defer a.Close()
	ctx := context.Background()
	require.NoError(t, a.CreateDataset(ctx, storagetest.NewDataset("ds-1", []byte("x"))))

	tests := []struct {
		name  string
		query string
		args  []any
		want  error
	}{
		{
			name:  "invalid json column",
			query: `UPDATE datasets SET columns_json = ? WHERE id = ?`,
			args:  []any{"[not json", "ds-1"},
			want:  core.ErrConstraintViolation,
		},
		{
			name:  "unclaimed blob row",
			query: `INSERT INTO blobs (id, owner_kind, owner_id, size, created_at) VALUES ('b', 'dataset', 'ds-1', 0, 0)`,
		},
		{
			name:  "unknown storage type",
			query: `UPDATE datasets SET storage_type = 'tape' WHERE id = ?`,
			args:  []any{"ds-1"},
			want:  core.ErrConstraintViolation,
		},
		{
			name:  "dangling dataset reference",
			query: `INSERT INTO training_metadata (id, dataset_id, model_id, problem_type, trained_at, created_at) VALUES ('tm', 'nope', 'm', 'p', 0, 0)`,
			want:  core.ErrMissingReference,
		},
		{
			name:  "bad blob owner kind",
			query: `INSERT INTO blobs (id, owner_kind, owner_id, size, created_at) VALUES ('b2', 'feedback', 'x', 0, 0)`,
			want:  core.ErrConstraintViolation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.withTx(ctx, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, tt.query, tt.args...)
				return err
			})
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	err := a.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE datasets SET blob_id = 'b' WHERE id = 'ds-1'`)
		return err
	})
	assert.ErrorIs(t, err, core.ErrConstraintViolation, "direct record may not reference a blob")
}

func TestDeleteDataset_CascadesInSchema(t *testing.T) {
	a := newTestAdapter(t)
	defer a.Close()
	ctx := context.Background()

	require.NoError(t, a.CreateDataset(ctx, storagetest.NewDataset("ds-1", []byte("x"))))
	require.NoError(t, a.CreateWorkspace(ctx, storagetest.NewWorkspace("ws-1", "ds-1")))
	require.NoError(t, a.CreateTraining(ctx, storagetest.NewTraining("tm-1", "ds-1")))
	require.NoError(t, a.CreateFeedback(ctx, storagetest.NewFeedback("fb-1", "ds-1", "p-1")))

	// An unclaimed blob of the dataset survives the cascade for the sweeper.
	loose := &core.BlobRecord{ID: "loose", OwnerKind: core.KindDataset, OwnerID: "ds-1", CreatedAt: core.Now().Add(-time.Hour)}
	require.NoError(t, a.StoreBlob(ctx, loose, []byte("abandoned upload")))

	require.NoError(t, a.DeleteDataset(ctx, "ds-1"))

	for _, table := range []string{"datasets", "workspaces", "training_metadata", "feedback"} {
		var n int
		require.NoError(t, a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n))
		assert.Zero(t, n, table)
	}

	orphans, err := a.FindOrphans(ctx, core.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"loose"}, orphans.BlobIDs)
}

func TestClaimBlob_OnlyOnce(t *testing.T) {
	a := newTestAdapter(t)
	defer a.Close()
	ctx := context.Background()

	blob := &core.BlobRecord{ID: "b-1", OwnerKind: core.KindDataset, OwnerID: "ds-1"}
	require.NoError(t, a.StoreBlob(ctx, blob, []byte("payload")))
	rec := storagetest.NewDataset("ds-1", nil)
	rec.StorageType = core.StorageBlob
	rec.BlobID = "b-1"
	require.NoError(t, a.CreateDataset(ctx, rec))

	err := a.withTx(ctx, func(tx *sql.Tx) error {
		return claimBlob(ctx, tx, "b-1", core.Reference{Kind: core.KindDataset, ID: "ds-1"})
	})
	assert.ErrorIs(t, err, core.ErrConstraintViolation)
}

func TestRetrieveBlob_SizeMismatch(t *testing.T) {
	a := newTestAdapter(t)
	defer a.Close()
	ctx := context.Background()

	blob := &core.BlobRecord{ID: "b-1", OwnerKind: core.KindDataset, OwnerID: "ds-1"}
	require.NoError(t, a.StoreBlob(ctx, blob, []byte("payload")))
	_, err := a.db.ExecContext(ctx, `UPDATE blobs SET data = ? WHERE id = ?`, []byte("pay"), "b-1")
	require.NoError(t, err)

	_, _, err = a.RetrieveBlob(ctx, "b-1")
	assert.ErrorIs(t, err, core.ErrBlobCorrupted)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(sql.ErrNoRows), core.ErrNotFound)
	assert.ErrorIs(t, classify(sql.ErrConnDone), core.ErrConnectivity)
	assert.Equal(t, core.ErrBlobInUse, classify(core.ErrBlobInUse))
	assert.Equal(t, assert.AnError, classify(assert.AnError))

	assert.Equal(t, core.ErrDuplicatePrediction, constraintKind(2067, "UNIQUE constraint failed: feedback.prediction_id"))
	assert.Equal(t, core.ErrDuplicateKey, constraintKind(2067, "UNIQUE constraint failed: datasets.id"))
	assert.Equal(t, core.ErrMissingReference, constraintKind(787, "FOREIGN KEY constraint failed"))
	assert.Equal(t, core.ErrConstraintViolation, constraintKind(275, "CHECK constraint failed"))
}
