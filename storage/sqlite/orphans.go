package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// FindOrphans implements storage.Adapter. Blobs qualify when no record ever
// claimed them. Foreign keys keep dependents attached to their dataset, so
// the dependent queries only find rows written with enforcement off.
func (a *Adapter) FindOrphans(ctx context.Context, olderThan time.Time) (*storage.Orphans, error) {
	const op = "orphans.find"
	if err := a.begin(ctx); err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	orphans := &storage.Orphans{}
	err := a.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		orphans.BlobIDs, err = queryIDs(ctx, tx, `
			SELECT id FROM blobs
			WHERE dataset_id IS NULL AND workspace_id IS NULL AND created_at < ?
			ORDER BY seq`, core.UnixMicro(olderThan))
		if err != nil {
			return err
		}
		for _, q := range []struct {
			table string
			dest  *[]string
		}{
			{"workspaces", &orphans.WorkspaceIDs},
			{"training_metadata", &orphans.TrainingIDs},
			{"feedback", &orphans.FeedbackIDs},
		} {
			*q.dest, err = queryIDs(ctx, tx, `
				SELECT id FROM `+q.table+` AS t
				WHERE NOT EXISTS (SELECT 1 FROM datasets d WHERE d.id = t.dataset_id)
				ORDER BY seq DESC`)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap(Name, op, err)
	}
	return orphans, nil
}

func queryIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
