package importer

import (
	"context"
	"fmt"
	"math"

	"fstrack/internal/model"
	"fstrack/internal/storage"
)

// History lists the finished imports of treeID, newest first. limit <= 0
// returns all of them.
func (im *Importer) History(ctx context.Context, treeID int64, limit int) ([]*model.Import, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}

	var imports []*model.Import
	err := im.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		rows, err := tx.Query(ctx, `SELECT import_id, tree_id, started_at, finished_at, entry_count, new_count, changed_count, deleted_count
			FROM imports WHERE tree_id = $1 AND finished_at IS NOT NULL
			ORDER BY import_id DESC LIMIT $2`, treeID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			i := &model.Import{}
			if err := rows.Scan(&i.ID, &i.TreeID, &i.StartedAt, &i.FinishedAt,
				&i.EntryCount, &i.NewCount, &i.ChangedCount, &i.DeletedCount); err != nil {
				return err
			}
			imports = append(imports, i)
		}
		return rows.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("reading history of tree %d: %w", treeID, err)
	}
	return imports, nil
}

// Changed lists the live entries an import created or modified.
func (im *Importer) Changed(ctx context.Context, treeID int64, importID string) ([]*model.Entry, error) {
	var entries []*model.Entry
	err := im.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		rows, err := tx.Query(ctx, `SELECT tree_id, path, type, bytes, mtime, ext1, first_discovery_at, last_change_at
			FROM entries WHERE tree_id = $1 AND last_change_at = $2 ORDER BY path`, treeID, importID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e := &model.Entry{}
			if err := rows.Scan(&e.TreeID, &e.Path, &e.Type, &e.Bytes, &e.MTime, &e.Ext1,
				&e.FirstDiscoveryAt, &e.LastChangeAt); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("reading changes of import %s: %w", importID, err)
	}
	return entries, nil
}

// Removed lists the paths an import found gone.
func (im *Importer) Removed(ctx context.Context, treeID int64, importID string) ([]*model.Removed, error) {
	var removed []*model.Removed
	err := im.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		rows, err := tx.Query(ctx, `SELECT tree_id, path, ext1, removed_at
			FROM removed WHERE tree_id = $1 AND removed_at = $2 ORDER BY path`, treeID, importID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			r := &model.Removed{}
			if err := rows.Scan(&r.TreeID, &r.Path, &r.Ext1, &r.RemovedAt); err != nil {
				return err
			}
			removed = append(removed, r)
		}
		return rows.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("reading removals of import %s: %w", importID, err)
	}
	return removed, nil
}
