// Package partition manages the tree registry and the per-tree partitions
// of the entries and removed tables.
package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fstrack/internal/model"
	"fstrack/internal/storage"
	"fstrack/internal/track"
)

var (
	ErrInvalidTree  = errors.New("tree id must be positive")
	ErrTreeNotFound = errors.New("tree not found")
)

// Partitioned lists the tables split by tree.
var Partitioned = []string{"entries", "removed"}

// Manager creates partitions on demand and maintains the registry.
type Manager struct {
	provider storage.Provider
	clock    track.Clock

	mu      sync.Mutex
	ensured map[int64]struct{}
}

// NewManager creates a Manager. The provider is used by the registry
// operations that run in their own transaction.
func NewManager(provider storage.Provider, clock track.Clock) *Manager {
	return &Manager{
		provider: provider,
		clock:    clock,
		ensured:  make(map[int64]struct{}),
	}
}

// Ensure makes sure treeID is registered and has its partitions, inside
// the caller's transaction. Repeated calls are cheap: the DDL only runs
// until a transaction that ran it has committed.
func (m *Manager) Ensure(ctx context.Context, tx storage.Tx, treeID int64) error {
	if treeID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTree, treeID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trees (tree_id, created_at) VALUES ($1, $2) ON CONFLICT (tree_id) DO NOTHING`,
		treeID, m.clock.Now().UTC()); err != nil {
		return fmt.Errorf("registering tree %d: %w", treeID, err)
	}

	if m.isEnsured(treeID) {
		return nil
	}

	d := tx.Dialect()
	for _, parent := range Partitioned {
		ddl := d.CreatePartition(parent, treeID)
		if ddl == "" {
			continue
		}
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating partition of %s for tree %d: %w", parent, treeID, err)
		}
	}

	tx.OnCommit(func() {
		m.mu.Lock()
		m.ensured[treeID] = struct{}{}
		m.mu.Unlock()
	})
	return nil
}

func (m *Manager) isEnsured(treeID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ensured[treeID]
	return ok
}

// Register records treeID with the directory it is crawled from and
// creates its partitions.
func (m *Manager) Register(ctx context.Context, treeID int64, rootPath string) error {
	return m.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := m.Ensure(ctx, tx, treeID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE trees SET root_path = $2 WHERE tree_id = $1`, treeID, rootPath); err != nil {
			return fmt.Errorf("setting root of tree %d: %w", treeID, err)
		}
		return nil
	})
}

// List returns every registered tree ordered by id.
func (m *Manager) List(ctx context.Context) ([]*model.Tree, error) {
	var trees []*model.Tree
	err := m.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		rows, err := tx.Query(ctx, `SELECT tree_id, root_path, created_at FROM trees ORDER BY tree_id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			t := &model.Tree{}
			if err := rows.Scan(&t.ID, &t.RootPath, &t.CreatedAt); err != nil {
				return err
			}
			trees = append(trees, t)
		}
		return rows.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("listing trees: %w", err)
	}
	return trees, nil
}

// Lookup returns one tree, or ErrTreeNotFound.
func (m *Manager) Lookup(ctx context.Context, treeID int64) (*model.Tree, error) {
	t := &model.Tree{}
	err := m.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.QueryRow(ctx, `SELECT tree_id, root_path, created_at FROM trees WHERE tree_id = $1`, treeID).
			Scan(&t.ID, &t.RootPath, &t.CreatedAt)
	})
	if errors.Is(err, storage.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTreeNotFound, treeID)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up tree %d: %w", treeID, err)
	}
	return t, nil
}

// Drop deletes everything recorded for treeID, including its partitions.
func (m *Manager) Drop(ctx context.Context, treeID int64) error {
	err := m.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		d := tx.Dialect()
		for _, parent := range Partitioned {
			if ddl := d.DropPartition(parent, treeID); ddl != "" {
				if _, err := tx.Exec(ctx, ddl); err != nil {
					return fmt.Errorf("dropping partition of %s: %w", parent, err)
				}
				continue
			}
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tree_id = $1`, parent), treeID); err != nil {
				return fmt.Errorf("deleting from %s: %w", parent, err)
			}
		}
		for _, table := range []string{"imports", "trees"} {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tree_id = $1`, table), treeID); err != nil {
				return fmt.Errorf("deleting from %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dropping tree %d: %w", treeID, err)
	}

	m.mu.Lock()
	delete(m.ensured, treeID)
	m.mu.Unlock()
	return nil
}
