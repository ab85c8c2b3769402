package partition

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"fstrack/internal/storage"
	"fstrack/internal/testutil"
)

func TestManager_Ensure(t *testing.T) {
	ctx := context.Background()

	t.Run("registers tree once", func(t *testing.T) {
		p := testutil.NewTestProvider(t)
		m := NewManager(p, testutil.FixedClock())

		for i := 0; i < 3; i++ {
			err := p.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
				return m.Ensure(ctx, tx, 7)
			})
			if err != nil {
				t.Fatalf("Ensure() error = %v", err)
			}
		}

		if n := testutil.Count(t, p, "SELECT COUNT(*) FROM trees WHERE tree_id = $1", 7); n != 1 {
			t.Errorf("trees rows = %d, want 1", n)
		}
	})

	t.Run("rejects non-positive ids", func(t *testing.T) {
		p := testutil.NewTestProvider(t)
		m := NewManager(p, testutil.FixedClock())

		err := p.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return m.Ensure(ctx, tx, 0)
		})
		if !errors.Is(err, ErrInvalidTree) {
			t.Errorf("Ensure(0) error = %v, want ErrInvalidTree", err)
		}
	})

	t.Run("cache is only filled on commit", func(t *testing.T) {
		p := testutil.NewTestProvider(t)
		m := NewManager(p, testutil.FixedClock())
		boom := errors.New("boom")

		err := p.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := m.Ensure(ctx, tx, 3); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v", err)
		}
		if m.isEnsured(3) {
			t.Error("tree marked ensured after rollback")
		}
		if n := testutil.Count(t, p, "SELECT COUNT(*) FROM trees"); n != 0 {
			t.Errorf("trees rows = %d, want 0", n)
		}

		err = p.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return m.Ensure(ctx, tx, 3)
		})
		if err != nil {
			t.Fatalf("Ensure() error = %v", err)
		}
		if !m.isEnsured(3) {
			t.Error("tree not marked ensured after commit")
		}
	})
}

func TestManager_Registry(t *testing.T) {
	ctx := context.Background()
	p := testutil.NewTestProvider(t)
	m := NewManager(p, testutil.FixedClock())

	if err := m.Register(ctx, 2, "/data/two"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(ctx, 1, "/data/one"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(ctx, 1, "/data/uno"); err != nil {
		t.Fatalf("Register() again error = %v", err)
	}

	trees, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(trees) != 2 {
		t.Fatalf("List() returned %d trees, want 2", len(trees))
	}
	if trees[0].ID != 1 || trees[0].RootPath != "/data/uno" {
		t.Errorf("trees[0] = %+v", trees[0])
	}
	if trees[1].ID != 2 || trees[1].RootPath != "/data/two" {
		t.Errorf("trees[1] = %+v", trees[1])
	}

	tree, err := m.Lookup(ctx, 2)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if tree.RootPath != "/data/two" {
		t.Errorf("Lookup().RootPath = %q", tree.RootPath)
	}

	if _, err := m.Lookup(ctx, 99); !errors.Is(err, ErrTreeNotFound) {
		t.Errorf("Lookup(99) error = %v, want ErrTreeNotFound", err)
	}
}

func TestManager_Drop(t *testing.T) {
	ctx := context.Background()
	p := testutil.NewTestProvider(t)
	m := NewManager(p, testutil.FixedClock())
	now := testutil.FixedClock().Now()

	for _, id := range []int64{1, 2} {
		if err := m.Register(ctx, id, "/root"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		err := p.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			imp := fmt.Sprintf("imp-%d", id)
			if _, err := tx.Exec(ctx, `INSERT INTO imports (import_id, tree_id, started_at) VALUES ($1, $2, $3)`, imp, id, now); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO entries (tree_id, path, type, bytes, mtime, ext1, first_discovery_at, last_change_at)
				VALUES ($1, '/a.txt', 'file', 1, $2, '.txt', $3, $3)`, id, now, imp); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO removed (tree_id, path, ext1, removed_at) VALUES ($1, '/b.txt', '.txt', $2)`, id, imp)
			return err
		})
		if err != nil {
			t.Fatalf("seeding tree %d: %v", id, err)
		}
	}

	if err := m.Drop(ctx, 1); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}

	for _, table := range []string{"entries", "removed", "imports", "trees"} {
		if n := testutil.Count(t, p, "SELECT COUNT(*) FROM "+table+" WHERE tree_id = $1", 1); n != 0 {
			t.Errorf("%s rows for dropped tree = %d, want 0", table, n)
		}
		if n := testutil.Count(t, p, "SELECT COUNT(*) FROM "+table+" WHERE tree_id = $1", 2); n != 1 {
			t.Errorf("%s rows for other tree = %d, want 1", table, n)
		}
	}
	if m.isEnsured(1) {
		t.Error("dropped tree still cached")
	}
}
