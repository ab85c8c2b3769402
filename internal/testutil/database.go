package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"fstrack/internal/migrations"
	"fstrack/internal/storage"
	"fstrack/internal/storage/sqlite"
)

// NewTestProvider creates a migrated SQLite database in a temporary
// directory. A file is used rather than ":memory:" so concurrent
// transactions share one database. It is closed when the test completes.
func NewTestProvider(t *testing.T, opts ...sqlite.Option) *sqlite.Provider {
	t.Helper()

	p, err := sqlite.Open(filepath.Join(t.TempDir(), "fstrack.db"), opts...)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		p.Close()
	})

	if err := migrations.MigrateUp(p.DB(), "sqlite"); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return p
}

// Count runs a COUNT query and fails the test on error.
func Count(t *testing.T, p storage.Provider, query string, args ...any) int64 {
	t.Helper()

	var n int64
	err := p.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.QueryRow(ctx, query, args...).Scan(&n)
	})
	if err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}
