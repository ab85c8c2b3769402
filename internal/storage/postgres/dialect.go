package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"fstrack/internal/storage"
)

// Dialect is the PostgreSQL storage.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) TimestampType() string { return "TIMESTAMPTZ" }

func (Dialect) TempTable(name, columns string) string {
	return fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s) ON COMMIT DROP", name, columns)
}

func (Dialect) ForUpdate(skipLocked bool) string {
	if skipLocked {
		return " FOR UPDATE SKIP LOCKED"
	}
	return " FOR UPDATE"
}

func (Dialect) CreatePartition(parent string, treeID int64) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES IN (%d)",
		pgx.Identifier{storage.PartitionName(parent, treeID)}.Sanitize(),
		pgx.Identifier{parent}.Sanitize(), treeID)
}

func (Dialect) DropPartition(parent string, treeID int64) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", pgx.Identifier{storage.PartitionName(parent, treeID)}.Sanitize())
}
