// Package storage defines the transactional persistence boundary shared by
// the importer, the outbox and the partition manager.
//
// Statements are written with PostgreSQL-style positional placeholders
// ($1, $2, ...). Each provider adapts them to its engine.
package storage

import (
	"context"
	"errors"
)

// ErrNoRows is returned by Row.Scan when the query selected nothing.
var ErrNoRows = errors.New("no rows in result set")

// Rows iterates over a query result. Close must be called; it returns the
// iteration error, if any.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...any) error
}

// Queryer executes statements.
type Queryer interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Dialect() Dialect
}

// RowSource feeds CopyFrom one row at a time. Values is valid after Next
// returns true; Err reports why Next returned false, nil at a clean end.
type RowSource interface {
	Next() bool
	Values() ([]any, error)
	Err() error
}

// Tx is an open transaction.
type Tx interface {
	Queryer

	// CopyFrom bulk-loads rows into table, pulling from src as it goes.
	CopyFrom(ctx context.Context, table string, columns []string, src RowSource) (int64, error)

	// OnCommit registers fn to run after the transaction commits. Hooks
	// run in registration order and never after a rollback.
	OnCommit(fn func())
}

// Provider hands out transactions.
type Provider interface {
	// InTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Dialect() Dialect
	Close() error
}

// Dialect holds the engine-specific SQL fragments.
type Dialect interface {
	Name() string

	// TimestampType is the column type for instants.
	TimestampType() string

	// TempTable returns DDL for a temporary table that lives at most
	// until the end of the current transaction.
	TempTable(name, columns string) string

	// ForUpdate returns the row-locking suffix for a SELECT, or "" when the
	// engine serialises writers at the database level.
	ForUpdate(skipLocked bool) string

	// CreatePartition returns DDL creating the partition of parent for
	// treeID, or "" when the engine has no partitions.
	CreatePartition(parent string, treeID int64) string

	// DropPartition returns DDL dropping the partition created by
	// CreatePartition, or "".
	DropPartition(parent string, treeID int64) string
}

// Hooks is an ordered list of post-commit callbacks. Providers embed it in
// their transaction type.
type Hooks struct {
	fns []func()
}

// OnCommit appends fn.
func (h *Hooks) OnCommit(fn func()) {
	h.fns = append(h.fns, fn)
}

// RunHooks invokes the callbacks in registration order.
func (h *Hooks) RunHooks() {
	for _, fn := range h.fns {
		fn()
	}
}
