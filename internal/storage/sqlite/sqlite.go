// Package sqlite implements storage.Provider on top of SQLite.
//
// SQLite has no row locks. Every transaction starts with BEGIN IMMEDIATE,
// taking the database write lock up front, so a transaction that reads a
// row is the only writer until it commits.
//
// Transactions of one Provider are also queued in process before BEGIN.
// A caller waits for the transaction ahead of it for as long as its
// context allows, instead of failing with "database is locked" once the
// busy timeout runs out behind a long import.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"fstrack/internal/storage"
)

const (
	dsnParams          = "_txlock=immediate&_foreign_keys=on"
	defaultBusyTimeout = 10 * time.Second
)

// Provider is a storage.Provider backed by a SQLite database.
type Provider struct {
	db   *sql.DB
	path string
	sem  chan struct{}
}

var _ storage.Provider = (*Provider)(nil)

type options struct {
	busyTimeout time.Duration
}

// Option configures Open.
type Option func(*options)

// WithBusyTimeout sets how long a connection waits for a lock held by
// another process before failing with "database is locked".
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

// Open opens the database at path, creating it if needed.
// path can be a file path or ":memory:" for an in-memory database.
func Open(path string, opts ...Option) (*Provider, error) {
	o := options{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := openConnection(path, o.busyTimeout)
	if err != nil {
		return nil, err
	}
	return &Provider{db: db, path: path, sem: make(chan struct{}, 1)}, nil
}

// OpenConnection opens and configures a SQLite connection pool.
// Exported for migrations and tools that need a *sql.DB.
func OpenConnection(path string) (*sql.DB, error) {
	return openConnection(path, defaultBusyTimeout)
}

func openConnection(path string, busyTimeout time.Duration) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?%s&_busy_timeout=%d", path, dsnParams, busyTimeout.Milliseconds())
	memory := path == ":memory:"
	if !memory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// DB exposes the underlying pool.
func (p *Provider) DB() *sql.DB {
	return p.db
}

// Path returns the path the provider was opened with.
func (p *Provider) Path() string {
	return p.path
}

func (p *Provider) Dialect() storage.Dialect {
	return Dialect{}
}

func (p *Provider) Close() error {
	return p.db.Close()
}

// InTx runs fn in a transaction. Calls must not nest: fn may not start
// another transaction on the same Provider.
func (p *Provider) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := p.run(ctx, fn)
	if err != nil {
		return err
	}
	// Hooks run after the slot is released so they may start transactions.
	tx.RunHooks()
	return nil
}

func (p *Provider) run(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (*Tx, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for transaction slot: %w", ctx.Err())
	}
	defer func() { <-p.sem }()

	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{tx: sqlTx}
	if err := fn(ctx, tx); err != nil {
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return tx, nil
}

// Tx is an open SQLite transaction.
type Tx struct {
	storage.Hooks
	tx *sql.Tx
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) Dialect() storage.Dialect {
	return Dialect{}
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) storage.Row {
	return row{t.tx.QueryRowContext(ctx, Rebind(query), args...)}
}

// CopyFrom inserts src through a single prepared statement.
func (t *Tx) CopyFrom(ctx context.Context, table string, columns []string, src storage.RowSource) (int64, error) {
	marks := make([]string, len(columns))
	for i := range marks {
		marks[i] = "?"
	}
	stmt, err := t.tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return 0, fmt.Errorf("preparing bulk insert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return n, err
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return n, fmt.Errorf("inserting row %d: %w", n+1, err)
		}
		n++
	}
	if err := src.Err(); err != nil {
		return n, err
	}
	return n, nil
}

type row struct {
	r *sql.Row
}

func (r row) Scan(dest ...any) error {
	err := r.r.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNoRows
	}
	return err
}
