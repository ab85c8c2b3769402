// Package postgres implements storage.Provider on top of a pgx connection
// pool.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"fstrack/internal/storage"
)

// Provider is a storage.Provider backed by PostgreSQL.
type Provider struct {
	pool *pgxpool.Pool

	dbOnce sync.Once
	db     *sql.DB
}

var _ storage.Provider = (*Provider)(nil)

// Open connects to the database at url. maxConns <= 0 keeps the pgxpool
// default.
func Open(ctx context.Context, url string, maxConns int32) (*Provider, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Provider{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The provider takes ownership.
func NewFromPool(pool *pgxpool.Pool) *Provider {
	return &Provider{pool: pool}
}

// DB exposes the pool through database/sql for tools such as migrate.
func (p *Provider) DB() *sql.DB {
	p.dbOnce.Do(func() {
		p.db = stdlib.OpenDBFromPool(p.pool)
	})
	return p.db
}

func (p *Provider) Dialect() storage.Dialect {
	return Dialect{}
}

func (p *Provider) Close() error {
	if p.db != nil {
		p.db.Close()
	}
	p.pool.Close()
	return nil
}

func (p *Provider) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	pgTx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer pgTx.Rollback(context.WithoutCancel(ctx))

	tx := &Tx{tx: pgTx}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	tx.RunHooks()
	return nil
}

// Tx is an open PostgreSQL transaction.
type Tx struct {
	storage.Hooks
	tx pgx.Tx
}

var _ storage.Tx = (*Tx)(nil)

func (t *Tx) Dialect() storage.Dialect {
	return Dialect{}
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	r, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows{r}, nil
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) storage.Row {
	return row{t.tx.QueryRow(ctx, query, args...)}
}

// CopyFrom streams src with COPY FROM STDIN.
func (t *Tx) CopyFrom(ctx context.Context, table string, columns []string, src storage.RowSource) (int64, error) {
	return t.tx.CopyFrom(ctx, pgx.Identifier{table}, columns, src)
}

type rows struct {
	r pgx.Rows
}

func (r rows) Next() bool             { return r.r.Next() }
func (r rows) Scan(dest ...any) error { return r.r.Scan(dest...) }
func (r rows) Err() error             { return r.r.Err() }

func (r rows) Close() error {
	r.r.Close()
	return r.r.Err()
}

type row struct {
	r pgx.Row
}

func (r row) Scan(dest ...any) error {
	err := r.r.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNoRows
	}
	return err
}
