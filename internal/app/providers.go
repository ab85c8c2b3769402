package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"fstrack/internal/config"
	"fstrack/internal/migrations"
	"fstrack/internal/storage"
	"fstrack/internal/storage/postgres"
	"fstrack/internal/storage/sqlite"
)

// DatabaseFileName is the SQLite file kept under the configured data dir.
const DatabaseFileName = "fstrack.db"

// NewProviderFromConfig creates a storage Provider based on the database config type.
func NewProviderFromConfig(ctx context.Context, cfg config.DatabaseConfig) (storage.Provider, error) {
	switch cfg.Type {
	case "postgres":
		if cfg.URL == "" {
			return nil, fmt.Errorf("url required for postgres database")
		}
		return postgres.Open(ctx, cfg.URL, cfg.MaxConns)
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return sqlite.Open(filepath.Join(cfg.DataDir, DatabaseFileName))
	case "memory":
		return sqlite.Open(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// sqlDB returns the database/sql handle migrations run on.
func sqlDB(p storage.Provider) (*sql.DB, error) {
	switch p := p.(type) {
	case *sqlite.Provider:
		return p.DB(), nil
	case *postgres.Provider:
		return p.DB(), nil
	default:
		return nil, fmt.Errorf("provider %T does not support migrations", p)
	}
}

// MigrateProvider applies every pending migration.
func MigrateProvider(p storage.Provider) error {
	db, err := sqlDB(p)
	if err != nil {
		return err
	}
	return migrations.MigrateUp(db, p.Dialect().Name())
}

// CheckMigrations returns an error unless the schema is current.
func CheckMigrations(p storage.Provider) error {
	db, err := sqlDB(p)
	if err != nil {
		return err
	}
	return migrations.CheckDBMigrationStatus(db, p.Dialect().Name())
}

// Migrate opens the configured database, applies pending migrations and
// closes it again.
func Migrate(ctx context.Context, cfg *config.Config) error {
	p, err := NewProviderFromConfig(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer p.Close()

	if err := MigrateProvider(p); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}
