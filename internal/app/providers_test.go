package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"fstrack/internal/config"
)

func TestNewProviderFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory database", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewProviderFromConfig(ctx, cfg)
		if err != nil {
			t.Fatalf("NewProviderFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if got.Dialect().Name() != "sqlite" {
			t.Errorf("Dialect() = %q, want sqlite", got.Dialect().Name())
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dataDir := filepath.Join(t.TempDir(), "nested", "db")
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dataDir}
		got, err := NewProviderFromConfig(ctx, cfg)
		if err != nil {
			t.Fatalf("NewProviderFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if _, err := os.Stat(filepath.Join(dataDir, DatabaseFileName)); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	errorCases := []struct {
		name string
		cfg  config.DatabaseConfig
	}{
		{"sqlite database without data_dir", config.DatabaseConfig{Type: "sqlite"}},
		{"postgres database without url", config.DatabaseConfig{Type: "postgres"}},
		{"unknown database type", config.DatabaseConfig{Type: "unknown"}},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewProviderFromConfig(ctx, tc.cfg)
			if err == nil {
				t.Error("NewProviderFromConfig() expected error, got nil")
			}
			if got != nil {
				t.Error("NewProviderFromConfig() should return nil on error")
				got.Close()
			}
		})
	}
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewConfig(t.TempDir())

	p, err := NewProviderFromConfig(ctx, cfg.Database)
	if err != nil {
		t.Fatalf("NewProviderFromConfig() error = %v", err)
	}
	if err := CheckMigrations(p); err == nil {
		t.Error("CheckMigrations() on a fresh database should fail")
	}
	p.Close()

	if err := Migrate(ctx, cfg); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := Migrate(ctx, cfg); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	p, err = NewProviderFromConfig(ctx, cfg.Database)
	if err != nil {
		t.Fatalf("NewProviderFromConfig() error = %v", err)
	}
	defer p.Close()
	if err := CheckMigrations(p); err != nil {
		t.Errorf("CheckMigrations() after Migrate() error = %v", err)
	}
}
