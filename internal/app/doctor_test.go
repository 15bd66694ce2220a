package app

import (
	"os"
	"path/filepath"
	"testing"

	"savevault/internal/config"
	"savevault/internal/store"
	"savevault/internal/store/migrations"
)

func TestDoctor(t *testing.T) {
	t.Run("memory backends have nothing to check", func(t *testing.T) {
		cfg := config.NewConfig(t.TempDir())
		cfg.Database.Type = "memory"
		cfg.Blobs.Type = "memory"

		if err := Doctor(cfg); err != nil {
			t.Fatalf("Doctor: %v", err)
		}
	})

	t.Run("missing database", func(t *testing.T) {
		cfg := config.NewConfig(t.TempDir())

		if err := Doctor(cfg); err == nil {
			t.Fatal("Doctor passed without a database")
		}
	})

	t.Run("unmigrated database", func(t *testing.T) {
		cfg := config.NewConfig(t.TempDir())
		dbPath := filepath.Join(cfg.Database.DataDir, store.DatabaseFileName)
		writeEmptyDB(t, dbPath)

		if err := Doctor(cfg); err == nil {
			t.Fatal("Doctor passed on an unmigrated database")
		}
	})

	t.Run("healthy storage", func(t *testing.T) {
		cfg := config.NewConfig(t.TempDir())
		dbPath := filepath.Join(cfg.Database.DataDir, store.DatabaseFileName)
		writeEmptyDB(t, dbPath)

		db, err := store.OpenConnection(dbPath)
		if err != nil {
			t.Fatalf("OpenConnection: %v", err)
		}
		if err := migrations.Up(db); err != nil {
			t.Fatalf("Up: %v", err)
		}
		db.Close()

		if err := os.MkdirAll(cfg.Blobs.Root, 0755); err != nil {
			t.Fatalf("creating blob root: %v", err)
		}

		if err := Doctor(cfg); err != nil {
			t.Fatalf("Doctor: %v", err)
		}
	})
}

func writeEmptyDB(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating data dir: %v", err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("creating database file: %v", err)
	}
}
