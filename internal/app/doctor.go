package app

import (
	"fmt"
	"os"
	"path/filepath"

	"savevault/internal/config"
	"savevault/internal/store"
	"savevault/internal/store/migrations"
)

// Doctor verifies that the configured storage is usable without opening the
// full application: the database exists with an up-to-date schema and the
// blob root is present. Memory-backed configs have nothing on disk to check.
func Doctor(cfg *config.Config) error {
	if cfg.Database.Type == "sqlite" {
		dbPath := filepath.Join(cfg.Database.DataDir, store.DatabaseFileName)
		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("database at %s: %w", dbPath, err)
		}
		db, err := store.OpenConnection(dbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		if err := migrations.CheckStatus(db); err != nil {
			return fmt.Errorf("database schema: %w", err)
		}
	}

	if cfg.Blobs.Type == "filesystem" {
		if _, err := os.Stat(cfg.Blobs.Root); err != nil {
			return fmt.Errorf("blob root at %s: %w", cfg.Blobs.Root, err)
		}
	}
	return nil
}
