package store

import (
	"fmt"
	"os"
	"path/filepath"

	"savevault/internal/config"
	"savevault/internal/core"
)

// DatabaseFileName is the metadata database file under the data directory.
const DatabaseFileName = "savevault.db"

// NewStoreFromConfig creates a core.Store based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig, blobs core.BlobStore, compressor core.Compressor,
	hasher core.Hasher, clock core.Clock, idgen core.IDGenerator) (core.Store, error) {

	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, DatabaseFileName)
		return NewSQLiteStore(dbPath, blobs, compressor, hasher, clock, idgen)
	case "memory":
		return NewSQLiteStore(":memory:", blobs, compressor, hasher, clock, idgen)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
