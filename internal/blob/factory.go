package blob

import (
	"fmt"

	"savevault/internal/config"
	"savevault/internal/core"
)

// NewBlobStoreFromConfig creates a core.BlobStore based on the blob config type.
func NewBlobStoreFromConfig(cfg config.BlobConfig) (core.BlobStore, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("root required for filesystem blob store")
		}
		return NewFileSystemStore(cfg.Root)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
