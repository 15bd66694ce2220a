package blob

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"savevault/internal/core"
)

// MemoryStore is an in-memory blob store, useful for tests and the
// database-less "memory" configuration. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ref string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading blob data: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Idempotent: same ref means same content.
	if _, ok := m.blobs[ref]; !ok {
		m.blobs[ref] = data
	}
	return nil
}

func (m *MemoryStore) Get(ref string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.blobs[ref]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: blob %s", core.ErrNotFound, ref)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing blob data: %w", err)
	}
	return nil
}

func (m *MemoryStore) Delete(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, ref)
	return nil
}

// Len reports the number of stored blobs. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Compile-time check that MemoryStore implements core.BlobStore.
var _ core.BlobStore = (*MemoryStore)(nil)
