package testutil

import (
	"testing"

	"savevault/internal/blob"
	"savevault/internal/compress"
	"savevault/internal/core"
	"savevault/internal/store"
)

// NewTestStore creates an in-memory SQLite store backed by a memory blob
// store, a fixed clock, and sequential slot IDs. Cleanup closes the store.
func NewTestStore(t *testing.T) (*store.SQLiteStore, *blob.MemoryStore, *StubClock) {
	t.Helper()

	blobs := blob.NewMemoryStore()
	clock := FixedClock()

	compressor, err := compress.NewZstdCompressor(compress.DefaultLevel)
	if err != nil {
		t.Fatalf("creating compressor: %v", err)
	}

	st, err := store.NewSQLiteStore(":memory:", blobs, compressor, core.SHA256Hasher{}, clock, NewStubIDGenerator())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st, blobs, clock
}

// Compress is a test convenience that compresses payload at the default
// level, failing the test on error.
func Compress(t *testing.T, payload []byte) []byte {
	t.Helper()

	compressor, err := compress.NewZstdCompressor(compress.DefaultLevel)
	if err != nil {
		t.Fatalf("creating compressor: %v", err)
	}
	out, err := compressor.Compress(payload)
	if err != nil {
		t.Fatalf("compressing: %v", err)
	}
	return out
}
