package core

import "io"

// BlobStore provides content-addressed storage for compressed version
// payloads. Refs are the SHA-256 hash of the uncompressed content, so
// byte-identical payloads captured in different versions or slots share one
// blob. Operations use io.Reader/io.Writer for streaming so large save
// payloads are not buffered twice.
type BlobStore interface {
	// Put stores a blob under ref using a stage-then-commit discipline:
	// data is written to a temporary location, flushed, then atomically
	// finalized. A crash mid-write never leaves a partial blob under ref.
	// Put is idempotent: storing the same ref again is safe and keeps the
	// existing blob.
	Put(ref string, r io.Reader, size int64) error

	// Get retrieves the blob stored under ref and writes it to w.
	// Returns ErrNotFound if no blob exists for ref.
	Get(ref string, w io.Writer) error

	// Delete removes the blob stored under ref. Deleting a missing ref is
	// not an error.
	Delete(ref string) error
}
