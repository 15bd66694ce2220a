// Package blob stores compressed version payloads, content-addressed by the
// hash of their uncompressed bytes. Identical payloads captured in different
// versions or slots share a single blob.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"savevault/internal/core"
)

// FileSystemStore keeps blobs as files under a root directory:
//
//	<root>/
//	  <ref>          (blob files, named by the content hash)
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a blob store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

// Put stores a blob using stage-then-commit: the data is written to a temp
// file in the same directory, flushed, then renamed into place. Idempotent:
// an existing blob for ref is kept and the reader is drained.
func (s *FileSystemStore) Put(ref string, r io.Reader, size int64) error {
	destPath := filepath.Join(s.root, ref)

	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("reading blob data: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	tmpFile, err := os.CreateTemp(s.root, ".stage-*")
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing blob data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("flushing blob data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing staging file: %w", err)
	}

	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("committing blob: %w", err)
	}

	success = true
	return nil
}

// Get retrieves a blob by ref and writes it to w.
func (s *FileSystemStore) Get(ref string, w io.Writer) error {
	f, err := os.Open(filepath.Join(s.root, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: blob %s", core.ErrNotFound, ref)
		}
		return fmt.Errorf("opening blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading blob: %w", err)
	}
	return nil
}

// Delete removes a blob. Missing blobs are not an error.
func (s *FileSystemStore) Delete(ref string) error {
	err := os.Remove(filepath.Join(s.root, ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

// Compile-time check that FileSystemStore implements core.BlobStore.
var _ core.BlobStore = (*FileSystemStore)(nil)
