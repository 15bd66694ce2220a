package core

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Snapshot is a full read of a slot root's current content, flattened into
// one opaque payload.
type Snapshot struct {
	Payload []byte
	Format  PayloadFormat
}

// SnapshotReader reads the current content of a slot root. Implementations
// return ErrSlotContentAbsent (wrapped) when the root does not exist.
type SnapshotReader interface {
	Read(root string) (*Snapshot, error)
}

// FSSnapshotReader reads slot roots from the local filesystem. A file root
// becomes a raw payload; a directory root becomes a deterministic tar
// archive so that byte-identical directory content always produces a
// byte-identical payload (and therefore an identical content hash).
type FSSnapshotReader struct{}

func (FSSnapshotReader) Read(root string) (*Snapshot, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSlotContentAbsent, root)
		}
		return nil, fmt.Errorf("stat slot root: %w", err)
	}

	if !info.IsDir() {
		payload, err := os.ReadFile(root)
		if err != nil {
			return nil, fmt.Errorf("reading slot file: %w", err)
		}
		return &Snapshot{Payload: payload, Format: FormatRaw}, nil
	}

	payload, err := tarDirectory(root)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Payload: payload, Format: FormatTar}, nil
}

// tarDirectory archives every regular file under root. Entries are sorted by
// relative path and all metadata that does not represent content (times,
// ownership, mode bits beyond a fixed default) is normalized, so the archive
// bytes are a pure function of the directory's file names and contents.
func tarDirectory(root string) ([]byte, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSlotContentAbsent, root)
		}
		return nil, fmt.Errorf("walking slot directory: %w", err)
	}
	sort.Strings(files)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, fmt.Errorf("calculating relative path: %w", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", rel, err)
		}

		hdr := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Mode:    0644,
			Size:    int64(len(data)),
			ModTime: time.Time{},
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing tar header for %s: %w", rel, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("writing tar entry for %s: %w", rel, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing tar: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreSnapshot writes a stored payload back onto a slot root. Raw
// payloads replace the root file atomically (temp file + rename); tar
// payloads replace the root directory wholesale, so a subsequent read of
// the root reproduces the stored payload byte for byte.
func RestoreSnapshot(root string, payload []byte, format PayloadFormat) error {
	switch format {
	case FormatRaw:
		return writeFileAtomic(root, payload)
	case FormatTar:
		return untarInto(root, payload)
	default:
		return fmt.Errorf("unknown payload format: %q", format)
	}
}

// untarInto extracts the archive into a staging directory next to root and
// renames it into place. Files created under root after the archive was
// captured do not survive; the swap is the atomic step, so a crash leaves
// either the old directory or the restored one.
func untarInto(root string, payload []byte) error {
	parent := filepath.Dir(root)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	stage, err := os.MkdirTemp(parent, ".savevault-restore-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	tr := tar.NewReader(bytes.NewReader(payload))
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		rel := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("tar entry escapes slot root: %q", hdr.Name)
		}
		dest := filepath.Join(stage, rel)

		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("reading tar entry %s: %w", hdr.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("creating entry directory: %w", err)
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return fmt.Errorf("restoring %s: %w", hdr.Name, err)
		}
	}

	prev := stage + ".prev"
	if err := os.Rename(root, prev); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("moving current content aside: %w", err)
		}
		prev = ""
	}
	if err := os.Rename(stage, root); err != nil {
		if prev != "" {
			os.Rename(prev, root)
		}
		return fmt.Errorf("committing restored content: %w", err)
	}
	if prev != "" {
		os.RemoveAll(prev)
	}
	return nil
}

// writeFileAtomic writes data to path via a temp file in the same directory,
// flushed and renamed into place, so a crash never leaves a truncated file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".savevault-restore-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}
