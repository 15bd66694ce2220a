package blob

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"savevault/internal/core"
)

func TestFileSystemStore(t *testing.T) {
	st, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore: %v", err)
	}

	t.Run("put and get", func(t *testing.T) {
		content := "compressed bytes"
		if err := st.Put("ref-1", strings.NewReader(content), int64(len(content))); err != nil {
			t.Fatalf("Put: %v", err)
		}

		var buf bytes.Buffer
		if err := st.Get("ref-1", &buf); err != nil {
			t.Fatalf("Get: %v", err)
		}
		if buf.String() != content {
			t.Errorf("Get returned %q, want %q", buf.String(), content)
		}
	})

	t.Run("put is idempotent", func(t *testing.T) {
		content := "same content again"
		if err := st.Put("ref-2", strings.NewReader(content), int64(len(content))); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := st.Put("ref-2", strings.NewReader(content), int64(len(content))); err != nil {
			t.Fatalf("repeat Put: %v", err)
		}

		var buf bytes.Buffer
		if err := st.Get("ref-2", &buf); err != nil {
			t.Fatalf("Get: %v", err)
		}
		if buf.String() != content {
			t.Errorf("Get returned %q, want %q", buf.String(), content)
		}
	})

	t.Run("size mismatch is rejected", func(t *testing.T) {
		err := st.Put("ref-3", strings.NewReader("short"), 100)
		if err == nil {
			t.Fatal("Put with wrong size succeeded")
		}
	})

	t.Run("get missing ref", func(t *testing.T) {
		var buf bytes.Buffer
		if err := st.Get("missing", &buf); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		content := "doomed"
		if err := st.Put("ref-4", strings.NewReader(content), int64(len(content))); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := st.Delete("ref-4"); err != nil {
			t.Fatalf("Delete: %v", err)
		}

		var buf bytes.Buffer
		if err := st.Get("ref-4", &buf); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("got %v after delete, want ErrNotFound", err)
		}
	})

	t.Run("delete missing ref is not an error", func(t *testing.T) {
		if err := st.Delete("never-existed"); err != nil {
			t.Fatalf("Delete missing: %v", err)
		}
	})
}
