package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func awaitKind(t *testing.T, events <-chan Event, kind Kind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestPollSubscriptionFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "game.srm")
	if err := os.WriteFile(root, []byte("v1"), 0644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	sub, err := Subscribe(root, Options{PollInterval: 10 * time.Millisecond, ForcePoll: true})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	// Size change guarantees the diff fires even on coarse mtime clocks.
	if err := os.WriteFile(root, []byte("v2 is longer"), 0644); err != nil {
		t.Fatalf("modifying file: %v", err)
	}

	ev := awaitKind(t, sub.Events(), Modified)
	if ev.Path != root {
		t.Errorf("event path = %s, want %s", ev.Path, root)
	}
}

func TestPollSubscriptionDirectory(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "slot1.sav")
	if err := os.WriteFile(existing, []byte("one"), 0644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	sub, err := Subscribe(root, Options{PollInterval: 10 * time.Millisecond, ForcePoll: true})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	created := filepath.Join(root, "slot2.sav")
	if err := os.WriteFile(created, []byte("two"), 0644); err != nil {
		t.Fatalf("creating file: %v", err)
	}
	ev := awaitKind(t, sub.Events(), Created)
	if ev.Path != created {
		t.Errorf("created path = %s, want %s", ev.Path, created)
	}

	if err := os.Remove(existing); err != nil {
		t.Fatalf("removing file: %v", err)
	}
	ev = awaitKind(t, sub.Events(), Removed)
	if ev.Path != existing {
		t.Errorf("removed path = %s, want %s", ev.Path, existing)
	}
}

func TestPollSubscriptionRootRemoved(t *testing.T) {
	root := filepath.Join(t.TempDir(), "game.srm")
	if err := os.WriteFile(root, []byte("v1"), 0644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	sub, err := Subscribe(root, Options{PollInterval: 10 * time.Millisecond, ForcePoll: true})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := os.Remove(root); err != nil {
		t.Fatalf("removing root: %v", err)
	}

	ev := awaitKind(t, sub.Events(), Removed)
	if ev.Path != root {
		t.Errorf("removed path = %s, want %s", ev.Path, root)
	}

	// The watch is terminal once the root is gone.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed after root removal")
		}
	}
}

func TestSubscribeMissingRoot(t *testing.T) {
	_, err := Subscribe(filepath.Join(t.TempDir(), "missing"), Options{ForcePoll: true})
	if err == nil {
		t.Fatal("Subscribe succeeded on a missing root")
	}
}
