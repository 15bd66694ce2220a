package testutil

import (
	"errors"
	"testing"
)

func TestStubSnapshotReaderFailNextRecovers(t *testing.T) {
	locked := errors.New("save file locked")
	r := NewStubSnapshotReader([]byte("payload"))
	r.FailNext(2, locked)

	for i := 0; i < 2; i++ {
		if _, err := r.Read("/slot"); !errors.Is(err, locked) {
			t.Fatalf("read %d: err = %v, want %v", i+1, err, locked)
		}
	}
	snap, err := r.Read("/slot")
	if err != nil {
		t.Fatalf("read after failures: %v", err)
	}
	if string(snap.Payload) != "payload" {
		t.Errorf("payload = %q, want %q", snap.Payload, "payload")
	}
	if r.Reads() != 3 {
		t.Errorf("reads = %d, want 3", r.Reads())
	}
}

func TestStubSnapshotReaderSetErrorPersists(t *testing.T) {
	broken := errors.New("root gone")
	r := NewStubSnapshotReader([]byte("payload"))
	r.SetError(broken)

	for i := 0; i < 3; i++ {
		if _, err := r.Read("/slot"); !errors.Is(err, broken) {
			t.Fatalf("read %d: err = %v, want %v", i+1, err, broken)
		}
	}

	r.SetError(nil)
	if _, err := r.Read("/slot"); err != nil {
		t.Fatalf("read after clearing error: %v", err)
	}
}
