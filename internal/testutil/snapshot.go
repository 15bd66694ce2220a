package testutil

import (
	"sync"

	"savevault/internal/core"
)

// StubSnapshotReader serves an in-memory payload and records how many reads
// happened. Set payloads or errors between reads to script a sequence.
type StubSnapshotReader struct {
	mu      sync.Mutex
	payload []byte
	format  core.PayloadFormat
	err     error // persistent, set via SetError
	failN   int   // next failN reads return failErr before recovering
	failErr error
	reads   int
}

// NewStubSnapshotReader creates a reader serving the given raw payload.
func NewStubSnapshotReader(payload []byte) *StubSnapshotReader {
	return &StubSnapshotReader{payload: payload, format: core.FormatRaw}
}

func (r *StubSnapshotReader) Read(root string) (*core.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.failN > 0 {
		r.failN--
		return nil, r.failErr
	}
	if r.err != nil {
		return nil, r.err
	}
	buf := make([]byte, len(r.payload))
	copy(buf, r.payload)
	return &core.Snapshot{Payload: buf, Format: r.format}, nil
}

// SetPayload replaces the payload served by subsequent reads.
func (r *StubSnapshotReader) SetPayload(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payload = payload
}

// FailNext makes the next n reads return err, then recover.
func (r *StubSnapshotReader) FailNext(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failN = n
	r.failErr = err
}

// SetError makes every subsequent read return err until cleared.
func (r *StubSnapshotReader) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Reads returns how many Read calls have been made.
func (r *StubSnapshotReader) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}
