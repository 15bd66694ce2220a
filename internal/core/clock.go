package core

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval and timer creation so debounce logic is
// deterministic in tests. The debounce window is implemented as a resettable
// timer obtained from the Clock rather than an ad-hoc callback chain.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is a resettable single-shot timer. Reset re-arms the timer for a new
// duration; the semantics match time.Timer for a timer whose channel is
// drained by exactly one receiver.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop() bool
}

// RealClock returns the actual current time and real timers.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }

func (r *realTimer) Reset(d time.Duration) {
	// Stop and drain before Reset, per time.Timer documentation.
	if !r.t.Stop() {
		select {
		case <-r.t.C:
		default:
		}
	}
	r.t.Reset(d)
}

func (r *realTimer) Stop() bool { return r.t.Stop() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
// Slot IDs are generated once at registration; version IDs are per-slot
// sequence numbers assigned by the store, not by this generator.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
