// Package testutil provides shared test doubles: a manually advanced clock
// with deterministic timers, a sequential ID generator, scripted snapshot
// readers, and channel-backed watch subscriptions.
package testutil

import (
	"fmt"
	"sync"
	"time"

	"savevault/internal/core"
)

// StubClock returns a manually controlled time and hands out timers that
// fire only when Advance moves the clock past their deadline. Safe for
// concurrent use.
type StubClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*StubTimer
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTimer creates a deterministic timer armed for d from the current stub
// time.
func (c *StubClock) NewTimer(d time.Duration) core.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &StubTimer{
		clock:    c,
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
		active:   true,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d and fires every active timer whose
// deadline has passed.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var fired []*StubTimer
	for _, t := range c.timers {
		if t.active && !t.deadline.After(now) {
			t.active = false
			fired = append(fired, t)
		}
	}
	c.mu.Unlock()

	for _, t := range fired {
		select {
		case t.ch <- now:
		default:
		}
	}
}

// StubTimer is a single-shot timer driven by StubClock.Advance.
type StubTimer struct {
	clock    *StubClock
	ch       chan time.Time
	deadline time.Time
	active   bool
}

func (t *StubTimer) C() <-chan time.Time { return t.ch }

func (t *StubTimer) Reset(d time.Duration) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	select {
	case <-t.ch:
	default:
	}
	t.deadline = t.clock.now.Add(d)
	t.active = true
}

func (t *StubTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := t.active
	t.active = false
	return wasActive
}

// StubIDGenerator returns sequential IDs: "id-1", "id-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("id-%d", g.counter)
}
