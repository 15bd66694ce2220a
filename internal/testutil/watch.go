package testutil

import (
	"sync"
	"time"

	"savevault/internal/watch"
)

// StubSubscription is a channel-backed watch.Subscription that tests drive
// directly with Send.
type StubSubscription struct {
	events chan watch.Event

	mu     sync.Mutex
	closed bool
}

// NewStubSubscription creates a subscription with a buffered event channel.
func NewStubSubscription() *StubSubscription {
	return &StubSubscription{events: make(chan watch.Event, 64)}
}

func (s *StubSubscription) Events() <-chan watch.Event { return s.events }

func (s *StubSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Send delivers one event with the given kind, stamped at the given time.
func (s *StubSubscription) Send(path string, kind watch.Kind, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- watch.Event{Path: path, Kind: kind, ObservedAt: at}
}
