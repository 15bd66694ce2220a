package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"savevault/internal/watch"
)

// SlotState is the engine's per-slot pipeline state.
type SlotState string

const (
	StateIdle          SlotState = "idle"
	StateAwaitingQuiet SlotState = "awaiting_quiet"
	StateReading       SlotState = "reading"
	StateCompressing   SlotState = "compressing"
	StatePersisting    SlotState = "persisting"
	StateUnavailable   SlotState = "unavailable"
)

// Candidate is a debounced, deduplicated snapshot ready for persistence.
type Candidate struct {
	SlotID     string
	Payload    []byte
	Hash       string
	Format     PayloadFormat
	ObservedAt time.Time
}

// classifierHooks are the callbacks a classifier drives. The engine supplies
// them; they run on the classifier's goroutine, so a slot's candidates are
// handled strictly one at a time.
type classifierHooks struct {
	// activeHash returns the content hash of the slot's active version, or
	// "" when the slot has no versions yet.
	activeHash func() (string, error)
	// onCandidate persists an accepted candidate.
	onCandidate func(Candidate)
	// onNoop reports filesystem activity that resolved to unchanged content.
	onNoop func()
	// onAbsent reports that the root vanished with no recreation inside the
	// debounce window.
	onAbsent func()
	// setState mirrors pipeline progress for status queries.
	setState func(SlotState)
}

// classifier collapses bursts of raw events from one logical save operation
// into exactly one candidate, and rejects candidates whose content did not
// actually change. One classifier runs per slot.
type classifier struct {
	slotID string
	root   string
	window time.Duration

	clock  Clock
	hasher Hasher
	reader SnapshotReader
	guard  *selfWriteGuard
	logger Logger
	hooks  classifierHooks

	// retryInterval seeds the exponential backoff for transient read
	// failures. Tests shrink it to keep retries fast.
	retryInterval time.Duration
}

// maxReadAttempts bounds retries of a failing snapshot read. Emulators hold
// save files locked mid-write, so the first attempt is allowed to fail.
const maxReadAttempts = 3

// run consumes raw events until the context is cancelled or the event
// channel closes (watch root gone). A debounce cycle is primed at startup so
// content that changed while the watcher was down gets evaluated; the no-op
// dedup drops it if nothing really changed.
func (c *classifier) run(ctx context.Context, events <-chan watch.Event) {
	timer := c.clock.NewTimer(c.window)
	timerC := timer.C()
	c.hooks.setState(StateAwaitingQuiet)

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				// Watcher terminated: the root is gone. Any pending
				// candidate is discarded; versions represent content,
				// not deletions.
				c.hooks.setState(StateUnavailable)
				c.hooks.onAbsent()
				return
			}
			c.logger.Debug("raw change event",
				"slot", c.slotID, "path", ev.Path, "kind", ev.Kind.String())
			// Every raw event re-arms the quiet period. This absorbs
			// emulators that write a save in several sequential I/O
			// operations.
			if timerC == nil {
				timer = c.clock.NewTimer(c.window)
				timerC = timer.C()
			} else {
				timer.Reset(c.window)
			}
			c.hooks.setState(StateAwaitingQuiet)

		case <-timerC:
			timerC = nil
			absent := c.resolve(ctx)
			if ctx.Err() != nil {
				return
			}
			if absent {
				// State stays Unavailable until new events arrive.
				c.hooks.setState(StateUnavailable)
			} else {
				c.hooks.setState(StateIdle)
			}
		}
	}
}

// resolve runs once the quiet period elapses: read the full current state,
// hash it, and decide whether it is a real change. Returns true when the
// root was absent.
func (c *classifier) resolve(ctx context.Context) bool {
	c.hooks.setState(StateReading)

	snap, err := c.readWithRetry(ctx)
	if err != nil {
		if errors.Is(err, ErrSlotContentAbsent) {
			// Removal with no recreation inside the window. Informational
			// only; the engine decides whether to re-arm.
			c.hooks.onAbsent()
			return true
		}
		// Retries exhausted. Recoverable: log and wait for the next burst.
		c.logger.Warn("snapshot read failed, dropping candidate",
			"slot", c.slotID, "error", err)
		return false
	}

	hash := c.hasher.Hash(snap.Payload)

	if c.guard.consume(hash) {
		c.logger.Debug("self-write suppressed", "slot", c.slotID, "hash", short(hash))
		return false
	}

	active, err := c.hooks.activeHash()
	if err != nil {
		c.logger.Warn("active hash lookup failed, dropping candidate",
			"slot", c.slotID, "error", err)
		return false
	}
	if active != "" && active == hash {
		c.logger.Debug("content unchanged", "slot", c.slotID, "hash", short(hash))
		c.hooks.onNoop()
		return false
	}

	c.hooks.onCandidate(Candidate{
		SlotID:     c.slotID,
		Payload:    snap.Payload,
		Hash:       hash,
		Format:     snap.Format,
		ObservedAt: c.clock.Now(),
	})
	return false
}

// readWithRetry reads the slot root with bounded exponential backoff.
// An absent root is permanent, not transient: it resolves immediately.
func (c *classifier) readWithRetry(ctx context.Context) (*Snapshot, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval

	var snap *Snapshot
	op := func() error {
		var err error
		snap, err = c.reader.Read(c.root)
		if err != nil {
			if errors.Is(err, ErrSlotContentAbsent) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, maxReadAttempts-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("reading slot snapshot: %w", err)
	}
	return snap, nil
}

// selfWriteGuard suppresses the capture that would otherwise follow a
// restore: the engine arms it with the restored content's hash before
// writing, and the classifier consumes it one-shot on the next matching
// candidate.
type selfWriteGuard struct {
	mu   sync.Mutex
	hash string
}

func (g *selfWriteGuard) arm(hash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hash = hash
}

func (g *selfWriteGuard) consume(hash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hash != "" && g.hash == hash {
		g.hash = ""
		return true
	}
	return false
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
