package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"savevault/internal/watch"
)

// SubscribeFunc creates a watch subscription for a slot root. Injectable so
// tests drive the pipeline with scripted events.
type SubscribeFunc func(root string) (watch.Subscription, error)

// Options configures an Engine. Zero values fall back to the documented
// defaults; validation of user-supplied values happens in the config layer.
type Options struct {
	DebounceWindow        time.Duration
	RearmInterval         time.Duration // poll period while a root is absent
	MaxConcurrentCaptures int64         // bound on simultaneous compress+persist work
	EventBuffer           int
	RetryInterval         time.Duration // initial backoff for transient reads
	Retention             RetentionPolicy
}

const (
	defaultDebounceWindow = 1500 * time.Millisecond
	defaultRearmInterval  = 2 * time.Second
	defaultEventBuffer    = 128
	defaultRetryInterval  = 100 * time.Millisecond
)

// Engine wires watcher → classifier → hasher → compressor → store →
// retention into one pipeline per registered slot and publishes lifecycle
// events outward. It is the isolation boundary: one slot's failure never
// affects other slots or crashes the process.
type Engine struct {
	store      Store
	compressor Compressor
	hasher     Hasher
	reader     SnapshotReader
	subscribe  SubscribeFunc
	clock      Clock
	logger     Logger
	opts       Options

	sem    *semaphore.Weighted
	events chan Event

	mu        sync.Mutex
	pipelines map[string]*slotPipeline
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// slotPipeline is the per-slot watcher/classifier pair plus the transient
// state the engine tracks for it. Authoritative slot/version state lives
// only in the store.
type slotPipeline struct {
	slot   *Slot
	cancel context.CancelFunc
	done   chan struct{}
	guard  selfWriteGuard

	mu    sync.Mutex
	state SlotState
}

func (p *slotPipeline) setState(s SlotState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *slotPipeline) State() SlotState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// NewEngine creates a versioning engine. The store is the sole durable owner
// of slot and version state; the engine holds only references.
func NewEngine(store Store, compressor Compressor, hasher Hasher, reader SnapshotReader,
	subscribe SubscribeFunc, clock Clock, logger Logger, opts Options) *Engine {

	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = defaultDebounceWindow
	}
	if opts.RearmInterval <= 0 {
		opts.RearmInterval = defaultRearmInterval
	}
	if opts.MaxConcurrentCaptures <= 0 {
		opts.MaxConcurrentCaptures = 2
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.Retention == nil {
		opts.Retention = KeepLastN{N: 5}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      store,
		compressor: compressor,
		hasher:     hasher,
		reader:     reader,
		subscribe:  subscribe,
		clock:      clock,
		logger:     logger,
		opts:       opts,
		sem:        semaphore.NewWeighted(opts.MaxConcurrentCaptures),
		events:     make(chan Event, opts.EventBuffer),
		pipelines:  make(map[string]*slotPipeline),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Events is the engine's outbound lifecycle stream, ordered per slot.
func (e *Engine) Events() <-chan Event { return e.events }

// RegisterSlot starts watching a save root. Idempotent: registering an
// already-watched path returns its existing slot. The slot record is
// persisted, so it survives restarts; the watcher/classifier pair runs until
// UnregisterSlot or Close.
func (e *Engine) RegisterSlot(rootPath, emulator string) (*Slot, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	slot, err := e.store.CreateSlot(absPath, emulator)
	if err != nil {
		return nil, fmt.Errorf("creating slot: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine is closed")
	}
	if _, running := e.pipelines[slot.ID]; running {
		return slot, nil
	}

	pctx, pcancel := context.WithCancel(e.ctx)
	p := &slotPipeline{
		slot:   slot,
		cancel: pcancel,
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	e.pipelines[slot.ID] = p

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(p.done)
		e.runPipeline(pctx, p)
	}()

	e.logger.Info("slot registered", "slot", slot.ID, "path", absPath, "emulator", emulator)
	return slot, nil
}

// UnregisterSlot stops a slot's pipeline, discards any in-flight candidate,
// and removes the slot with its whole version history.
func (e *Engine) UnregisterSlot(slotID string) error {
	e.mu.Lock()
	p, ok := e.pipelines[slotID]
	if ok {
		delete(e.pipelines, slotID)
	}
	e.mu.Unlock()

	if ok {
		p.cancel()
		<-p.done
	}

	if err := e.store.DeleteSlot(slotID); err != nil {
		return fmt.Errorf("deleting slot: %w", err)
	}
	e.logger.Info("slot unregistered", "slot", slotID)
	return nil
}

// RestoreVersion writes a stored version's content back to the slot's root
// path. The restore write is guarded so the watcher does not mistake it for
// a new user change: the classifier suppresses the next candidate whose
// content hash matches the restored payload.
func (e *Engine) RestoreVersion(slotID string, versionID int64) (*Version, error) {
	slot, err := e.store.FindSlot(slotID)
	if err != nil {
		return nil, fmt.Errorf("finding slot: %w", err)
	}
	if slot == nil {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, slotID)
	}

	payload, version, err := e.store.ReadVersion(slotID, versionID)
	if err != nil {
		return nil, fmt.Errorf("reading version %d: %w", versionID, err)
	}

	// Arm the guard before touching the filesystem so the watcher can never
	// observe the write first.
	e.mu.Lock()
	p := e.pipelines[slotID]
	e.mu.Unlock()
	if p != nil {
		p.guard.arm(version.ContentHash)
	}

	if err := RestoreSnapshot(slot.RootPath, payload, version.PayloadFormat); err != nil {
		return nil, fmt.Errorf("writing restored content: %w", err)
	}

	e.publish(Event{
		Kind:    EventVersionRestored,
		SlotID:  slotID,
		Version: version,
		At:      e.clock.Now(),
	})
	e.logger.Info("version restored",
		"slot", slotID, "version", versionID, "path", slot.RootPath)
	return version, nil
}

// SlotInfo is the status of one slot as reported to collaborators.
type SlotInfo struct {
	Slot   *Slot
	State  SlotState
	Status *SlotStatus
}

// GetSlotStatus reports a slot's pipeline state and stored history summary.
func (e *Engine) GetSlotStatus(slotID string) (*SlotInfo, error) {
	slot, err := e.store.FindSlot(slotID)
	if err != nil {
		return nil, fmt.Errorf("finding slot: %w", err)
	}
	if slot == nil {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, slotID)
	}

	status, err := e.store.SlotStatus(slotID)
	if err != nil {
		return nil, fmt.Errorf("reading slot status: %w", err)
	}

	state := StateIdle
	e.mu.Lock()
	if p, ok := e.pipelines[slotID]; ok {
		state = p.State()
	}
	e.mu.Unlock()

	return &SlotInfo{Slot: slot, State: state, Status: status}, nil
}

// Close stops all pipelines and waits for in-flight persistence to complete
// or roll back. The event channel is closed once the last pipeline exits.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	// Taking the lock serializes against publish, which holds it for the
	// duration of its sends. A publisher that got past the closed check
	// finishes before the channel closes; later ones see closed and return.
	e.mu.Lock()
	close(e.events)
	e.mu.Unlock()
	return nil
}

// runPipeline is the per-slot supervisor loop: subscribe, classify until the
// watch terminates, then poll for the root to reappear and re-arm.
func (e *Engine) runPipeline(ctx context.Context, p *slotPipeline) {
	for {
		sub, err := e.subscribe(p.slot.RootPath)
		if err != nil {
			// Root missing or unwatchable. Report unavailability once and
			// fall through to the re-arm wait.
			p.setState(StateUnavailable)
			e.publish(Event{Kind: EventSlotUnavailable, SlotID: p.slot.ID, At: e.clock.Now()})
			e.logger.Warn("watch unavailable", "slot", p.slot.ID, "error", err)
		} else {
			c := &classifier{
				slotID:        p.slot.ID,
				root:          p.slot.RootPath,
				window:        e.opts.DebounceWindow,
				clock:         e.clock,
				hasher:        e.hasher,
				reader:        e.reader,
				guard:         &p.guard,
				logger:        e.logger,
				retryInterval: e.opts.RetryInterval,
				hooks: classifierHooks{
					activeHash:  func() (string, error) { return e.activeHash(p.slot.ID) },
					onCandidate: func(cand Candidate) { e.capture(ctx, p, cand) },
					onNoop: func() {
						e.publish(Event{Kind: EventNoopChange, SlotID: p.slot.ID, At: e.clock.Now()})
					},
					onAbsent: func() {
						p.setState(StateUnavailable)
						e.publish(Event{Kind: EventSlotUnavailable, SlotID: p.slot.ID, At: e.clock.Now()})
					},
					setState: p.setState,
				},
			}
			c.run(ctx, sub.Events())
			sub.Close()
		}

		if ctx.Err() != nil {
			return
		}

		// The classifier returned with the watch gone, or the subscribe
		// itself failed. Wait for the path to come back, then re-arm.
		if !e.awaitPath(ctx, p.slot.RootPath) {
			return
		}
		p.setState(StateIdle)
		e.publish(Event{Kind: EventSlotAvailable, SlotID: p.slot.ID, At: e.clock.Now()})
		e.logger.Info("slot reappeared, re-arming watch", "slot", p.slot.ID)
	}
}

// awaitPath polls until the root exists again or the context ends. Returns
// false on cancellation.
func (e *Engine) awaitPath(ctx context.Context, root string) bool {
	for {
		timer := e.clock.NewTimer(e.opts.RearmInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C():
		}
		if _, err := e.reader.Read(root); err == nil {
			return true
		} else if !errors.Is(err, ErrSlotContentAbsent) {
			// Present but unreadable still counts as present; the
			// classifier's retry handles transient reads.
			return true
		}
	}
}

// capture persists an accepted candidate: compress, append atomically, apply
// retention, publish. Runs on the slot's classifier goroutine, so captures
// for one slot are strictly serialized; the semaphore bounds cross-slot
// compression and persistence work.
func (e *Engine) capture(ctx context.Context, p *slotPipeline, cand Candidate) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer e.sem.Release(1)

	p.setState(StateCompressing)
	compressed, err := e.compressor.Compress(cand.Payload)
	if err != nil {
		e.captureFailed(p, fmt.Errorf("compressing payload: %w", err))
		return
	}

	p.setState(StatePersisting)
	version, err := e.store.AppendVersion(AppendRequest{
		SlotID:        cand.SlotID,
		ContentHash:   cand.Hash,
		Compressed:    compressed,
		Algorithm:     e.compressor.Algorithm(),
		PayloadFormat: cand.Format,
		SizeOriginal:  int64(len(cand.Payload)),
		ObservedAt:    cand.ObservedAt,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateContent) {
			// A duplicate that raced past the classifier's dedup check.
			// Not a failure: the content is already the active version.
			e.publish(Event{Kind: EventNoopChange, SlotID: cand.SlotID, At: e.clock.Now()})
			return
		}
		e.captureFailed(p, fmt.Errorf("appending version: %w", err))
		return
	}

	if err := e.applyRetention(cand.SlotID); err != nil {
		// The version is durably stored; a failed prune only delays
		// eviction until the next capture.
		e.logger.Warn("retention prune failed", "slot", cand.SlotID, "error", err)
	}

	e.publish(Event{
		Kind:    EventVersionCreated,
		SlotID:  cand.SlotID,
		Version: version,
		At:      e.clock.Now(),
	})
	e.logger.Info("version created",
		"slot", cand.SlotID, "version", version.ID, "hash", short(version.ContentHash),
		"size", version.SizeOriginal, "compressed", version.SizeCompressed)
}

func (e *Engine) captureFailed(p *slotPipeline, err error) {
	e.logger.Error("capture failed", "slot", p.slot.ID, "error", err)
	e.publish(Event{
		Kind:   EventCaptureFailed,
		SlotID: p.slot.ID,
		Reason: err.Error(),
		At:     e.clock.Now(),
	})
}

func (e *Engine) applyRetention(slotID string) error {
	versions, err := e.store.ListVersions(slotID)
	if err != nil {
		return fmt.Errorf("listing versions: %w", err)
	}

	refs := make([]VersionRef, len(versions))
	for i, v := range versions {
		refs[i] = VersionRef{ID: v.ID, CreatedAt: v.CreatedAt}
	}

	keep := e.opts.Retention.Keep(refs)
	if len(keep) == len(versions) {
		return nil
	}

	removed, err := e.store.Prune(slotID, keep)
	if err != nil {
		return fmt.Errorf("pruning versions: %w", err)
	}
	if len(removed) > 0 {
		e.logger.Debug("versions pruned", "slot", slotID, "removed", len(removed))
	}
	return nil
}

func (e *Engine) activeHash(slotID string) (string, error) {
	slot, err := e.store.FindSlot(slotID)
	if err != nil {
		return "", err
	}
	if slot == nil || slot.ActiveVersionID == nil {
		return "", nil
	}
	versions, err := e.store.ListVersions(slotID)
	if err != nil {
		return "", err
	}
	for _, v := range versions {
		if v.ID == *slot.ActiveVersionID {
			return v.ContentHash, nil
		}
	}
	return "", nil
}

// publish delivers an event without blocking the pipeline. If no consumer is
// draining the stream the oldest event is dropped and logged: the engine's
// correctness never depends on a UI keeping up.
func (e *Engine) publish(ev Event) {
	// The lock is held across the sends: Close closes the channel under the
	// same lock, so a send can never race the close. Every send path below
	// has a default case, so holding the lock here never blocks.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	select {
	case e.events <- ev:
		return
	default:
	}
	select {
	case <-e.events:
		e.logger.Warn("event stream full, dropping oldest event")
	default:
	}
	select {
	case e.events <- ev:
	default:
	}
}
