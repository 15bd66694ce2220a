package core_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"savevault/internal/blob"
	"savevault/internal/compress"
	"savevault/internal/core"
	"savevault/internal/store"
	"savevault/internal/testutil"
	"savevault/internal/watch"
)

const testWindow = time.Second

// engineHarness wires an Engine to an in-memory store, a stub clock, a stub
// snapshot reader, and stub watch subscriptions that tests drive directly.
type engineHarness struct {
	t      *testing.T
	engine *core.Engine
	store  *store.SQLiteStore
	blobs  *blob.MemoryStore
	clock  *testutil.StubClock
	reader *testutil.StubSnapshotReader

	mu  sync.Mutex
	sub *testutil.StubSubscription
}

func newEngineHarness(t *testing.T, payload []byte, opts core.Options) *engineHarness {
	t.Helper()

	st, blobs, clock := testutil.NewTestStore(t)
	compressor, err := compress.NewZstdCompressor(compress.DefaultLevel)
	if err != nil {
		t.Fatalf("creating compressor: %v", err)
	}

	h := &engineHarness{
		t:      t,
		store:  st,
		blobs:  blobs,
		clock:  clock,
		reader: testutil.NewStubSnapshotReader(payload),
	}

	if opts.DebounceWindow == 0 {
		opts.DebounceWindow = testWindow
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = time.Millisecond
	}

	h.engine = core.NewEngine(st, compressor, core.SHA256Hasher{}, h.reader,
		h.subscribe, clock, core.NewNopLogger(), opts)
	t.Cleanup(func() { h.engine.Close() })
	return h
}

func (h *engineHarness) subscribe(root string) (watch.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sub = testutil.NewStubSubscription()
	return h.sub, nil
}

// send delivers one raw change event to the current subscription.
func (h *engineHarness) send() {
	h.mu.Lock()
	sub := h.sub
	h.mu.Unlock()
	if sub == nil {
		h.t.Fatal("no active subscription")
	}
	sub.Send("save.srm", watch.Modified, h.clock.Now())
}

// awaitEvent advances the stub clock until an event of the given kind
// arrives, skipping events of other kinds.
func (h *engineHarness) awaitEvent(kind core.EventKind) core.Event {
	h.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		h.clock.Advance(testWindow)
		select {
		case ev, ok := <-h.engine.Events():
			if !ok {
				h.t.Fatalf("event stream closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// awaitReads advances the clock until the reader has served more than n
// reads, proving a debounce cycle resolved.
func (h *engineHarness) awaitReads(n int) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.reader.Reads() <= n {
		if time.Now().After(deadline) {
			h.t.Fatal("timed out waiting for a snapshot read")
		}
		h.clock.Advance(testWindow)
		time.Sleep(5 * time.Millisecond)
	}
}

// capture runs one full change-to-version cycle with the given content.
func (h *engineHarness) capture(payload string) *core.Version {
	h.t.Helper()
	h.reader.SetPayload([]byte(payload))
	h.send()
	ev := h.awaitEvent(core.EventVersionCreated)
	return ev.Version
}

func TestEngineCaptureLifecycle(t *testing.T) {
	h := newEngineHarness(t, []byte("state-1"), core.Options{})

	slot, err := h.engine.RegisterSlot(filepath.Join(t.TempDir(), "save.srm"), "snes9x")
	if err != nil {
		t.Fatalf("RegisterSlot: %v", err)
	}

	// The pipeline primes a debounce cycle at startup, so content present at
	// registration becomes the first version without any watch event.
	ev := h.awaitEvent(core.EventVersionCreated)
	if ev.Version.ID != 1 {
		t.Fatalf("first version id = %d, want 1", ev.Version.ID)
	}
	if ev.Version.ContentHash != (core.SHA256Hasher{}).Hash([]byte("state-1")) {
		t.Errorf("version hash does not match captured content")
	}

	t.Run("unchanged content is a no-op", func(t *testing.T) {
		h.send()
		h.awaitEvent(core.EventNoopChange)

		versions, err := h.store.ListVersions(slot.ID)
		if err != nil {
			t.Fatalf("ListVersions: %v", err)
		}
		if len(versions) != 1 {
			t.Fatalf("got %d versions after no-op, want 1", len(versions))
		}
	})

	t.Run("changed content appends a version", func(t *testing.T) {
		v := h.capture("state-2")
		if v.ID != 2 {
			t.Fatalf("second version id = %d, want 2", v.ID)
		}

		info, err := h.engine.GetSlotStatus(slot.ID)
		if err != nil {
			t.Fatalf("GetSlotStatus: %v", err)
		}
		if info.Status.VersionCount != 2 {
			t.Errorf("version count = %d, want 2", info.Status.VersionCount)
		}
		if info.Status.ActiveVersionID == nil || *info.Status.ActiveVersionID != 2 {
			t.Errorf("active version = %v, want 2", info.Status.ActiveVersionID)
		}
	})
}

func TestEngineBurstCoalesces(t *testing.T) {
	h := newEngineHarness(t, []byte("v1"), core.Options{})

	slot, err := h.engine.RegisterSlot(filepath.Join(t.TempDir(), "save.srm"), "")
	if err != nil {
		t.Fatalf("RegisterSlot: %v", err)
	}
	h.awaitEvent(core.EventVersionCreated)

	// An emulator writing a save in several sequential I/O operations
	// produces a burst of raw events; the burst must yield one version.
	h.reader.SetPayload([]byte("v2"))
	h.send()
	h.send()
	h.send()
	h.awaitEvent(core.EventVersionCreated)

	versions, err := h.store.ListVersions(slot.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("got %d versions after burst, want 2", len(versions))
	}
}

func TestEngineRetention(t *testing.T) {
	h := newEngineHarness(t, []byte("v1"), core.Options{
		Retention: core.KeepLastN{N: 5},
	})

	slot, err := h.engine.RegisterSlot(filepath.Join(t.TempDir(), "save.srm"), "")
	if err != nil {
		t.Fatalf("RegisterSlot: %v", err)
	}
	h.awaitEvent(core.EventVersionCreated)

	for _, content := range []string{"v2", "v3", "v4", "v5", "v6"} {
		h.capture(content)
	}

	versions, err := h.store.ListVersions(slot.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 5 {
		t.Fatalf("got %d versions, want 5", len(versions))
	}
	for i, v := range versions {
		if want := int64(i + 2); v.ID != want {
			t.Errorf("versions[%d].ID = %d, want %d", i, v.ID, want)
		}
	}

	// The evicted version releases its blob along with its row.
	if h.blobs.Len() != 5 {
		t.Errorf("blob count = %d, want 5", h.blobs.Len())
	}
}

func TestEngineRestoreSuppressesSelfWrite(t *testing.T) {
	h := newEngineHarness(t, []byte("alpha"), core.Options{})

	rootPath := filepath.Join(t.TempDir(), "save.srm")
	if err := os.WriteFile(rootPath, []byte("alpha"), 0644); err != nil {
		t.Fatalf("seeding save file: %v", err)
	}

	slot, err := h.engine.RegisterSlot(rootPath, "")
	if err != nil {
		t.Fatalf("RegisterSlot: %v", err)
	}
	h.awaitEvent(core.EventVersionCreated)
	h.capture("beta")

	v, err := h.engine.RestoreVersion(slot.ID, 1)
	if err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}
	if v.ID != 1 {
		t.Fatalf("restored version id = %d, want 1", v.ID)
	}
	h.awaitEvent(core.EventVersionRestored)

	got, err := os.ReadFile(rootPath)
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}
	if string(got) != "alpha" {
		t.Fatalf("restored content = %q, want %q", got, "alpha")
	}

	// The watcher now observes the engine's own write. The resulting
	// candidate matches the armed guard and must not create a version.
	reads := h.reader.Reads()
	h.reader.SetPayload([]byte("alpha"))
	h.send()
	h.awaitReads(reads)

	h.capture("gamma")

	versions, err := h.store.ListVersions(slot.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("got %d versions, want 3 (self-write must not be captured)", len(versions))
	}
	if versions[2].ContentHash != (core.SHA256Hasher{}).Hash([]byte("gamma")) {
		t.Errorf("final version is not the gamma capture")
	}
}

func TestEngineSlotUnavailable(t *testing.T) {
	h := newEngineHarness(t, []byte("state"), core.Options{})

	slot, err := h.engine.RegisterSlot(filepath.Join(t.TempDir(), "save.srm"), "")
	if err != nil {
		t.Fatalf("RegisterSlot: %v", err)
	}
	h.awaitEvent(core.EventVersionCreated)

	h.reader.SetError(fmt.Errorf("%w: root gone", core.ErrSlotContentAbsent))
	h.send()
	h.awaitEvent(core.EventSlotUnavailable)

	info, err := h.engine.GetSlotStatus(slot.ID)
	if err != nil {
		t.Fatalf("GetSlotStatus: %v", err)
	}
	if info.State != core.StateUnavailable {
		t.Errorf("state = %s, want %s", info.State, core.StateUnavailable)
	}

	// History survives unavailability untouched.
	versions, err := h.store.ListVersions(slot.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("got %d versions, want 1", len(versions))
	}

	h.reader.SetError(nil)
	h.capture("state-2")
}

func TestEngineReadRetry(t *testing.T) {
	h := newEngineHarness(t, []byte("state"), core.Options{})
	h.reader.FailNext(2, errors.New("save file locked"))

	if _, err := h.engine.RegisterSlot(filepath.Join(t.TempDir(), "save.srm"), ""); err != nil {
		t.Fatalf("RegisterSlot: %v", err)
	}

	h.awaitEvent(core.EventVersionCreated)
	if h.reader.Reads() < 3 {
		t.Errorf("reads = %d, want at least 3 (two transient failures)", h.reader.Reads())
	}
}

func TestEngineRegisterIdempotent(t *testing.T) {
	h := newEngineHarness(t, []byte("state"), core.Options{})

	path := filepath.Join(t.TempDir(), "save.srm")
	s1, err := h.engine.RegisterSlot(path, "mgba")
	if err != nil {
		t.Fatalf("RegisterSlot: %v", err)
	}
	s2, err := h.engine.RegisterSlot(path, "mgba")
	if err != nil {
		t.Fatalf("RegisterSlot again: %v", err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("re-registration created a new slot: %s vs %s", s1.ID, s2.ID)
	}

	slots, err := h.store.ListSlots()
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	if len(slots) != 1 {
		t.Errorf("got %d slots, want 1", len(slots))
	}
}

func TestEngineUnregisterSlot(t *testing.T) {
	h := newEngineHarness(t, []byte("state"), core.Options{})

	slot, err := h.engine.RegisterSlot(filepath.Join(t.TempDir(), "save.srm"), "")
	if err != nil {
		t.Fatalf("RegisterSlot: %v", err)
	}
	h.awaitEvent(core.EventVersionCreated)

	if err := h.engine.UnregisterSlot(slot.ID); err != nil {
		t.Fatalf("UnregisterSlot: %v", err)
	}

	found, err := h.store.FindSlot(slot.ID)
	if err != nil {
		t.Fatalf("FindSlot: %v", err)
	}
	if found != nil {
		t.Error("slot still present after unregister")
	}
	if h.blobs.Len() != 0 {
		t.Errorf("blob count = %d after unregister, want 0", h.blobs.Len())
	}
}

func TestEngineClose(t *testing.T) {
	h := newEngineHarness(t, []byte("state"), core.Options{})

	if _, err := h.engine.RegisterSlot(filepath.Join(t.TempDir(), "save.srm"), ""); err != nil {
		t.Fatalf("RegisterSlot: %v", err)
	}
	h.awaitEvent(core.EventVersionCreated)

	if err := h.engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := h.engine.RegisterSlot(filepath.Join(t.TempDir(), "other.srm"), ""); err == nil {
		t.Error("RegisterSlot succeeded on a closed engine")
	}

	// The event stream drains and closes.
	for range h.engine.Events() {
	}
}

func TestEngineCloseDuringRestore(t *testing.T) {
	h := newEngineHarness(t, []byte("alpha"), core.Options{})

	root := filepath.Join(t.TempDir(), "save.srm")
	if err := os.WriteFile(root, []byte("alpha"), 0644); err != nil {
		t.Fatalf("seeding save file: %v", err)
	}
	slot, err := h.engine.RegisterSlot(root, "")
	if err != nil {
		t.Fatalf("RegisterSlot: %v", err)
	}
	h.awaitEvent(core.EventVersionCreated)

	// Restores publish from the caller's goroutine, so they can overlap
	// Close. The restored-event send must never hit a closed channel.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.engine.RestoreVersion(slot.ID, 1)
		}
	}()

	if err := h.engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	<-done
}
