package core

import "time"

// EventKind identifies a lifecycle event published by the engine.
type EventKind string

const (
	// EventVersionCreated: a real change was captured and durably stored.
	EventVersionCreated EventKind = "version_created"
	// EventCaptureFailed: a candidate could not be persisted; the prior
	// version set is unchanged and the pipeline keeps running.
	EventCaptureFailed EventKind = "capture_failed"
	// EventSlotUnavailable: the watched root disappeared; the engine polls
	// for it to reappear.
	EventSlotUnavailable EventKind = "slot_unavailable"
	// EventSlotAvailable: a previously unavailable root reappeared and the
	// watch was re-armed.
	EventSlotAvailable EventKind = "slot_available"
	// EventVersionRestored: a stored version was written back to the root.
	EventVersionRestored EventKind = "version_restored"
	// EventNoopChange: filesystem activity resolved to byte-identical
	// content; no version was created. Informational only.
	EventNoopChange EventKind = "noop_change"
)

// Event is one entry in the engine's outbound lifecycle stream. Events for a
// given slot are published in pipeline order.
type Event struct {
	Kind    EventKind
	SlotID  string
	Version *Version // set for EventVersionCreated and EventVersionRestored
	Reason  string   // set for EventCaptureFailed
	At      time.Time
}
