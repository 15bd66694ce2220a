package core

import "errors"

// Sentinel errors surfaced by the store and engine. Callers match with
// errors.Is; everything else is wrapped context.
var (
	// ErrNotFound reports an unknown slot or version id. Surfaced
	// immediately, never retried.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt reports that a stored payload's recomputed hash does not
	// match the recorded content hash. Never auto-repaired.
	ErrCorrupt = errors.New("stored content is corrupt")

	// ErrDuplicateContent reports an append whose content hash equals the
	// slot's current active version. The store rejects it so no two
	// consecutive versions ever share a hash, even if a duplicate slips
	// past the classifier.
	ErrDuplicateContent = errors.New("content identical to active version")

	// ErrSlotContentAbsent reports that a slot's root path does not exist
	// at snapshot time. Versions represent content, not deletions, so this
	// resolves to an informational event rather than a capture.
	ErrSlotContentAbsent = errors.New("slot content absent")
)
