package core

import "time"

// PayloadFormat identifies how a version payload maps back onto the
// filesystem on restore.
type PayloadFormat string

const (
	// FormatRaw is the bytes of a single save file.
	FormatRaw PayloadFormat = "raw"
	// FormatTar is a deterministic tar archive of a save directory.
	FormatTar PayloadFormat = "tar"
)

// Slot is one monitored save file or save-directory unit. Slots are created
// by explicit registration and destroyed only by explicit removal; the
// engine never auto-deletes them.
type Slot struct {
	ID              string
	RootPath        string
	Emulator        string
	ActiveVersionID *int64 // nil before the first capture
	CreatedAt       time.Time
}

// Version is one retained snapshot of a slot. Versions are immutable once
// created. Within a slot, ids are strictly increasing and never reused, and
// consecutive versions never share a content hash.
type Version struct {
	SlotID         string
	ID             int64
	ContentHash    string // hash of the uncompressed payload
	BlobRef        string
	Algorithm      string
	PayloadFormat  PayloadFormat
	SizeOriginal   int64
	SizeCompressed int64
	CreatedAt      time.Time
}

// SlotStatus is a point-in-time summary of a slot's stored history.
type SlotStatus struct {
	SlotID          string
	ActiveVersionID *int64
	VersionCount    int
	LastCaptureAt   *time.Time
}

// AppendRequest carries an already-compressed candidate into the store.
type AppendRequest struct {
	SlotID        string
	ContentHash   string
	Compressed    []byte
	Algorithm     string
	PayloadFormat PayloadFormat
	SizeOriginal  int64
	ObservedAt    time.Time
}

// Store is the sole durable owner of slot and version state. Implementations
// must be transactional: AppendVersion either commits a version row plus its
// blob durably, or leaves the prior state unchanged: a version row never
// points at a missing or truncated blob. Writes are serialized internally;
// concurrent reads are permitted.
type Store interface {
	// CreateSlot registers a slot for the given root path. Idempotent by
	// path: registering an already-tracked path returns the existing slot.
	CreateSlot(rootPath, emulator string) (*Slot, error)

	// FindSlot returns the slot with the given id, or nil if unknown.
	FindSlot(id string) (*Slot, error)

	// FindSlotByPath returns the slot tracking the given absolute path, or
	// nil if the path is not tracked.
	FindSlotByPath(rootPath string) (*Slot, error)

	// ListSlots returns all slots ordered by creation time.
	ListSlots() ([]*Slot, error)

	// DeleteSlot removes a slot, its versions, and any blobs no longer
	// referenced by a version in any slot.
	DeleteSlot(id string) error

	// AppendVersion atomically stores a new version: the compressed blob
	// is committed first (idempotent by content hash), then the metadata
	// row and the slot's active pointer in one transaction. The assigned
	// version id is the slot's next sequence number. Returns
	// ErrDuplicateContent if the hash equals the active version's hash,
	// ErrNotFound for an unknown slot.
	AppendVersion(req AppendRequest) (*Version, error)

	// ListVersions returns a slot's versions ordered by id ascending.
	ListVersions(slotID string) ([]*Version, error)

	// ReadVersion returns the decompressed payload of a version along with
	// its metadata. The payload hash is recomputed on read; a mismatch
	// returns ErrCorrupt rather than silently corrupt data.
	ReadVersion(slotID string, versionID int64) ([]byte, *Version, error)

	// Prune deletes every version of the slot whose id is not in keep,
	// metadata and blobs both. The metadata deletion is atomic per
	// invocation. Returns the ids that were removed.
	Prune(slotID string, keep []int64) ([]int64, error)

	// SlotStatus summarizes a slot's stored history.
	SlotStatus(slotID string) (*SlotStatus, error)

	// Close releases the backing database.
	Close() error
}
