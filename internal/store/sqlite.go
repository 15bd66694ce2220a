// Package store implements the durable version store: SQLite metadata plus
// a content-addressed blob store for compressed payloads. It is the sole
// durable owner of slot and version state; every other component holds only
// ids.
package store

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"savevault/internal/core"
	"savevault/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements core.Store. Writes are serialized by an internal
// mutex (single-writer discipline); reads go straight to the pool.
type SQLiteStore struct {
	db         *sql.DB
	blobs      core.BlobStore
	compressor core.Compressor
	hasher     core.Hasher
	clock      core.Clock
	idgen      core.IDGenerator
	path       string

	// writeMu serializes all mutating transactions across slots so the
	// backing database stays consistent under concurrent pipelines.
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at path and migrates it to
// the latest schema. path can be ":memory:" for tests and the memory config.
func NewSQLiteStore(path string, blobs core.BlobStore, compressor core.Compressor,
	hasher core.Hasher, clock core.Clock, idgen core.IDGenerator) (*SQLiteStore, error) {

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &SQLiteStore{
		db:         db,
		blobs:      blobs,
		compressor: compressor,
		hasher:     hasher,
		clock:      clock,
		idgen:      idgen,
		path:       path,
	}, nil
}

// OpenConnection opens a SQLite database with the PRAGMAs the store relies
// on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	// The pragmas ride in the DSN so every connection database/sql opens
	// gets them; an Exec would configure only the one pooled connection it
	// happens to run on, and cascade deletes need foreign_keys on all of
	// them.
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database lives per-connection; more than one connection
	// would see different databases.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

// Slot operations

func (s *SQLiteStore) CreateSlot(rootPath, emulator string) (*core.Slot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.FindSlotByPath(rootPath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	slot := &core.Slot{
		ID:        s.idgen.New(),
		RootPath:  rootPath,
		Emulator:  emulator,
		CreatedAt: s.clock.Now().UTC(),
	}
	_, err = s.db.Exec(
		"INSERT INTO slots (id, root_path, emulator, next_version_id, created_at) VALUES (?, ?, ?, 1, ?)",
		slot.ID, slot.RootPath, slot.Emulator, slot.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating slot: %w", err)
	}
	return slot, nil
}

func (s *SQLiteStore) FindSlot(id string) (*core.Slot, error) {
	return s.scanSlot(s.db.QueryRow(
		"SELECT id, root_path, emulator, active_version_id, created_at FROM slots WHERE id = ?", id))
}

func (s *SQLiteStore) FindSlotByPath(rootPath string) (*core.Slot, error) {
	return s.scanSlot(s.db.QueryRow(
		"SELECT id, root_path, emulator, active_version_id, created_at FROM slots WHERE root_path = ?", rootPath))
}

func (s *SQLiteStore) scanSlot(row *sql.Row) (*core.Slot, error) {
	var slot core.Slot
	var active sql.NullInt64
	err := row.Scan(&slot.ID, &slot.RootPath, &slot.Emulator, &active, &slot.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("scanning slot: %w", err)
	}
	if active.Valid {
		slot.ActiveVersionID = &active.Int64
	}
	return &slot, nil
}

func (s *SQLiteStore) ListSlots() ([]*core.Slot, error) {
	rows, err := s.db.Query(
		"SELECT id, root_path, emulator, active_version_id, created_at FROM slots ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	var slots []*core.Slot
	for rows.Next() {
		var slot core.Slot
		var active sql.NullInt64
		if err := rows.Scan(&slot.ID, &slot.RootPath, &slot.Emulator, &active, &slot.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		if active.Valid {
			slot.ActiveVersionID = &active.Int64
		}
		slots = append(slots, &slot)
	}
	return slots, rows.Err()
}

func (s *SQLiteStore) DeleteSlot(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	refs, err := s.collectBlobRefs("SELECT DISTINCT blob_ref FROM versions WHERE slot_id = ?", id)
	if err != nil {
		return err
	}

	res, err := s.db.Exec("DELETE FROM slots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: slot %s", core.ErrNotFound, id)
	}

	// Versions are gone via cascade; drop blobs nothing references anymore.
	return s.deleteUnreferencedBlobs(refs)
}

// Version operations

func (s *SQLiteStore) AppendVersion(req core.AppendRequest) (*core.Version, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Stage-then-commit: the blob is durably committed before any metadata
	// references it. If the transaction below fails, the worst outcome is
	// an orphaned blob, which is harmless and reclaimed when the same
	// content is captured again or its ref is pruned.
	err := s.blobs.Put(req.ContentHash, bytes.NewReader(req.Compressed), int64(len(req.Compressed)))
	if err != nil {
		return nil, fmt.Errorf("storing blob: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var nextID int64
	var active sql.NullInt64
	err = tx.QueryRow("SELECT next_version_id, active_version_id FROM slots WHERE id = ?",
		req.SlotID).Scan(&nextID, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: slot %s", core.ErrNotFound, req.SlotID)
		}
		return nil, fmt.Errorf("reading slot counters: %w", err)
	}

	if active.Valid {
		var activeHash string
		err = tx.QueryRow("SELECT content_hash FROM versions WHERE slot_id = ? AND id = ?",
			req.SlotID, active.Int64).Scan(&activeHash)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reading active version: %w", err)
		}
		if activeHash == req.ContentHash {
			return nil, core.ErrDuplicateContent
		}
	}

	version := &core.Version{
		SlotID:         req.SlotID,
		ID:             nextID,
		ContentHash:    req.ContentHash,
		BlobRef:        req.ContentHash,
		Algorithm:      req.Algorithm,
		PayloadFormat:  req.PayloadFormat,
		SizeOriginal:   req.SizeOriginal,
		SizeCompressed: int64(len(req.Compressed)),
		CreatedAt:      s.clock.Now().UTC(),
	}

	_, err = tx.Exec(`INSERT INTO versions
		(slot_id, id, content_hash, blob_ref, algorithm, payload_format, size_original, size_compressed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		version.SlotID, version.ID, version.ContentHash, version.BlobRef, version.Algorithm,
		version.PayloadFormat, version.SizeOriginal, version.SizeCompressed, version.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting version: %w", err)
	}

	_, err = tx.Exec("UPDATE slots SET next_version_id = ?, active_version_id = ? WHERE id = ?",
		nextID+1, nextID, req.SlotID)
	if err != nil {
		return nil, fmt.Errorf("updating slot counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) ListVersions(slotID string) ([]*core.Version, error) {
	rows, err := s.db.Query(`SELECT slot_id, id, content_hash, blob_ref, algorithm, payload_format,
		size_original, size_compressed, created_at
		FROM versions WHERE slot_id = ? ORDER BY id ASC`, slotID)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var versions []*core.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *SQLiteStore) findVersion(slotID string, versionID int64) (*core.Version, error) {
	rows, err := s.db.Query(`SELECT slot_id, id, content_hash, blob_ref, algorithm, payload_format,
		size_original, size_compressed, created_at
		FROM versions WHERE slot_id = ? AND id = ?`, slotID, versionID)
	if err != nil {
		return nil, fmt.Errorf("finding version: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: version %d of slot %s", core.ErrNotFound, versionID, slotID)
	}
	return scanVersion(rows)
}

func scanVersion(rows *sql.Rows) (*core.Version, error) {
	var v core.Version
	var format string
	err := rows.Scan(&v.SlotID, &v.ID, &v.ContentHash, &v.BlobRef, &v.Algorithm, &format,
		&v.SizeOriginal, &v.SizeCompressed, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning version: %w", err)
	}
	v.PayloadFormat = core.PayloadFormat(format)
	return &v, nil
}

// ReadVersion fetches, decompresses and verifies a stored payload. The hash
// is recomputed on every read so corruption is reported, never silently
// returned.
func (s *SQLiteStore) ReadVersion(slotID string, versionID int64) ([]byte, *core.Version, error) {
	version, err := s.findVersion(slotID, versionID)
	if err != nil {
		return nil, nil, err
	}

	if version.Algorithm != s.compressor.Algorithm() {
		return nil, nil, fmt.Errorf("version %d compressed with unsupported algorithm %q",
			versionID, version.Algorithm)
	}

	var buf bytes.Buffer
	if err := s.blobs.Get(version.BlobRef, &buf); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// A version row must never point at a missing blob; if it
			// does, the stored state is corrupt, not merely absent.
			return nil, nil, fmt.Errorf("%w: blob %s missing for version %d",
				core.ErrCorrupt, version.BlobRef, versionID)
		}
		return nil, nil, fmt.Errorf("fetching blob: %w", err)
	}

	payload, err := s.compressor.Decompress(buf.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: version %d failed to decompress: %v",
			core.ErrCorrupt, versionID, err)
	}

	if got := s.hasher.Hash(payload); got != version.ContentHash {
		return nil, nil, fmt.Errorf("%w: version %d hash mismatch (stored %s, got %s)",
			core.ErrCorrupt, versionID, version.ContentHash, got)
	}

	return payload, version, nil
}

// Prune deletes every version of the slot not in keep. Metadata rows go in
// one transaction; blobs are removed afterwards once nothing references
// them (orphaned blobs from a crash between the two steps are harmless).
func (s *SQLiteStore) Prune(slotID string, keep []int64) ([]int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	keepSet := make(map[int64]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT id, blob_ref FROM versions WHERE slot_id = ?", slotID)
	if err != nil {
		return nil, fmt.Errorf("listing versions for prune: %w", err)
	}

	var removed []int64
	var refs []string
	for rows.Next() {
		var id int64
		var ref string
		if err := rows.Scan(&id, &ref); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		if _, ok := keepSet[id]; !ok {
			removed = append(removed, id)
			refs = append(refs, ref)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(removed) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(removed)), ", ")
	args := make([]any, 0, len(removed)+1)
	args = append(args, slotID)
	for _, id := range removed {
		args = append(args, id)
	}
	_, err = tx.Exec(fmt.Sprintf("DELETE FROM versions WHERE slot_id = ? AND id IN (%s)", placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("deleting versions: %w", err)
	}

	// If the active pointer was evicted (a policy is free to do that),
	// repoint it at the newest surviving version.
	_, err = tx.Exec(`UPDATE slots SET active_version_id =
		(SELECT MAX(id) FROM versions WHERE slot_id = slots.id)
		WHERE id = ? AND active_version_id NOT IN
		(SELECT id FROM versions WHERE slot_id = slots.id)`, slotID)
	if err != nil {
		return nil, fmt.Errorf("updating active version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing prune: %w", err)
	}

	if err := s.deleteUnreferencedBlobs(refs); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *SQLiteStore) SlotStatus(slotID string) (*core.SlotStatus, error) {
	slot, err := s.FindSlot(slotID)
	if err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, fmt.Errorf("%w: slot %s", core.ErrNotFound, slotID)
	}

	status := &core.SlotStatus{SlotID: slotID, ActiveVersionID: slot.ActiveVersionID}

	err = s.db.QueryRow("SELECT COUNT(*) FROM versions WHERE slot_id = ?",
		slotID).Scan(&status.VersionCount)
	if err != nil {
		return nil, fmt.Errorf("counting versions: %w", err)
	}

	// Selecting the column directly (not MAX) keeps the DATETIME decltype
	// the driver needs to return a time.Time.
	var last time.Time
	err = s.db.QueryRow("SELECT created_at FROM versions WHERE slot_id = ? ORDER BY id DESC LIMIT 1",
		slotID).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading last capture time: %w", err)
	}
	if err == nil {
		status.LastCaptureAt = &last
	}
	return status, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// collectBlobRefs runs a single-column query returning blob refs.
func (s *SQLiteStore) collectBlobRefs(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("collecting blob refs: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scanning blob ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// deleteUnreferencedBlobs removes the blobs for the given refs unless some
// surviving version (in any slot) still shares the content.
func (s *SQLiteStore) deleteUnreferencedBlobs(refs []string) error {
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}

		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM versions WHERE blob_ref = ?", ref).Scan(&n); err != nil {
			return fmt.Errorf("counting blob references: %w", err)
		}
		if n == 0 {
			if err := s.blobs.Delete(ref); err != nil {
				return fmt.Errorf("deleting blob %s: %w", ref, err)
			}
		}
	}
	return nil
}

// Compile-time check that SQLiteStore implements core.Store.
var _ core.Store = (*SQLiteStore)(nil)
