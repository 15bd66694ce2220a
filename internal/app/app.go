// Package app is the wiring layer between the CLI and the versioning
// engine. It constructs all dependencies from config, exposes high-level
// operations that accept raw strings (paths or slot ids), and manages
// resource lifecycles on Close.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"savevault/internal/blob"
	"savevault/internal/compress"
	"savevault/internal/config"
	"savevault/internal/core"
	"savevault/internal/store"
	"savevault/internal/watch"
)

// App owns one fully wired savevault instance.
type App struct {
	cfg     *config.Config
	store   core.Store
	engine  *core.Engine
	logger  core.Logger
	logFile *os.File
}

// NewApp creates a fully wired App from the given, already-validated config.
// The caller must call Close when done.
func NewApp(cfg *config.Config) (*App, error) {
	logger, logFile, err := newLogger(cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	compressor, err := compress.NewZstdCompressor(cfg.CompressionLevel)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	blobs, err := blob.NewBlobStoreFromConfig(cfg.Blobs)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	clock := core.RealClock{}
	hasher := core.SHA256Hasher{}

	st, err := store.NewStoreFromConfig(cfg.Database, blobs, compressor, hasher, clock, core.UUIDGenerator{})
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	subscribe := func(root string) (watch.Subscription, error) {
		return watch.Subscribe(root, watch.Options{
			PollInterval: time.Duration(cfg.PollFallbackInterval),
			Logger:       log,
		})
	}

	engine := core.NewEngine(st, compressor, hasher, core.FSSnapshotReader{}, subscribe, clock, log,
		core.Options{
			DebounceWindow:        time.Duration(cfg.DebounceWindow),
			RearmInterval:         time.Duration(cfg.PollFallbackInterval),
			MaxConcurrentCaptures: int64(cfg.MaxConcurrentCaptures),
			Retention:             core.KeepLastN{N: cfg.RetentionCount},
		})

	return &App{
		cfg:     cfg,
		store:   st,
		engine:  engine,
		logger:  log,
		logFile: logFile,
	}, nil
}

// AddSlot registers a save root for tracking. Idempotent by path.
func (a *App) AddSlot(rawPath, emulator string) (*core.Slot, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("checking path: %w", err)
	}
	return a.store.CreateSlot(absPath, emulator)
}

// RemoveSlot unregisters a slot and deletes its whole version history.
func (a *App) RemoveSlot(slotArg string) error {
	slot, err := a.resolveSlot(slotArg)
	if err != nil {
		return err
	}
	return a.engine.UnregisterSlot(slot.ID)
}

// ListSlots returns all tracked slots.
func (a *App) ListSlots() ([]*core.Slot, error) {
	return a.store.ListSlots()
}

// ListVersions returns a slot's stored versions, oldest first.
func (a *App) ListVersions(slotArg string) ([]*core.Version, error) {
	slot, err := a.resolveSlot(slotArg)
	if err != nil {
		return nil, err
	}
	return a.store.ListVersions(slot.ID)
}

// Restore writes a stored version's content back to the slot's root path.
// versionID 0 means the active version.
func (a *App) Restore(slotArg string, versionID int64) (*core.Version, error) {
	slot, err := a.resolveSlot(slotArg)
	if err != nil {
		return nil, err
	}
	if versionID == 0 {
		if slot.ActiveVersionID == nil {
			return nil, fmt.Errorf("slot has no stored versions")
		}
		versionID = *slot.ActiveVersionID
	}
	return a.engine.RestoreVersion(slot.ID, versionID)
}

// Status reports a slot's pipeline state and stored history summary.
func (a *App) Status(slotArg string) (*core.SlotInfo, error) {
	slot, err := a.resolveSlot(slotArg)
	if err != nil {
		return nil, err
	}
	return a.engine.GetSlotStatus(slot.ID)
}

// Run starts the daemon: every slot from the config file and the database is
// registered and watched until ctx is cancelled. onEvent receives the
// engine's lifecycle stream; pass nil to only log events.
func (a *App) Run(ctx context.Context, onEvent func(core.Event)) error {
	for _, sc := range a.cfg.Slots {
		if _, err := a.engine.RegisterSlot(sc.Path, sc.Emulator); err != nil {
			return fmt.Errorf("registering slot %s: %w", sc.Path, err)
		}
	}

	// Slots added with `slot add` while the daemon was down.
	slots, err := a.store.ListSlots()
	if err != nil {
		return fmt.Errorf("listing slots: %w", err)
	}
	for _, slot := range slots {
		if _, err := a.engine.RegisterSlot(slot.RootPath, slot.Emulator); err != nil {
			return fmt.Errorf("registering slot %s: %w", slot.RootPath, err)
		}
	}

	a.logger.Info("daemon started", "slots", len(slots))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("daemon stopping")
			return nil
		case ev, ok := <-a.engine.Events():
			if !ok {
				return nil
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}
}

// Close stops the engine, waits for in-flight persistence, and releases the
// database and log file.
func (a *App) Close() error {
	var firstErr error

	if err := a.engine.Close(); err != nil {
		firstErr = fmt.Errorf("closing engine: %w", err)
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// resolveSlot accepts either a slot id or a path and returns the slot.
func (a *App) resolveSlot(arg string) (*core.Slot, error) {
	slot, err := a.store.FindSlot(arg)
	if err != nil {
		return nil, fmt.Errorf("finding slot: %w", err)
	}
	if slot != nil {
		return slot, nil
	}

	absPath, err := filepath.Abs(arg)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	slot, err = a.store.FindSlotByPath(absPath)
	if err != nil {
		return nil, fmt.Errorf("finding slot by path: %w", err)
	}
	if slot == nil {
		return nil, fmt.Errorf("%w: no slot matches %q", core.ErrNotFound, arg)
	}
	return slot, nil
}
