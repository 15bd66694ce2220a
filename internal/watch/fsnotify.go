package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fsnotifySubscription watches a root with native OS notifications.
// fsnotify is not recursive, so for directory roots every subdirectory is
// added to the watch, including ones created after the subscription starts.
type fsnotifySubscription struct {
	root    string
	watcher *fsnotify.Watcher
	events  chan Event
	done    chan struct{}
	logger  Logger
}

func newFsnotifySubscription(root string, logger Logger) (*fsnotifySubscription, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat watch root: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	s := &fsnotifySubscription{
		root:    root,
		watcher: watcher,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		logger:  logger,
	}

	if info.IsDir() {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(path)
			}
			return nil
		})
	} else {
		// Watching the parent directory rather than the file itself
		// survives the rename-over-target writes emulators commonly do.
		err = watcher.Add(filepath.Dir(root))
	}
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("adding watch: %w", err)
	}

	go s.loop(info.IsDir())
	return s, nil
}

func (s *fsnotifySubscription) Events() <-chan Event { return s.events }

func (s *fsnotifySubscription) Close() error {
	err := s.watcher.Close()
	<-s.done
	return err
}

func (s *fsnotifySubscription) loop(rootIsDir bool) {
	defer close(s.done)
	defer close(s.events)

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if s.handle(ev, rootIsDir) {
				// Root is gone: emit the terminal event and stop.
				s.emit(Event{Path: s.root, Kind: Removed, ObservedAt: time.Now()})
				s.watcher.Close()
				return
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				s.logger.Warn("watch error", "path", s.root, "error", err)
			}
		}
	}
}

// handle translates one fsnotify event. Returns true when the watch root
// itself was removed or renamed away.
func (s *fsnotifySubscription) handle(ev fsnotify.Event, rootIsDir bool) (rootGone bool) {
	if ev.Name == s.root && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// A rename-over-target replaces the file with new content; only
		// treat the root as gone if nothing is there anymore.
		if _, err := os.Stat(s.root); errors.Is(err, fs.ErrNotExist) {
			return true
		}
	}

	// For single-file roots the parent directory is watched; ignore
	// sibling activity.
	if !rootIsDir && ev.Name != s.root {
		return false
	}

	now := time.Now()
	switch {
	case ev.Op&fsnotify.Create != 0:
		// New subdirectories need their own watch to stay recursive.
		if rootIsDir {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if err := s.watcher.Add(ev.Name); err != nil {
					s.logger.Warn("watching new subdirectory failed",
						"path", ev.Name, "error", err)
				}
			}
		}
		s.emit(Event{Path: ev.Name, Kind: Created, ObservedAt: now})
	case ev.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		s.emit(Event{Path: ev.Name, Kind: Modified, ObservedAt: now})
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		s.emit(Event{Path: ev.Name, Kind: Removed, ObservedAt: now})
	}
	return false
}

// emit delivers an event without ever blocking the notification loop. If the
// buffer is full the oldest event is dropped: the classifier only needs to
// learn that *something* changed, and the snapshot read after the quiet
// period observes the final state regardless.
func (s *fsnotifySubscription) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}
