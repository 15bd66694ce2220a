package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DefaultPollInterval is used when Options.PollInterval is unset.
const DefaultPollInterval = 2 * time.Second

// pollSubscription is the fallback backend: it scans the root periodically
// and diffs mtime+size per file. Slower to notice changes than fsnotify but
// correct, and immune to platform watch quirks.
type pollSubscription struct {
	root     string
	interval time.Duration
	events   chan Event
	stop     chan struct{}
	done     chan struct{}
	logger   Logger
}

type fileState struct {
	modTime time.Time
	size    int64
}

func newPollSubscription(root string, interval time.Duration, logger Logger) (*pollSubscription, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("stat watch root: %w", err)
	}

	s := &pollSubscription{
		root:     root,
		interval: interval,
		events:   make(chan Event, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
	}

	initial, err := s.scan()
	if err != nil {
		return nil, err
	}

	go s.loop(initial)
	return s, nil
}

func (s *pollSubscription) Events() <-chan Event { return s.events }

func (s *pollSubscription) Close() error {
	close(s.stop)
	<-s.done
	return nil
}

func (s *pollSubscription) loop(prev map[string]fileState) {
	defer close(s.done)
	defer close(s.events)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			current, err := s.scan()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					s.emit(Event{Path: s.root, Kind: Removed, ObservedAt: time.Now()})
					return
				}
				s.logger.Warn("poll scan failed", "path", s.root, "error", err)
				continue
			}
			s.diff(prev, current)
			prev = current
		}
	}
}

// scan captures mtime+size for the root file, or for every regular file
// under a root directory.
func (s *pollSubscription) scan() (map[string]fileState, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, err
	}

	states := make(map[string]fileState)
	if !info.IsDir() {
		states[s.root] = fileState{modTime: info.ModTime(), size: info.Size()}
		return states, nil
	}

	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Files can vanish between listing and stat; skip them and
			// let the next scan settle it.
			if errors.Is(err, fs.ErrNotExist) && path != s.root {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		states[path] = fileState{modTime: fi.ModTime(), size: fi.Size()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (s *pollSubscription) diff(prev, current map[string]fileState) {
	now := time.Now()
	for path, st := range current {
		old, ok := prev[path]
		switch {
		case !ok:
			s.emit(Event{Path: path, Kind: Created, ObservedAt: now})
		case !old.modTime.Equal(st.modTime) || old.size != st.size:
			s.emit(Event{Path: path, Kind: Modified, ObservedAt: now})
		}
	}
	for path := range prev {
		if _, ok := current[path]; !ok {
			s.emit(Event{Path: path, Kind: Removed, ObservedAt: now})
		}
	}
}

func (s *pollSubscription) emit(ev Event) {
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
