// Package watch delivers raw filesystem change notifications for slot
// roots. It exposes one capability, subscribing to a path for an event
// stream, with two interchangeable backends: native OS notifications via
// fsnotify, and a periodic mtime poll used as a degraded-but-correct
// fallback when native watching cannot be established. Callers never know
// which backend is active.
//
// Delivery is at-least-once: spurious duplicate events are allowed, genuine
// writes are never silently dropped. When the watch root itself disappears,
// the subscription emits a final Removed event for the root and closes its
// event channel; re-arming is the caller's responsibility.
package watch

import "time"

// Kind classifies a raw change notification.
type Kind int

const (
	Created Kind = iota
	Modified
	Removed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one raw change notification.
type Event struct {
	Path       string
	Kind       Kind
	ObservedAt time.Time
}

// Subscription is a live watch on one root path. The Events channel is
// closed when the subscription terminates, either via Close or because the
// root disappeared.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Logger is the subset of structured logging the watch backends need. It is
// satisfied by core.Logger and by *slog.Logger adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a subscription.
type Options struct {
	// PollInterval is the scan period for the poll fallback backend.
	PollInterval time.Duration

	// ForcePoll skips the native backend entirely. Used for tests and for
	// platforms where fsnotify is known to misbehave on the target path.
	ForcePoll bool

	Logger Logger
}

// Subscribe starts watching root. The native backend is tried first; if it
// cannot be established (permission denied, watch limit, unsupported
// filesystem) the poll backend takes over at Options.PollInterval.
func Subscribe(root string, opts Options) (Subscription, error) {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	if !opts.ForcePoll {
		sub, err := newFsnotifySubscription(root, opts.Logger)
		if err == nil {
			return sub, nil
		}
		opts.Logger.Warn("native watch unavailable, falling back to polling",
			"path", root, "error", err)
	}

	return newPollSubscription(root, opts.PollInterval, opts.Logger)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
