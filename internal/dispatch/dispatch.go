package dispatch

import (
	"sync"

	"github.com/abrezinsky/chanpoll/internal/logger"
	"github.com/abrezinsky/chanpoll/internal/models"
)

// Target is a live session the dispatcher can feed occurrences to
type Target interface {
	Channel() string
	Deliver(o models.Occurrence) bool
}

// Dispatcher fans externally received occurrences out to every registered
// session whose subscription matches. Channel-scoped occurrences (chat,
// departures, timer fires) reach only sessions bound to that channel;
// renames and account resolutions are global and reach all sessions.
//
// A channel may briefly have more than one registered target: after an
// abort, the cancelled session stays registered until its next wakeup while
// a replacement can already be live. Routing to all matches is what lets
// the stale one wake, notice the registry, and exit.
type Dispatcher struct {
	log     logger.Logger
	mu      sync.RWMutex
	targets map[Target]struct{}
}

// New creates an empty Dispatcher
func New(log logger.Logger) *Dispatcher {
	return &Dispatcher{
		log:     log,
		targets: make(map[Target]struct{}),
	}
}

// Register adds a session to the fan-out set
func (d *Dispatcher) Register(t Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets[t] = struct{}{}
	d.log.Debug("session registered", "channel", t.Channel(), "total", len(d.targets))
}

// Unregister removes a session from the fan-out set
func (d *Dispatcher) Unregister(t Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.targets, t)
	d.log.Debug("session unregistered", "channel", t.Channel(), "total", len(d.targets))
}

// Count returns the number of registered sessions
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.targets)
}

// Dispatch routes one occurrence. Callers deliver occurrences in transport
// order; each session sees them in the order Dispatch was called.
func (d *Dispatcher) Dispatch(o models.Occurrence) {
	channel := scope(o)

	// Snapshot under the read lock, deliver outside it: delivery can
	// block on a busy session, and a terminating session needs the write
	// lock to unregister itself.
	d.mu.RLock()
	matches := make([]Target, 0, len(d.targets))
	for t := range d.targets {
		if channel == "" || t.Channel() == channel {
			matches = append(matches, t)
		}
	}
	d.mu.RUnlock()

	for _, t := range matches {
		t.Deliver(o)
	}
}

// scope returns the channel an occurrence is confined to, or "" for
// occurrences that concern every session.
func scope(o models.Occurrence) string {
	switch occ := o.(type) {
	case models.ChatMessage:
		return occ.Channel
	case models.Departure:
		return occ.Channel
	case models.TimerFire:
		return occ.Channel
	default:
		return ""
	}
}
