package services

import (
	"sync"

	"github.com/abrezinsky/chanpoll/internal/errors"
)

// EntryState tags a registry slot. A slot is either held by a live session
// or marked as ending early, in which case the running session reports with
// current tallies on its next wakeup.
type EntryState int

const (
	EntryActive EntryState = iota
	EntryEndingEarly
)

// Entry is one channel's registry slot
type Entry struct {
	State EntryState
	Token uint64
}

// Registry is the single source of truth for which session owns which
// channel. Sessions re-read their slot on every wakeup and never cache it
// across a suspension: all cancellation (abort, early end, supersede) works
// by mutating the slot here.
type Registry struct {
	mu    sync.Mutex
	slots map[string]Entry
	last  uint64
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]Entry)}
}

// Start claims the channel for a new session and returns its token.
// Fails with a conflict error if the channel already has a slot, whether
// live or ending early; the existing session is left untouched.
func (r *Registry) Start(channel string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[channel]; ok {
		return 0, errors.Conflictf("A poll is already running in %s.", channel)
	}

	r.last++
	r.slots[channel] = Entry{State: EntryActive, Token: r.last}
	return r.last, nil
}

// Abort removes the channel's slot. The running session notices the absence
// on its next wakeup and exits without reporting. The channel is free for a
// new poll immediately.
func (r *Registry) Abort(channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[channel]; !ok {
		return errors.NotFoundf("There is no ongoing poll in %s.", channel)
	}

	delete(r.slots, channel)
	return nil
}

// EndEarly marks the channel's slot as ending early. The slot stays in
// place until the session itself reports and releases it.
func (r *Registry) EndEarly(channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[channel]; !ok {
		return errors.NotFoundf("There is no ongoing poll in %s.", channel)
	}

	r.slots[channel] = Entry{State: EntryEndingEarly}
	return nil
}

// Lookup returns the channel's slot, if any
func (r *Registry) Lookup(channel string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.slots[channel]
	return e, ok
}

// Release removes the channel's slot on behalf of the session holding
// token. A slot held by a different live session is left alone; the
// ending-early marker is always removed, since only the reporting session
// releases after observing it.
func (r *Registry) Release(channel string, token uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.slots[channel]
	if !ok {
		return
	}
	if e.State == EntryActive && e.Token != token {
		return
	}
	delete(r.slots, channel)
}
