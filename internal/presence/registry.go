// Package presence tracks which users currently hold a live channel.
package presence

import "sync"

// Channel is an opaque live channel handle. Handles are compared by identity,
// so implementations must be pointer-backed.
type Channel interface {
	// ID returns a stable identifier used in logs.
	ID() string
}

// Registry maps a user identity to at most one live channel.
// It is purely in-memory; a restart begins empty and clients re-register on reconnect.
type Registry struct {
	mu    sync.Mutex
	chans map[int64]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{chans: make(map[int64]Channel)}
}

// Register installs ch as the sole channel for userID and returns the handle it replaced,
// if any. The caller owns closing the replaced handle. Concurrent registrations for the same
// user resolve to last writer wins.
func (r *Registry) Register(userID int64, ch Channel) (prev Channel, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, replaced = r.chans[userID]
	r.chans[userID] = ch
	if replaced && prev == ch {
		return nil, false
	}
	return prev, replaced
}

// Deregister removes the entry for userID only if it is still ch.
// A stale deregister for a handle that was already replaced is a no-op and returns false.
func (r *Registry) Deregister(userID int64, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.chans[userID]
	if !ok || cur != ch {
		return false
	}
	delete(r.chans, userID)
	return true
}

// Lookup returns the live channel of userID.
func (r *Registry) Lookup(userID int64) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.chans[userID]
	return ch, ok
}

// Len returns the number of users with a live channel.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chans)
}

// Each calls fn for a snapshot of the current entries. fn runs without the registry lock
// held, so it may call back into the registry.
func (r *Registry) Each(fn func(userID int64, ch Channel)) {
	r.mu.Lock()
	snap := make(map[int64]Channel, len(r.chans))
	for id, ch := range r.chans {
		snap[id] = ch
	}
	r.mu.Unlock()

	for id, ch := range snap {
		fn(id, ch)
	}
}
