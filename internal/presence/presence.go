// Package presence tracks which usernames are bound to a live connection on
// this instance. It is the source of truth for "who is online".
package presence

import (
	"sort"
	"sync"
)

// Handle is a live connection as seen by presence and its readers. Handles
// are compared by identity.
type Handle interface {
	ID() string
	Send(data []byte) error
}

// Registry maps usernames to connection handles. A username appears at most
// once. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Handle
	onChange func(online []string)

	seq uint64 // mutation counter, guarded by mu

	notifyMu  sync.Mutex
	delivered uint64 // seq of the last snapshot passed to onChange
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Handle)}
}

// OnChange installs fn to be called after every mutation with the sorted
// post-mutation snapshot. Calls never overlap and never go back in time: a
// snapshot overtaken by a newer one is dropped, so the last call always
// carries the current online set. fn runs outside the registry lock, so it
// may read the registry, but it must not mutate it.
func (r *Registry) OnChange(fn func(online []string)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Set binds username to h. Any previous handle is replaced and returned.
func (r *Registry) Set(username string, h Handle) Handle {
	r.mu.Lock()
	prev := r.byName[username]
	r.byName[username] = h
	r.notifyUnlock()
	return prev
}

// Remove unbinds username. It reports whether an entry existed.
func (r *Registry) Remove(username string) bool {
	r.mu.Lock()
	_, ok := r.byName[username]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byName, username)
	r.notifyUnlock()
	return true
}

// RemoveIf unbinds username only while it is still bound to h. A stale
// connection closing after its user logged in elsewhere leaves the newer
// entry untouched.
func (r *Registry) RemoveIf(username string, h Handle) bool {
	r.mu.Lock()
	cur, ok := r.byName[username]
	if !ok || cur != h {
		r.mu.Unlock()
		return false
	}
	delete(r.byName, username)
	r.notifyUnlock()
	return true
}

// Get returns the handle bound to username.
func (r *Registry) Get(username string) (Handle, bool) {
	r.mu.RLock()
	h, ok := r.byName[username]
	r.mu.RUnlock()
	return h, ok
}

// Snapshot returns the online usernames in sorted order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of online usernames.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.byName)
	r.mu.RUnlock()
	return n
}

func (r *Registry) snapshotLocked() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// notifyUnlock releases mu, which the caller holds after a mutation, and
// delivers the post-mutation snapshot unless a newer one already went out.
func (r *Registry) notifyUnlock() {
	r.seq++
	seq, snap, fn := r.seq, r.snapshotLocked(), r.onChange
	r.mu.Unlock()

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if seq < r.delivered {
		return
	}
	r.delivered = seq
	if fn != nil {
		fn(snap)
	}
}
