package server

import (
	"sort"
	"sync"
)

// Entry pairs a live connection with its authenticated username.
type Entry struct {
	Conn     *SafeConn
	Username string
}

// Registry is the single source of truth for who is online. It maps live
// connections to authenticated usernames under one mutex; usernames among
// live entries are unique, and a username becomes reusable the moment its
// entry is removed.
//
// Callers obtain the registry through dependency injection; there is no
// package-level instance.
type Registry struct {
	mu      sync.Mutex
	entries map[*SafeConn]*registryEntry
	nextSeq uint64
}

type registryEntry struct {
	username string
	seq      uint64 // registration order, for stable snapshots
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[*SafeConn]*registryEntry),
	}
}

// Register atomically inserts conn under username. Returns false without
// mutating anything if a live entry already holds the username.
func (r *Registry) Register(conn *SafeConn, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.username == username {
			return false
		}
	}

	r.entries[conn] = &registryEntry{username: username, seq: r.nextSeq}
	r.nextSeq++
	return true
}

// Deregister removes conn's entry if present. Idempotent: removing an
// already-absent connection is a no-op.
func (r *Registry) Deregister(conn *SafeConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, conn)
}

// UsernameLive reports whether a live entry currently holds username.
func (r *Registry) UsernameLive(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.username == username {
			return true
		}
	}
	return false
}

// Snapshot returns a point-in-time view of all live entries in registration
// order. The copy is taken under the lock, so no concurrent register or
// deregister can be half-observed; mutations after the call do not affect
// the returned slice.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()

	type seqEntry struct {
		Entry
		seq uint64
	}
	snapshot := make([]seqEntry, 0, len(r.entries))
	for conn, e := range r.entries {
		snapshot = append(snapshot, seqEntry{Entry{Conn: conn, Username: e.username}, e.seq})
	}
	r.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].seq < snapshot[j].seq })

	entries := make([]Entry, len(snapshot))
	for i, e := range snapshot {
		entries[i] = e.Entry
	}
	return entries
}

// Count returns the number of live entries.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
