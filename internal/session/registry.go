package session

import (
	"sort"
	"sync"
	"time"

	"github.com/lgulliver/cliniprompt/pkg/types"
)

// entry is everything the registry holds for one session
type entry struct {
	session    types.Session
	data       *types.SessionData
	recordings []*types.AudioRecording
	// ending is set when End was deferred by busy files
	ending bool
}

// Registry is the in-memory session table. The mutex guards map bookkeeping
// only; callers never hold it across filesystem work.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int
}

type lookup int

const (
	found lookup = iota
	missing
	expired
)

// NewRegistry creates an empty table admitting at most capacity live sessions
func NewRegistry(capacity int) *Registry {
	return &Registry{
		entries:  make(map[string]*entry),
		capacity: capacity,
	}
}

// insert purges expired sessions, then adds s unless the table is full.
// The purged ids are returned either way.
func (r *Registry) insert(s types.Session, now time.Time) (purged []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged = r.purgeExpiredLocked(now)
	if len(r.entries) >= r.capacity {
		return purged, false
	}
	r.entries[s.ID] = &entry{session: s, data: types.NewSessionData()}
	return purged, true
}

// with runs fn on a live entry. An expired entry is removed instead.
func (r *Registry) with(id string, now time.Time, fn func(e *entry) error) (lookup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return missing, nil
	}
	if e.session.IsExpired(now) {
		delete(r.entries, id)
		return expired, nil
	}
	if fn == nil {
		return found, nil
	}
	return found, fn(e)
}

// remove deletes the entry, reporting whether it was present
func (r *Registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

// removeWhen deletes the entry if keep returns true for it, with the table
// locked for the whole decision. Busy markers are only added under the same
// lock, so keep may consult them without racing a new writer.
func (r *Registry) removeWhen(id string, keep func(e *entry) bool) (present, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false, false
	}
	if !keep(e) {
		return true, false
	}
	delete(r.entries, id)
	return true, true
}

// purgeExpired removes every expired entry and returns their ids
func (r *Registry) purgeExpired(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeExpiredLocked(now)
}

func (r *Registry) purgeExpiredLocked(now time.Time) []string {
	var ids []string
	for id, e := range r.entries {
		if e.session.IsExpired(now) {
			delete(r.entries, id)
			ids = append(ids, id)
		}
	}
	return ids
}

// contains reports whether id is in the table, expired or not
func (r *Registry) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of sessions in the table
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Capacity returns the concurrent session cap
func (r *Registry) Capacity() int {
	return r.capacity
}

// snapshot copies every session, oldest first
func (r *Registry) snapshot() []types.Session {
	r.mu.Lock()
	out := make([]types.Session, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.session.Clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
