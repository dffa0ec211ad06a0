package busy

import (
	"sort"
	"sync"
)

// Tag joins a relative file path and a consumer name
func Tag(relPath, consumer string) string {
	return relPath + ":" + consumer
}

// Tracker records which files of a session are in use, and by whom.
// A session with any tag must not have its workspace deleted.
type Tracker struct {
	mu   sync.RWMutex
	tags map[string]map[string]struct{} // session id -> tags
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{tags: make(map[string]map[string]struct{})}
}

// Mark records that consumer is using relPath. Marking twice is a no-op.
func (t *Tracker) Mark(sessionID, relPath, consumer string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.tags[sessionID]
	if !ok {
		set = make(map[string]struct{})
		t.tags[sessionID] = set
	}
	set[Tag(relPath, consumer)] = struct{}{}
}

// Unmark removes the tag. Unmarking an absent tag is a no-op.
func (t *Tracker) Unmark(sessionID, relPath, consumer string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.tags[sessionID]
	if !ok {
		return
	}
	delete(set, Tag(relPath, consumer))
	if len(set) == 0 {
		delete(t.tags, sessionID)
	}
}

// CanCleanup reports whether the session has no outstanding tags
func (t *Tracker) CanCleanup(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tags[sessionID]) == 0
}

// Tags returns the session's tags in sorted order
func (t *Tracker) Tags(sessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.tags[sessionID]))
	for tag := range t.tags[sessionID] {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Clear forgets every tag of the session
func (t *Tracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tags, sessionID)
}

// BusySessions returns how many sessions hold at least one tag
func (t *Tracker) BusySessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tags)
}
