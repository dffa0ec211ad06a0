package common

import (
	"context"
	"time"

	"github.com/lgulliver/cliniprompt/pkg/types"
)

const sessionKeyPrefix = "cliniprompt:session:"

// SessionMirror publishes session snapshots to Redis for read-only observers.
// The registry never reads the mirror back.
type SessionMirror struct {
	cache *Cache
}

// NewSessionMirror creates a mirror on top of cache
func NewSessionMirror(cache *Cache) *SessionMirror {
	return &SessionMirror{cache: cache}
}

// SessionKey returns the Redis key for a session snapshot
func SessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// Publish stores the snapshot until the session expires
func (m *SessionMirror) Publish(ctx context.Context, s types.Session, now time.Time) error {
	ttl := s.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return m.Remove(ctx, s.ID)
	}
	return m.cache.Set(ctx, SessionKey(s.ID), s, ttl)
}

// Remove deletes the snapshot of an ended session
func (m *SessionMirror) Remove(ctx context.Context, sessionID string) error {
	return m.cache.Delete(ctx, SessionKey(sessionID))
}

// Lookup reads a published snapshot
func (m *SessionMirror) Lookup(ctx context.Context, sessionID string) (types.Session, error) {
	var s types.Session
	err := m.cache.Get(ctx, SessionKey(sessionID), &s)
	return s, err
}
