// Package lock serializes access to individual workspace files.
//
// A lease is held in two layers: a per-key weighted semaphore admits one
// goroutine at a time inside the process, and an flock(2) on a lock file under
// the session's metadata/locks directory excludes other processes sharing the
// storage root. Keys are the basename of the protected file, so two files with
// the same name in different categories of one session share a lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultTimeout bounds how long Acquire waits
	DefaultTimeout = 30 * time.Second

	lockSuffix = ".lock"
	retryDelay = 25 * time.Millisecond
)

// Broker hands out timeout-bounded exclusive leases on files
type Broker struct {
	timeout time.Duration

	mu   sync.Mutex
	keys map[string]*keyState
}

type keyState struct {
	sem  *semaphore.Weighted
	refs int
}

// Lease is a held lock. Release is idempotent.
type Lease struct {
	broker *Broker
	key    string
	fl     *flock.Flock
	once   sync.Once
}

// NewBroker creates a broker; a non-positive timeout uses DefaultTimeout
func NewBroker(timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Broker{
		timeout: timeout,
		keys:    make(map[string]*keyState),
	}
}

// Timeout returns the acquisition timeout
func (b *Broker) Timeout() time.Duration {
	return b.timeout
}

// LockPath returns the lock file guarding filePath
func LockPath(lockDir, filePath string) string {
	return filepath.Join(lockDir, filepath.Base(filePath)+lockSuffix)
}

// Acquire blocks until the lock guarding filePath is held or the timeout
// elapses. Expiry yields an error matching common.ErrLockTimeout.
func (b *Broker) Acquire(ctx context.Context, sessionID, lockDir, filePath string) (*Lease, error) {
	const op = "acquire lock"
	path := LockPath(lockDir, filePath)
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	state := b.ref(path)
	if err := state.sem.Acquire(ctx, 1); err != nil {
		b.unref(path)
		return nil, b.acquireErr(op, sessionID, path, err)
	}

	// only the last path element may be created; a missing workspace stays missing
	if err := os.Mkdir(lockDir, 0o700); err != nil && !errors.Is(err, fs.ErrExist) {
		state.sem.Release(1)
		b.unref(path)
		return nil, common.NewError(op, sessionID, common.ErrStorage, fmt.Errorf("failed to create lock directory: %w", err))
	}

	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil || !locked {
		state.sem.Release(1)
		b.unref(path)
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, b.acquireErr(op, sessionID, path, err)
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("path", path).
		Dur("duration", time.Since(startTime)).
		Msg("file lock acquired")

	return &Lease{broker: b, key: path, fl: fl}, nil
}

// Release unlocks the file and admits the next waiter
func (l *Lease) Release() {
	l.once.Do(func() {
		if err := l.fl.Unlock(); err != nil {
			log.Warn().Err(err).Str("path", l.key).Msg("failed to release file lock")
		}
		l.broker.mu.Lock()
		state := l.broker.keys[l.key]
		l.broker.mu.Unlock()
		state.sem.Release(1)
		l.broker.unref(l.key)
	})
}

// Held reports how many keys currently have a holder or waiter
func (b *Broker) Held() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keys)
}

func (b *Broker) ref(key string) *keyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.keys[key]
	if !ok {
		state = &keyState{sem: semaphore.NewWeighted(1)}
		b.keys[key] = state
	}
	state.refs++
	return state
}

func (b *Broker) unref(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.keys[key]
	if !ok {
		return
	}
	state.refs--
	if state.refs == 0 {
		delete(b.keys, key)
	}
}

func (b *Broker) acquireErr(op, sessionID, path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Str("session_id", sessionID).Str("path", path).Dur("timeout", b.timeout).Msg("file lock timed out")
		return common.NewError(op, sessionID, common.ErrLockTimeout, fmt.Errorf("waited %s for %s", b.timeout, filepath.Base(path)))
	}
	if errors.Is(err, context.Canceled) {
		return common.Canceled(op, sessionID, err)
	}
	return common.NewError(op, sessionID, common.ErrStorage, err)
}
