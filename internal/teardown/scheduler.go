package teardown

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler runs one deferred task per session after a delay. Scheduling
// again for the same session replaces the pending task, and a canceled task
// never runs.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*task
	stopped bool
	wg      sync.WaitGroup
}

type task struct {
	timer *time.Timer
	due   time.Time
}

// NewScheduler creates an idle scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[string]*task)}
}

// Schedule runs fn on its own goroutine after delay. It returns false once
// the scheduler has been stopped.
func (s *Scheduler) Schedule(sessionID string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if prev, ok := s.pending[sessionID]; ok {
		prev.timer.Stop()
	}

	t := &task{due: time.Now().Add(delay)}
	t.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.pending[sessionID] != t {
			// canceled or replaced after the timer fired
			s.mu.Unlock()
			return
		}
		delete(s.pending, sessionID)
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		fn()
	})
	s.pending[sessionID] = t

	log.Debug().Str("session_id", sessionID).Dur("delay", delay).Msg("teardown scheduled")
	return true
}

// Cancel drops the pending task of a session, reporting whether one existed
func (s *Scheduler) Cancel(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[sessionID]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.pending, sessionID)

	log.Debug().Str("session_id", sessionID).Msg("teardown canceled")
	return true
}

// Pending reports whether a task is waiting for the session
func (s *Scheduler) Pending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[sessionID]
	return ok
}

// Due returns when the pending task of a session will run
func (s *Scheduler) Due(sessionID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[sessionID]
	if !ok {
		return time.Time{}, false
	}
	return t.due, true
}

// Len returns the number of pending tasks
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending task and waits for running ones to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.pending {
		t.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
