package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/cliniprompt/internal/audio"
	"github.com/lgulliver/cliniprompt/internal/busy"
	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/internal/lock"
	"github.com/lgulliver/cliniprompt/internal/metrics"
	"github.com/lgulliver/cliniprompt/internal/quota"
	"github.com/lgulliver/cliniprompt/internal/storage"
	"github.com/lgulliver/cliniprompt/internal/teardown"
	"github.com/lgulliver/cliniprompt/internal/transfer"
	"github.com/lgulliver/cliniprompt/pkg/config"
	"github.com/lgulliver/cliniprompt/pkg/types"
)

// Mirror receives best-effort copies of session records
type Mirror interface {
	Publish(ctx context.Context, s types.Session, now time.Time) error
	Remove(ctx context.Context, sessionID string) error
}

// EventRecorder journals lifecycle events
type EventRecorder interface {
	Record(ctx context.Context, event *types.SessionEvent) error
}

// Manager is the single entry point for session lifecycle and workspace I/O
type Manager struct {
	cfg      config.SessionConfig
	store    storage.WorkspaceStore
	registry *Registry
	locks    *lock.Broker
	quota    *quota.Enforcer
	transfer *transfer.Engine
	busy     *busy.Tracker
	teardown *teardown.Scheduler
	audio    *audio.Validator

	mirror  Mirror
	history EventRecorder
	metrics *metrics.Collector
	now     func() time.Time

	purgeOrphans bool
	stopSweep    chan struct{}
	sweepDone    chan struct{}
	closeOnce    sync.Once
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now, for expiry tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMirror publishes every session change to mirror
func WithMirror(mirror Mirror) Option {
	return func(m *Manager) { m.mirror = mirror }
}

// WithHistory journals lifecycle events to recorder
func WithHistory(recorder EventRecorder) Option {
	return func(m *Manager) { m.history = recorder }
}

// WithMetrics records operations on collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// WithOrphanPurge deletes workspaces left by a previous process at start
func WithOrphanPurge(enabled bool) Option {
	return func(m *Manager) { m.purgeOrphans = enabled }
}

// NewManager wires the session manager and starts its expiry sweeper
func NewManager(ctx context.Context, cfg config.SessionConfig, store storage.WorkspaceStore, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	m := &Manager{
		cfg:       cfg,
		store:     store,
		registry:  NewRegistry(cfg.MaxConcurrent),
		locks:     lock.NewBroker(cfg.LockTimeout),
		busy:      busy.NewTracker(),
		teardown:  teardown.NewScheduler(),
		audio:     audio.NewValidator(cfg.MaxAudioSize),
		now:       time.Now,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.metrics.ObserveLocksHeld(m.locks.Held)
	m.quota = quota.NewEnforcer(store, m, cfg.StorageQuota, cfg.GlobalStorageQuota)
	m.transfer = transfer.NewEngine(store, m.locks, m.quota, cfg.ChunkSize)

	if m.purgeOrphans {
		if _, err := m.PurgeOrphans(ctx); err != nil {
			return nil, err
		}
	}

	go m.sweepLoop()

	log.Info().
		Str("root", store.Root()).
		Int("max_sessions", cfg.MaxConcurrent).
		Dur("timeout", cfg.Timeout).
		Int64("session_quota", cfg.StorageQuota).
		Int64("global_quota", cfg.GlobalStorageQuota).
		Msg("session manager started")

	return m, nil
}

// Close stops the sweeper and cancels pending teardowns. Workspaces are left on disk.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopSweep)
		<-m.sweepDone
		m.teardown.Stop()
		log.Info().Int("sessions", m.registry.Len()).Msg("session manager stopped")
	})
}

// Config returns the limits the manager runs with
func (m *Manager) Config() config.SessionConfig {
	return m.cfg
}

// ActiveSessions returns the number of sessions in the registry
func (m *Manager) ActiveSessions() int {
	return m.registry.Len()
}

// Sessions returns a snapshot of every session, oldest first
func (m *Manager) Sessions() []types.Session {
	return m.registry.snapshot()
}

// Create admits a new session, provisions its workspace and persists its record.
// A nil preferences value selects the defaults.
func (m *Manager) Create(ctx context.Context, prefs *types.UserPreferences, userAgent string) (types.Session, error) {
	const op = "create session"

	p := types.DefaultPreferences()
	if prefs != nil {
		p = prefs.WithDefaults()
	}
	if err := p.Validate(); err != nil {
		return types.Session{}, common.NewError(op, "", common.ErrInvalidInput, err)
	}

	now := m.now()
	id := uuid.New().String()
	s := types.Session{
		ID:            id,
		State:         types.StateInitial,
		CreatedAt:     now,
		LastUpdated:   now,
		ExpiresAt:     now.Add(m.cfg.Timeout),
		UserAgent:     userAgent,
		Preferences:   p.Clone(),
		WorkspacePath: m.store.SessionPath(id),
	}

	purged, ok := m.registry.insert(s, now)
	for _, expiredID := range purged {
		m.retire(ctx, expiredID, types.EventExpired)
	}
	if !ok {
		m.metrics.RecordSessionRejected()
		log.Warn().Int("max_sessions", m.registry.Capacity()).Msg("concurrent session limit reached")
		return types.Session{}, common.NewError(op, "", common.ErrConcurrencyLimit,
			fmt.Errorf("maximum of %d concurrent sessions", m.registry.Capacity()))
	}

	if _, err := m.store.Ensure(ctx, id); err != nil {
		m.registry.remove(id)
		if rmErr := m.store.RemoveSession(context.Background(), id); rmErr != nil {
			log.Error().Err(rmErr).Str("session_id", id).Msg("failed to remove partial workspace")
		}
		return types.Session{}, common.StorageErr(op, id, err)
	}

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(m.registry.Len())
	m.persist(ctx, id)
	m.record(ctx, id, types.EventCreated, "", types.StateInitial, types.JSONMap{"user_agent": userAgent})

	log.Info().
		Str("session_id", id).
		Time("expires_at", s.ExpiresAt).
		Msg("session created")

	return s.Clone(), nil
}

// Get returns a copy of the session. An expired session is evicted and
// reported as not found.
func (m *Manager) Get(ctx context.Context, id string) (types.Session, error) {
	var out types.Session
	err := m.update(ctx, "get session", id, func(e *entry) error {
		out = e.session.Clone()
		return nil
	})
	return out, err
}

// Transition moves the session along a legal edge. An illegal edge fails
// with common.ErrInvalidTransition and leaves the session untouched.
func (m *Manager) Transition(ctx context.Context, id string, to types.WorkflowState) error {
	return m.shift(ctx, "transition session", id, to, nil)
}

// End removes the session and its workspace. While files are busy the
// removal is deferred to a grace-period teardown and End returns at once.
func (m *Manager) End(ctx context.Context, id string) error {
	const op = "end session"

	if err := m.update(ctx, op, id, nil); err != nil {
		return err
	}

	// the busy check and the removal share one registry critical section, so
	// a writer either registers first and defers End or finds the session gone
	var state types.WorkflowState
	present, removed := m.registry.removeWhen(id, func(e *entry) bool {
		state = e.session.State
		if m.busy.CanCleanup(id) {
			return true
		}
		e.ending = true
		return false
	})
	if !present {
		return common.NotFound(op, id)
	}

	if !removed {
		m.scheduleTeardown(id)
		event := log.Info().Str("session_id", id).Strs("busy", m.busy.Tags(id)).Dur("grace_period", m.cfg.GracePeriod)
		if due, ok := m.teardown.Due(id); ok {
			event = event.Time("teardown_at", due)
		}
		event.Msg("session end deferred, files busy")
		return nil
	}

	if err := m.destroy(ctx, id); err != nil {
		return common.StorageErr(op, id, err)
	}
	m.metrics.RecordSessionRemoved(types.EventEnded)
	m.metrics.SetActiveSessions(m.registry.Len())
	m.record(ctx, id, types.EventEnded, state, "", nil)
	log.Info().Str("session_id", id).Msg("session ended")
	return nil
}

// Reactivate revives a session: a pending teardown is canceled and its
// lifetime restarts from now.
func (m *Manager) Reactivate(ctx context.Context, id string) (types.Session, error) {
	var out types.Session
	err := m.update(ctx, "reactivate session", id, func(e *entry) error {
		now := m.now()
		e.ending = false
		e.session.ExpiresAt = now.Add(m.cfg.Timeout)
		e.session.LastUpdated = now
		out = e.session.Clone()
		return nil
	})
	if err != nil {
		return types.Session{}, err
	}

	if m.teardown.Cancel(id) {
		m.metrics.RecordTeardown("canceled")
		log.Info().Str("session_id", id).Msg("pending teardown canceled")
	}
	m.persist(ctx, id)
	return out, nil
}

// ExtendExpiration moves the deadline to now+d
func (m *Manager) ExtendExpiration(ctx context.Context, id string, d time.Duration) (types.Session, error) {
	const op = "extend expiration"
	if d <= 0 {
		return types.Session{}, common.InvalidInput(op, id, "extension must be positive, got %s", d)
	}

	var out types.Session
	err := m.update(ctx, op, id, func(e *entry) error {
		now := m.now()
		expiresAt := now.Add(d)
		if !expiresAt.After(e.session.CreatedAt) {
			return common.InvalidInput(op, id, "expiry %s is not after creation", expiresAt)
		}
		e.session.ExpiresAt = expiresAt
		e.session.LastUpdated = now
		out = e.session.Clone()
		return nil
	})
	if err != nil {
		return types.Session{}, err
	}
	m.persist(ctx, id)
	return out, nil
}

// update runs fn on a live entry under the registry lock, turning absence
// and expiry into common.ErrSessionNotFound. An expired session is retired.
func (m *Manager) update(ctx context.Context, op, id string, fn func(e *entry) error) error {
	result, err := m.registry.with(id, m.now(), fn)
	switch result {
	case missing:
		return common.NotFound(op, id)
	case expired:
		m.retire(ctx, id, types.EventExpired)
		return common.NotFound(op, id)
	}
	return err
}
