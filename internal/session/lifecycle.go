package session

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/internal/storage"
	"github.com/lgulliver/cliniprompt/pkg/types"
)

// Teardown outcomes reported to metrics
const (
	teardownDeleted   = "deleted"
	teardownAbandoned = "abandoned"
	teardownFailed    = "failed"
)

// sessionRecord is the on-disk metadata layout
type sessionRecord struct {
	types.Session
	WorkspacePath string `json:"workspace_path"`
}

// retire disposes of a session already dropped from the registry because it
// expired. Busy workspaces get the same grace period as End.
func (m *Manager) retire(ctx context.Context, id, reason string) {
	m.metrics.RecordSessionRemoved(reason)
	m.metrics.SetActiveSessions(m.registry.Len())

	if !m.busy.CanCleanup(id) {
		m.scheduleTeardown(id)
		log.Info().Str("session_id", id).Str("reason", reason).Msg("session retired, teardown deferred")
		return
	}

	if err := m.destroy(ctx, id); err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("failed to remove retired session workspace")
		return
	}
	m.record(ctx, id, reason, "", "", nil)
	log.Info().Str("session_id", id).Str("reason", reason).Msg("session retired")
}

// scheduleTeardown arms the single grace-period check for id. When it fires
// the workspace is deleted only if nothing is busy; otherwise the teardown
// is abandoned.
func (m *Manager) scheduleTeardown(id string) {
	m.teardown.Schedule(id, m.cfg.GracePeriod, func() {
		ctx := context.Background()

		// a deferred End keeps its entry until now; an expired session is already gone
		reactivated := false
		present, removed := m.registry.removeWhen(id, func(e *entry) bool {
			if !e.ending {
				reactivated = true
				return false
			}
			return m.busy.CanCleanup(id)
		})
		if reactivated {
			return
		}
		if (present && !removed) || (!present && !m.busy.CanCleanup(id)) {
			m.metrics.RecordTeardown(teardownAbandoned)
			log.Warn().Str("session_id", id).Strs("busy", m.busy.Tags(id)).Msg("files still busy after grace period, teardown abandoned")
			return
		}
		m.metrics.SetActiveSessions(m.registry.Len())

		if err := m.destroy(ctx, id); err != nil {
			m.metrics.RecordTeardown(teardownFailed)
			log.Error().Err(err).Str("session_id", id).Msg("grace period teardown failed")
			return
		}
		m.metrics.RecordTeardown(teardownDeleted)
		m.record(ctx, id, types.EventTeardown, "", "", nil)
		log.Info().Str("session_id", id).Msg("grace period teardown completed")
	})
}

// destroy deletes the workspace and forgets every side-table entry for id
func (m *Manager) destroy(ctx context.Context, id string) error {
	m.teardown.Cancel(id)
	m.busy.Clear(id)
	if m.mirror != nil {
		if err := m.mirror.Remove(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("failed to remove session mirror")
		}
	}
	return m.store.RemoveSession(ctx, id)
}

// EvictionCandidates lists idle sessions, oldest first, excluding exclude.
// Sessions with busy files or a pending teardown are never offered.
func (m *Manager) EvictionCandidates(exclude string) []string {
	var ids []string
	for _, s := range m.registry.snapshot() {
		if s.ID == exclude || !m.busy.CanCleanup(s.ID) || m.teardown.Pending(s.ID) {
			continue
		}
		ids = append(ids, s.ID)
	}
	return ids
}

// Evict ends an idle session to reclaim global storage
func (m *Manager) Evict(ctx context.Context, id string) error {
	const op = "evict session"

	present, removed := m.registry.removeWhen(id, func(*entry) bool {
		return m.busy.CanCleanup(id)
	})
	if !present {
		return common.NotFound(op, id)
	}
	if !removed {
		return common.NewError(op, id, common.ErrStorage, errors.New("session has busy files"))
	}
	m.metrics.RecordSessionRemoved(types.EventEvicted)
	m.metrics.SetActiveSessions(m.registry.Len())

	if err := m.destroy(ctx, id); err != nil {
		return common.StorageErr(op, id, err)
	}
	m.record(ctx, id, types.EventEvicted, "", "", nil)
	log.Info().Str("session_id", id).Msg("session evicted to reclaim global storage")
	return nil
}

// Sweep retires every expired session and returns how many were found
func (m *Manager) Sweep(ctx context.Context) int {
	ids := m.registry.purgeExpired(m.now())
	for _, id := range ids {
		m.retire(ctx, id, types.EventExpired)
	}
	if len(ids) > 0 {
		log.Info().Int("expired", len(ids)).Msg("expired sessions swept")
	}
	return len(ids)
}

func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	if m.cfg.SweepInterval <= 0 {
		<-m.stopSweep
		return
	}

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.Sweep(context.Background())
		}
	}
}

// PurgeOrphans deletes workspaces that no registered session owns
func (m *Manager) PurgeOrphans(ctx context.Context) (int, error) {
	ids, err := m.store.ListSessions(ctx)
	if err != nil {
		return 0, common.StorageErr("purge orphans", "", err)
	}

	purged := 0
	for _, id := range ids {
		if m.registry.contains(id) {
			continue
		}
		if err := m.store.RemoveSession(ctx, id); err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("failed to purge orphaned workspace")
			continue
		}
		purged++
	}
	if purged > 0 {
		log.Info().Int("purged", purged).Msg("orphaned workspaces purged")
	}
	return purged, nil
}

// persist writes the session record to metadata/session.json under its file
// lock and publishes it to the mirror. Failures are logged, never returned.
func (m *Manager) persist(ctx context.Context, id string) {
	snapshot := func() (types.Session, bool) {
		var s types.Session
		res, _ := m.registry.with(id, m.now(), func(e *entry) error {
			s = e.session.Clone()
			return nil
		})
		return s, res == found
	}

	// the lock directory would be recreated for a session that is already gone
	if _, ok := snapshot(); !ok {
		return
	}
	metaPath := filepath.Join(m.store.SessionPath(id), storage.MetadataDir, storage.MetadataFile)
	lease, err := m.locks.Acquire(ctx, id, m.store.LockDir(id), metaPath)
	if err != nil {
		logPersistFailure(err, id, "failed to lock session metadata")
		return
	}
	defer lease.Release()

	s, ok := snapshot()
	if !ok {
		return
	}

	data, err := json.MarshalIndent(sessionRecord{Session: s, WorkspacePath: s.WorkspacePath}, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("failed to encode session metadata")
		return
	}
	if err := m.store.WriteMetadata(ctx, id, data); err != nil {
		logPersistFailure(err, id, "failed to persist session metadata")
		return
	}

	if m.mirror != nil {
		if err := m.mirror.Publish(ctx, s, m.now()); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("failed to publish session mirror")
		}
	}
}

// logPersistFailure logs at debug level when the workspace was removed
// underneath the write, which happens when End wins the race.
func logPersistFailure(err error, id, msg string) {
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Err(err).Str("session_id", id).Msg(msg + ", workspace removed")
		return
	}
	log.Warn().Err(err).Str("session_id", id).Msg(msg)
}

// record journals a lifecycle event; failures are logged only
func (m *Manager) record(ctx context.Context, id, kind string, from, to types.WorkflowState, detail types.JSONMap) {
	if m.history == nil {
		return
	}
	event := &types.SessionEvent{
		SessionID:  id,
		Kind:       kind,
		FromState:  string(from),
		ToState:    string(to),
		Detail:     detail,
		OccurredAt: m.now(),
	}
	if err := m.history.Record(ctx, event); err != nil {
		log.Warn().Err(err).Str("session_id", id).Str("kind", kind).Msg("failed to record session event")
	}
}
