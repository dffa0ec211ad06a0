package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/internal/storage"
	"github.com/lgulliver/cliniprompt/internal/transfer"
	"github.com/lgulliver/cliniprompt/pkg/config"
	"github.com/lgulliver/cliniprompt/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestManager(t *testing.T, tweak func(cfg *config.SessionConfig), opts ...Option) (*Manager, *storage.LocalWorkspace) {
	t.Helper()

	cfg := config.DefaultSessionConfig()
	cfg.SweepInterval = 0
	cfg.LockTimeout = 2 * time.Second
	if tweak != nil {
		tweak(&cfg)
	}

	store, err := storage.NewLocalWorkspace(t.TempDir())
	require.NoError(t, err)

	m, err := NewManager(context.Background(), cfg, store, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, store
}

func createSession(t *testing.T, m *Manager) types.Session {
	t.Helper()
	s, err := m.Create(context.Background(), nil, "test-agent")
	require.NoError(t, err)
	return s
}

func TestManager_Create(t *testing.T) {
	clock := newFakeClock()
	m, store := setupTestManager(t, nil, WithClock(clock.Now))

	s := createSession(t, m)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, types.StateInitial, s.State)
	assert.Equal(t, clock.Now(), s.CreatedAt)
	assert.Equal(t, clock.Now().Add(config.DefaultSessionTimeout), s.ExpiresAt)
	assert.Equal(t, types.DefaultVoice, s.Preferences.PreferredVoice)
	assert.Equal(t, store.SessionPath(s.ID), s.WorkspacePath)

	for _, dir := range storage.WorkspaceLayout {
		assert.DirExists(t, filepath.Join(s.WorkspacePath, dir))
	}

	raw, err := store.ReadMetadata(context.Background(), s.ID)
	require.NoError(t, err)
	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, s.ID, record["session_id"])
	assert.Equal(t, "INITIAL", record["state"])
	assert.Equal(t, s.WorkspacePath, record["workspace_path"])

	data, err := m.Data(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Session initialized", data.CurrentStep)
	assert.Nil(t, data.ProcessingStatus)
}

func TestManager_CreateRejectsInvalidPreferences(t *testing.T) {
	m, store := setupTestManager(t, nil)

	_, err := m.Create(context.Background(), &types.UserPreferences{PreferredVoice: "robot"}, "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Equal(t, 0, m.ActiveSessions())

	ids, err := store.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestManager_ConcurrencyLimit(t *testing.T) {
	m, store := setupTestManager(t, nil)
	ctx := context.Background()

	for i := 0; i < config.DefaultMaxConcurrentSessions; i++ {
		createSession(t, m)
	}

	_, err := m.Create(ctx, nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConcurrencyLimit)
	assert.True(t, common.IsRetryable(err))
	assert.Equal(t, config.DefaultMaxConcurrentSessions, m.ActiveSessions())

	ids, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, config.DefaultMaxConcurrentSessions, "rejected create must not provision a workspace")
}

func TestManager_ConcurrentCreatesRespectLimit(t *testing.T) {
	m, _ := setupTestManager(t, nil)

	var (
		g        errgroup.Group
		mu       sync.Mutex
		rejected int
	)
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := m.Create(context.Background(), nil, "")
			if err != nil {
				if !assert.ErrorIs(t, err, common.ErrConcurrencyLimit) {
					return err
				}
				mu.Lock()
				rejected++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, config.DefaultMaxConcurrentSessions, m.ActiveSessions())
	assert.Equal(t, 20-config.DefaultMaxConcurrentSessions, rejected)
}

func TestManager_ExpiredSessionsFreeCapacity(t *testing.T) {
	clock := newFakeClock()
	m, _ := setupTestManager(t, nil, WithClock(clock.Now))

	var first []types.Session
	for i := 0; i < config.DefaultMaxConcurrentSessions; i++ {
		first = append(first, createSession(t, m))
	}

	clock.Advance(config.DefaultSessionTimeout + time.Second)

	s := createSession(t, m)
	assert.Equal(t, 1, m.ActiveSessions())
	for _, old := range first {
		assert.NoDirExists(t, old.WorkspacePath)
	}
	assert.DirExists(t, s.WorkspacePath)
}

func TestManager_TransitionTable(t *testing.T) {
	states := []types.WorkflowState{
		types.StateInitial,
		types.StateAudioUploaded,
		types.StateContentAdded,
		types.StateProcessing,
		types.StateCompleted,
		types.StateError,
	}
	legal := map[[2]types.WorkflowState]bool{
		{types.StateInitial, types.StateAudioUploaded}:      true,
		{types.StateInitial, types.StateError}:              true,
		{types.StateAudioUploaded, types.StateContentAdded}: true,
		{types.StateAudioUploaded, types.StateProcessing}:   true,
		{types.StateAudioUploaded, types.StateError}:        true,
		{types.StateContentAdded, types.StateProcessing}:    true,
		{types.StateContentAdded, types.StateError}:         true,
		{types.StateProcessing, types.StateCompleted}:       true,
		{types.StateProcessing, types.StateError}:           true,
		{types.StateCompleted, types.StateInitial}:          true,
		{types.StateCompleted, types.StateError}:            true,
		{types.StateError, types.StateProcessing}:           true,
		{types.StateError, types.StateInitial}:              true,
	}

	m, _ := setupTestManager(t, nil)
	ctx := context.Background()
	s := createSession(t, m)

	for _, from := range states {
		for _, to := range states {
			name := string(from) + "->" + string(to)
			t.Run(name, func(t *testing.T) {
				_, err := m.registry.with(s.ID, m.now(), func(e *entry) error {
					e.session.State = from
					return nil
				})
				require.NoError(t, err)
				before, err := m.Get(ctx, s.ID)
				require.NoError(t, err)

				err = m.Transition(ctx, s.ID, to)
				after, getErr := m.Get(ctx, s.ID)
				require.NoError(t, getErr)

				if legal[[2]types.WorkflowState{from, to}] {
					require.NoError(t, err)
					assert.Equal(t, to, after.State)
					assert.True(t, CanTransition(from, to))
				} else {
					assert.ErrorIs(t, err, common.ErrInvalidTransition)
					assert.Equal(t, before, after, "rejected transition must not mutate the session")
					assert.False(t, CanTransition(from, to))
				}
			})
		}
	}
}

func TestManager_TransitionUpdatesMetadata(t *testing.T) {
	clock := newFakeClock()
	m, store := setupTestManager(t, nil, WithClock(clock.Now))
	ctx := context.Background()
	s := createSession(t, m)

	clock.Advance(time.Minute)
	require.NoError(t, m.Transition(ctx, s.ID, types.StateError))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), got.LastUpdated)

	raw, err := store.ReadMetadata(ctx, s.ID)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"state": "ERROR"`)
}

func TestManager_TransitionUnknownSession(t *testing.T) {
	m, _ := setupTestManager(t, nil)
	err := m.Transition(context.Background(), "missing", types.StateError)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestManager_GetExpiredEvicts(t *testing.T) {
	clock := newFakeClock()
	m, _ := setupTestManager(t, nil, WithClock(clock.Now))
	ctx := context.Background()
	s := createSession(t, m)

	clock.Advance(config.DefaultSessionTimeout)
	_, err := m.Get(ctx, s.ID)
	require.NoError(t, err, "a session is live until its deadline has passed")

	clock.Advance(time.Second)
	_, err = m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
	assert.Equal(t, 0, m.ActiveSessions())
	assert.NoDirExists(t, s.WorkspacePath)

	_, err = m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestManager_Sweep(t *testing.T) {
	clock := newFakeClock()
	m, _ := setupTestManager(t, nil, WithClock(clock.Now))
	ctx := context.Background()

	old := createSession(t, m)
	clock.Advance(2 * time.Hour)
	fresh := createSession(t, m)
	clock.Advance(2*time.Hour + time.Second)

	assert.Equal(t, 1, m.Sweep(ctx))
	assert.NoDirExists(t, old.WorkspacePath)
	_, err := m.Get(ctx, fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, m.Sweep(ctx))
}

func TestManager_EndIdle(t *testing.T) {
	m, _ := setupTestManager(t, nil)
	ctx := context.Background()
	s := createSession(t, m)

	require.NoError(t, m.End(ctx, s.ID))
	assert.NoDirExists(t, s.WorkspacePath)
	_, err := m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)

	assert.ErrorIs(t, m.End(ctx, s.ID), common.ErrSessionNotFound)
}

func TestManager_EndBusyDefersTeardown(t *testing.T) {
	m, _ := setupTestManager(t, func(cfg *config.SessionConfig) {
		cfg.GracePeriod = 100 * time.Millisecond
	})
	ctx := context.Background()
	s := createSession(t, m)

	require.NoError(t, m.MarkBusy(ctx, s.ID, "audio/original/a.mp3", "transcriber"))
	assert.False(t, m.CanCleanup(s.ID))

	require.NoError(t, m.End(ctx, s.ID))
	assert.DirExists(t, s.WorkspacePath, "busy workspace must survive End")
	assert.True(t, m.TeardownPending(s.ID))

	m.UnmarkBusy(s.ID, "audio/original/a.mp3", "transcriber")

	assert.Eventually(t, func() bool {
		_, err := os.Stat(s.WorkspacePath)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	_, err := m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
	assert.False(t, m.TeardownPending(s.ID))
}

func TestManager_EndBusyTeardownAbandoned(t *testing.T) {
	m, _ := setupTestManager(t, func(cfg *config.SessionConfig) {
		cfg.GracePeriod = 20 * time.Millisecond
	})
	ctx := context.Background()
	s := createSession(t, m)

	require.NoError(t, m.MarkBusy(ctx, s.ID, "pdfs/notes.pdf", "extractor"))
	require.NoError(t, m.End(ctx, s.ID))

	assert.Eventually(t, func() bool {
		return !m.TeardownPending(s.ID)
	}, 2*time.Second, 10*time.Millisecond)

	assert.DirExists(t, s.WorkspacePath)
	assert.Equal(t, []string{"pdfs/notes.pdf:extractor"}, m.BusyFiles(s.ID))
}

func TestManager_ReactivateCancelsTeardown(t *testing.T) {
	clock := newFakeClock()
	m, _ := setupTestManager(t, func(cfg *config.SessionConfig) {
		cfg.GracePeriod = 50 * time.Millisecond
	}, WithClock(clock.Now))
	ctx := context.Background()
	s := createSession(t, m)

	require.NoError(t, m.MarkBusy(ctx, s.ID, "pdfs/a.pdf", "reader"))
	require.NoError(t, m.End(ctx, s.ID))
	require.True(t, m.TeardownPending(s.ID))

	clock.Advance(time.Hour)
	revived, err := m.Reactivate(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, m.TeardownPending(s.ID))
	assert.Equal(t, clock.Now().Add(config.DefaultSessionTimeout), revived.ExpiresAt)

	m.UnmarkBusy(s.ID, "pdfs/a.pdf", "reader")
	time.Sleep(150 * time.Millisecond)

	assert.DirExists(t, s.WorkspacePath)
	_, err = m.Get(ctx, s.ID)
	assert.NoError(t, err)
}

func TestManager_ExtendExpiration(t *testing.T) {
	clock := newFakeClock()
	m, _ := setupTestManager(t, nil, WithClock(clock.Now))
	ctx := context.Background()
	s := createSession(t, m)

	_, err := m.ExtendExpiration(ctx, s.ID, 0)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	clock.Advance(3 * time.Hour)
	extended, err := m.ExtendExpiration(ctx, s.ID, 8*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(8*time.Hour), extended.ExpiresAt)
	assert.True(t, extended.ExpiresAt.After(extended.CreatedAt))

	clock.Advance(5 * time.Hour)
	_, err = m.Get(ctx, s.ID)
	assert.NoError(t, err)
}

func TestManager_SaveAndStream(t *testing.T) {
	m, _ := setupTestManager(t, func(cfg *config.SessionConfig) {
		cfg.ChunkSize = 1024
	})
	ctx := context.Background()
	s := createSession(t, m)

	content := bytes.Repeat([]byte("0123456789"), 500)
	res, err := m.SaveLargeFile(ctx, s.ID, bytes.NewReader(content), transfer.UnknownSize, "generated/scripts", "script.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), res.BytesWritten)
	assert.Equal(t, filepath.Join(s.WorkspacePath, storage.FilesDir, "generated", "scripts", "script.txt"), res.Path)

	stream, err := m.OpenFileStream(ctx, s.ID, "generated/scripts/script.txt")
	require.NoError(t, err)
	var got []byte
	for chunk, err := range stream.All() {
		require.NoError(t, err)
		assert.LessOrEqual(t, len(chunk), 1024)
		got = append(got, chunk...)
	}
	assert.Equal(t, content, got)

	_, err = m.SaveLargeFile(ctx, "missing", bytes.NewReader(content), 10, "pdfs", "x.pdf")
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestManager_SessionQuota(t *testing.T) {
	m, _ := setupTestManager(t, func(cfg *config.SessionConfig) {
		cfg.StorageQuota = 64 * 1024
		cfg.GlobalStorageQuota = 1024 * 1024
		cfg.ChunkSize = 4 * 1024
	})
	ctx := context.Background()
	s := createSession(t, m)

	_, err := m.SaveLargeFile(ctx, s.ID, bytes.NewReader(make([]byte, 40*1024)), 40*1024, "pdfs", "a.pdf")
	require.NoError(t, err)

	before, err := m.Usage(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), before.SessionQuota)

	// declared size rejected up front
	_, err = m.SaveLargeFile(ctx, s.ID, bytes.NewReader(make([]byte, 40*1024)), 40*1024, "pdfs", "b.pdf")
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)

	// unknown size aborted mid-stream
	_, err = m.SaveLargeFile(ctx, s.ID, bytes.NewReader(make([]byte, 40*1024)), transfer.UnknownSize, "pdfs", "c.pdf")
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)

	after, err := m.Usage(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, before.SessionBytes, after.SessionBytes)
	assert.LessOrEqual(t, after.SessionBytes, after.SessionQuota)
}

func TestManager_GlobalQuotaEvictsOldestIdle(t *testing.T) {
	clock := newFakeClock()
	m, _ := setupTestManager(t, func(cfg *config.SessionConfig) {
		cfg.StorageQuota = 64 * 1024
		cfg.GlobalStorageQuota = 100 * 1024
		cfg.ChunkSize = 4 * 1024
	}, WithClock(clock.Now))
	ctx := context.Background()

	oldest := createSession(t, m)
	clock.Advance(time.Second)
	middle := createSession(t, m)
	clock.Advance(time.Second)
	newest := createSession(t, m)

	_, err := m.SaveLargeFile(ctx, oldest.ID, bytes.NewReader(make([]byte, 60*1024)), 60*1024, "pdfs", "a.pdf")
	require.NoError(t, err)
	_, err = m.SaveLargeFile(ctx, middle.ID, bytes.NewReader(make([]byte, 30*1024)), 30*1024, "pdfs", "b.pdf")
	require.NoError(t, err)

	_, err = m.SaveLargeFile(ctx, newest.ID, bytes.NewReader(make([]byte, 30*1024)), 30*1024, "pdfs", "c.pdf")
	require.NoError(t, err)

	_, err = m.Get(ctx, oldest.ID)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
	assert.NoDirExists(t, oldest.WorkspacePath)
	_, err = m.Get(ctx, middle.ID)
	assert.NoError(t, err)

	usage, err := m.Usage(ctx, newest.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, usage.GlobalBytes, usage.GlobalQuota)
}

func TestManager_GlobalQuotaSkipsBusySessions(t *testing.T) {
	clock := newFakeClock()
	m, _ := setupTestManager(t, func(cfg *config.SessionConfig) {
		cfg.StorageQuota = 64 * 1024
		cfg.GlobalStorageQuota = 100 * 1024
		cfg.ChunkSize = 4 * 1024
	}, WithClock(clock.Now))
	ctx := context.Background()

	oldest := createSession(t, m)
	clock.Advance(time.Second)
	middle := createSession(t, m)
	clock.Advance(time.Second)
	newest := createSession(t, m)

	_, err := m.SaveLargeFile(ctx, oldest.ID, bytes.NewReader(make([]byte, 60*1024)), 60*1024, "pdfs", "a.pdf")
	require.NoError(t, err)
	_, err = m.SaveLargeFile(ctx, middle.ID, bytes.NewReader(make([]byte, 30*1024)), 30*1024, "pdfs", "b.pdf")
	require.NoError(t, err)
	require.NoError(t, m.MarkBusy(ctx, oldest.ID, "pdfs/a.pdf", "reader"))

	_, err = m.SaveLargeFile(ctx, newest.ID, bytes.NewReader(make([]byte, 30*1024)), 30*1024, "pdfs", "c.pdf")
	require.NoError(t, err)

	_, err = m.Get(ctx, oldest.ID)
	assert.NoError(t, err, "busy session must not be evicted")
	_, err = m.Get(ctx, middle.ID)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestManager_ConcurrentWritersSameFile(t *testing.T) {
	m, _ := setupTestManager(t, func(cfg *config.SessionConfig) {
		cfg.ChunkSize = 1024
	})
	ctx := context.Background()
	s := createSession(t, m)

	payloads := [][]byte{
		bytes.Repeat([]byte{'x'}, 64*1024),
		bytes.Repeat([]byte{'y'}, 64*1024),
		bytes.Repeat([]byte{'z'}, 64*1024),
	}
	var g errgroup.Group
	for _, p := range payloads {
		g.Go(func() error {
			_, err := m.SaveLargeFile(ctx, s.ID, bytes.NewReader(p), int64(len(p)), "audio/processed", "mix.wav")
			return err
		})
	}
	require.NoError(t, g.Wait())

	path := filepath.Join(s.WorkspacePath, storage.FilesDir, "audio", "processed", "mix.wav")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	matched := false
	for _, p := range payloads {
		matched = matched || bytes.Equal(data, p)
	}
	assert.True(t, matched, "concurrent writes interleaved")
}

func TestManager_EndWhileWriterQueuedOnLock(t *testing.T) {
	m, store := setupTestManager(t, func(cfg *config.SessionConfig) {
		cfg.GracePeriod = 300 * time.Millisecond
		cfg.ChunkSize = 1024
	})
	ctx := context.Background()
	s := createSession(t, m)

	pr, pw := io.Pipe()
	var g errgroup.Group
	g.Go(func() error {
		_, err := m.SaveLargeFile(ctx, s.ID, pr, transfer.UnknownSize, "pdfs", "report.pdf")
		return err
	})
	_, err := pw.Write(bytes.Repeat([]byte{'a'}, 2048))
	require.NoError(t, err)

	g.Go(func() error {
		_, err := m.SaveLargeFile(ctx, s.ID, bytes.NewReader([]byte("queued")), 6, "pdfs", "report.pdf")
		return err
	})
	require.Eventually(t, func() bool {
		return len(m.BusyFiles(s.ID)) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.End(ctx, s.ID))
	assert.True(t, m.TeardownPending(s.ID))
	assert.DirExists(t, s.WorkspacePath, "workspace must outlive in-flight writes")

	require.NoError(t, pw.Close())
	require.NoError(t, g.Wait())
	assert.True(t, m.CanCleanup(s.ID))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(s.WorkspacePath)
		return errors.Is(err, fs.ErrNotExist)
	}, 2*time.Second, 10*time.Millisecond)

	_, err = m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
	total, err := store.TotalSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestManager_SaveAfterEndDoesNotRecreateWorkspace(t *testing.T) {
	m, store := setupTestManager(t, nil)
	ctx := context.Background()
	s := createSession(t, m)

	require.NoError(t, m.End(ctx, s.ID))

	_, err := m.SaveLargeFile(ctx, s.ID, bytes.NewReader([]byte("late")), 4, "pdfs", "late.pdf")
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
	assert.NoDirExists(t, s.WorkspacePath)
	assert.Empty(t, m.BusyFiles(s.ID))

	total, err := store.TotalSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestManager_SaveHoldsBusyMarker(t *testing.T) {
	m, _ := setupTestManager(t, nil)
	ctx := context.Background()
	s := createSession(t, m)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := m.SaveLargeFile(ctx, s.ID, pr, transfer.UnknownSize, "pdfs", "scan.pdf")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return !m.CanCleanup(s.ID)
	}, 2*time.Second, 5*time.Millisecond)
	tags := m.BusyFiles(s.ID)
	require.Len(t, tags, 1)
	assert.Contains(t, tags[0], "pdfs/scan.pdf:write-")

	assert.ErrorIs(t, m.Evict(ctx, s.ID), common.ErrStorage)

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
	assert.True(t, m.CanCleanup(s.ID))
}

func TestManager_PurgeOrphansOnStart(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewLocalWorkspace(root)
	require.NoError(t, err)
	stale, err := store.Ensure(context.Background(), "stale-session")
	require.NoError(t, err)

	cfg := config.DefaultSessionConfig()
	cfg.SweepInterval = 0
	m, err := NewManager(context.Background(), cfg, store, WithOrphanPurge(true))
	require.NoError(t, err)
	defer m.Close()

	assert.NoDirExists(t, stale)
}

func TestManager_NewManagerRejectsInvalidConfig(t *testing.T) {
	store, err := storage.NewLocalWorkspace(t.TempDir())
	require.NoError(t, err)

	cfg := config.DefaultSessionConfig()
	cfg.MaxConcurrent = 0
	_, err = NewManager(context.Background(), cfg, store)
	assert.Error(t, err)
}

func TestManager_SweeperRuns(t *testing.T) {
	clock := newFakeClock()
	m, _ := setupTestManager(t, func(cfg *config.SessionConfig) {
		cfg.SweepInterval = 10 * time.Millisecond
	}, WithClock(clock.Now))
	s := createSession(t, m)

	clock.Advance(config.DefaultSessionTimeout + time.Minute)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(s.WorkspacePath)
		return m.ActiveSessions() == 0 && errors.Is(err, fs.ErrNotExist)
	}, 2*time.Second, 10*time.Millisecond)
}
