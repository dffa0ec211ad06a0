package session

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/internal/history"
	"github.com/lgulliver/cliniprompt/internal/metrics"
	"github.com/lgulliver/cliniprompt/pkg/types"
)

func TestManager_MirrorAndHistory(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	mirror := common.NewSessionMirror(common.NewCacheFromClient(client))

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.SessionEvent{}))
	recorder := history.NewRecorder(db)

	m, _ := setupTestManager(t, nil, WithMirror(mirror), WithHistory(recorder))
	ctx := context.Background()

	s := createSession(t, m)
	assert.True(t, srv.Exists(common.SessionKey(s.ID)))

	require.NoError(t, m.Transition(ctx, s.ID, types.StateError))
	mirrored, err := mirror.Lookup(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateError, mirrored.State)

	require.NoError(t, m.End(ctx, s.ID))
	assert.False(t, srv.Exists(common.SessionKey(s.ID)))

	events, err := recorder.ForSession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.EventCreated, events[0].Kind)
	assert.Equal(t, types.EventTransitioned, events[1].Kind)
	assert.Equal(t, "INITIAL", events[1].FromState)
	assert.Equal(t, "ERROR", events[1].ToState)
	assert.Equal(t, types.EventEnded, events[2].Kind)
}

func TestManager_MirrorFailureIsNotFatal(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	mirror := common.NewSessionMirror(common.NewCacheFromClient(client))
	srv.Close()

	m, _ := setupTestManager(t, nil, WithMirror(mirror))
	s := createSession(t, m)
	require.NoError(t, m.End(context.Background(), s.ID))
}

func TestManager_Metrics(t *testing.T) {
	collector := metrics.NewCollector("test")
	m, _ := setupTestManager(t, nil, WithMetrics(collector))
	ctx := context.Background()

	s := createSession(t, m)
	_, err := m.SaveLargeFile(ctx, s.ID, bytes.NewReader(make([]byte, 2048)), 2048, "pdfs", "a.pdf")
	require.NoError(t, err)
	assert.Error(t, m.Transition(ctx, s.ID, types.StateCompleted))

	families, err := collector.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_sessions_created_total"])
	assert.True(t, names["test_bytes_written_total"])
	assert.True(t, names["test_state_transitions_total"])

	count, err := testutil.GatherAndCount(collector.Registry(), "test_sessions_active")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
