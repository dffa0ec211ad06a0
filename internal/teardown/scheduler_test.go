package teardown

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Runs(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	done := make(chan struct{})
	require.True(t, s.Schedule("s1", 10*time.Millisecond, func() { close(done) }))
	assert.True(t, s.Pending("s1"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	assert.Eventually(t, func() bool { return !s.Pending("s1") }, time.Second, 5*time.Millisecond)
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var ran atomic.Bool
	s.Schedule("s1", 20*time.Millisecond, func() { ran.Store(true) })

	assert.True(t, s.Cancel("s1"))
	assert.False(t, s.Cancel("s1"))
	assert.False(t, s.Pending("s1"))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestScheduler_Replace(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var first, second atomic.Int32
	s.Schedule("s1", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("s1", 30*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, s.Len())

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestScheduler_Due(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	before := time.Now()
	s.Schedule("s1", time.Hour, func() {})

	due, ok := s.Due("s1")
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(time.Hour), due, time.Second)

	_, ok = s.Due("other")
	assert.False(t, ok)
}

func TestScheduler_Stop(t *testing.T) {
	s := NewScheduler()

	var ran atomic.Bool
	s.Schedule("s1", 20*time.Millisecond, func() { ran.Store(true) })
	s.Stop()

	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Schedule("s2", time.Millisecond, func() {}))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestScheduler_StopWaitsForRunningTask(t *testing.T) {
	s := NewScheduler()

	started := make(chan struct{})
	var finished atomic.Bool
	s.Schedule("s1", time.Millisecond, func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	s.Stop()
	assert.True(t, finished.Load())
}
