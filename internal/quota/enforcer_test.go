package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUsage tracks per-session byte counts in memory
type fakeUsage struct {
	sizes map[string]int64
	err   error
}

func (f *fakeUsage) SessionSize(ctx context.Context, id string) (int64, error) {
	return f.sizes[id], f.err
}

func (f *fakeUsage) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	for _, s := range f.sizes {
		total += s
	}
	return total, f.err
}

type fakeEvictor struct {
	usage   *fakeUsage
	order   []string
	evicted []string
	failOn  string
}

func (f *fakeEvictor) EvictionCandidates(exclude string) []string {
	var out []string
	for _, id := range f.order {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

func (f *fakeEvictor) Evict(ctx context.Context, id string) error {
	if id == f.failOn {
		return errors.New("busy")
	}
	f.evicted = append(f.evicted, id)
	delete(f.usage.sizes, id)
	return nil
}

func TestEnforcer_Check(t *testing.T) {
	tests := []struct {
		name     string
		sizes    map[string]int64
		incoming int64
		want     bool
	}{
		{
			name:     "fits",
			sizes:    map[string]int64{"me": 10},
			incoming: 50,
			want:     true,
		},
		{
			name:     "exactly at session ceiling",
			sizes:    map[string]int64{"me": 50},
			incoming: 50,
			want:     true,
		},
		{
			name:     "over session ceiling",
			sizes:    map[string]int64{"me": 60},
			incoming: 41,
			want:     false,
		},
		{
			name:     "negative incoming treated as zero",
			sizes:    map[string]int64{"me": 100},
			incoming: -1,
			want:     true,
		},
		{
			name:     "over global ceiling without evictor",
			sizes:    map[string]int64{"me": 10, "other": 180},
			incoming: 20,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnforcer(&fakeUsage{sizes: tt.sizes}, nil, 100, 200)
			got, err := e.Check(context.Background(), "me", tt.incoming)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnforcer_EvictsOldestUntilFits(t *testing.T) {
	usage := &fakeUsage{sizes: map[string]int64{"me": 10, "old": 80, "mid": 80, "new": 20}}
	evictor := &fakeEvictor{usage: usage, order: []string{"old", "me", "mid", "new"}}
	e := NewEnforcer(usage, evictor, 100, 200)

	ok, err := e.Check(context.Background(), "me", 50)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"old"}, evictor.evicted)
}

func TestEnforcer_EvictionExhausted(t *testing.T) {
	usage := &fakeUsage{sizes: map[string]int64{"me": 50, "a": 60, "b": 60}}
	evictor := &fakeEvictor{usage: usage, order: []string{"a", "b"}, failOn: "b"}
	e := NewEnforcer(usage, evictor, 100, 150)

	ok, err := e.Check(context.Background(), "me", 10)
	require.NoError(t, err)
	assert.True(t, ok, "evicting a alone frees enough")

	usage.sizes = map[string]int64{"me": 90, "b": 100}
	evictor.order = []string{"b"}
	evictor.evicted = nil
	ok, err = e.Check(context.Background(), "me", 10)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, evictor.evicted)
}

func TestEnforcer_Admit(t *testing.T) {
	e := NewEnforcer(&fakeUsage{sizes: map[string]int64{"me": 90}}, nil, 100, 1000)

	require.NoError(t, e.Admit(context.Background(), "me", 10))

	err := e.Admit(context.Background(), "me", 11)
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)
}

func TestEnforcer_StorageFailure(t *testing.T) {
	e := NewEnforcer(&fakeUsage{err: errors.New("io")}, nil, 100, 1000)

	_, err := e.Check(context.Background(), "me", 1)
	assert.ErrorIs(t, err, common.ErrStorage)
}

func TestEnforcer_SessionRemaining(t *testing.T) {
	usage := &fakeUsage{sizes: map[string]int64{"me": 30, "full": 120}}
	e := NewEnforcer(usage, nil, 100, 1000)

	remaining, err := e.SessionRemaining(context.Background(), "me")
	require.NoError(t, err)
	assert.Equal(t, int64(70), remaining)

	remaining, err = e.SessionRemaining(context.Background(), "full")
	require.NoError(t, err)
	assert.Zero(t, remaining)
}
