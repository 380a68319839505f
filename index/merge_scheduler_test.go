package index

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMergeSource struct {
	mu      sync.Mutex
	pending []*OneMerge
	fail    map[*OneMerge]error
	delay   time.Duration

	ran       atomic.Int32
	aborted   atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
	stalls    atomic.Int32
}

func newFakeMerge() *OneMerge {
	ctx, cancel := context.WithCancel(context.Background())
	return &OneMerge{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func newFakeSource(n int) *fakeMergeSource {
	src := &fakeMergeSource{fail: make(map[*OneMerge]error)}
	for range n {
		src.pending = append(src.pending, newFakeMerge())
	}
	return src
}

func (s *fakeMergeSource) NextMerge() *OneMerge {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	m := s.pending[0]
	s.pending = s.pending[1:]
	return m
}

func (s *fakeMergeSource) PendingMerges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *fakeMergeSource) Merge(_ context.Context, m *OneMerge) error {
	defer close(m.done)
	if m.aborted() {
		s.aborted.Add(1)
		return ErrMergeAborted
	}
	n := s.active.Add(1)
	for {
		cur := s.maxActive.Load()
		if n <= cur || s.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(s.delay)
	s.active.Add(-1)
	s.ran.Add(1)
	return s.fail[m]
}

func (s *fakeMergeSource) OnStall(string, time.Duration) { s.stalls.Add(1) }

func (s *fakeMergeSource) Logger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestSerialMergeScheduler(t *testing.T) {
	src := newFakeSource(5)
	require.NoError(t, NewSerialMergeScheduler().Merge(context.Background(), src, TriggerFlush))
	assert.Equal(t, int32(5), src.ran.Load())
	assert.Equal(t, int32(1), src.maxActive.Load())
	assert.Zero(t, src.PendingMerges())
}

func TestSerialMergeSchedulerStopsOnError(t *testing.T) {
	src := newFakeSource(4)
	boom := errors.New("boom")
	src.fail[src.pending[1]] = boom

	err := NewSerialMergeScheduler().Merge(context.Background(), src, TriggerExplicit)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), src.ran.Load())
	assert.Equal(t, 2, src.PendingMerges())
}

func TestNoMergeSchedulerAbortsEverything(t *testing.T) {
	src := newFakeSource(3)
	merges := append([]*OneMerge(nil), src.pending...)
	require.NoError(t, NoMergeScheduler{}.Merge(context.Background(), src, TriggerFlush))

	assert.Zero(t, src.ran.Load())
	assert.Equal(t, int32(3), src.aborted.Load())
	for _, m := range merges {
		assert.True(t, m.aborted())
		<-m.Done()
	}
}

func TestConcurrentMergeSchedulerLimitsConcurrency(t *testing.T) {
	src := newFakeSource(12)
	src.delay = 5 * time.Millisecond
	cms := &ConcurrentMergeScheduler{MaxConcurrentMerges: 2, MaxMergeCount: 20}

	require.NoError(t, cms.Merge(context.Background(), src, TriggerFlush))
	require.NoError(t, cms.Close())

	assert.Equal(t, int32(12), src.ran.Load())
	assert.LessOrEqual(t, src.maxActive.Load(), int32(2))
	assert.Zero(t, cms.RunningMerges())
	assert.Zero(t, src.stalls.Load())
}

func TestConcurrentMergeSchedulerStallsOnBacklog(t *testing.T) {
	src := newFakeSource(10)
	src.delay = 2 * time.Millisecond
	cms := &ConcurrentMergeScheduler{MaxConcurrentMerges: 1, MaxMergeCount: 3}

	require.NoError(t, cms.Merge(context.Background(), src, TriggerFlush))
	// The caller was held back until the backlog fit MaxMergeCount.
	assert.LessOrEqual(t, src.PendingMerges()+cms.RunningMerges(), 3)
	assert.Positive(t, src.stalls.Load())

	require.NoError(t, cms.Sync())
	assert.Equal(t, int32(10), src.ran.Load())
}

func TestConcurrentMergeSchedulerReportsErrors(t *testing.T) {
	boom := errors.New("boom")

	src := newFakeSource(3)
	src.fail[src.pending[2]] = boom
	cms := &ConcurrentMergeScheduler{MaxConcurrentMerges: 2, MaxMergeCount: 4}
	require.NoError(t, cms.Merge(context.Background(), src, TriggerFlush))
	require.ErrorIs(t, cms.Sync(), boom)
	// Reported once.
	require.NoError(t, cms.Sync())

	src = newFakeSource(3)
	src.fail[src.pending[0]] = boom
	cms = &ConcurrentMergeScheduler{MaxConcurrentMerges: 2, MaxMergeCount: 4, SuppressErrors: true}
	require.NoError(t, cms.Merge(context.Background(), src, TriggerFlush))
	require.NoError(t, cms.Close())
	assert.Equal(t, int32(3), src.ran.Load())
}
