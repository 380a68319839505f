package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/segdex/internal/resource"
)

// MergeTrigger tells a scheduler what caused a merge pass.
type MergeTrigger uint8

const (
	TriggerFlush MergeTrigger = iota
	TriggerExplicit
	TriggerForced
	TriggerClosing
)

func (t MergeTrigger) String() string {
	switch t {
	case TriggerExplicit:
		return "explicit"
	case TriggerForced:
		return "forced"
	case TriggerClosing:
		return "closing"
	default:
		return "flush"
	}
}

// MergeSource hands registered merges to a scheduler. IndexWriter is the
// only implementation.
type MergeSource interface {
	// NextMerge removes and returns the next pending merge, or nil.
	NextMerge() *OneMerge
	// PendingMerges returns the number of registered merges not yet taken.
	PendingMerges() int
	// Merge runs m to completion. It returns ErrMergeAborted if m was
	// aborted.
	Merge(ctx context.Context, m *OneMerge) error
	// OnStall reports the time an ingesting goroutine waited for merges.
	OnStall(reason string, d time.Duration)
	Logger() *slog.Logger
}

// MergeScheduler executes merges.
type MergeScheduler interface {
	// Merge runs or starts the pending merges of src.
	Merge(ctx context.Context, src MergeSource, trigger MergeTrigger) error
	// Close waits for running merges.
	Close() error
}

// NoMergeScheduler drops every merge.
type NoMergeScheduler struct{}

func (NoMergeScheduler) Merge(_ context.Context, src MergeSource, _ MergeTrigger) error {
	for m := src.NextMerge(); m != nil; m = src.NextMerge() {
		m.abort()
		_ = src.Merge(context.Background(), m)
	}
	return nil
}

func (NoMergeScheduler) Close() error { return nil }

// SerialMergeScheduler runs merges on the calling goroutine, one at a time.
type SerialMergeScheduler struct {
	mu sync.Mutex
}

func NewSerialMergeScheduler() *SerialMergeScheduler { return &SerialMergeScheduler{} }

func (s *SerialMergeScheduler) Merge(ctx context.Context, src MergeSource, _ MergeTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for m := src.NextMerge(); m != nil; m = src.NextMerge() {
		if err := src.Merge(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SerialMergeScheduler) Close() error { return nil }

// ConcurrentMergeScheduler runs merges on background goroutines. At most
// MaxConcurrentMerges run at once and each goroutine keeps taking pending
// merges until none are left. When more than MaxMergeCount merges are running
// or waiting, the goroutine that triggered merging stalls until one finishes.
type ConcurrentMergeScheduler struct {
	MaxConcurrentMerges int
	MaxMergeCount       int

	// SuppressErrors drops merge failures instead of returning them from
	// the next Merge call. The writer logs them either way.
	SuppressErrors bool

	// Resources, when set, limits merges across writers and throttles their
	// writes. Writers share their configured controller by default.
	Resources *resource.Controller

	mu      sync.Mutex
	cond    *sync.Cond
	running int
	wg      sync.WaitGroup
	errs    []error
}

// NewConcurrentMergeScheduler returns a scheduler sized for the machine.
func NewConcurrentMergeScheduler() *ConcurrentMergeScheduler {
	n := max(1, min(4, runtime.GOMAXPROCS(0)/2))
	s := &ConcurrentMergeScheduler{MaxConcurrentMerges: n, MaxMergeCount: n + 5}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *ConcurrentMergeScheduler) init() {
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
	if s.MaxConcurrentMerges <= 0 {
		s.MaxConcurrentMerges = 1
	}
	if s.MaxMergeCount < s.MaxConcurrentMerges {
		s.MaxMergeCount = s.MaxConcurrentMerges
	}
}

func (s *ConcurrentMergeScheduler) Merge(ctx context.Context, src MergeSource, _ MergeTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	if err := s.takeErrors(); err != nil {
		return err
	}
	for {
		if s.running < s.MaxConcurrentMerges {
			m := src.NextMerge()
			if m == nil {
				return nil
			}
			s.running++
			s.wg.Add(1)
			go s.run(src, m)
			continue
		}
		if s.running+src.PendingMerges() <= s.MaxMergeCount {
			return nil
		}
		// Backpressure: the caller waits while the merge backlog is full.
		start := time.Now()
		stop := context.AfterFunc(ctx, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		for s.running+src.PendingMerges() > s.MaxMergeCount && ctx.Err() == nil {
			s.cond.Wait()
		}
		stop()
		src.OnStall("merge_backlog", time.Since(start))
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *ConcurrentMergeScheduler) run(src MergeSource, m *OneMerge) {
	defer s.wg.Done()
	for m != nil {
		s.runOne(src, m)

		s.mu.Lock()
		m = src.NextMerge()
		if m == nil {
			s.running--
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *ConcurrentMergeScheduler) runOne(src MergeSource, m *OneMerge) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("index: merge panicked: %v\n%s", r, debug.Stack())
			}
		}()
		if err := s.Resources.AcquireBackground(m.ctx); err != nil {
			m.abort()
			return src.Merge(context.Background(), m)
		}
		defer s.Resources.ReleaseBackground()
		return src.Merge(m.ctx, m)
	}()
	if err == nil || errors.Is(err, ErrMergeAborted) {
		return
	}
	if s.SuppressErrors {
		if logger := src.Logger(); logger != nil {
			logger.Warn("suppressed merge failure", "segments", m.SegmentNames(), "error", err)
		}
		return
	}
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *ConcurrentMergeScheduler) takeErrors() error {
	err := errors.Join(s.errs...)
	s.errs = nil
	return err
}

// RunningMerges returns the number of merges in progress.
func (s *ConcurrentMergeScheduler) RunningMerges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Sync waits for every started merge and returns their unreported errors.
func (s *ConcurrentMergeScheduler) Sync() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeErrors()
}

func (s *ConcurrentMergeScheduler) Close() error { return s.Sync() }
