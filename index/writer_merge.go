package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/internal/bitset"
	"github.com/hupe1980/segdex/store"
)

// OneMerge is a registered merge of a fixed set of segments.
type OneMerge struct {
	segments []*SegmentCommitInfo
	kind     MergeKind

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	// Set while running.
	readers   []*SegmentReader
	lives     []*bitset.BitSet
	docMaps   []docMap
	name      string
	info      *codec.SegmentInfo
	files     []string
	committed bool
	start     time.Time
	totalDocs int
}

// SegmentNames returns the names of the merged segments.
func (m *OneMerge) SegmentNames() []string {
	names := make([]string, len(m.segments))
	for i, sci := range m.segments {
		names[i] = sci.Name()
	}
	return names
}

// Kind returns why the merge was registered.
func (m *OneMerge) Kind() MergeKind { return m.kind }

// Done is closed when the merge finished, failed or was aborted.
func (m *OneMerge) Done() <-chan struct{} { return m.done }

// Err returns the merge's error once Done is closed.
func (m *OneMerge) Err() error { return m.err }

func (m *OneMerge) abort() { m.cancel() }

func (m *OneMerge) aborted() bool { return m.ctx.Err() != nil }

// NextMerge implements MergeSource.
func (w *IndexWriter) NextMerge() *OneMerge {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.mergeQueue) == 0 {
		return nil
	}
	m := w.mergeQueue[0]
	w.mergeQueue[0] = nil
	w.mergeQueue = w.mergeQueue[1:]
	w.running[m] = struct{}{}
	w.metrics.OnQueueDepth("merge_queue", len(w.mergeQueue))
	return m
}

// PendingMerges implements MergeSource.
func (w *IndexWriter) PendingMerges() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.mergeQueue)
}

// OnStall implements MergeSource.
func (w *IndexWriter) OnStall(reason string, d time.Duration) {
	w.metrics.OnStall(reason, d)
	w.logger.Debug("stalled on merges", "reason", reason, "duration", d)
}

// segmentStats describes the current segments to the merge policy. Called
// with w.mu held.
func (w *IndexWriter) segmentStats(ctx context.Context) []SegmentStats {
	stats := make([]SegmentStats, len(w.infos.Segments))
	for i, sci := range w.infos.Segments {
		size, err := sci.SizeInBytes(ctx, w.dir)
		if err != nil {
			w.logger.Warn("failed to size segment", "segment", sci.Name(), "error", err)
		}
		delCount := sci.DelCount
		if p, ok := w.pool[sci.Name()]; ok {
			delCount = p.delCount()
		}
		_, merging := w.merging[sci.Name()]
		stats[i] = SegmentStats{
			Name:        sci.Name(),
			MaxDoc:      sci.MaxDoc(),
			DelCount:    delCount,
			SizeBytes:   size,
			Merging:     merging,
			Diagnostics: sci.Info.Diagnostics,
		}
	}
	return stats
}

// updatePendingMerges asks the policy for merges and registers them.
// Called with w.mu held.
func (w *IndexWriter) updatePendingMerges(ctx context.Context, req MergeRequest) []*OneMerge {
	if w.closing || w.closed || w.tragic != nil {
		return nil
	}
	var registered []*OneMerge
	for _, c := range w.cfg.MergePolicy.FindMerges(req, w.segmentStats(ctx)) {
		if m := w.registerMerge(c, req.Kind); m != nil {
			registered = append(registered, m)
		}
	}
	return registered
}

func (w *IndexWriter) registerMerge(c MergeCandidate, kind MergeKind) *OneMerge {
	for _, name := range c.Segments {
		if w.infos.indexOf(name) < 0 {
			return nil
		}
		if _, ok := w.merging[name]; ok {
			return nil
		}
	}
	// Sources keep their index order so merged documents keep theirs.
	segs := make([]*SegmentCommitInfo, 0, len(c.Segments))
	for _, sci := range w.infos.Segments {
		if slices.Contains(c.Segments, sci.Name()) {
			segs = append(segs, sci)
		}
	}
	if len(segs) == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(w.mergeCtx)
	m := &OneMerge{segments: segs, kind: kind, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	for _, sci := range segs {
		w.merging[sci.Name()] = struct{}{}
	}
	w.mergeQueue = append(w.mergeQueue, m)
	w.metrics.OnQueueDepth("merge_queue", len(w.mergeQueue))
	w.logger.Debug("registered merge", "kind", kind.String(), "segments", m.SegmentNames())
	return m
}

// abortMerges cancels running merges and drops queued ones. Called with
// w.mu held.
func (w *IndexWriter) abortMerges() {
	w.mergeCancel()
	queued := w.mergeQueue
	w.mergeQueue = nil
	for _, m := range queued {
		w.finishMergeLocked(context.Background(), m, ErrMergeAborted)
	}
}

// waitForMergesLocked waits until no merge is queued or running.
func (w *IndexWriter) waitForMergesLocked() {
	for len(w.mergeQueue)+len(w.running) > 0 {
		w.cond.Wait()
	}
}

// waitForMerges waits for queued and running merges. When ctx ends first
// they are aborted.
func (w *IndexWriter) waitForMerges(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idle := func() bool { return len(w.mergeQueue)+len(w.running) == 0 }
	if err := w.waitLocked(ctx, idle); err != nil {
		w.logger.Warn("aborting merges", "error", err)
		w.abortMerges()
		w.waitForMergesLocked()
		w.mergeCtx, w.mergeCancel = context.WithCancel(context.Background())
	}
}

// waitLocked waits on w.cond until done returns true or ctx ends. Called
// with w.mu held.
func (w *IndexWriter) waitLocked(ctx context.Context, done func() bool) error {
	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer stop()
	for !done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.cond.Wait()
	}
	return nil
}

func (w *IndexWriter) maybeMerge(ctx context.Context, trigger MergeTrigger) {
	if err := w.mergePass(ctx, trigger); err != nil && !errors.Is(err, ErrClosed) {
		w.logger.Warn("merge failed", "trigger", trigger.String(), "error", err)
	}
}

// MaybeMerge asks the merge policy for natural merges and hands them to the
// merge scheduler.
func (w *IndexWriter) MaybeMerge(ctx context.Context) error {
	return w.mergePass(ctx, TriggerExplicit)
}

func (w *IndexWriter) mergePass(ctx context.Context, trigger MergeTrigger) error {
	w.mu.Lock()
	if err := w.ensureOpen(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.updatePendingMerges(ctx, MergeRequest{Kind: MergeNatural})
	queued := len(w.mergeQueue) > 0
	w.mu.Unlock()
	if !queued {
		return nil
	}
	return w.cfg.MergeScheduler.Merge(ctx, w, trigger)
}

// ForceMerge merges until at most maxSegments segments remain, blocking
// until done. A single segment with deletions is rewritten when
// maxSegments is 1.
func (w *IndexWriter) ForceMerge(ctx context.Context, maxSegments int) error {
	if maxSegments < 1 {
		return invalidf("max segments %d must be positive", maxSegments)
	}
	if err := w.Flush(ctx); err != nil {
		return err
	}
	return w.forceMerges(ctx, MergeRequest{Kind: MergeForced, MaxSegmentCount: maxSegments})
}

// ForceMergeDeletes rewrites segments whose share of deleted documents
// exceeds the policy's threshold, blocking until done.
func (w *IndexWriter) ForceMergeDeletes(ctx context.Context) error {
	if err := w.Flush(ctx); err != nil {
		return err
	}
	return w.forceMerges(ctx, MergeRequest{Kind: MergeForcedDeletes})
}

// forceMerges runs policy passes until the policy selects nothing and no
// merge is running. A forced merge that stops above its target segment
// count fails with ErrMergeIncomplete.
func (w *IndexWriter) forceMerges(ctx context.Context, req MergeRequest) error {
	for {
		w.mu.Lock()
		if err := w.ensureOpen(); err != nil {
			w.mu.Unlock()
			return err
		}
		registered := w.updatePendingMerges(ctx, req)
		w.mu.Unlock()

		if len(registered) > 0 {
			if err := w.cfg.MergeScheduler.Merge(ctx, w, TriggerForced); err != nil {
				return err
			}
		}

		w.mu.Lock()
		var err error
		if len(registered) > 0 {
			err = w.waitLocked(ctx, func() bool {
				return !slices.ContainsFunc(registered, func(m *OneMerge) bool { return !isClosed(m.done) })
			})
		} else {
			err = w.waitLocked(ctx, func() bool { return len(w.mergeQueue)+len(w.running) == 0 })
		}
		w.mu.Unlock()
		if err != nil {
			return err
		}
		for _, m := range registered {
			if m.err != nil {
				return fmt.Errorf("merge %v: %w", m.SegmentNames(), m.err)
			}
		}
		if len(registered) == 0 {
			w.mu.Lock()
			again := len(w.cfg.MergePolicy.FindMerges(req, w.segmentStats(ctx))) > 0
			remaining := len(w.infos.Segments)
			w.mu.Unlock()
			if again {
				continue
			}
			if req.Kind == MergeForced && remaining > max(req.MaxSegmentCount, 1) {
				return fmt.Errorf("%w: %d segments left, want at most %d", ErrMergeIncomplete, remaining, req.MaxSegmentCount)
			}
			return nil
		}
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Merge implements MergeSource. It runs m, which must come from NextMerge,
// to completion.
func (w *IndexWriter) Merge(ctx context.Context, m *OneMerge) error {
	stop := context.AfterFunc(ctx, m.abort)
	defer stop()

	err := w.runMerge(m)
	if err != nil && m.aborted() {
		err = ErrMergeAborted
	}
	w.mu.Lock()
	w.finishMergeLocked(ctx, m, err)
	w.mu.Unlock()
	return err
}

func (w *IndexWriter) runMerge(m *OneMerge) error {
	m.start = time.Now()
	if m.aborted() {
		return ErrMergeAborted
	}
	w.mu.Lock()
	err := w.mergeInit(m)
	w.mu.Unlock()
	if err != nil {
		return err
	}
	w.logger.Debug("merge started", "segments", m.SegmentNames(), "into", m.name)

	if err := w.mergeMiddle(m); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commitMerge(m)
}

// mergeInit opens readers on the sources, snapshotting their live docs.
// Called with w.mu held.
func (w *IndexWriter) mergeInit(m *OneMerge) error {
	if err := w.ensureOpen(); err != nil {
		return ErrMergeAborted
	}
	for _, sci := range m.segments {
		p, err := w.pooled(m.ctx, sci)
		if err != nil {
			return err
		}
		live := p.snapshot()
		m.readers = append(m.readers, newSegmentReader(p.core, p.readerInfo(), live))
		m.lives = append(m.lives, live)
	}
	m.name = w.infos.newSegmentName()
	return nil
}

// mergeMiddle writes the merged segment without holding the writer lock.
func (w *IndexWriter) mergeMiddle(m *OneMerge) error {
	docMaps, maxDoc := buildDocMaps(m.readers)
	m.docMaps = docMaps
	m.totalDocs = maxDoc
	if maxDoc == 0 {
		// Every source document is deleted; the sources are just dropped.
		return nil
	}
	for _, r := range m.readers {
		if err := r.CheckIntegrity(m.ctx); err != nil {
			return err
		}
	}

	fis, err := mergeFieldInfos(m.readers, w.numbers)
	if err != nil {
		return err
	}
	tdir := store.NewTrackingDirectory(store.NewRateLimitedDirectory(m.ctx, w.dir, w.cfg.Resources))
	si := codec.NewSegmentInfo(m.name, maxDoc, w.cfg.Codec.Name)
	si.Diagnostics = diagnostics("merge")
	si.Diagnostics["merge_kind"] = m.kind.String()
	si.Diagnostics["merge_factor"] = strconv.Itoa(len(m.readers))

	merger := &segmentMerger{
		readers: m.readers,
		docMaps: docMaps,
		maxDoc:  maxDoc,
		dir:     tdir,
		codec:   w.cfg.Codec,
		si:      si,
		fis:     fis,
		logger:  w.logger,
	}
	err = merger.merge(m.ctx)
	m.files = tdir.CreatedFiles()
	if err != nil {
		return err
	}
	m.info = si
	return nil
}

// commitMerge replaces the sources with the merged segment. Deletions that
// hit the sources while the merge ran are carried over. Called with w.mu
// held.
func (w *IndexWriter) commitMerge(m *OneMerge) error {
	if m.aborted() || w.closed {
		return ErrMergeAborted
	}

	var (
		merged  *SegmentCommitInfo
		live    *bitset.BitSet
		carried int
	)
	if m.info != nil {
		merged = newSegmentCommitInfo(m.info)
		for i, sci := range m.segments {
			p := w.pool[sci.Name()]
			if p == nil || p.live == m.lives[i] {
				continue
			}
			start := m.lives[i]
			for doc := p.live.NextClearBit(0); doc >= 0; doc = p.live.NextClearBit(doc + 1) {
				if start != nil && !start.Get(doc) {
					continue
				}
				if live == nil {
					live = bitset.NewAllSet(m.info.MaxDoc)
				}
				live.Clear(m.docMaps[i].get(doc))
				carried++
			}
		}
	}

	sources := make(map[string]struct{}, len(m.segments))
	sourceDocs := 0
	for _, sci := range m.segments {
		sources[sci.Name()] = struct{}{}
		sourceDocs += sci.MaxDoc()
	}
	pos := -1
	kept := make([]*SegmentCommitInfo, 0, len(w.infos.Segments))
	for _, sci := range w.infos.Segments {
		if _, ok := sources[sci.Name()]; ok {
			if pos < 0 {
				pos = len(kept)
			}
			continue
		}
		kept = append(kept, sci)
	}
	if pos < 0 {
		return fmt.Errorf("index: merge sources %v vanished", m.SegmentNames())
	}

	w.pendingNumDocs -= int64(sourceDocs)
	if merged != nil && carried < merged.MaxDoc() {
		kept = slices.Insert(kept, pos, merged)
		w.pool[merged.Name()] = &pooledSegment{info: merged, live: live, pending: carried}
		w.pendingNumDocs += int64(merged.MaxDoc())
	}
	for name := range sources {
		w.dropPooled(name)
	}
	w.infos.Segments = kept
	m.committed = true
	if err := w.checkpoint(m.ctx); err != nil {
		return err
	}
	if merged != nil && carried == merged.MaxDoc() {
		w.deleter.deleteNewFiles(context.WithoutCancel(m.ctx), m.files)
	}

	w.logger.Info("merged segments",
		"segments", m.SegmentNames(),
		"into", m.name,
		"docs", m.totalDocs,
		"carried_deletes", carried,
		"duration", time.Since(m.start))
	return nil
}

// finishMergeLocked releases a merge's resources and wakes its waiters.
// Successful natural merges may cascade into new ones.
func (w *IndexWriter) finishMergeLocked(ctx context.Context, m *OneMerge, err error) {
	for _, sci := range m.segments {
		delete(w.merging, sci.Name())
	}
	delete(w.running, m)
	for _, r := range m.readers {
		if derr := r.DecRef(); derr != nil {
			w.logger.Warn("failed to close merge reader", "segment", r.Name(), "error", derr)
		}
	}
	m.readers = nil
	if err != nil && !m.committed && len(m.files) > 0 {
		w.deleter.deleteNewFiles(context.WithoutCancel(ctx), m.files)
	}
	m.err = err
	m.cancel()
	close(m.done)

	if !m.start.IsZero() {
		w.metrics.OnMerge(time.Since(m.start), len(m.segments), m.totalDocs, err)
	}
	switch {
	case err == nil && m.kind == MergeNatural:
		w.updatePendingMerges(context.WithoutCancel(ctx), MergeRequest{Kind: MergeNatural})
	case err != nil && !errors.Is(err, ErrMergeAborted):
		w.logger.Error("merge failed", "segments", m.SegmentNames(), "error", err)
	}
	w.cond.Broadcast()
}
