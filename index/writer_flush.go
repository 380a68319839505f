package index

import (
	"cmp"
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// builderPool hands out segment builders to ingesting goroutines and
// tracks the ones being flushed. All fields are guarded by the writer's mu.
type builderPool struct {
	cfg     *Config
	numbers *fieldNumbers

	// active holds builders that accept documents, free the idle subset.
	active     []*segmentBuilder
	free       []*segmentBuilder
	checkedOut int

	flushing      map[*segmentBuilder]int64
	flushingBytes int64

	// blocked stops ingestion while a full flush or a discard runs.
	blocked bool
}

func (p *builderPool) init(cfg *Config, numbers *fieldNumbers) {
	p.cfg = cfg
	p.numbers = numbers
	p.flushing = make(map[*segmentBuilder]int64)
}

func (p *builderPool) take() *segmentBuilder {
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		p.checkedOut++
		return b
	}
	if len(p.active) < p.cfg.IngestionSlots {
		b := newSegmentBuilder(p.cfg, p.numbers)
		p.active = append(p.active, b)
		p.checkedOut++
		return b
	}
	return nil
}

// each calls fn for every builder whose documents are not yet published.
func (p *builderPool) each(fn func(b *segmentBuilder)) {
	for _, b := range p.active {
		fn(b)
	}
	for b := range p.flushing {
		fn(b)
	}
}

func (p *builderPool) bufferedDocs() int {
	n := 0
	p.each(func(b *segmentBuilder) { n += b.docCount() })
	return n
}

func (p *builderPool) activeBytes() int64 {
	var n int64
	for _, b := range p.active {
		n += b.ramBytesUsed()
	}
	return n
}

func (p *builderPool) deleteTerms() int {
	n := 0
	for _, b := range p.active {
		n += b.deletes.len()
	}
	return n
}

// stalled reports whether ingestion must wait for flushes to catch up:
// flushing plus active memory exceeds twice the RAM budget.
func (p *builderPool) stalled() bool {
	budget := p.cfg.ramBufferBytes()
	return budget > 0 && len(p.flushing) > 0 && p.flushingBytes+p.activeBytes() > 2*budget
}

// markFlushing moves idle builders into the flushing set.
func (p *builderPool) markFlushing(bs []*segmentBuilder) []*segmentBuilder {
	for _, b := range bs {
		p.free = slices.DeleteFunc(p.free, func(x *segmentBuilder) bool { return x == b })
		p.active = slices.DeleteFunc(p.active, func(x *segmentBuilder) bool { return x == b })
		bytes := b.ramBytesUsed()
		p.flushing[b] = bytes
		p.flushingBytes += bytes
	}
	return bs
}

func (p *builderPool) doneFlushing(b *segmentBuilder) {
	p.flushingBytes -= p.flushing[b]
	delete(p.flushing, b)
}

// release returns b to the idle set and picks the builders a flush trigger
// selects.
func (p *builderPool) release(b *segmentBuilder) []*segmentBuilder {
	p.checkedOut--
	p.free = append(p.free, b)
	if p.blocked {
		return nil
	}
	switch {
	case p.cfg.MaxBufferedDocs > 0 && b.docCount() >= p.cfg.MaxBufferedDocs:
		return p.markFlushing([]*segmentBuilder{b})
	case p.cfg.MaxBufferedDeleteTerms > 0 && p.deleteTerms() >= p.cfg.MaxBufferedDeleteTerms:
		return p.markFlushing(slices.Clone(p.free))
	case p.cfg.RAMBufferSizeMB > 0 && p.activeBytes() >= p.cfg.ramBufferBytes():
		largest := slices.MaxFunc(p.free, func(x, y *segmentBuilder) int {
			return cmp.Compare(x.ramBytesUsed(), y.ramBytesUsed())
		})
		return p.markFlushing([]*segmentBuilder{largest})
	}
	return nil
}

// discardAll drops every buffered document once in-flight adds and
// flushes are done.
func (p *builderPool) discardAll(cond *sync.Cond) {
	p.blocked = true
	for p.checkedOut > 0 || len(p.flushing) > 0 {
		cond.Wait()
	}
	for _, b := range p.active {
		b.discard()
	}
	p.active, p.free = nil, nil
	p.blocked = false
	cond.Broadcast()
}

// obtainBuilder checks out a builder, waiting while all slots are busy or
// flushes lag behind ingestion.
func (w *IndexWriter) obtainBuilder() (*segmentBuilder, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var stallStart time.Time
	for {
		if err := w.ensureOpen(); err != nil {
			return nil, err
		}
		if !w.builders.blocked && !w.builders.stalled() {
			if b := w.builders.take(); b != nil {
				if !stallStart.IsZero() {
					w.metrics.OnStall("flush_backlog", time.Since(stallStart))
				}
				return b, nil
			}
		}
		if stallStart.IsZero() {
			stallStart = time.Now()
		}
		w.cond.Wait()
	}
}

// releaseBuilder checks b back in and runs any flush the release
// triggered on the calling goroutine.
func (w *IndexWriter) releaseBuilder(ctx context.Context, b *segmentBuilder) error {
	w.mu.Lock()
	toFlush := w.builders.release(b)
	w.cond.Broadcast()
	w.mu.Unlock()
	return w.flushBuilders(ctx, toFlush)
}

// flushIdleBuilders flushes every builder not in use.
func (w *IndexWriter) flushIdleBuilders(ctx context.Context) error {
	w.mu.Lock()
	var toFlush []*segmentBuilder
	if !w.builders.blocked {
		toFlush = w.builders.markFlushing(slices.Clone(w.builders.free))
	}
	w.mu.Unlock()
	return w.flushBuilders(ctx, toFlush)
}

func (w *IndexWriter) flushBuilders(ctx context.Context, bs []*segmentBuilder) error {
	if len(bs) == 0 {
		return nil
	}
	var errs []error
	for _, b := range bs {
		if err := w.flushBuilder(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	w.maybeMerge(ctx, TriggerFlush)
	return nil
}

// flushBuilder writes b as a new segment and publishes it. Flushing is not
// cancellable: the documents are already acknowledged. A failed flush
// loses them, so it closes the writer.
func (w *IndexWriter) flushBuilder(ctx context.Context, b *segmentBuilder) error {
	fctx := context.WithoutCancel(ctx)
	start := time.Now()
	docs := b.docCount()
	bytes := b.ramBytesUsed()

	var (
		fs  *flushedSegment
		err error
	)
	if docs > 0 {
		w.mu.Lock()
		name := w.infos.newSegmentName()
		w.mu.Unlock()
		fs, err = b.flush(fctx, w.dir, name, w.cfg.Codec)
	}
	b.discard()

	w.mu.Lock()
	if err == nil {
		err = w.publishFlushed(fctx, fs)
	} else {
		w.pendingNumDocs -= int64(docs)
	}
	w.builders.doneFlushing(b)
	w.cond.Broadcast()
	w.mu.Unlock()

	if docs == 0 {
		return err
	}
	w.metrics.OnFlush(time.Since(start), docs, bytes, err)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return err
		}
		return w.onTragedy(fctx, "flush", err)
	}
	w.logger.Debug("flushed segment",
		"segment", fs.info.Name,
		"docs", docs,
		"ram_bytes", bytes,
		"duration", time.Since(start))
	return nil
}

// publishFlushed adds a flushed segment to the segment set and applies the
// deletes its builder buffered. Called with w.mu held.
func (w *IndexWriter) publishFlushed(ctx context.Context, fs *flushedSegment) error {
	if fs == nil {
		return nil
	}
	if w.closed {
		removeFiles(ctx, w.dir, fs.info.Files(), w.logger)
		return ErrClosed
	}
	sci := newSegmentCommitInfo(fs.info)
	w.infos.Segments = append(w.infos.Segments, sci)
	if fs.deletes.len() > 0 {
		p, err := w.pooled(ctx, sci)
		if err != nil {
			return err
		}
		if _, err := deleteTerms(p.core.fields, fs.deletes.terms, p.delete); err != nil {
			return err
		}
	}
	if err := w.checkpoint(ctx); err != nil {
		return err
	}
	return w.dropFullyDeleted(ctx)
}

// fullFlush flushes every builder and waits for flushes started by other
// goroutines.
func (w *IndexWriter) fullFlush(ctx context.Context) error {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	return w.fullFlushLocked(ctx)
}

// fullFlushLocked is fullFlush with commitMu held. Ingestion blocks until
// it returns.
func (w *IndexWriter) fullFlushLocked(ctx context.Context) error {
	w.mu.Lock()
	if err := w.ensureOpen(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.builders.blocked = true
	for w.builders.checkedOut > 0 {
		w.cond.Wait()
	}
	toFlush := w.builders.markFlushing(slices.Clone(w.builders.active))
	w.mu.Unlock()

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, b := range toFlush {
		g.Go(func() error { return w.flushBuilder(ctx, b) })
	}
	err := g.Wait()

	w.mu.Lock()
	for len(w.builders.flushing) > 0 {
		w.cond.Wait()
	}
	w.builders.blocked = false
	w.cond.Broadcast()
	if err == nil {
		err = w.ensureOpen()
	}
	w.mu.Unlock()
	return err
}

// Flush writes all buffered documents as segments without committing.
func (w *IndexWriter) Flush(ctx context.Context) error {
	if err := w.fullFlush(ctx); err != nil {
		return err
	}
	w.maybeMerge(ctx, TriggerFlush)
	return nil
}
