package index

import (
	"context"
	"errors"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/internal/bitset"
)

// pooledSegment is the writer's open view of a published segment. It holds
// deletions that are applied in memory but not yet written to a live docs
// file.
type pooledSegment struct {
	info *SegmentCommitInfo
	core *segmentCore
	// live is nil while the segment has no deletions.
	live *bitset.BitSet
	// shared is set once live was handed to a reader or a merge; the next
	// deletion copies it first.
	shared bool
	// pending counts deletions not yet in a live docs file.
	pending int
}

func (p *pooledSegment) delete(doc int) bool {
	switch {
	case p.live == nil:
		p.live = bitset.NewAllSet(p.info.MaxDoc())
	case p.shared:
		p.live = p.live.Clone()
		p.shared = false
	}
	if p.live.GetAndClear(doc) {
		p.pending++
		return true
	}
	return false
}

func (p *pooledSegment) delCount() int { return p.info.DelCount + p.pending }

// snapshot returns the current live docs for a reader. They stay unchanged
// for the reader's lifetime.
func (p *pooledSegment) snapshot() *bitset.BitSet {
	p.shared = p.live != nil
	return p.live
}

// readerInfo returns a commit info matching the in-memory deletions.
func (p *pooledSegment) readerInfo() *SegmentCommitInfo {
	c := p.info.clone()
	c.DelCount = p.delCount()
	return c
}

func (p *pooledSegment) release() error {
	if p.core == nil {
		return nil
	}
	err := p.core.decRef()
	p.core = nil
	return err
}

// pooled returns the pool entry of sci, opening the segment on first use.
// Called with w.mu held.
func (w *IndexWriter) pooled(ctx context.Context, sci *SegmentCommitInfo) (*pooledSegment, error) {
	p, ok := w.pool[sci.Name()]
	if ok && p.core != nil {
		return p, nil
	}
	core, err := openSegmentCore(ctx, w.dir, sci.Info)
	if err != nil {
		return nil, err
	}
	if ok {
		p.core = core
		return p, nil
	}
	live, err := readLiveDocs(ctx, w.dir, core.codec, sci)
	if err != nil {
		_ = core.decRef()
		return nil, err
	}
	p = &pooledSegment{info: sci, core: core, live: live}
	w.pool[sci.Name()] = p
	return p, nil
}

// dropPooled releases the pool entry of a segment leaving the index.
func (w *IndexWriter) dropPooled(name string) {
	p, ok := w.pool[name]
	if !ok {
		return
	}
	delete(w.pool, name)
	if err := p.release(); err != nil {
		w.logger.Warn("failed to close segment", "segment", name, "error", err)
	}
}

func (w *IndexWriter) releasePool() {
	for name := range w.pool {
		w.dropPooled(name)
	}
}

// applyDeletes deletes the documents matching terms from every published
// segment and drops segments that no longer hold live documents. Called
// with w.mu held.
func (w *IndexWriter) applyDeletes(ctx context.Context, terms map[deleteKey]int) (int, error) {
	total := 0
	for _, sci := range w.infos.Segments {
		p, err := w.pooled(ctx, sci)
		if err != nil {
			return total, err
		}
		n, err := deleteTerms(p.core.fields, terms, p.delete)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		w.changed()
		if err := w.dropFullyDeleted(ctx); err != nil {
			return total, err
		}
	}
	return total, nil
}

// dropFullyDeleted removes segments whose documents are all deleted,
// unless a merge is reading them. Called with w.mu held.
func (w *IndexWriter) dropFullyDeleted(ctx context.Context) error {
	kept := w.infos.Segments[:0]
	dropped := 0
	for _, sci := range w.infos.Segments {
		p, ok := w.pool[sci.Name()]
		if !ok || p.delCount() < sci.MaxDoc() {
			kept = append(kept, sci)
			continue
		}
		if _, merging := w.merging[sci.Name()]; merging {
			kept = append(kept, sci)
			continue
		}
		w.logger.Debug("dropping fully deleted segment", "segment", sci.Name())
		w.dropPooled(sci.Name())
		w.pendingNumDocs -= int64(sci.MaxDoc())
		dropped++
	}
	clear(w.infos.Segments[len(kept):])
	w.infos.Segments = kept
	if dropped == 0 {
		return nil
	}
	return w.checkpoint(ctx)
}

// writeLiveDocs persists the pending deletions of every pooled segment.
// Each write uses a fresh deletion generation. Called with w.mu held.
func (w *IndexWriter) writeLiveDocs(ctx context.Context) error {
	written := false
	for _, sci := range w.infos.Segments {
		p, ok := w.pool[sci.Name()]
		if !ok || p.pending == 0 {
			continue
		}
		deleted := roaring.New()
		for doc := p.live.NextClearBit(0); doc >= 0; doc = p.live.NextClearBit(doc + 1) {
			deleted.Add(uint32(doc))
		}
		cd, err := codec.Lookup(sci.Info.Codec)
		if err != nil {
			return err
		}
		gen := sci.nextWriteDelGen
		if err := cd.LiveDocs.Write(ctx, w.dir, sci.Info, gen, deleted); err != nil {
			// The failed generation is skipped so a partial file is never
			// reused.
			sci.nextWriteDelGen++
			removeFiles(context.WithoutCancel(ctx), w.dir, []string{cd.LiveDocs.FileName(sci.Info, gen)}, w.logger)
			return errors.Join(err, w.checkpointIf(ctx, written))
		}
		sci.advanceDelGen()
		sci.DelCount += p.pending
		p.pending = 0
		written = true
	}
	return w.checkpointIf(ctx, written)
}

func (w *IndexWriter) checkpointIf(ctx context.Context, ok bool) error {
	if !ok {
		return nil
	}
	return w.checkpoint(ctx)
}
