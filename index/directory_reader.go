package index

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/internal/manifest"
	"github.com/hupe1980/segdex/store"
)

// LeafContext is one segment of a DirectoryReader.
type LeafContext struct {
	Reader *SegmentReader
	// DocBase is added to the segment's doc ids to form reader doc ids.
	DocBase int
	Ord     int
}

// DirectoryReader is an immutable point-in-time view of an index. Doc ids
// are the concatenation of the segments' doc ids in segment order.
//
// A reader must be closed; it keeps the files of its segments open, which
// delays their physical deletion.
type DirectoryReader struct {
	refs atomic.Int32

	dir     store.Directory
	infos   *SegmentInfos
	leaves  []LeafContext
	maxDoc  int
	numDocs int

	// writer is set for near-real-time readers.
	writer *IndexWriter
}

func newDirectoryReader(dir store.Directory, infos *SegmentInfos, readers []*SegmentReader, w *IndexWriter) *DirectoryReader {
	r := &DirectoryReader{dir: dir, infos: infos, writer: w, leaves: make([]LeafContext, len(readers))}
	for i, sr := range readers {
		r.leaves[i] = LeafContext{Reader: sr, DocBase: r.maxDoc, Ord: i}
		r.maxDoc += sr.MaxDoc()
		r.numDocs += sr.NumDocs()
	}
	r.refs.Store(1)
	return r
}

// OpenReader opens the newest readable commit of dir.
func OpenReader(ctx context.Context, dir store.Directory) (*DirectoryReader, error) {
	infos, err := ReadSegmentInfos(ctx, dir)
	if err != nil {
		return nil, err
	}
	return openInfos(ctx, dir, infos, nil)
}

// OpenReaderAt opens a specific commit, e.g. one returned by ListCommits.
func OpenReaderAt(ctx context.Context, dir store.Directory, commit *IndexCommit) (*DirectoryReader, error) {
	return openInfos(ctx, dir, commit.infos.clone(), nil)
}

// OpenReaderFromWriter opens a near-real-time reader. It flushes buffered
// documents and sees every published segment and delete, committed or not.
func OpenReaderFromWriter(ctx context.Context, w *IndexWriter) (*DirectoryReader, error) {
	return w.nrtReader(ctx)
}

// openInfos opens every segment of infos, reusing the readers of old whose
// segment is unchanged.
func openInfos(ctx context.Context, dir store.Directory, infos *SegmentInfos, old *DirectoryReader) (*DirectoryReader, error) {
	var prev map[string]*SegmentReader
	if old != nil {
		prev = make(map[string]*SegmentReader, len(old.leaves))
		for _, l := range old.leaves {
			prev[l.Reader.Name()] = l.Reader
		}
	}

	readers := make([]*SegmentReader, len(infos.Segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, sci := range infos.Segments {
		if p, ok := prev[sci.Name()]; ok && p.Info().Info.ID == sci.Info.ID {
			if p.Info().DelGen == sci.DelGen {
				p.IncRef()
				readers[i] = p
				continue
			}
			// Only deletions changed: share the core, reload live docs.
			g.Go(func() error {
				live, err := readLiveDocs(gctx, dir, p.core.codec, sci)
				if err != nil {
					return err
				}
				readers[i] = newSegmentReader(p.core, sci, live)
				return nil
			})
			continue
		}
		g.Go(func() error {
			sr, err := openSegmentReader(gctx, dir, sci)
			if err != nil {
				return fmt.Errorf("open segment %s: %w", sci.Name(), err)
			}
			readers[i] = sr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, sr := range readers {
			if sr != nil {
				_ = sr.DecRef()
			}
		}
		return nil, err
	}
	return newDirectoryReader(dir, infos, readers, nil), nil
}

// Directory returns the directory the reader reads from.
func (r *DirectoryReader) Directory() store.Directory { return r.dir }

// NumDocs returns the number of live documents.
func (r *DirectoryReader) NumDocs() int { return r.numDocs }

// MaxDoc returns one more than the largest doc id.
func (r *DirectoryReader) MaxDoc() int { return r.maxDoc }

// HasDeletions reports whether any segment has deleted documents.
func (r *DirectoryReader) HasDeletions() bool { return r.numDocs != r.maxDoc }

// Leaves returns the segments in doc id order.
func (r *DirectoryReader) Leaves() []LeafContext { return r.leaves }

// Generation returns the generation of the commit the reader was opened
// from. For near-real-time readers it is the writer's last commit.
func (r *DirectoryReader) Generation() int64 { return r.infos.Generation }

// Version returns the version of the segment set.
func (r *DirectoryReader) Version() int64 { return r.infos.Version }

// UserData returns the commit's user data.
func (r *DirectoryReader) UserData() map[string]string { return maps.Clone(r.infos.UserData) }

// SegmentInfos returns a copy of the reader's segment set.
func (r *DirectoryReader) SegmentInfos() *SegmentInfos { return r.infos.clone() }

// leafFor returns the leaf containing doc.
func (r *DirectoryReader) leafFor(doc int) (LeafContext, error) {
	if doc < 0 || doc >= r.maxDoc {
		return LeafContext{}, invalidf("doc %d out of bounds [0,%d)", doc, r.maxDoc)
	}
	i := sort.Search(len(r.leaves), func(i int) bool { return r.leaves[i].DocBase > doc }) - 1
	return r.leaves[i], nil
}

// Document returns the stored fields of doc.
func (r *DirectoryReader) Document(doc int) (*document.Document, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	l, err := r.leafFor(doc)
	if err != nil {
		return nil, err
	}
	return l.Reader.StoredDocument(doc - l.DocBase)
}

// IsLive reports whether doc is not deleted.
func (r *DirectoryReader) IsLive(doc int) bool {
	l, err := r.leafFor(doc)
	if err != nil {
		return false
	}
	return l.Reader.IsLive(doc - l.DocBase)
}

// DocFreq returns the number of documents containing t. Deleted documents
// count until their segment is merged.
func (r *DirectoryReader) DocFreq(t Term) (int, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	total := 0
	for _, l := range r.leaves {
		n, err := l.Reader.DocFreq(t)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// TotalTermFreq returns the number of occurrences of t.
func (r *DirectoryReader) TotalTermFreq(t Term) (int64, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	var total int64
	for _, l := range r.leaves {
		n, err := l.Reader.TotalTermFreq(t)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// IsCurrent reports whether the reader still reflects the newest state: the
// newest commit for readers opened on a directory, the writer's current
// segment set for near-real-time readers.
func (r *DirectoryReader) IsCurrent(ctx context.Context) (bool, error) {
	if err := r.ensureOpen(); err != nil {
		return false, err
	}
	if r.writer != nil {
		return r.writer.isCurrentVersion(r.infos.Version)
	}
	c, err := manifest.NewStore(r.dir, nil).ReadLatest(ctx)
	if err != nil {
		return false, translateManifestError(err)
	}
	return c.Generation == r.infos.Generation, nil
}

// OpenIfChanged returns a new reader if the index changed since r was
// opened, or nil. Unchanged segments are shared with r.
func (r *DirectoryReader) OpenIfChanged(ctx context.Context) (*DirectoryReader, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if r.writer != nil {
		current, err := r.writer.isCurrentVersion(r.infos.Version)
		if err != nil || current {
			return nil, err
		}
		return r.writer.nrtReader(ctx)
	}
	latest, err := ReadSegmentInfos(ctx, r.dir)
	if err != nil {
		return nil, err
	}
	if latest.Generation == r.infos.Generation {
		return nil, nil
	}
	return openInfos(ctx, r.dir, latest, r)
}

func (r *DirectoryReader) ensureOpen() error {
	if r.refs.Load() <= 0 {
		return fmt.Errorf("%w: reader", ErrClosed)
	}
	return nil
}

// IncRef takes a reference; every call must be matched by DecRef.
func (r *DirectoryReader) IncRef() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return fmt.Errorf("%w: reader", ErrClosed)
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// DecRef releases a reference. The last one releases the segments.
func (r *DirectoryReader) DecRef() error {
	n := r.refs.Add(-1)
	if n < 0 {
		return fmt.Errorf("%w: reader", ErrClosed)
	}
	if n > 0 {
		return nil
	}
	var errs []error
	for _, l := range r.leaves {
		errs = append(errs, l.Reader.DecRef())
	}
	return errors.Join(errs...)
}

// Close releases the caller's reference.
func (r *DirectoryReader) Close() error { return r.DecRef() }
