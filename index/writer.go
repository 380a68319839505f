package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/internal/manifest"
	"github.com/hupe1980/segdex/store"
)

// IndexWriter adds, updates and deletes documents and publishes them as
// immutable segments. It is safe for concurrent use; documents are indexed
// in parallel by up to Config.IngestionSlots goroutines.
//
// Changes become visible to near-real-time readers after a flush and to
// directory readers after Commit. Only one writer may hold a directory.
type IndexWriter struct {
	dir     store.Directory
	cfg     Config
	logger  *slog.Logger
	metrics MetricsObserver
	lock    store.Lock
	commits *manifest.Store
	numbers *fieldNumbers
	deleter *fileDeleter

	// commitMu serializes full flushes, commits, rollback and close.
	commitMu sync.Mutex

	mu   sync.Mutex
	cond *sync.Cond

	infos         *SegmentInfos
	rollbackInfos *SegmentInfos
	pool          map[string]*pooledSegment
	lastGen       int64
	pending       *pendingCommit

	// pendingNumDocs counts documents in segments and builders, deleted or
	// not, plus reservations of in-flight adds.
	pendingNumDocs int64

	changeCount      int64
	lastCommitChange int64

	builders    builderPool
	merging     map[string]struct{}
	mergeQueue  []*OneMerge
	running     map[*OneMerge]struct{}
	mergeCtx    context.Context
	mergeCancel context.CancelFunc

	closing bool
	closed  bool
	tragic  error
}

// OpenWriter opens a writer on dir and acquires its write lock.
func OpenWriter(ctx context.Context, dir store.Directory, opts ...Option) (*IndexWriter, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return OpenWriterWithConfig(ctx, dir, cfg)
}

// OpenWriterWithConfig opens a writer with an explicit configuration.
func OpenWriterWithConfig(ctx context.Context, dir store.Directory, cfg Config) (_ *IndexWriter, err error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetricsObserver{}
	}
	if cms, ok := cfg.MergeScheduler.(*ConcurrentMergeScheduler); ok && cms.Resources == nil {
		cms.Resources = cfg.Resources
	}

	lock, err := obtainLock(ctx, dir, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = lock.Close()
		}
	}()

	w := &IndexWriter{
		dir:     dir,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "index_writer"),
		metrics: cfg.Metrics,
		lock:    lock,
		commits: manifest.NewStore(dir, cfg.Logger),
		numbers: newFieldNumbers(),
		pool:    make(map[string]*pooledSegment),
		merging: make(map[string]struct{}),
		running: make(map[*OneMerge]struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	w.builders.init(&w.cfg, w.numbers)
	w.mergeCtx, w.mergeCancel = context.WithCancel(context.Background())

	if err := w.loadInfos(ctx); err != nil {
		return nil, err
	}
	w.rollbackInfos = w.infos.clone()
	if w.cfg.OpenMode == Create && w.infos.Generation > 0 {
		// The empty set must replace the existing commit.
		w.changeCount = 1
	}
	w.pendingNumDocs = int64(w.infos.MaxDoc())

	files, err := dir.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	w.lastGen = max(w.infos.Generation, manifest.MaxGeneration(files))

	if w.deleter, err = newFileDeleter(ctx, dir, cfg.DeletionPolicy, w.infos, w.logger); err != nil {
		return nil, err
	}
	w.logger.Info("writer opened",
		"mode", cfg.OpenMode.String(),
		"generation", w.infos.Generation,
		"segments", len(w.infos.Segments),
		"codec", cfg.Codec.Name)
	return w, nil
}

func obtainLock(ctx context.Context, dir store.Directory, cfg Config) (store.Lock, error) {
	lock, err := dir.ObtainLock(ctx, WriteLockName)
	if err == nil {
		return lock, nil
	}
	if !errors.Is(err, store.ErrLockObtainFailed) {
		return nil, err
	}
	if lb, ok := dir.(store.LockBreaker); ok && cfg.OverrideStaleLock {
		cfg.Logger.Warn("breaking stale write lock", "lock", WriteLockName)
		if err := lb.BreakLock(ctx, WriteLockName); err != nil {
			return nil, err
		}
		if lock, err = dir.ObtainLock(ctx, WriteLockName); err == nil {
			return lock, nil
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrLockObtainFailed, err)
}

// loadInfos reads the segment set the writer starts from according to the
// open mode.
func (w *IndexWriter) loadInfos(ctx context.Context) error {
	infos, err := ReadSegmentInfos(ctx, w.dir)
	switch {
	case errors.Is(err, ErrIndexNotFound):
		if w.cfg.OpenMode == Append {
			return err
		}
		w.infos = &SegmentInfos{}
		return nil
	case err != nil:
		return err
	}

	if w.cfg.OpenMode == Create {
		// Keep the counters so new files never collide with the old commit,
		// which stays readable until the first commit replaces it.
		w.infos = &SegmentInfos{Generation: infos.Generation, Version: infos.Version + 1, Counter: infos.Counter}
		return nil
	}
	for _, sci := range infos.Segments {
		cd, err := codec.Lookup(sci.Info.Codec)
		if err != nil {
			return err
		}
		fis, err := cd.FieldInfos.Read(ctx, w.dir, sci.Info, "")
		if err != nil {
			return fmt.Errorf("segment %s: %w", sci.Name(), err)
		}
		if err := w.numbers.load(fis); err != nil {
			return err
		}
	}
	w.infos = infos
	return nil
}

// Directory returns the writer's directory.
func (w *IndexWriter) Directory() store.Directory { return w.dir }

// Config returns a copy of the writer's configuration.
func (w *IndexWriter) Config() Config { return w.cfg }

// Logger returns the writer's logger.
func (w *IndexWriter) Logger() *slog.Logger { return w.logger }

// ensureOpen is called with w.mu held.
func (w *IndexWriter) ensureOpen() error {
	if w.tragic != nil {
		return w.tragic
	}
	if w.closed || w.closing {
		return ErrClosed
	}
	return nil
}

// Tragedy returns the failure that closed the writer, or nil.
func (w *IndexWriter) Tragedy() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tragic
}

// changed records a change visible to readers. Called with w.mu held.
func (w *IndexWriter) changed() {
	w.changeCount++
	w.infos.Version++
}

// checkpoint hands the current segment set to the file deleter. Called
// with w.mu held.
func (w *IndexWriter) checkpoint(ctx context.Context) error {
	w.changed()
	return w.deleter.checkpoint(context.WithoutCancel(ctx), w.infos, false)
}

// maxDocs is the enforced document limit. Tests lower it.
var maxDocs int64 = MaxDocs

// reserveDocs accounts n new documents against MaxDocs. Called with w.mu
// held.
func (w *IndexWriter) reserveDocs(n int) error {
	if w.pendingNumDocs+int64(n) > maxDocs {
		return fmt.Errorf("%w: adding %d documents to %d exceeds %d", ErrTooManyDocs, n, w.pendingNumDocs, maxDocs)
	}
	w.pendingNumDocs += int64(n)
	return nil
}

// AddDocument indexes one document.
func (w *IndexWriter) AddDocument(ctx context.Context, doc *document.Document) error {
	return w.updateDocuments(ctx, nil, []*document.Document{doc})
}

// AddDocuments indexes docs as a block: they get consecutive ids in one
// segment and become visible together, even across merges.
func (w *IndexWriter) AddDocuments(ctx context.Context, docs []*document.Document) error {
	return w.updateDocuments(ctx, nil, docs)
}

// UpdateDocument atomically deletes every document containing term and
// adds doc.
func (w *IndexWriter) UpdateDocument(ctx context.Context, term Term, doc *document.Document) error {
	t := term.clone()
	return w.updateDocuments(ctx, &t, []*document.Document{doc})
}

// UpdateDocuments atomically deletes every document containing term and
// adds docs as a block.
func (w *IndexWriter) UpdateDocuments(ctx context.Context, term Term, docs []*document.Document) error {
	t := term.clone()
	return w.updateDocuments(ctx, &t, docs)
}

func (w *IndexWriter) updateDocuments(ctx context.Context, delTerm *Term, docs []*document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	err := w.ensureOpen()
	if err == nil {
		err = w.reserveDocs(len(docs))
	}
	w.mu.Unlock()
	if err != nil {
		return err
	}

	b, err := w.obtainBuilder()
	if err != nil {
		w.unreserveDocs(len(docs))
		return err
	}
	if _, err := b.addDocuments(docs); err != nil {
		w.unreserveDocs(len(docs))
		w.releaseBuilder(ctx, b)
		return err
	}

	w.mu.Lock()
	b.publishDocs(len(docs), delTerm)
	w.changed()
	if delTerm != nil {
		err = w.deleteLocked(ctx, []Term{*delTerm}, b)
	}
	w.mu.Unlock()
	w.metrics.OnThroughput("index_docs", int64(len(docs)))

	return errors.Join(err, w.releaseBuilder(ctx, b))
}

func (w *IndexWriter) unreserveDocs(n int) {
	w.mu.Lock()
	w.pendingNumDocs -= int64(n)
	w.mu.Unlock()
}

// DeleteDocuments deletes every document containing any of terms. The
// delete applies to documents added before the call only.
func (w *IndexWriter) DeleteDocuments(ctx context.Context, terms ...Term) error {
	if len(terms) == 0 {
		return nil
	}
	cloned := make([]Term, len(terms))
	for i, t := range terms {
		cloned[i] = t.clone()
	}

	w.mu.Lock()
	err := w.ensureOpen()
	if err == nil {
		err = w.deleteLocked(ctx, cloned, nil)
		w.changed()
	}
	flush := err == nil && w.deleteTermsFull()
	w.mu.Unlock()
	if err != nil {
		return err
	}
	if flush {
		return w.flushIdleBuilders(ctx)
	}
	return nil
}

// deleteLocked buffers terms in every builder except skip, which already
// recorded them, and applies them to published segments.
func (w *IndexWriter) deleteLocked(ctx context.Context, terms []Term, skip *segmentBuilder) error {
	w.builders.each(func(b *segmentBuilder) {
		if b != skip {
			b.bufferDeletes(terms)
		}
	})
	_, err := w.applyDeletes(ctx, termLimits(terms, math.MaxInt))
	return err
}

func (w *IndexWriter) deleteTermsFull() bool {
	n := w.cfg.MaxBufferedDeleteTerms
	return n > 0 && w.builders.deleteTerms() >= n
}

// DeleteAll removes every document. Running merges are aborted; buffered
// documents are discarded. The change is durable after the next commit.
func (w *IndexWriter) DeleteAll(ctx context.Context) error {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	w.mu.Lock()
	if err := w.ensureOpen(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.abortMerges()
	w.mu.Unlock()
	if err := w.cfg.MergeScheduler.Close(); err != nil && !errors.Is(err, ErrMergeAborted) {
		w.logger.Warn("merge failed during delete all", "error", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.waitForMergesLocked()
	w.builders.discardAll(w.cond)
	w.mergeCtx, w.mergeCancel = context.WithCancel(context.Background())

	w.releasePool()
	w.infos.Segments = nil
	w.numbers.clear()
	w.pendingNumDocs = 0
	w.logger.Info("deleted all documents")
	return w.checkpoint(ctx)
}

// NumDocs returns the number of live documents, including buffered ones.
func (w *IndexWriter) NumDocs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numDocsLocked()
}

func (w *IndexWriter) numDocsLocked() int {
	n := w.builders.bufferedDocs()
	for _, sci := range w.infos.Segments {
		if p, ok := w.pool[sci.Name()]; ok {
			n += sci.MaxDoc() - p.delCount()
		} else {
			n += sci.NumDocs()
		}
	}
	return n
}

// MaxDoc returns the number of documents including deleted and buffered
// ones.
func (w *IndexWriter) MaxDoc() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.infos.MaxDoc() + w.builders.bufferedDocs()
}

// SegmentCount returns the number of published segments.
func (w *IndexWriter) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.infos.Segments)
}

// HasUncommittedChanges reports whether the writer holds changes newer than
// its last commit.
func (w *IndexWriter) HasUncommittedChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changeCount != w.lastCommitChange || w.builders.bufferedDocs() > 0
}

// WriterStats is a point-in-time view of a writer.
type WriterStats struct {
	NumDocs         int
	MaxDoc          int
	Segments        int
	BufferedDocs    int
	RAMBytes        int64
	FlushingBytes   int64
	PendingMerges   int
	RunningMerges   int
	Generation      int64
	Version         int64
	PendingDeletes  int
	SegmentNames    []string
	CommittedChange bool
}

// Stats returns the writer's current statistics.
func (w *IndexWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := WriterStats{
		NumDocs:         w.numDocsLocked(),
		MaxDoc:          w.infos.MaxDoc() + w.builders.bufferedDocs(),
		Segments:        len(w.infos.Segments),
		BufferedDocs:    w.builders.bufferedDocs(),
		RAMBytes:        w.builders.activeBytes(),
		FlushingBytes:   w.builders.flushingBytes,
		PendingMerges:   len(w.mergeQueue),
		RunningMerges:   len(w.running),
		Generation:      w.infos.Generation,
		Version:         w.infos.Version,
		CommittedChange: w.changeCount == w.lastCommitChange,
	}
	for _, sci := range w.infos.Segments {
		s.SegmentNames = append(s.SegmentNames, sci.Name())
		if p, ok := w.pool[sci.Name()]; ok {
			s.PendingDeletes += p.pending
		}
	}
	return s
}

// nrtReader flushes buffered documents and opens a reader over every
// published segment, including uncommitted deletions.
func (w *IndexWriter) nrtReader(ctx context.Context) (*DirectoryReader, error) {
	if err := w.fullFlush(ctx); err != nil {
		return nil, err
	}
	w.maybeMerge(ctx, TriggerFlush)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return nil, err
	}
	infos := w.infos.clone()
	readers := make([]*SegmentReader, 0, len(w.infos.Segments))
	for i, sci := range w.infos.Segments {
		p, err := w.pooled(ctx, sci)
		if err != nil {
			for _, r := range readers {
				_ = r.DecRef()
			}
			return nil, err
		}
		info := p.readerInfo()
		infos.Segments[i] = info
		readers = append(readers, newSegmentReader(p.core, info, p.snapshot()))
	}
	return newDirectoryReader(w.dir, infos, readers, w), nil
}

// isCurrentVersion reports whether a reader at version still sees every
// change.
func (w *IndexWriter) isCurrentVersion(version int64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return false, err
	}
	return version == w.infos.Version && w.builders.bufferedDocs() == 0, nil
}

// onTragedy closes the writer after a failure that left its in-memory state
// unusable. Uncommitted changes are lost; the last commit stays intact.
func (w *IndexWriter) onTragedy(ctx context.Context, op string, cause error) error {
	w.mu.Lock()
	if w.tragic != nil || w.closed {
		err := w.tragic
		w.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return err
	}
	w.tragic = &tragicError{op: op, err: cause}
	w.mu.Unlock()

	w.logger.Error("writer closed after unrecoverable failure", "op", op, "error", cause)
	if err := w.rollbackInternal(context.WithoutCancel(ctx)); err != nil {
		w.logger.Warn("cleanup after tragic failure", "error", err)
	}
	return w.Tragedy()
}
