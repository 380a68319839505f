package segdex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/segdex/blobstore"
	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/index"
	"github.com/hupe1980/segdex/internal/cache"
	"github.com/hupe1980/segdex/store"

	// compact is selectable by name from configs.
	_ "github.com/hupe1980/segdex/codec/compact"
)

// Term addresses documents for updates and deletes.
type Term = index.Term

// NewTerm returns the term text in field.
func NewTerm(field, text string) Term { return index.NewTerm(field, text) }

// Backend is where an index lives.
type Backend interface {
	open(ctx context.Context, logger *Logger) (dir store.Directory, owned bool, err error)
	String() string
}

type localBackend struct {
	path string
	opts []store.FSOption
}

// Local stores the index in a directory on the local file system.
func Local(path string, opts ...store.FSOption) Backend {
	return &localBackend{path: path, opts: opts}
}

func (b *localBackend) open(_ context.Context, logger *Logger) (store.Directory, bool, error) {
	opts := append([]store.FSOption{store.WithLogger(logger.Logger)}, b.opts...)
	dir, err := store.OpenFSDirectory(b.path, opts...)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", b.path, err)
	}
	return dir, true, nil
}

func (b *localBackend) String() string { return b.path }

type memoryBackend struct {
	dir *store.RAMDirectory
}

// Memory keeps the index in memory. Every Open of the same backend sees the
// same files, so an index survives Close until the backend is dropped.
func Memory() Backend {
	return &memoryBackend{dir: store.NewRAMDirectory()}
}

func (b *memoryBackend) open(context.Context, *Logger) (store.Directory, bool, error) {
	return b.dir, false, nil
}

func (b *memoryBackend) String() string { return "memory" }

// RemoteOption configures a remote backend.
type RemoteOption func(*remoteBackend)

// WithBlockCache caches reads of the remote store in blocks of blockSize
// bytes, up to capacity bytes in total. A blockSize of zero uses
// blobstore.DefaultCacheBlockSize.
func WithBlockCache(capacity, blockSize int64) RemoteOption {
	return func(b *remoteBackend) {
		b.cacheBytes = capacity
		b.blockSize = blockSize
	}
}

type remoteBackend struct {
	store      blobstore.BlobStore
	cacheBytes int64
	blockSize  int64
}

// Remote stores the index in a blob store such as S3 or MinIO.
//
//	bs, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("index/"))
//	ix, _ := segdex.Open(ctx, segdex.Remote(bs, segdex.WithBlockCache(256<<20, 0)))
func Remote(bs blobstore.BlobStore, opts ...RemoteOption) Backend {
	b := &remoteBackend{store: bs}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *remoteBackend) open(_ context.Context, logger *Logger) (store.Directory, bool, error) {
	bs := b.store
	if b.cacheBytes > 0 {
		bs = blobstore.NewCachingStore(bs, cache.NewLRU(b.cacheBytes, nil), b.blockSize)
	}
	return store.NewBlobDirectory(bs, store.WithBlobLogger(logger.Logger)), true, nil
}

func (b *remoteBackend) String() string { return "remote" }

// Index is an open index writer together with a near-real-time reader.
// It is safe for concurrent use.
type Index struct {
	writer  *index.IndexWriter
	dir     store.Directory
	ownsDir bool
	logger  *Logger

	mu     sync.Mutex
	reader *index.DirectoryReader
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// Open opens the index stored in backend for writing, creating it when it
// does not exist yet.
func Open(ctx context.Context, backend Backend, optFns ...Option) (*Index, error) {
	o := options{}
	for _, fn := range optFns {
		fn(&o)
	}

	var idxOpts []index.Option
	interval := o.commitInterval
	if o.config != nil {
		cfgOpts, err := o.config.IndexOptions()
		if err != nil {
			return nil, err
		}
		idxOpts = append(idxOpts, cfgOpts...)
		if o.logger == nil {
			o.logger = o.config.NewLogger()
		}
		if interval == 0 {
			interval = o.config.CommitInterval
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if interval < 0 {
		return nil, invalidConfigf("negative commit interval")
	}
	logger := o.logger.WithIndex(backend.String())

	observers := append(multiObserver{logObserver{l: logger}}, o.observers...)
	idxOpts = append(idxOpts,
		index.WithLogger(logger.Logger),
		index.WithMetricsObserver(observers),
	)
	idxOpts = append(idxOpts, o.indexOptions...)

	dir, owned, err := backend.open(ctx, logger)
	if err != nil {
		return nil, err
	}
	w, err := index.OpenWriter(ctx, dir, idxOpts...)
	if err != nil {
		if owned {
			_ = dir.Close()
		}
		return nil, translateError(err)
	}

	ix := &Index{
		writer:  w,
		dir:     dir,
		ownsDir: owned,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	if interval > 0 {
		ix.wg.Add(1)
		GoSafe(logger, func() { ix.commitLoop(interval) })
	}
	logger.Info("index opened", "segments", w.SegmentCount(), "docs", w.NumDocs())
	return ix, nil
}

func (ix *Index) commitLoop(interval time.Duration) {
	defer ix.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ix.stop:
			return
		case <-t.C:
			if !ix.writer.HasUncommittedChanges() {
				continue
			}
			if err := ix.Commit(context.Background(), nil); err != nil && !errors.Is(err, ErrClosed) {
				ix.logger.Warn("background commit failed", "error", err)
			}
		}
	}
}

// Writer returns the underlying writer.
func (ix *Index) Writer() *index.IndexWriter { return ix.writer }

// Directory returns the directory the index lives in.
func (ix *Index) Directory() store.Directory { return ix.dir }

// Add indexes one document.
func (ix *Index) Add(ctx context.Context, doc *document.Document) error {
	return translateError(ix.writer.AddDocument(ctx, doc))
}

// AddBlock indexes docs as a block with adjacent doc ids.
func (ix *Index) AddBlock(ctx context.Context, docs []*document.Document) error {
	return translateError(ix.writer.AddDocuments(ctx, docs))
}

// Update atomically deletes every document containing t and adds doc.
func (ix *Index) Update(ctx context.Context, t Term, doc *document.Document) error {
	return translateError(ix.writer.UpdateDocument(ctx, t, doc))
}

// Delete deletes every document containing any of terms.
func (ix *Index) Delete(ctx context.Context, terms ...Term) error {
	return translateError(ix.writer.DeleteDocuments(ctx, terms...))
}

// Commit makes all changes durable and visible to newly opened readers.
func (ix *Index) Commit(ctx context.Context, userData map[string]string) error {
	start := time.Now()
	err := ix.writer.Commit(ctx, userData)
	var gen int64
	if c := ix.writer.LastCommit(); c != nil {
		gen = c.Generation
	}
	ix.logger.LogCommit(ctx, gen, time.Since(start), err)
	return translateError(err)
}

// ForceMerge merges down to at most maxSegments segments.
func (ix *Index) ForceMerge(ctx context.Context, maxSegments int) error {
	return translateError(ix.writer.ForceMerge(ctx, maxSegments))
}

// Reader returns a near-real-time reader that sees every change made so
// far, committed or not. The reader is refreshed only when the index
// changed. Callers must Close it.
func (ix *Index) Reader(ctx context.Context) (*index.DirectoryReader, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil, ErrClosed
	}
	if ix.reader == nil {
		r, err := index.OpenReaderFromWriter(ctx, ix.writer)
		if err != nil {
			return nil, translateError(err)
		}
		ix.reader = r
	} else {
		r, err := ix.reader.OpenIfChanged(ctx)
		if err != nil {
			return nil, translateError(err)
		}
		if r != nil {
			// Readers handed out earlier hold their own reference.
			_ = ix.reader.DecRef()
			ix.reader = r
		}
	}
	if err := ix.reader.IncRef(); err != nil {
		return nil, err
	}
	return ix.reader, nil
}

// Stats returns a snapshot of the writer state.
func (ix *Index) Stats() index.WriterStats { return ix.writer.Stats() }

// Check verifies the last commit of the index.
func (ix *Index) Check(ctx context.Context) (*index.CheckIndexStatus, error) {
	return index.CheckIndex(ctx, ix.dir, ix.logger.Logger)
}

// Close stops the commit loop and closes the writer, committing pending
// changes unless the writer was configured otherwise.
func (ix *Index) Close(ctx context.Context) error {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return ErrClosed
	}
	ix.closed = true
	r := ix.reader
	ix.reader = nil
	ix.mu.Unlock()

	close(ix.stop)
	ix.wg.Wait()

	var errs []error
	if r != nil {
		errs = append(errs, r.DecRef())
	}
	errs = append(errs, ix.writer.Close(ctx))
	if ix.ownsDir {
		errs = append(errs, ix.dir.Close())
	}
	err := translateError(errors.Join(errs...))
	ix.logger.Info("index closed", "error", err)
	return err
}

// Reader is a read-only view of the last commit of an index.
type Reader struct {
	*index.DirectoryReader
	dir     store.Directory
	ownsDir bool
}

// OpenReader opens the last commit of the index in backend for reading.
func OpenReader(ctx context.Context, backend Backend, optFns ...Option) (*Reader, error) {
	o := options{}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	dir, owned, err := backend.open(ctx, o.logger)
	if err != nil {
		return nil, err
	}
	r, err := index.OpenReader(ctx, dir)
	if err != nil {
		if owned {
			_ = dir.Close()
		}
		return nil, translateError(err)
	}
	return &Reader{DirectoryReader: r, dir: dir, ownsDir: owned}, nil
}

// Refresh switches to the newest commit if there is one.
func (r *Reader) Refresh(ctx context.Context) (bool, error) {
	nr, err := r.DirectoryReader.OpenIfChanged(ctx)
	if err != nil || nr == nil {
		return false, translateError(err)
	}
	old := r.DirectoryReader
	r.DirectoryReader = nr
	return true, old.Close()
}

// Close releases the reader and its directory.
func (r *Reader) Close() error {
	err := r.DirectoryReader.Close()
	if r.ownsDir {
		err = errors.Join(err, r.dir.Close())
	}
	return err
}
