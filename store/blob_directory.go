package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/segdex/blobstore"
)

// commitPrefix names commit points, which are published with
// create-if-absent semantics when the store supports it.
const commitPrefix = "segments_"

// BlobDirectory stores files as blobs in a blobstore.BlobStore.
//
// Blobs are immutable and become visible when their output is closed, so
// Sync and SyncMetaData are no-ops. Rename copies the source blob; renames
// onto commit points use blobstore.ConditionalPutter when available so that
// two writers cannot publish the same generation.
type BlobDirectory struct {
	store  blobstore.BlobStore
	logger *slog.Logger
	files  *openFiles
	closed atomic.Bool

	mu      sync.Mutex
	writing map[string]struct{}
}

var _ Directory = (*BlobDirectory)(nil)

// BlobOption configures a BlobDirectory.
type BlobOption func(*BlobDirectory)

// WithBlobLogger sets the logger.
func WithBlobLogger(l *slog.Logger) BlobOption {
	return func(d *BlobDirectory) { d.logger = l }
}

// NewBlobDirectory creates a Directory over bs.
func NewBlobDirectory(bs blobstore.BlobStore, opts ...BlobOption) *BlobDirectory {
	d := &BlobDirectory{
		store:   bs,
		files:   newOpenFiles(),
		writing: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store returns the underlying blob store.
func (d *BlobDirectory) Store() blobstore.BlobStore { return d.store }

func (d *BlobDirectory) ensureOpen() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

func blobErr(name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, blobstore.ErrNotFound):
		return &PathError{Name: name, Err: ErrFileNotFound, Cause: err}
	case errors.Is(err, blobstore.ErrAlreadyExists):
		return &PathError{Name: name, Err: ErrAlreadyExists, Cause: err}
	}
	return err
}

func (d *BlobDirectory) ListAll(ctx context.Context) ([]string, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	all, err := d.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	names := all[:0]
	for _, n := range all {
		if strings.Contains(n, "/") || d.files.isPending(n) {
			continue
		}
		names = append(names, n)
	}
	return names, nil
}

func (d *BlobDirectory) FileLength(ctx context.Context, name string) (int64, error) {
	if err := d.ensureOpen(); err != nil {
		return 0, err
	}
	b, err := d.store.Open(ctx, name)
	if err != nil {
		return 0, blobErr(name, err)
	}
	defer func() { _ = b.Close() }()
	return b.Size(), nil
}

func (d *BlobDirectory) CreateOutput(ctx context.Context, name string) (*Output, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	if b, err := d.store.Open(ctx, name); err == nil {
		_ = b.Close()
		return nil, &PathError{Name: name, Err: ErrAlreadyExists}
	}

	d.mu.Lock()
	if _, ok := d.writing[name]; ok {
		d.mu.Unlock()
		return nil, &PathError{Name: name, Err: ErrAlreadyExists}
	}
	d.writing[name] = struct{}{}
	d.mu.Unlock()

	w, err := d.store.Create(ctx, name)
	if err != nil {
		d.doneWriting(name)
		return nil, err
	}
	out := newOutput(name, w)
	out.onClose = func(int64) error {
		d.doneWriting(name)
		return nil
	}
	out.onAbort = func() { d.doneWriting(name) }
	return out, nil
}

func (d *BlobDirectory) doneWriting(name string) {
	d.mu.Lock()
	delete(d.writing, name)
	d.mu.Unlock()
}

func (d *BlobDirectory) OpenInput(ctx context.Context, name string) (*Input, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	if d.files.isPending(name) {
		return nil, &PathError{Name: name, Err: ErrFileNotFound}
	}
	b, err := d.store.Open(ctx, name)
	if err != nil {
		return nil, blobErr(name, err)
	}
	d.files.acquire(name)
	release := func() {
		if d.files.release(name) {
			d.remove(name)
		}
	}

	if m, ok := b.(blobstore.Mappable); ok {
		if data, err := m.Bytes(); err == nil {
			return newMappedInput(name, data, func() error {
				err := b.Close()
				release()
				return err
			}), nil
		}
	}
	return NewInput(name, &blobReaderAt{blob: b, release: release}, b.Size()), nil
}

// blobReaderAt adapts a Blob to io.ReaderAt. Reads of an open input are not
// cancellable; long operations check their context between reads.
type blobReaderAt struct {
	blob    blobstore.Blob
	release func()
}

func (r *blobReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.blob.ReadAt(context.Background(), p, off)
}

func (r *blobReaderAt) Close() error {
	err := r.blob.Close()
	r.release()
	return err
}

func (d *BlobDirectory) DeleteFile(ctx context.Context, name string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if d.files.isPending(name) {
		return &PathError{Name: name, Err: ErrFileNotFound}
	}
	b, err := d.store.Open(ctx, name)
	if err != nil {
		return blobErr(name, err)
	}
	_ = b.Close()
	if d.files.deferDelete(name) {
		return nil
	}
	return d.store.Delete(ctx, name)
}

func (d *BlobDirectory) remove(name string) {
	if err := d.store.Delete(context.Background(), name); err != nil && d.logger != nil {
		d.logger.Warn("deferred delete failed", "file", name, "error", err)
	}
}

// Rename copies src to dst and deletes src. Commit points are published with
// PutIfAbsent when the store supports it.
func (d *BlobDirectory) Rename(ctx context.Context, src, dst string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	data, err := d.readBlob(ctx, src)
	if err != nil {
		return err
	}

	if cp, ok := d.store.(blobstore.ConditionalPutter); ok && strings.HasPrefix(dst, commitPrefix) {
		if err := cp.PutIfAbsent(ctx, dst, data); err != nil {
			return blobErr(dst, err)
		}
	} else {
		if b, err := d.store.Open(ctx, dst); err == nil {
			_ = b.Close()
			return &PathError{Name: dst, Err: ErrAlreadyExists}
		}
		if err := d.store.Put(ctx, dst, data); err != nil {
			return err
		}
	}
	return d.store.Delete(ctx, src)
}

func (d *BlobDirectory) readBlob(ctx context.Context, name string) ([]byte, error) {
	b, err := d.store.Open(ctx, name)
	if err != nil {
		return nil, blobErr(name, err)
	}
	defer func() { _ = b.Close() }()
	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// Sync is a no-op: blobs are durable once their output is closed.
func (d *BlobDirectory) Sync(context.Context, []string) error { return d.ensureOpen() }

// SyncMetaData is a no-op.
func (d *BlobDirectory) SyncMetaData(context.Context) error { return d.ensureOpen() }

// ObtainLock writes a lock blob naming a unique owner. With a
// ConditionalPutter store the lock is exclusive across processes; otherwise
// it only guards against writers that check for the lock blob.
func (d *BlobDirectory) ObtainLock(ctx context.Context, name string) (Lock, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	owner := uuid.NewString()
	content := []byte(fmt.Sprintf("owner=%s at=%s\n", owner, time.Now().UTC().Format(time.RFC3339)))

	if cp, ok := d.store.(blobstore.ConditionalPutter); ok {
		if err := cp.PutIfAbsent(ctx, name, content); err != nil {
			if errors.Is(err, blobstore.ErrAlreadyExists) {
				return nil, fmt.Errorf("%w: %s", ErrLockObtainFailed, name)
			}
			return nil, err
		}
	} else {
		if b, err := d.store.Open(ctx, name); err == nil {
			_ = b.Close()
			return nil, fmt.Errorf("%w: %s", ErrLockObtainFailed, name)
		}
		if err := d.store.Put(ctx, name, content); err != nil {
			return nil, err
		}
	}
	return &blobLock{dir: d, name: name, owner: owner}, nil
}

// BreakLock deletes a lock blob left behind by a crashed writer.
func (d *BlobDirectory) BreakLock(ctx context.Context, name string) error {
	return d.store.Delete(ctx, name)
}

type blobLock struct {
	dir    *BlobDirectory
	name   string
	owner  string
	closed atomic.Bool
}

func (l *blobLock) EnsureValid() error {
	if l.closed.Load() {
		return fmt.Errorf("%w: lock %s", ErrClosed, l.name)
	}
	data, err := l.dir.readBlob(context.Background(), l.name)
	if err != nil {
		return fmt.Errorf("lock %s is gone: %w", l.name, err)
	}
	if !containsOwner(data, l.owner) {
		return fmt.Errorf("lock %s was taken over by another writer", l.name)
	}
	return nil
}

func (l *blobLock) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.dir.store.Delete(context.Background(), l.name)
}

func containsOwner(b []byte, owner string) bool {
	return bytes.Contains(b, []byte("owner="+owner))
}

func (d *BlobDirectory) PendingDeletions() []string { return d.files.pendingNames() }

func (d *BlobDirectory) Close() error {
	d.closed.Store(true)
	return nil
}
