package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/hupe1980/segdex/internal/fs"
	"github.com/hupe1980/segdex/internal/mmap"
)

// FSDirectory stores files in a local directory.
type FSDirectory struct {
	path   string
	fsys   fs.FileSystem
	mmap   bool
	logger *slog.Logger
	files  *openFiles
	closed atomic.Bool
}

var _ Directory = (*FSDirectory)(nil)

// FSOption configures an FSDirectory.
type FSOption func(*FSDirectory)

// WithFileSystem sets the file system, e.g. an fs.FaultyFS in tests.
func WithFileSystem(fsys fs.FileSystem) FSOption {
	return func(d *FSDirectory) { d.fsys = fsys }
}

// WithMMap memory-maps inputs instead of reading through file handles.
func WithMMap(enabled bool) FSOption {
	return func(d *FSDirectory) { d.mmap = enabled }
}

// WithLogger sets the logger for deferred-delete failures.
func WithLogger(l *slog.Logger) FSOption {
	return func(d *FSDirectory) { d.logger = l }
}

// OpenFSDirectory opens (creating if needed) the directory at path.
func OpenFSDirectory(path string, opts ...FSOption) (*FSDirectory, error) {
	d := &FSDirectory{
		path:  path,
		fsys:  fs.Default,
		files: newOpenFiles(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.fsys.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the directory path.
func (d *FSDirectory) Path() string { return d.path }

func (d *FSDirectory) file(name string) string { return filepath.Join(d.path, name) }

func (d *FSDirectory) ensureOpen() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (d *FSDirectory) ListAll(_ context.Context) ([]string, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	entries, err := d.fsys.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || d.files.isPending(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (d *FSDirectory) FileLength(_ context.Context, name string) (int64, error) {
	if err := d.ensureOpen(); err != nil {
		return 0, err
	}
	if d.files.isPending(name) {
		return 0, &PathError{Name: name, Err: ErrFileNotFound}
	}
	fi, err := d.fsys.Stat(d.file(name))
	if err != nil {
		return 0, translate(name, err)
	}
	return fi.Size(), nil
}

func (d *FSDirectory) CreateOutput(_ context.Context, name string) (*Output, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	f, err := d.fsys.OpenFile(d.file(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, translate(name, err)
	}
	return newOutput(name, f), nil
}

func (d *FSDirectory) OpenInput(_ context.Context, name string) (*Input, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	if d.files.isPending(name) {
		return nil, &PathError{Name: name, Err: ErrFileNotFound}
	}
	f, err := d.fsys.OpenFile(d.file(name), os.O_RDONLY, 0)
	if err != nil {
		return nil, translate(name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	d.files.acquire(name)
	release := func() {
		if d.files.release(name) {
			d.remove(name)
		}
	}

	if d.mmap {
		m, err := mmap.Map(f.Fd(), fi.Size(), readAdvice(name))
		_ = f.Close()
		if err != nil {
			release()
			return nil, err
		}
		return newMappedInput(name, m.Bytes(), func() error {
			err := m.Close()
			release()
			return err
		}), nil
	}

	return NewInput(name, &releasingFile{File: f, release: release}, fi.Size()), nil
}

// readAdvice picks the madvise hint for a mapped file. Commit points and
// per-segment metadata are decoded front to back; everything else is
// reached through seeks.
func readAdvice(name string) mmap.Advice {
	if strings.HasPrefix(name, "segments") {
		return mmap.AdviceSequential
	}
	switch filepath.Ext(name) {
	case ".si", ".fnm", ".liv":
		return mmap.AdviceSequential
	}
	return mmap.AdviceRandom
}

type releasingFile struct {
	fs.File
	release func()
}

func (f *releasingFile) Close() error {
	err := f.File.Close()
	f.release()
	return err
}

func (d *FSDirectory) DeleteFile(_ context.Context, name string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if d.files.isPending(name) {
		return &PathError{Name: name, Err: ErrFileNotFound}
	}
	if d.files.deferDelete(name) {
		return nil
	}
	return translate(name, d.fsys.Remove(d.file(name)))
}

func (d *FSDirectory) remove(name string) {
	if err := d.fsys.Remove(d.file(name)); err != nil && !errors.Is(err, os.ErrNotExist) && d.logger != nil {
		d.logger.Warn("deferred delete failed", "file", name, "error", err)
	}
}

func (d *FSDirectory) Rename(_ context.Context, src, dst string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if _, err := d.fsys.Stat(d.file(dst)); err == nil {
		return &PathError{Name: dst, Err: ErrAlreadyExists}
	}
	return translate(src, d.fsys.Rename(d.file(src), d.file(dst)))
}

func (d *FSDirectory) Sync(_ context.Context, names []string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	for _, name := range names {
		if err := d.fsync(name); err != nil {
			return err
		}
	}
	return nil
}

func (d *FSDirectory) fsync(name string) error {
	f, err := d.fsys.OpenFile(d.file(name), os.O_RDONLY, 0)
	if err != nil {
		return translate(name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (d *FSDirectory) SyncMetaData(_ context.Context) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	return fs.SyncDir(d.fsys, d.path)
}

func (d *FSDirectory) ObtainLock(_ context.Context, name string) (Lock, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	return obtainFileLock(d.file(name))
}

// BreakLock removes a lock file left behind by a crashed process. It only
// has an effect on platforms without OS-level file locks, where the file
// itself is the lock.
func (d *FSDirectory) BreakLock(_ context.Context, name string) error {
	return breakFileLock(d.file(name))
}

func (d *FSDirectory) PendingDeletions() []string { return d.files.pendingNames() }

func (d *FSDirectory) Close() error {
	d.closed.Store(true)
	return nil
}
