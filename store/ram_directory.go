package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// RAMDirectory keeps all files in memory. It is intended for tests and
// short-lived indexes.
type RAMDirectory struct {
	mu      sync.RWMutex
	data    map[string][]byte
	writing map[string]struct{}
	locks   map[string]struct{}
	files   *openFiles
	closed  atomic.Bool
}

var _ Directory = (*RAMDirectory)(nil)

// NewRAMDirectory creates an empty in-memory directory.
func NewRAMDirectory() *RAMDirectory {
	return &RAMDirectory{
		data:    make(map[string][]byte),
		writing: make(map[string]struct{}),
		locks:   make(map[string]struct{}),
		files:   newOpenFiles(),
	}
}

func (d *RAMDirectory) ensureOpen() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (d *RAMDirectory) ListAll(_ context.Context) ([]string, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.data))
	for name := range d.data {
		if !d.files.isPending(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *RAMDirectory) FileLength(_ context.Context, name string) (int64, error) {
	if err := d.ensureOpen(); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.data[name]
	if !ok || d.files.isPending(name) {
		return 0, &PathError{Name: name, Err: ErrFileNotFound}
	}
	return int64(len(b)), nil
}

func (d *RAMDirectory) CreateOutput(_ context.Context, name string) (*Output, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.data[name]; ok {
		return nil, &PathError{Name: name, Err: ErrAlreadyExists}
	}
	if _, ok := d.writing[name]; ok {
		return nil, &PathError{Name: name, Err: ErrAlreadyExists}
	}
	d.writing[name] = struct{}{}

	w := &ramFile{}
	out := newOutput(name, w)
	out.onClose = func(int64) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.writing, name)
		d.data[name] = w.buf.Bytes()
		return nil
	}
	out.onAbort = func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.writing, name)
		// Keep what reached the file, as a crashed write on disk would.
		d.data[name] = w.buf.Bytes()
	}
	return out, nil
}

type ramFile struct{ buf bytes.Buffer }

func (f *ramFile) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *ramFile) Close() error                { return nil }

func (d *RAMDirectory) OpenInput(_ context.Context, name string) (*Input, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	b, ok := d.data[name]
	d.mu.RUnlock()
	if !ok || d.files.isPending(name) {
		return nil, &PathError{Name: name, Err: ErrFileNotFound}
	}
	d.files.acquire(name)
	return newMappedInput(name, b, func() error {
		if d.files.release(name) {
			d.mu.Lock()
			delete(d.data, name)
			d.mu.Unlock()
		}
		return nil
	}), nil
}

func (d *RAMDirectory) DeleteFile(_ context.Context, name string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.data[name]; !ok || d.files.isPending(name) {
		return &PathError{Name: name, Err: ErrFileNotFound}
	}
	if d.files.deferDelete(name) {
		return nil
	}
	delete(d.data, name)
	return nil
}

func (d *RAMDirectory) Rename(_ context.Context, src, dst string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.data[src]
	if !ok {
		return &PathError{Name: src, Err: ErrFileNotFound}
	}
	if _, ok := d.data[dst]; ok {
		return &PathError{Name: dst, Err: ErrAlreadyExists}
	}
	d.data[dst] = b
	delete(d.data, src)
	return nil
}

// Sync is a no-op.
func (d *RAMDirectory) Sync(context.Context, []string) error { return d.ensureOpen() }

// SyncMetaData is a no-op.
func (d *RAMDirectory) SyncMetaData(context.Context) error { return d.ensureOpen() }

func (d *RAMDirectory) ObtainLock(_ context.Context, name string) (Lock, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.locks[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLockObtainFailed, name)
	}
	d.locks[name] = struct{}{}
	return &ramLock{dir: d, name: name}, nil
}

type ramLock struct {
	dir    *RAMDirectory
	name   string
	closed atomic.Bool
}

func (l *ramLock) EnsureValid() error {
	if l.closed.Load() {
		return fmt.Errorf("%w: lock %s", ErrClosed, l.name)
	}
	return nil
}

func (l *ramLock) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.dir.mu.Lock()
	delete(l.dir.locks, l.name)
	l.dir.mu.Unlock()
	return nil
}

func (d *RAMDirectory) PendingDeletions() []string { return d.files.pendingNames() }

// Corrupt flips one bit of a file in place. Tests use it to simulate
// on-disk corruption.
func (d *RAMDirectory) Corrupt(name string, offset int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.data[name]
	if !ok {
		return &PathError{Name: name, Err: ErrFileNotFound}
	}
	if offset < 0 || offset >= int64(len(b)) {
		return fmt.Errorf("store: corrupt offset %d out of range for %s", offset, name)
	}
	c := bytes.Clone(b)
	c[offset] ^= 0x01
	d.data[name] = c
	return nil
}

func (d *RAMDirectory) Close() error {
	d.closed.Store(true)
	return nil
}
