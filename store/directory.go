package store

import (
	"context"
	"io"
	"sort"
	"sync"
)

// Directory is a flat namespace of write-once files.
//
// Files are created with CreateOutput and become visible once the output is
// closed. Files are never modified after close; they are only renamed or
// deleted. Implementations must be safe for concurrent use.
type Directory interface {
	// ListAll returns the sorted names of all files.
	ListAll(ctx context.Context) ([]string, error)
	// FileLength returns the length of a file in bytes.
	FileLength(ctx context.Context, name string) (int64, error)
	// CreateOutput creates a new file. It fails with ErrAlreadyExists if the
	// name is taken.
	CreateOutput(ctx context.Context, name string) (*Output, error)
	// OpenInput opens a file for reading.
	OpenInput(ctx context.Context, name string) (*Input, error)
	// DeleteFile deletes a file. Deletion of a file that is still open for
	// reading is deferred until its last input is closed.
	DeleteFile(ctx context.Context, name string) error
	// Rename atomically renames src to dst. It fails with ErrAlreadyExists if
	// dst exists.
	Rename(ctx context.Context, src, dst string) error
	// Sync makes the named files durable.
	Sync(ctx context.Context, names []string) error
	// SyncMetaData makes creates, renames and deletes durable.
	SyncMetaData(ctx context.Context) error
	// ObtainLock acquires an exclusive lock named name.
	ObtainLock(ctx context.Context, name string) (Lock, error)
	// PendingDeletions returns the files whose deletion is deferred.
	PendingDeletions() []string
	io.Closer
}

// Lock is an exclusive directory lock.
type Lock interface {
	// EnsureValid returns an error if the lock was lost.
	EnsureValid() error
	io.Closer
}

// FileExists reports whether name exists in dir.
func FileExists(ctx context.Context, dir Directory, name string) (bool, error) {
	names, err := dir.ListAll(ctx)
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(names, name)
	return i < len(names) && names[i] == name, nil
}

// ReadFile reads a whole file.
func ReadFile(ctx context.Context, dir Directory, name string) ([]byte, error) {
	in, err := dir.OpenInput(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = in.Close() }()

	buf := make([]byte, in.Length())
	if err := in.ReadBytes(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Copy copies src from one directory into dst of another.
func Copy(ctx context.Context, from Directory, src string, to Directory, dst string) (err error) {
	in, err := from.OpenInput(ctx, src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := to.CreateOutput(ctx, dst)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Abort()
			_ = to.DeleteFile(ctx, dst)
		}
	}()

	buf := make([]byte, 64<<10)
	for remaining := in.Length(); remaining > 0; {
		n := min(int64(len(buf)), remaining)
		if err := in.ReadBytes(buf[:n]); err != nil {
			return err
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return out.Close()
}

// openFiles counts open inputs per file and defers deletes of open files.
type openFiles struct {
	mu      sync.Mutex
	open    map[string]int
	pending map[string]struct{}
}

func newOpenFiles() *openFiles {
	return &openFiles{open: make(map[string]int), pending: make(map[string]struct{})}
}

func (t *openFiles) acquire(name string) {
	t.mu.Lock()
	t.open[name]++
	t.mu.Unlock()
}

// release returns true if name was pending deletion and is now unreferenced.
func (t *openFiles) release(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[name]--
	if t.open[name] > 0 {
		return false
	}
	delete(t.open, name)
	if _, ok := t.pending[name]; ok {
		delete(t.pending, name)
		return true
	}
	return false
}

// deferDelete returns true if name is open; it is then marked pending.
func (t *openFiles) deferDelete(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open[name] > 0 {
		t.pending[name] = struct{}{}
		return true
	}
	return false
}

func (t *openFiles) isPending(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[name]
	return ok
}

// unpend clears a pending delete, used when a name is recreated.
func (t *openFiles) unpend(name string) {
	t.mu.Lock()
	delete(t.pending, name)
	t.mu.Unlock()
}

func (t *openFiles) pendingNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.pending))
	for n := range t.pending {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
