//go:build unix

package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// heldLocks guards against one process locking a path twice. flock locks
// belong to the open file description, so this is belt and braces for
// platforms where flock is emulated with fcntl.
var (
	heldMu    sync.Mutex
	heldLocks = map[string]struct{}{}
)

type nativeLock struct {
	path   string
	f      *os.File
	ino    os.FileInfo
	mu     sync.Mutex
	closed bool
}

func obtainFileLock(path string) (Lock, error) {
	heldMu.Lock()
	defer heldMu.Unlock()
	if _, ok := heldLocks[path]; ok {
		return nil, fmt.Errorf("%w: %s held by this process", ErrLockObtainFailed, path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLockObtainFailed, path)
		}
		return nil, err
	}

	// Record the owner for operators; the lock itself is the flock.
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "pid=%d owner=%s at=%s\n", os.Getpid(), uuid.NewString(), time.Now().UTC().Format(time.RFC3339))

	fi, err := f.Stat()
	if err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return nil, err
	}
	heldLocks[path] = struct{}{}
	return &nativeLock{path: path, f: f, ino: fi}, nil
}

func (l *nativeLock) EnsureValid() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%w: lock %s", ErrClosed, l.path)
	}
	fi, err := os.Stat(l.path)
	if err != nil {
		return fmt.Errorf("lock file %s is gone: %w", l.path, err)
	}
	if !os.SameFile(fi, l.ino) {
		return fmt.Errorf("lock file %s was replaced externally", l.path)
	}
	return nil
}

func (l *nativeLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	heldMu.Lock()
	delete(heldLocks, l.path)
	heldMu.Unlock()

	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}

// breakFileLock is a no-op: the OS releases flock locks of dead processes.
func breakFileLock(string) error { return nil }
