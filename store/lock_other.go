//go:build !unix

package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// simpleLock uses exclusive creation of the lock file. A crashed process
// leaves the file behind; BreakLock removes it.
type simpleLock struct {
	path   string
	owner  string
	mu     sync.Mutex
	closed bool
}

func obtainFileLock(path string) (Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLockObtainFailed, path)
		}
		return nil, err
	}
	owner := uuid.NewString()
	_, _ = fmt.Fprintf(f, "pid=%d owner=%s at=%s\n", os.Getpid(), owner, time.Now().UTC().Format(time.RFC3339))
	if err := f.Close(); err != nil {
		return nil, err
	}
	return &simpleLock{path: path, owner: owner}, nil
}

func (l *simpleLock) EnsureValid() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("%w: lock %s", ErrClosed, l.path)
	}
	b, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("lock file %s is gone: %w", l.path, err)
	}
	if !containsOwner(b, l.owner) {
		return fmt.Errorf("lock file %s was replaced externally", l.path)
	}
	return nil
}

func (l *simpleLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return os.Remove(l.path)
}

func breakFileLock(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
