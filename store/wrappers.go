package store

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/segdex/internal/resource"
)

// LockBreaker is implemented by directories whose locks can outlive a
// crashed owner.
type LockBreaker interface {
	BreakLock(ctx context.Context, name string) error
}

// TrackingDirectory records the names of files created through it. Segment
// writers use it to learn the file set of a new segment.
type TrackingDirectory struct {
	Directory

	mu    sync.Mutex
	names map[string]struct{}
}

// NewTrackingDirectory wraps dir.
func NewTrackingDirectory(dir Directory) *TrackingDirectory {
	return &TrackingDirectory{Directory: dir, names: make(map[string]struct{})}
}

func (d *TrackingDirectory) CreateOutput(ctx context.Context, name string) (*Output, error) {
	out, err := d.Directory.CreateOutput(ctx, name)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.names[name] = struct{}{}
	d.mu.Unlock()
	return out, nil
}

func (d *TrackingDirectory) Rename(ctx context.Context, src, dst string) error {
	if err := d.Directory.Rename(ctx, src, dst); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.names, src)
	d.names[dst] = struct{}{}
	d.mu.Unlock()
	return nil
}

func (d *TrackingDirectory) DeleteFile(ctx context.Context, name string) error {
	if err := d.Directory.DeleteFile(ctx, name); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.names, name)
	d.mu.Unlock()
	return nil
}

// CreatedFiles returns the sorted names created through this wrapper.
func (d *TrackingDirectory) CreatedFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.names))
	for n := range d.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RateLimitedDirectory throttles output writes through a resource
// controller. Merges write through it so they do not starve flushes of IO.
type RateLimitedDirectory struct {
	Directory
	ctx context.Context
	rc  *resource.Controller
}

// NewRateLimitedDirectory wraps dir. Writes block on rc's IO limiter and
// fail once ctx is done.
func NewRateLimitedDirectory(ctx context.Context, dir Directory, rc *resource.Controller) *RateLimitedDirectory {
	return &RateLimitedDirectory{Directory: dir, ctx: ctx, rc: rc}
}

func (d *RateLimitedDirectory) CreateOutput(ctx context.Context, name string) (*Output, error) {
	out, err := d.Directory.CreateOutput(ctx, name)
	if err != nil {
		return nil, err
	}
	if d.rc != nil {
		out.throttle(d.ctx, d.rc)
	}
	return out, nil
}
