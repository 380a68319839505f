package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/store"
)

// SegmentEntry records one segment of a commit.
type SegmentEntry struct {
	Name  string
	ID    codec.ID
	Codec string
	// DelGen is the generation of the live docs file, or -1 when the
	// segment never had deletions.
	DelGen   int64
	DelCount int
}

// Commit is the content of one segments_N file.
type Commit struct {
	Generation int64
	ID         codec.ID
	// Version increases with every change to the segment set.
	Version int64
	// Counter is the next segment name counter.
	Counter  int64
	Segments []SegmentEntry
	UserData map[string]string
}

// FileName returns the committed file name.
func (c *Commit) FileName() string { return codec.SegmentsFileName(c.Generation) }

// Clone returns a deep copy.
func (c *Commit) Clone() *Commit {
	cp := *c
	cp.Segments = slices.Clone(c.Segments)
	cp.UserData = maps.Clone(c.UserData)
	return &cp
}

// Store reads and publishes commits in a directory.
type Store struct {
	dir    store.Directory
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a commit store. logger may be nil.
func NewStore(dir store.Directory, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Prepare writes and syncs pending_segments_N. The commit is not visible
// until Finish.
func (s *Store) Prepare(ctx context.Context, c *Commit) error {
	if c.Generation <= 0 {
		return fmt.Errorf("manifest: invalid generation %d", c.Generation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := codec.PendingSegmentsFileName(c.Generation)
	out, err := s.dir.CreateOutput(ctx, name)
	if err != nil {
		return err
	}
	if err := c.write(out); err != nil {
		out.Abort()
		_ = s.dir.DeleteFile(ctx, name)
		return err
	}
	if err := out.Close(); err != nil {
		_ = s.dir.DeleteFile(ctx, name)
		return err
	}
	if err := s.dir.Sync(ctx, []string{name}); err != nil {
		_ = s.dir.DeleteFile(ctx, name)
		return err
	}
	return nil
}

// Finish publishes a prepared commit by renaming it to segments_N. Once
// the rename succeeds the commit is visible; a later sync failure is
// reported as ErrUnsynced.
func (s *Store) Finish(ctx context.Context, c *Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := codec.PendingSegmentsFileName(c.Generation)
	if err := s.dir.Rename(ctx, pending, c.FileName()); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("%w: %s: %w", ErrConflict, c.FileName(), err)
		}
		return err
	}
	if err := s.dir.SyncMetaData(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsynced, c.FileName(), err)
	}
	return nil
}

// Rollback deletes the pending file of a prepared commit.
func (s *Store) Rollback(ctx context.Context, c *Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.dir.DeleteFile(ctx, codec.PendingSegmentsFileName(c.Generation))
	if err != nil && !errors.Is(err, store.ErrFileNotFound) {
		return err
	}
	return nil
}

// Save prepares and finishes a commit.
func (s *Store) Save(ctx context.Context, c *Commit) error {
	if err := s.Prepare(ctx, c); err != nil {
		return err
	}
	if err := s.Finish(ctx, c); err != nil {
		if !errors.Is(err, ErrUnsynced) {
			_ = s.Rollback(ctx, c)
		}
		return err
	}
	return nil
}

// Read loads the commit of a generation.
func (s *Store) Read(ctx context.Context, gen int64) (*Commit, error) {
	name := codec.SegmentsFileName(gen)
	data, err := store.ReadFile(ctx, s.dir, name)
	if err != nil {
		return nil, err
	}
	return decode(name, data)
}

// ReadLatest loads the newest readable commit. Newer commit files that are
// truncated or corrupt are skipped. ErrNotFound is returned when no commit
// can be read.
func (s *Store) ReadLatest(ctx context.Context) (*Commit, error) {
	files, err := s.dir.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	gens := Generations(files)
	var lastErr error
	for i := len(gens) - 1; i >= 0; i-- {
		c, err := s.Read(ctx, gens[i])
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if s.logger != nil {
			s.logger.Warn("skipping unreadable commit", "file", codec.SegmentsFileName(gens[i]), "error", err)
		}
		if lastErr == nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, lastErr)
	}
	return nil, ErrNotFound
}

// ListCommits returns the readable commits, oldest first.
func (s *Store) ListCommits(ctx context.Context) ([]*Commit, error) {
	files, err := s.dir.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var commits []*Commit
	for _, gen := range Generations(files) {
		c, err := s.Read(ctx, gen)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping unreadable commit", "file", codec.SegmentsFileName(gen), "error", err)
			}
			continue
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// Generations returns the generations of the committed segments files among
// files, in increasing order.
func Generations(files []string) []int64 {
	var gens []int64
	for _, f := range files {
		if !codec.IsSegmentsFile(f) {
			continue
		}
		if gen, err := codec.GenerationFromSegmentsFileName(f); err == nil {
			gens = append(gens, gen)
		}
	}
	slices.Sort(gens)
	return gens
}

// MaxGeneration returns the largest generation of any committed or pending
// segments file, or 0. New commits must use a larger generation.
func MaxGeneration(files []string) int64 {
	var maxGen int64
	for _, f := range files {
		if gen, err := codec.GenerationFromSegmentsFileName(f); err == nil {
			maxGen = max(maxGen, gen)
		}
	}
	return maxGen
}
