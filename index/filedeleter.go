package index

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/internal/manifest"
	"github.com/hupe1980/segdex/store"
)

// fileDeleter reference counts index files. A file is referenced once per
// commit that contains it and once by the writer's current segment set. It
// is deleted when its count drops to zero; directories defer the physical
// delete while readers still have it open.
//
// fileDeleter is not safe for concurrent use; the writer calls it under its
// lock.
type fileDeleter struct {
	dir    store.Directory
	policy DeletionPolicy
	logger *slog.Logger

	refCounts map[string]int
	commits   []*IndexCommit
	lastFiles []string

	// failed holds deletions to retry at the next checkpoint.
	failed map[string]struct{}
}

// isIndexFile reports whether name is managed by the deleter.
func isIndexFile(name string) bool {
	return strings.HasPrefix(name, "_") ||
		strings.HasPrefix(name, codec.SegmentsPrefix+"_") ||
		strings.HasPrefix(name, codec.PendingSegmentsPrefix+"_")
}

// newFileDeleter loads every readable commit, lets the policy prune them
// and deletes files that neither a commit nor current references.
func newFileDeleter(ctx context.Context, dir store.Directory, policy DeletionPolicy, current *SegmentInfos, logger *slog.Logger) (*fileDeleter, error) {
	d := &fileDeleter{
		dir:       dir,
		policy:    policy,
		logger:    logger,
		refCounts: make(map[string]int),
		failed:    make(map[string]struct{}),
	}

	files, err := dir.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	ms := manifest.NewStore(dir, logger)
	for _, gen := range manifest.Generations(files) {
		c, err := ms.Read(ctx, gen)
		if err == nil {
			var infos *SegmentInfos
			if infos, err = readSegmentInfos(ctx, dir, c); err == nil {
				commit := newIndexCommit(infos)
				d.incRef(commit.files)
				d.commits = append(d.commits, commit)
				continue
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Leftover of an interrupted commit; it is deleted below as an
		// unreferenced file.
		if logger != nil {
			logger.Warn("ignoring unreadable commit", "file", codec.SegmentsFileName(gen), "error", err)
		}
	}

	d.lastFiles = current.Files(false)
	d.incRef(d.lastFiles)

	if err := policy.OnInit(d.commits); err != nil {
		return nil, err
	}
	d.deleteCommits(ctx)
	if err := d.refresh(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *fileDeleter) incRef(files []string) {
	for _, f := range files {
		d.refCounts[f]++
	}
}

func (d *fileDeleter) decRef(ctx context.Context, files []string) {
	for _, f := range files {
		n, ok := d.refCounts[f]
		if !ok || n <= 0 {
			if d.logger != nil {
				d.logger.Error("file reference count underflow", "file", f)
			}
			continue
		}
		if n == 1 {
			delete(d.refCounts, f)
			d.deleteFile(ctx, f)
			continue
		}
		d.refCounts[f] = n - 1
	}
}

func (d *fileDeleter) exists(name string) bool { return d.refCounts[name] > 0 }

func (d *fileDeleter) deleteFile(ctx context.Context, name string) {
	err := d.dir.DeleteFile(ctx, name)
	switch {
	case err == nil, errors.Is(err, store.ErrFileNotFound):
		delete(d.failed, name)
	default:
		d.failed[name] = struct{}{}
		if d.logger != nil {
			d.logger.Warn("deferring failed file deletion", "file", name, "error", err)
		}
	}
}

func (d *fileDeleter) retryFailed(ctx context.Context) {
	for name := range d.failed {
		if !d.exists(name) {
			d.deleteFile(ctx, name)
		}
	}
}

// checkpoint records infos as the current segment set. For a commit the
// set is also kept as a commit point and the policy may drop older ones.
func (d *fileDeleter) checkpoint(ctx context.Context, infos *SegmentInfos, isCommit bool) error {
	d.retryFailed(ctx)
	if isCommit {
		commit := newIndexCommit(infos.clone())
		d.incRef(commit.files)
		d.commits = append(d.commits, commit)
		if err := d.policy.OnCommit(d.commits); err != nil {
			return err
		}
		d.deleteCommits(ctx)
		return nil
	}
	files := infos.Files(false)
	d.incRef(files)
	d.decRef(ctx, d.lastFiles)
	d.lastFiles = files
	return nil
}

func (d *fileDeleter) deleteCommits(ctx context.Context) {
	kept := d.commits[:0]
	for _, c := range d.commits {
		if !c.deleted {
			kept = append(kept, c)
			continue
		}
		if d.logger != nil {
			d.logger.Debug("deleting commit", "generation", c.Generation)
		}
		d.decRef(ctx, c.files)
	}
	clear(d.commits[len(kept):])
	d.commits = kept
}

// deleteNewFiles deletes files that were never referenced, e.g. the live
// docs files of an abandoned commit.
func (d *fileDeleter) deleteNewFiles(ctx context.Context, files []string) {
	for _, f := range files {
		if !d.exists(f) {
			d.deleteFile(ctx, f)
		}
	}
}

// refresh deletes every unreferenced index file. It must only run while no
// flush or merge is writing files.
func (d *fileDeleter) refresh(ctx context.Context) error {
	files, err := d.dir.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f == WriteLockName || !isIndexFile(f) || d.exists(f) {
			continue
		}
		if d.logger != nil {
			d.logger.Debug("deleting unreferenced file", "file", f)
		}
		d.deleteFile(ctx, f)
	}
	return nil
}

// lastCommit returns the newest commit point, or nil.
func (d *fileDeleter) lastCommit() *IndexCommit {
	if len(d.commits) == 0 {
		return nil
	}
	return d.commits[len(d.commits)-1]
}

// close drops the writer's reference on its current segment set.
func (d *fileDeleter) close(ctx context.Context) {
	d.decRef(ctx, d.lastFiles)
	d.lastFiles = nil
	d.retryFailed(ctx)
}
