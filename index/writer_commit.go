package index

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hupe1980/segdex/internal/manifest"
)

// pendingCommit is a commit written by PrepareCommit but not yet visible.
type pendingCommit struct {
	infos       *SegmentInfos
	commit      *manifest.Commit
	files       []string
	changeCount int64
	start       time.Time
}

// Commit flushes buffered documents, writes pending deletions and
// durably publishes a new commit point carrying userData. A nil userData
// keeps the user data of the previous commit. If PrepareCommit was called,
// Commit publishes the prepared commit and ignores userData.
//
// A failed commit leaves the previous commit and the writer intact; it may
// be retried.
func (w *IndexWriter) Commit(ctx context.Context, userData map[string]string) error {
	if err := w.commit(ctx, userData); err != nil {
		return err
	}
	w.maybeMerge(ctx, TriggerExplicit)
	return nil
}

func (w *IndexWriter) commit(ctx context.Context, userData map[string]string) error {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	if w.pending == nil {
		if err := w.prepareCommitLocked(ctx, userData); err != nil {
			return err
		}
	}
	if w.pending == nil {
		return nil
	}
	return w.finishCommit(ctx)
}

// PrepareCommit performs the first phase of a two-phase commit: every
// file of the commit is written and synced, but the commit stays invisible
// until Commit. Rollback discards it. Without changes since the last
// commit and without userData nothing is prepared and Commit is a no-op.
func (w *IndexWriter) PrepareCommit(ctx context.Context, userData map[string]string) error {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	if w.pending != nil {
		return invalidf("prepare commit already called")
	}
	return w.prepareCommitLocked(ctx, userData)
}

func (w *IndexWriter) prepareCommitLocked(ctx context.Context, userData map[string]string) error {
	start := time.Now()
	if err := w.fullFlushLocked(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	if err := w.ensureOpen(); err != nil {
		w.mu.Unlock()
		return err
	}
	if w.changeCount == w.lastCommitChange && userData == nil && w.infos.Generation > 0 {
		w.mu.Unlock()
		return nil
	}
	if err := w.writeLiveDocs(ctx); err != nil {
		w.mu.Unlock()
		w.metrics.OnCommit(time.Since(start), 0, err)
		return err
	}
	toCommit := w.infos.clone()
	if userData != nil {
		toCommit.UserData = maps.Clone(userData)
	}
	files := toCommit.Files(false)
	w.deleter.incRef(files)
	changeCount := w.changeCount
	// A failed attempt may leave its pending file behind, so generations
	// are never reused.
	w.lastGen++
	gen := w.lastGen
	w.mu.Unlock()

	c := toCommit.toCommit(gen)
	err := w.dir.Sync(ctx, files)
	if err == nil {
		err = w.commits.Prepare(ctx, c)
	}
	if err != nil {
		w.mu.Lock()
		w.deleter.decRef(context.WithoutCancel(ctx), files)
		w.mu.Unlock()
		w.metrics.OnCommit(time.Since(start), gen, err)
		w.logger.Warn("prepare commit failed", "generation", gen, "error", err)
		return err
	}
	toCommit.Generation = gen
	w.pending = &pendingCommit{infos: toCommit, commit: c, files: files, changeCount: changeCount, start: start}
	return nil
}

// finishCommit publishes the prepared commit. Called with commitMu held.
func (w *IndexWriter) finishCommit(ctx context.Context) error {
	pc := w.pending
	w.pending = nil
	err := w.commits.Finish(ctx, pc.commit)

	w.mu.Lock()
	defer w.mu.Unlock()
	var syncErr error
	if errors.Is(err, manifest.ErrUnsynced) {
		w.logger.Warn("commit published but directory sync failed", "generation", pc.commit.Generation, "error", err)
		syncErr = fmt.Errorf("%w: %w", ErrCommitNotSynced, err)
		err = nil
	}
	if err != nil {
		if rerr := w.commits.Rollback(context.WithoutCancel(ctx), pc.commit); rerr != nil {
			w.logger.Warn("failed to remove pending commit", "generation", pc.commit.Generation, "error", rerr)
		}
		w.deleter.decRef(context.WithoutCancel(ctx), pc.files)
		w.metrics.OnCommit(time.Since(pc.start), pc.commit.Generation, err)
		return err
	}

	w.infos.Generation = pc.infos.Generation
	w.infos.UserData = maps.Clone(pc.infos.UserData)
	w.rollbackInfos = pc.infos.clone()
	w.lastCommitChange = pc.changeCount
	err = errors.Join(syncErr, w.deleter.checkpoint(context.WithoutCancel(ctx), pc.infos, true))
	w.deleter.decRef(context.WithoutCancel(ctx), pc.files)

	w.metrics.OnCommit(time.Since(pc.start), pc.commit.Generation, err)
	w.logger.Info("committed",
		"generation", pc.commit.Generation,
		"segments", len(pc.infos.Segments),
		"docs", pc.infos.NumDocs(),
		"duration", time.Since(pc.start))
	return err
}

// LastCommit returns the newest commit point the writer knows, or nil.
func (w *IndexWriter) LastCommit() *IndexCommit {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deleter.lastCommit()
}

// Rollback discards every change since the last commit, aborts running
// merges and closes the writer. Files written since are deleted.
func (w *IndexWriter) Rollback(ctx context.Context) error {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	return w.rollbackInternal(ctx)
}

// rollbackInternal does not take commitMu: it also runs when a flush under
// a full flush fails.
func (w *IndexWriter) rollbackInternal(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closing = true
	w.abortMerges()
	w.cond.Broadcast()
	w.mu.Unlock()

	var errs []error
	if err := w.cfg.MergeScheduler.Close(); err != nil && !errors.Is(err, ErrMergeAborted) {
		w.logger.Warn("merge failed during rollback", "error", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.waitForMergesLocked()
	w.builders.discardAll(w.cond)

	if pc := w.pending; pc != nil {
		w.pending = nil
		errs = append(errs, w.commits.Rollback(ctx, pc.commit))
		w.deleter.decRef(ctx, pc.files)
	}
	w.releasePool()
	w.infos = w.rollbackInfos.clone()
	errs = append(errs, w.deleter.checkpoint(ctx, w.infos, false))
	errs = append(errs, w.deleter.refresh(ctx))
	w.deleter.close(ctx)
	errs = append(errs, w.lock.Close())
	w.closed = true
	w.cond.Broadcast()
	w.logger.Info("writer rolled back", "generation", w.infos.Generation)
	return errors.Join(errs...)
}

// Close releases the writer. With CommitOnClose, the default, it flushes,
// waits for running merges and commits first; otherwise it rolls back.
// Closing a closed writer returns ErrClosed.
func (w *IndexWriter) Close(ctx context.Context) error {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	w.mu.Lock()
	if w.closed {
		err := w.tragic
		w.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return err
	}
	w.mu.Unlock()
	if !w.cfg.CommitOnClose {
		return w.rollbackInternal(ctx)
	}

	if err := w.fullFlushLocked(ctx); err != nil {
		return errors.Join(err, w.rollbackInternal(context.WithoutCancel(ctx)))
	}
	w.maybeMerge(ctx, TriggerClosing)
	w.waitForMerges(ctx)

	if w.pending == nil {
		if err := w.prepareCommitLocked(ctx, nil); err != nil {
			return errors.Join(err, w.rollbackInternal(context.WithoutCancel(ctx)))
		}
	}
	if w.pending != nil {
		if err := w.finishCommit(ctx); err != nil {
			return errors.Join(err, w.rollbackInternal(context.WithoutCancel(ctx)))
		}
	}

	w.mu.Lock()
	w.closing = true
	w.abortMerges()
	w.cond.Broadcast()
	w.mu.Unlock()
	serr := w.cfg.MergeScheduler.Close()
	if errors.Is(serr, ErrMergeAborted) {
		serr = nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.waitForMergesLocked()
	w.releasePool()
	w.deleter.close(context.WithoutCancel(ctx))
	lerr := w.lock.Close()
	w.closed = true
	w.cond.Broadcast()
	w.logger.Info("writer closed", "generation", w.infos.Generation)
	return errors.Join(serr, lerr)
}
