package index

import (
	"context"
	"maps"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/internal/manifest"
	"github.com/hupe1980/segdex/store"
)

// IndexCommit is a durable commit point.
type IndexCommit struct {
	Generation int64
	UserData   map[string]string

	infos   *SegmentInfos
	files   []string
	deleted bool
}

func newIndexCommit(infos *SegmentInfos) *IndexCommit {
	return &IndexCommit{
		Generation: infos.Generation,
		UserData:   maps.Clone(infos.UserData),
		infos:      infos,
		files:      infos.Files(true),
	}
}

// SegmentsFileName returns the commit file name.
func (c *IndexCommit) SegmentsFileName() string { return codec.SegmentsFileName(c.Generation) }

// Files returns every file the commit references, including its commit
// file.
func (c *IndexCommit) Files() []string { return append([]string(nil), c.files...) }

// SegmentCount returns the number of segments.
func (c *IndexCommit) SegmentCount() int { return len(c.infos.Segments) }

// NumDocs returns the number of live documents.
func (c *IndexCommit) NumDocs() int { return c.infos.NumDocs() }

// Delete marks the commit for deletion. Only deletion policies call it.
func (c *IndexCommit) Delete() { c.deleted = true }

// IsDeleted reports whether the commit was marked for deletion.
func (c *IndexCommit) IsDeleted() bool { return c.deleted }

// DeletionPolicy decides which commits to keep. Commits are passed oldest
// first; the policy marks the ones to drop with Delete.
type DeletionPolicy interface {
	// OnInit is called once when a writer opens.
	OnInit(commits []*IndexCommit) error
	// OnCommit is called after every successful commit.
	OnCommit(commits []*IndexCommit) error
}

// KeepOnlyLastCommit deletes every commit but the newest.
type KeepOnlyLastCommit struct{}

func (KeepOnlyLastCommit) OnInit(commits []*IndexCommit) error {
	return KeepOnlyLastCommit{}.OnCommit(commits)
}

func (KeepOnlyLastCommit) OnCommit(commits []*IndexCommit) error {
	for i := 0; i < len(commits)-1; i++ {
		commits[i].Delete()
	}
	return nil
}

// KeepAllCommits keeps every commit.
type KeepAllCommits struct{}

func (KeepAllCommits) OnInit([]*IndexCommit) error   { return nil }
func (KeepAllCommits) OnCommit([]*IndexCommit) error { return nil }

// ListCommits returns the readable commits of dir, oldest first.
func ListCommits(ctx context.Context, dir store.Directory) ([]*IndexCommit, error) {
	raw, err := manifest.NewStore(dir, nil).ListCommits(ctx)
	if err != nil {
		return nil, err
	}
	commits := make([]*IndexCommit, 0, len(raw))
	for _, c := range raw {
		infos, err := readSegmentInfos(ctx, dir, c)
		if err != nil {
			return nil, err
		}
		commits = append(commits, newIndexCommit(infos))
	}
	return commits, nil
}
