package index

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/internal/manifest"
	"github.com/hupe1980/segdex/store"
)

// SegmentCommitInfo is a segment plus its deletion state.
type SegmentCommitInfo struct {
	Info *codec.SegmentInfo

	// DelGen is the generation of the live docs file, -1 without deletions.
	DelGen   int64
	DelCount int

	nextWriteDelGen int64
	sizeInBytes     int64
}

func newSegmentCommitInfo(info *codec.SegmentInfo) *SegmentCommitInfo {
	return &SegmentCommitInfo{Info: info, DelGen: -1, nextWriteDelGen: 1, sizeInBytes: -1}
}

// Name returns the segment name.
func (s *SegmentCommitInfo) Name() string { return s.Info.Name }

// MaxDoc returns the number of documents including deleted ones.
func (s *SegmentCommitInfo) MaxDoc() int { return s.Info.MaxDoc }

// NumDocs returns the number of live documents.
func (s *SegmentCommitInfo) NumDocs() int { return s.Info.MaxDoc - s.DelCount }

// HasDeletions reports whether a live docs file exists.
func (s *SegmentCommitInfo) HasDeletions() bool { return s.DelGen > 0 }

// Files returns all files of the segment, including the live docs file.
func (s *SegmentCommitInfo) Files() []string {
	files := s.Info.Files()
	if s.HasDeletions() {
		files = append(files, s.liveDocsFile())
	}
	return files
}

func (s *SegmentCommitInfo) liveDocsFile() string {
	return codec.FileNameFromGeneration(s.Info.Name, codec.LiveDocsExtension, s.DelGen)
}

// SizeInBytes returns the total size of the segment's files.
func (s *SegmentCommitInfo) SizeInBytes(ctx context.Context, dir store.Directory) (int64, error) {
	if s.sizeInBytes >= 0 {
		return s.sizeInBytes, nil
	}
	var total int64
	for _, f := range s.Files() {
		n, err := dir.FileLength(ctx, f)
		if err != nil {
			return 0, err
		}
		total += n
	}
	s.sizeInBytes = total
	return total, nil
}

func (s *SegmentCommitInfo) advanceDelGen() {
	s.DelGen = s.nextWriteDelGen
	s.nextWriteDelGen++
	s.sizeInBytes = -1
}

func (s *SegmentCommitInfo) clone() *SegmentCommitInfo {
	c := *s
	return &c
}

// SegmentInfos is an ordered segment set and the commit metadata around it.
type SegmentInfos struct {
	Segments []*SegmentCommitInfo

	// Generation is the generation of the commit the set was read from or
	// last written to, 0 for a new index.
	Generation int64
	// Version increases with every change.
	Version int64
	// Counter names the next segment.
	Counter  int64
	UserData map[string]string
}

// ReadSegmentInfos reads the newest readable commit of dir.
func ReadSegmentInfos(ctx context.Context, dir store.Directory) (*SegmentInfos, error) {
	c, err := manifest.NewStore(dir, nil).ReadLatest(ctx)
	if err != nil {
		return nil, translateManifestError(err)
	}
	return readSegmentInfos(ctx, dir, c)
}

func translateManifestError(err error) error {
	if errors.Is(err, manifest.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrIndexNotFound, err)
	}
	return err
}

// readSegmentInfos loads the segment infos of a commit.
func readSegmentInfos(ctx context.Context, dir store.Directory, c *manifest.Commit) (*SegmentInfos, error) {
	infos := &SegmentInfos{
		Segments:   make([]*SegmentCommitInfo, len(c.Segments)),
		Generation: c.Generation,
		Version:    c.Version,
		Counter:    c.Counter,
		UserData:   maps.Clone(c.UserData),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, e := range c.Segments {
		g.Go(func() error {
			cd, err := codec.Lookup(e.Codec)
			if err != nil {
				return err
			}
			si, err := cd.SegmentInfo.Read(gctx, dir, e.Name, e.ID)
			if err != nil {
				return fmt.Errorf("segment %s of %s: %w", e.Name, c.FileName(), err)
			}
			if si.Codec != e.Codec {
				return codec.Corruptf(c.FileName(), "segment %s: codec %q does not match %q", e.Name, si.Codec, e.Codec)
			}
			if e.DelCount > si.MaxDoc {
				return codec.Corruptf(c.FileName(), "segment %s: delete count %d exceeds maxDoc %d", e.Name, e.DelCount, si.MaxDoc)
			}
			sci := newSegmentCommitInfo(si)
			sci.DelGen = e.DelGen
			sci.DelCount = e.DelCount
			if e.DelGen > 0 {
				sci.nextWriteDelGen = e.DelGen + 1
			}
			infos.Segments[i] = sci
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

// toCommit converts the set into a commit of generation gen.
func (s *SegmentInfos) toCommit(gen int64) *manifest.Commit {
	c := &manifest.Commit{
		Generation: gen,
		ID:         codec.NewID(),
		Version:    s.Version,
		Counter:    s.Counter,
		UserData:   maps.Clone(s.UserData),
		Segments:   make([]manifest.SegmentEntry, len(s.Segments)),
	}
	for i, sci := range s.Segments {
		c.Segments[i] = manifest.SegmentEntry{
			Name:     sci.Info.Name,
			ID:       sci.Info.ID,
			Codec:    sci.Info.Codec,
			DelGen:   sci.DelGen,
			DelCount: sci.DelCount,
		}
	}
	return c
}

// Files returns the files referenced by the set. With includeCommit the
// commit file of Generation is included.
func (s *SegmentInfos) Files(includeCommit bool) []string {
	var files []string
	if includeCommit && s.Generation > 0 {
		files = append(files, codec.SegmentsFileName(s.Generation))
	}
	for _, sci := range s.Segments {
		files = append(files, sci.Files()...)
	}
	slices.Sort(files)
	return slices.Compact(files)
}

// MaxDoc returns the number of documents including deleted ones.
func (s *SegmentInfos) MaxDoc() int {
	n := 0
	for _, sci := range s.Segments {
		n += sci.MaxDoc()
	}
	return n
}

// NumDocs returns the number of live documents.
func (s *SegmentInfos) NumDocs() int {
	n := 0
	for _, sci := range s.Segments {
		n += sci.NumDocs()
	}
	return n
}

// clone copies the set and every commit info, sharing the immutable
// segment infos.
func (s *SegmentInfos) clone() *SegmentInfos {
	c := *s
	c.Segments = make([]*SegmentCommitInfo, len(s.Segments))
	for i, sci := range s.Segments {
		c.Segments[i] = sci.clone()
	}
	c.UserData = maps.Clone(s.UserData)
	return &c
}

func (s *SegmentInfos) indexOf(name string) int {
	return slices.IndexFunc(s.Segments, func(sci *SegmentCommitInfo) bool { return sci.Info.Name == name })
}

func (s *SegmentInfos) newSegmentName() string {
	name := codec.SegmentNameForCounter(s.Counter)
	s.Counter++
	return name
}
