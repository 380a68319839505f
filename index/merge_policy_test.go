package index_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/index"
)

func segments(n int, docs int, size int64) []index.SegmentStats {
	segs := make([]index.SegmentStats, n)
	for i := range segs {
		segs[i] = index.SegmentStats{Name: fmt.Sprintf("_%d", i), MaxDoc: docs, SizeBytes: size}
	}
	return segs
}

func natural() index.MergeRequest { return index.MergeRequest{Kind: index.MergeNatural} }

func forced(n int) index.MergeRequest {
	return index.MergeRequest{Kind: index.MergeForced, MaxSegmentCount: n}
}

func TestNoMergePolicy(t *testing.T) {
	segs := segments(50, 10, 1<<10)
	p := index.NoMergePolicy{}
	assert.Empty(t, p.FindMerges(natural(), segs))

	// Forced merges are explicit requests and still converge.
	merges := p.FindMerges(forced(1), segs)
	require.NotEmpty(t, merges)
	for _, m := range merges {
		assert.LessOrEqual(t, len(m.Segments), 30)
	}
	assert.Empty(t, p.FindMerges(forced(50), segs))
	assert.Empty(t, p.FindMerges(index.MergeRequest{Kind: index.MergeForcedDeletes}, segs))
}

func TestTieredMergePolicyNatural(t *testing.T) {
	p := index.NewTieredMergePolicy()

	assert.Empty(t, p.FindMerges(natural(), segments(5, 100, 1<<20)))

	merges := p.FindMerges(natural(), segments(25, 100, 1<<20))
	require.Len(t, merges, 2)
	seen := make(map[string]bool)
	for _, m := range merges {
		assert.Len(t, m.Segments, p.MaxMergeAtOnce)
		for _, name := range m.Segments {
			assert.False(t, seen[name], "segment %s in two merges", name)
			seen[name] = true
		}
	}
}

func TestTieredMergePolicySkipsMergingSegments(t *testing.T) {
	p := index.NewTieredMergePolicy()
	segs := segments(25, 100, 1<<20)
	for i := range 20 {
		segs[i].Merging = true
	}
	assert.Empty(t, p.FindMerges(natural(), segs))

	for _, req := range []index.MergeRequest{forced(1), {Kind: index.MergeForcedDeletes}} {
		for _, m := range p.FindMerges(req, segs) {
			for _, name := range m.Segments {
				for _, s := range segs[:20] {
					assert.NotEqual(t, s.Name, name)
				}
			}
		}
	}
}

func TestTieredMergePolicyRespectsMaxMergedSize(t *testing.T) {
	p := index.NewTieredMergePolicy()
	p.MaxMergedSegmentBytes = 4 << 20
	segs := segments(30, 100, 3<<20)
	// Segments above half the cap never merge naturally.
	assert.Empty(t, p.FindMerges(natural(), segs))
}

func TestForcedMerges(t *testing.T) {
	segs := segments(7, 100, 1<<20)
	for i := range segs {
		segs[i].SizeBytes = int64(7-i) << 20
	}
	p := index.NewTieredMergePolicy()

	merges := p.FindMerges(forced(1), segs)
	require.Len(t, merges, 1)
	assert.Len(t, merges[0].Segments, 7)

	// Down to three: the five smallest merge.
	merges = p.FindMerges(forced(3), segs)
	require.Len(t, merges, 1)
	assert.ElementsMatch(t, []string{"_2", "_3", "_4", "_5", "_6"}, merges[0].Segments)

	assert.Empty(t, p.FindMerges(forced(7), segs))

	// Merges are capped at MaxMergeAtOnceExplicit segments per round.
	p.MaxMergeAtOnceExplicit = 3
	merges = p.FindMerges(forced(1), segs)
	require.NotEmpty(t, merges)
	for _, m := range merges {
		assert.LessOrEqual(t, len(m.Segments), 3)
	}
}

func TestForcedMergeOfSingleSegment(t *testing.T) {
	p := index.NewTieredMergePolicy()
	segs := segments(1, 100, 1<<20)
	assert.Empty(t, p.FindMerges(forced(1), segs))

	segs[0].DelCount = 3
	merges := p.FindMerges(forced(1), segs)
	require.Len(t, merges, 1)
	assert.Equal(t, []string{"_0"}, merges[0].Segments)
}

func TestForcedDeletesMerges(t *testing.T) {
	segs := segments(4, 100, 1<<20)
	segs[0].DelCount = 5
	segs[1].DelCount = 20
	segs[3].DelCount = 50

	p := index.NewTieredMergePolicy()
	merges := p.FindMerges(index.MergeRequest{Kind: index.MergeForcedDeletes}, segs)
	require.Len(t, merges, 1)
	assert.Equal(t, []string{"_1", "_3"}, merges[0].Segments)

	// LogDoc allows no deletions by default.
	merges = index.NewLogDocMergePolicy().FindMerges(index.MergeRequest{Kind: index.MergeForcedDeletes}, segs)
	require.NotEmpty(t, merges)
	var names []string
	for _, m := range merges {
		names = append(names, m.Segments...)
	}
	assert.Equal(t, []string{"_0", "_1", "_3"}, names)
}

func TestLogDocMergePolicy(t *testing.T) {
	p := &index.LogDocMergePolicy{MergeFactor: 3, MinMergeDocs: 10}

	merges := p.FindMerges(natural(), segments(10, 10, 1<<10))
	require.Len(t, merges, 3)
	assert.Equal(t, []string{"_0", "_1", "_2"}, merges[0].Segments)
	assert.Equal(t, []string{"_3", "_4", "_5"}, merges[1].Segments)
	assert.Equal(t, []string{"_6", "_7", "_8"}, merges[2].Segments)

	assert.Empty(t, p.FindMerges(natural(), segments(2, 10, 1<<10)))

	// A large segment followed by small ones: only the small ones merge.
	segs := append(segments(1, 10_000, 1<<20), segments(3, 10, 1<<10)...)
	segs[0].Name = "big"
	merges = p.FindMerges(natural(), segs)
	require.Len(t, merges, 1)
	assert.NotContains(t, merges[0].Segments, "big")

	p.MaxMergeDocs = 5
	assert.Empty(t, p.FindMerges(natural(), segments(9, 10, 1<<10)))
}

func TestSkewMergeScorer(t *testing.T) {
	even := []index.SegmentStats{{Name: "a", MaxDoc: 10, SizeBytes: 10 << 20}, {Name: "b", MaxDoc: 10, SizeBytes: 10 << 20}}
	skewed := []index.SegmentStats{{Name: "a", MaxDoc: 10, SizeBytes: 19 << 20}, {Name: "b", MaxDoc: 10, SizeBytes: 1 << 20}}
	assert.Less(t, index.SkewMergeScorer(even, 0), index.SkewMergeScorer(skewed, 0))

	// Reclaiming deletions scores better.
	withDeletes := []index.SegmentStats{{Name: "a", MaxDoc: 10, DelCount: 5, SizeBytes: 10 << 20}, {Name: "b", MaxDoc: 10, DelCount: 5, SizeBytes: 10 << 20}}
	assert.Less(t, index.SkewMergeScorer(withDeletes, 0), index.SkewMergeScorer(even, 0))
}

func TestMergeKindString(t *testing.T) {
	assert.Equal(t, "natural", index.MergeNatural.String())
	assert.Equal(t, "forced", index.MergeForced.String())
	assert.Equal(t, "forced_deletes", index.MergeForcedDeletes.String())
}
