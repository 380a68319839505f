package index_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/analysis"
	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/index"
	"github.com/hupe1980/segdex/store"
	"github.com/hupe1980/segdex/testutil"
)

type termStats struct {
	docFreq int
	ttf     int64
}

// bruteForceStats analyzes the stored body of every live document.
func bruteForceStats(t *testing.T, r *index.DirectoryReader) (map[string]*termStats, int) {
	t.Helper()
	a := analysis.NewStandardAnalyzer()
	stats := make(map[string]*termStats)
	docCount := 0
	for doc := range r.MaxDoc() {
		if !r.IsLive(doc) {
			continue
		}
		d, err := r.Document(doc)
		require.NoError(t, err)
		body, ok := d.Get("body")
		require.True(t, ok)

		counts := make(map[string]int64)
		ts := a.TokenStream("body", body)
		for ts.Next() {
			counts[string(ts.Token().Term)]++
		}
		require.NoError(t, ts.Err())
		if len(counts) > 0 {
			docCount++
		}
		for term, n := range counts {
			s, ok := stats[term]
			if !ok {
				s = &termStats{}
				stats[term] = s
			}
			s.docFreq++
			s.ttf += n
		}
	}
	return stats, docCount
}

func TestForceMergeMatchesBruteForce(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMergePolicy(index.NewTieredMergePolicy()))

	rng := testutil.NewRNG(99)
	vocab := testutil.Vocabulary(60)
	for i := range 137 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), rng.Text(vocab, 1+rng.Intn(20)))))
		if i%7 == 3 {
			require.NoError(t, w.DeleteDocuments(ctx, idTerm(rng.Intn(i+1))))
		}
	}
	require.NoError(t, w.Commit(ctx, nil))
	before := openReader(t, dir)
	require.Greater(t, len(before.Leaves()), 1)
	want, wantDocCount := bruteForceStats(t, before)

	require.NoError(t, w.ForceMerge(ctx, 1))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	require.Len(t, r.Leaves(), 1)
	assert.Equal(t, before.NumDocs(), r.NumDocs())
	assert.Equal(t, r.NumDocs(), r.MaxDoc())
	assert.Equal(t, liveIDs(t, before), liveIDs(t, r))

	terms, err := r.Leaves()[0].Reader.Terms("body")
	require.NoError(t, err)
	te, err := terms.Iterator()
	require.NoError(t, err)

	var sumDocFreq, sumTTF int64
	seen := 0
	for {
		term, more, err := te.Next()
		require.NoError(t, err)
		if !more {
			break
		}
		s, ok := want[string(term)]
		require.True(t, ok, "unexpected term %q", term)
		assert.Equal(t, s.docFreq, te.DocFreq(), "docFreq of %q", term)
		assert.Equal(t, s.ttf, te.TotalTermFreq(), "totalTermFreq of %q", term)
		sumDocFreq += int64(s.docFreq)
		sumTTF += s.ttf
		seen++
	}
	assert.Equal(t, len(want), seen)
	assert.Equal(t, int64(len(want)), terms.Size())
	assert.Equal(t, sumDocFreq, terms.SumDocFreq())
	assert.Equal(t, sumTTF, terms.SumTotalTermFreq())
	assert.Equal(t, wantDocCount, terms.DocCount())
}

func TestForceMergeSingleSegmentExpungesDeletes(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMaxBufferedDocs(100))

	for i := range 30 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
	}
	require.NoError(t, w.Commit(ctx, nil))
	require.NoError(t, w.DeleteDocuments(ctx, idTerm(4), idTerm(5)))

	require.NoError(t, w.ForceMerge(ctx, 1))
	assert.Equal(t, 1, w.SegmentCount())
	assert.Equal(t, 28, w.MaxDoc())
	require.NoError(t, w.Close(ctx))
}

func TestForceMergeDeletes(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMergePolicy(index.NewTieredMergePolicy()))

	for i := range 40 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
	}
	require.NoError(t, w.Flush(ctx))
	require.Equal(t, 4, w.SegmentCount())

	// 50% deletions in the first segment only.
	for i := range 5 {
		require.NoError(t, w.DeleteDocuments(ctx, idTerm(i)))
	}
	require.NoError(t, w.ForceMergeDeletes(ctx))

	assert.Equal(t, 35, w.NumDocs())
	assert.Equal(t, 35, w.MaxDoc())
	require.NoError(t, w.Close(ctx))
}

func TestMergeCarriesConcurrentDeletes(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w, err := index.OpenWriter(ctx, dir,
		index.WithMaxBufferedDocs(10),
		index.WithRAMBufferSizeMB(0),
		index.WithMergePolicy(&index.LogDocMergePolicy{MergeFactor: 2, MinMergeDocs: 10}),
	)
	require.NoError(t, err)

	for i := range 200 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
		if i >= 50 && i%3 == 0 {
			require.NoError(t, w.DeleteDocuments(ctx, idTerm(i-50)))
		}
	}
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	var want []string
	for i := range 200 {
		if i < 150 && (i+50)%3 == 0 {
			continue
		}
		want = append(want, testutil.ID(i))
	}
	assert.ElementsMatch(t, want, liveIDs(t, r))

	status, err := index.CheckIndex(ctx, dir, nil)
	require.NoError(t, err)
	assert.True(t, status.Clean(), "%v", status.Err())
}

func TestNaturalMergesBoundSegmentCount(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMergePolicy(&index.LogDocMergePolicy{MergeFactor: 3, MinMergeDocs: 10}))

	for i := range 270 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
	}
	require.NoError(t, w.Commit(ctx, nil))

	// 27 flushed segments of 10 collapse level by level.
	assert.LessOrEqual(t, w.SegmentCount(), 6)
	assert.Equal(t, 270, w.NumDocs())
	require.NoError(t, w.Close(ctx))
}

func TestNoMergeSchedulerAbortsForceMerge(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMergeScheduler(index.NoMergeScheduler{}))
	defer func() { require.NoError(t, w.Close(ctx)) }()

	for i := range 30 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
	}
	require.ErrorIs(t, w.ForceMerge(ctx, 1), index.ErrMergeAborted)
	assert.Equal(t, 3, w.SegmentCount())
}

func TestMergeDiagnostics(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)

	for i := range 20 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
	}
	require.NoError(t, w.ForceMerge(ctx, 1))
	require.NoError(t, w.Close(ctx))

	infos, err := index.ReadSegmentInfos(ctx, dir)
	require.NoError(t, err)
	require.Len(t, infos.Segments, 1)
	diag := infos.Segments[0].Info.Diagnostics
	assert.Equal(t, "merge", diag["source"])
	assert.Equal(t, "forced", diag["merge_kind"])
	assert.Equal(t, "2", diag["merge_factor"])
}

// TestCheckIndexAfterDeleteOnMergedSegment indexes 19 documents, merges
// them into one segment and deletes the sixth.
func TestCheckIndexAfterDeleteOnMergedSegment(t *testing.T) {
	ctx := context.Background()
	dir := newFSDir(t)
	w := newWriter(t, dir)

	ft := &document.FieldType{
		Tokenized:                true,
		Stored:                   true,
		IndexOptions:             document.IndexOptionsDocsAndFreqsAndPositionsAndOffsets,
		StoreTermVectors:         true,
		StoreTermVectorPositions: true,
		StoreTermVectorOffsets:   true,
	}
	for i := range 19 {
		require.NoError(t, w.AddDocument(ctx, document.New(document.NewField("field", fmt.Sprintf("aaa%d", i), ft))))
	}
	require.NoError(t, w.ForceMerge(ctx, 1))
	require.NoError(t, w.Commit(ctx, nil))
	require.NoError(t, w.DeleteDocuments(ctx, index.NewTerm("field", "aaa5")))
	require.NoError(t, w.Close(ctx))

	status, err := index.CheckIndex(ctx, dir, nil)
	require.NoError(t, err)
	require.True(t, status.Clean(), "%v", status.Err())
	require.Len(t, status.Segments, 1)

	seg := status.Segments[0]
	assert.Equal(t, 19, seg.MaxDoc)
	assert.Equal(t, 18, seg.NumDocs)
	assert.Equal(t, 1, seg.DelCount)
	assert.Equal(t, 1, seg.Fields)
	assert.Equal(t, int64(18), seg.Terms)
	assert.Equal(t, int64(18), seg.TotalFreq)
	assert.Equal(t, int64(18), seg.TotalPositions)
	assert.Equal(t, int64(18), seg.StoredFields)
	assert.Equal(t, int64(18), seg.TermVectors)
	assert.Equal(t, 1, seg.Norms)
	assert.Equal(t, 0, seg.DocValues)
	assert.Equal(t, codec.SegmentsFileName(status.Generation), status.SegmentsFile)
	assert.Equal(t, 18, status.TotalLiveDocs)
}

func TestForceMergeKeepsEmptyTerm(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMaxBufferedDocs(2), index.WithMergePolicy(index.NoMergePolicy{}))

	tags := []string{"", "apple", "banana", "cherry"}
	for i, tag := range tags {
		doc := document.New(
			document.NewStringField("id", testutil.ID(i), true),
			document.NewStringField("tag", tag, false),
		)
		require.NoError(t, w.AddDocument(ctx, doc))
	}
	require.NoError(t, w.Commit(ctx, nil))
	require.Equal(t, 2, w.SegmentCount())
	require.NoError(t, w.ForceMerge(ctx, 1))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	require.Len(t, r.Leaves(), 1)
	for _, tag := range tags {
		df, err := r.DocFreq(index.NewTerm("tag", tag))
		require.NoError(t, err)
		assert.Equal(t, 1, df, "tag %q", tag)
	}

	status, err := index.CheckIndex(ctx, dir, nil)
	require.NoError(t, err)
	assert.True(t, status.Clean(), "%v", status.Err())
}

func TestForceMergeWithNoMergePolicy(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMergePolicy(index.NoMergePolicy{}))

	for i := range 40 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
	}
	require.NoError(t, w.Flush(ctx))
	require.Equal(t, 4, w.SegmentCount())

	require.NoError(t, w.ForceMerge(ctx, 1))
	assert.Equal(t, 1, w.SegmentCount())
	assert.Equal(t, 40, w.NumDocs())
	require.NoError(t, w.Close(ctx))
}

// idleMergePolicy never proposes anything, not even forced merges.
type idleMergePolicy struct{}

func (idleMergePolicy) FindMerges(index.MergeRequest, []index.SegmentStats) []index.MergeCandidate {
	return nil
}

func TestForceMergeReportsIncompleteMerge(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMergePolicy(idleMergePolicy{}))
	defer func() { require.NoError(t, w.Close(ctx)) }()

	for i := range 30 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
	}
	err := w.ForceMerge(ctx, 1)
	require.ErrorIs(t, err, index.ErrMergeIncomplete)
	assert.Equal(t, 3, w.SegmentCount())

	// Already at or under the target: nothing to do.
	require.NoError(t, w.ForceMerge(ctx, 3))
}

func TestMergeNarrowsIndexOptions(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMergePolicy(index.NoMergePolicy{}))

	docsOnly := &document.FieldType{Tokenized: true, IndexOptions: document.IndexOptionsDocs}
	// Options may differ between segments, never within one.
	for range 10 {
		require.NoError(t, w.AddDocument(ctx, document.New(document.NewTextField("f", "alpha beta", false))))
	}
	require.NoError(t, w.Flush(ctx))
	for range 10 {
		require.NoError(t, w.AddDocument(ctx, document.New(document.NewField("f", "alpha", docsOnly))))
	}
	require.NoError(t, w.Flush(ctx))
	require.Equal(t, 2, w.SegmentCount())
	require.NoError(t, w.ForceMerge(ctx, 1))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	require.Len(t, r.Leaves(), 1)
	fi := r.Leaves()[0].Reader.FieldInfos().ByName("f")
	require.NotNil(t, fi)
	assert.Equal(t, document.IndexOptionsDocs, fi.IndexOptions)

	df, err := r.DocFreq(index.NewTerm("f", "alpha"))
	require.NoError(t, err)
	assert.Equal(t, 20, df)

	status, err := index.CheckIndex(ctx, dir, nil)
	require.NoError(t, err)
	assert.True(t, status.Clean(), "%v", status.Err())
}
