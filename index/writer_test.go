package index_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/index"
	"github.com/hupe1980/segdex/store"
	"github.com/hupe1980/segdex/testutil"
)

func TestWriterAddCommitRead(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)

	for i := range 35 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), fmt.Sprintf("common word%d", i%5))))
	}
	require.NoError(t, w.DeleteDocuments(ctx, idTerm(3), idTerm(17)))
	require.NoError(t, w.Commit(ctx, map[string]string{"source": "test"}))
	assert.Equal(t, 33, w.NumDocs())

	r := openReader(t, dir)
	assert.Equal(t, 33, r.NumDocs())
	assert.Equal(t, 35, r.MaxDoc())
	assert.Equal(t, "test", r.UserData()["source"])

	ids := liveIDs(t, r)
	assert.Len(t, ids, 33)
	assert.NotContains(t, ids, testutil.ID(3))
	assert.NotContains(t, ids, testutil.ID(17))

	df, err := r.DocFreq(index.NewTerm("body", "common"))
	require.NoError(t, err)
	// Deleted documents count until merged away.
	assert.Equal(t, 35, df)

	df, err = r.DocFreq(index.NewTerm("body", "word2"))
	require.NoError(t, err)
	assert.Equal(t, 7, df)

	require.NoError(t, w.Close(ctx))
}

func TestWriterUpdateDocument(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)

	require.NoError(t, w.AddDocument(ctx, textDoc("a", "first version")))
	require.NoError(t, w.AddDocument(ctx, textDoc("b", "other")))
	require.NoError(t, w.Commit(ctx, nil))

	require.NoError(t, w.UpdateDocument(ctx, index.NewTerm("id", "a"), textDoc("a", "second version")))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	assert.Equal(t, 2, r.NumDocs())
	assert.ElementsMatch(t, []string{"a", "b"}, liveIDs(t, r))

	for doc := range r.MaxDoc() {
		if !r.IsLive(doc) {
			continue
		}
		d, err := r.Document(doc)
		require.NoError(t, err)
		if id, _ := d.Get("id"); id == "a" {
			body, _ := d.Get("body")
			assert.Equal(t, "second version", body)
		}
	}
}

func TestWriterUpdateWithinBuffer(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMaxBufferedDocs(100))

	// All three versions sit in the same builder; only the last survives.
	for v := range 3 {
		require.NoError(t, w.UpdateDocument(ctx, index.NewTerm("id", "x"), textDoc("x", fmt.Sprintf("v%d", v))))
	}
	require.NoError(t, w.Commit(ctx, nil))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	require.Equal(t, 1, r.NumDocs())
	for doc := range r.MaxDoc() {
		if r.IsLive(doc) {
			d, err := r.Document(doc)
			require.NoError(t, err)
			body, _ := d.Get("body")
			assert.Equal(t, "v2", body)
		}
	}
}

func TestWriterAddDocumentsBlock(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMaxBufferedDocs(3))

	block := []*document.Document{textDoc("p", "parent"), textDoc("c1", "child"), textDoc("c2", "child"), textDoc("c3", "child")}
	require.NoError(t, w.AddDocuments(ctx, block))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	// The block is never split across segments.
	require.Len(t, r.Leaves(), 1)
	assert.Equal(t, []string{"p", "c1", "c2", "c3"}, liveIDs(t, r))
}

func TestWriterRejectsInvalidDocument(t *testing.T) {
	ctx := context.Background()
	w := newWriter(t, store.NewRAMDirectory())
	defer func() { require.NoError(t, w.Close(ctx)) }()

	bad := document.New(document.NewField("f", "x", &document.FieldType{StoreTermVectors: true}))
	require.ErrorIs(t, w.AddDocument(ctx, bad), index.ErrInvalidArgument)

	// The writer stays usable.
	require.NoError(t, w.AddDocument(ctx, textDoc("ok", "fine")))
	assert.Equal(t, 1, w.NumDocs())
}

func TestWriterRollback(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)

	for i := range 5 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "kept")))
	}
	require.NoError(t, w.Commit(ctx, nil))
	for i := 5; i < 30; i++ {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "dropped")))
	}
	require.NoError(t, w.DeleteDocuments(ctx, idTerm(0)))
	require.NoError(t, w.Rollback(ctx))

	r := openReader(t, dir)
	assert.Equal(t, 5, r.NumDocs())

	// The lock was released.
	w2 := newWriter(t, dir)
	assert.Equal(t, 5, w2.NumDocs())
	require.NoError(t, w2.Close(ctx))
}

func TestWriterLock(t *testing.T) {
	ctx := context.Background()
	dir := newFSDir(t)
	w := newWriter(t, dir)

	_, err := index.OpenWriter(ctx, dir)
	require.ErrorIs(t, err, index.ErrLockObtainFailed)

	require.NoError(t, w.Close(ctx))
	w2, err := index.OpenWriter(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, w2.Close(ctx))
}

func TestWriterClosed(t *testing.T) {
	ctx := context.Background()
	w := newWriter(t, store.NewRAMDirectory())
	require.NoError(t, w.Close(ctx))

	require.ErrorIs(t, w.Close(ctx), index.ErrClosed)
	require.ErrorIs(t, w.AddDocument(ctx, textDoc("a", "b")), index.ErrClosed)
	require.ErrorIs(t, w.Commit(ctx, nil), index.ErrClosed)
}

func TestWriterOpenModes(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()

	_, err := index.OpenWriter(ctx, dir, index.WithOpenMode(index.Append))
	require.ErrorIs(t, err, index.ErrIndexNotFound)

	w := newWriter(t, dir)
	require.NoError(t, w.AddDocument(ctx, textDoc("a", "x")))
	require.NoError(t, w.Close(ctx))

	w = newWriter(t, dir, index.WithOpenMode(index.Append))
	assert.Equal(t, 1, w.NumDocs())
	require.NoError(t, w.Close(ctx))

	w = newWriter(t, dir, index.WithOpenMode(index.Create))
	assert.Equal(t, 0, w.NumDocs())
	assert.True(t, w.HasUncommittedChanges())
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	assert.Equal(t, 0, r.NumDocs())
}

func TestPrepareCommit(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)

	require.NoError(t, w.AddDocument(ctx, textDoc("a", "x")))
	require.NoError(t, w.PrepareCommit(ctx, map[string]string{"phase": "two"}))
	require.ErrorIs(t, w.PrepareCommit(ctx, nil), index.ErrInvalidArgument)

	// Not visible before the second phase.
	_, err := index.OpenReader(ctx, dir)
	require.ErrorIs(t, err, index.ErrIndexNotFound)

	require.NoError(t, w.Commit(ctx, nil))
	r := openReader(t, dir)
	assert.Equal(t, 1, r.NumDocs())
	assert.Equal(t, "two", r.UserData()["phase"])
	require.NoError(t, w.Close(ctx))
}

func TestCommitWithoutChangesIsNoop(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)
	defer func() { require.NoError(t, w.Close(ctx)) }()

	require.NoError(t, w.AddDocument(ctx, textDoc("a", "x")))
	require.NoError(t, w.Commit(ctx, nil))
	gen := w.LastCommit().Generation

	require.NoError(t, w.Commit(ctx, nil))
	assert.Equal(t, gen, w.LastCommit().Generation)

	// User data alone makes a new commit.
	require.NoError(t, w.Commit(ctx, map[string]string{"k": "v"}))
	assert.Greater(t, w.LastCommit().Generation, gen)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)

	for i := range 25 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
	}
	require.NoError(t, w.Commit(ctx, nil))
	require.NoError(t, w.AddDocument(ctx, textDoc("buffered", "x")))

	require.NoError(t, w.DeleteAll(ctx))
	assert.Equal(t, 0, w.NumDocs())
	assert.Equal(t, 0, w.SegmentCount())

	require.NoError(t, w.AddDocument(ctx, textDoc("after", "y")))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	assert.Equal(t, []string{"after"}, liveIDs(t, r))
}

func TestFullyDeletedSegmentsAreDropped(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMergePolicy(index.NoMergePolicy{}))
	defer func() { require.NoError(t, w.Close(ctx)) }()

	for i := range 20 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
	}
	require.NoError(t, w.Flush(ctx))
	require.Equal(t, 2, w.SegmentCount())

	for i := range 10 {
		require.NoError(t, w.DeleteDocuments(ctx, idTerm(i)))
	}
	assert.Equal(t, 1, w.SegmentCount())
	assert.Equal(t, 10, w.NumDocs())
	assert.Equal(t, 10, w.MaxDoc())
}

func TestMaxBufferedDeleteTermsFlushes(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMaxBufferedDocs(1000), index.WithMaxBufferedDeleteTerms(3))
	defer func() { require.NoError(t, w.Close(ctx)) }()

	require.NoError(t, w.AddDocument(ctx, textDoc("a", "x")))
	require.NoError(t, w.DeleteDocuments(ctx, index.NewTerm("id", "none1")))
	require.NoError(t, w.DeleteDocuments(ctx, index.NewTerm("id", "none2")))
	assert.Equal(t, 0, w.SegmentCount())

	require.NoError(t, w.DeleteDocuments(ctx, index.NewTerm("id", "none3")))
	assert.Equal(t, 1, w.SegmentCount())
	assert.Equal(t, 0, w.Stats().BufferedDocs)
}

func TestConcurrentIngestion(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w, err := index.OpenWriter(ctx, dir,
		index.WithMaxBufferedDocs(50),
		index.WithRAMBufferSizeMB(0),
		index.WithIngestionSlots(4),
	)
	require.NoError(t, err)

	const workers, perWorker = 8, 100
	var wg sync.WaitGroup
	for g := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen := testutil.NewDocGenerator(int64(g))
			for i := range perWorker {
				doc := gen.Document(i)
				doc.Fields[0] = document.NewStringField("id", fmt.Sprintf("g%d-%d", g, i), true)
				assert.NoError(t, w.AddDocument(ctx, doc))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	assert.Equal(t, workers*perWorker, r.NumDocs())

	status, err := index.CheckIndex(ctx, dir, nil)
	require.NoError(t, err)
	require.True(t, status.Clean(), "%v", status.Err())
}

func TestWriterStats(t *testing.T) {
	ctx := context.Background()
	w := newWriter(t, store.NewRAMDirectory(), index.WithMaxBufferedDocs(100))
	defer func() { require.NoError(t, w.Close(ctx)) }()

	for i := range 7 {
		require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(i), "x")))
	}
	s := w.Stats()
	assert.Equal(t, 7, s.BufferedDocs)
	assert.Equal(t, 7, s.NumDocs)
	assert.Positive(t, s.RAMBytes)
	assert.Equal(t, 0, s.Segments)

	require.NoError(t, w.Flush(ctx))
	s = w.Stats()
	assert.Equal(t, 0, s.BufferedDocs)
	assert.Equal(t, 1, s.Segments)
}

func TestWriterRejectsImmenseTerm(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMaxTermLength(16))

	require.NoError(t, w.AddDocument(ctx, textDoc("a", "fine")))
	bad := document.New(
		document.NewTextField("body", "partial words", false),
		document.NewStringField("tag", strings.Repeat("x", 20), false),
	)
	err := w.AddDocument(ctx, bad)
	require.ErrorIs(t, err, index.ErrInvalidArgument)
	var immense *index.ImmenseTermError
	require.ErrorAs(t, err, &immense)
	assert.Equal(t, "tag", immense.Field)
	assert.Equal(t, 20, immense.Length)
	assert.Equal(t, 16, immense.MaxLength)
	assert.Contains(t, err.Error(), "tag")

	require.NoError(t, w.Commit(ctx, nil))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	assert.Equal(t, 1, r.NumDocs())
	df, err := r.DocFreq(index.NewTerm("body", "partial"))
	require.NoError(t, err)
	assert.Zero(t, df)

	status, err := index.CheckIndex(ctx, dir, nil)
	require.NoError(t, err)
	assert.True(t, status.Clean(), "%v", status.Err())
}

func TestWriterRejectsChangedIndexOptions(t *testing.T) {
	ctx := context.Background()
	w := newWriter(t, store.NewRAMDirectory())
	defer func() { require.NoError(t, w.Close(ctx)) }()

	require.NoError(t, w.AddDocument(ctx, document.New(document.NewTextField("f", "some text", false))))
	err := w.AddDocument(ctx, document.New(document.NewStringField("f", "keyword", false)))
	require.ErrorIs(t, err, index.ErrInvalidArgument)
	assert.Contains(t, err.Error(), `"f"`)

	require.NoError(t, w.AddDocument(ctx, document.New(document.NewTextField("f", "more text", false))))
	assert.Equal(t, 2, w.NumDocs())
}

func TestWriterMaxDocs(t *testing.T) {
	ctx := context.Background()
	index.SetMaxDocs(t, 5)
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)

	addRange(t, w, 0, 4)
	block := []*document.Document{textDoc("b1", "x"), textDoc("b2", "x")}
	require.ErrorIs(t, w.AddDocuments(ctx, block), index.ErrTooManyDocs)
	assert.Equal(t, 4, w.NumDocs())

	require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(4), "x")))
	require.ErrorIs(t, w.AddDocument(ctx, textDoc(testutil.ID(5), "x")), index.ErrTooManyDocs)

	// Deleted documents count until merged away.
	require.NoError(t, w.DeleteDocuments(ctx, idTerm(0)))
	require.ErrorIs(t, w.AddDocument(ctx, textDoc(testutil.ID(5), "x")), index.ErrTooManyDocs)

	require.NoError(t, w.ForceMerge(ctx, 1))
	require.NoError(t, w.AddDocument(ctx, textDoc(testutil.ID(5), "x")))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	assert.Equal(t, 5, r.NumDocs())
}
