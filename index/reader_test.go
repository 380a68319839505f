package index_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/index"
	"github.com/hupe1980/segdex/store"
	"github.com/hupe1980/segdex/testutil"
)

func TestOpenReaderWithoutCommit(t *testing.T) {
	_, err := index.OpenReader(context.Background(), store.NewRAMDirectory())
	require.ErrorIs(t, err, index.ErrIndexNotFound)
}

func TestOpenIfChanged(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMergePolicy(index.NoMergePolicy{}))
	defer func() { require.NoError(t, w.Close(ctx)) }()

	addRange(t, w, 0, 10)
	require.NoError(t, w.Commit(ctx, nil))

	r, err := index.OpenReader(ctx, dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	same, err := r.OpenIfChanged(ctx)
	require.NoError(t, err)
	assert.Nil(t, same)

	addRange(t, w, 10, 20)
	require.NoError(t, w.Commit(ctx, nil))

	current, err := r.IsCurrent(ctx)
	require.NoError(t, err)
	assert.False(t, current)

	r2, err := r.OpenIfChanged(ctx)
	require.NoError(t, err)
	require.NotNil(t, r2)
	defer func() { require.NoError(t, r2.Close()) }()

	assert.Equal(t, 10, r.NumDocs())
	assert.Equal(t, 20, r2.NumDocs())
	require.Len(t, r2.Leaves(), 2)
	assert.Same(t, r.Leaves()[0].Reader, r2.Leaves()[0].Reader)
	assert.Equal(t, 10, r2.Leaves()[1].DocBase)

	current, err = r2.IsCurrent(ctx)
	require.NoError(t, err)
	assert.True(t, current)

	// Deletions alone reopen the segment with new live docs.
	require.NoError(t, w.DeleteDocuments(ctx, idTerm(3)))
	require.NoError(t, w.Commit(ctx, nil))

	r3, err := r2.OpenIfChanged(ctx)
	require.NoError(t, err)
	require.NotNil(t, r3)
	defer func() { require.NoError(t, r3.Close()) }()

	assert.Equal(t, 19, r3.NumDocs())
	assert.NotSame(t, r2.Leaves()[0].Reader, r3.Leaves()[0].Reader)
	assert.Same(t, r2.Leaves()[1].Reader, r3.Leaves()[1].Reader)
	assert.True(t, r2.IsLive(3))
	assert.False(t, r3.IsLive(3))
}

func TestNearRealTimeReader(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)
	defer func() { require.NoError(t, w.Close(ctx)) }()

	addRange(t, w, 0, 5)
	r, err := index.OpenReaderFromWriter(ctx, w)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	// Nothing is committed yet, but the reader sees the flushed documents.
	assert.Equal(t, 5, r.NumDocs())
	assert.Equal(t, []string{testutil.ID(0), testutil.ID(1), testutil.ID(2), testutil.ID(3), testutil.ID(4)}, liveIDs(t, r))
	_, err = index.OpenReader(ctx, dir)
	require.ErrorIs(t, err, index.ErrIndexNotFound)

	current, err := r.IsCurrent(ctx)
	require.NoError(t, err)
	assert.True(t, current)

	require.NoError(t, w.DeleteDocuments(ctx, idTerm(0)))
	current, err = r.IsCurrent(ctx)
	require.NoError(t, err)
	assert.False(t, current)

	r2, err := r.OpenIfChanged(ctx)
	require.NoError(t, err)
	require.NotNil(t, r2)
	defer func() { require.NoError(t, r2.Close()) }()
	assert.Equal(t, 4, r2.NumDocs())
	assert.Equal(t, 5, r.NumDocs())

	df, err := r2.DocFreq(idTerm(1))
	require.NoError(t, err)
	assert.Equal(t, 1, df)
}

func TestKeepAllCommits(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithDeletionPolicy(index.KeepAllCommits{}))

	for step := 1; step <= 3; step++ {
		addRange(t, w, (step-1)*10, step*10)
		require.NoError(t, w.Commit(ctx, map[string]string{"step": strconv.Itoa(step)}))
	}
	require.NoError(t, w.Close(ctx))

	commits, err := index.ListCommits(ctx, dir)
	require.NoError(t, err)
	require.Len(t, commits, 3)

	for i, c := range commits {
		assert.Equal(t, strconv.Itoa(i+1), c.UserData["step"])
		assert.Equal(t, (i+1)*10, c.NumDocs())
		assert.Contains(t, c.Files(), c.SegmentsFileName())
		if i > 0 {
			assert.Greater(t, c.Generation, commits[i-1].Generation)
		}

		r, err := index.OpenReaderAt(ctx, dir, c)
		require.NoError(t, err)
		assert.Equal(t, (i+1)*10, r.NumDocs())
		assert.Equal(t, c.Generation, r.Generation())
		assert.Equal(t, strconv.Itoa(i+1), r.UserData()["step"])
		require.NoError(t, r.Close())
	}
}

func TestKeepOnlyLastCommit(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)

	for step := 1; step <= 3; step++ {
		addRange(t, w, (step-1)*10, step*10)
		require.NoError(t, w.Commit(ctx, nil))
	}
	require.NoError(t, w.Close(ctx))

	commits, err := index.ListCommits(ctx, dir)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, 30, commits[0].NumDocs())

	// Every file on disk belongs to the surviving commit.
	files, err := dir.ListAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, commits[0].Files(), files)
}

func TestReaderClose(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)
	addRange(t, w, 0, 3)
	require.NoError(t, w.Close(ctx))

	r, err := index.OpenReader(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, r.IncRef())
	require.NoError(t, r.Close())

	// Still referenced once.
	_, err = r.IsCurrent(ctx)
	require.NoError(t, err)

	require.NoError(t, r.DecRef())
	_, err = r.IsCurrent(ctx)
	require.ErrorIs(t, err, index.ErrClosed)
	require.ErrorIs(t, r.Close(), index.ErrClosed)
}

func TestDirectoryReaderTermStatistics(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMaxBufferedDocs(2))
	require.NoError(t, w.AddDocument(ctx, textDoc("a", "red red blue")))
	require.NoError(t, w.AddDocument(ctx, textDoc("b", "red green")))
	require.NoError(t, w.AddDocument(ctx, textDoc("c", "blue")))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	require.Len(t, r.Leaves(), 2)

	df, err := r.DocFreq(index.NewTerm("body", "red"))
	require.NoError(t, err)
	assert.Equal(t, 2, df)
	ttf, err := r.TotalTermFreq(index.NewTerm("body", "red"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), ttf)
	df, err = r.DocFreq(index.NewTerm("body", "blue"))
	require.NoError(t, err)
	assert.Equal(t, 2, df)
	df, err = r.DocFreq(index.NewTerm("body", "missing"))
	require.NoError(t, err)
	assert.Zero(t, df)
	df, err = r.DocFreq(index.NewTerm("nofield", "red"))
	require.NoError(t, err)
	assert.Zero(t, df)
}
