package index_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/index"
)

func TestCheckIndexReportsSegments(t *testing.T) {
	ctx := context.Background()
	dir := newFSDir(t)
	w := newWriter(t, dir)

	addRange(t, w, 0, 20)
	require.NoError(t, w.DeleteDocuments(ctx, idTerm(3)))
	require.NoError(t, w.Commit(ctx, map[string]string{"step": "one"}))
	require.NoError(t, w.Close(ctx))

	status, err := index.CheckIndex(ctx, dir, nil)
	require.NoError(t, err)
	require.True(t, status.Clean(), "%v", status.Err())
	require.NoError(t, status.Err())

	assert.Equal(t, "one", status.UserData["step"])
	assert.Equal(t, 20, status.TotalDocs)
	assert.Equal(t, 19, status.TotalLiveDocs)
	require.Len(t, status.Segments, 2)

	first, second := status.Segments[0], status.Segments[1]
	assert.Equal(t, 10, first.MaxDoc)
	assert.Equal(t, 9, first.NumDocs)
	assert.Equal(t, 1, first.DelCount)
	assert.Equal(t, 0, second.DelCount)
	assert.Equal(t, "flush", first.Diagnostics["source"])

	for _, seg := range status.Segments {
		assert.Equal(t, 2, seg.Fields)
		assert.Positive(t, seg.Terms)
		assert.Positive(t, seg.SizeBytes)
		assert.GreaterOrEqual(t, seg.TotalFreq, seg.Terms)
	}
	// id and body are both stored; deleted documents are not counted.
	assert.Equal(t, int64(18), first.StoredFields)
	assert.Equal(t, int64(20), second.StoredFields)
}

func TestCheckIndexDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := newFSDir(t)
	w := newWriter(t, dir)

	addRange(t, w, 0, 20)
	require.NoError(t, w.Commit(ctx, nil))
	require.NoError(t, w.Close(ctx))

	names, err := dir.ListAll(ctx)
	require.NoError(t, err)
	var victim string
	for _, name := range names {
		if strings.HasPrefix(name, "_0") && strings.HasSuffix(name, ".doc") {
			victim = name
		}
	}
	require.NotEmpty(t, victim, "no postings file in %v", names)

	path := filepath.Join(dir.Path(), victim)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	status, err := index.CheckIndex(ctx, dir, nil)
	require.NoError(t, err)
	assert.False(t, status.Clean())
	require.Len(t, status.Segments, 2)
	assert.Error(t, status.Segments[0].Err)
	assert.NoError(t, status.Segments[1].Err)
	assert.Error(t, status.Err())
}

func TestCheckIndexEmptyDirectory(t *testing.T) {
	_, err := index.CheckIndex(context.Background(), newFSDir(t), nil)
	assert.ErrorIs(t, err, index.ErrIndexNotFound)
}

func TestCheckIndexCanceled(t *testing.T) {
	dir := newFSDir(t)
	w := newWriter(t, dir)
	addRange(t, w, 0, 5)
	require.NoError(t, w.Close(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := index.CheckIndex(ctx, dir, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
