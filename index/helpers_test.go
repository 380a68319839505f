package index_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/index"
	"github.com/hupe1980/segdex/store"
	"github.com/hupe1980/segdex/testutil"
)

func newFSDir(t *testing.T, opts ...store.FSOption) *store.FSDirectory {
	t.Helper()
	dir, err := store.OpenFSDirectory(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })
	return dir
}

// newWriter opens a writer flushing every maxBuffered documents with
// serial merges, so segment layouts are deterministic.
func newWriter(t *testing.T, dir store.Directory, opts ...index.Option) *index.IndexWriter {
	t.Helper()
	base := []index.Option{
		index.WithMaxBufferedDocs(10),
		index.WithRAMBufferSizeMB(0),
		index.WithMergeScheduler(index.NewSerialMergeScheduler()),
		index.WithIngestionSlots(1),
	}
	w, err := index.OpenWriter(context.Background(), dir, append(base, opts...)...)
	require.NoError(t, err)
	return w
}

func openReader(t *testing.T, dir store.Directory) *index.DirectoryReader {
	t.Helper()
	r, err := index.OpenReader(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func idTerm(i int) index.Term { return index.NewTerm("id", testutil.ID(i)) }

func textDoc(id, body string) *document.Document {
	return document.New(
		document.NewStringField("id", id, true),
		document.NewTextField("body", body, true),
	)
}

// liveIDs returns the id fields of all live documents of r in doc order.
func liveIDs(t *testing.T, r *index.DirectoryReader) []string {
	t.Helper()
	var ids []string
	for doc := range r.MaxDoc() {
		if !r.IsLive(doc) {
			continue
		}
		d, err := r.Document(doc)
		require.NoError(t, err)
		id, ok := d.Get("id")
		require.True(t, ok)
		ids = append(ids, id)
	}
	return ids
}
