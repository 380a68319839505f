package index_test

import (
	"context"
	"fmt"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/index"
	"github.com/hupe1980/segdex/store"
	"github.com/hupe1980/segdex/testutil"
)

func numericValue(i int) int64 {
	switch i {
	case 0:
		return math.MinInt64
	case 1:
		return math.MaxInt64
	case 2:
		return math.MaxInt32
	}
	return int64(i)*7919 - 250_000
}

func dvDoc(i int) *document.Document {
	d := document.New(
		document.NewStringField("id", testutil.ID(i), true),
		document.NewNumericDocValuesField("num", numericValue(i)),
		document.NewSortedDocValuesField("cat", []byte(fmt.Sprintf("cat-%d", i%5))),
		document.NewSortedSetDocValuesField("tags", []byte(fmt.Sprintf("t%d", i%3))),
		document.NewSortedSetDocValuesField("tags", []byte(fmt.Sprintf("t%d", i%4))),
	)
	if i%2 == 0 {
		d.Add(document.NewBinaryDocValuesField("bin", []byte(fmt.Sprintf("payload-%d", i))))
	}
	return d
}

func wantTags(i int) []string {
	tags := []string{fmt.Sprintf("t%d", i%3), fmt.Sprintf("t%d", i%4)}
	slices.Sort(tags)
	return slices.Compact(tags)
}

// checkDocValues verifies every column of a reader holding dvDoc(0..n) in
// order without deletions.
func checkDocValues(t *testing.T, r *index.DirectoryReader, n int) {
	t.Helper()
	require.Equal(t, n, r.NumDocs())
	for _, leaf := range r.Leaves() {
		sr := leaf.Reader
		num, err := sr.NumericDocValues("num")
		require.NoError(t, err)
		require.NotNil(t, num)
		bin, err := sr.BinaryDocValues("bin")
		require.NoError(t, err)
		require.NotNil(t, bin)
		cat, err := sr.SortedDocValues("cat")
		require.NoError(t, err)
		require.NotNil(t, cat)
		tags, err := sr.SortedSetDocValues("tags")
		require.NoError(t, err)
		require.NotNil(t, tags)

		assert.LessOrEqual(t, cat.ValueCount(), 5)
		for doc := range sr.MaxDoc() {
			i := leaf.DocBase + doc

			v, ok := num.Get(doc)
			require.True(t, ok, "doc %d", i)
			assert.Equal(t, numericValue(i), v, "doc %d", i)

			b, ok := bin.Get(doc)
			if i%2 == 0 {
				require.True(t, ok, "doc %d", i)
				assert.Equal(t, fmt.Sprintf("payload-%d", i), string(b))
			} else {
				assert.False(t, ok, "doc %d", i)
			}

			c, ok := cat.Get(doc)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("cat-%d", i%5), string(c))
			assert.Equal(t, c, cat.LookupOrd(cat.Ord(doc)))

			var got []string
			for _, ord := range tags.Ords(doc) {
				got = append(got, string(tags.LookupOrd(ord)))
			}
			assert.Equal(t, wantTags(i), got, "doc %d", i)
		}
	}
}

func TestDocValuesRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMergePolicy(index.NoMergePolicy{}))

	const n = 95
	for i := range n {
		require.NoError(t, w.AddDocument(ctx, dvDoc(i)))
	}
	require.NoError(t, w.Commit(ctx, nil))

	r := openReader(t, dir)
	require.Len(t, r.Leaves(), 10)
	checkDocValues(t, r, n)

	require.NoError(t, w.ForceMerge(ctx, 1))
	require.NoError(t, w.Close(ctx))

	merged := openReader(t, dir)
	require.Len(t, merged.Leaves(), 1)
	checkDocValues(t, merged, n)

	cat, err := merged.Leaves()[0].Reader.SortedDocValues("cat")
	require.NoError(t, err)
	assert.Equal(t, 5, cat.ValueCount())
	tags, err := merged.Leaves()[0].Reader.SortedSetDocValues("tags")
	require.NoError(t, err)
	assert.Equal(t, 4, tags.ValueCount())
}

func TestDocValuesMergeDropsUnusedOrdinals(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir, index.WithMaxBufferedDocs(100))

	for i, c := range []string{"apple", "banana", "cherry", "banana"} {
		require.NoError(t, w.AddDocument(ctx, document.New(
			document.NewStringField("id", testutil.ID(i), true),
			document.NewSortedDocValuesField("fruit", []byte(c)),
		)))
	}
	require.NoError(t, w.Commit(ctx, nil))
	require.NoError(t, w.DeleteDocuments(ctx, idTerm(2)))
	require.NoError(t, w.ForceMerge(ctx, 1))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	require.Len(t, r.Leaves(), 1)
	sv, err := r.Leaves()[0].Reader.SortedDocValues("fruit")
	require.NoError(t, err)
	require.Equal(t, 2, sv.ValueCount())
	assert.Equal(t, "apple", string(sv.LookupOrd(0)))
	assert.Equal(t, "banana", string(sv.LookupOrd(1)))
	assert.Equal(t, []int{0, 1, 1}, []int{sv.Ord(0), sv.Ord(1), sv.Ord(2)})
}

func TestDocValuesTypeIsFixedPerField(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)
	defer func() { require.NoError(t, w.Close(ctx)) }()

	require.NoError(t, w.AddDocument(ctx, document.New(document.NewNumericDocValuesField("f", 1))))

	err := w.AddDocument(ctx, document.New(document.NewSortedDocValuesField("f", []byte("x"))))
	require.ErrorIs(t, err, index.ErrIncompatibleField)

	// Also across flushed segments.
	require.NoError(t, w.Flush(ctx))
	err = w.AddDocument(ctx, document.New(document.NewBinaryDocValuesField("f", []byte("x"))))
	require.ErrorIs(t, err, index.ErrIncompatibleField)

	assert.Equal(t, 1, w.NumDocs())
}

func TestNormsCountTokens(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir)
	require.NoError(t, w.AddDocument(ctx, textDoc("a", "alpha beta gamma")))
	require.NoError(t, w.AddDocument(ctx, textDoc("b", "alpha")))
	require.NoError(t, w.AddDocument(ctx, document.New(document.NewStringField("id", "c", true))))
	require.NoError(t, w.Close(ctx))

	r := openReader(t, dir)
	require.Len(t, r.Leaves(), 1)
	sr := r.Leaves()[0].Reader

	norms, err := sr.Norms("body")
	require.NoError(t, err)
	require.NotNil(t, norms)
	v, ok := norms.Get(0)
	require.True(t, ok)
	assert.Equal(t, int64(3), v)
	v, ok = norms.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
	_, ok = norms.Get(2)
	assert.False(t, ok)

	// Untokenized string fields omit norms.
	idNorms, err := sr.Norms("id")
	require.NoError(t, err)
	assert.Nil(t, idNorms)
}
