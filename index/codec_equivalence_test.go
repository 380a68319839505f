package index_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/codec/compact"
	"github.com/hupe1980/segdex/codec/standard"
	"github.com/hupe1980/segdex/index"
	"github.com/hupe1980/segdex/store"
	"github.com/hupe1980/segdex/testutil"
)

// buildIndex indexes the same random stream with cd: 300 documents in
// segments of 25 with every seventh document deleted.
func buildIndex(t *testing.T, cd *codec.Codec) (*store.RAMDirectory, *index.IndexWriter) {
	t.Helper()
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	w := newWriter(t, dir,
		index.WithCodec(cd),
		index.WithMaxBufferedDocs(25),
		index.WithMergePolicy(index.NoMergePolicy{}),
	)
	gen := testutil.NewDocGenerator(2024)
	for i := range 300 {
		require.NoError(t, w.AddDocument(ctx, gen.Document(i)))
		if i%7 == 6 {
			require.NoError(t, w.DeleteDocuments(ctx, idTerm(i-3)))
		}
	}
	require.NoError(t, w.Commit(ctx, nil))
	return dir, w
}

func segmentFiles(t *testing.T, dir store.Directory) []string {
	t.Helper()
	files, err := dir.ListAll(context.Background())
	require.NoError(t, err)
	return slices.DeleteFunc(files, func(name string) bool {
		return name == index.WriteLockName || strings.HasPrefix(name, "segments")
	})
}

func TestCodecsAreSemanticallyEquivalent(t *testing.T) {
	ctx := context.Background()
	dirA, wa := buildIndex(t, standard.Default())
	dirB, wb := buildIndex(t, compact.New(nil))

	// The bytes differ.
	filesA, filesB := segmentFiles(t, dirA), segmentFiles(t, dirB)
	differ := !slices.Equal(filesA, filesB)
	for _, name := range filesA {
		if differ {
			break
		}
		a, err := store.ReadFile(ctx, dirA, name)
		require.NoError(t, err)
		b, err := store.ReadFile(ctx, dirB, name)
		require.NoError(t, err)
		differ = !bytes.Equal(a, b)
	}
	assert.True(t, differ, "indexes written by different codecs are byte-identical")

	ra, rb := openReader(t, dirA), openReader(t, dirB)
	require.NoError(t, index.CompareIndexes(ctx, ra, rb))

	// Different segmentation on one side is still equivalent.
	require.NoError(t, wb.ForceMerge(ctx, 1))
	require.NoError(t, wb.Commit(ctx, nil))
	rb2 := openReader(t, dirB)
	require.Len(t, rb2.Leaves(), 1)
	require.NoError(t, index.CompareIndexes(ctx, ra, rb2))

	// A single extra deletion breaks equivalence.
	require.NoError(t, wa.DeleteDocuments(ctx, idTerm(0)))
	require.NoError(t, wa.Commit(ctx, nil))
	ra2 := openReader(t, dirA)
	require.ErrorIs(t, index.CompareIndexes(ctx, ra2, rb2), index.ErrNotEquivalent)

	require.NoError(t, wa.Close(ctx))
	require.NoError(t, wb.Close(ctx))

	for _, dir := range []store.Directory{dirA, dirB} {
		status, err := index.CheckIndex(ctx, dir, nil)
		require.NoError(t, err)
		assert.True(t, status.Clean(), "%v", status.Err())
	}
}

func TestCompareIndexesDetectsDifferentContent(t *testing.T) {
	ctx := context.Background()
	build := func(body string) store.Directory {
		dir := store.NewRAMDirectory()
		w := newWriter(t, dir)
		require.NoError(t, w.AddDocument(ctx, textDoc("a", "same text")))
		require.NoError(t, w.AddDocument(ctx, textDoc("b", body)))
		require.NoError(t, w.Close(ctx))
		return dir
	}
	ra := openReader(t, build("alpha beta"))
	rb := openReader(t, build("alpha gamma"))

	err := index.CompareIndexes(ctx, ra, rb)
	require.ErrorIs(t, err, index.ErrNotEquivalent)
	assert.Contains(t, err.Error(), "body")
}

func TestEveryFileIsChecksummed(t *testing.T) {
	ctx := context.Background()
	dir, w := buildIndex(t, standard.Default())
	require.NoError(t, w.Close(ctx))

	files, err := dir.ListAll(ctx)
	require.NoError(t, err)
	checked := 0
	for _, name := range files {
		if name == index.WriteLockName {
			continue
		}
		data, err := store.ReadFile(ctx, dir, name)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(data), 4+codec.FooterLength, name)
		assert.Equal(t, uint32(codec.CodecMagic), binary.BigEndian.Uint32(data), "header magic of %s", name)

		_, err = codec.ChecksumEntireFile(store.NewBytesInput(name, data))
		require.NoError(t, err, name)

		corrupt := bytes.Clone(data)
		corrupt[len(corrupt)/2] ^= 0x5a
		_, err = codec.ChecksumEntireFile(store.NewBytesInput(name, corrupt))
		require.ErrorIs(t, err, codec.ErrCorrupt, name)
		checked++
	}
	assert.Positive(t, checked)
}

func TestCheckIndexReportsCorruptSegment(t *testing.T) {
	ctx := context.Background()
	dir, w := buildIndex(t, standard.Default())
	require.NoError(t, w.Close(ctx))

	var target string
	for _, name := range segmentFiles(t, dir) {
		if strings.HasSuffix(name, ".fdt") {
			target = name
			break
		}
	}
	require.NotEmpty(t, target)

	data, err := store.ReadFile(ctx, dir, target)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, dir.DeleteFile(ctx, target))
	out, err := dir.CreateOutput(ctx, target)
	require.NoError(t, err)
	_, err = out.Write(data)
	require.NoError(t, err)
	require.NoError(t, out.Close())

	status, err := index.CheckIndex(ctx, dir, nil)
	require.NoError(t, err)
	assert.False(t, status.Clean())
	require.ErrorIs(t, status.Err(), codec.ErrCorrupt)
}
