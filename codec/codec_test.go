package codec_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/codec/compact"
	"github.com/hupe1980/segdex/codec/standard"
	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/store"
)

func codecs(t *testing.T) []*codec.Codec {
	t.Helper()
	var out []*codec.Codec
	for _, name := range []string{standard.Name, compact.Name} {
		c, err := codec.Lookup(name)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func testInfos(t *testing.T) *codec.FieldInfos {
	t.Helper()
	infos, err := codec.NewFieldInfos([]*codec.FieldInfo{
		{Name: "body", Number: 0, IndexOptions: document.IndexOptionsDocsAndFreqsAndPositionsAndOffsets, StorePayloads: true, StoreTermVectors: true},
		{Name: "id", Number: 1, IndexOptions: document.IndexOptionsDocs, OmitNorms: true},
		{Name: "tag", Number: 2, IndexOptions: document.IndexOptionsDocsAndFreqs},
		{Name: "price", Number: 3, DocValuesType: document.DocValuesNumeric},
	})
	require.NoError(t, err)
	return infos
}

func testPostings(infos *codec.FieldInfos) *memFields {
	body := map[string][]testPosting{
		"fox": {
			{doc: 0, positions: []int{1, 4}, starts: []int{4, 20}, ends: []int{7, 23}, payloads: [][]byte{[]byte("a"), nil}},
			{doc: 3, positions: []int{0}, starts: []int{0}, ends: []int{3}, payloads: [][]byte{[]byte("bb")}},
		},
		"quick": {
			{doc: 0, positions: []int{0}, starts: []int{0}, ends: []int{5}, payloads: [][]byte{nil}},
		},
		"": {
			{doc: 2, positions: []int{7}, starts: []int{9}, ends: []int{9}, payloads: [][]byte{nil}},
		},
	}
	ids := map[string][]testPosting{}
	for d := 0; d < 4; d++ {
		ids[fmt.Sprintf("id-%02d", d)] = []testPosting{{doc: d}}
	}
	// Enough terms to span several dictionary blocks.
	tags := map[string][]testPosting{}
	for i := 0; i < 100; i++ {
		tags[fmt.Sprintf("t%03d", i)] = []testPosting{{doc: i % 4, positions: make([]int, 1+i%3)}}
	}
	return &memFields{fields: map[string]*testField{
		"body": {fi: infos.ByName("body"), terms: body},
		"id":   {fi: infos.ByName("id"), terms: ids},
		"tag":  {fi: infos.ByName("tag"), terms: tags},
	}}
}

func writePostings(ctx context.Context, t *testing.T, c *codec.Codec, dir store.Directory, si *codec.SegmentInfo, infos *codec.FieldInfos) {
	t.Helper()
	state := &codec.SegmentWriteState{Dir: dir, Segment: si, FieldInfos: infos}
	fc, err := c.Postings.FieldsConsumer(ctx, state)
	require.NoError(t, err)
	require.NoError(t, fc.Write(ctx, testPostings(infos)))
	require.NoError(t, fc.Close())
}

func TestPostingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, c := range codecs(t) {
		t.Run(c.Name, func(t *testing.T) {
			dir := store.NewRAMDirectory()
			si := codec.NewSegmentInfo("_0", 4, c.Name)
			infos := testInfos(t)
			writePostings(ctx, t, c, dir, si, infos)

			fp, err := c.Postings.FieldsProducer(ctx, &codec.SegmentReadState{Dir: dir, Segment: si, FieldInfos: infos})
			require.NoError(t, err)
			defer fp.Close()
			require.NoError(t, fp.CheckIntegrity(ctx))
			assert.Equal(t, []string{"body", "id", "tag"}, fp.Names())

			terms, err := fp.Terms("body")
			require.NoError(t, err)
			assert.EqualValues(t, 3, terms.Size())
			assert.Equal(t, 3, terms.DocCount())
			assert.EqualValues(t, 4, terms.SumDocFreq())
			assert.EqualValues(t, 5, terms.SumTotalTermFreq())
			assert.True(t, terms.HasPayloads())

			te, err := terms.Iterator()
			require.NoError(t, err)
			var got []string
			for {
				term, ok, err := te.Next()
				require.NoError(t, err)
				if !ok {
					break
				}
				got = append(got, string(term))
			}
			assert.Equal(t, []string{"", "fox", "quick"}, got)

			ok, err := te.SeekExact([]byte("fox"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 2, te.DocFreq())
			assert.EqualValues(t, 3, te.TotalTermFreq())
			pe, err := te.Postings()
			require.NoError(t, err)

			doc, err := pe.NextDoc()
			require.NoError(t, err)
			assert.Equal(t, 0, doc)
			assert.Equal(t, 2, pe.Freq())
			pos, err := pe.NextPosition()
			require.NoError(t, err)
			assert.Equal(t, 1, pos)
			assert.Equal(t, 4, pe.StartOffset())
			assert.Equal(t, 7, pe.EndOffset())
			assert.Equal(t, []byte("a"), pe.Payload())

			// Skipping the second position must not desync the stream.
			doc, err = pe.NextDoc()
			require.NoError(t, err)
			assert.Equal(t, 3, doc)
			pos, err = pe.NextPosition()
			require.NoError(t, err)
			assert.Equal(t, 0, pos)
			assert.Equal(t, []byte("bb"), pe.Payload())
			doc, err = pe.NextDoc()
			require.NoError(t, err)
			assert.Equal(t, codec.NoMoreDocs, doc)

			// Next continues after a successful seek.
			next, ok, err := te.Next()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "quick", string(next))

			ok, err = te.SeekExact([]byte("dog"))
			require.NoError(t, err)
			assert.False(t, ok)

			tags, err := fp.Terms("tag")
			require.NoError(t, err)
			assert.EqualValues(t, 100, tags.Size())
			te, err = tags.Iterator()
			require.NoError(t, err)
			for _, want := range []int{0, 31, 32, 33, 99} {
				ok, err := te.SeekExact([]byte(fmt.Sprintf("t%03d", want)))
				require.NoError(t, err)
				require.True(t, ok, "t%03d", want)
				assert.EqualValues(t, 1+want%3, te.TotalTermFreq())
			}

			ids, err := fp.Terms("id")
			require.NoError(t, err)
			assert.False(t, ids.HasFreqs())
			te, err = ids.Iterator()
			require.NoError(t, err)
			ok, err = te.SeekExact([]byte("id-02"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.EqualValues(t, 1, te.TotalTermFreq())
			pe, err = te.Postings()
			require.NoError(t, err)
			doc, err = pe.NextDoc()
			require.NoError(t, err)
			assert.Equal(t, 2, doc)
			assert.Equal(t, 1, pe.Freq())

			missing, err := fp.Terms("price")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestPostingsRejectDocOutOfBounds(t *testing.T) {
	ctx := context.Background()
	c, err := codec.Lookup(standard.Name)
	require.NoError(t, err)
	dir := store.NewRAMDirectory()
	si := codec.NewSegmentInfo("_0", 2, c.Name)
	infos := testInfos(t)
	fields := &memFields{fields: map[string]*testField{
		"id": {fi: infos.ByName("id"), terms: map[string][]testPosting{"x": {{doc: 5}}}},
	}}
	fc, err := c.Postings.FieldsConsumer(ctx, &codec.SegmentWriteState{Dir: dir, Segment: si, FieldInfos: infos})
	require.NoError(t, err)
	err = fc.Write(ctx, fields)
	require.ErrorIs(t, err, codec.ErrCorrupt)
	fc.Abort()
}

func TestPerFieldRouting(t *testing.T) {
	ctx := context.Background()
	c := standard.New(map[string]codec.PostingsFormat{"tag": compact.Postings})
	dir := store.NewRAMDirectory()
	si := codec.NewSegmentInfo("_0", 4, c.Name)
	infos := testInfos(t)
	writePostings(ctx, t, c, dir, si, infos)

	assert.Equal(t, "FST", infos.ByName("body").Attribute(codec.PerFieldFormatKey))
	assert.Equal(t, "Block", infos.ByName("tag").Attribute(codec.PerFieldFormatKey))
	assert.NotEqual(t, infos.ByName("body").Attribute(codec.PerFieldSuffixKey), infos.ByName("tag").Attribute(codec.PerFieldSuffixKey))

	files, err := dir.ListAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, files, "_0_FST_0.tfst")
	assert.Contains(t, files, "_0_Block_0.tblk")

	// The registered codec reads the routing back from the attributes.
	reader, err := codec.Lookup(standard.Name)
	require.NoError(t, err)
	fp, err := reader.Postings.FieldsProducer(ctx, &codec.SegmentReadState{Dir: dir, Segment: si, FieldInfos: infos})
	require.NoError(t, err)
	defer fp.Close()
	assert.Equal(t, []string{"body", "id", "tag"}, fp.Names())
	tags, err := fp.Terms("tag")
	require.NoError(t, err)
	assert.EqualValues(t, 100, tags.Size())
}

func TestPostingsCorruptionDetected(t *testing.T) {
	ctx := context.Background()
	c, err := codec.Lookup(standard.Name)
	require.NoError(t, err)
	dir := store.NewRAMDirectory()
	si := codec.NewSegmentInfo("_0", 4, c.Name)
	infos := testInfos(t)
	writePostings(ctx, t, c, dir, si, infos)

	// Body bytes of .doc are only verified by CheckIntegrity.
	docFile := "_0_FST_0.doc"
	require.NoError(t, dir.Corrupt(docFile, int64(codec.IndexHeaderLength("PostingsDoc", "FST_0"))+1))
	fp, err := c.Postings.FieldsProducer(ctx, &codec.SegmentReadState{Dir: dir, Segment: si, FieldInfos: infos})
	require.NoError(t, err)
	defer fp.Close()
	require.ErrorIs(t, fp.CheckIntegrity(ctx), codec.ErrCorrupt)

	// The dictionary is verified on open.
	require.NoError(t, dir.Corrupt("_0_FST_0.tfst", 40))
	_, err = c.Postings.FieldsProducer(ctx, &codec.SegmentReadState{Dir: dir, Segment: si, FieldInfos: infos})
	require.ErrorIs(t, err, codec.ErrCorrupt)
}

func TestSegmentAndFieldInfosRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := codec.Lookup(standard.Name)
	require.NoError(t, err)
	dir := store.NewRAMDirectory()
	si := codec.NewSegmentInfo("_a", 4, c.Name)
	si.Diagnostics = map[string]string{"source": "flush"}
	si.SetFiles([]string{"_a.fnm", "_a.fdt"})
	infos := testInfos(t)
	infos.ByName("body").PutAttribute("k", "v")

	require.NoError(t, c.FieldInfos.Write(ctx, dir, si, "", infos))
	require.NoError(t, c.SegmentInfo.Write(ctx, dir, si))

	got, err := c.SegmentInfo.Read(ctx, dir, "_a", si.ID)
	require.NoError(t, err)
	assert.Equal(t, si.MaxDoc, got.MaxDoc)
	assert.Equal(t, si.Codec, got.Codec)
	assert.Equal(t, "flush", got.Diagnostics["source"])
	assert.Equal(t, []string{"_a.fdt", "_a.fnm", "_a.si"}, got.Files())

	_, err = c.SegmentInfo.Read(ctx, dir, "_a", codec.NewID())
	require.ErrorIs(t, err, codec.ErrCorrupt)

	gotInfos, err := c.FieldInfos.Read(ctx, dir, si, "")
	require.NoError(t, err)
	require.Equal(t, infos.Len(), gotInfos.Len())
	body := gotInfos.ByName("body")
	require.NotNil(t, body)
	assert.Equal(t, document.IndexOptionsDocsAndFreqsAndPositionsAndOffsets, body.IndexOptions)
	assert.True(t, body.StorePayloads)
	assert.True(t, body.StoreTermVectors)
	assert.Equal(t, "v", body.Attribute("k"))
	assert.True(t, gotInfos.ByName("id").OmitNorms)
	assert.Equal(t, document.DocValuesNumeric, gotInfos.ByNumber(3).DocValuesType)
	assert.True(t, gotInfos.HasOffsets())
}

func TestStoredFieldsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, c := range codecs(t) {
		t.Run(c.Name, func(t *testing.T) {
			dir := store.NewRAMDirectory()
			const numDocs = 300
			si := codec.NewSegmentInfo("_0", numDocs, c.Name)
			infos, err := codec.NewFieldInfos([]*codec.FieldInfo{
				{Name: "title", Number: 0},
				{Name: "raw", Number: 1},
				{Name: "n", Number: 2},
				{Name: "f", Number: 3},
			})
			require.NoError(t, err)

			w, err := c.StoredFields.Writer(ctx, dir, si)
			require.NoError(t, err)
			for d := 0; d < numDocs; d++ {
				require.NoError(t, w.StartDocument())
				if d%7 != 0 {
					require.NoError(t, w.WriteField(infos.ByName("title"), document.NewStoredField("title", fmt.Sprintf("document number %d", d))))
					require.NoError(t, w.WriteField(infos.ByName("raw"), document.NewStoredBytesField("raw", []byte{byte(d), 0, 1})))
				}
				require.NoError(t, w.WriteField(infos.ByName("n"), document.NewStoredInt64Field("n", int64(-d))))
				require.NoError(t, w.WriteField(infos.ByName("f"), document.NewStoredFloat64Field("f", float64(d)/2)))
				require.NoError(t, w.FinishDocument())
			}
			require.NoError(t, w.Finish(numDocs))
			require.NoError(t, w.Close())

			r, err := c.StoredFields.Reader(ctx, dir, si, infos)
			require.NoError(t, err)
			defer r.Close()
			require.NoError(t, r.CheckIntegrity(ctx))

			for _, d := range []int{0, 1, 127, 128, 200, numDocs - 1, 5} {
				doc, err := r.Document(d)
				require.NoError(t, err)
				title, ok := doc.Get("title")
				if d%7 == 0 {
					assert.False(t, ok)
				} else {
					assert.Equal(t, fmt.Sprintf("document number %d", d), title)
					raw, _ := doc.GetFields("raw")[0].BytesValue()
					assert.Equal(t, []byte{byte(d), 0, 1}, raw)
				}
				n, ok := doc.GetFields("n")[0].Int64Value()
				require.True(t, ok)
				assert.Equal(t, int64(-d), n)
				f, ok := doc.GetFields("f")[0].Float64Value()
				require.True(t, ok)
				assert.InDelta(t, float64(d)/2, f, 0)
			}
			_, err = r.Document(numDocs)
			require.Error(t, err)
		})
	}
}

func TestTermVectorsRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := codec.Lookup(standard.Name)
	require.NoError(t, err)
	dir := store.NewRAMDirectory()
	si := codec.NewSegmentInfo("_0", 2, c.Name)
	infos := testInfos(t)

	vec := &codec.FieldVector{
		Field:        "body",
		HasPositions: true,
		HasOffsets:   true,
		Terms: []codec.VectorTerm{
			{Term: []byte("brown"), Freq: 1, Positions: []int{2}, StartOffsets: []int{10}, EndOffsets: []int{15}},
			{Term: []byte("brownie"), Freq: 2, Positions: []int{3, 9}, StartOffsets: []int{16, 40}, EndOffsets: []int{23, 47}},
		},
	}
	w, err := c.TermVectors.Writer(ctx, dir, si)
	require.NoError(t, err)
	require.NoError(t, w.StartDocument())
	require.NoError(t, w.FinishDocument())
	require.NoError(t, w.StartDocument())
	require.NoError(t, w.AddField(infos.ByName("body"), vec))
	require.NoError(t, w.FinishDocument())
	require.NoError(t, w.Finish(2))
	require.NoError(t, w.Close())

	r, err := c.TermVectors.Reader(ctx, dir, si, infos)
	require.NoError(t, err)
	defer r.Close()

	empty, err := r.Get(0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	got, err := r.Get(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "body", got[0].Field)
	require.Len(t, got[0].Terms, 2)
	assert.Equal(t, "brownie", string(got[0].Terms[1].Term))
	assert.Equal(t, []int{3, 9}, got[0].Terms[1].Positions)
	assert.Equal(t, []int{16, 40}, got[0].Terms[1].StartOffsets)
	assert.Equal(t, []int{23, 47}, got[0].Terms[1].EndOffsets)
}

func TestDocValuesAndNormsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, c := range codecs(t) {
		t.Run(c.Name, func(t *testing.T) {
			const maxDoc = 5000
			dir := store.NewRAMDirectory()
			si := codec.NewSegmentInfo("_0", maxDoc, c.Name)
			infos, err := codec.NewFieldInfos([]*codec.FieldInfo{
				{Name: "num", Number: 0, DocValuesType: document.DocValuesNumeric},
				{Name: "bin", Number: 1, DocValuesType: document.DocValuesBinary},
				{Name: "cat", Number: 2, DocValuesType: document.DocValuesSorted},
				{Name: "tags", Number: 3, DocValuesType: document.DocValuesSortedSet},
				{Name: "body", Number: 4, IndexOptions: document.IndexOptionsDocsAndFreqs},
			})
			require.NoError(t, err)

			num := codec.NewNumericValues(maxDoc)
			bin := codec.NewBinaryValues(maxDoc)
			cats := make([][]byte, maxDoc)
			tags := make([][][]byte, maxDoc)
			norms := codec.NewNumericValues(maxDoc)
			for d := 0; d < maxDoc; d++ {
				norms.Set(d, int64(d%13))
				if d%3 == 0 {
					continue
				}
				num.Set(d, int64(d)*1000-7)
				bin.Set(d, []byte(fmt.Sprint(d)))
				cats[d] = []byte(fmt.Sprintf("c%d", d%5))
				tags[d] = [][]byte{[]byte("z"), []byte("a"), []byte("z")}
			}
			num.Set(1, -1<<62)

			state := &codec.SegmentWriteState{Dir: dir, Segment: si, FieldInfos: infos}
			dvc, err := c.DocValues.Consumer(ctx, state)
			require.NoError(t, err)
			require.NoError(t, dvc.AddNumeric(infos.ByName("num"), num))
			require.NoError(t, dvc.AddBinary(infos.ByName("bin"), bin))
			require.NoError(t, dvc.AddSorted(infos.ByName("cat"), codec.BuildSortedValues(cats)))
			require.NoError(t, dvc.AddSortedSet(infos.ByName("tags"), codec.BuildSortedSetValues(tags)))
			require.NoError(t, dvc.Close())

			nc, err := c.Norms.Consumer(ctx, state)
			require.NoError(t, err)
			require.NoError(t, nc.AddNorms(infos.ByName("body"), norms))
			require.NoError(t, nc.Close())

			rs := &codec.SegmentReadState{Dir: dir, Segment: si, FieldInfos: infos}
			dvp, err := c.DocValues.Producer(ctx, rs)
			require.NoError(t, err)
			defer dvp.Close()

			gotNum, err := dvp.Numeric(infos.ByName("num"))
			require.NoError(t, err)
			v, ok := gotNum.Get(1)
			require.True(t, ok)
			assert.Equal(t, int64(-1<<62), v)
			v, ok = gotNum.Get(4999)
			require.True(t, ok)
			assert.Equal(t, int64(4999*1000-7), v)
			_, ok = gotNum.Get(3)
			assert.False(t, ok)

			gotBin, err := dvp.Binary(infos.ByName("bin"))
			require.NoError(t, err)
			b, ok := gotBin.Get(2)
			require.True(t, ok)
			assert.Equal(t, "2", string(b))

			gotCat, err := dvp.Sorted(infos.ByName("cat"))
			require.NoError(t, err)
			assert.Equal(t, 5, gotCat.ValueCount())
			b, ok = gotCat.Get(7)
			require.True(t, ok)
			assert.Equal(t, "c2", string(b))
			assert.Equal(t, -1, gotCat.Ord(0))

			gotTags, err := dvp.SortedSet(infos.ByName("tags"))
			require.NoError(t, err)
			assert.Equal(t, []int{0, 1}, gotTags.Ords(1))
			assert.Empty(t, gotTags.Ords(0))
			assert.Equal(t, "z", string(gotTags.LookupOrd(1)))

			_, err = dvp.Numeric(infos.ByName("bin"))
			require.Error(t, err)

			np, err := c.Norms.Producer(ctx, rs)
			require.NoError(t, err)
			defer np.Close()
			gotNorms, err := np.Norms(infos.ByName("body"))
			require.NoError(t, err)
			v, ok = gotNorms.Get(12)
			require.True(t, ok)
			assert.Equal(t, int64(12), v)
		})
	}
}

func TestLiveDocsRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := store.NewRAMDirectory()
	si := codec.NewSegmentInfo("_3", 10, standard.Name)
	var f codec.DefaultLiveDocsFormat

	deleted := roaring.BitmapOf(0, 4, 9)
	require.NoError(t, f.Write(ctx, dir, si, 2, deleted))
	assert.Equal(t, "_3_2.liv", f.FileName(si, 2))

	got, err := f.Read(ctx, dir, si, 2)
	require.NoError(t, err)
	assert.True(t, deleted.Equals(got))

	require.Error(t, f.Write(ctx, dir, si, 3, roaring.BitmapOf(10)))

	// A file from another generation does not validate.
	require.NoError(t, dir.Rename(ctx, "_3_2.liv", "_3_5.liv"))
	_, err = f.Read(ctx, dir, si, 5)
	require.ErrorIs(t, err, codec.ErrCorrupt)
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, codec.Names(), standard.Name)
	assert.Contains(t, codec.Names(), compact.Name)
	_, err := codec.Lookup("nope")
	require.ErrorIs(t, err, codec.ErrUnknownCodec)
	_, err = codec.LookupPostingsFormat("nope")
	require.ErrorIs(t, err, codec.ErrUnknownCodec)
	assert.Panics(t, func() { codec.Register(standard.New(nil)) })
}
