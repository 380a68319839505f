package codec

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/store"
)

// NumericEncoder packs int64 sequences. Encodings must be deterministic for
// a given input sequence.
type NumericEncoder interface {
	Name() string
	// Encode appends the encoding of values to dst.
	Encode(dst []byte, values []int64) []byte
	// Decode decodes n values.
	Decode(src []byte, n int) ([]int64, error)
}

const (
	docValuesVersion = 1
	docValuesExt     = "dvd"
	normsExt         = "nvd"

	docsAll    = 1
	docsBitmap = 0
)

type columnFormat struct {
	codec string
	ext   string
	enc   NumericEncoder
}

// NewDocValuesFormat returns a doc values format whose integer streams are
// packed by enc.
func NewDocValuesFormat(enc NumericEncoder) DocValuesFormat {
	return &docValuesFormat{columnFormat{codec: "DocValues" + enc.Name(), ext: docValuesExt, enc: enc}}
}

// NewNormsFormat returns a norms format whose values are packed by enc.
func NewNormsFormat(enc NumericEncoder) NormsFormat {
	return &normsFormat{columnFormat{codec: "Norms" + enc.Name(), ext: normsExt, enc: enc}}
}

type docValuesFormat struct{ columnFormat }

type normsFormat struct{ columnFormat }

func (f *columnFormat) create(ctx context.Context, state *SegmentWriteState) (*columnWriter, error) {
	out, err := state.Dir.CreateOutput(ctx, SegmentFileName(state.Segment.Name, state.Suffix, f.ext))
	if err != nil {
		return nil, err
	}
	if err := WriteIndexHeader(out, f.codec, docValuesVersion, state.Segment.ID, state.Suffix); err != nil {
		out.Abort()
		return nil, err
	}
	return &columnWriter{f: f, out: out, maxDoc: state.Segment.MaxDoc}, nil
}

func (f *docValuesFormat) Consumer(ctx context.Context, state *SegmentWriteState) (DocValuesConsumer, error) {
	return f.create(ctx, state)
}

func (f *normsFormat) Consumer(ctx context.Context, state *SegmentWriteState) (NormsConsumer, error) {
	return f.create(ctx, state)
}

// columnWriter writes one entry per field:
//
//	vint(fieldNumber+1) byte(type) payload
//
// and a terminating vint(0).
type columnWriter struct {
	f      *columnFormat
	out    *store.Output
	maxDoc int
	buf    []byte
}

func (w *columnWriter) begin(fi *FieldInfo, t document.DocValuesType) {
	w.buf = binary.AppendUvarint(w.buf[:0], uint64(fi.Number)+1)
	w.buf = append(w.buf, byte(t))
}

func (w *columnWriter) check(fi *FieldInfo, maxDoc int) error {
	if maxDoc != w.maxDoc {
		return fmt.Errorf("codec: column of %q has %d docs, segment has %d", fi.Name, maxDoc, w.maxDoc)
	}
	return nil
}

func (w *columnWriter) appendDocs(docs *roaring.Bitmap) error {
	if int(docs.GetCardinality()) == w.maxDoc {
		w.buf = append(w.buf, docsAll)
		return nil
	}
	docs.RunOptimize()
	b, err := docs.ToBytes()
	if err != nil {
		return err
	}
	w.buf = append(w.buf, docsBitmap)
	w.buf = binary.AppendUvarint(w.buf, uint64(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

func (w *columnWriter) appendBlock(values []int64) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(values)))
	enc := w.f.enc.Encode(nil, values)
	w.buf = binary.AppendUvarint(w.buf, uint64(len(enc)))
	w.buf = append(w.buf, enc...)
}

func (w *columnWriter) appendTerms(terms [][]byte) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(terms)))
	var last []byte
	for _, t := range terms {
		p := commonPrefix(last, t)
		w.buf = binary.AppendUvarint(w.buf, uint64(p))
		w.buf = binary.AppendUvarint(w.buf, uint64(len(t)-p))
		w.buf = append(w.buf, t[p:]...)
		last = t
	}
}

func (w *columnWriter) flushEntry() error {
	return w.out.WriteBytes(w.buf)
}

func (w *columnWriter) AddNumeric(fi *FieldInfo, v *NumericValues) error {
	if err := w.check(fi, v.MaxDoc()); err != nil {
		return err
	}
	w.begin(fi, document.DocValuesNumeric)
	if err := w.appendDocs(v.docs); err != nil {
		return err
	}
	vals := make([]int64, 0, v.docs.GetCardinality())
	it := v.docs.Iterator()
	for it.HasNext() {
		vals = append(vals, v.values[it.Next()])
	}
	w.appendBlock(vals)
	return w.flushEntry()
}

func (w *columnWriter) AddNorms(fi *FieldInfo, v *NumericValues) error {
	return w.AddNumeric(fi, v)
}

func (w *columnWriter) AddBinary(fi *FieldInfo, v *BinaryValues) error {
	if err := w.check(fi, v.MaxDoc()); err != nil {
		return err
	}
	w.begin(fi, document.DocValuesBinary)
	if err := w.appendDocs(v.docs); err != nil {
		return err
	}
	lens := make([]int64, 0, v.docs.GetCardinality())
	var total int
	it := v.docs.Iterator()
	for it.HasNext() {
		n := len(v.values[it.Next()])
		lens = append(lens, int64(n))
		total += n
	}
	w.appendBlock(lens)
	w.buf = binary.AppendUvarint(w.buf, uint64(total))
	it = v.docs.Iterator()
	for it.HasNext() {
		w.buf = append(w.buf, v.values[it.Next()]...)
	}
	return w.flushEntry()
}

func (w *columnWriter) AddSorted(fi *FieldInfo, v *SortedValues) error {
	if err := w.check(fi, v.MaxDoc()); err != nil {
		return err
	}
	w.begin(fi, document.DocValuesSorted)
	w.appendTerms(v.terms)
	ords := make([]int64, len(v.ords))
	for i, o := range v.ords {
		ords[i] = int64(o) + 1
	}
	w.appendBlock(ords)
	return w.flushEntry()
}

func (w *columnWriter) AddSortedSet(fi *FieldInfo, v *SortedSetValues) error {
	if err := w.check(fi, v.MaxDoc()); err != nil {
		return err
	}
	w.begin(fi, document.DocValuesSortedSet)
	w.appendTerms(v.terms)
	counts := make([]int64, v.MaxDoc())
	for d := range counts {
		counts[d] = int64(v.starts[d+1] - v.starts[d])
	}
	w.appendBlock(counts)
	ords := make([]int64, len(v.ords))
	for i, o := range v.ords {
		ords[i] = int64(o)
	}
	w.appendBlock(ords)
	return w.flushEntry()
}

func (w *columnWriter) Close() error {
	if err := w.out.WriteVInt(0); err != nil {
		w.out.Abort()
		return err
	}
	if err := WriteFooter(w.out); err != nil {
		w.out.Abort()
		return err
	}
	return w.out.Close()
}

func (w *columnWriter) Abort() { w.out.Abort() }

func (f *docValuesFormat) Producer(ctx context.Context, state *SegmentReadState) (DocValuesProducer, error) {
	return f.open(ctx, state)
}

func (f *normsFormat) Producer(ctx context.Context, state *SegmentReadState) (NormsProducer, error) {
	return f.open(ctx, state)
}

type columnReader struct {
	name      string
	numeric   map[int]*NumericValues
	binary    map[int]*BinaryValues
	sorted    map[int]*SortedValues
	sortedSet map[int]*SortedSetValues
}

// open reads and verifies the whole file. Columns are decoded eagerly.
func (f *columnFormat) open(ctx context.Context, state *SegmentReadState) (*columnReader, error) {
	name := SegmentFileName(state.Segment.Name, state.Suffix, f.ext)
	in, err := OpenVerified(ctx, state.Dir, name)
	if err != nil {
		return nil, err
	}
	if _, err := CheckIndexHeader(in, f.codec, docValuesVersion, docValuesVersion, state.Segment.ID, state.Suffix); err != nil {
		return nil, err
	}
	r := &columnReader{
		name:      name,
		numeric:   make(map[int]*NumericValues),
		binary:    make(map[int]*BinaryValues),
		sorted:    make(map[int]*SortedValues),
		sortedSet: make(map[int]*SortedSetValues),
	}
	d := &columnDecoder{in: in, enc: f.enc, maxDoc: state.Segment.MaxDoc}
	if err := d.decodeAll(r, state.FieldInfos); err != nil {
		return nil, WrapReadError(name, err)
	}
	return r, nil
}

type columnDecoder struct {
	in     *store.Input
	enc    NumericEncoder
	maxDoc int
}

func (d *columnDecoder) decodeAll(r *columnReader, infos *FieldInfos) error {
	for {
		num, err := d.in.ReadVInt()
		if err != nil {
			return err
		}
		if num == 0 {
			break
		}
		fi := infos.ByNumber(int(num) - 1)
		if fi == nil {
			return Corruptf(d.in.Name(), "unknown field number %d", num-1)
		}
		t, err := d.in.ReadByte()
		if err != nil {
			return err
		}
		switch document.DocValuesType(t) {
		case document.DocValuesNumeric:
			v, err := d.numeric()
			if err != nil {
				return err
			}
			r.numeric[fi.Number] = v
		case document.DocValuesBinary:
			v, err := d.binary()
			if err != nil {
				return err
			}
			r.binary[fi.Number] = v
		case document.DocValuesSorted:
			v, err := d.sortedColumn()
			if err != nil {
				return err
			}
			r.sorted[fi.Number] = v
		case document.DocValuesSortedSet:
			v, err := d.sortedSetColumn()
			if err != nil {
				return err
			}
			r.sortedSet[fi.Number] = v
		default:
			return Corruptf(d.in.Name(), "field %q: unknown column type %d", fi.Name, t)
		}
	}
	return CheckEOF(d.in)
}

func (d *columnDecoder) bytes(n int64) ([]byte, error) {
	if n < 0 || n > d.in.Length()-d.in.FilePointer() {
		return nil, Corruptf(d.in.Name(), "invalid length %d", n)
	}
	b := make([]byte, n)
	if err := d.in.ReadBytes(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (d *columnDecoder) docs() (*roaring.Bitmap, error) {
	kind, err := d.in.ReadByte()
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	switch kind {
	case docsAll:
		bm.AddRange(0, uint64(d.maxDoc))
	case docsBitmap:
		n, err := d.in.ReadVLong()
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(n)
		if err != nil {
			return nil, err
		}
		if err := bm.UnmarshalBinary(b); err != nil {
			return nil, &CorruptError{Resource: d.in.Name(), Reason: "invalid docs bitmap", Err: err}
		}
		if !bm.IsEmpty() && int(bm.Maximum()) >= d.maxDoc {
			return nil, Corruptf(d.in.Name(), "doc %d out of bounds", bm.Maximum())
		}
	default:
		return nil, Corruptf(d.in.Name(), "unknown docs encoding %d", kind)
	}
	return bm, nil
}

func (d *columnDecoder) block() ([]int64, error) {
	n, err := d.in.ReadVLong()
	if err != nil {
		return nil, err
	}
	size, err := d.in.ReadVLong()
	if err != nil {
		return nil, err
	}
	b, err := d.bytes(size)
	if err != nil {
		return nil, err
	}
	if n > int64(d.maxDoc)*64+int64(len(b))*8 {
		return nil, Corruptf(d.in.Name(), "invalid value count %d", n)
	}
	vals, err := d.enc.Decode(b, int(n))
	if err != nil {
		return nil, &CorruptError{Resource: d.in.Name(), Reason: "invalid " + d.enc.Name() + " block", Err: err}
	}
	return vals, nil
}

func (d *columnDecoder) terms() ([][]byte, error) {
	n, err := d.in.ReadVLong()
	if err != nil {
		return nil, err
	}
	if n > d.in.Length() {
		return nil, Corruptf(d.in.Name(), "invalid term count %d", n)
	}
	terms := make([][]byte, n)
	var last []byte
	for i := range terms {
		p, err := d.in.ReadVLong()
		if err != nil {
			return nil, err
		}
		s, err := d.in.ReadVLong()
		if err != nil {
			return nil, err
		}
		if p > int64(len(last)) {
			return nil, Corruptf(d.in.Name(), "invalid term prefix %d", p)
		}
		suffix, err := d.bytes(s)
		if err != nil {
			return nil, err
		}
		t := make([]byte, 0, int(p)+len(suffix))
		t = append(append(t, last[:p]...), suffix...)
		terms[i] = t
		last = t
	}
	if err := checkSortedTerms(terms); err != nil {
		return nil, &CorruptError{Resource: d.in.Name(), Reason: "dictionary", Err: err}
	}
	return terms, nil
}

func (d *columnDecoder) numeric() (*NumericValues, error) {
	docs, err := d.docs()
	if err != nil {
		return nil, err
	}
	vals, err := d.block()
	if err != nil {
		return nil, err
	}
	if uint64(len(vals)) != docs.GetCardinality() {
		return nil, Corruptf(d.in.Name(), "%d values for %d docs", len(vals), docs.GetCardinality())
	}
	v := &NumericValues{docs: docs, values: make([]int64, d.maxDoc)}
	it := docs.Iterator()
	for i := 0; it.HasNext(); i++ {
		v.values[it.Next()] = vals[i]
	}
	return v, nil
}

func (d *columnDecoder) binary() (*BinaryValues, error) {
	docs, err := d.docs()
	if err != nil {
		return nil, err
	}
	lens, err := d.block()
	if err != nil {
		return nil, err
	}
	if uint64(len(lens)) != docs.GetCardinality() {
		return nil, Corruptf(d.in.Name(), "%d lengths for %d docs", len(lens), docs.GetCardinality())
	}
	total, err := d.in.ReadVLong()
	if err != nil {
		return nil, err
	}
	data, err := d.bytes(total)
	if err != nil {
		return nil, err
	}
	v := &BinaryValues{docs: docs, values: make([][]byte, d.maxDoc)}
	it := docs.Iterator()
	off := int64(0)
	for i := 0; it.HasNext(); i++ {
		end := off + lens[i]
		if lens[i] < 0 || end > int64(len(data)) {
			return nil, Corruptf(d.in.Name(), "binary value %d overruns data", i)
		}
		v.values[it.Next()] = data[off:end:end]
		off = end
	}
	if off != int64(len(data)) {
		return nil, Corruptf(d.in.Name(), "binary lengths sum to %d, data has %d bytes", off, len(data))
	}
	return v, nil
}

func (d *columnDecoder) sortedColumn() (*SortedValues, error) {
	terms, err := d.terms()
	if err != nil {
		return nil, err
	}
	raw, err := d.block()
	if err != nil {
		return nil, err
	}
	if len(raw) != d.maxDoc {
		return nil, Corruptf(d.in.Name(), "%d ordinals for %d docs", len(raw), d.maxDoc)
	}
	ords := make([]int32, len(raw))
	for i, o := range raw {
		ords[i] = int32(o - 1)
	}
	v, err := NewSortedValues(terms, ords)
	if err != nil {
		return nil, &CorruptError{Resource: d.in.Name(), Reason: "sorted column", Err: err}
	}
	return v, nil
}

func (d *columnDecoder) sortedSetColumn() (*SortedSetValues, error) {
	terms, err := d.terms()
	if err != nil {
		return nil, err
	}
	counts, err := d.block()
	if err != nil {
		return nil, err
	}
	if len(counts) != d.maxDoc {
		return nil, Corruptf(d.in.Name(), "%d counts for %d docs", len(counts), d.maxDoc)
	}
	ords, err := d.block()
	if err != nil {
		return nil, err
	}
	v := &SortedSetValues{terms: terms, starts: make([]int, 1, d.maxDoc+1), ords: make([]int, len(ords))}
	for i, o := range ords {
		if o < 0 || o >= int64(len(terms)) {
			return nil, Corruptf(d.in.Name(), "ordinal %d outside [0,%d)", o, len(terms))
		}
		v.ords[i] = int(o)
	}
	total := 0
	for _, c := range counts {
		if c < 0 {
			return nil, Corruptf(d.in.Name(), "negative ordinal count %d", c)
		}
		total += int(c)
		if total > len(ords) {
			return nil, Corruptf(d.in.Name(), "ordinal counts exceed %d ordinals", len(ords))
		}
		v.starts = append(v.starts, total)
	}
	if total != len(ords) {
		return nil, Corruptf(d.in.Name(), "ordinal counts sum to %d, have %d", total, len(ords))
	}
	return v, nil
}

func (r *columnReader) Numeric(fi *FieldInfo) (*NumericValues, error) {
	if v, ok := r.numeric[fi.Number]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("codec: no numeric column for field %q in %s", fi.Name, r.name)
}

func (r *columnReader) Norms(fi *FieldInfo) (*NumericValues, error) { return r.Numeric(fi) }

func (r *columnReader) Binary(fi *FieldInfo) (*BinaryValues, error) {
	if v, ok := r.binary[fi.Number]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("codec: no binary column for field %q in %s", fi.Name, r.name)
}

func (r *columnReader) Sorted(fi *FieldInfo) (*SortedValues, error) {
	if v, ok := r.sorted[fi.Number]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("codec: no sorted column for field %q in %s", fi.Name, r.name)
}

func (r *columnReader) SortedSet(fi *FieldInfo) (*SortedSetValues, error) {
	if v, ok := r.sortedSet[fi.Number]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("codec: no sorted set column for field %q in %s", fi.Name, r.name)
}

// CheckIntegrity is a no-op: the file was verified when opened.
func (r *columnReader) CheckIntegrity(context.Context) error { return nil }

func (r *columnReader) Close() error { return nil }
