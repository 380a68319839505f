package codec

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/store"
)

const (
	storedVersion  = 1
	storedDataExt  = "fdt"
	storedIndexExt = "fdx"

	// DefaultStoredChunkSize is the raw size at which a chunk is compressed.
	DefaultStoredChunkSize = 16 << 10
	// DefaultStoredChunkDocs caps the documents per chunk.
	DefaultStoredChunkDocs = 128
)

const (
	chunkRaw        = 0
	chunkCompressed = 1
)

type storedFieldsFormat struct {
	name      string
	comp      Compressor
	chunkSize int
	chunkDocs int
}

// NewStoredFieldsFormat returns a format that groups documents into chunks
// and compresses each chunk with comp. chunkSize <= 0 selects
// DefaultStoredChunkSize.
func NewStoredFieldsFormat(name string, comp Compressor, chunkSize int) StoredFieldsFormat {
	if chunkSize <= 0 {
		chunkSize = DefaultStoredChunkSize
	}
	return &storedFieldsFormat{name: name, comp: comp, chunkSize: chunkSize, chunkDocs: DefaultStoredChunkDocs}
}

func (f *storedFieldsFormat) Writer(ctx context.Context, dir store.Directory, si *SegmentInfo) (StoredFieldsWriter, error) {
	out, err := dir.CreateOutput(ctx, SegmentFileName(si.Name, "", storedDataExt))
	if err != nil {
		return nil, err
	}
	if err := WriteIndexHeader(out, f.name, storedVersion, si.ID, ""); err != nil {
		out.Abort()
		return nil, err
	}
	return &storedFieldsWriter{f: f, ctx: ctx, dir: dir, si: si, data: out}, nil
}

type chunkEntry struct {
	docBase int
	fp      int64
}

type storedFieldsWriter struct {
	f   *storedFieldsFormat
	ctx context.Context
	dir store.Directory
	si  *SegmentInfo

	data  *store.Output
	index *store.Output

	buf      []byte
	docLens  []int
	docStart int
	docBase  int
	chunks   []chunkEntry
	scratch  []byte
}

func (w *storedFieldsWriter) StartDocument() error {
	w.docStart = len(w.buf)
	return nil
}

func (w *storedFieldsWriter) WriteField(fi *FieldInfo, f *document.Field) error {
	kind := f.Kind()
	if kind == document.KindNone {
		return fmt.Errorf("codec: stored field %q has no value", fi.Name)
	}
	w.buf = binary.AppendUvarint(w.buf, uint64(fi.Number)<<3|uint64(kind))
	switch kind {
	case document.KindString:
		s, _ := f.StringValue()
		w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
		w.buf = append(w.buf, s...)
	case document.KindBytes:
		b, _ := f.BytesValue()
		w.buf = binary.AppendUvarint(w.buf, uint64(len(b)))
		w.buf = append(w.buf, b...)
	case document.KindInt64:
		v, _ := f.Int64Value()
		w.buf = binary.AppendVarint(w.buf, v)
	case document.KindFloat64:
		v, _ := f.Float64Value()
		w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
	}
	return nil
}

func (w *storedFieldsWriter) FinishDocument() error {
	w.docLens = append(w.docLens, len(w.buf)-w.docStart)
	if len(w.buf) >= w.f.chunkSize || len(w.docLens) >= w.f.chunkDocs {
		return w.flushChunk()
	}
	return nil
}

func (w *storedFieldsWriter) flushChunk() error {
	if len(w.docLens) == 0 {
		return nil
	}
	w.chunks = append(w.chunks, chunkEntry{docBase: w.docBase, fp: w.data.FilePointer()})
	if err := w.data.WriteVInt(int32(w.docBase)); err != nil {
		return err
	}
	if err := w.data.WriteVInt(int32(len(w.docLens))); err != nil {
		return err
	}
	for _, n := range w.docLens {
		if err := w.data.WriteVInt(int32(n)); err != nil {
			return err
		}
	}
	if err := w.data.WriteVInt(int32(len(w.buf))); err != nil {
		return err
	}
	compressed, err := w.f.comp.Compress(w.scratch[:0], w.buf)
	if err != nil {
		return err
	}
	if compressed == nil {
		if err := w.data.WriteByte(chunkRaw); err != nil {
			return err
		}
		if err := w.data.WriteBytes(w.buf); err != nil {
			return err
		}
	} else {
		w.scratch = compressed
		if err := w.data.WriteByte(chunkCompressed); err != nil {
			return err
		}
		if err := w.data.WriteVInt(int32(len(compressed))); err != nil {
			return err
		}
		if err := w.data.WriteBytes(compressed); err != nil {
			return err
		}
	}
	w.docBase += len(w.docLens)
	w.docLens = w.docLens[:0]
	w.buf = w.buf[:0]
	return nil
}

func (w *storedFieldsWriter) Finish(numDocs int) error {
	if err := w.flushChunk(); err != nil {
		return err
	}
	if w.docBase != numDocs {
		return fmt.Errorf("codec: stored fields wrote %d docs, segment has %d", w.docBase, numDocs)
	}
	return nil
}

func (w *storedFieldsWriter) Close() (err error) {
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()
	if err := WriteFooter(w.data); err != nil {
		return err
	}
	if err := w.data.Close(); err != nil {
		return err
	}
	w.index, err = w.dir.CreateOutput(w.ctx, SegmentFileName(w.si.Name, "", storedIndexExt))
	if err != nil {
		return err
	}
	if err := WriteIndexHeader(w.index, w.f.name+"Index", storedVersion, w.si.ID, ""); err != nil {
		return err
	}
	if err := w.index.WriteVInt(int32(w.docBase)); err != nil {
		return err
	}
	if err := w.index.WriteVInt(int32(len(w.chunks))); err != nil {
		return err
	}
	prev := chunkEntry{}
	for _, c := range w.chunks {
		if err := w.index.WriteVInt(int32(c.docBase - prev.docBase)); err != nil {
			return err
		}
		if err := w.index.WriteVLong(c.fp - prev.fp); err != nil {
			return err
		}
		prev = c
	}
	if err := WriteFooter(w.index); err != nil {
		return err
	}
	return w.index.Close()
}

func (w *storedFieldsWriter) Abort() {
	w.data.Abort()
	if w.index != nil {
		w.index.Abort()
	}
}

func (f *storedFieldsFormat) Reader(ctx context.Context, dir store.Directory, si *SegmentInfo, infos *FieldInfos) (_ StoredFieldsReader, err error) {
	indexName := SegmentFileName(si.Name, "", storedIndexExt)
	idx, err := OpenVerified(ctx, dir, indexName)
	if err != nil {
		return nil, err
	}
	if _, err := CheckIndexHeader(idx, f.name+"Index", storedVersion, storedVersion, si.ID, ""); err != nil {
		return nil, err
	}
	r := &storedFieldsReader{f: f, infos: infos, cached: -1}
	if err := r.readIndex(idx, si.MaxDoc); err != nil {
		return nil, WrapReadError(indexName, err)
	}
	if r.data, err = openChecked(ctx, dir, si, "", storedDataExt, f.name, storedVersion); err != nil {
		return nil, err
	}
	return r, nil
}

type storedFieldsReader struct {
	f      *storedFieldsFormat
	infos  *FieldInfos
	data   *store.Input
	chunks []chunkEntry
	maxDoc int

	mu      sync.Mutex
	cached  int
	raw     []byte
	offsets []int
	zbuf    []byte
}

func (r *storedFieldsReader) readIndex(in *store.Input, maxDoc int) error {
	n, err := in.ReadVInt()
	if err != nil {
		return err
	}
	if int(n) != maxDoc {
		return Corruptf(in.Name(), "stored fields cover %d docs, segment has %d", n, maxDoc)
	}
	r.maxDoc = maxDoc
	count, err := in.ReadVInt()
	if err != nil {
		return err
	}
	if count < 0 || int(count) > maxDoc {
		return Corruptf(in.Name(), "invalid chunk count %d", count)
	}
	prev := chunkEntry{}
	r.chunks = make([]chunkEntry, count)
	for i := range r.chunks {
		d, err := in.ReadVInt()
		if err != nil {
			return err
		}
		fp, err := in.ReadVLong()
		if err != nil {
			return err
		}
		prev = chunkEntry{docBase: prev.docBase + int(d), fp: prev.fp + fp}
		r.chunks[i] = prev
	}
	return CheckEOF(in)
}

func (r *storedFieldsReader) Document(doc int) (*document.Document, error) {
	if doc < 0 || doc >= r.maxDoc {
		return nil, fmt.Errorf("codec: doc %d out of bounds [0,%d)", doc, r.maxDoc)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.chunks), func(i int) bool { return r.chunks[i].docBase > doc }) - 1
	if i < 0 {
		return nil, Corruptf(r.data.Name(), "no chunk for doc %d", doc)
	}
	if r.cached != i {
		if err := r.loadChunk(i); err != nil {
			r.cached = -1
			return nil, WrapReadError(r.data.Name(), err)
		}
	}
	rel := doc - r.chunks[i].docBase
	return r.decodeDocument(r.raw[r.offsets[rel]:r.offsets[rel+1]])
}

func (r *storedFieldsReader) loadChunk(i int) error {
	in := r.data.Clone()
	if err := in.SeekTo(r.chunks[i].fp); err != nil {
		return err
	}
	docBase, err := in.ReadVInt()
	if err != nil {
		return err
	}
	numDocs, err := in.ReadVInt()
	if err != nil {
		return err
	}
	if int(docBase) != r.chunks[i].docBase || numDocs <= 0 {
		return Corruptf(in.Name(), "chunk %d: docBase %d numDocs %d", i, docBase, numDocs)
	}
	r.offsets = append(r.offsets[:0], 0)
	for d := int32(0); d < numDocs; d++ {
		n, err := in.ReadVInt()
		if err != nil {
			return err
		}
		r.offsets = append(r.offsets, r.offsets[len(r.offsets)-1]+int(n))
	}
	rawLen, err := in.ReadVInt()
	if err != nil {
		return err
	}
	if int(rawLen) != r.offsets[len(r.offsets)-1] {
		return Corruptf(in.Name(), "chunk %d: raw length %d, doc lengths sum to %d", i, rawLen, r.offsets[len(r.offsets)-1])
	}
	flag, err := in.ReadByte()
	if err != nil {
		return err
	}
	switch flag {
	case chunkRaw:
		r.raw = growBytes(r.raw, int(rawLen))
		if err := in.ReadBytes(r.raw); err != nil {
			return err
		}
	case chunkCompressed:
		n, err := in.ReadVInt()
		if err != nil {
			return err
		}
		if n < 0 || int64(n) > in.Length()-in.FilePointer() {
			return Corruptf(in.Name(), "chunk %d: invalid compressed length %d", i, n)
		}
		r.zbuf = growBytes(r.zbuf, int(n))
		if err := in.ReadBytes(r.zbuf); err != nil {
			return err
		}
		if r.raw, err = r.f.comp.Decompress(r.raw, r.zbuf, int(rawLen)); err != nil {
			return &CorruptError{Resource: in.Name(), Reason: fmt.Sprintf("chunk %d: %s", i, r.f.comp.Name()), Err: err}
		}
	default:
		return Corruptf(in.Name(), "chunk %d: unknown chunk flag %d", i, flag)
	}
	r.cached = i
	return nil
}

func growBytes(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}

func (r *storedFieldsReader) decodeDocument(b []byte) (*document.Document, error) {
	doc := &document.Document{}
	for len(b) > 0 {
		code, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, Corruptf(r.data.Name(), "invalid stored field header")
		}
		b = b[n:]
		fi := r.infos.ByNumber(int(code >> 3))
		if fi == nil {
			return nil, Corruptf(r.data.Name(), "unknown field number %d", code>>3)
		}
		switch document.ValueKind(code & 7) {
		case document.KindString, document.KindBytes:
			l, n := binary.Uvarint(b)
			if n <= 0 || uint64(len(b)-n) < l {
				return nil, Corruptf(r.data.Name(), "field %q: invalid value length", fi.Name)
			}
			v := b[n : n+int(l)]
			b = b[n+int(l):]
			if document.ValueKind(code&7) == document.KindString {
				doc.Add(document.NewStoredField(fi.Name, string(v)))
			} else {
				doc.Add(document.NewStoredBytesField(fi.Name, append([]byte(nil), v...)))
			}
		case document.KindInt64:
			v, n := binary.Varint(b)
			if n <= 0 {
				return nil, Corruptf(r.data.Name(), "field %q: invalid int64", fi.Name)
			}
			b = b[n:]
			doc.Add(document.NewStoredInt64Field(fi.Name, v))
		case document.KindFloat64:
			if len(b) < 8 {
				return nil, Corruptf(r.data.Name(), "field %q: truncated float64", fi.Name)
			}
			doc.Add(document.NewStoredFloat64Field(fi.Name, math.Float64frombits(binary.LittleEndian.Uint64(b))))
			b = b[8:]
		default:
			return nil, Corruptf(r.data.Name(), "field %q: unknown value kind %d", fi.Name, code&7)
		}
	}
	return doc, nil
}

func (r *storedFieldsReader) CheckIntegrity(context.Context) error {
	_, err := ChecksumEntireFile(r.data)
	return err
}

func (r *storedFieldsReader) Close() error { return r.data.Close() }
