package codec

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/segdex/store"
)

const (
	vectorsDataCodec  = "TermVectorsData"
	vectorsIndexCodec = "TermVectorsIndex"
	vectorsVersion    = 1
	vectorsDataExt    = "tvd"
	vectorsIndexExt   = "tvx"

	vectorFlagPositions = 0x1
	vectorFlagOffsets   = 0x2
	vectorFlagPayloads  = 0x4
)

// DefaultTermVectorsFormat stores each document's vectors as a prefix-coded
// record addressed by a per-document offset table.
type DefaultTermVectorsFormat struct{}

func (DefaultTermVectorsFormat) Writer(ctx context.Context, dir store.Directory, si *SegmentInfo) (TermVectorsWriter, error) {
	out, err := dir.CreateOutput(ctx, SegmentFileName(si.Name, "", vectorsDataExt))
	if err != nil {
		return nil, err
	}
	if err := WriteIndexHeader(out, vectorsDataCodec, vectorsVersion, si.ID, ""); err != nil {
		out.Abort()
		return nil, err
	}
	return &termVectorsWriter{ctx: ctx, dir: dir, si: si, data: out}, nil
}

type termVectorsWriter struct {
	ctx  context.Context
	dir  store.Directory
	si   *SegmentInfo
	data *store.Output

	index   *store.Output
	starts  []int64
	buf     []byte
	nfields int
	lastNum int
}

func (w *termVectorsWriter) StartDocument() error {
	w.starts = append(w.starts, w.data.FilePointer())
	w.buf = w.buf[:0]
	w.nfields = 0
	w.lastNum = -1
	return nil
}

func (w *termVectorsWriter) AddField(fi *FieldInfo, v *FieldVector) error {
	if fi.Number <= w.lastNum {
		return fmt.Errorf("codec: term vector fields out of order: %d after %d", fi.Number, w.lastNum)
	}
	w.lastNum = fi.Number
	w.nfields++

	var flags byte
	if v.HasPositions {
		flags |= vectorFlagPositions
	}
	if v.HasOffsets {
		flags |= vectorFlagOffsets
	}
	if v.HasPayloads {
		flags |= vectorFlagPayloads
	}
	b := binary.AppendUvarint(w.buf, uint64(fi.Number))
	b = append(b, flags)
	b = binary.AppendUvarint(b, uint64(len(v.Terms)))
	var last []byte
	for i := range v.Terms {
		t := &v.Terms[i]
		if last != nil && bytes.Compare(t.Term, last) <= 0 {
			return fmt.Errorf("codec: term vector terms of %q out of order", fi.Name)
		}
		prefix := commonPrefix(last, t.Term)
		b = binary.AppendUvarint(b, uint64(prefix))
		b = binary.AppendUvarint(b, uint64(len(t.Term)-prefix))
		b = append(b, t.Term[prefix:]...)
		b = binary.AppendUvarint(b, uint64(t.Freq))
		last = t.Term

		lastPos, lastStart := 0, 0
		for j := 0; j < t.Freq; j++ {
			if v.HasPositions {
				b = binary.AppendUvarint(b, uint64(t.Positions[j]-lastPos))
				lastPos = t.Positions[j]
				if v.HasPayloads {
					var p []byte
					if j < len(t.Payloads) {
						p = t.Payloads[j]
					}
					b = binary.AppendUvarint(b, uint64(len(p)))
					b = append(b, p...)
				}
			}
			if v.HasOffsets {
				b = binary.AppendUvarint(b, uint64(t.StartOffsets[j]-lastStart))
				b = binary.AppendUvarint(b, uint64(t.EndOffsets[j]-t.StartOffsets[j]))
				lastStart = t.StartOffsets[j]
			}
		}
	}
	w.buf = b
	return nil
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func (w *termVectorsWriter) FinishDocument() error {
	if err := w.data.WriteVInt(int32(w.nfields)); err != nil {
		return err
	}
	return w.data.WriteBytes(w.buf)
}

func (w *termVectorsWriter) Finish(numDocs int) error {
	if len(w.starts) != numDocs {
		return fmt.Errorf("codec: term vectors wrote %d docs, segment has %d", len(w.starts), numDocs)
	}
	return nil
}

func (w *termVectorsWriter) Close() (err error) {
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()
	end := w.data.FilePointer()
	if err := WriteFooter(w.data); err != nil {
		return err
	}
	if err := w.data.Close(); err != nil {
		return err
	}
	if w.index, err = w.dir.CreateOutput(w.ctx, SegmentFileName(w.si.Name, "", vectorsIndexExt)); err != nil {
		return err
	}
	if err := WriteIndexHeader(w.index, vectorsIndexCodec, vectorsVersion, w.si.ID, ""); err != nil {
		return err
	}
	if err := w.index.WriteVInt(int32(len(w.starts))); err != nil {
		return err
	}
	prev := int64(0)
	for _, s := range append(w.starts, end) {
		if err := w.index.WriteVLong(s - prev); err != nil {
			return err
		}
		prev = s
	}
	if err := WriteFooter(w.index); err != nil {
		return err
	}
	return w.index.Close()
}

func (w *termVectorsWriter) Abort() {
	w.data.Abort()
	if w.index != nil {
		w.index.Abort()
	}
}

func (DefaultTermVectorsFormat) Reader(ctx context.Context, dir store.Directory, si *SegmentInfo, infos *FieldInfos) (TermVectorsReader, error) {
	indexName := SegmentFileName(si.Name, "", vectorsIndexExt)
	idx, err := OpenVerified(ctx, dir, indexName)
	if err != nil {
		return nil, err
	}
	if _, err := CheckIndexHeader(idx, vectorsIndexCodec, vectorsVersion, vectorsVersion, si.ID, ""); err != nil {
		return nil, err
	}
	r := &termVectorsReader{infos: infos}
	if err := r.readIndex(idx, si.MaxDoc); err != nil {
		return nil, WrapReadError(indexName, err)
	}
	if r.data, err = openChecked(ctx, dir, si, "", vectorsDataExt, vectorsDataCodec, vectorsVersion); err != nil {
		return nil, err
	}
	return r, nil
}

type termVectorsReader struct {
	infos  *FieldInfos
	data   *store.Input
	starts []int64
}

func (r *termVectorsReader) readIndex(in *store.Input, maxDoc int) error {
	n, err := in.ReadVInt()
	if err != nil {
		return err
	}
	if int(n) != maxDoc {
		return Corruptf(in.Name(), "term vectors cover %d docs, segment has %d", n, maxDoc)
	}
	r.starts = make([]int64, n+1)
	prev := int64(0)
	for i := range r.starts {
		d, err := in.ReadVLong()
		if err != nil {
			return err
		}
		prev += d
		r.starts[i] = prev
	}
	return CheckEOF(in)
}

func (r *termVectorsReader) Get(doc int) ([]*FieldVector, error) {
	if doc < 0 || doc+1 >= len(r.starts) {
		return nil, fmt.Errorf("codec: doc %d out of bounds [0,%d)", doc, len(r.starts)-1)
	}
	start, end := r.starts[doc], r.starts[doc+1]
	if end < start || end > r.data.Length()-FooterLength {
		return nil, Corruptf(r.data.Name(), "doc %d: invalid range [%d,%d)", doc, start, end)
	}
	buf := make([]byte, end-start)
	if _, err := r.data.ReadAt(buf, start); err != nil {
		return nil, WrapReadError(r.data.Name(), err)
	}
	vecs, err := r.decode(buf)
	if err != nil {
		return nil, WrapReadError(r.data.Name(), err)
	}
	return vecs, nil
}

func (r *termVectorsReader) decode(buf []byte) ([]*FieldVector, error) {
	br := bytes.NewReader(buf)
	uv := func() (int, error) {
		v, err := binary.ReadUvarint(br)
		return int(v), err
	}
	nfields, err := uv()
	if err != nil {
		return nil, err
	}
	out := make([]*FieldVector, 0, nfields)
	for f := 0; f < nfields; f++ {
		num, err := uv()
		if err != nil {
			return nil, err
		}
		fi := r.infos.ByNumber(num)
		if fi == nil {
			return nil, Corruptf(r.data.Name(), "unknown field number %d", num)
		}
		flags, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		v := &FieldVector{
			Field:        fi.Name,
			HasPositions: flags&vectorFlagPositions != 0,
			HasOffsets:   flags&vectorFlagOffsets != 0,
			HasPayloads:  flags&vectorFlagPayloads != 0,
		}
		nterms, err := uv()
		if err != nil {
			return nil, err
		}
		if nterms > len(buf) {
			return nil, Corruptf(r.data.Name(), "field %q: invalid term count %d", fi.Name, nterms)
		}
		v.Terms = make([]VectorTerm, nterms)
		var last []byte
		for i := range v.Terms {
			t := &v.Terms[i]
			prefix, err := uv()
			if err != nil {
				return nil, err
			}
			suffix, err := uv()
			if err != nil {
				return nil, err
			}
			if prefix > len(last) || suffix > br.Len() {
				return nil, Corruptf(r.data.Name(), "field %q: invalid term prefix", fi.Name)
			}
			t.Term = make([]byte, prefix+suffix)
			copy(t.Term, last[:prefix])
			if _, err := br.Read(t.Term[prefix:]); err != nil && suffix > 0 {
				return nil, err
			}
			last = t.Term
			if t.Freq, err = uv(); err != nil {
				return nil, err
			}
			if t.Freq > len(buf) {
				return nil, Corruptf(r.data.Name(), "field %q: invalid freq %d", fi.Name, t.Freq)
			}
			if err := decodeVectorPositions(br, v, t); err != nil {
				return nil, err
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeVectorPositions(br *bytes.Reader, v *FieldVector, t *VectorTerm) error {
	if !v.HasPositions && !v.HasOffsets {
		return nil
	}
	lastPos, lastStart := 0, 0
	for j := 0; j < t.Freq; j++ {
		if v.HasPositions {
			d, err := binary.ReadUvarint(br)
			if err != nil {
				return err
			}
			lastPos += int(d)
			t.Positions = append(t.Positions, lastPos)
			if v.HasPayloads {
				n, err := binary.ReadUvarint(br)
				if err != nil {
					return err
				}
				if n > uint64(br.Len()) {
					return fmt.Errorf("codec: payload length %d: %w", n, store.ErrMalformed)
				}
				var p []byte
				if n > 0 {
					p = make([]byte, n)
					_, _ = br.Read(p)
				}
				t.Payloads = append(t.Payloads, p)
			}
		}
		if v.HasOffsets {
			sd, err := binary.ReadUvarint(br)
			if err != nil {
				return err
			}
			l, err := binary.ReadUvarint(br)
			if err != nil {
				return err
			}
			lastStart += int(sd)
			t.StartOffsets = append(t.StartOffsets, lastStart)
			t.EndOffsets = append(t.EndOffsets, lastStart+int(l))
		}
	}
	return nil
}

func (r *termVectorsReader) CheckIntegrity(context.Context) error {
	_, err := ChecksumEntireFile(r.data)
	return err
}

func (r *termVectorsReader) Close() error { return r.data.Close() }
