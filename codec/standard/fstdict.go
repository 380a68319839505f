package standard

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/blevesearch/vellum"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/store"
)

const (
	fstDictCodec   = "FSTTermDict"
	fstDictVersion = 1
	fstDictExt     = "tfst"
)

// FSTDict is a term dictionary backed by a vellum FST per field. The FST maps
// each term to the offset of its metadata in a per-field side block, and the
// whole dictionary is loaded when a segment is opened.
//
// File layout after the index header, per field:
//
//	vint(fieldNumber+1) vlong(len) fst vlong(len) metas stats
//
// terminated by vint(0) and the footer.
type FSTDict struct{}

func (FSTDict) Name() string { return "FST" }

func (FSTDict) NewWriter(ctx context.Context, state *codec.SegmentWriteState) (codec.TermDictWriter, error) {
	out, err := state.Dir.CreateOutput(ctx, codec.SegmentFileName(state.Segment.Name, state.Suffix, fstDictExt))
	if err != nil {
		return nil, err
	}
	if err := codec.WriteIndexHeader(out, fstDictCodec, fstDictVersion, state.Segment.ID, state.Suffix); err != nil {
		out.Abort()
		return nil, err
	}
	return &fstWriter{out: out}, nil
}

type fstWriter struct {
	out     *store.Output
	fi      *codec.FieldInfo
	builder *vellum.Builder
	fstBuf  bytes.Buffer
	metas   []byte
}

func (w *fstWriter) StartField(fi *codec.FieldInfo) error {
	if w.fi != nil {
		return fmt.Errorf("standard: field %q started before %q finished", fi.Name, w.fi.Name)
	}
	w.fi = fi
	w.fstBuf.Reset()
	w.metas = w.metas[:0]
	var err error
	if w.builder == nil {
		w.builder, err = vellum.New(&w.fstBuf, nil)
	} else {
		err = w.builder.Reset(&w.fstBuf)
	}
	return err
}

func (w *fstWriter) AddTerm(term []byte, meta codec.TermMeta) error {
	if err := w.builder.Insert(term, uint64(len(w.metas))); err != nil {
		return fmt.Errorf("standard: field %q: %w", w.fi.Name, err)
	}
	w.metas = codec.AppendTermMeta(w.metas, meta, codec.TermMeta{}, w.fi)
	return nil
}

func (w *fstWriter) FinishField(stats codec.FieldStats) error {
	if err := w.builder.Close(); err != nil {
		return err
	}
	out := w.out
	if err := out.WriteVInt(int32(w.fi.Number) + 1); err != nil {
		return err
	}
	if err := out.WriteVLong(int64(w.fstBuf.Len())); err != nil {
		return err
	}
	if err := out.WriteBytes(w.fstBuf.Bytes()); err != nil {
		return err
	}
	if err := out.WriteVLong(int64(len(w.metas))); err != nil {
		return err
	}
	if err := out.WriteBytes(w.metas); err != nil {
		return err
	}
	if err := out.WriteBytes(codec.AppendFieldStats(nil, stats)); err != nil {
		return err
	}
	w.fi = nil
	return nil
}

func (w *fstWriter) Close() error {
	if err := w.out.WriteVInt(0); err != nil {
		w.out.Abort()
		return err
	}
	if err := codec.WriteFooter(w.out); err != nil {
		w.out.Abort()
		return err
	}
	return w.out.Close()
}

func (w *fstWriter) Abort() { w.out.Abort() }

func (FSTDict) NewReader(ctx context.Context, state *codec.SegmentReadState) (codec.TermDictReader, error) {
	name := codec.SegmentFileName(state.Segment.Name, state.Suffix, fstDictExt)
	in, err := codec.OpenVerified(ctx, state.Dir, name)
	if err != nil {
		return nil, err
	}
	if _, err := codec.CheckIndexHeader(in, fstDictCodec, fstDictVersion, fstDictVersion, state.Segment.ID, state.Suffix); err != nil {
		return nil, err
	}
	r := &fstReader{fields: make(map[string]*fstField)}
	if err := r.load(in, state.FieldInfos); err != nil {
		r.Close()
		return nil, codec.WrapReadError(name, err)
	}
	return r, nil
}

type fstReader struct {
	fields map[string]*fstField
}

func (r *fstReader) load(in *store.Input, infos *codec.FieldInfos) error {
	for {
		num, err := in.ReadVInt()
		if err != nil {
			return err
		}
		if num == 0 {
			return codec.CheckEOF(in)
		}
		fi := infos.ByNumber(int(num) - 1)
		if fi == nil {
			return codec.Corruptf(in.Name(), "unknown field number %d", num-1)
		}
		fstBytes, err := readBlock(in)
		if err != nil {
			return err
		}
		metas, err := readBlock(in)
		if err != nil {
			return err
		}
		stats, err := codec.ReadFieldStats(in)
		if err != nil {
			return err
		}
		fst, err := vellum.Load(fstBytes)
		if err != nil {
			return &codec.CorruptError{Resource: in.Name(), Reason: "field " + fi.Name + ": invalid FST", Err: err}
		}
		if int64(fst.Len()) != stats.NumTerms {
			return codec.Corruptf(in.Name(), "field %q: FST holds %d terms, stats say %d", fi.Name, fst.Len(), stats.NumTerms)
		}
		r.fields[fi.Name] = &fstField{fi: fi, fst: fst, metas: metas, stats: stats}
	}
}

func readBlock(in *store.Input) ([]byte, error) {
	n, err := in.ReadVLong()
	if err != nil {
		return nil, err
	}
	if n > in.Length()-in.FilePointer() {
		return nil, codec.Corruptf(in.Name(), "block length %d exceeds file", n)
	}
	b := make([]byte, n)
	if err := in.ReadBytes(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *fstReader) Field(name string) codec.FieldTermDict {
	if f, ok := r.fields[name]; ok {
		return f
	}
	return nil
}

// CheckIntegrity is a no-op: the file was verified when opened.
func (r *fstReader) CheckIntegrity(context.Context) error { return nil }

func (r *fstReader) Close() error {
	var errs []error
	for _, f := range r.fields {
		errs = append(errs, f.fst.Close())
	}
	return errors.Join(errs...)
}

type fstField struct {
	fi    *codec.FieldInfo
	fst   *vellum.FST
	metas []byte
	stats codec.FieldStats
}

func (f *fstField) Stats() codec.FieldStats { return f.stats }

func (f *fstField) Iterator() (codec.TermDictIterator, error) {
	return &fstIterator{f: f}, nil
}

func (f *fstField) meta(off uint64) (codec.TermMeta, error) {
	if off >= uint64(len(f.metas)) {
		return codec.TermMeta{}, fmt.Errorf("%w: field %q: term metadata offset %d out of range", codec.ErrCorrupt, f.fi.Name, off)
	}
	m, err := codec.ReadTermMeta(bytes.NewReader(f.metas[off:]), codec.TermMeta{}, f.fi)
	if err != nil {
		return m, fmt.Errorf("%w: field %q: %v", codec.ErrCorrupt, f.fi.Name, err)
	}
	return m, nil
}

// fstIterator walks the FST in key order. SeekExact restarts the walk at
// the sought term so Next continues after it.
type fstIterator struct {
	f       *fstField
	itr     *vellum.FSTIterator
	pending bool // itr points at an unreturned term
	done    bool
	term    []byte
	meta    codec.TermMeta
}

func (it *fstIterator) Next() ([]byte, bool, error) {
	if it.done {
		return nil, false, nil
	}
	var err error
	if it.itr == nil {
		it.itr, err = it.f.fst.Iterator(nil, nil)
		it.pending = true
	} else if !it.pending {
		err = it.itr.Next()
	}
	if errors.Is(err, vellum.ErrIteratorDone) {
		it.done = true
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	it.pending = false
	if err := it.current(); err != nil {
		return nil, false, err
	}
	return it.term, true, nil
}

func (it *fstIterator) current() error {
	key, off := it.itr.Current()
	m, err := it.f.meta(off)
	if err != nil {
		return err
	}
	it.term = append(it.term[:0], key...)
	it.meta = m
	return nil
}

func (it *fstIterator) SeekExact(term []byte) (bool, error) {
	_, ok, err := it.f.fst.Get(term)
	if err != nil || !ok {
		return false, err
	}
	if it.itr, err = it.f.fst.Iterator(term, nil); err != nil {
		return false, err
	}
	it.pending = false
	it.done = false
	if err := it.current(); err != nil {
		return false, err
	}
	return true, nil
}

func (it *fstIterator) Term() []byte { return it.term }

func (it *fstIterator) Meta() codec.TermMeta { return it.meta }
