package compact

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/store"
)

const (
	blockDictCodec   = "BlockTermDict"
	blockDictVersion = 1
	blockDictExt     = "tblk"

	// TermsPerBlock is the number of terms sharing one index entry.
	TermsPerBlock = 32
)

// BlockDict is a term dictionary of prefix-coded blocks with a sparse index
// holding the first term of each block. Term metadata is delta coded within
// a block, so a lookup decodes at most one block.
//
// File layout after the index header, per field:
//
//	vint(fieldNumber+1) vlong(len) blocks vint(numBlocks)
//	  [vint(len) firstTerm vlong(offset) vint(count)]... stats
//
// terminated by vint(0) and the footer.
type BlockDict struct{}

func (BlockDict) Name() string { return "Block" }

func (BlockDict) NewWriter(ctx context.Context, state *codec.SegmentWriteState) (codec.TermDictWriter, error) {
	out, err := state.Dir.CreateOutput(ctx, codec.SegmentFileName(state.Segment.Name, state.Suffix, blockDictExt))
	if err != nil {
		return nil, err
	}
	if err := codec.WriteIndexHeader(out, blockDictCodec, blockDictVersion, state.Segment.ID, state.Suffix); err != nil {
		out.Abort()
		return nil, err
	}
	return &blockWriter{out: out}, nil
}

type blockEntry struct {
	first  []byte
	offset int64
	count  int
}

type blockWriter struct {
	out   *store.Output
	fi    *codec.FieldInfo
	data  []byte
	index []blockEntry

	inBlock  int
	lastTerm []byte
	lastMeta codec.TermMeta
}

func (w *blockWriter) StartField(fi *codec.FieldInfo) error {
	if w.fi != nil {
		return fmt.Errorf("compact: field %q started before %q finished", fi.Name, w.fi.Name)
	}
	w.fi = fi
	w.data = w.data[:0]
	w.index = w.index[:0]
	w.inBlock = 0
	return nil
}

func (w *blockWriter) AddTerm(term []byte, meta codec.TermMeta) error {
	if w.inBlock == 0 || w.inBlock == TermsPerBlock {
		w.index = append(w.index, blockEntry{first: bytes.Clone(term), offset: int64(len(w.data))})
		w.inBlock = 0
		w.lastTerm = w.lastTerm[:0]
		w.lastMeta = codec.TermMeta{}
	}
	p := commonPrefix(w.lastTerm, term)
	w.data = binary.AppendUvarint(w.data, uint64(p))
	w.data = binary.AppendUvarint(w.data, uint64(len(term)-p))
	w.data = append(w.data, term[p:]...)
	w.data = codec.AppendTermMeta(w.data, meta, w.lastMeta, w.fi)
	w.lastTerm = append(w.lastTerm[:0], term...)
	w.lastMeta = meta
	w.inBlock++
	w.index[len(w.index)-1].count++
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

func (w *blockWriter) FinishField(stats codec.FieldStats) error {
	buf := binary.AppendUvarint(nil, uint64(w.fi.Number)+1)
	buf = binary.AppendUvarint(buf, uint64(len(w.data)))
	buf = append(buf, w.data...)
	buf = binary.AppendUvarint(buf, uint64(len(w.index)))
	for _, e := range w.index {
		buf = binary.AppendUvarint(buf, uint64(len(e.first)))
		buf = append(buf, e.first...)
		buf = binary.AppendUvarint(buf, uint64(e.offset))
		buf = binary.AppendUvarint(buf, uint64(e.count))
	}
	buf = codec.AppendFieldStats(buf, stats)
	w.fi = nil
	return w.out.WriteBytes(buf)
}

func (w *blockWriter) Close() error {
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

func (w *blockWriter) Abort() { w.out.Abort() }

func (BlockDict) NewReader(ctx context.Context, state *codec.SegmentReadState) (codec.TermDictReader, error) {
	name := codec.SegmentFileName(state.Segment.Name, state.Suffix, blockDictExt)
	in, err := codec.OpenVerified(ctx, state.Dir, name)
	if err != nil {
		return nil, err
	}
	if _, err := codec.CheckIndexHeader(in, blockDictCodec, blockDictVersion, blockDictVersion, state.Segment.ID, state.Suffix); err != nil {
		return nil, err
	}
	r := &blockReader{fields: make(map[string]*blockField)}
	if err := r.load(in, state.FieldInfos); err != nil {
		return nil, codec.WrapReadError(name, err)
	}
	return r, nil
}

type blockReader struct {
	fields map[string]*blockField
}

func (r *blockReader) load(in *store.Input, infos *codec.FieldInfos) error {
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
		f := &blockField{fi: fi}
		if f.data, err = readBlock(in); err != nil {
			return err
		}
		n, err := in.ReadVInt()
		if err != nil {
			return err
		}
		if int64(n) > int64(len(f.data)) {
			return codec.Corruptf(in.Name(), "field %q: %d blocks in %d bytes", fi.Name, n, len(f.data))
		}
		f.index = make([]blockEntry, n)
		var total int64
		for i := range f.index {
			e := &f.index[i]
			if e.first, err = readBlock(in); err != nil {
				return err
			}
			if e.offset, err = in.ReadVLong(); err != nil {
				return err
			}
			c, err := in.ReadVInt()
			if err != nil {
				return err
			}
			e.count = int(c)
			if e.offset > int64(len(f.data)) || e.count <= 0 || e.count > TermsPerBlock {
				return codec.Corruptf(in.Name(), "field %q: invalid block %d", fi.Name, i)
			}
			if i > 0 && (e.offset <= f.index[i-1].offset || bytes.Compare(e.first, f.index[i-1].first) <= 0) {
				return codec.Corruptf(in.Name(), "field %q: block %d out of order", fi.Name, i)
			}
			total += int64(e.count)
		}
		if f.stats, err = codec.ReadFieldStats(in); err != nil {
			return err
		}
		if total != f.stats.NumTerms {
			return codec.Corruptf(in.Name(), "field %q: blocks hold %d terms, stats say %d", fi.Name, total, f.stats.NumTerms)
		}
		r.fields[fi.Name] = f
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

func (r *blockReader) Field(name string) codec.FieldTermDict {
	if f, ok := r.fields[name]; ok {
		return f
	}
	return nil
}

// CheckIntegrity is a no-op: the file was verified when opened.
func (r *blockReader) CheckIntegrity(context.Context) error { return nil }

func (r *blockReader) Close() error { return nil }

type blockField struct {
	fi    *codec.FieldInfo
	data  []byte
	index []blockEntry
	stats codec.FieldStats
}

func (f *blockField) Stats() codec.FieldStats { return f.stats }

func (f *blockField) Iterator() (codec.TermDictIterator, error) {
	return &blockIterator{cur: blockCursor{f: f, block: -1}}, nil
}

// blockCursor decodes one block at a time.
type blockCursor struct {
	f       *blockField
	block   int
	r       *bytes.Reader
	inBlock int
	term    []byte
	meta    codec.TermMeta
}

func (c *blockCursor) load(b int) {
	e := c.f.index[b]
	end := int64(len(c.f.data))
	if b+1 < len(c.f.index) {
		end = c.f.index[b+1].offset
	}
	c.block = b
	c.r = bytes.NewReader(c.f.data[e.offset:end])
	c.inBlock = 0
	c.term = c.term[:0]
	c.meta = codec.TermMeta{}
}

// next decodes the following term. It returns false at the end of the field.
func (c *blockCursor) next() (bool, error) {
	if c.block < 0 || c.inBlock == c.f.index[c.block].count {
		if c.block+1 >= len(c.f.index) {
			return false, nil
		}
		c.load(c.block + 1)
	}
	p, err := binary.ReadUvarint(c.r)
	if err != nil {
		return false, c.corrupt(err)
	}
	n, err := binary.ReadUvarint(c.r)
	if err != nil {
		return false, c.corrupt(err)
	}
	if p > uint64(len(c.term)) || n > uint64(c.r.Len()) {
		return false, c.corrupt(fmt.Errorf("invalid prefix %d or suffix %d", p, n))
	}
	c.term = c.term[:p]
	start := len(c.term)
	c.term = append(c.term, make([]byte, n)...)
	if _, err := c.r.Read(c.term[start:]); err != nil && n > 0 {
		return false, c.corrupt(err)
	}
	if c.meta, err = codec.ReadTermMeta(c.r, c.meta, c.f.fi); err != nil {
		return false, c.corrupt(err)
	}
	c.inBlock++
	return true, nil
}

func (c *blockCursor) corrupt(err error) error {
	return fmt.Errorf("%w: field %q block %d: %v", codec.ErrCorrupt, c.f.fi.Name, c.block, err)
}

type blockIterator struct {
	cur  blockCursor
	done bool
}

func (it *blockIterator) Next() ([]byte, bool, error) {
	if it.done {
		return nil, false, nil
	}
	ok, err := it.cur.next()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		it.done = true
		return nil, false, nil
	}
	return it.cur.term, true, nil
}

func (it *blockIterator) SeekExact(term []byte) (bool, error) {
	index := it.cur.f.index
	b := sort.Search(len(index), func(i int) bool { return bytes.Compare(index[i].first, term) > 0 }) - 1
	if b < 0 {
		return false, nil
	}
	c := blockCursor{f: it.cur.f}
	c.load(b)
	for c.inBlock < index[b].count {
		if _, err := c.next(); err != nil {
			return false, err
		}
		switch cmp := bytes.Compare(c.term, term); {
		case cmp == 0:
			it.cur = c
			it.done = false
			return true, nil
		case cmp > 0:
			return false, nil
		}
	}
	return false, nil
}

func (it *blockIterator) Term() []byte { return it.cur.term }

func (it *blockIterator) Meta() codec.TermMeta { return it.cur.meta }
