package codec

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hupe1980/segdex/internal/bitset"
	"github.com/hupe1980/segdex/store"
)

// Postings stream layout, shared by every term dictionary.
//
// .doc holds, per term and document, vlong(docDelta<<1 | freq==1) followed
// by vint(freq) when freq != 1. Fields without frequencies write
// vlong(docDelta) only.
//
// .pos holds, per position, vint(posDelta) or, for fields with payloads,
// vint(posDelta<<1 | payloadLengthChanged) [vint(payloadLength)] payload.
// Offsets follow as vint(startOffset-lastStartOffset) vint(end-start).
const (
	postingsDocCodec  = "PostingsDoc"
	postingsPosCodec  = "PostingsPos"
	postingsVersion   = 1
	docExtension      = "doc"
	positionExtension = "pos"
)

type postingsFormat struct {
	name string
	dict TermDictFormat
}

// NewPostingsFormat returns a postings format that writes the shared
// doc/position streams and delegates term lookup to dict.
func NewPostingsFormat(name string, dict TermDictFormat) PostingsFormat {
	return &postingsFormat{name: name, dict: dict}
}

func (pf *postingsFormat) Name() string { return pf.name }

func (pf *postingsFormat) FieldsConsumer(ctx context.Context, state *SegmentWriteState) (_ FieldsConsumer, err error) {
	w := &postingsWriter{state: state}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()
	si := state.Segment
	if w.doc, err = state.Dir.CreateOutput(ctx, SegmentFileName(si.Name, state.Suffix, docExtension)); err != nil {
		return nil, err
	}
	if err := WriteIndexHeader(w.doc, postingsDocCodec, postingsVersion, si.ID, state.Suffix); err != nil {
		return nil, err
	}
	if w.pos, err = state.Dir.CreateOutput(ctx, SegmentFileName(si.Name, state.Suffix, positionExtension)); err != nil {
		return nil, err
	}
	if err := WriteIndexHeader(w.pos, postingsPosCodec, postingsVersion, si.ID, state.Suffix); err != nil {
		return nil, err
	}
	if w.dict, err = pf.dict.NewWriter(ctx, state); err != nil {
		return nil, err
	}
	return w, nil
}

type postingsWriter struct {
	state    *SegmentWriteState
	doc, pos *store.Output
	dict     TermDictWriter
}

func (w *postingsWriter) Write(ctx context.Context, fields Fields) error {
	maxDoc := w.state.Segment.MaxDoc
	for _, name := range fields.Names() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fi := w.state.FieldInfos.ByName(name)
		if fi == nil || !fi.Indexed() {
			return fmt.Errorf("codec: postings for unindexed field %q", name)
		}
		terms, err := fields.Terms(name)
		if err != nil {
			return err
		}
		if terms == nil {
			continue
		}
		if err := w.writeField(ctx, fi, terms, maxDoc); err != nil {
			return fmt.Errorf("codec: write postings of field %q: %w", name, err)
		}
	}
	return nil
}

func (w *postingsWriter) writeField(ctx context.Context, fi *FieldInfo, terms Terms, maxDoc int) error {
	te, err := terms.Iterator()
	if err != nil {
		return err
	}
	var (
		stats    FieldStats
		started  bool
		lastTerm []byte
		docsSeen = bitset.New(maxDoc)
	)
	for n := 0; ; n++ {
		if n&1023 == 1023 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		term, ok, err := te.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if n > 0 && bytes.Compare(term, lastTerm) <= 0 {
			return Corruptf(fi.Name, "terms out of order: %q after %q", term, lastTerm)
		}
		lastTerm = append(lastTerm[:0], term...)

		pe, err := te.Postings()
		if err != nil {
			return err
		}
		meta, err := w.writeTerm(fi, pe, docsSeen)
		if err != nil {
			return err
		}
		if meta.DocFreq == 0 {
			// Every document of the term was deleted.
			continue
		}
		if !started {
			if err := w.dict.StartField(fi); err != nil {
				return err
			}
			started = true
		}
		if err := w.dict.AddTerm(term, meta); err != nil {
			return err
		}
		stats.NumTerms++
		stats.SumDocFreq += int64(meta.DocFreq)
		stats.SumTotalTermFreq += meta.TotalTermFreq
	}
	if !started {
		return nil
	}
	stats.DocCount = docsSeen.Cardinality()
	return w.dict.FinishField(stats)
}

func (w *postingsWriter) writeTerm(fi *FieldInfo, pe PostingsEnum, docsSeen *bitset.BitSet) (TermMeta, error) {
	opts := fi.IndexOptions
	hasFreqs, hasPositions, hasOffsets, hasPayloads := opts.HasFreqs(), opts.HasPositions(), opts.HasOffsets(), fi.HasPayloads()

	meta := TermMeta{DocStart: w.doc.FilePointer(), PosStart: w.pos.FilePointer()}
	lastDoc := -1
	for {
		doc, err := pe.NextDoc()
		if err != nil {
			return meta, err
		}
		if doc == NoMoreDocs {
			break
		}
		if doc <= lastDoc || doc >= docsSeen.Len() {
			return meta, Corruptf(fi.Name, "doc %d out of order or bounds (last %d, maxDoc %d)", doc, lastDoc, docsSeen.Len())
		}
		delta := int64(doc - max(lastDoc, 0))
		lastDoc = doc

		freq := 1
		if hasFreqs {
			freq = pe.Freq()
			if freq <= 0 {
				return meta, Corruptf(fi.Name, "doc %d has freq %d", doc, freq)
			}
			if freq == 1 {
				err = w.doc.WriteVLong(delta<<1 | 1)
			} else if err = w.doc.WriteVLong(delta << 1); err == nil {
				err = w.doc.WriteVInt(int32(freq))
			}
		} else {
			err = w.doc.WriteVLong(delta)
		}
		if err != nil {
			return meta, err
		}

		if hasPositions {
			if err := w.writePositions(fi, pe, freq, hasOffsets, hasPayloads); err != nil {
				return meta, err
			}
		}
		docsSeen.Set(doc)
		meta.DocFreq++
		meta.TotalTermFreq += int64(freq)
	}
	return meta, nil
}

func (w *postingsWriter) writePositions(fi *FieldInfo, pe PostingsEnum, freq int, hasOffsets, hasPayloads bool) error {
	lastPos, lastStart, lastPayloadLen := 0, 0, 0
	for i := 0; i < freq; i++ {
		pos, err := pe.NextPosition()
		if err != nil {
			return err
		}
		if pos < lastPos {
			return Corruptf(fi.Name, "position %d after %d", pos, lastPos)
		}
		delta := int32(pos - lastPos)
		lastPos = pos
		if hasPayloads {
			payload := pe.Payload()
			if len(payload) != lastPayloadLen {
				lastPayloadLen = len(payload)
				err = w.pos.WriteVInt(delta<<1 | 1)
				if err == nil {
					err = w.pos.WriteVInt(int32(len(payload)))
				}
			} else {
				err = w.pos.WriteVInt(delta << 1)
			}
			if err == nil {
				err = w.pos.WriteBytes(payload)
			}
		} else {
			err = w.pos.WriteVInt(delta)
		}
		if err != nil {
			return err
		}
		if hasOffsets {
			start, end := pe.StartOffset(), pe.EndOffset()
			if start < lastStart || end < start {
				return Corruptf(fi.Name, "offsets [%d,%d) after start %d", start, end, lastStart)
			}
			if err := w.pos.WriteVInt(int32(start - lastStart)); err != nil {
				return err
			}
			if err := w.pos.WriteVInt(int32(end - start)); err != nil {
				return err
			}
			lastStart = start
		}
	}
	return nil
}

func (w *postingsWriter) Close() error {
	for _, out := range []*store.Output{w.doc, w.pos} {
		if err := WriteFooter(out); err != nil {
			w.Abort()
			return err
		}
		if err := out.Close(); err != nil {
			w.Abort()
			return err
		}
	}
	if err := w.dict.Close(); err != nil {
		w.dict.Abort()
		return err
	}
	return nil
}

func (w *postingsWriter) Abort() {
	if w.doc != nil {
		w.doc.Abort()
	}
	if w.pos != nil {
		w.pos.Abort()
	}
	if w.dict != nil {
		w.dict.Abort()
	}
}

func (pf *postingsFormat) FieldsProducer(ctx context.Context, state *SegmentReadState) (_ FieldsProducer, err error) {
	r := &postingsReader{infos: state.FieldInfos}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()
	if r.doc, err = openChecked(ctx, state.Dir, state.Segment, state.Suffix, docExtension, postingsDocCodec, postingsVersion); err != nil {
		return nil, err
	}
	if r.pos, err = openChecked(ctx, state.Dir, state.Segment, state.Suffix, positionExtension, postingsPosCodec, postingsVersion); err != nil {
		return nil, err
	}
	if r.dict, err = pf.dict.NewReader(ctx, state); err != nil {
		return nil, err
	}
	for _, name := range state.FieldInfos.Names() {
		fi := state.FieldInfos.ByName(name)
		if fi.Indexed() && r.dict.Field(name) != nil {
			r.names = append(r.names, name)
		}
	}
	return r, nil
}

// openChecked opens a per-segment file, validates its index header and the
// structure of its footer.
func openChecked(ctx context.Context, dir store.Directory, si *SegmentInfo, suffix, ext, codecName string, version int32) (in *store.Input, err error) {
	name := SegmentFileName(si.Name, suffix, ext)
	in, err = dir.OpenInput(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = in.Close()
		}
	}()
	if _, err := CheckIndexHeader(in, codecName, version, version, si.ID, suffix); err != nil {
		return nil, err
	}
	if _, err := RetrieveChecksum(in); err != nil {
		return nil, err
	}
	return in, nil
}

type postingsReader struct {
	infos    *FieldInfos
	doc, pos *store.Input
	dict     TermDictReader
	names    []string
}

func (r *postingsReader) Names() []string { return r.names }

func (r *postingsReader) Terms(field string) (Terms, error) {
	fi := r.infos.ByName(field)
	if fi == nil || !fi.Indexed() {
		return nil, nil
	}
	fd := r.dict.Field(field)
	if fd == nil {
		return nil, nil
	}
	return &fieldTerms{r: r, fi: fi, dict: fd, stats: fd.Stats()}, nil
}

func (r *postingsReader) CheckIntegrity(ctx context.Context) error {
	for _, in := range []*store.Input{r.doc, r.pos} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := ChecksumEntireFile(in); err != nil {
			return err
		}
	}
	return r.dict.CheckIntegrity(ctx)
}

func (r *postingsReader) Close() error {
	var first error
	for _, in := range []*store.Input{r.doc, r.pos} {
		if in != nil {
			if err := in.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	if r.dict != nil {
		if err := r.dict.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type fieldTerms struct {
	r     *postingsReader
	fi    *FieldInfo
	dict  FieldTermDict
	stats FieldStats
}

func (t *fieldTerms) Iterator() (TermsEnum, error) {
	it, err := t.dict.Iterator()
	if err != nil {
		return nil, err
	}
	return &termsEnum{t: t, it: it}, nil
}

func (t *fieldTerms) Size() int64             { return t.stats.NumTerms }
func (t *fieldTerms) DocCount() int           { return t.stats.DocCount }
func (t *fieldTerms) SumDocFreq() int64       { return t.stats.SumDocFreq }
func (t *fieldTerms) SumTotalTermFreq() int64 { return t.stats.SumTotalTermFreq }
func (t *fieldTerms) HasFreqs() bool          { return t.fi.IndexOptions.HasFreqs() }
func (t *fieldTerms) HasPositions() bool      { return t.fi.IndexOptions.HasPositions() }
func (t *fieldTerms) HasOffsets() bool        { return t.fi.IndexOptions.HasOffsets() }
func (t *fieldTerms) HasPayloads() bool       { return t.fi.HasPayloads() }

type termsEnum struct {
	t  *fieldTerms
	it TermDictIterator
}

func (e *termsEnum) Next() ([]byte, bool, error)         { return e.it.Next() }
func (e *termsEnum) SeekExact(term []byte) (bool, error) { return e.it.SeekExact(term) }
func (e *termsEnum) Term() []byte                        { return e.it.Term() }
func (e *termsEnum) DocFreq() int                        { return e.it.Meta().DocFreq }
func (e *termsEnum) TotalTermFreq() int64                { return e.it.Meta().TotalTermFreq }

func (e *termsEnum) Postings() (PostingsEnum, error) {
	fi := e.t.fi
	meta := e.it.Meta()
	pe := &postingsEnum{
		fi:           fi,
		hasFreqs:     fi.IndexOptions.HasFreqs(),
		hasPositions: fi.IndexOptions.HasPositions(),
		hasOffsets:   fi.IndexOptions.HasOffsets(),
		hasPayloads:  fi.HasPayloads(),
		docsLeft:     meta.DocFreq,
		docID:        -1,
		startOffset:  -1,
		endOffset:    -1,
	}
	pe.docIn = e.t.r.doc.Clone()
	if err := pe.docIn.SeekTo(meta.DocStart); err != nil {
		return nil, WrapReadError(pe.docIn.Name(), err)
	}
	if pe.hasPositions {
		pe.posIn = e.t.r.pos.Clone()
		if err := pe.posIn.SeekTo(meta.PosStart); err != nil {
			return nil, WrapReadError(pe.posIn.Name(), err)
		}
	}
	return pe, nil
}

type postingsEnum struct {
	fi *FieldInfo

	hasFreqs, hasPositions, hasOffsets, hasPayloads bool

	docIn, posIn *store.Input
	docsLeft     int
	docID        int
	freq         int

	posPending     int
	lastPos        int
	lastStart      int
	lastPayloadLen int
	startOffset    int
	endOffset      int
	payload        []byte
}

func (e *postingsEnum) NextDoc() (int, error) {
	if e.docsLeft == 0 {
		e.docID = NoMoreDocs
		return NoMoreDocs, nil
	}
	for e.posPending > 0 {
		if _, err := e.NextPosition(); err != nil {
			return 0, err
		}
	}
	code, err := e.docIn.ReadVLong()
	if err != nil {
		return 0, WrapReadError(e.docIn.Name(), err)
	}
	delta := code
	e.freq = 1
	if e.hasFreqs {
		delta = code >> 1
		if code&1 == 0 {
			f, err := e.docIn.ReadVInt()
			if err != nil {
				return 0, WrapReadError(e.docIn.Name(), err)
			}
			e.freq = int(f)
		}
	}
	if e.docID < 0 {
		e.docID = int(delta)
	} else {
		e.docID += int(delta)
	}
	e.docsLeft--
	if e.hasPositions {
		e.posPending = e.freq
		e.lastPos, e.lastStart, e.lastPayloadLen = 0, 0, 0
	}
	return e.docID, nil
}

func (e *postingsEnum) DocID() int { return e.docID }
func (e *postingsEnum) Freq() int  { return e.freq }

func (e *postingsEnum) NextPosition() (int, error) {
	if !e.hasPositions {
		return -1, nil
	}
	if e.posPending == 0 {
		return 0, fmt.Errorf("codec: %s: NextPosition called more than freq times", e.fi.Name)
	}
	e.posPending--
	in := e.posIn
	code, err := in.ReadVInt()
	if err != nil {
		return 0, WrapReadError(in.Name(), err)
	}
	delta := int(uint32(code))
	if e.hasPayloads {
		delta = int(uint32(code) >> 1)
		if code&1 != 0 {
			n, err := in.ReadVInt()
			if err != nil {
				return 0, WrapReadError(in.Name(), err)
			}
			if n < 0 || int64(n) > in.Length()-in.FilePointer() {
				return 0, Corruptf(in.Name(), "invalid payload length %d", n)
			}
			e.lastPayloadLen = int(n)
		}
		if cap(e.payload) < e.lastPayloadLen {
			e.payload = make([]byte, e.lastPayloadLen)
		}
		e.payload = e.payload[:e.lastPayloadLen]
		if err := in.ReadBytes(e.payload); err != nil {
			return 0, WrapReadError(in.Name(), err)
		}
	}
	e.lastPos += delta
	if e.hasOffsets {
		sd, err := in.ReadVInt()
		if err != nil {
			return 0, WrapReadError(in.Name(), err)
		}
		ld, err := in.ReadVInt()
		if err != nil {
			return 0, WrapReadError(in.Name(), err)
		}
		e.startOffset = e.lastStart + int(sd)
		e.endOffset = e.startOffset + int(ld)
		e.lastStart = e.startOffset
	}
	return e.lastPos, nil
}

func (e *postingsEnum) StartOffset() int { return e.startOffset }
func (e *postingsEnum) EndOffset() int   { return e.endOffset }

func (e *postingsEnum) Payload() []byte {
	if len(e.payload) == 0 {
		return nil
	}
	return e.payload
}
