package index

import (
	"bytes"
	"slices"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/internal/arena"
	"github.com/hupe1980/segdex/internal/termhash"
)

// Each term owns two slice streams in the builder's byte pool: the doc
// stream (doc deltas and freqs of finished documents) and the prox stream
// (positions, payloads and offsets). The current write address of both
// streams lives in the int pool.
//
// Doc stream entries are vint(delta<<1 | freq==1) [vint(freq)], or
// vint(delta) for fields without freqs. The last document of a term stays
// in postingsArrays until the next document arrives or the segment is
// flushed.
//
// Prox stream entries are vint(posDelta<<1 | hasPayload) [vint(len) bytes]
// followed, when offsets are indexed, by vint(startDelta) vint(end-start).
const streamCount = 2

// postingsArrays holds per-term state, indexed by term id.
type postingsArrays struct {
	byteStarts    []int
	proxStarts    []int
	intStarts     []int
	lastDocIDs    []int
	lastDocCodes  []int
	termFreqs     []int
	lastPositions []int
	lastOffsets   []int
	docFreqs      []int
	totalFreqs    []int64
}

const postingsBytesPerTerm = 10 * 8

func (p *postingsArrays) grow() {
	p.byteStarts = append(p.byteStarts, 0)
	p.proxStarts = append(p.proxStarts, 0)
	p.intStarts = append(p.intStarts, 0)
	p.lastDocIDs = append(p.lastDocIDs, 0)
	p.lastDocCodes = append(p.lastDocCodes, 0)
	p.termFreqs = append(p.termFreqs, 0)
	p.lastPositions = append(p.lastPositions, 0)
	p.lastOffsets = append(p.lastOffsets, 0)
	p.docFreqs = append(p.docFreqs, 0)
	p.totalFreqs = append(p.totalFreqs, 0)
}

func (b *segmentBuilder) allocAddresses() int {
	p := b.intPool
	if p.IntUpto+streamCount > arena.IntBlockSize {
		p.NextBuffer()
	}
	off := p.IntUpto + p.IntOffset
	p.IntUpto += streamCount
	return off
}

func (b *segmentBuilder) address(intStart, stream int) int {
	return int(b.intPool.Get(intStart + stream))
}

func (b *segmentBuilder) setAddress(intStart, stream, addr int) {
	off := intStart + stream
	b.intPool.Buffers[off>>arena.IntBlockShift][off&arena.IntBlockMask] = int32(addr)
}

func (b *segmentBuilder) writeVInt(intStart, stream, v int) {
	b.writer.Init(b.address(intStart, stream))
	b.writer.WriteVInt(v)
	b.setAddress(intStart, stream, b.writer.Address())
}

func (b *segmentBuilder) writeBytes(intStart, stream int, p []byte) {
	b.writer.Init(b.address(intStart, stream))
	_, _ = b.writer.Write(p)
	b.setAddress(intStart, stream, b.writer.Address())
}

// invertTokens adds the prepared tokens of one field of docID.
func (b *segmentBuilder) invertTokens(f *perField, sc *docScratch, pf *preparedField, docID int) {
	if f.hash == nil {
		f.hash = termhash.New(b.bytePool, termhash.DefaultCapacity, b.counter)
	}
	hasFreqs := f.fi.IndexOptions.HasFreqs()
	hasPositions := f.fi.IndexOptions.HasPositions()
	hasOffsets := f.fi.IndexOptions.HasOffsets()

	for i := pf.firstToken; i < pf.endToken; i++ {
		t := &sc.tokens[i]
		id, isNew, err := f.hash.Add(sc.term(t))
		if err != nil {
			// Term lengths are checked while preparing the document.
			panic(err)
		}
		p := &f.postings
		if isNew {
			p.grow()
			b.counter.Add(postingsBytesPerTerm)
			intStart := b.allocAddresses()
			for s := 0; s < streamCount; s++ {
				addr := b.bytePool.NewSlice(arena.FirstLevelSize) + b.bytePool.ByteOffset
				b.setAddress(intStart, s, addr)
				if s == 0 {
					p.byteStarts[id] = addr
				} else {
					p.proxStarts[id] = addr
				}
			}
			p.intStarts[id] = intStart
			p.lastDocIDs[id] = docID
			p.lastDocCodes[id] = docID
			if hasFreqs {
				p.lastDocCodes[id] = docID << 1
			}
			p.termFreqs[id] = 1
			p.docFreqs[id] = 1
			p.totalFreqs[id] = 1
			p.lastPositions[id] = 0
			p.lastOffsets[id] = 0
		} else if p.lastDocIDs[id] != docID {
			b.finishDoc(p, id, hasFreqs)
			code := docID - p.lastDocIDs[id]
			if hasFreqs {
				code <<= 1
			}
			p.lastDocCodes[id] = code
			p.lastDocIDs[id] = docID
			p.termFreqs[id] = 1
			p.docFreqs[id]++
			p.totalFreqs[id]++
			p.lastPositions[id] = 0
			p.lastOffsets[id] = 0
		} else {
			p.termFreqs[id]++
			p.totalFreqs[id]++
		}
		if hasPositions {
			b.writeProx(f, p, id, t, sc, hasOffsets)
		}
	}
}

// finishDoc writes the pending document of a term to its doc stream.
func (b *segmentBuilder) finishDoc(p *postingsArrays, id int, hasFreqs bool) {
	intStart := p.intStarts[id]
	switch {
	case !hasFreqs:
		b.writeVInt(intStart, 0, p.lastDocCodes[id])
	case p.termFreqs[id] == 1:
		b.writeVInt(intStart, 0, p.lastDocCodes[id]|1)
	default:
		b.writeVInt(intStart, 0, p.lastDocCodes[id])
		b.writeVInt(intStart, 0, p.termFreqs[id])
	}
}

func (b *segmentBuilder) writeProx(f *perField, p *postingsArrays, id int, t *preparedToken, sc *docScratch, hasOffsets bool) {
	intStart := p.intStarts[id]
	delta := t.position - p.lastPositions[id]
	p.lastPositions[id] = t.position
	if payload := sc.payload(t); len(payload) > 0 {
		b.writeVInt(intStart, 1, delta<<1|1)
		b.writeVInt(intStart, 1, len(payload))
		b.writeBytes(intStart, 1, payload)
	} else {
		b.writeVInt(intStart, 1, delta<<1)
	}
	if hasOffsets {
		b.writeVInt(intStart, 1, t.start-p.lastOffsets[id])
		b.writeVInt(intStart, 1, t.end-t.start)
		p.lastOffsets[id] = t.start
	}
}

// builderFields exposes the frozen builder as codec.Fields for the
// postings writer. Terms are sorted once per field.
type builderFields struct {
	b      *segmentBuilder
	names  []string
	sorted map[string][]int
}

func (b *segmentBuilder) freezeFields() *builderFields {
	bf := &builderFields{b: b, sorted: make(map[string][]int)}
	for _, f := range b.fieldList {
		f.state = fieldFrozen
		if !f.indexed || f.hash == nil || f.hash.Size() == 0 {
			continue
		}
		bf.names = append(bf.names, f.fi.Name)
		bf.sorted[f.fi.Name] = f.hash.Sort()
	}
	slices.Sort(bf.names)
	return bf
}

func (bf *builderFields) Names() []string { return bf.names }

func (bf *builderFields) Terms(field string) (codec.Terms, error) {
	ids, ok := bf.sorted[field]
	if !ok {
		return nil, nil
	}
	return &builderTerms{b: bf.b, f: bf.b.fields[field], ids: ids}, nil
}

type builderTerms struct {
	b   *segmentBuilder
	f   *perField
	ids []int
}

func (t *builderTerms) Iterator() (codec.TermsEnum, error) {
	return &builderTermsEnum{t: t, i: -1}, nil
}

func (t *builderTerms) Size() int64 { return int64(len(t.ids)) }

func (t *builderTerms) DocCount() int {
	return t.f.docCount
}

func (t *builderTerms) SumDocFreq() int64 {
	var n int64
	for _, id := range t.ids {
		n += int64(t.f.postings.docFreqs[id])
	}
	return n
}

func (t *builderTerms) SumTotalTermFreq() int64 {
	var n int64
	for _, id := range t.ids {
		n += t.f.postings.totalFreqs[id]
	}
	return n
}

func (t *builderTerms) HasFreqs() bool     { return t.f.fi.IndexOptions.HasFreqs() }
func (t *builderTerms) HasPositions() bool { return t.f.fi.IndexOptions.HasPositions() }
func (t *builderTerms) HasOffsets() bool   { return t.f.fi.IndexOptions.HasOffsets() }
func (t *builderTerms) HasPayloads() bool  { return t.f.fi.HasPayloads() }

type builderTermsEnum struct {
	t *builderTerms
	i int
}

func (e *builderTermsEnum) Next() ([]byte, bool, error) {
	e.i++
	if e.i >= len(e.t.ids) {
		e.i = len(e.t.ids)
		return nil, false, nil
	}
	return e.Term(), true, nil
}

func (e *builderTermsEnum) SeekExact(term []byte) (bool, error) {
	h := e.t.f.hash
	i, ok := slices.BinarySearchFunc(e.t.ids, term, func(id int, target []byte) int {
		return bytes.Compare(h.Get(id), target)
	})
	if ok {
		e.i = i
	}
	return ok, nil
}

func (e *builderTermsEnum) Term() []byte { return e.t.f.hash.Get(e.t.ids[e.i]) }

func (e *builderTermsEnum) DocFreq() int { return e.t.f.postings.docFreqs[e.t.ids[e.i]] }

func (e *builderTermsEnum) TotalTermFreq() int64 {
	if !e.t.HasFreqs() {
		return int64(e.DocFreq())
	}
	return e.t.f.postings.totalFreqs[e.t.ids[e.i]]
}

func (e *builderTermsEnum) Postings() (codec.PostingsEnum, error) {
	b, f := e.t.b, e.t.f
	id := e.t.ids[e.i]
	p := &f.postings
	pe := &builderPostingsEnum{
		hasFreqs:     f.fi.IndexOptions.HasFreqs(),
		hasPositions: f.fi.IndexOptions.HasPositions(),
		hasOffsets:   f.fi.IndexOptions.HasOffsets(),
		finalDoc:     p.lastDocIDs[id],
		finalFreq:    p.termFreqs[id],
		docID:        -1,
	}
	pe.docs.Init(b.bytePool, p.byteStarts[id], b.address(p.intStarts[id], 0))
	if pe.hasPositions {
		pe.prox.Init(b.bytePool, p.proxStarts[id], b.address(p.intStarts[id], 1))
	}
	return pe, nil
}

// builderPostingsEnum replays a term's streams.
type builderPostingsEnum struct {
	docs, prox arena.ByteSliceReader

	hasFreqs, hasPositions, hasOffsets bool
	finalDoc, finalFreq                int
	finalDone                          bool

	docID, freq    int
	posLeft        int
	position       int
	start, end     int
	payload        []byte
	payloadScratch []byte
}

func (e *builderPostingsEnum) NextDoc() (int, error) {
	for e.posLeft > 0 {
		if _, err := e.NextPosition(); err != nil {
			return 0, err
		}
	}
	if !e.docs.EOF() {
		code, err := e.docs.ReadVInt()
		if err != nil {
			return 0, err
		}
		last := max(e.docID, 0)
		if e.hasFreqs {
			e.docID = last + code>>1
			if code&1 != 0 {
				e.freq = 1
			} else if e.freq, err = e.docs.ReadVInt(); err != nil {
				return 0, err
			}
		} else {
			e.docID = last + code
			e.freq = 1
		}
	} else if !e.finalDone {
		e.finalDone = true
		e.docID = e.finalDoc
		e.freq = e.finalFreq
		if !e.hasFreqs {
			e.freq = 1
		}
	} else {
		e.docID = codec.NoMoreDocs
		return e.docID, nil
	}
	e.position, e.start = 0, 0
	if e.hasPositions {
		e.posLeft = e.freq
	}
	return e.docID, nil
}

func (e *builderPostingsEnum) DocID() int { return e.docID }

func (e *builderPostingsEnum) Freq() int { return e.freq }

func (e *builderPostingsEnum) NextPosition() (int, error) {
	if !e.hasPositions {
		return -1, nil
	}
	if e.posLeft == 0 {
		return 0, invalidf("more than freq positions read")
	}
	e.posLeft--
	code, err := e.prox.ReadVInt()
	if err != nil {
		return 0, err
	}
	e.position += code >> 1
	e.payload = nil
	if code&1 != 0 {
		n, err := e.prox.ReadVInt()
		if err != nil {
			return 0, err
		}
		e.payloadScratch = slices.Grow(e.payloadScratch[:0], n)[:n]
		if _, err := e.prox.Read(e.payloadScratch); err != nil {
			return 0, err
		}
		e.payload = e.payloadScratch
	}
	if e.hasOffsets {
		delta, err := e.prox.ReadVInt()
		if err != nil {
			return 0, err
		}
		length, err := e.prox.ReadVInt()
		if err != nil {
			return 0, err
		}
		e.start += delta
		e.end = e.start + length
	}
	return e.position, nil
}

func (e *builderPostingsEnum) StartOffset() int {
	if !e.hasOffsets {
		return -1
	}
	return e.start
}

func (e *builderPostingsEnum) EndOffset() int {
	if !e.hasOffsets {
		return -1
	}
	return e.end
}

func (e *builderPostingsEnum) Payload() []byte { return e.payload }
