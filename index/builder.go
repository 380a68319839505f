package index

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/segdex/analysis"
	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/internal/arena"
	"github.com/hupe1980/segdex/internal/termhash"
)

// fieldState tracks a field through the life of a segment builder.
type fieldState uint8

const (
	fieldUnseen fieldState = iota
	fieldRegistered
	fieldAccumulating
	fieldFrozen
)

// indexSignature is the part of a field type that is fixed once a field is
// indexed in a segment.
type indexSignature struct {
	options       document.IndexOptions
	omitNorms     bool
	vectors       bool
	vecPositions  bool
	vecOffsets    bool
	vecPayloads   bool
	tokenizedText bool
}

func signatureOf(ft *document.FieldType) indexSignature {
	return indexSignature{
		options:       ft.IndexOptions,
		omitNorms:     ft.OmitNorms,
		vectors:       ft.StoreTermVectors,
		vecPositions:  ft.StoreTermVectorPositions,
		vecOffsets:    ft.StoreTermVectorOffsets,
		vecPayloads:   ft.StoreTermVectorPayloads,
		tokenizedText: ft.Tokenized,
	}
}

// segmentBuilder accumulates documents for one future segment. A builder
// is owned by one goroutine at a time; only the delete buffer and the
// document count are shared, under delMu.
type segmentBuilder struct {
	cfg     *Config
	numbers *fieldNumbers
	logger  *slog.Logger

	counter  arena.Counter
	bytePool *arena.ByteBlockPool
	intPool  *arena.IntBlockPool
	writer   *arena.ByteSliceWriter

	fields    map[string]*perField
	fieldList []*perField

	stored  [][]storedValue
	vectors [][]*codec.FieldVector

	// extraBytes estimates memory outside the pools.
	extraBytes atomic.Int64

	delMu   sync.Mutex
	numDocs int
	deletes *bufferedDeletes

	scratch      []*docScratch
	pendingTypes map[string]indexSignature
	pendingDV    map[string]document.DocValuesType

	frozen bool
}

func newSegmentBuilder(cfg *Config, numbers *fieldNumbers) *segmentBuilder {
	counter := arena.NewAtomicCounter()
	b := &segmentBuilder{
		cfg:          cfg,
		numbers:      numbers,
		logger:       cfg.Logger,
		counter:      counter,
		bytePool:     arena.NewByteBlockPool(arena.NewRecyclingByteAllocator(arena.ByteBlockSize, arena.DefaultMaxBufferedBlocks, counter)),
		intPool:      arena.NewIntBlockPool(arena.NewRecyclingIntAllocator(arena.IntBlockSize, arena.DefaultMaxBufferedBlocks, counter)),
		fields:       make(map[string]*perField),
		deletes:      newBufferedDeletes(),
		pendingTypes: make(map[string]indexSignature),
		pendingDV:    make(map[string]document.DocValuesType),
	}
	b.writer = arena.NewByteSliceWriter(b.bytePool)
	return b
}

// ramBytesUsed estimates the builder's memory.
func (b *segmentBuilder) ramBytesUsed() int64 {
	return b.counter.Get() + b.extraBytes.Load() + b.deletes.bytesUsed()
}

// docCount returns the number of documents added so far.
func (b *segmentBuilder) docCount() int {
	b.delMu.Lock()
	defer b.delMu.Unlock()
	return b.numDocs
}

// storedValue is a copied stored field value.
type storedValue struct {
	number int
	field  *document.Field
}

// docScratch holds one analyzed document between validation and apply.
// Scratch buffers are reused across documents.
type docScratch struct {
	fields  []preparedField
	byName  map[string]int
	tokens  []preparedToken
	termBuf []byte
	stored  []pendingStored
}

type pendingStored struct {
	name  string
	field *document.Field
}

type preparedField struct {
	name string

	indexed  bool
	sig      indexSignature
	dvType   document.DocValuesType
	stored   bool
	payloads bool

	firstToken, endToken int
	length, overlaps     int

	// running inversion state across values
	position    int
	offsetBase  int
	lastStart   int
	lastEnd     int
	valueCount  int
	dvNumeric   int64
	dvBytes     [][]byte
	dvValueSeen bool
}

type preparedToken struct {
	termStart, termEnd int
	payStart, payEnd   int
	position           int
	start, end         int
}

func (sc *docScratch) reset() {
	sc.fields = sc.fields[:0]
	if sc.byName == nil {
		sc.byName = make(map[string]int)
	}
	clear(sc.byName)
	sc.tokens = sc.tokens[:0]
	sc.termBuf = sc.termBuf[:0]
	clear(sc.stored)
	sc.stored = sc.stored[:0]
}

func (sc *docScratch) term(t *preparedToken) []byte { return sc.termBuf[t.termStart:t.termEnd] }

func (sc *docScratch) payload(t *preparedToken) []byte {
	if t.payEnd == t.payStart {
		return nil
	}
	return sc.termBuf[t.payStart:t.payEnd]
}

// scratchFor returns reusable scratch for the i-th document of a block.
func (b *segmentBuilder) scratchFor(i int) *docScratch {
	for len(b.scratch) <= i {
		b.scratch = append(b.scratch, &docScratch{})
	}
	sc := b.scratch[i]
	sc.reset()
	return sc
}

// addDocuments stages docs as one block of consecutive documents and
// returns the id of the first one. Either all documents are staged or none.
// Staged documents are invisible to deletes until publishDocs.
func (b *segmentBuilder) addDocuments(docs []*document.Document) (int, error) {
	if b.frozen {
		panic("index: add to frozen segment builder")
	}
	clear(b.pendingTypes)
	clear(b.pendingDV)

	prepared := make([]*docScratch, len(docs))
	for i, doc := range docs {
		if doc == nil {
			return 0, invalidf("nil document")
		}
		sc := b.scratchFor(i)
		if err := b.prepare(doc, sc); err != nil {
			return 0, err
		}
		prepared[i] = sc
	}
	for _, sc := range prepared {
		if err := b.register(sc); err != nil {
			return 0, err
		}
	}

	docBase := b.docCount()
	for i, sc := range prepared {
		b.apply(sc, docBase+i)
	}
	return docBase, nil
}

// publishDocs makes n staged documents visible. A non-nil delTerm is
// buffered first so it only affects earlier documents.
func (b *segmentBuilder) publishDocs(n int, delTerm *Term) {
	b.delMu.Lock()
	defer b.delMu.Unlock()
	if delTerm != nil {
		b.deletes.add(*delTerm, b.numDocs)
	}
	b.numDocs += n
}

// bufferDeletes records terms against every document published so far.
func (b *segmentBuilder) bufferDeletes(terms []Term) {
	b.delMu.Lock()
	defer b.delMu.Unlock()
	for _, t := range terms {
		b.deletes.add(t, b.numDocs)
	}
}

// prepare validates and analyzes doc without touching builder state.
// Values of one field are inverted together, in document order, so each
// field's tokens are contiguous.
func (b *segmentBuilder) prepare(doc *document.Document, sc *docScratch) error {
	for _, f := range doc.Fields {
		if f == nil || f.Type == nil {
			return invalidf("field without type")
		}
		if f.Name == "" {
			return invalidf("field without name")
		}
		if err := f.Type.Validate(); err != nil {
			return fmt.Errorf("%w: field %q: %w", ErrInvalidArgument, f.Name, err)
		}
		if _, ok := sc.byName[f.Name]; !ok {
			sc.byName[f.Name] = len(sc.fields)
			sc.fields = append(sc.fields, preparedField{name: f.Name, position: -1})
		}
	}
	for i := range sc.fields {
		pf := &sc.fields[i]
		for _, f := range doc.Fields {
			if f.Name != pf.name {
				continue
			}
			if err := b.prepareValue(sc, pf, f); err != nil {
				return err
			}
		}
	}
	for _, f := range doc.Fields {
		if !f.Type.Stored {
			continue
		}
		if f.Kind() == document.KindNone {
			return invalidf("stored field %q has no value", f.Name)
		}
		sc.fields[sc.byName[f.Name]].stored = true
		sc.stored = append(sc.stored, pendingStored{name: f.Name, field: copyStored(f)})
	}
	return nil
}

func (b *segmentBuilder) prepareValue(sc *docScratch, pf *preparedField, f *document.Field) error {
	ft := f.Type
	if ft.Indexed() {
		sig := signatureOf(ft)
		if err := b.checkSignature(f.Name, pf, sig); err != nil {
			return err
		}
		pf.indexed, pf.sig = true, sig
		if err := b.invert(sc, pf, f); err != nil {
			return err
		}
	}
	if ft.DocValuesType != document.DocValuesNone {
		if err := b.checkDocValues(f.Name, pf, ft.DocValuesType); err != nil {
			return err
		}
		pf.dvType = ft.DocValuesType
		if err := prepareDocValue(pf, f); err != nil {
			return err
		}
	}
	return nil
}

func (b *segmentBuilder) checkSignature(name string, pf *preparedField, sig indexSignature) error {
	var want indexSignature
	switch {
	case pf.indexed:
		want = pf.sig
	default:
		if s, ok := b.pendingTypes[name]; ok {
			want = s
		} else if existing := b.fields[name]; existing != nil && existing.indexed {
			want = existing.sig
		} else {
			b.pendingTypes[name] = sig
			return nil
		}
	}
	if want != sig {
		return invalidf("field %q cannot change its indexing options within a segment (was %+v, now %+v)", name, want, sig)
	}
	return nil
}

func (b *segmentBuilder) checkDocValues(name string, pf *preparedField, dv document.DocValuesType) error {
	cur := pf.dvType
	if cur == document.DocValuesNone {
		if t, ok := b.pendingDV[name]; ok {
			cur = t
		} else if existing := b.fields[name]; existing != nil {
			cur = existing.fi.DocValuesType
		}
	}
	if cur != document.DocValuesNone && cur != dv {
		return fmt.Errorf("%w: field %q has doc values type %s, cannot add %s", ErrIncompatibleField, name, cur, dv)
	}
	b.pendingDV[name] = dv
	return b.numbers.verify(name, dv)
}

// invert analyzes one value of an indexed field into sc.tokens.
func (b *segmentBuilder) invert(sc *docScratch, pf *preparedField, f *document.Field) error {
	if pf.valueCount == 0 {
		pf.firstToken = len(sc.tokens)
	} else {
		pf.position += b.cfg.Analyzer.PositionIncrementGap(f.Name)
		pf.offsetBase += pf.lastEnd + b.cfg.Analyzer.OffsetGap(f.Name)
	}
	pf.valueCount++

	ts, err := b.tokenStream(f)
	if err != nil {
		return err
	}
	lastEnd := 0
	first := pf.length == 0 && pf.overlaps == 0
	for ts.Next() {
		tok := ts.Token()
		if tok.PositionIncrement < 0 {
			return invalidf("field %q: negative position increment %d", f.Name, tok.PositionIncrement)
		}
		if len(tok.Term) > b.cfg.MaxTermLength {
			return &ImmenseTermError{Field: f.Name, Length: len(tok.Term), MaxLength: b.cfg.MaxTermLength, Prefix: bytes.Clone(tok.Term[:min(len(tok.Term), 30)])}
		}
		pos := pf.position + tok.PositionIncrement
		if first {
			// An explicit zero increment places the first token at 0.
			pos = max(pos, 0)
			first = false
		}
		if pos < 0 || pos == int(^uint32(0)>>1) {
			return invalidf("field %q: position %d overflow", f.Name, pos)
		}
		if tok.PositionIncrement == 0 {
			pf.overlaps++
		}
		pf.position = pos
		pf.length++

		start, end := pf.offsetBase+tok.StartOffset, pf.offsetBase+tok.EndOffset
		if pf.sig.options.HasOffsets() || pf.sig.vecOffsets {
			if tok.StartOffset < 0 || tok.EndOffset < tok.StartOffset {
				return invalidf("field %q: invalid offsets [%d,%d)", f.Name, tok.StartOffset, tok.EndOffset)
			}
			if start < pf.lastStart {
				return invalidf("field %q: offsets go backwards (%d after %d)", f.Name, start, pf.lastStart)
			}
			pf.lastStart = start
		}
		lastEnd = max(lastEnd, tok.EndOffset)

		pt := preparedToken{position: pos, start: start, end: end}
		pt.termStart = len(sc.termBuf)
		sc.termBuf = append(sc.termBuf, tok.Term...)
		pt.termEnd = len(sc.termBuf)
		pt.payStart = len(sc.termBuf)
		if len(tok.Payload) > 0 && pf.sig.options.HasPositions() {
			sc.termBuf = append(sc.termBuf, tok.Payload...)
			pf.payloads = true
		}
		pt.payEnd = len(sc.termBuf)
		sc.tokens = append(sc.tokens, pt)
	}
	if err := ts.Err(); err != nil {
		return fmt.Errorf("index: analyze field %q: %w", f.Name, err)
	}
	pf.lastEnd = lastEnd
	pf.endToken = len(sc.tokens)
	return nil
}

func (b *segmentBuilder) tokenStream(f *document.Field) (analysis.TokenStream, error) {
	if ts := f.TokenStream(); ts != nil {
		return ts, nil
	}
	switch f.Kind() {
	case document.KindString:
		s, _ := f.StringValue()
		if f.Type.Tokenized {
			return b.cfg.Analyzer.TokenStream(f.Name, s), nil
		}
		return analysis.NewTokens(analysis.Token{Term: []byte(s), PositionIncrement: 1, EndOffset: len(s)}), nil
	case document.KindBytes:
		v, _ := f.BytesValue()
		return analysis.NewTokens(analysis.Token{Term: v, PositionIncrement: 1, EndOffset: len(v)}), nil
	default:
		return nil, invalidf("field %q: cannot index a %s value", f.Name, f.Kind())
	}
}

func prepareDocValue(pf *preparedField, f *document.Field) error {
	single := pf.dvType != document.DocValuesSortedSet
	if single && pf.dvValueSeen {
		return invalidf("field %q: multiple values for single-valued %s doc values", f.Name, pf.dvType)
	}
	pf.dvValueSeen = true
	switch pf.dvType {
	case document.DocValuesNumeric:
		v, ok := f.Int64Value()
		if !ok {
			return invalidf("field %q: numeric doc values need an int64 value, got %s", f.Name, f.Kind())
		}
		pf.dvNumeric = v
	default:
		v, ok := f.BytesValue()
		if !ok {
			return invalidf("field %q: %s doc values need a bytes value, got %s", f.Name, pf.dvType, f.Kind())
		}
		if len(v) > DefaultMaxTermLength && pf.dvType != document.DocValuesBinary {
			return &ImmenseTermError{Field: f.Name, Length: len(v), MaxLength: DefaultMaxTermLength, Prefix: bytes.Clone(v[:30])}
		}
		pf.dvBytes = append(pf.dvBytes, bytes.Clone(v))
	}
	return nil
}

func copyStored(f *document.Field) *document.Field {
	switch f.Kind() {
	case document.KindString:
		s, _ := f.StringValue()
		return document.NewStoredField(f.Name, s)
	case document.KindBytes:
		v, _ := f.BytesValue()
		return document.NewStoredBytesField(f.Name, bytes.Clone(v))
	case document.KindInt64:
		v, _ := f.Int64Value()
		return document.NewStoredInt64Field(f.Name, v)
	default:
		v, _ := f.Float64Value()
		return document.NewStoredFloat64Field(f.Name, v)
	}
}

// register creates the builder fields a prepared document needs. It may
// fail on a doc values conflict with another builder; apply cannot fail.
func (b *segmentBuilder) register(sc *docScratch) error {
	for i := range sc.fields {
		pf := &sc.fields[i]
		existing := b.fields[pf.name]
		if existing != nil && (pf.dvType == document.DocValuesNone || existing.fi.DocValuesType == pf.dvType) {
			continue
		}
		num, err := b.numbers.addOrGet(pf.name, -1, pf.dvType)
		if err != nil {
			return err
		}
		if existing == nil {
			b.newField(pf.name, num)
		}
	}
	return nil
}

func (b *segmentBuilder) newField(name string, number int) *perField {
	f := &perField{
		fi:    &codec.FieldInfo{Name: name, Number: number},
		state: fieldRegistered,
	}
	b.fields[name] = f
	b.fieldList = append(b.fieldList, f)
	b.extraBytes.Add(int64(len(name)) + 128)
	return f
}

// apply adds a prepared document as docID.
func (b *segmentBuilder) apply(sc *docScratch, docID int) {
	var docVectors []*codec.FieldVector
	for i := range sc.fields {
		pf := &sc.fields[i]
		f := b.fields[pf.name]
		f.state = fieldAccumulating

		if pf.indexed {
			f.setIndexed(pf.sig)
			if pf.payloads {
				f.fi.StorePayloads = true
			}
			b.invertTokens(f, sc, pf, docID)
			if v := f.vector(sc, pf); v != nil {
				docVectors = append(docVectors, v)
			}
			if f.fi.HasNorms() {
				f.normDocs = append(f.normDocs, int32(docID))
				f.normValues = append(f.normValues, int64(pf.length-pf.overlaps))
				b.extraBytes.Add(12)
			}
		}
		if pf.dvType != document.DocValuesNone {
			if f.fi.DocValuesType == document.DocValuesNone {
				f.fi.DocValuesType = pf.dvType
				f.dv = newDocValuesWriter(b, pf.dvType)
			}
			f.dv.add(docID, pf)
		}
	}

	var stored []storedValue
	for _, ps := range sc.stored {
		stored = append(stored, storedValue{number: b.fields[ps.name].fi.Number, field: ps.field})
		b.extraBytes.Add(storedSize(ps.field))
	}
	b.stored = append(b.stored, stored)

	if docVectors != nil {
		for len(b.vectors) < docID {
			b.vectors = append(b.vectors, nil)
		}
		slices.SortFunc(docVectors, func(a, c *codec.FieldVector) int {
			return b.fields[a.Field].fi.Number - b.fields[c.Field].fi.Number
		})
		b.vectors = append(b.vectors, docVectors)
	}
}

func storedSize(f *document.Field) int64 {
	if v, ok := f.BytesValue(); ok {
		return int64(len(v)) + 48
	}
	return 56
}

// perField is one field of a segment builder.
type perField struct {
	fi    *codec.FieldInfo
	state fieldState

	indexed bool
	sig     indexSignature

	hash     *termhash.Hash
	postings postingsArrays
	docCount int

	normDocs   []int32
	normValues []int64

	dv docValuesWriter
}

func (f *perField) setIndexed(sig indexSignature) {
	if f.indexed {
		return
	}
	f.indexed = true
	f.sig = sig
	f.fi.IndexOptions = sig.options
	f.fi.OmitNorms = sig.omitNorms
	f.fi.StoreTermVectors = sig.vectors
}

// vector builds the term vector of one field of the current document.
func (f *perField) vector(sc *docScratch, pf *preparedField) *codec.FieldVector {
	if !f.sig.vectors || pf.endToken == pf.firstToken {
		return nil
	}
	v := &codec.FieldVector{
		Field:        f.fi.Name,
		HasPositions: f.sig.vecPositions,
		HasOffsets:   f.sig.vecOffsets,
		HasPayloads:  f.sig.vecPayloads,
	}
	byTerm := make(map[string]int)
	for i := pf.firstToken; i < pf.endToken; i++ {
		t := &sc.tokens[i]
		term := sc.term(t)
		j, ok := byTerm[string(term)]
		if !ok {
			j = len(v.Terms)
			byTerm[string(term)] = j
			v.Terms = append(v.Terms, codec.VectorTerm{Term: bytes.Clone(term)})
		}
		vt := &v.Terms[j]
		vt.Freq++
		if v.HasPositions {
			vt.Positions = append(vt.Positions, t.position)
			if v.HasPayloads {
				vt.Payloads = append(vt.Payloads, bytes.Clone(sc.payload(t)))
			}
		}
		if v.HasOffsets {
			vt.StartOffsets = append(vt.StartOffsets, t.start)
			vt.EndOffsets = append(vt.EndOffsets, t.end)
		}
	}
	slices.SortFunc(v.Terms, func(a, c codec.VectorTerm) int { return bytes.Compare(a.Term, c.Term) })
	return v
}
