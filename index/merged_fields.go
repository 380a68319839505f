package index

import (
	"bytes"
	"errors"
	"slices"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/internal/queue"
)

// docMap maps the doc ids of one merge source to merged doc ids.
type docMap struct {
	base int
	// ids is nil when the source has no deletions; -1 marks deleted docs.
	ids []int32
}

func (m docMap) get(doc int) int {
	if m.ids == nil {
		return m.base + doc
	}
	return int(m.ids[doc])
}

// buildDocMaps numbers the live docs of all readers consecutively, in
// reader order. It returns the maps and the merged document count.
func buildDocMaps(readers []*SegmentReader) ([]docMap, int) {
	maps := make([]docMap, len(readers))
	next := 0
	for i, r := range readers {
		maps[i].base = next
		if r.live == nil {
			next += r.MaxDoc()
			continue
		}
		ids := make([]int32, r.MaxDoc())
		for doc := range ids {
			if r.live.Get(doc) {
				ids[doc] = int32(next)
				next++
			} else {
				ids[doc] = -1
			}
		}
		maps[i].ids = ids
	}
	return maps, next
}

// mergedFields presents the postings of several segments as one, remapping
// doc ids and dropping deleted documents. Statistics are left to the
// postings writer, which computes them while writing.
type mergedFields struct {
	fis     *codec.FieldInfos
	subs    []codec.Fields
	docMaps []docMap
	names   []string
}

func newMergedFields(fis *codec.FieldInfos, readers []*SegmentReader, docMaps []docMap) *mergedFields {
	mf := &mergedFields{fis: fis, docMaps: docMaps, subs: make([]codec.Fields, len(readers))}
	for i, r := range readers {
		mf.subs[i] = r.Fields()
		if mf.subs[i] == nil {
			continue
		}
		for _, name := range mf.subs[i].Names() {
			if fi := fis.ByName(name); fi != nil && fi.Indexed() {
				mf.names = append(mf.names, name)
			}
		}
	}
	slices.Sort(mf.names)
	mf.names = slices.Compact(mf.names)
	return mf
}

func (f *mergedFields) Names() []string { return f.names }

func (f *mergedFields) Terms(field string) (codec.Terms, error) {
	fi := f.fis.ByName(field)
	if fi == nil || !fi.Indexed() {
		return nil, nil
	}
	t := &mergedTerms{fi: fi, docMaps: f.docMaps}
	for i, sub := range f.subs {
		if sub == nil {
			continue
		}
		terms, err := sub.Terms(field)
		if err != nil {
			return nil, err
		}
		if terms != nil {
			t.subs = append(t.subs, terms)
			t.ords = append(t.ords, i)
		}
	}
	if len(t.subs) == 0 {
		return nil, nil
	}
	return t, nil
}

type mergedTerms struct {
	fi      *codec.FieldInfo
	subs    []codec.Terms
	ords    []int
	docMaps []docMap
}

func (t *mergedTerms) Iterator() (codec.TermsEnum, error) {
	e := &mergedTermsEnum{
		docMaps: t.docMaps,
		heap: queue.New(len(t.subs), func(a, b *subTermsEnum) bool {
			if c := bytes.Compare(a.term, b.term); c != 0 {
				return c < 0
			}
			return a.ord < b.ord
		}),
	}
	for i, sub := range t.subs {
		te, err := sub.Iterator()
		if err != nil {
			return nil, err
		}
		s := &subTermsEnum{te: te, ord: t.ords[i]}
		if err := e.advance(s); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (t *mergedTerms) Size() int64             { return -1 }
func (t *mergedTerms) DocCount() int           { return -1 }
func (t *mergedTerms) SumDocFreq() int64       { return -1 }
func (t *mergedTerms) SumTotalTermFreq() int64 { return -1 }
func (t *mergedTerms) HasFreqs() bool          { return t.fi.IndexOptions.HasFreqs() }
func (t *mergedTerms) HasPositions() bool      { return t.fi.IndexOptions.HasPositions() }
func (t *mergedTerms) HasOffsets() bool        { return t.fi.IndexOptions.HasOffsets() }
func (t *mergedTerms) HasPayloads() bool       { return t.fi.HasPayloads() }

type subTermsEnum struct {
	te   codec.TermsEnum
	ord  int
	term []byte
}

// mergedTermsEnum is a k-way merge of sorted term enums. Sources sharing a
// term are visited in source order.
type mergedTermsEnum struct {
	docMaps []docMap
	heap    *queue.Heap[*subTermsEnum]
	matches []*subTermsEnum
	term    []byte
}

func (e *mergedTermsEnum) advance(s *subTermsEnum) error {
	term, ok, err := s.te.Next()
	if err != nil {
		return err
	}
	if ok {
		s.term = term
		e.heap.Push(s)
	}
	return nil
}

func (e *mergedTermsEnum) Next() ([]byte, bool, error) {
	for _, s := range e.matches {
		if err := e.advance(s); err != nil {
			return nil, false, err
		}
	}
	e.matches = e.matches[:0]
	top, ok := e.heap.Pop()
	if !ok {
		e.term = nil
		return nil, false, nil
	}
	e.matches = append(e.matches, top)
	for {
		next, ok := e.heap.Top()
		if !ok || !bytes.Equal(next.term, top.term) {
			break
		}
		e.heap.Pop()
		e.matches = append(e.matches, next)
	}
	e.term = top.term
	return e.term, true, nil
}

func (e *mergedTermsEnum) SeekExact([]byte) (bool, error) {
	return false, errors.New("index: merged terms do not support seeking")
}

func (e *mergedTermsEnum) Term() []byte { return e.term }

func (e *mergedTermsEnum) DocFreq() int {
	n := 0
	for _, s := range e.matches {
		n += s.te.DocFreq()
	}
	return n
}

func (e *mergedTermsEnum) TotalTermFreq() int64 {
	var n int64
	for _, s := range e.matches {
		n += s.te.TotalTermFreq()
	}
	return n
}

func (e *mergedTermsEnum) Postings() (codec.PostingsEnum, error) {
	pe := &mergedPostingsEnum{doc: -1, subs: make([]codec.PostingsEnum, len(e.matches)), maps: make([]docMap, len(e.matches))}
	for i, s := range e.matches {
		sub, err := s.te.Postings()
		if err != nil {
			return nil, err
		}
		pe.subs[i] = sub
		pe.maps[i] = e.docMaps[s.ord]
	}
	return pe, nil
}

// mergedPostingsEnum concatenates source postings. Sources are in source
// order, so remapped doc ids increase.
type mergedPostingsEnum struct {
	subs []codec.PostingsEnum
	maps []docMap
	cur  int
	doc  int
}

func (e *mergedPostingsEnum) NextDoc() (int, error) {
	for e.cur < len(e.subs) {
		doc, err := e.subs[e.cur].NextDoc()
		if err != nil {
			return 0, err
		}
		if doc == codec.NoMoreDocs {
			e.cur++
			continue
		}
		if mapped := e.maps[e.cur].get(doc); mapped >= 0 {
			e.doc = mapped
			return mapped, nil
		}
	}
	e.doc = codec.NoMoreDocs
	return codec.NoMoreDocs, nil
}

func (e *mergedPostingsEnum) DocID() int                 { return e.doc }
func (e *mergedPostingsEnum) Freq() int                  { return e.subs[e.cur].Freq() }
func (e *mergedPostingsEnum) NextPosition() (int, error) { return e.subs[e.cur].NextPosition() }
func (e *mergedPostingsEnum) StartOffset() int           { return e.subs[e.cur].StartOffset() }
func (e *mergedPostingsEnum) EndOffset() int             { return e.subs[e.cur].EndOffset() }
func (e *mergedPostingsEnum) Payload() []byte            { return e.subs[e.cur].Payload() }
