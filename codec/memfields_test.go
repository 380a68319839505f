package codec_test

import (
	"slices"

	"github.com/hupe1980/segdex/codec"
)

// testPosting is one document of a term.
type testPosting struct {
	doc       int
	positions []int
	starts    []int
	ends      []int
	payloads  [][]byte
}

func (p testPosting) freq() int { return max(len(p.positions), 1) }

type testField struct {
	fi    *codec.FieldInfo
	terms map[string][]testPosting
}

// memFields is a codec.Fields over literal postings.
type memFields struct {
	fields map[string]*testField
}

func (m *memFields) Names() []string {
	names := make([]string, 0, len(m.fields))
	for n := range m.fields {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (m *memFields) Terms(field string) (codec.Terms, error) {
	f, ok := m.fields[field]
	if !ok {
		return nil, nil
	}
	terms := make([]string, 0, len(f.terms))
	for t := range f.terms {
		terms = append(terms, t)
	}
	slices.Sort(terms)
	return &memTerms{f: f, sorted: terms}, nil
}

type memTerms struct {
	f      *testField
	sorted []string
}

func (t *memTerms) Iterator() (codec.TermsEnum, error) { return &memTermsEnum{t: t, i: -1}, nil }
func (t *memTerms) Size() int64                         { return int64(len(t.sorted)) }
func (t *memTerms) DocCount() int                       { return -1 }
func (t *memTerms) SumDocFreq() int64                   { return -1 }
func (t *memTerms) SumTotalTermFreq() int64             { return -1 }
func (t *memTerms) HasFreqs() bool                      { return t.f.fi.IndexOptions.HasFreqs() }
func (t *memTerms) HasPositions() bool                  { return t.f.fi.IndexOptions.HasPositions() }
func (t *memTerms) HasOffsets() bool                    { return t.f.fi.IndexOptions.HasOffsets() }
func (t *memTerms) HasPayloads() bool                   { return t.f.fi.HasPayloads() }

type memTermsEnum struct {
	t *memTerms
	i int
}

func (e *memTermsEnum) Next() ([]byte, bool, error) {
	e.i++
	if e.i >= len(e.t.sorted) {
		return nil, false, nil
	}
	return []byte(e.t.sorted[e.i]), true, nil
}

func (e *memTermsEnum) SeekExact(term []byte) (bool, error) {
	i, ok := slices.BinarySearch(e.t.sorted, string(term))
	if ok {
		e.i = i
	}
	return ok, nil
}

func (e *memTermsEnum) Term() []byte { return []byte(e.t.sorted[e.i]) }

func (e *memTermsEnum) DocFreq() int { return len(e.postings()) }

func (e *memTermsEnum) TotalTermFreq() int64 {
	var n int64
	for _, p := range e.postings() {
		n += int64(p.freq())
	}
	return n
}

func (e *memTermsEnum) postings() []testPosting { return e.t.f.terms[e.t.sorted[e.i]] }

func (e *memTermsEnum) Postings() (codec.PostingsEnum, error) {
	return &memPostings{ps: e.postings(), i: -1}, nil
}

type memPostings struct {
	ps  []testPosting
	i   int
	pos int
}

func (p *memPostings) NextDoc() (int, error) {
	p.i++
	p.pos = -1
	if p.i >= len(p.ps) {
		return codec.NoMoreDocs, nil
	}
	return p.ps[p.i].doc, nil
}

func (p *memPostings) DocID() int { return p.ps[p.i].doc }
func (p *memPostings) Freq() int  { return p.ps[p.i].freq() }

func (p *memPostings) NextPosition() (int, error) {
	p.pos++
	return p.ps[p.i].positions[p.pos], nil
}

func (p *memPostings) StartOffset() int {
	if s := p.ps[p.i].starts; s != nil {
		return s[p.pos]
	}
	return -1
}

func (p *memPostings) EndOffset() int {
	if e := p.ps[p.i].ends; e != nil {
		return e[p.pos]
	}
	return -1
}

func (p *memPostings) Payload() []byte {
	if pl := p.ps[p.i].payloads; pl != nil {
		return pl[p.pos]
	}
	return nil
}
