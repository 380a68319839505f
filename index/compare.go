package index

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/document"
)

// CompareIndexes reports whether a and b hold the same logical index: the
// same live documents in the same order with equal stored fields, indexed
// terms, postings (docs, freqs, positions, offsets, payloads), doc values,
// norms and term vectors. Segmentation, codecs and deleted documents may
// differ. The first difference is returned wrapped in ErrNotEquivalent.
func CompareIndexes(ctx context.Context, a, b *DirectoryReader) error {
	if a.NumDocs() != b.NumDocs() {
		return notEquivalent("live documents: %d != %d", a.NumDocs(), b.NumDocs())
	}
	va, vb := newLiveView(a), newLiveView(b)

	fa, fb := va.fieldInfos(), vb.fieldInfos()
	if !slices.Equal(sortedKeys(fa), sortedKeys(fb)) {
		return notEquivalent("fields: %v != %v", sortedKeys(fa), sortedKeys(fb))
	}
	for _, name := range sortedKeys(fa) {
		if err := ctx.Err(); err != nil {
			return err
		}
		x, y := fa[name], fb[name]
		if x.IndexOptions != y.IndexOptions || x.DocValuesType != y.DocValuesType ||
			x.StoreTermVectors != y.StoreTermVectors || x.HasNorms() != y.HasNorms() {
			return notEquivalent("field %q: schema differs", name)
		}
		if x.Indexed() {
			if err := comparePostings(va, vb, name); err != nil {
				return err
			}
		}
		if x.DocValuesType != document.DocValuesNone {
			if err := compareDocValues(va, vb, x); err != nil {
				return err
			}
		}
		if x.HasNorms() {
			if err := compareNorms(va, vb, name); err != nil {
				return err
			}
		}
	}
	return compareDocuments(ctx, va, vb)
}

func notEquivalent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotEquivalent, fmt.Sprintf(format, args...))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// liveView numbers the live documents of a reader consecutively.
type liveView struct {
	r *DirectoryReader
	// ids maps each leaf's doc ids to live ordinals, -1 for deleted docs.
	ids [][]int
	// docs lists the leaf and leaf doc id of each live ordinal.
	docs []leafDoc
}

type leafDoc struct {
	leaf int
	doc  int
}

func newLiveView(r *DirectoryReader) *liveView {
	v := &liveView{r: r, ids: make([][]int, len(r.Leaves()))}
	for i, leaf := range r.Leaves() {
		ids := make([]int, leaf.Reader.MaxDoc())
		for doc := range ids {
			if !leaf.Reader.IsLive(doc) {
				ids[doc] = -1
				continue
			}
			ids[doc] = len(v.docs)
			v.docs = append(v.docs, leafDoc{leaf: i, doc: doc})
		}
		v.ids[i] = ids
	}
	return v
}

func (v *liveView) reader(ld leafDoc) *SegmentReader { return v.r.Leaves()[ld.leaf].Reader }

// fieldInfos returns the fields known to any segment. Field numbers are
// per index and may differ between the two sides.
func (v *liveView) fieldInfos() map[string]*codec.FieldInfo {
	out := make(map[string]*codec.FieldInfo)
	for _, leaf := range v.r.Leaves() {
		for _, fi := range leaf.Reader.FieldInfos().All() {
			if _, ok := out[fi.Name]; !ok {
				out[fi.Name] = fi
			}
		}
	}
	return out
}

type posting struct {
	doc       int
	freq      int
	positions []int
	starts    []int
	ends      []int
	payloads  [][]byte
}

func (p *posting) equal(o *posting) bool {
	return p.doc == o.doc && p.freq == o.freq &&
		slices.Equal(p.positions, o.positions) &&
		slices.Equal(p.starts, o.starts) &&
		slices.Equal(p.ends, o.ends) &&
		slices.EqualFunc(p.payloads, o.payloads, bytes.Equal)
}

// postings collects the live postings of field by term.
func (v *liveView) postings(field string) (map[string][]*posting, error) {
	out := make(map[string][]*posting)
	for i, leaf := range v.r.Leaves() {
		terms, err := leaf.Reader.Terms(field)
		if err != nil {
			return nil, err
		}
		if terms == nil {
			continue
		}
		fi := leaf.Reader.FieldInfos().ByName(field)
		te, err := terms.Iterator()
		if err != nil {
			return nil, err
		}
		for {
			term, ok, err := te.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			pe, err := te.Postings()
			if err != nil {
				return nil, err
			}
			key := string(term)
			for {
				doc, err := pe.NextDoc()
				if err != nil {
					return nil, err
				}
				if doc == codec.NoMoreDocs {
					break
				}
				if v.ids[i][doc] < 0 {
					continue
				}
				p := &posting{doc: v.ids[i][doc], freq: pe.Freq()}
				if fi.IndexOptions.HasPositions() {
					for range p.freq {
						pos, err := pe.NextPosition()
						if err != nil {
							return nil, err
						}
						p.positions = append(p.positions, pos)
						if fi.IndexOptions.HasOffsets() {
							p.starts = append(p.starts, pe.StartOffset())
							p.ends = append(p.ends, pe.EndOffset())
						}
						if fi.HasPayloads() {
							p.payloads = append(p.payloads, bytes.Clone(pe.Payload()))
						}
					}
				}
				out[key] = append(out[key], p)
			}
		}
	}
	// Segments are visited in doc order, so each list is sorted.
	return out, nil
}

func comparePostings(a, b *liveView, field string) error {
	pa, err := a.postings(field)
	if err != nil {
		return err
	}
	pb, err := b.postings(field)
	if err != nil {
		return err
	}
	ta, tb := sortedKeys(pa), sortedKeys(pb)
	if len(ta) != len(tb) {
		return notEquivalent("field %q: %d terms != %d terms", field, len(ta), len(tb))
	}
	for i, term := range ta {
		if term != tb[i] {
			return notEquivalent("field %q: term %q != %q", field, term, tb[i])
		}
		xs, ys := pa[term], pb[term]
		if len(xs) != len(ys) {
			return notEquivalent("term %s:%s: docFreq %d != %d", field, term, len(xs), len(ys))
		}
		for j := range xs {
			if !xs[j].equal(ys[j]) {
				return notEquivalent("term %s:%s: postings differ at live doc %d", field, term, xs[j].doc)
			}
		}
	}
	return nil
}

// dvValue renders the doc values of one document of one segment.
func dvValue(r *SegmentReader, fi *codec.FieldInfo, doc int) (string, error) {
	switch fi.DocValuesType {
	case document.DocValuesNumeric:
		v, err := r.NumericDocValues(fi.Name)
		if err != nil || v == nil {
			return "", err
		}
		if n, ok := v.Get(doc); ok {
			return fmt.Sprint(n), nil
		}
	case document.DocValuesBinary:
		v, err := r.BinaryDocValues(fi.Name)
		if err != nil || v == nil {
			return "", err
		}
		if b, ok := v.Get(doc); ok {
			return fmt.Sprintf("%x", b), nil
		}
	case document.DocValuesSorted:
		v, err := r.SortedDocValues(fi.Name)
		if err != nil || v == nil {
			return "", err
		}
		if b, ok := v.Get(doc); ok {
			return fmt.Sprintf("%x", b), nil
		}
	case document.DocValuesSortedSet:
		v, err := r.SortedSetDocValues(fi.Name)
		if err != nil || v == nil {
			return "", err
		}
		var vals []string
		for _, ord := range v.Ords(doc) {
			vals = append(vals, fmt.Sprintf("%x", v.LookupOrd(ord)))
		}
		if len(vals) > 0 {
			return fmt.Sprint(vals), nil
		}
	}
	return "", nil
}

func compareDocValues(a, b *liveView, fi *codec.FieldInfo) error {
	for ord := range a.docs {
		x, err := dvValue(a.reader(a.docs[ord]), fi, a.docs[ord].doc)
		if err != nil {
			return err
		}
		y, err := dvValue(b.reader(b.docs[ord]), fi, b.docs[ord].doc)
		if err != nil {
			return err
		}
		if x != y {
			return notEquivalent("doc values %q: live doc %d: %q != %q", fi.Name, ord, x, y)
		}
	}
	return nil
}

func normValue(r *SegmentReader, field string, doc int) (int64, bool, error) {
	v, err := r.Norms(field)
	if err != nil || v == nil {
		return 0, false, err
	}
	n, ok := v.Get(doc)
	return n, ok, nil
}

func compareNorms(a, b *liveView, field string) error {
	for ord := range a.docs {
		x, xok, err := normValue(a.reader(a.docs[ord]), field, a.docs[ord].doc)
		if err != nil {
			return err
		}
		y, yok, err := normValue(b.reader(b.docs[ord]), field, b.docs[ord].doc)
		if err != nil {
			return err
		}
		if x != y || xok != yok {
			return notEquivalent("norms %q: live doc %d: %d != %d", field, ord, x, y)
		}
	}
	return nil
}

func compareDocuments(ctx context.Context, a, b *liveView) error {
	for ord := range a.docs {
		if ord%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		ra, rb := a.reader(a.docs[ord]), b.reader(b.docs[ord])
		da, err := ra.StoredDocument(a.docs[ord].doc)
		if err != nil {
			return err
		}
		db, err := rb.StoredDocument(b.docs[ord].doc)
		if err != nil {
			return err
		}
		if !slices.EqualFunc(da.Fields, db.Fields, storedEqual) {
			return notEquivalent("stored fields: live doc %d: %v != %v", ord, da.Fields, db.Fields)
		}
		xa, err := ra.TermVectors(a.docs[ord].doc)
		if err != nil {
			return err
		}
		xb, err := rb.TermVectors(b.docs[ord].doc)
		if err != nil {
			return err
		}
		if !slices.EqualFunc(xa, xb, vectorEqual) {
			return notEquivalent("term vectors: live doc %d differ", ord)
		}
	}
	return nil
}

func storedEqual(x, y *document.Field) bool {
	return x.Name == y.Name && x.Kind() == y.Kind() && x.String() == y.String()
}

func vectorEqual(x, y *codec.FieldVector) bool {
	if x.Field != y.Field || x.HasPositions != y.HasPositions ||
		x.HasOffsets != y.HasOffsets || x.HasPayloads != y.HasPayloads {
		return false
	}
	return slices.EqualFunc(x.Terms, y.Terms, func(s, t codec.VectorTerm) bool {
		return bytes.Equal(s.Term, t.Term) && s.Freq == t.Freq &&
			slices.Equal(s.Positions, t.Positions) &&
			slices.Equal(s.StartOffsets, t.StartOffsets) &&
			slices.Equal(s.EndOffsets, t.EndOffsets) &&
			slices.EqualFunc(s.Payloads, t.Payloads, bytes.Equal)
	})
}
