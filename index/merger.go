package index

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/internal/queue"
	"github.com/hupe1980/segdex/store"
)

// segmentMerger writes the live documents of several segments as one new
// segment. Sources are only read.
type segmentMerger struct {
	readers []*SegmentReader
	docMaps []docMap
	maxDoc  int

	dir    *store.TrackingDirectory
	codec  *codec.Codec
	si     *codec.SegmentInfo
	fis    *codec.FieldInfos
	logger *slog.Logger
}

// mergeFieldInfos unions the fields of the readers. Term vectors, payloads
// and omitted norms are or-ed; index options drop to the weakest indexed
// variant. Conflicting doc values types are rejected.
func mergeFieldInfos(readers []*SegmentReader, numbers *fieldNumbers) (*codec.FieldInfos, error) {
	byName := make(map[string]*codec.FieldInfo)
	var order []*codec.FieldInfo
	for _, r := range readers {
		for _, fi := range r.FieldInfos().All() {
			cur, ok := byName[fi.Name]
			if !ok {
				num, err := numbers.addOrGet(fi.Name, fi.Number, fi.DocValuesType)
				if err != nil {
					return nil, err
				}
				cur = fi.Clone()
				cur.Number = num
				byName[fi.Name] = cur
				order = append(order, cur)
				continue
			}
			switch {
			case cur.DocValuesType == document.DocValuesNone:
				cur.DocValuesType = fi.DocValuesType
			case fi.DocValuesType != document.DocValuesNone && fi.DocValuesType != cur.DocValuesType:
				return nil, fmt.Errorf("%w: field %q has doc values types %s and %s", ErrIncompatibleField, fi.Name, cur.DocValuesType, fi.DocValuesType)
			}
			if fi.Indexed() {
				if cur.Indexed() {
					cur.IndexOptions = min(cur.IndexOptions, fi.IndexOptions)
				} else {
					cur.IndexOptions = fi.IndexOptions
				}
				cur.StoreTermVectors = cur.StoreTermVectors || fi.StoreTermVectors
				cur.StorePayloads = cur.StorePayloads || fi.StorePayloads
				cur.OmitNorms = cur.OmitNorms || fi.OmitNorms
			}
		}
	}
	for _, fi := range order {
		if !fi.IndexOptions.HasPositions() {
			fi.StorePayloads = false
		}
		if !fi.Indexed() {
			fi.StoreTermVectors, fi.OmitNorms = false, false
		}
	}
	return codec.NewFieldInfos(order)
}

// merge writes the merged segment. On error the caller deletes the files
// created through m.dir.
func (m *segmentMerger) merge(ctx context.Context) error {
	state := &codec.SegmentWriteState{Dir: m.dir, Segment: m.si, FieldInfos: m.fis}
	steps := []struct {
		name string
		run  func() error
		skip bool
	}{
		{"postings", func() error { return m.mergePostings(ctx, state) }, !m.fis.HasPostings()},
		{"stored fields", func() error { return m.mergeStored(ctx) }, false},
		{"term vectors", func() error { return m.mergeVectors(ctx) }, !m.fis.HasTermVectors()},
		{"norms", func() error { return m.mergeNorms(ctx, state) }, !m.fis.HasNorms()},
		{"doc values", func() error { return m.mergeDocValues(ctx, state) }, !m.fis.HasDocValues()},
	}
	for _, s := range steps {
		if s.skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.run(); err != nil {
			return fmt.Errorf("merge %s: %w", s.name, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeSegmentMeta(ctx, m.codec, m.dir, m.si, m.fis)
}

func (m *segmentMerger) mergePostings(ctx context.Context, state *codec.SegmentWriteState) error {
	fc, err := m.codec.Postings.FieldsConsumer(ctx, state)
	if err != nil {
		return err
	}
	if err := fc.Write(ctx, newMergedFields(m.fis, m.readers, m.docMaps)); err != nil {
		fc.Abort()
		return err
	}
	return fc.Close()
}

// forEachLive calls fn for every live document in merged order.
func (m *segmentMerger) forEachLive(ctx context.Context, fn func(r *SegmentReader, doc int) error) error {
	n := 0
	for _, r := range m.readers {
		for doc := 0; doc < r.MaxDoc(); doc++ {
			if !r.IsLive(doc) {
				continue
			}
			if n++; n&1023 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if err := fn(r, doc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *segmentMerger) mergeStored(ctx context.Context) (err error) {
	sw, err := m.codec.StoredFields.Writer(ctx, m.dir, m.si)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			sw.Abort()
		}
	}()
	err = m.forEachLive(ctx, func(r *SegmentReader, doc int) error {
		d, err := r.StoredDocument(doc)
		if err != nil {
			return err
		}
		if err := sw.StartDocument(); err != nil {
			return err
		}
		for _, f := range d.Fields {
			fi := m.fis.ByName(f.Name)
			if fi == nil {
				return codec.Corruptf(r.Name(), "stored field %q missing from field infos", f.Name)
			}
			if err := sw.WriteField(fi, f); err != nil {
				return err
			}
		}
		return sw.FinishDocument()
	})
	if err != nil {
		return err
	}
	if err := sw.Finish(m.maxDoc); err != nil {
		return err
	}
	return sw.Close()
}

func (m *segmentMerger) mergeVectors(ctx context.Context) (err error) {
	tw, err := m.codec.TermVectors.Writer(ctx, m.dir, m.si)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tw.Abort()
		}
	}()
	err = m.forEachLive(ctx, func(r *SegmentReader, doc int) error {
		vectors, err := r.TermVectors(doc)
		if err != nil {
			return err
		}
		if err := tw.StartDocument(); err != nil {
			return err
		}
		for _, v := range vectors {
			if err := tw.AddField(m.fis.ByName(v.Field), v); err != nil {
				return err
			}
		}
		return tw.FinishDocument()
	})
	if err != nil {
		return err
	}
	if err := tw.Finish(m.maxDoc); err != nil {
		return err
	}
	return tw.Close()
}

func (m *segmentMerger) mergeNorms(ctx context.Context, state *codec.SegmentWriteState) error {
	nc, err := m.codec.Norms.Consumer(ctx, state)
	if err != nil {
		return err
	}
	for _, fi := range m.fis.All() {
		if !fi.HasNorms() {
			continue
		}
		merged := codec.NewNumericValues(m.maxDoc)
		for i, r := range m.readers {
			src, err := r.Norms(fi.Name)
			if err != nil {
				nc.Abort()
				return err
			}
			copyNumeric(merged, src, m.docMaps[i], r)
		}
		if err := nc.AddNorms(fi, merged); err != nil {
			nc.Abort()
			return err
		}
	}
	return nc.Close()
}

func copyNumeric(dst, src *codec.NumericValues, dm docMap, r *SegmentReader) {
	if src == nil {
		return
	}
	it := src.Docs().Iterator()
	for it.HasNext() {
		doc := int(it.Next())
		if !r.IsLive(doc) {
			continue
		}
		v, _ := src.Get(doc)
		dst.Set(dm.get(doc), v)
	}
}

func (m *segmentMerger) mergeDocValues(ctx context.Context, state *codec.SegmentWriteState) (err error) {
	dc, err := m.codec.DocValues.Consumer(ctx, state)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			dc.Abort()
		}
	}()
	for _, fi := range m.fis.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch fi.DocValuesType {
		case document.DocValuesNumeric:
			merged := codec.NewNumericValues(m.maxDoc)
			for i, r := range m.readers {
				src, err := r.NumericDocValues(fi.Name)
				if err != nil {
					return err
				}
				copyNumeric(merged, src, m.docMaps[i], r)
			}
			err = dc.AddNumeric(fi, merged)
		case document.DocValuesBinary:
			merged := codec.NewBinaryValues(m.maxDoc)
			for i, r := range m.readers {
				src, err := r.BinaryDocValues(fi.Name)
				if err != nil {
					return err
				}
				if src == nil {
					continue
				}
				it := src.Docs().Iterator()
				for it.HasNext() {
					doc := int(it.Next())
					if r.IsLive(doc) {
						v, _ := src.Get(doc)
						merged.Set(m.docMaps[i].get(doc), v)
					}
				}
			}
			err = dc.AddBinary(fi, merged)
		case document.DocValuesSorted:
			err = m.mergeSorted(fi, dc)
		case document.DocValuesSortedSet:
			err = m.mergeSortedSet(fi, dc)
		}
		if err != nil {
			return err
		}
	}
	return dc.Close()
}

func (m *segmentMerger) mergeSorted(fi *codec.FieldInfo, dc codec.DocValuesConsumer) error {
	cols := make([]*codec.SortedValues, len(m.readers))
	dicts := make([]ordSource, len(m.readers))
	for i, r := range m.readers {
		col, err := r.SortedDocValues(fi.Name)
		if err != nil {
			return err
		}
		cols[i] = col
		if col == nil {
			continue
		}
		used := make([]bool, col.ValueCount())
		for doc := 0; doc < col.MaxDoc(); doc++ {
			if o := col.Ord(doc); o >= 0 && r.IsLive(doc) {
				used[o] = true
			}
		}
		dicts[i] = ordSource{lookup: col.LookupOrd, used: used}
	}
	om := newOrdinalMap(dicts)
	ords := make([]int32, m.maxDoc)
	for i := range ords {
		ords[i] = -1
	}
	for i, col := range cols {
		if col == nil {
			continue
		}
		r := m.readers[i]
		for doc := 0; doc < col.MaxDoc(); doc++ {
			if o := col.Ord(doc); o >= 0 && r.IsLive(doc) {
				ords[m.docMaps[i].get(doc)] = int32(om.global(i, o))
			}
		}
	}
	merged, err := codec.NewSortedValues(om.terms, ords)
	if err != nil {
		return err
	}
	return dc.AddSorted(fi, merged)
}

func (m *segmentMerger) mergeSortedSet(fi *codec.FieldInfo, dc codec.DocValuesConsumer) error {
	cols := make([]*codec.SortedSetValues, len(m.readers))
	dicts := make([]ordSource, len(m.readers))
	for i, r := range m.readers {
		col, err := r.SortedSetDocValues(fi.Name)
		if err != nil {
			return err
		}
		cols[i] = col
		if col == nil {
			continue
		}
		used := make([]bool, col.ValueCount())
		for doc := 0; doc < col.MaxDoc(); doc++ {
			if r.IsLive(doc) {
				for _, o := range col.Ords(doc) {
					used[o] = true
				}
			}
		}
		dicts[i] = ordSource{lookup: col.LookupOrd, used: used}
	}
	om := newOrdinalMap(dicts)
	docOrds := make([][]int, m.maxDoc)
	for i, col := range cols {
		if col == nil {
			continue
		}
		r := m.readers[i]
		for doc := 0; doc < col.MaxDoc(); doc++ {
			src := col.Ords(doc)
			if len(src) == 0 || !r.IsLive(doc) {
				continue
			}
			dst := make([]int, len(src))
			for j, o := range src {
				dst[j] = om.global(i, o)
			}
			docOrds[m.docMaps[i].get(doc)] = dst
		}
	}
	merged, err := codec.NewSortedSetValues(om.terms, docOrds)
	if err != nil {
		return err
	}
	return dc.AddSortedSet(fi, merged)
}

// ordSource is the sorted dictionary of one segment's column. Only used
// ordinals take part in the merge.
type ordSource struct {
	lookup func(ord int) []byte
	used   []bool
}

// ordinalMap merges sorted dictionaries into one and maps each segment
// ordinal to its global ordinal.
type ordinalMap struct {
	terms    [][]byte
	segToGlo [][]int32
}

type ordCursor struct {
	seg, ord int
	term     []byte
}

func newOrdinalMap(sources []ordSource) *ordinalMap {
	om := &ordinalMap{segToGlo: make([][]int32, len(sources))}
	h := queue.New(len(sources), func(a, b *ordCursor) bool {
		if c := bytes.Compare(a.term, b.term); c != 0 {
			return c < 0
		}
		return a.seg < b.seg
	})
	advance := func(c *ordCursor) bool {
		src := sources[c.seg]
		for c.ord++; c.ord < len(src.used); c.ord++ {
			if src.used[c.ord] {
				c.term = src.lookup(c.ord)
				return true
			}
		}
		return false
	}
	for i, src := range sources {
		if src.lookup == nil {
			continue
		}
		om.segToGlo[i] = make([]int32, len(src.used))
		c := &ordCursor{seg: i, ord: -1}
		if advance(c) {
			h.Push(c)
		}
	}
	for h.Len() > 0 {
		c, _ := h.Top()
		if n := len(om.terms); n == 0 || !bytes.Equal(om.terms[n-1], c.term) {
			om.terms = append(om.terms, bytes.Clone(c.term))
		}
		om.segToGlo[c.seg][c.ord] = int32(len(om.terms) - 1)
		if advance(c) {
			h.Fix()
		} else {
			h.Pop()
		}
	}
	return om
}

func (om *ordinalMap) global(seg, ord int) int { return int(om.segToGlo[seg][ord]) }
