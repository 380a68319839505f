package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/internal/bitset"
	"github.com/hupe1980/segdex/store"
)

// CheckIndexStatus is the result of CheckIndex.
type CheckIndexStatus struct {
	Generation   int64
	SegmentsFile string
	UserData     map[string]string
	Segments     []*SegmentStatus

	TotalDocs     int
	TotalLiveDocs int
	Duration      time.Duration
}

// Clean reports whether every segment passed.
func (s *CheckIndexStatus) Clean() bool {
	for _, seg := range s.Segments {
		if seg.Err != nil {
			return false
		}
	}
	return true
}

// Err joins the errors of all broken segments.
func (s *CheckIndexStatus) Err() error {
	var errs []error
	for _, seg := range s.Segments {
		if seg.Err != nil {
			errs = append(errs, fmt.Errorf("segment %s: %w", seg.Name, seg.Err))
		}
	}
	return errors.Join(errs...)
}

// SegmentStatus describes one checked segment.
type SegmentStatus struct {
	Name        string
	Codec       string
	MaxDoc      int
	NumDocs     int
	DelCount    int
	SizeBytes   int64
	Diagnostics map[string]string

	// Fields counts the fields of the segment's field infos. Terms,
	// TotalFreq, TotalPositions, StoredFields and TermVectors only count
	// live documents; Terms counts terms occurring in at least one.
	Fields         int
	Terms          int64
	TotalFreq      int64
	TotalPositions int64
	StoredFields   int64
	DocValues      int
	Norms          int
	TermVectors    int64

	// Err is the first problem found, nil for a healthy segment.
	Err error
}

// CheckIndex verifies the newest commit of dir: checksums, field infos,
// live docs, postings order and bounds, recomputed statistics, stored
// fields, doc values, norms, and term vectors against postings. It only
// reads; a broken segment is reported in its status rather than returned.
func CheckIndex(ctx context.Context, dir store.Directory, logger *slog.Logger) (*CheckIndexStatus, error) {
	start := time.Now()
	infos, err := ReadSegmentInfos(ctx, dir)
	if err != nil {
		return nil, err
	}
	status := &CheckIndexStatus{
		Generation:   infos.Generation,
		SegmentsFile: codec.SegmentsFileName(infos.Generation),
		UserData:     infos.UserData,
	}
	for _, sci := range infos.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := checkSegment(ctx, dir, sci)
		if errors.Is(seg.Err, context.Canceled) || errors.Is(seg.Err, context.DeadlineExceeded) {
			return nil, seg.Err
		}
		if seg.Err != nil && logger != nil {
			logger.Error("segment check failed", "segment", seg.Name, "error", seg.Err)
		}
		status.Segments = append(status.Segments, seg)
		status.TotalDocs += seg.MaxDoc
		status.TotalLiveDocs += seg.NumDocs
	}
	status.Duration = time.Since(start)
	if logger != nil {
		logger.Info("check index finished",
			"generation", status.Generation,
			"segments", len(status.Segments),
			"clean", status.Clean(),
			"duration", status.Duration)
	}
	return status, nil
}

func checkSegment(ctx context.Context, dir store.Directory, sci *SegmentCommitInfo) *SegmentStatus {
	seg := &SegmentStatus{
		Name:        sci.Name(),
		Codec:       sci.Info.Codec,
		MaxDoc:      sci.MaxDoc(),
		DelCount:    sci.DelCount,
		Diagnostics: sci.Info.Diagnostics,
	}
	seg.SizeBytes, seg.Err = sci.SizeInBytes(ctx, dir)
	if seg.Err != nil {
		return seg
	}
	r, err := openSegmentReader(ctx, dir, sci)
	if err != nil {
		seg.Err = err
		return seg
	}
	defer func() { _ = r.DecRef() }()
	seg.NumDocs = r.NumDocs()
	seg.Fields = len(r.FieldInfos().All())

	c := &segmentChecker{r: r, seg: seg}
	for _, step := range []func(context.Context) error{
		r.CheckIntegrity,
		c.checkLiveDocs,
		c.checkPostings,
		c.checkStored,
		c.checkDocValues,
		c.checkNorms,
		c.checkVectors,
	} {
		if err := step(ctx); err != nil {
			seg.Err = err
			return seg
		}
	}
	return seg
}

type segmentChecker struct {
	r   *SegmentReader
	seg *SegmentStatus
}

func (c *segmentChecker) checkLiveDocs(context.Context) error {
	want := c.r.MaxDoc() - c.r.Info().DelCount
	if c.r.NumDocs() != want {
		return fmt.Errorf("live docs: %d live documents, expected %d", c.r.NumDocs(), want)
	}
	return nil
}

func (c *segmentChecker) checkPostings(ctx context.Context) error {
	fields := c.r.Fields()
	if fields == nil {
		return nil
	}
	for _, name := range fields.Names() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fi := c.r.FieldInfos().ByName(name)
		if fi == nil {
			return fmt.Errorf("postings: field %q missing from field infos", name)
		}
		if !fi.Indexed() {
			return fmt.Errorf("postings: field %q is not indexed", name)
		}
		terms, err := fields.Terms(name)
		if err != nil {
			return fmt.Errorf("postings: field %q: %w", name, err)
		}
		if terms == nil {
			continue
		}
		if err := c.checkField(fi, terms); err != nil {
			return fmt.Errorf("postings: field %q: %w", name, err)
		}
	}
	return nil
}

func (c *segmentChecker) checkField(fi *codec.FieldInfo, terms codec.Terms) error {
	maxDoc := c.r.MaxDoc()
	hasFreqs := fi.IndexOptions.HasFreqs()
	hasPositions := fi.IndexOptions.HasPositions()
	hasOffsets := fi.IndexOptions.HasOffsets()

	te, err := terms.Iterator()
	if err != nil {
		return err
	}
	docsSeen := bitset.New(maxDoc)
	var (
		lastTerm   []byte
		numTerms   int64
		sumDocFreq int64
		sumTTF     int64
	)
	for {
		term, ok, err := te.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if numTerms > 0 && bytes.Compare(term, lastTerm) <= 0 {
			return fmt.Errorf("term %q out of order after %q", term, lastTerm)
		}
		lastTerm = append(lastTerm[:0], term...)
		numTerms++

		pe, err := te.Postings()
		if err != nil {
			return err
		}
		docFreq, ttf := 0, int64(0)
		liveFreq := int64(0)
		lastDoc := -1
		for {
			doc, err := pe.NextDoc()
			if err != nil {
				return err
			}
			if doc == codec.NoMoreDocs {
				break
			}
			if doc <= lastDoc || doc >= maxDoc {
				return fmt.Errorf("term %q: doc %d out of order or bounds (last %d, maxDoc %d)", term, doc, lastDoc, maxDoc)
			}
			lastDoc = doc
			freq := pe.Freq()
			if freq <= 0 {
				return fmt.Errorf("term %q: doc %d has freq %d", term, doc, freq)
			}
			if !hasFreqs && freq != 1 {
				return fmt.Errorf("term %q: doc %d has freq %d without indexed frequencies", term, doc, freq)
			}
			live := c.r.IsLive(doc)
			if hasPositions {
				if err := c.checkPositions(term, doc, pe, freq, hasOffsets, live); err != nil {
					return err
				}
			}
			docsSeen.Set(doc)
			docFreq++
			ttf += int64(freq)
			if live {
				liveFreq += int64(freq)
			}
		}
		if docFreq == 0 {
			return fmt.Errorf("term %q has no documents", term)
		}
		if te.DocFreq() != docFreq {
			return fmt.Errorf("term %q: docFreq %d, recomputed %d", term, te.DocFreq(), docFreq)
		}
		if te.TotalTermFreq() != ttf {
			return fmt.Errorf("term %q: totalTermFreq %d, recomputed %d", term, te.TotalTermFreq(), ttf)
		}
		sumDocFreq += int64(docFreq)
		sumTTF += ttf
		if liveFreq > 0 {
			c.seg.Terms++
			c.seg.TotalFreq += liveFreq
		}
	}

	if n := terms.Size(); n >= 0 && n != numTerms {
		return fmt.Errorf("term count %d, recomputed %d", n, numTerms)
	}
	if terms.SumDocFreq() != sumDocFreq {
		return fmt.Errorf("sumDocFreq %d, recomputed %d", terms.SumDocFreq(), sumDocFreq)
	}
	if terms.SumTotalTermFreq() != sumTTF {
		return fmt.Errorf("sumTotalTermFreq %d, recomputed %d", terms.SumTotalTermFreq(), sumTTF)
	}
	if dc := docsSeen.Cardinality(); terms.DocCount() != dc {
		return fmt.Errorf("docCount %d, recomputed %d", terms.DocCount(), dc)
	}
	return nil
}

func (c *segmentChecker) checkPositions(term []byte, doc int, pe codec.PostingsEnum, freq int, hasOffsets, live bool) error {
	lastPos, lastStart := -1, 0
	for i := 0; i < freq; i++ {
		pos, err := pe.NextPosition()
		if err != nil {
			return err
		}
		if pos < 0 || pos < lastPos {
			return fmt.Errorf("term %q doc %d: position %d after %d", term, doc, pos, lastPos)
		}
		lastPos = pos
		if hasOffsets {
			start, end := pe.StartOffset(), pe.EndOffset()
			if start < 0 || end < start || start < lastStart {
				return fmt.Errorf("term %q doc %d: offsets [%d,%d) after start %d", term, doc, start, end, lastStart)
			}
			lastStart = start
		}
		if live {
			c.seg.TotalPositions++
		}
	}
	return nil
}

func (c *segmentChecker) checkStored(ctx context.Context) error {
	for doc := 0; doc < c.r.MaxDoc(); doc++ {
		if doc%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		d, err := c.r.StoredDocument(doc)
		if err != nil {
			return fmt.Errorf("stored fields: doc %d: %w", doc, err)
		}
		for _, f := range d.Fields {
			if c.r.FieldInfos().ByName(f.Name) == nil {
				return fmt.Errorf("stored fields: doc %d: unknown field %q", doc, f.Name)
			}
		}
		if c.r.IsLive(doc) {
			c.seg.StoredFields += int64(d.Len())
		}
	}
	return nil
}

func (c *segmentChecker) checkDocValues(context.Context) error {
	maxDoc := c.r.MaxDoc()
	for _, fi := range c.r.FieldInfos().All() {
		var err error
		switch fi.DocValuesType {
		case document.DocValuesNone:
			continue
		case document.DocValuesNumeric:
			var v *codec.NumericValues
			if v, err = c.r.NumericDocValues(fi.Name); err == nil {
				err = checkColumn(v != nil, v.MaxDoc, maxDoc)
			}
		case document.DocValuesBinary:
			var v *codec.BinaryValues
			if v, err = c.r.BinaryDocValues(fi.Name); err == nil {
				err = checkColumn(v != nil, v.MaxDoc, maxDoc)
			}
		case document.DocValuesSorted:
			var v *codec.SortedValues
			if v, err = c.r.SortedDocValues(fi.Name); err == nil {
				err = checkSorted(v, maxDoc)
			}
		case document.DocValuesSortedSet:
			var v *codec.SortedSetValues
			if v, err = c.r.SortedSetDocValues(fi.Name); err == nil {
				err = checkSortedSet(v, maxDoc)
			}
		}
		if err != nil {
			return fmt.Errorf("doc values: field %q: %w", fi.Name, err)
		}
		c.seg.DocValues++
	}
	return nil
}

// checkColumn verifies a doc values or norms column is present and covers
// every document. size is only called when ok is set.
func checkColumn(ok bool, size func() int, maxDoc int) error {
	if !ok {
		return errors.New("values missing")
	}
	if n := size(); n != maxDoc {
		return fmt.Errorf("values cover %d documents, segment has %d", n, maxDoc)
	}
	return nil
}

func checkOrdTerms(count int, lookup func(int) []byte) error {
	for ord := 1; ord < count; ord++ {
		if bytes.Compare(lookup(ord-1), lookup(ord)) >= 0 {
			return fmt.Errorf("ord %d value %q not above %q", ord, lookup(ord), lookup(ord-1))
		}
	}
	return nil
}

func checkSorted(v *codec.SortedValues, maxDoc int) error {
	if v == nil {
		return errors.New("values missing")
	}
	if err := checkColumn(true, v.MaxDoc, maxDoc); err != nil {
		return err
	}
	count := v.ValueCount()
	for doc := 0; doc < maxDoc; doc++ {
		if ord := v.Ord(doc); ord < -1 || ord >= count {
			return fmt.Errorf("doc %d: ord %d outside [-1,%d)", doc, ord, count)
		}
	}
	return checkOrdTerms(count, v.LookupOrd)
}

func checkSortedSet(v *codec.SortedSetValues, maxDoc int) error {
	if v == nil {
		return errors.New("values missing")
	}
	if err := checkColumn(true, v.MaxDoc, maxDoc); err != nil {
		return err
	}
	count := v.ValueCount()
	for doc := 0; doc < maxDoc; doc++ {
		last := -1
		for _, ord := range v.Ords(doc) {
			if ord <= last || ord >= count {
				return fmt.Errorf("doc %d: ord %d out of order or bounds (last %d, count %d)", doc, ord, last, count)
			}
			last = ord
		}
	}
	return checkOrdTerms(count, v.LookupOrd)
}

func (c *segmentChecker) checkNorms(context.Context) error {
	for _, fi := range c.r.FieldInfos().All() {
		if !fi.HasNorms() {
			continue
		}
		v, err := c.r.Norms(fi.Name)
		if err != nil {
			return fmt.Errorf("norms: field %q: %w", fi.Name, err)
		}
		if err := checkColumn(v != nil, v.MaxDoc, c.r.MaxDoc()); err != nil {
			return fmt.Errorf("norms: field %q: %w", fi.Name, err)
		}
		c.seg.Norms++
	}
	return nil
}

// checkVectors verifies that every vector term has a matching posting with
// the same frequency.
func (c *segmentChecker) checkVectors(ctx context.Context) error {
	if !c.r.FieldInfos().HasTermVectors() {
		return nil
	}
	for doc := 0; doc < c.r.MaxDoc(); doc++ {
		if doc%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		vectors, err := c.r.TermVectors(doc)
		if err != nil {
			return fmt.Errorf("term vectors: doc %d: %w", doc, err)
		}
		for _, v := range vectors {
			fi := c.r.FieldInfos().ByName(v.Field)
			if fi == nil || !fi.StoreTermVectors {
				return fmt.Errorf("term vectors: doc %d: field %q does not store vectors", doc, v.Field)
			}
			for _, vt := range v.Terms {
				freq, err := c.postingFreq(Term{Field: v.Field, Bytes: vt.Term}, doc)
				if err != nil {
					return fmt.Errorf("term vectors: doc %d: %w", doc, err)
				}
				if fi.IndexOptions.HasFreqs() && freq != vt.Freq {
					return fmt.Errorf("term vectors: doc %d term %s: freq %d, postings say %d", doc, Term{v.Field, vt.Term}, vt.Freq, freq)
				}
				if freq == 0 {
					return fmt.Errorf("term vectors: doc %d term %s: missing from postings", doc, Term{v.Field, vt.Term})
				}
			}
			if c.r.IsLive(doc) {
				c.seg.TermVectors++
			}
		}
	}
	return nil
}

func (c *segmentChecker) postingFreq(t Term, doc int) (int, error) {
	pe, err := c.r.Postings(t)
	if err != nil || pe == nil {
		return 0, err
	}
	for {
		d, err := pe.NextDoc()
		if err != nil {
			return 0, err
		}
		if d == codec.NoMoreDocs || d > doc {
			return 0, nil
		}
		if d == doc {
			return pe.Freq(), nil
		}
	}
}
