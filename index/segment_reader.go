package index

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/internal/bitset"
	"github.com/hupe1980/segdex/store"
)

// segmentCore holds the open format readers of one segment. Cores are
// immutable and shared by every SegmentReader of the segment, across
// deletion generations and reopens.
type segmentCore struct {
	refs atomic.Int32

	info       *codec.SegmentInfo
	codec      *codec.Codec
	fieldInfos *codec.FieldInfos

	fields    codec.FieldsProducer
	stored    codec.StoredFieldsReader
	vectors   codec.TermVectorsReader
	norms     codec.NormsProducer
	docValues codec.DocValuesProducer
}

func openSegmentCore(ctx context.Context, dir store.Directory, si *codec.SegmentInfo) (_ *segmentCore, err error) {
	cd, err := codec.Lookup(si.Codec)
	if err != nil {
		return nil, err
	}
	fis, err := cd.FieldInfos.Read(ctx, dir, si, "")
	if err != nil {
		return nil, err
	}
	c := &segmentCore{info: si, codec: cd, fieldInfos: fis}
	c.refs.Store(1)
	defer func() {
		if err != nil {
			_ = c.closeReaders()
		}
	}()

	state := &codec.SegmentReadState{Dir: dir, Segment: si, FieldInfos: fis}
	if fis.HasPostings() {
		if c.fields, err = cd.Postings.FieldsProducer(ctx, state); err != nil {
			return nil, err
		}
	}
	if fis.HasNorms() {
		if c.norms, err = cd.Norms.Producer(ctx, state); err != nil {
			return nil, err
		}
	}
	if fis.HasDocValues() {
		if c.docValues, err = cd.DocValues.Producer(ctx, state); err != nil {
			return nil, err
		}
	}
	if c.stored, err = cd.StoredFields.Reader(ctx, dir, si, fis); err != nil {
		return nil, err
	}
	if fis.HasTermVectors() {
		if c.vectors, err = cd.TermVectors.Reader(ctx, dir, si, fis); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *segmentCore) incRef() {
	if c.refs.Add(1) <= 1 {
		panic("index: segment core already closed")
	}
}

func (c *segmentCore) decRef() error {
	switch n := c.refs.Add(-1); {
	case n == 0:
		return c.closeReaders()
	case n < 0:
		panic("index: segment core reference count below zero")
	}
	return nil
}

func (c *segmentCore) closeReaders() error {
	var errs []error
	if c.fields != nil {
		errs = append(errs, c.fields.Close())
	}
	if c.stored != nil {
		errs = append(errs, c.stored.Close())
	}
	if c.vectors != nil {
		errs = append(errs, c.vectors.Close())
	}
	if c.norms != nil {
		errs = append(errs, c.norms.Close())
	}
	if c.docValues != nil {
		errs = append(errs, c.docValues.Close())
	}
	return errors.Join(errs...)
}

func (c *segmentCore) checkIntegrity(ctx context.Context) error {
	if c.fields != nil {
		if err := c.fields.CheckIntegrity(ctx); err != nil {
			return err
		}
	}
	if err := c.stored.CheckIntegrity(ctx); err != nil {
		return err
	}
	if c.vectors != nil {
		if err := c.vectors.CheckIntegrity(ctx); err != nil {
			return err
		}
	}
	if c.norms != nil {
		if err := c.norms.CheckIntegrity(ctx); err != nil {
			return err
		}
	}
	if c.docValues != nil {
		return c.docValues.CheckIntegrity(ctx)
	}
	return nil
}

// readLiveDocs loads the live docs of a segment, or nil without deletions.
func readLiveDocs(ctx context.Context, dir store.Directory, cd *codec.Codec, sci *SegmentCommitInfo) (*bitset.BitSet, error) {
	if !sci.HasDeletions() {
		return nil, nil
	}
	deleted, err := cd.LiveDocs.Read(ctx, dir, sci.Info, sci.DelGen)
	if err != nil {
		return nil, err
	}
	if int(deleted.GetCardinality()) != sci.DelCount {
		return nil, codec.Corruptf(sci.liveDocsFile(), "live docs hold %d deletions, commit says %d", deleted.GetCardinality(), sci.DelCount)
	}
	live := bitset.NewAllSet(sci.MaxDoc())
	it := deleted.Iterator()
	for it.HasNext() {
		live.Clear(int(it.Next()))
	}
	return live, nil
}

// Bits is a read-only view of live documents.
type Bits interface {
	Get(doc int) bool
	Len() int
}

// SegmentReader is a point-in-time view of one segment: its immutable core
// plus a snapshot of its live documents.
type SegmentReader struct {
	refs atomic.Int32

	core    *segmentCore
	info    *SegmentCommitInfo
	live    *bitset.BitSet
	numDocs int
}

// newSegmentReader shares core, taking a reference. live must not change
// after the call; nil means no deletions.
func newSegmentReader(core *segmentCore, info *SegmentCommitInfo, live *bitset.BitSet) *SegmentReader {
	core.incRef()
	r := &SegmentReader{core: core, info: info, live: live, numDocs: info.MaxDoc()}
	if live != nil {
		r.numDocs = live.Cardinality()
	}
	r.refs.Store(1)
	return r
}

// openSegmentReader opens a reader with a fresh core.
func openSegmentReader(ctx context.Context, dir store.Directory, info *SegmentCommitInfo) (*SegmentReader, error) {
	core, err := openSegmentCore(ctx, dir, info.Info)
	if err != nil {
		return nil, err
	}
	defer func() { _ = core.decRef() }()
	live, err := readLiveDocs(ctx, dir, core.codec, info)
	if err != nil {
		return nil, err
	}
	return newSegmentReader(core, info, live), nil
}

// Name returns the segment name.
func (r *SegmentReader) Name() string { return r.info.Info.Name }

// Info returns the segment's commit info as of the reader's snapshot.
func (r *SegmentReader) Info() *SegmentCommitInfo { return r.info }

// MaxDoc returns the number of documents including deleted ones.
func (r *SegmentReader) MaxDoc() int { return r.info.MaxDoc() }

// NumDocs returns the number of live documents.
func (r *SegmentReader) NumDocs() int { return r.numDocs }

// FieldInfos returns the segment's fields.
func (r *SegmentReader) FieldInfos() *codec.FieldInfos { return r.core.fieldInfos }

// LiveDocs returns the live documents, or nil when none are deleted.
func (r *SegmentReader) LiveDocs() Bits {
	if r.live == nil {
		return nil
	}
	return r.live
}

// IsLive reports whether doc is not deleted.
func (r *SegmentReader) IsLive(doc int) bool {
	return r.live == nil || r.live.Get(doc)
}

// Fields returns the postings of all indexed fields, or nil.
func (r *SegmentReader) Fields() codec.Fields {
	if r.core.fields == nil {
		return nil
	}
	return r.core.fields
}

// Terms returns the terms of field, or nil.
func (r *SegmentReader) Terms(field string) (codec.Terms, error) {
	if r.core.fields == nil {
		return nil, nil
	}
	return r.core.fields.Terms(field)
}

// termsEnum positions an enum on t. It returns nil when the term is absent.
func (r *SegmentReader) termsEnum(t Term) (codec.TermsEnum, error) {
	terms, err := r.Terms(t.Field)
	if err != nil || terms == nil {
		return nil, err
	}
	te, err := terms.Iterator()
	if err != nil {
		return nil, err
	}
	found, err := te.SeekExact(t.Bytes)
	if err != nil || !found {
		return nil, err
	}
	return te, nil
}

// Postings returns the postings of t, or nil. Deleted documents are
// included; check IsLive.
func (r *SegmentReader) Postings(t Term) (codec.PostingsEnum, error) {
	te, err := r.termsEnum(t)
	if err != nil || te == nil {
		return nil, err
	}
	return te.Postings()
}

// DocFreq returns the number of documents containing t, counting deleted
// documents until they are merged away.
func (r *SegmentReader) DocFreq(t Term) (int, error) {
	te, err := r.termsEnum(t)
	if err != nil || te == nil {
		return 0, err
	}
	return te.DocFreq(), nil
}

// TotalTermFreq returns the number of occurrences of t.
func (r *SegmentReader) TotalTermFreq(t Term) (int64, error) {
	te, err := r.termsEnum(t)
	if err != nil || te == nil {
		return 0, err
	}
	return te.TotalTermFreq(), nil
}

func (r *SegmentReader) checkDoc(doc int) error {
	if doc < 0 || doc >= r.MaxDoc() {
		return invalidf("doc %d out of bounds [0,%d) in segment %s", doc, r.MaxDoc(), r.Name())
	}
	return nil
}

// StoredDocument returns the stored fields of doc.
func (r *SegmentReader) StoredDocument(doc int) (*document.Document, error) {
	if err := r.checkDoc(doc); err != nil {
		return nil, err
	}
	return r.core.stored.Document(doc)
}

// TermVectors returns the term vectors of doc ordered by field number, or
// nil when the segment has none.
func (r *SegmentReader) TermVectors(doc int) ([]*codec.FieldVector, error) {
	if err := r.checkDoc(doc); err != nil {
		return nil, err
	}
	if r.core.vectors == nil {
		return nil, nil
	}
	return r.core.vectors.Get(doc)
}

func (r *SegmentReader) docValuesField(field string, t document.DocValuesType) *codec.FieldInfo {
	fi := r.core.fieldInfos.ByName(field)
	if fi == nil || fi.DocValuesType != t || r.core.docValues == nil {
		return nil
	}
	return fi
}

// NumericDocValues returns the numeric column of field, or nil.
func (r *SegmentReader) NumericDocValues(field string) (*codec.NumericValues, error) {
	fi := r.docValuesField(field, document.DocValuesNumeric)
	if fi == nil {
		return nil, nil
	}
	return r.core.docValues.Numeric(fi)
}

// BinaryDocValues returns the binary column of field, or nil.
func (r *SegmentReader) BinaryDocValues(field string) (*codec.BinaryValues, error) {
	fi := r.docValuesField(field, document.DocValuesBinary)
	if fi == nil {
		return nil, nil
	}
	return r.core.docValues.Binary(fi)
}

// SortedDocValues returns the sorted column of field, or nil.
func (r *SegmentReader) SortedDocValues(field string) (*codec.SortedValues, error) {
	fi := r.docValuesField(field, document.DocValuesSorted)
	if fi == nil {
		return nil, nil
	}
	return r.core.docValues.Sorted(fi)
}

// SortedSetDocValues returns the sorted set column of field, or nil.
func (r *SegmentReader) SortedSetDocValues(field string) (*codec.SortedSetValues, error) {
	fi := r.docValuesField(field, document.DocValuesSortedSet)
	if fi == nil {
		return nil, nil
	}
	return r.core.docValues.SortedSet(fi)
}

// Norms returns the field length norms of field, or nil.
func (r *SegmentReader) Norms(field string) (*codec.NumericValues, error) {
	fi := r.core.fieldInfos.ByName(field)
	if fi == nil || !fi.HasNorms() || r.core.norms == nil {
		return nil, nil
	}
	return r.core.norms.Norms(fi)
}

// CheckIntegrity verifies the checksums of every file of the segment.
func (r *SegmentReader) CheckIntegrity(ctx context.Context) error {
	if err := r.core.checkIntegrity(ctx); err != nil {
		return fmt.Errorf("segment %s: %w", r.Name(), err)
	}
	return nil
}

// IncRef takes a reference.
func (r *SegmentReader) IncRef() {
	if r.refs.Add(1) <= 1 {
		panic("index: segment reader already closed")
	}
}

// DecRef releases a reference; the last one releases the core.
func (r *SegmentReader) DecRef() error {
	switch n := r.refs.Add(-1); {
	case n == 0:
		return r.core.decRef()
	case n < 0:
		return ErrClosed
	}
	return nil
}
