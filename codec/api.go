package codec

import (
	"context"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/store"
)

// NoMoreDocs is returned by PostingsEnum.NextDoc when exhausted.
const NoMoreDocs = math.MaxInt32

// Fields is a sorted collection of indexed fields.
type Fields interface {
	// Names returns the indexed field names in sorted order.
	Names() []string
	// Terms returns the terms of field, or nil if the field has none.
	Terms(field string) (Terms, error)
}

// Terms is the term dictionary of one field.
type Terms interface {
	Iterator() (TermsEnum, error)
	// Size returns the number of terms, or -1 if unknown.
	Size() int64
	// DocCount returns the number of documents with at least one term.
	DocCount() int
	SumDocFreq() int64
	SumTotalTermFreq() int64
	HasFreqs() bool
	HasPositions() bool
	HasOffsets() bool
	HasPayloads() bool
}

// TermsEnum iterates terms in unsigned byte order.
type TermsEnum interface {
	// Next advances to the next term and returns it. ok is false when the
	// enum is exhausted; a zero-length term is a valid term. The returned
	// slice is valid until the next call.
	Next() (term []byte, ok bool, err error)
	// SeekExact positions the enum on term if it exists.
	SeekExact(term []byte) (bool, error)
	// Term returns the current term.
	Term() []byte
	DocFreq() int
	TotalTermFreq() int64
	// Postings returns the postings of the current term.
	Postings() (PostingsEnum, error)
}

// PostingsEnum iterates the documents of a term in increasing order.
type PostingsEnum interface {
	// NextDoc advances and returns the next doc id, or NoMoreDocs.
	NextDoc() (int, error)
	DocID() int
	// Freq returns the term frequency in the current document; 1 when
	// frequencies are not indexed.
	Freq() int
	// NextPosition returns the next position; call at most Freq times per
	// document. It returns -1 when positions are not indexed.
	NextPosition() (int, error)
	// StartOffset and EndOffset return the offsets of the last position, or
	// -1 when offsets are not indexed.
	StartOffset() int
	EndOffset() int
	// Payload returns the payload of the last position, or nil.
	Payload() []byte
}

// FieldsConsumer writes postings.
type FieldsConsumer interface {
	// Write consumes all terms of all fields. Field statistics are computed
	// from the postings while writing.
	Write(ctx context.Context, fields Fields) error
	Close() error
	// Abort releases resources after a failure. Created files are left for
	// the caller to delete.
	Abort()
}

// FieldsProducer reads postings.
type FieldsProducer interface {
	Fields
	CheckIntegrity(ctx context.Context) error
	Close() error
}

// PostingsFormat encodes postings.
type PostingsFormat interface {
	Name() string
	FieldsConsumer(ctx context.Context, state *SegmentWriteState) (FieldsConsumer, error)
	FieldsProducer(ctx context.Context, state *SegmentReadState) (FieldsProducer, error)
}

// StoredFieldsWriter writes stored fields one document at a time.
type StoredFieldsWriter interface {
	StartDocument() error
	WriteField(fi *FieldInfo, f *document.Field) error
	FinishDocument() error
	// Finish validates the document count before Close.
	Finish(numDocs int) error
	Close() error
	Abort()
}

// StoredFieldsReader reads stored fields. It is safe for concurrent use.
type StoredFieldsReader interface {
	Document(doc int) (*document.Document, error)
	CheckIntegrity(ctx context.Context) error
	Close() error
}

// StoredFieldsFormat encodes stored fields.
type StoredFieldsFormat interface {
	Writer(ctx context.Context, dir store.Directory, si *SegmentInfo) (StoredFieldsWriter, error)
	Reader(ctx context.Context, dir store.Directory, si *SegmentInfo, infos *FieldInfos) (StoredFieldsReader, error)
}

// VectorTerm is one term of a document's term vector.
type VectorTerm struct {
	Term         []byte
	Freq         int
	Positions    []int
	StartOffsets []int
	EndOffsets   []int
	Payloads     [][]byte
}

// FieldVector is the term vector of one field of one document. Terms are
// sorted by unsigned byte order.
type FieldVector struct {
	Field        string
	HasPositions bool
	HasOffsets   bool
	HasPayloads  bool
	Terms        []VectorTerm
}

// TermVectorsWriter writes term vectors one document at a time.
type TermVectorsWriter interface {
	StartDocument() error
	AddField(fi *FieldInfo, v *FieldVector) error
	FinishDocument() error
	Finish(numDocs int) error
	Close() error
	Abort()
}

// TermVectorsReader reads term vectors. It is safe for concurrent use.
type TermVectorsReader interface {
	// Get returns the vectors of doc, ordered by field number.
	Get(doc int) ([]*FieldVector, error)
	CheckIntegrity(ctx context.Context) error
	Close() error
}

// TermVectorsFormat encodes term vectors.
type TermVectorsFormat interface {
	Writer(ctx context.Context, dir store.Directory, si *SegmentInfo) (TermVectorsWriter, error)
	Reader(ctx context.Context, dir store.Directory, si *SegmentInfo, infos *FieldInfos) (TermVectorsReader, error)
}

// DocValuesConsumer writes doc values columns.
type DocValuesConsumer interface {
	AddNumeric(fi *FieldInfo, values *NumericValues) error
	AddBinary(fi *FieldInfo, values *BinaryValues) error
	AddSorted(fi *FieldInfo, values *SortedValues) error
	AddSortedSet(fi *FieldInfo, values *SortedSetValues) error
	Close() error
	Abort()
}

// DocValuesProducer reads doc values columns. Columns are immutable and
// safe for concurrent use.
type DocValuesProducer interface {
	Numeric(fi *FieldInfo) (*NumericValues, error)
	Binary(fi *FieldInfo) (*BinaryValues, error)
	Sorted(fi *FieldInfo) (*SortedValues, error)
	SortedSet(fi *FieldInfo) (*SortedSetValues, error)
	CheckIntegrity(ctx context.Context) error
	Close() error
}

// DocValuesFormat encodes doc values.
type DocValuesFormat interface {
	Consumer(ctx context.Context, state *SegmentWriteState) (DocValuesConsumer, error)
	Producer(ctx context.Context, state *SegmentReadState) (DocValuesProducer, error)
}

// NormsConsumer writes norms.
type NormsConsumer interface {
	AddNorms(fi *FieldInfo, values *NumericValues) error
	Close() error
	Abort()
}

// NormsProducer reads norms.
type NormsProducer interface {
	Norms(fi *FieldInfo) (*NumericValues, error)
	CheckIntegrity(ctx context.Context) error
	Close() error
}

// NormsFormat encodes norms.
type NormsFormat interface {
	Consumer(ctx context.Context, state *SegmentWriteState) (NormsConsumer, error)
	Producer(ctx context.Context, state *SegmentReadState) (NormsProducer, error)
}

// LiveDocsFormat persists deletions.
type LiveDocsFormat interface {
	// Write persists the deleted documents under a deletion generation.
	Write(ctx context.Context, dir store.Directory, si *SegmentInfo, delGen int64, deleted *roaring.Bitmap) error
	// Read returns the deleted documents of a generation.
	Read(ctx context.Context, dir store.Directory, si *SegmentInfo, delGen int64) (*roaring.Bitmap, error)
	// FileName returns the file of a generation.
	FileName(si *SegmentInfo, delGen int64) string
}

// SegmentWriteState is handed to format writers.
type SegmentWriteState struct {
	Dir        store.Directory
	Segment    *SegmentInfo
	FieldInfos *FieldInfos
	// Suffix distinguishes files of one format instance when several are
	// used in a segment.
	Suffix string
}

// SegmentReadState is handed to format readers.
type SegmentReadState struct {
	Dir        store.Directory
	Segment    *SegmentInfo
	FieldInfos *FieldInfos
	Suffix     string
}

// Codec bundles the formats that make up a segment.
type Codec struct {
	Name         string
	Postings     PostingsFormat
	StoredFields StoredFieldsFormat
	TermVectors  TermVectorsFormat
	DocValues    DocValuesFormat
	Norms        NormsFormat
	FieldInfos   FieldInfosFormat
	SegmentInfo  SegmentInfoFormat
	LiveDocs     LiveDocsFormat
}
