// Package compact provides a codec tuned for size over lookup speed.
//
// Terms live in prefix-coded blocks of TermsPerBlock entries, stored fields
// are zstd compressed in 64 KB chunks, and doc values and norms are packed
// in blocks of 4096 values, each with its own minimum and width. Importing
// the package registers the codec as "compact" and its postings format as
// "Block".
package compact

import (
	"github.com/hupe1980/segdex/codec"
)

// Name is the registered codec name.
const Name = "compact"

const storedChunkSize = 64 << 10

// Postings is the block-dictionary postings format.
var Postings = codec.NewPostingsFormat("Block", BlockDict{})

// Numeric is the integer encoding for doc values and norms.
var Numeric = codec.PackedEncoder{BlockSize: 4096}

func init() {
	codec.RegisterPostingsFormat(Postings)
	codec.Register(New(nil))
}

// New returns the compact codec with optional per-field postings formats.
func New(perField map[string]codec.PostingsFormat) *codec.Codec {
	return &codec.Codec{
		Name:         Name,
		Postings:     codec.NewPerFieldPostingsFormat(Postings, perField),
		StoredFields: codec.NewStoredFieldsFormat("StoredFieldsZstd", codec.Zstd{}, storedChunkSize),
		TermVectors:  codec.DefaultTermVectorsFormat{},
		DocValues:    codec.NewDocValuesFormat(Numeric),
		Norms:        codec.NewNormsFormat(Numeric),
		FieldInfos:   codec.DefaultFieldInfosFormat{},
		SegmentInfo:  codec.DefaultSegmentInfoFormat{},
		LiveDocs:     codec.DefaultLiveDocsFormat{},
	}
}
