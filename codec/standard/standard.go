// Package standard provides the default codec.
//
// Terms are looked up through an FST per field, stored fields are LZ4
// compressed in 16 KB chunks, and doc values and norms are packed with a
// single width per column. Importing the package registers the codec under
// the name "standard" and its postings format under "FST".
package standard

import (
	"github.com/hupe1980/segdex/codec"
)

// Name is the registered codec name.
const Name = "standard"

// Postings is the FST-backed postings format.
var Postings = codec.NewPostingsFormat("FST", FSTDict{})

// Numeric is the integer encoding for doc values and norms.
var Numeric = codec.PackedEncoder{}

func init() {
	codec.RegisterPostingsFormat(Postings)
	codec.Register(New(nil))
}

// New returns the standard codec. Fields listed in perField use their own
// postings format; every format there must be registered.
func New(perField map[string]codec.PostingsFormat) *codec.Codec {
	return &codec.Codec{
		Name:         Name,
		Postings:     codec.NewPerFieldPostingsFormat(Postings, perField),
		StoredFields: codec.NewStoredFieldsFormat("StoredFieldsLZ4", codec.LZ4{}, codec.DefaultStoredChunkSize),
		TermVectors:  codec.DefaultTermVectorsFormat{},
		DocValues:    codec.NewDocValuesFormat(Numeric),
		Norms:        codec.NewNormsFormat(Numeric),
		FieldInfos:   codec.DefaultFieldInfosFormat{},
		SegmentInfo:  codec.DefaultSegmentInfoFormat{},
		LiveDocs:     codec.DefaultLiveDocsFormat{},
	}
}

// Default returns the registered standard codec.
func Default() *codec.Codec {
	c, err := codec.Lookup(Name)
	if err != nil {
		panic(err)
	}
	return c
}
