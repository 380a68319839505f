package codec

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/segdex/document"
	"github.com/hupe1980/segdex/store"
)

// FieldInfo records how a field was indexed in one segment.
type FieldInfo struct {
	Name   string
	Number int

	IndexOptions     document.IndexOptions
	StoreTermVectors bool
	StorePayloads    bool
	OmitNorms        bool
	DocValuesType    document.DocValuesType

	// Attributes hold per-field format metadata, such as the postings format
	// a field was routed to.
	Attributes map[string]string
}

// Indexed reports whether the field has postings.
func (fi *FieldInfo) Indexed() bool { return fi.IndexOptions != document.IndexOptionsNone }

// HasNorms reports whether the field records norms.
func (fi *FieldInfo) HasNorms() bool { return fi.Indexed() && !fi.OmitNorms }

// HasPayloads reports whether postings carry payloads.
func (fi *FieldInfo) HasPayloads() bool { return fi.StorePayloads && fi.IndexOptions.HasPositions() }

// Attribute returns the attribute value for key.
func (fi *FieldInfo) Attribute(key string) string { return fi.Attributes[key] }

// PutAttribute sets an attribute and returns the previous value.
func (fi *FieldInfo) PutAttribute(key, value string) string {
	if fi.Attributes == nil {
		fi.Attributes = make(map[string]string)
	}
	old := fi.Attributes[key]
	fi.Attributes[key] = value
	return old
}

// Clone returns a deep copy.
func (fi *FieldInfo) Clone() *FieldInfo {
	c := *fi
	c.Attributes = maps.Clone(fi.Attributes)
	return &c
}

// FieldInfos is the immutable set of fields of a segment.
type FieldInfos struct {
	byNumber []*FieldInfo
	byName   map[string]*FieldInfo

	hasFreqs, hasPositions, hasOffsets, hasPayloads bool
	hasPostings, hasNorms, hasDocValues, hasVectors bool
}

// NewFieldInfos builds a FieldInfos. Names and numbers must be unique.
func NewFieldInfos(infos []*FieldInfo) (*FieldInfos, error) {
	fis := &FieldInfos{byName: make(map[string]*FieldInfo, len(infos))}
	numbers := make(map[int]string, len(infos))
	for _, fi := range infos {
		if fi.Number < 0 {
			return nil, fmt.Errorf("codec: field %q has negative number %d", fi.Name, fi.Number)
		}
		if other, ok := numbers[fi.Number]; ok {
			return nil, fmt.Errorf("codec: duplicate field number %d for %q and %q", fi.Number, other, fi.Name)
		}
		if _, ok := fis.byName[fi.Name]; ok {
			return nil, fmt.Errorf("codec: duplicate field name %q", fi.Name)
		}
		numbers[fi.Number] = fi.Name
		fis.byName[fi.Name] = fi
		fis.byNumber = append(fis.byNumber, fi)

		fis.hasPostings = fis.hasPostings || fi.Indexed()
		fis.hasFreqs = fis.hasFreqs || fi.IndexOptions.HasFreqs()
		fis.hasPositions = fis.hasPositions || fi.IndexOptions.HasPositions()
		fis.hasOffsets = fis.hasOffsets || fi.IndexOptions.HasOffsets()
		fis.hasPayloads = fis.hasPayloads || fi.HasPayloads()
		fis.hasNorms = fis.hasNorms || fi.HasNorms()
		fis.hasDocValues = fis.hasDocValues || fi.DocValuesType != document.DocValuesNone
		fis.hasVectors = fis.hasVectors || fi.StoreTermVectors
	}
	slices.SortFunc(fis.byNumber, func(a, b *FieldInfo) int { return a.Number - b.Number })
	return fis, nil
}

// Len returns the number of fields.
func (f *FieldInfos) Len() int { return len(f.byNumber) }

// All returns the fields ordered by number.
func (f *FieldInfos) All() []*FieldInfo { return f.byNumber }

// ByName returns the named field or nil.
func (f *FieldInfos) ByName(name string) *FieldInfo { return f.byName[name] }

// ByNumber returns the field with the given number or nil.
func (f *FieldInfos) ByNumber(number int) *FieldInfo {
	i, ok := slices.BinarySearchFunc(f.byNumber, number, func(fi *FieldInfo, n int) int { return fi.Number - n })
	if !ok {
		return nil
	}
	return f.byNumber[i]
}

// Names returns the field names in sorted order.
func (f *FieldInfos) Names() []string {
	names := make([]string, 0, len(f.byNumber))
	for _, fi := range f.byNumber {
		names = append(names, fi.Name)
	}
	slices.Sort(names)
	return names
}

func (f *FieldInfos) HasPostings() bool    { return f.hasPostings }
func (f *FieldInfos) HasFreqs() bool       { return f.hasFreqs }
func (f *FieldInfos) HasPositions() bool   { return f.hasPositions }
func (f *FieldInfos) HasOffsets() bool     { return f.hasOffsets }
func (f *FieldInfos) HasPayloads() bool    { return f.hasPayloads }
func (f *FieldInfos) HasNorms() bool       { return f.hasNorms }
func (f *FieldInfos) HasDocValues() bool   { return f.hasDocValues }
func (f *FieldInfos) HasTermVectors() bool { return f.hasVectors }

const (
	fieldInfosCodec   = "FieldInfos"
	fieldInfosVersion = 1

	fieldBitVectors   = 0x1
	fieldBitOmitNorms = 0x2
	fieldBitPayloads  = 0x4
)

// FieldInfosFormat reads and writes the .fnm file.
type FieldInfosFormat interface {
	Write(ctx context.Context, dir store.Directory, si *SegmentInfo, suffix string, infos *FieldInfos) error
	Read(ctx context.Context, dir store.Directory, si *SegmentInfo, suffix string) (*FieldInfos, error)
}

// DefaultFieldInfosFormat is shared by the built-in codecs.
type DefaultFieldInfosFormat struct{}

func (DefaultFieldInfosFormat) Write(ctx context.Context, dir store.Directory, si *SegmentInfo, suffix string, infos *FieldInfos) (err error) {
	name := SegmentFileName(si.Name, suffix, FieldInfosExtension)
	out, err := dir.CreateOutput(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Abort()
		}
	}()
	if err := WriteIndexHeader(out, fieldInfosCodec, fieldInfosVersion, si.ID, suffix); err != nil {
		return err
	}
	if err := out.WriteVInt(int32(infos.Len())); err != nil {
		return err
	}
	for _, fi := range infos.All() {
		var bits byte
		if fi.StoreTermVectors {
			bits |= fieldBitVectors
		}
		if fi.OmitNorms {
			bits |= fieldBitOmitNorms
		}
		if fi.StorePayloads {
			bits |= fieldBitPayloads
		}
		if err := out.WriteString(fi.Name); err != nil {
			return err
		}
		if err := out.WriteVInt(int32(fi.Number)); err != nil {
			return err
		}
		if err := out.WriteByte(bits); err != nil {
			return err
		}
		if err := out.WriteByte(byte(fi.IndexOptions)); err != nil {
			return err
		}
		if err := out.WriteByte(byte(fi.DocValuesType)); err != nil {
			return err
		}
		if err := out.WriteStringMap(fi.Attributes); err != nil {
			return err
		}
	}
	if err := WriteFooter(out); err != nil {
		return err
	}
	return out.Close()
}

func (DefaultFieldInfosFormat) Read(ctx context.Context, dir store.Directory, si *SegmentInfo, suffix string) (*FieldInfos, error) {
	name := SegmentFileName(si.Name, suffix, FieldInfosExtension)
	in, err := OpenVerified(ctx, dir, name)
	if err != nil {
		return nil, err
	}
	if _, err := CheckIndexHeader(in, fieldInfosCodec, fieldInfosVersion, fieldInfosVersion, si.ID, suffix); err != nil {
		return nil, err
	}
	infos, err := readFieldInfos(in)
	if err != nil {
		return nil, WrapReadError(name, err)
	}
	if err := CheckEOF(in); err != nil {
		return nil, err
	}
	fis, err := NewFieldInfos(infos)
	if err != nil {
		return nil, &CorruptError{Resource: name, Reason: "invalid field infos", Err: err}
	}
	return fis, nil
}

func readFieldInfos(in *store.Input) ([]*FieldInfo, error) {
	n, err := in.ReadVInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, Corruptf(in.Name(), "invalid field count %d", n)
	}
	infos := make([]*FieldInfo, 0, n)
	for i := int32(0); i < n; i++ {
		fi := &FieldInfo{}
		if fi.Name, err = in.ReadString(); err != nil {
			return nil, err
		}
		num, err := in.ReadVInt()
		if err != nil {
			return nil, err
		}
		fi.Number = int(num)
		var raw [3]byte
		if err := in.ReadBytes(raw[:]); err != nil {
			return nil, err
		}
		bits := raw[0]
		fi.StoreTermVectors = bits&fieldBitVectors != 0
		fi.OmitNorms = bits&fieldBitOmitNorms != 0
		fi.StorePayloads = bits&fieldBitPayloads != 0
		fi.IndexOptions = document.IndexOptions(raw[1])
		fi.DocValuesType = document.DocValuesType(raw[2])
		if fi.IndexOptions > document.IndexOptionsDocsAndFreqsAndPositionsAndOffsets {
			return nil, Corruptf(in.Name(), "field %q: invalid index options %d", fi.Name, raw[1])
		}
		if fi.DocValuesType > document.DocValuesSortedSet {
			return nil, Corruptf(in.Name(), "field %q: invalid doc values type %d", fi.Name, raw[2])
		}
		attrs, err := in.ReadStringMap()
		if err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			fi.Attributes = attrs
		}
		infos = append(infos, fi)
	}
	return infos, nil
}
