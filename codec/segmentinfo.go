package codec

import (
	"context"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/hupe1980/segdex/store"
)

// SegmentInfo describes a segment's immutable properties.
type SegmentInfo struct {
	Name   string
	ID     ID
	MaxDoc int
	Codec  string

	// Diagnostics record how the segment was produced (flush or merge,
	// timestamp, platform).
	Diagnostics map[string]string
	// Attributes hold codec metadata.
	Attributes map[string]string

	files []string
}

// NewID returns a random id.
func NewID() ID { return ID(uuid.New()) }

// NewSegmentInfo creates a segment info with a fresh random id.
func NewSegmentInfo(name string, maxDoc int, codec string) *SegmentInfo {
	return &SegmentInfo{Name: name, ID: NewID(), MaxDoc: maxDoc, Codec: codec}
}

// Files returns the segment's files in sorted order, excluding live docs.
func (si *SegmentInfo) Files() []string { return slices.Clone(si.files) }

// SetFiles replaces the file set.
func (si *SegmentInfo) SetFiles(files []string) {
	si.files = slices.Compact(slices.Sorted(slices.Values(files)))
}

// AddFile adds a file to the set.
func (si *SegmentInfo) AddFile(name string) {
	i, ok := slices.BinarySearch(si.files, name)
	if !ok {
		si.files = slices.Insert(si.files, i, name)
	}
}

// Clone returns a deep copy.
func (si *SegmentInfo) Clone() *SegmentInfo {
	c := *si
	c.Diagnostics = maps.Clone(si.Diagnostics)
	c.Attributes = maps.Clone(si.Attributes)
	c.files = slices.Clone(si.files)
	return &c
}

// SegmentInfoFormat reads and writes the .si file.
type SegmentInfoFormat interface {
	Write(ctx context.Context, dir store.Directory, si *SegmentInfo) error
	Read(ctx context.Context, dir store.Directory, name string, id ID) (*SegmentInfo, error)
}

const (
	segmentInfoCodec   = "SegmentInfo"
	segmentInfoVersion = 1
)

// DefaultSegmentInfoFormat is shared by the built-in codecs.
type DefaultSegmentInfoFormat struct{}

// Write writes the .si file and adds it to the segment's file set.
func (DefaultSegmentInfoFormat) Write(ctx context.Context, dir store.Directory, si *SegmentInfo) (err error) {
	name := SegmentFileName(si.Name, "", SegmentInfoExtension)
	si.AddFile(name)

	out, err := dir.CreateOutput(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Abort()
		}
	}()
	if err := WriteIndexHeader(out, segmentInfoCodec, segmentInfoVersion, si.ID, ""); err != nil {
		return err
	}
	if err := out.WriteVInt(int32(si.MaxDoc)); err != nil {
		return err
	}
	if err := out.WriteString(si.Codec); err != nil {
		return err
	}
	if err := out.WriteStringMap(si.Diagnostics); err != nil {
		return err
	}
	if err := out.WriteStringSet(si.files); err != nil {
		return err
	}
	if err := out.WriteStringMap(si.Attributes); err != nil {
		return err
	}
	if err := WriteFooter(out); err != nil {
		return err
	}
	return out.Close()
}

func (DefaultSegmentInfoFormat) Read(ctx context.Context, dir store.Directory, segment string, id ID) (*SegmentInfo, error) {
	name := SegmentFileName(segment, "", SegmentInfoExtension)
	in, err := OpenVerified(ctx, dir, name)
	if err != nil {
		return nil, err
	}
	if _, err := CheckIndexHeader(in, segmentInfoCodec, segmentInfoVersion, segmentInfoVersion, id, ""); err != nil {
		return nil, err
	}
	si := &SegmentInfo{Name: segment, ID: id}
	if err := readSegmentInfo(in, si); err != nil {
		return nil, WrapReadError(name, err)
	}
	if err := CheckEOF(in); err != nil {
		return nil, err
	}
	return si, nil
}

func readSegmentInfo(in *store.Input, si *SegmentInfo) error {
	maxDoc, err := in.ReadVInt()
	if err != nil {
		return err
	}
	if maxDoc < 0 {
		return Corruptf(in.Name(), "invalid maxDoc %d", maxDoc)
	}
	si.MaxDoc = int(maxDoc)
	if si.Codec, err = in.ReadString(); err != nil {
		return err
	}
	if si.Diagnostics, err = in.ReadStringMap(); err != nil {
		return err
	}
	files, err := in.ReadStringSet()
	if err != nil {
		return err
	}
	si.files = files
	attrs, err := in.ReadStringMap()
	if err != nil {
		return err
	}
	if len(attrs) > 0 {
		si.Attributes = attrs
	}
	return nil
}
