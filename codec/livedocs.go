package codec

import (
	"context"
	"fmt"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/segdex/store"
)

const (
	liveDocsCodec   = "LiveDocs"
	liveDocsVersion = 1
)

// DefaultLiveDocsFormat stores the deleted documents of a segment as a
// roaring bitmap in _seg_gen.liv. Each deletion generation gets a new file.
type DefaultLiveDocsFormat struct{}

func (DefaultLiveDocsFormat) FileName(si *SegmentInfo, delGen int64) string {
	return FileNameFromGeneration(si.Name, LiveDocsExtension, delGen)
}

func (f DefaultLiveDocsFormat) Write(ctx context.Context, dir store.Directory, si *SegmentInfo, delGen int64, deleted *roaring.Bitmap) error {
	if delGen <= 0 {
		return fmt.Errorf("codec: invalid deletion generation %d", delGen)
	}
	if !deleted.IsEmpty() && int(deleted.Maximum()) >= si.MaxDoc {
		return fmt.Errorf("codec: deleted doc %d out of bounds for %s (maxDoc=%d)", deleted.Maximum(), si.Name, si.MaxDoc)
	}
	bm := deleted.Clone()
	bm.RunOptimize()
	data, err := bm.ToBytes()
	if err != nil {
		return err
	}
	out, err := dir.CreateOutput(ctx, f.FileName(si, delGen))
	if err != nil {
		return err
	}
	err = WriteIndexHeader(out, liveDocsCodec, liveDocsVersion, si.ID, strconv.FormatInt(delGen, 36))
	if err == nil {
		err = out.WriteVInt(int32(si.MaxDoc))
	}
	if err == nil {
		err = out.WriteVLong(int64(len(data)))
	}
	if err == nil {
		err = out.WriteBytes(data)
	}
	if err == nil {
		err = WriteFooter(out)
	}
	if err != nil {
		out.Abort()
		return err
	}
	return out.Close()
}

func (f DefaultLiveDocsFormat) Read(ctx context.Context, dir store.Directory, si *SegmentInfo, delGen int64) (*roaring.Bitmap, error) {
	name := f.FileName(si, delGen)
	in, err := OpenVerified(ctx, dir, name)
	if err != nil {
		return nil, err
	}
	if _, err := CheckIndexHeader(in, liveDocsCodec, liveDocsVersion, liveDocsVersion, si.ID, strconv.FormatInt(delGen, 36)); err != nil {
		return nil, err
	}
	maxDoc, err := in.ReadVInt()
	if err != nil {
		return nil, WrapReadError(name, err)
	}
	if int(maxDoc) != si.MaxDoc {
		return nil, Corruptf(name, "maxDoc %d does not match segment (%d)", maxDoc, si.MaxDoc)
	}
	n, err := in.ReadVLong()
	if err != nil {
		return nil, WrapReadError(name, err)
	}
	if n > in.Length()-in.FilePointer() {
		return nil, Corruptf(name, "bitmap length %d exceeds file", n)
	}
	data := make([]byte, n)
	if err := in.ReadBytes(data); err != nil {
		return nil, WrapReadError(name, err)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, &CorruptError{Resource: name, Reason: "invalid bitmap", Err: err}
	}
	if !bm.IsEmpty() && int(bm.Maximum()) >= si.MaxDoc {
		return nil, Corruptf(name, "deleted doc %d out of bounds (maxDoc=%d)", bm.Maximum(), si.MaxDoc)
	}
	if err := CheckEOF(in); err != nil {
		return nil, err
	}
	return bm, nil
}
