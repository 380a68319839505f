package index

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/store"
)

// flushedSegment is a newly written segment that is not yet published.
type flushedSegment struct {
	info       *codec.SegmentInfo
	fieldInfos *codec.FieldInfos
	// deletes are the builder's buffered deletes, final once the builder
	// left the writer's flushing set.
	deletes *bufferedDeletes
}

func diagnostics(source string) map[string]string {
	return map[string]string{
		"source":    source,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
		"go":        runtime.Version(),
	}
}

// flush writes the builder's documents as segment name. It returns nil
// when the builder holds no documents. On error every file created so far
// is deleted.
func (b *segmentBuilder) flush(ctx context.Context, dir store.Directory, name string, cd *codec.Codec) (_ *flushedSegment, err error) {
	b.frozen = true
	numDocs := b.docCount()
	if numDocs == 0 {
		return nil, nil
	}

	infos := make([]*codec.FieldInfo, 0, len(b.fieldList))
	for _, f := range b.fieldList {
		infos = append(infos, f.fi.Clone())
	}
	fis, err := codec.NewFieldInfos(infos)
	if err != nil {
		return nil, err
	}

	tdir := store.NewTrackingDirectory(dir)
	si := codec.NewSegmentInfo(name, numDocs, cd.Name)
	si.Diagnostics = diagnostics("flush")
	defer func() {
		if err != nil {
			removeFiles(context.WithoutCancel(ctx), dir, tdir.CreatedFiles(), b.logger)
		}
	}()

	state := &codec.SegmentWriteState{Dir: tdir, Segment: si, FieldInfos: fis}

	// Postings go first: per-field routing records its choices as field
	// attributes, which the field infos file must carry.
	if fis.HasPostings() {
		if err := b.writePostings(ctx, cd, state); err != nil {
			return nil, err
		}
	}
	if fis.HasNorms() {
		if err := b.writeNorms(ctx, cd, state, numDocs); err != nil {
			return nil, err
		}
	}
	if fis.HasDocValues() {
		if err := b.writeDocValues(ctx, cd, state, numDocs); err != nil {
			return nil, err
		}
	}
	if err := b.writeStored(ctx, cd, tdir, si, fis, numDocs); err != nil {
		return nil, err
	}
	if fis.HasTermVectors() {
		if err := b.writeVectors(ctx, cd, tdir, si, fis, numDocs); err != nil {
			return nil, err
		}
	}
	if err := writeSegmentMeta(ctx, cd, tdir, si, fis); err != nil {
		return nil, err
	}
	return &flushedSegment{info: si, fieldInfos: fis, deletes: b.deletes}, nil
}

func (b *segmentBuilder) writePostings(ctx context.Context, cd *codec.Codec, state *codec.SegmentWriteState) error {
	fc, err := cd.Postings.FieldsConsumer(ctx, state)
	if err != nil {
		return err
	}
	if err := fc.Write(ctx, b.freezeFields()); err != nil {
		fc.Abort()
		return err
	}
	return fc.Close()
}

func (b *segmentBuilder) writeNorms(ctx context.Context, cd *codec.Codec, state *codec.SegmentWriteState, numDocs int) error {
	nc, err := cd.Norms.Consumer(ctx, state)
	if err != nil {
		return err
	}
	for _, fi := range state.FieldInfos.All() {
		if !fi.HasNorms() {
			continue
		}
		f := b.fields[fi.Name]
		v := codec.NewNumericValues(numDocs)
		for i, doc := range f.normDocs {
			v.Set(int(doc), f.normValues[i])
		}
		if err := nc.AddNorms(fi, v); err != nil {
			nc.Abort()
			return err
		}
	}
	return nc.Close()
}

func (b *segmentBuilder) writeDocValues(ctx context.Context, cd *codec.Codec, state *codec.SegmentWriteState, numDocs int) error {
	dc, err := cd.DocValues.Consumer(ctx, state)
	if err != nil {
		return err
	}
	for _, fi := range state.FieldInfos.All() {
		f := b.fields[fi.Name]
		if f.dv == nil {
			continue
		}
		if err := f.dv.flush(dc, fi, numDocs); err != nil {
			dc.Abort()
			return err
		}
	}
	return dc.Close()
}

func (b *segmentBuilder) writeStored(ctx context.Context, cd *codec.Codec, dir store.Directory, si *codec.SegmentInfo, fis *codec.FieldInfos, numDocs int) (err error) {
	sw, err := cd.StoredFields.Writer(ctx, dir, si)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			sw.Abort()
		}
	}()
	for doc := 0; doc < numDocs; doc++ {
		if err := sw.StartDocument(); err != nil {
			return err
		}
		for _, sv := range b.stored[doc] {
			if err := sw.WriteField(fis.ByNumber(sv.number), sv.field); err != nil {
				return err
			}
		}
		if err := sw.FinishDocument(); err != nil {
			return err
		}
		if doc%1024 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := sw.Finish(numDocs); err != nil {
		return err
	}
	return sw.Close()
}

func (b *segmentBuilder) writeVectors(ctx context.Context, cd *codec.Codec, dir store.Directory, si *codec.SegmentInfo, fis *codec.FieldInfos, numDocs int) (err error) {
	tw, err := cd.TermVectors.Writer(ctx, dir, si)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tw.Abort()
		}
	}()
	for doc := 0; doc < numDocs; doc++ {
		if err := tw.StartDocument(); err != nil {
			return err
		}
		if doc < len(b.vectors) {
			for _, v := range b.vectors[doc] {
				if err := tw.AddField(fis.ByName(v.Field), v); err != nil {
					return err
				}
			}
		}
		if err := tw.FinishDocument(); err != nil {
			return err
		}
	}
	if err := tw.Finish(numDocs); err != nil {
		return err
	}
	return tw.Close()
}

// writeSegmentMeta writes the field infos and the segment info. The .si
// file lists every file created through dir.
func writeSegmentMeta(ctx context.Context, cd *codec.Codec, dir *store.TrackingDirectory, si *codec.SegmentInfo, fis *codec.FieldInfos) error {
	if err := cd.FieldInfos.Write(ctx, dir, si, "", fis); err != nil {
		return err
	}
	si.SetFiles(dir.CreatedFiles())
	return cd.SegmentInfo.Write(ctx, dir, si)
}

// discard returns the builder's pooled memory.
func (b *segmentBuilder) discard() {
	b.frozen = true
	b.bytePool.Reset(false, false)
	b.intPool.Reset(false, false)
	b.stored = nil
	b.vectors = nil
	b.extraBytes.Store(0)
}

// removeFiles deletes files on a best-effort basis.
func removeFiles(ctx context.Context, dir store.Directory, names []string, logger *slog.Logger) {
	for _, name := range names {
		if err := dir.DeleteFile(ctx, name); err != nil && !errors.Is(err, store.ErrFileNotFound) {
			if logger != nil {
				logger.Warn("failed to delete file", "file", name, "error", err)
			}
		}
	}
}
