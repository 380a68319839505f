package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Well-known file names and extensions.
const (
	SegmentsPrefix        = "segments"
	PendingSegmentsPrefix = "pending_segments"
	WriteLockName         = "write.lock"

	FieldInfosExtension  = "fnm"
	SegmentInfoExtension = "si"
	LiveDocsExtension    = "liv"
)

// SegmentFileName returns segmentName[_suffix].ext.
func SegmentFileName(segmentName, suffix, ext string) string {
	var b strings.Builder
	b.WriteString(segmentName)
	if suffix != "" {
		b.WriteByte('_')
		b.WriteString(suffix)
	}
	if ext != "" {
		b.WriteByte('.')
		b.WriteString(ext)
	}
	return b.String()
}

// FileNameFromGeneration returns base_gen.ext with gen in base 36, or
// base.ext for generation 0. Generation -1 yields "".
func FileNameFromGeneration(base, ext string, gen int64) string {
	switch {
	case gen < 0:
		return ""
	case gen == 0:
		return SegmentFileName(base, "", ext)
	default:
		return SegmentFileName(base, strconv.FormatInt(gen, 36), ext)
	}
}

// SegmentsFileName returns the commit file name for a generation.
func SegmentsFileName(gen int64) string {
	return SegmentsPrefix + "_" + strconv.FormatInt(gen, 36)
}

// PendingSegmentsFileName returns the in-progress commit file name.
func PendingSegmentsFileName(gen int64) string {
	return PendingSegmentsPrefix + "_" + strconv.FormatInt(gen, 36)
}

// GenerationFromSegmentsFileName parses the generation of a segments_N or
// pending_segments_N name.
func GenerationFromSegmentsFileName(name string) (int64, error) {
	var suffix string
	switch {
	case strings.HasPrefix(name, SegmentsPrefix+"_"):
		suffix = name[len(SegmentsPrefix)+1:]
	case strings.HasPrefix(name, PendingSegmentsPrefix+"_"):
		suffix = name[len(PendingSegmentsPrefix)+1:]
	default:
		return 0, fmt.Errorf("codec: %q is not a segments file", name)
	}
	gen, err := strconv.ParseInt(suffix, 36, 64)
	if err != nil || gen <= 0 {
		return 0, fmt.Errorf("codec: %q is not a segments file", name)
	}
	return gen, nil
}

// IsSegmentsFile reports whether name is a committed segments_N file.
func IsSegmentsFile(name string) bool {
	if !strings.HasPrefix(name, SegmentsPrefix+"_") {
		return false
	}
	_, err := GenerationFromSegmentsFileName(name)
	return err == nil
}

// SegmentName returns the segment a per-segment file belongs to, e.g. "_3"
// for "_3_1.liv" or "_3.fdt". Other names yield "".
func SegmentName(file string) string {
	if !strings.HasPrefix(file, "_") {
		return ""
	}
	end := len(file)
	if i := strings.IndexAny(file[1:], "_."); i >= 0 {
		end = i + 1
	}
	return file[:end]
}

// SegmentNameForCounter returns "_" + counter in base 36.
func SegmentNameForCounter(counter int64) string {
	return "_" + strconv.FormatInt(counter, 36)
}

// ParseSegmentCounter is the inverse of SegmentNameForCounter.
func ParseSegmentCounter(name string) (int64, bool) {
	if !strings.HasPrefix(name, "_") {
		return 0, false
	}
	v, err := strconv.ParseInt(name[1:], 36, 64)
	return v, err == nil
}
