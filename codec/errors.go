package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/segdex/store"
)

var (
	// ErrCorrupt marks index corruption: checksum mismatches, bad headers
	// and structurally invalid data. Retrying does not help.
	ErrCorrupt = errors.New("codec: index corrupt")

	// ErrIndexFormatTooOld is returned for files written by an older,
	// unsupported format version.
	ErrIndexFormatTooOld = errors.New("codec: index format too old")

	// ErrIndexFormatTooNew is returned for files written by a newer format
	// version.
	ErrIndexFormatTooNew = errors.New("codec: index format too new")

	// ErrUnknownCodec is returned when a segment names an unregistered codec
	// or format.
	ErrUnknownCodec = errors.New("codec: unknown codec")
)

// CorruptError describes corruption found in a resource.
type CorruptError struct {
	Resource string
	Reason   string
	Err      error
}

func (e *CorruptError) Error() string {
	msg := fmt.Sprintf("codec: corrupt %s: %s", e.Resource, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCorrupt}
	}
	return []error{ErrCorrupt, e.Err}
}

// Corruptf returns a CorruptError for resource.
func Corruptf(resource string, format string, args ...any) error {
	return &CorruptError{Resource: resource, Reason: fmt.Sprintf(format, args...)}
}

// WrapReadError converts decoding errors into corruption. Truncated data and
// malformed encodings become CorruptError; other errors, such as I/O
// failures, pass through.
func WrapReadError(resource string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CorruptError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, store.ErrMalformed) {
		return &CorruptError{Resource: resource, Reason: "truncated or malformed data", Err: err}
	}
	return err
}
