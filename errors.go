package segdex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/segdex/codec"
	"github.com/hupe1980/segdex/index"
	"github.com/hupe1980/segdex/store"
)

// Errors returned by the facade. They are the errors of the underlying
// packages, so errors.Is works across both.
var (
	ErrClosed            = index.ErrClosed
	ErrInvalidArgument   = index.ErrInvalidArgument
	ErrLockObtainFailed  = index.ErrLockObtainFailed
	ErrMergeAborted      = index.ErrMergeAborted
	ErrIncompatibleField = index.ErrIncompatibleField
	ErrIndexNotFound     = index.ErrIndexNotFound
	ErrTooManyDocs       = index.ErrTooManyDocs
	ErrMergeIncomplete   = index.ErrMergeIncomplete
	ErrCommitNotSynced   = index.ErrCommitNotSynced
	ErrNotEquivalent     = index.ErrNotEquivalent
	ErrCorrupt           = codec.ErrCorrupt
	ErrUnknownCodec      = codec.ErrUnknownCodec
	ErrFileNotFound      = store.ErrFileNotFound

	// ErrInvalidConfig is returned by LoadConfig and Config.Validate.
	ErrInvalidConfig = errors.New("segdex: invalid config")
)

// ImmenseTermError is returned when a document holds a term longer than the
// configured maximum.
type ImmenseTermError = index.ImmenseTermError

// CorruptError describes a corrupt index file.
type CorruptError = codec.CorruptError

func translateError(err error) error {
	if err == nil {
		return nil
	}
	// Lock failures of the directory itself, e.g. a closed directory's lock,
	// surface as writer lock failures.
	if errors.Is(err, store.ErrLockObtainFailed) && !errors.Is(err, index.ErrLockObtainFailed) {
		return fmt.Errorf("%w: %w", ErrLockObtainFailed, err)
	}
	return err
}

func invalidConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
