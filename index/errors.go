package index

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed writer or reader. When
	// the writer was closed by a tragic error the cause is wrapped as well.
	ErrClosed = errors.New("index: closed")

	// ErrInvalidArgument is returned for malformed documents, field types
	// and options.
	ErrInvalidArgument = errors.New("index: invalid argument")

	// ErrLockObtainFailed is returned when another writer holds the
	// directory's write lock.
	ErrLockObtainFailed = errors.New("index: write lock obtain failed")

	// ErrMergeAborted is returned for merges cancelled by rollback, close or
	// DeleteAll.
	ErrMergeAborted = errors.New("index: merge aborted")

	// ErrIncompatibleField is returned when a field is used with doc values
	// types that cannot coexist in one index.
	ErrIncompatibleField = errors.New("index: incompatible field")

	// ErrIndexNotFound is returned when a directory holds no readable commit.
	ErrIndexNotFound = errors.New("index: no index found")

	// ErrTooManyDocs is returned when an operation would exceed MaxDocs.
	ErrTooManyDocs = errors.New("index: too many documents")

	// ErrCommitNotSynced is returned by Commit when the new commit point is
	// published but the directory sync after it failed. The commit is in
	// effect and the writer stays usable; its durability is unknown until
	// the next successful commit.
	ErrCommitNotSynced = errors.New("index: commit published but not synced")

	// ErrMergeIncomplete is returned by ForceMerge when the merge policy
	// stops proposing merges before the target segment count is reached.
	ErrMergeIncomplete = errors.New("index: forced merge did not reach target")

	// ErrNotEquivalent is returned by CompareIndexes.
	ErrNotEquivalent = errors.New("index: indexes differ")
)

// ImmenseTermError rejects a document holding a term longer than the
// writer's maximum term length.
type ImmenseTermError struct {
	Field     string
	Length    int
	MaxLength int
	// Prefix holds the first bytes of the term.
	Prefix []byte
}

func (e *ImmenseTermError) Error() string {
	return fmt.Sprintf("index: immense term in field %q: %d bytes exceeds max length %d (prefix %q)",
		e.Field, e.Length, e.MaxLength, e.Prefix)
}

func (e *ImmenseTermError) Unwrap() error { return ErrInvalidArgument }

// tragicError is the cause of a writer closed by an unrecoverable failure.
type tragicError struct {
	op  string
	err error
}

func (e *tragicError) Error() string {
	return fmt.Sprintf("index: writer closed after failed %s: %v", e.op, e.err)
}

func (e *tragicError) Unwrap() []error { return []error{ErrClosed, e.err} }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
