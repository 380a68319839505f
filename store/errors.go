package store

import (
	"errors"
	"io/fs"
)

var (
	// ErrFileNotFound is returned when a named file does not exist.
	ErrFileNotFound = errors.New("store: file not found")

	// ErrAlreadyExists is returned when creating or renaming onto an existing file.
	ErrAlreadyExists = errors.New("store: file already exists")

	// ErrClosed is returned when using a closed directory, input or output.
	ErrClosed = errors.New("store: closed")

	// ErrLockObtainFailed is returned when a lock is held by someone else.
	ErrLockObtainFailed = errors.New("store: lock obtain failed")

	// ErrMalformed marks structurally invalid encoded data. Codecs report it
	// as corruption.
	ErrMalformed = errors.New("store: malformed data")
)

// translate maps os/fs errors to the package sentinels, keeping the cause.
func translate(name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return &PathError{Name: name, Err: ErrFileNotFound, Cause: err}
	case errors.Is(err, fs.ErrExist):
		return &PathError{Name: name, Err: ErrAlreadyExists, Cause: err}
	}
	return err
}

// PathError records the file and the underlying error.
type PathError struct {
	Name  string
	Err   error // sentinel
	Cause error
}

func (e *PathError) Error() string {
	if e.Cause != nil {
		return e.Err.Error() + ": " + e.Name + ": " + e.Cause.Error()
	}
	return e.Err.Error() + ": " + e.Name
}

func (e *PathError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
