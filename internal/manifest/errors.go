package manifest

import "errors"

var (
	// ErrNotFound is returned when the directory holds no readable commit.
	ErrNotFound = errors.New("manifest: no commit found")

	// ErrConflict is returned when another writer already published the
	// generation.
	ErrConflict = errors.New("manifest: commit generation already exists")

	// ErrUnsynced is returned by Finish when segments_N is already visible
	// but the directory could not be synced. The commit stands.
	ErrUnsynced = errors.New("manifest: commit published but not synced")
)
