package cache

import "context"

// Key identifies one block of one index file.
type Key struct {
	File  string
	Block int64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Bytes     int64
	Blocks    int
}

// BlockCache holds immutable file blocks. Returned slices are read-only.
type BlockCache interface {
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches b, which the caller must not modify afterwards.
	Set(ctx context.Context, key Key, b []byte)
	// InvalidateFile drops every block of file. Called when a name is
	// deleted or rewritten.
	InvalidateFile(file string)
	Stats() Stats
}
