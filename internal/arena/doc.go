// Package arena provides the block pools that back in-memory indexing.
//
// Terms, postings streams and per-term stream addresses are written into
// large fixed-size blocks instead of individually allocated slices. Blocks
// are handed out by an allocator and returned to it on Reset, so a builder
// that is flushed and reused does not churn the garbage collector.
//
// # Slices
//
// On top of a pool, a "slice" is a growable stream addressed by a single
// absolute offset. A slice starts small and, when full, chains to a larger
// slice following a fixed level sequence. The end of every slice carries a
// marker so the writer knows when to chain; readers derive the chain purely
// from the start and end offsets.
//
// # Accounting
//
// Every allocator reports the bytes it hands out and takes back to a
// caller-supplied Counter. The index writer sums these counters to decide
// when to flush.
package arena
