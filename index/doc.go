// Package index implements the segment engine: indexing, flushing,
// merging and reading an inverted index stored in a store.Directory.
//
// The package orchestrates:
//   - IndexWriter: buffers documents in per-goroutine segment builders,
//     flushes them to immutable segments, applies deletions and publishes
//     commit points (segments_N)
//   - Merge policies (tiered, log-doc) choosing segments to merge, and
//     merge schedulers running them (serial, concurrent, none)
//   - DirectoryReader: a refcounted point-in-time view of a commit or of a
//     writer's flushed state (near-real-time)
//   - A file deleter that removes files once no commit or reader refers
//     to them
//   - CheckIndex and CompareIndexes for verification
//
// Typical use:
//
//	w, err := index.OpenWriter(ctx, dir, index.WithRAMBufferSizeMB(32))
//	if err != nil {
//	    return err
//	}
//	defer w.Close(ctx)
//
//	err = w.AddDocument(ctx, document.New(
//	    document.NewStringField("id", "1", true),
//	    document.NewTextField("body", "hello world", false),
//	))
//	...
//	err = w.Commit(ctx, nil)
//
//	r, err := index.OpenReader(ctx, dir)
//	defer r.Close()
package index
