// Package blobstore provides the blob storage backends behind
// store.BlobDirectory.
//
// A BlobStore holds immutable, named blobs: segment files and commit points.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local file system, memory-mapped reads
//   - MemoryStore: in-process, for tests
//   - CachingStore: block cache in front of any store
//   - s3.Store, minio.Store: object storage (sub-packages)
//
// # Commit arbitration
//
// Stores implementing ConditionalPutter publish commit points with
// create-if-absent semantics so that two writers racing on the same
// generation cannot both succeed:
//
//	type ConditionalPutter interface {
//	    PutIfAbsent(ctx, name, data) error // ErrAlreadyExists when taken
//	}
package blobstore
