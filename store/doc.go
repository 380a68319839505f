// Package store provides the file abstraction the index is written to.
//
// A Directory is a flat namespace of write-once files. Files are written
// sequentially through an Output, which keeps a running CRC32-C, and read
// randomly through an Input. Three implementations are provided:
//
//   - FSDirectory: a local directory, optionally memory-mapped
//   - RAMDirectory: in memory, for tests
//   - BlobDirectory: any blobstore.BlobStore (local, memory, S3, MinIO)
//
// Deleting a file that is still open for reading is deferred until the last
// Input over it is closed, so readers holding an old commit keep working
// while the writer cleans up.
package store
