// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	bs, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("indexes/products/"),
//	    s3.WithRegion("us-east-1"),
//	)
//	dir := store.NewBlobDirectory(bs)
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads for large segment files
//   - Conditional writes (If-None-Match) for commit points
//   - DDBCommitStore for DynamoDB-arbitrated commits
package s3
