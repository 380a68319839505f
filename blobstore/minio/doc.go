// Package minio stores segdex indexes in MinIO or any other S3-compatible
// object store through the MinIO client.
//
//	bs, err := minio.Dial("localhost:9000", "indexes", "products",
//	    minio.WithCredentials("minioadmin", "minioadmin"),
//	    minio.WithInsecure(true))
//	if err != nil {
//	    return err
//	}
//	ix, err := segdex.Open(ctx, segdex.Remote(bs))
//
// Segment files are uploaded as streams. Commit points are published with
// conditional puts, so two writers never publish the same generation.
package minio
