// Package segdex is an embeddable inverted index engine built from
// immutable segments.
//
// Documents are buffered in memory, flushed as new segments and merged in
// the background. A commit atomically publishes a set of segments as a new
// generation; readers opened on a commit see exactly that set and never
// block writers.
//
// # Quick Start
//
//	ctx := context.Background()
//	ix, _ := segdex.Open(ctx, segdex.Local("./data"))
//	defer ix.Close(ctx)
//
//	_ = ix.Add(ctx, document.New(
//	    document.NewStringField("id", "1", true),
//	    document.NewTextField("body", "the quick brown fox", false),
//	))
//	_ = ix.Commit(ctx, nil)
//
//	r, _ := ix.Reader(ctx)
//	defer r.Close()
//	df, _ := r.DocFreq(segdex.NewTerm("body", "quick"))
//
// # Backends
//
// Local keeps the index on disk, Memory in memory and Remote in a blob
// store. The blobstore/s3 and blobstore/minio packages provide remote
// stores:
//
//	bs, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("index/"))
//	ix, _ := segdex.Open(ctx, segdex.Remote(bs, segdex.WithBlockCache(256<<20, 0)))
//
// # Configuration
//
// LoadConfig reads a YAML file and SEGDEX_* environment variables:
//
//	cfg, _ := segdex.LoadConfig("segdex.yaml")
//	backend, _ := cfg.NewBackend()
//	ix, _ := segdex.Open(ctx, backend, segdex.WithConfig(cfg))
//
// The index package holds the writer, readers, merge policies and
// schedulers. It can be used directly for full control.
package segdex
