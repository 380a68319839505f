package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	segminio "github.com/hupe1980/segdex/blobstore/minio"
	"github.com/hupe1980/segdex/blobstore/s3"
	"github.com/hupe1980/segdex/store"
)

type target struct {
	scheme   string // "", "s3" or "minio"
	endpoint string
	bucket   string
	prefix   string
	path     string
}

func parseTarget(s string) (target, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		if s == "" {
			return target{}, fmt.Errorf("empty target")
		}
		return target{path: s}, nil
	}
	parts := strings.SplitN(rest, "/", 3)
	switch scheme {
	case "s3":
		t := target{scheme: scheme, bucket: parts[0]}
		if len(parts) > 1 {
			t.prefix = strings.Join(parts[1:], "/")
		}
		if t.bucket == "" {
			return target{}, fmt.Errorf("%s: missing bucket", s)
		}
		return t, nil
	case "minio":
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return target{}, fmt.Errorf("%s: want minio://endpoint/bucket[/prefix]", s)
		}
		t := target{scheme: scheme, endpoint: parts[0], bucket: parts[1]}
		if len(parts) == 3 {
			t.prefix = parts[2]
		}
		return t, nil
	}
	return target{}, fmt.Errorf("%s: unsupported scheme %q", s, scheme)
}

func (t target) open(ctx context.Context, g globalFlags, logger *slog.Logger) (store.Directory, error) {
	switch t.scheme {
	case "s3":
		opts := []func(*s3.Options){s3.WithPrefix(t.prefix)}
		if g.region != "" {
			opts = append(opts, s3.WithRegion(g.region))
		}
		bs, err := s3.New(ctx, t.bucket, opts...)
		if err != nil {
			return nil, fmt.Errorf("s3 %s: %w", t.bucket, err)
		}
		return store.NewBlobDirectory(bs, store.WithBlobLogger(logger)), nil
	case "minio":
		bs, err := segminio.Dial(t.endpoint, t.bucket, t.prefix,
			segminio.WithCredentials(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY")),
			segminio.WithInsecure(g.insecure))
		if err != nil {
			return nil, err
		}
		return store.NewBlobDirectory(bs, store.WithBlobLogger(logger)), nil
	}
	if _, err := os.Stat(t.path); err != nil {
		return nil, err
	}
	return store.OpenFSDirectory(t.path, store.WithLogger(logger))
}

func (t target) String() string {
	switch t.scheme {
	case "s3":
		return "s3://" + strings.TrimSuffix(t.bucket+"/"+t.prefix, "/")
	case "minio":
		return "minio://" + strings.TrimSuffix(t.endpoint+"/"+t.bucket+"/"+t.prefix, "/")
	}
	return t.path
}
