// Command segdex inspects segdex indexes.
//
// Usage:
//
//	segdex [flags] check <target>
//	segdex [flags] stats <target>
//	segdex [flags] list-commits <target>
//	segdex [flags] compare <target> <target>
//
// A target is a local directory, s3://bucket/prefix or
// minio://endpoint/bucket/prefix. S3 credentials come from the default AWS
// configuration; MinIO credentials from MINIO_ACCESS_KEY and
// MINIO_SECRET_KEY.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type globalFlags struct {
	json     bool
	verbose  bool
	region   string
	insecure bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("segdex", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var g globalFlags
	fs.BoolVar(&g.json, "json", false, "print JSON instead of text")
	fs.BoolVar(&g.verbose, "v", false, "log debug output to stderr")
	fs.StringVar(&g.region, "region", "", "AWS region for s3:// targets")
	fs.BoolVar(&g.insecure, "insecure", false, "use plain HTTP for minio:// targets")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: segdex [flags] check|stats|list-commits <target>")
		fmt.Fprintln(stderr, "       segdex [flags] compare <target> <target>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cmd := &command{out: stdout, logger: logger, flags: g}
	err := cmd.dispatch(ctx, fs.Args())
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fs.Usage()
		return 2
	case errors.Is(err, errCheckFailed):
		return 1
	default:
		fmt.Fprintf(stderr, "segdex: %v\n", err)
		return 1
	}
}
