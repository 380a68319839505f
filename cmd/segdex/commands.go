package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/segdex/index"
	"github.com/hupe1980/segdex/store"
)

var errCheckFailed = errors.New("check failed")

type command struct {
	out    io.Writer
	logger *slog.Logger
	flags  globalFlags
}

func (c *command) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	name, args := args[0], args[1:]
	switch name {
	case "check", "stats", "list-commits":
		if len(args) != 1 {
			return errUsage
		}
	case "compare":
		if len(args) != 2 {
			return errUsage
		}
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	dirs := make([]store.Directory, 0, len(args))
	defer func() {
		for _, d := range dirs {
			_ = d.Close()
		}
	}()
	for _, a := range args {
		t, err := parseTarget(a)
		if err != nil {
			return err
		}
		d, err := t.open(ctx, c.flags, c.logger.With("target", t.String()))
		if err != nil {
			return err
		}
		dirs = append(dirs, d)
	}

	switch name {
	case "check":
		return c.check(ctx, dirs[0])
	case "stats":
		return c.stats(ctx, dirs[0])
	case "list-commits":
		return c.listCommits(ctx, dirs[0])
	default:
		return c.compare(ctx, dirs[0], dirs[1])
	}
}

func (c *command) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type segmentReport struct {
	Name        string            `json:"name"`
	Codec       string            `json:"codec"`
	MaxDoc      int               `json:"maxDoc"`
	NumDocs     int               `json:"numDocs"`
	DelCount    int               `json:"delCount"`
	SizeBytes   int64             `json:"sizeBytes"`
	Fields      int               `json:"fields,omitempty"`
	Terms       int64             `json:"terms,omitempty"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type checkReport struct {
	Generation    int64             `json:"generation"`
	SegmentsFile  string            `json:"segmentsFile"`
	UserData      map[string]string `json:"userData,omitempty"`
	TotalDocs     int               `json:"totalDocs"`
	TotalLiveDocs int               `json:"totalLiveDocs"`
	Clean         bool              `json:"clean"`
	Duration      string            `json:"duration"`
	Segments      []segmentReport   `json:"segments"`
}

func (c *command) check(ctx context.Context, dir store.Directory) error {
	status, err := index.CheckIndex(ctx, dir, c.logger)
	if err != nil {
		return err
	}
	report := checkReport{
		Generation:    status.Generation,
		SegmentsFile:  status.SegmentsFile,
		UserData:      status.UserData,
		TotalDocs:     status.TotalDocs,
		TotalLiveDocs: status.TotalLiveDocs,
		Clean:         status.Clean(),
		Duration:      status.Duration.String(),
	}
	for _, s := range status.Segments {
		r := segmentReport{
			Name:        s.Name,
			Codec:       s.Codec,
			MaxDoc:      s.MaxDoc,
			NumDocs:     s.NumDocs,
			DelCount:    s.DelCount,
			SizeBytes:   s.SizeBytes,
			Fields:      s.Fields,
			Terms:       s.Terms,
			Diagnostics: s.Diagnostics,
		}
		if s.Err != nil {
			r.Error = s.Err.Error()
		}
		report.Segments = append(report.Segments, r)
	}

	if c.flags.json {
		if err := c.printJSON(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(c.out, "%s: %d docs (%d live) in %d segments, checked in %s\n",
			report.SegmentsFile, report.TotalDocs, report.TotalLiveDocs, len(report.Segments), report.Duration)
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEGMENT\tCODEC\tDOCS\tDELETED\tTERMS\tSTATUS")
		for _, s := range report.Segments {
			state := "ok"
			if s.Error != "" {
				state = "BROKEN: " + s.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", s.Name, s.Codec, s.MaxDoc, s.DelCount, s.Terms, state)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if !report.Clean {
		return errCheckFailed
	}
	return nil
}

type statsReport struct {
	Generation int64             `json:"generation"`
	Version    int64             `json:"version"`
	NumDocs    int               `json:"numDocs"`
	MaxDoc     int               `json:"maxDoc"`
	UserData   map[string]string `json:"userData,omitempty"`
	Segments   []segmentReport   `json:"segments"`
}

func (c *command) stats(ctx context.Context, dir store.Directory) error {
	infos, err := index.ReadSegmentInfos(ctx, dir)
	if err != nil {
		return err
	}
	report := statsReport{
		Generation: infos.Generation,
		Version:    infos.Version,
		UserData:   infos.UserData,
	}
	for _, s := range infos.Segments {
		size, err := s.SizeInBytes(ctx, dir)
		if err != nil {
			return fmt.Errorf("segment %s: %w", s.Name(), err)
		}
		report.NumDocs += s.NumDocs()
		report.MaxDoc += s.MaxDoc()
		report.Segments = append(report.Segments, segmentReport{
			Name:        s.Name(),
			Codec:       s.Info.Codec,
			MaxDoc:      s.MaxDoc(),
			NumDocs:     s.NumDocs(),
			DelCount:    s.DelCount,
			SizeBytes:   size,
			Diagnostics: s.Info.Diagnostics,
		})
	}

	if c.flags.json {
		return c.printJSON(report)
	}
	fmt.Fprintf(c.out, "generation %d, version %d: %d docs (%d with deletions)\n",
		report.Generation, report.Version, report.NumDocs, report.MaxDoc)
	for _, k := range slices.Sorted(maps.Keys(report.UserData)) {
		fmt.Fprintf(c.out, "  %s=%s\n", k, report.UserData[k])
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tCODEC\tDOCS\tDELETED\tSIZE\tSOURCE")
	for _, s := range report.Segments {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			s.Name, s.Codec, s.MaxDoc, s.DelCount, humanize.IBytes(uint64(s.SizeBytes)), s.Diagnostics["source"])
	}
	return tw.Flush()
}

type commitReport struct {
	Generation   int64             `json:"generation"`
	SegmentsFile string            `json:"segmentsFile"`
	Segments     int               `json:"segments"`
	NumDocs      int               `json:"numDocs"`
	UserData     map[string]string `json:"userData,omitempty"`
}

func (c *command) listCommits(ctx context.Context, dir store.Directory) error {
	commits, err := index.ListCommits(ctx, dir)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		return index.ErrIndexNotFound
	}
	reports := make([]commitReport, 0, len(commits))
	for _, cm := range commits {
		reports = append(reports, commitReport{
			Generation:   cm.Generation,
			SegmentsFile: cm.SegmentsFileName(),
			Segments:     cm.SegmentCount(),
			NumDocs:      cm.NumDocs(),
			UserData:     cm.UserData,
		})
	}
	if c.flags.json {
		return c.printJSON(reports)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GENERATION\tFILE\tSEGMENTS\tDOCS\tUSER DATA")
	for _, r := range reports {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", r.Generation, r.SegmentsFile, r.Segments, r.NumDocs, formatUserData(r.UserData))
	}
	return tw.Flush()
}

func (c *command) compare(ctx context.Context, a, b store.Directory) error {
	ra, err := index.OpenReader(ctx, a)
	if err != nil {
		return err
	}
	defer ra.Close()
	rb, err := index.OpenReader(ctx, b)
	if err != nil {
		return err
	}
	defer rb.Close()

	if err := index.CompareIndexes(ctx, ra, rb); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "equivalent: %d live docs\n", ra.NumDocs())
	return nil
}

func formatUserData(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ",")
}
