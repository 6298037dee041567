package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/revtrend/internal/logger"
	"github.com/cognicore/revtrend/pkg/revtrend/batch"
	"github.com/cognicore/revtrend/pkg/revtrend/config"
	"github.com/cognicore/revtrend/pkg/revtrend/report"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

const (
	summaryTopics = 10
	previewRows   = 10
	previewDates  = 5
)

type reportFlags struct {
	apps       []string
	date       string
	fetch      bool
	processAll bool
	format     string
	threshold  float64
	window     int
	outDir     string
}

func reportCmd(g *globalFlags, stdout io.Writer) *cobra.Command {
	f := &reportFlags{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Process reviews up to a date and export the trend matrix",
		Example: `  revtrend report --app swiggy --date 2024-06-30
  revtrend report --app swiggy --app zomato --date 2024-06-30 --fetch --format excel`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), g, f, stdout)
		},
	}
	cmd.Flags().StringSliceVar(&f.apps, "app", nil, "app key, name or package id (repeatable)")
	cmd.Flags().StringVar(&f.date, "date", "", "target date YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&f.fetch, "fetch", false, "fetch reviews missing locally from the review feed")
	cmd.Flags().BoolVar(&f.processAll, "process-all", false, "process every day from the start date instead of only the report window")
	cmd.Flags().StringVar(&f.format, "format", "csv", "output format: csv, json, excel")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "similarity threshold for merging topics (overrides config)")
	cmd.Flags().IntVar(&f.window, "window", 0, "report window in days (overrides config)")
	cmd.Flags().StringVar(&f.outDir, "out", "", "reports directory (overrides config)")
	cmd.MarkFlagRequired("app")
	return cmd
}

func runReport(ctx context.Context, g *globalFlags, f *reportFlags, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if f.threshold != 0 {
		cfg.Registry.Threshold = f.threshold
	}
	if f.window != 0 {
		cfg.WindowDays = f.window
	}
	if f.outDir != "" {
		cfg.ReportsDir = f.outDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	format, err := report.ParseFormat(f.format)
	if err != nil {
		return err
	}
	target := review.Day(time.Now().UTC())
	if f.date != "" {
		if target, err = review.ParseDay(f.date); err != nil {
			return fmt.Errorf("--date: %w", err)
		}
	}
	apps := uniqueApps(cfg, f.apps)
	if len(apps) == 0 {
		return fmt.Errorf("at least one --app is required")
	}

	e, err := openEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	from := replayStart(target, cfg.WindowDays, cfg.Start(), f.processAll)
	src := e.loader.Source(f.fetch)

	outputs := make([]bytes.Buffer, len(apps))
	errs := make([]error, len(apps))
	var eg errgroup.Group
	for i, app := range apps {
		i, app := i, app
		eg.Go(func() error {
			errs[i] = reportApp(ctx, e, app, from, target, format, src, &outputs[i])
			return nil
		})
	}
	eg.Wait()

	for i := range apps {
		stdout.Write(outputs[i].Bytes())
	}
	return errors.Join(errs...)
}

// replayStart is the first day to process: the report window clamped at
// the configured start date, or the start date itself with processAll.
func replayStart(target time.Time, window int, start time.Time, processAll bool) time.Time {
	from := review.AddDays(target, -(window - 1))
	if processAll || from.Before(start) {
		from = start
	}
	if from.After(target) {
		from = target
	}
	return from
}

func reportApp(ctx context.Context, e *env, app config.ResolvedApp, from, target time.Time, format report.Format, src batch.Source, out io.Writer) error {
	log := logger.Log.With("app", app.Key)
	if !app.Known {
		log.Warn("unknown app; treating input as a package id with no seed topics", "package", app.Package)
	}
	log.Info("processing", "from", review.FormatDay(from), "to", review.FormatDay(target))

	res, err := e.engine.Replay(ctx, engineApp(app), from, target, src)
	if err != nil {
		return fmt.Errorf("%s: %w", app.Key, err)
	}

	m, err := e.engine.Report(ctx, app.Key, target, e.cfg.WindowDays)
	if err != nil {
		return fmt.Errorf("%s: %w", app.Key, err)
	}
	path, err := report.Save(m, e.cfg.ReportsDir, format)
	if err != nil {
		return fmt.Errorf("%s: save report: %w", app.Key, err)
	}

	printSummary(out, app, res, m, path)
	if failed := res.Failures(); len(failed) > 0 {
		days := make([]string, len(failed))
		for i, d := range failed {
			days[i] = review.FormatDay(d.Day)
		}
		return fmt.Errorf("%s: %d day(s) failed: %s: %w", app.Key, len(failed), strings.Join(days, ", "), failed[0].Err)
	}
	return nil
}

func printSummary(w io.Writer, app config.ResolvedApp, res batch.ReplayResult, m *report.Matrix, path string) {
	reviews, newTopics := 0, 0
	for _, d := range res.Days {
		reviews += d.Result.Reviews
		newTopics += d.Result.NewTopics
	}

	fmt.Fprintf(w, "%s (%s)\n", app.Name, app.Key)
	fmt.Fprintf(w, "  days: %d processed, %d skipped, %d failed\n", res.Processed, res.Skipped, res.Failed)
	fmt.Fprintf(w, "  reviews: %s, new topics: %d\n", humanize.Comma(int64(reviews)), newTopics)

	size := ""
	if fi, err := os.Stat(path); err == nil {
		size = " (" + humanize.Bytes(uint64(fi.Size())) + ")"
	}
	fmt.Fprintf(w, "  report: %s%s, %d topics x %d days\n", path, size, len(m.Rows), len(m.Dates))

	fmt.Fprintf(w, "\n  Top %d topics:\n", summaryTopics)
	for i, row := range m.Top(summaryTopics) {
		fmt.Fprintf(w, "  %2d. %-40s %8s\n", i+1, row.Label, humanize.Comma(int64(row.Total)))
	}

	rows := m.Top(previewRows)
	if len(rows) == 0 {
		fmt.Fprintln(w)
		return
	}
	dates := m.Dates
	counts := func(r report.Row) []int { return r.Counts }
	if len(dates) > previewDates {
		dates = dates[:previewDates]
		counts = func(r report.Row) []int { return r.Counts[:previewDates] }
	}
	fmt.Fprintf(w, "\n  Preview:\n  %-40s", "Topic")
	for _, d := range dates {
		fmt.Fprintf(w, " %10s", review.FormatDay(d))
	}
	fmt.Fprintln(w)
	for _, row := range rows {
		fmt.Fprintf(w, "  %-40s", truncate(row.Label, 40))
		for _, c := range counts(row) {
			fmt.Fprintf(w, " %10d", c)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
