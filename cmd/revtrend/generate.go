package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cognicore/revtrend/internal/reviewsource"
	"github.com/cognicore/revtrend/internal/sample"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

func generateCmd(g *globalFlags, stdout io.Writer) *cobra.Command {
	var (
		apps      []string
		startDate string
		endDate   string
		perDay    int
		seed      int64
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write synthetic review files for testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			start, err := review.ParseDay(startDate)
			if err != nil {
				return fmt.Errorf("--start-date: %w", err)
			}
			end, err := review.ParseDay(endDate)
			if err != nil {
				return fmt.Errorf("--end-date: %w", err)
			}

			dst := reviewsource.NewFileSource(cfg.Source.ReviewsDir)
			for i, app := range uniqueApps(cfg, apps) {
				n, err := sample.New(seed+int64(i), perDay).Generate(dst, app.Key, start, end)
				if err != nil {
					return fmt.Errorf("%s: %w", app.Key, err)
				}
				fmt.Fprintf(stdout, "%s: wrote %s reviews for %s..%s under %s\n",
					app.Key, humanize.Comma(int64(n)), startDate, endDate, cfg.Source.ReviewsDir)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&apps, "app", []string{"swiggy"}, "app key, name or package id (repeatable)")
	cmd.Flags().StringVar(&startDate, "start-date", "2024-06-01", "first day YYYY-MM-DD")
	cmd.Flags().StringVar(&endDate, "end-date", "2024-06-30", "last day YYYY-MM-DD")
	cmd.Flags().IntVar(&perDay, "reviews-per-day", sample.DefaultPerDay, "reviews per day")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	return cmd
}
