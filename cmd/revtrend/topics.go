package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

func topicsCmd(g *globalFlags, stdout io.Writer) *cobra.Command {
	var app string
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List the canonical topics of an app",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			if app == "" {
				apps, err := e.engine.Apps(cmd.Context())
				if err != nil {
					return err
				}
				for _, a := range apps {
					fmt.Fprintln(stdout, a)
				}
				return nil
			}

			resolved := cfg.ResolveApp(app)
			topics, err := e.engine.Topics(cmd.Context(), resolved.Key)
			if err != nil {
				return err
			}
			if len(topics) == 0 {
				fmt.Fprintf(stdout, "%s has no topics yet\n", resolved.Key)
				return nil
			}
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLABEL\tCREATED BY\tFIRST SEEN\tALIASES")
			for _, t := range topics {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s (%s)\t%d\n",
					t.ID, t.Label, t.CreatedBy, review.FormatDay(t.FirstSeen), humanize.Time(t.FirstSeen), len(t.Aliases))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "app key, name or package id (omit to list apps)")
	return cmd
}
