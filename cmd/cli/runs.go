package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-analyst/internal/app"
	"github.com/dvloznov/finance-analyst/internal/dashboard"
)

func newRunsCommand() *cobra.Command {
	var sourceSystem string
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			repo, err := app.OpenRepository(ctx, cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			runs, err := dashboard.NewService(repo).Runs(ctx, sourceSystem, limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceSystem, "source", "", "only runs of this source system")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")

	return cmd
}

func printRuns(out io.Writer, runs []dashboard.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No pipeline runs recorded.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSOURCE\tSTATUS\tPROCESSED\tLOADED\tFILTERED\tFAILED\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.RunID, r.SourceSystem, r.Status,
			r.RecordsProcessed, r.RecordsLoaded, r.RecordsFiltered, r.RecordsFailed,
			r.StartedAt.Local().Format(time.DateTime))
	}
	tw.Flush()

	for _, r := range runs {
		if r.ErrorMessage != "" {
			fmt.Fprintf(out, "%s: %s\n", r.RunID, r.ErrorMessage)
		}
	}
}
