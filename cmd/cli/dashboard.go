package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-analyst/internal/app"
	"github.com/dvloznov/finance-analyst/internal/dashboard"
	"github.com/dvloznov/finance-analyst/internal/infra/postgres"
)

func newDashboardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print dashboard reports",
	}

	cmd.AddCommand(newOverviewCommand())
	cmd.AddCommand(newProfitLossCommand())

	return cmd
}

func newOverviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Totals for the latest loaded year",
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

			row, err := dashboard.NewService(repo).Overview(ctx)
			if errors.Is(err, dashboard.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No data loaded yet.")
				return nil
			}
			if err != nil {
				return err
			}
			printOverview(cmd.OutOrStdout(), row)
			return nil
		},
	}
}

func newProfitLossCommand() *cobra.Command {
	var year int

	cmd := &cobra.Command{
		Use:   "pnl",
		Short: "Quarterly profit and loss",
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

			rows, err := dashboard.NewService(repo).ProfitLoss(ctx, dashboard.Filter{Year: year})
			if err != nil {
				return err
			}
			printProfitLoss(cmd.OutOrStdout(), rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&year, "year", 0, "calendar year (all years when 0)")

	return cmd
}

func printOverview(out io.Writer, row *postgres.OverviewRow) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Year\t%d\t\n", row.Year)
	fmt.Fprintf(tw, "Revenue\t%s\t\n", money(row.Revenue))
	fmt.Fprintf(tw, "COGS\t%s\t\n", money(row.COGS))
	fmt.Fprintf(tw, "Expenses\t%s\t\n", money(row.Expenses))
	fmt.Fprintf(tw, "Net profit\t%s\t\n", money(row.NetProfit))
	fmt.Fprintf(tw, "Accounts\t%d\t\n", row.AccountCount)
	fmt.Fprintf(tw, "Facts\t%d\t\n", row.FactCount)
	tw.Flush()
}

func printProfitLoss(out io.Writer, rows []postgres.ProfitLossRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No data for the selected period.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "QUARTER\tREVENUE\tCOGS\tEXPENSES\tGROSS PROFIT\tNET PROFIT\tMARGIN\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			r.YearQuarter, money(r.Revenue), money(r.COGS), money(r.Expenses),
			money(r.GrossProfit), money(r.NetProfit), percent(r.ProfitMarginPercent))
	}
	tw.Flush()
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func percent(d decimal.NullDecimal) string {
	if !d.Valid {
		return "n/a"
	}
	return d.Decimal.StringFixed(1) + "%"
}
