package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-analyst/internal/agent"
	"github.com/dvloznov/finance-analyst/internal/app"
	"github.com/dvloznov/finance-analyst/internal/config"
)

const maxPrintedRows = 20

func newAskCommand() *cobra.Command {
	var threadID string
	var showSQL bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the financial data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			if threadID == "" {
				threadID = uuid.NewString()
			}
			return runAsk(ctx, cmd.OutOrStdout(), cfg, threadID, strings.Join(args, " "), showSQL)
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "conversation thread to continue")
	cmd.Flags().BoolVar(&showSQL, "sql", false, "print the executed query")

	return cmd
}

func runAsk(ctx context.Context, out io.Writer, cfg *config.Config, threadID, question string, showSQL bool) error {
	var db *sqlx.DB
	if needsDatabase(cfg) {
		repo, err := app.OpenRepository(ctx, cfg)
		if err != nil {
			return err
		}
		defer repo.Close()
		db = repo.DB()
	}

	assistant, err := app.NewAgent(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer assistant.Close()

	final, err := assistant.Runner.Invoke(ctx, threadID, question)
	if err != nil {
		return fmt.Errorf("asking: %w", err)
	}

	printAnswer(out, final, showSQL)
	return nil
}

// needsDatabase reports whether the agent reads from or checkpoints to
// Postgres.
func needsDatabase(cfg *config.Config) bool {
	return cfg.Agent.Backend != config.BackendBigQuery || cfg.Agent.Checkpoints == config.CheckpointPostgres
}

func printAnswer(out io.Writer, s agent.State, showSQL bool) {
	fmt.Fprintln(out, s.Answer)

	if showSQL {
		sql := s.CheckedSQL
		if sql == "" {
			sql = s.SQL
		}
		if sql != "" {
			fmt.Fprintf(out, "\n%s\n", sql)
		}
	}

	if len(s.ResultColumns) > 0 && len(s.ResultData) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(s.ResultColumns, "\t"))
		for i, row := range s.ResultData {
			if i == maxPrintedRows {
				break
			}
			cells := make([]string, len(s.ResultColumns))
			for j, col := range s.ResultColumns {
				if v := row[col]; v != nil {
					cells[j] = fmt.Sprint(v)
				}
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		tw.Flush()
		if s.ResultCount > maxPrintedRows || s.Truncated {
			fmt.Fprintf(out, "(%d rows, showing %d)\n", s.ResultCount, min(s.ResultCount, maxPrintedRows))
		}
	}

	fmt.Fprintf(out, "\nthread: %s\n", s.ThreadID)
}
