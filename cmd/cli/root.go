package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-analyst/internal/config"
	"github.com/dvloznov/finance-analyst/internal/logger"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "finance-analyst",
		Short: "Query and maintain the financial warehouse",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Duration("timeout", 5*time.Minute, "command timeout")

	rootCmd.AddCommand(newAskCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newDashboardCommand())
	rootCmd.AddCommand(newUploadCommand())

	return rootCmd
}

// setup loads configuration and returns a context carrying the configured
// logger and the --timeout deadline.
func setup(cmd *cobra.Command) (context.Context, context.CancelFunc, *config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}
	log := logger.Configure(cfg.LogLevel, cfg.LogFormat)

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return logger.WithContext(ctx, log), cancel, cfg, log, nil
}
