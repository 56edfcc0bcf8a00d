package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"workyard-sim/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "workyard-sim",
	Short: "Workyard fleet simulation toolkit",
	Long:  "workyard-sim runs a deterministic colony of workyards processing job pipelines under heat, power and corruption, and replays recorded runs.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setLogger(cmd, logging.New(logFormat, logLevel))
	},
	SilenceUsage: true,
}

// setLogger makes l the default logger and stores it in the command context.
func setLogger(cmd *cobra.Command, l *slog.Logger) {
	slog.SetDefault(l)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.NewContext(ctx, l))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(pipelinesCmd)
	rootCmd.AddCommand(dashboardCmd)
}
