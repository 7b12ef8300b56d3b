// Command leadsim drives a running lead scoring service with concurrent
// event traffic and verifies that scores converge.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/leadflow/internal/simulator"
	"github.com/okian/leadflow/pkg/logger"
)

var (
	cfg        = simulator.DefaultConfig()
	logFormat  string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "leadsim",
	Short:         "Load and convergence test for the lead scoring service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.InitWithWriter(os.Stderr, logFormat); err != nil {
			return err
		}
		if verbose {
			return logger.SetLevelString("debug")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		stats, err := simulator.Run(ctx, cfg, logger.Get())
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(stats); encErr != nil {
				return encErr
			}
		}
		return err
	},
}

func init() {
	cfg.Workers = runtime.NumCPU() * 2

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the service")
	flags.IntVar(&cfg.Leads, "leads", cfg.Leads, "number of leads to register")
	flags.IntVar(&cfg.Events, "events", cfg.Events, "number of events to submit, duplicates included")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent submitters")
	flags.Float64Var(&cfg.Rate, "rate", cfg.Rate, "submissions per second (0 = unlimited)")
	flags.Float64Var(&cfg.DuplicateRatio, "duplicates", cfg.DuplicateRatio, "share of submissions that resend an earlier event id")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	flags.DurationVar(&cfg.Settle, "settle", cfg.Settle, "how long to wait for scores to converge")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for the event plan")

	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print run statistics as JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("leadsim: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}
