package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/jobshop/internal/config"
	"github.com/fentz26/jobshop/internal/logging"
	"github.com/fentz26/jobshop/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "jobshop",
	Short: "jobshop - constraint-based job-shop scheduler",
	Long: `jobshop builds a constraint model from a job-shop problem (jobs, tasks, alternative
machine modes, setup times and availability windows), searches it and reports the schedule.
Runs can be queued in a journal and solved in batch.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTelemetry == nil {
			return nil
		}
		return shutdownTelemetry(context.Background())
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath string
	telemetry  bool

	cfg               *config.Config
	shutdownTelemetry func(context.Context) error
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Config file path")
	rootCmd.PersistentFlags().BoolVar(&telemetry, "telemetry", false, "Export traces, metrics and logs to stderr")

	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(benchCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if telemetry || cfg.Telemetry {
		shutdownTelemetry, err = logging.SetupOTelSDK(cmd.Context(), os.Stderr)
		if err != nil {
			return fmt.Errorf("telemetry setup: %w", err)
		}
	}
	return nil
}

func openStore() (*store.Store, error) {
	s, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return s, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
