package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/jobshop/internal/audit"
	"github.com/fentz26/jobshop/internal/scheduler"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Solve queued runs until the queue drains",
	RunE:  runBatch,
}

var (
	batchWorkers int
	batchTimeout time.Duration
)

func init() {
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "Concurrent solves (default from config)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 0, "Give up waiting after this long (0 = no limit)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ec, err := cfg.Engine()
	if err != nil {
		return err
	}
	schCfg := cfg.Scheduler
	if batchWorkers > 0 {
		schCfg.GlobalMax = batchWorkers
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, batchTimeout)
		defer cancel()
	}

	sch := scheduler.New(s, audit.NewPDRWriter(s), scheduler.EngineSolver, ec, &schCfg)
	sch.Start()
	drainErr := sch.Drain(ctx)
	sch.Stop()

	stats := sch.GetStats()
	fmt.Printf("Completed: %d  Failed: %d\n", stats.Completed, stats.Failed)
	if drainErr != nil {
		return fmt.Errorf("batch interrupted: %w", drainErr)
	}
	return nil
}
