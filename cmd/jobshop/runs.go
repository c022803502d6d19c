package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/jobshop/internal/audit"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage journaled solve runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show run details",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsSubmitCmd = &cobra.Command{
	Use:   "submit [problem-file]...",
	Short: "Queue problems for the batch scheduler",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRunsSubmit,
}

var (
	runsStatus string
	runsLimit  int
	runsGantt  bool
	runsJSON   bool
	submitOpts solveFlags
)

func init() {
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsSubmitCmd)

	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status (pending, claimed, completed, failed)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 50, "Maximum runs to list (0 = all)")

	runsShowCmd.Flags().BoolVar(&runsGantt, "gantt", false, "Draw the schedule")
	runsShowCmd.Flags().BoolVar(&runsJSON, "json", false, "Print the run as JSON")

	submitOpts.register(runsSubmitCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	runs, err := s.ListRuns(ctx, models.RunStatus(runsStatus), runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	names := map[string]string{}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tSTATUS\tRESULT\tMAKESPAN\tCREATED")
	for _, r := range runs {
		name, ok := names[r.ProblemID]
		if !ok {
			if rec, err := s.GetProblem(ctx, r.ProblemID); err == nil && rec != nil {
				name = rec.Name
			}
			names[r.ProblemID] = name
		}
		result, makespan := "", ""
		if r.Result != nil {
			result = string(r.Result.Status)
			if r.Result.Solution != nil {
				makespan = fmt.Sprint(r.Result.Solution.Makespan)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID), truncate(name, 30), r.Status, result, makespan,
			r.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	run, err := s.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s: %w", args[0], store.ErrRunNotFound)
	}
	if runsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	rec, err := s.GetProblem(ctx, run.ProblemID)
	if err != nil {
		return err
	}
	fmt.Printf("ID:          %s\n", run.ID)
	if rec != nil {
		fmt.Printf("Problem:     %s (%s)\n", rec.Name, truncateID(rec.ID))
	}
	fmt.Printf("Status:      %s\n", run.Status)
	if run.ClaimedBy != "" {
		fmt.Printf("Claimed By:  %s\n", run.ClaimedBy)
	}
	if run.Error != "" {
		fmt.Printf("Error:       %s\n", run.Error)
	}
	fmt.Printf("Created:     %s\n", run.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Updated:     %s\n", run.UpdatedAt.Local().Format(time.DateTime))

	pdrs, err := s.ListPDR(ctx, run.ID, 0)
	if err != nil {
		return err
	}
	if len(pdrs) > 0 {
		fmt.Println("Decisions:")
		for i := len(pdrs) - 1; i >= 0; i-- {
			e := pdrs[i]
			fmt.Printf("  %s  %-13s %-8s %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Action, e.Outcome, e.Details)
		}
	}
	if run.Result != nil && rec != nil {
		fmt.Println()
		printResult(rec.Problem, run.Result, runsGantt)
	} else if runsGantt {
		fmt.Println("No schedule to draw")
	}
	return nil
}

func runRunsSubmit(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()
	pdr := audit.NewPDRWriter(s)
	params := submitOpts.params()

	for _, path := range args {
		p, err := models.LoadProblem(path)
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		rec, err := storedProblem(ctx, s, p)
		if err != nil {
			return err
		}
		run, err := s.CreateRun(ctx, rec.ID, params)
		if err != nil {
			return err
		}
		if _, err := pdr.Record(ctx, audit.ActionSubmit, params, audit.OutcomeSuccess, run.ID, path); err != nil {
			return err
		}
		fmt.Printf("Queued run %s for %s\n", run.ID, rec.Name)
	}
	return nil
}
