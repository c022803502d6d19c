package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/jobshop/internal/audit"
	"github.com/fentz26/jobshop/internal/engine"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/search"
	"github.com/fentz26/jobshop/internal/store"
	"github.com/fentz26/jobshop/internal/tui"
)

var solveCmd = &cobra.Command{
	Use:   "solve [problem-file]",
	Short: "Solve a problem file and print the schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runSolve,
}

// solveFlags are shared by solve and runs submit.
type solveFlags struct {
	objective string
	timeLimit time.Duration
	workers   int
	fixed     bool
	warm      bool
}

func (f *solveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.objective, "objective", "", "Objective: makespan, weighted_tardiness or lexicographic")
	cmd.Flags().DurationVar(&f.timeLimit, "time-limit", 0, "Search time limit (default from config)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Parallel search workers (default from config)")
	cmd.Flags().BoolVar(&f.fixed, "fixed", false, "Deterministic fixed branching on one worker")
	cmd.Flags().BoolVar(&f.warm, "warm", false, "Warm-start from the latest journaled solution of the same problem")
}

func (f *solveFlags) params() models.RunParams {
	return models.RunParams{
		Objective:   models.Objective(f.objective),
		TimeLimitMs: f.timeLimit.Milliseconds(),
		Workers:     f.workers,
		Fixed:       f.fixed,
		Warm:        f.warm,
	}
}

// apply overlays the flags on an engine configuration.
func (f *solveFlags) apply(ec *engine.Config) {
	if f.objective != "" {
		ec.Objective = models.Objective(f.objective)
	}
	if f.timeLimit > 0 {
		ec.Search.TimeLimit = f.timeLimit
	}
	if f.workers > 0 {
		ec.Search.Workers = f.workers
	}
	if f.fixed {
		ec.Search.Branching = search.BranchingFixed
	}
}

var (
	solveOpts   solveFlags
	solveOut    string
	solveJSON   bool
	solveQuiet  bool
	solveRecord bool
)

func init() {
	solveOpts.register(solveCmd)
	solveCmd.Flags().StringVarP(&solveOut, "out", "o", "", "Write the solution to a .json or .yaml file")
	solveCmd.Flags().BoolVar(&solveJSON, "json", false, "Print the full result as JSON")
	solveCmd.Flags().BoolVarP(&solveQuiet, "quiet", "q", false, "Print only the summary")
	solveCmd.Flags().BoolVar(&solveRecord, "record", false, "Record the problem and result in the journal")
}

func runSolve(cmd *cobra.Command, args []string) error {
	p, err := models.LoadProblem(args[0])
	if err != nil {
		return err
	}
	ec, err := cfg.Engine()
	if err != nil {
		return err
	}
	solveOpts.apply(&ec)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var s *store.Store
	if solveOpts.warm || solveRecord {
		if s, err = openStore(); err != nil {
			return err
		}
		defer s.Close()
	}
	if solveOpts.warm {
		hint, err := journaledSolution(ctx, s, p)
		if err != nil {
			return err
		}
		if hint == nil {
			fmt.Fprintln(os.Stderr, "no journaled solution for this problem; solving cold")
		}
		ec.Hint = hint
	}

	res, err := engine.Solve(ctx, p, ec)
	if res == nil {
		return err
	}
	if solveRecord {
		if rerr := recordSolve(ctx, s, p, solveOpts.params(), res); rerr != nil {
			return rerr
		}
	}

	if solveJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(res); jerr != nil {
			return jerr
		}
	} else {
		printResult(p, res, !solveQuiet)
	}
	if err != nil {
		return err
	}
	if solveOut != "" && res.Solution != nil {
		if err := models.SaveSolution(solveOut, res.Solution); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "solution written to %s\n", solveOut)
	}
	return nil
}

// journaledSolution returns the latest stored solution for a problem with the same name.
func journaledSolution(ctx context.Context, s *store.Store, p *models.Problem) (*models.Solution, error) {
	rec, err := s.FindProblemByName(ctx, p.Name)
	if err != nil || rec == nil {
		return nil, err
	}
	return s.LatestSolution(ctx, rec.ID)
}

// storedProblem returns the journal record for p, saving a new one when the newest record
// with its name has different content.
func storedProblem(ctx context.Context, s *store.Store, p *models.Problem) (*models.ProblemRecord, error) {
	fp := audit.Fingerprint(p)
	rec, err := s.FindProblemByName(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Fingerprint == fp {
		return rec, nil
	}
	return s.SaveProblem(ctx, p, fp)
}

func recordSolve(ctx context.Context, s *store.Store, p *models.Problem, params models.RunParams, res *models.Result) error {
	rec, err := storedProblem(ctx, s, p)
	if err != nil {
		return err
	}
	run, err := s.RecordRun(ctx, rec.ID, params, res)
	if err != nil {
		return err
	}
	_, err = audit.NewPDRWriter(s).Record(ctx, audit.ActionComplete, res, audit.OutcomeSuccess, run.ID, string(res.Status))
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "recorded run %s\n", run.ID)
	return nil
}

func printResult(p *models.Problem, res *models.Result, gantt bool) {
	d := res.Diagnostics
	fmt.Printf("Status:      %s\n", res.Status)
	if res.Status == models.StatusModelError {
		fmt.Printf("Cause:       %s\n", d.Cause)
		return
	}
	if s := res.Solution; s != nil {
		fmt.Printf("Objective:   %d (bound %d)\n", s.Objective, s.BestBound)
		fmt.Printf("Makespan:    %d\n", s.Makespan)
		fmt.Printf("Tardiness:   %d\n", s.WeightedTardiness)
		if !s.OptimalityProven {
			fmt.Printf("Gap:         %.2f%%\n", s.Gap*100)
		}
	}
	fmt.Printf("Model:       %d vars, %d constraints, horizon %d\n", d.Variables, d.Constraints, d.Horizon)
	if d.Patterns > 0 {
		fmt.Printf("Patterns:    %d (%d symmetry cuts)\n", d.Patterns, d.SymmetryCuts)
	}
	fmt.Printf("Search:      %d workers, %d branches, %d conflicts, %d solutions\n",
		d.Workers, d.Branches, d.Conflicts, d.Solutions)
	if d.HintUsed {
		fmt.Printf("Hint:        used (abandoned: %t, first objective %d after %s)\n",
			d.HintAbandoned, d.FirstObjective, d.FirstSolutionTime.Round(time.Millisecond))
	}
	fmt.Printf("Wall time:   %s\n", d.WallTime.Round(time.Millisecond))
	for _, w := range d.Warnings {
		fmt.Printf("Warning:     %s\n", w)
	}
	if gantt && res.Solution != nil {
		fmt.Println()
		fmt.Println(tui.RenderGantt(p, res.Solution, 100))
	}
}
