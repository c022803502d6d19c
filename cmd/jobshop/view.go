package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/store"
	"github.com/fentz26/jobshop/internal/tui"
)

var viewCmd = &cobra.Command{
	Use:   "view [problem-file] [solution-file]",
	Short: "Open the interactive schedule viewer",
	Long: `Open a solution file against its problem, a journaled run with --run, or browse the
whole journal with --journal.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runView,
}

var (
	viewRun     string
	viewJournal bool
	viewLimit   int
)

func init() {
	viewCmd.Flags().StringVar(&viewRun, "run", "", "Journaled run id to open")
	viewCmd.Flags().BoolVar(&viewJournal, "journal", false, "Browse journaled runs")
	viewCmd.Flags().IntVar(&viewLimit, "limit", 200, "Maximum runs listed with --journal")
}

func runView(cmd *cobra.Command, args []string) error {
	if viewRun == "" && !viewJournal {
		if len(args) != 2 {
			return errors.New("view needs a problem and a solution file, --run or --journal")
		}
		p, err := models.LoadProblem(args[0])
		if err != nil {
			return err
		}
		sol, err := models.LoadSolution(args[1])
		if err != nil {
			return err
		}
		return tui.New(p, &models.Result{Status: sol.Status, Solution: sol}).Run()
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()
	load := runLoader(ctx, s)

	if viewRun != "" {
		p, res, err := load(viewRun)
		if err != nil {
			return err
		}
		return tui.New(p, res).Run()
	}

	runs, err := s.ListRuns(ctx, "", viewLimit)
	if err != nil {
		return err
	}
	names := map[string]string{}
	items := make([]tui.RunItem, 0, len(runs))
	for _, r := range runs {
		name, ok := names[r.ProblemID]
		if !ok {
			if rec, err := s.GetProblem(ctx, r.ProblemID); err == nil && rec != nil {
				name = rec.Name
			}
			names[r.ProblemID] = name
		}
		items = append(items, tui.RunItem{Run: r, Problem: name})
	}
	return tui.NewJournal(items, load).Run()
}

func runLoader(ctx context.Context, s *store.Store) tui.Loader {
	return func(id string) (*models.Problem, *models.Result, error) {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if run == nil {
			return nil, nil, fmt.Errorf("run %s: %w", id, store.ErrRunNotFound)
		}
		rec, err := s.GetProblem(ctx, run.ProblemID)
		if err != nil {
			return nil, nil, err
		}
		if rec == nil {
			return nil, nil, fmt.Errorf("problem %s of run %s not found", run.ProblemID, id)
		}
		if run.Result == nil {
			return nil, nil, fmt.Errorf("run %s has no result (%s)", id, run.Status)
		}
		return rec.Problem, run.Result, nil
	}
}
