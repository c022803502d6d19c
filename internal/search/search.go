// Package search configures and runs the solver over a built model and maps its outcome
// to a terminal solve status.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/logging"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/variables"
)

// ErrSolverKernel marks failures of the solver itself. The model is not reused after one.
var ErrSolverKernel = errors.New("solver kernel failure")

// Branching selects the search discipline.
type Branching string

const (
	// BranchingFixed follows the decision strategies on one deterministic worker.
	BranchingFixed Branching = "fixed"
	// BranchingFree runs a portfolio of workers with randomised tie-breaking.
	BranchingFree Branching = "free"
)

// Defaults.
const (
	DefaultTimeLimit         = 30 * time.Second
	DefaultMaxWorkers        = 8
	DefaultHintConflictLimit = 100
)

// Params tune a search.
type Params struct {
	TimeLimit time.Duration `yaml:"time_limit"`
	Workers   int           `yaml:"workers"`
	// LinearizationLevel 0 keeps time-tabling and disjunctive reasoning, 1 adds energy
	// checks and 2 adds overload pruning of optional intervals.
	LinearizationLevel int       `yaml:"linearization_level"`
	EscalateOnStall    bool      `yaml:"escalate_on_stall"`
	Branching          Branching `yaml:"branching"`
	// HintConflictLimit is the conflict budget spent repairing a hint before it is dropped.
	HintConflictLimit      int     `yaml:"hint_conflict_limit"`
	RelativeGap            float64 `yaml:"relative_gap"`
	StopAfterFirstSolution bool    `yaml:"stop_after_first_solution"`
	Seed                   int64   `yaml:"seed"`
}

// DefaultParams returns conservative defaults: level 0 with escalation, free branching and
// one worker per CPU up to DefaultMaxWorkers.
func DefaultParams() Params {
	return Params{
		TimeLimit:         DefaultTimeLimit,
		Workers:           min(runtime.NumCPU(), DefaultMaxWorkers),
		EscalateOnStall:   true,
		Branching:         BranchingFree,
		HintConflictLimit: DefaultHintConflictLimit,
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.TimeLimit < 0:
		return models.NewValidationError(models.ErrInvalidValue, "search", "time limit %s is negative", p.TimeLimit)
	case p.Workers < 0:
		return models.NewValidationError(models.ErrInvalidValue, "search", "workers %d is negative", p.Workers)
	case p.LinearizationLevel < 0 || p.LinearizationLevel > 2:
		return models.NewValidationError(models.ErrInvalidValue, "search", "linearization level %d outside [0,2]", p.LinearizationLevel)
	case p.RelativeGap < 0:
		return models.NewValidationError(models.ErrInvalidValue, "search", "relative gap %g is negative", p.RelativeGap)
	case p.Branching != "" && p.Branching != BranchingFixed && p.Branching != BranchingFree:
		return models.NewValidationError(models.ErrInvalidValue, "search", "unknown branching %q", p.Branching)
	}
	return nil
}

func (p Params) kernel() cpsat.Parameters {
	return cpsat.Parameters{
		MaxTime:                p.TimeLimit,
		NumWorkers:             p.Workers,
		FixedSearch:            p.Branching == BranchingFixed,
		LinearizationLevel:     p.LinearizationLevel,
		EscalateOnStall:        p.EscalateOnStall,
		HintConflictLimit:      p.HintConflictLimit,
		RelativeGapLimit:       p.RelativeGap,
		StopAfterFirstSolution: p.StopAfterFirstSolution,
		RandomSeed:             p.Seed,
	}
}

// AddStrategies orders branching: mode literals first, shortest mode tried first, then
// start times from the earliest possible.
func AddStrategies(cp *cpsat.Builder, vars *variables.Set) {
	type lit struct {
		v cpsat.BoolVar
		d int64
	}
	var lits []lit
	starts := make([]cpsat.Var, 0, len(vars.Tasks))
	for i := range vars.Tasks {
		tv := &vars.Tasks[i]
		starts = append(starts, tv.Start)
		if len(tv.Modes) < 2 {
			continue
		}
		for _, m := range tv.Modes {
			lits = append(lits, lit{v: m.Selected, d: m.Duration})
		}
	}
	if len(lits) > 0 {
		sort.SliceStable(lits, func(a, b int) bool { return lits[a].d < lits[b].d })
		modes := make([]cpsat.Var, len(lits))
		for i, l := range lits {
			modes[i] = l.v
		}
		cp.AddDecisionStrategy(modes, cpsat.ChooseFirst, cpsat.SelectMaxValue)
	}
	cp.AddDecisionStrategy(starts, cpsat.ChooseLowestMin, cpsat.SelectMinValue)
}

// HintFromSolution copies a prior solution into a hint. Tasks absent from the prior
// solution, or whose recorded mode no longer exists, are left unhinted.
func HintFromSolution(vars *variables.Set, prior *models.Solution) *cpsat.Hint {
	if prior == nil {
		return nil
	}
	hint := &cpsat.Hint{Ints: map[cpsat.IntVar]int64{}, Bools: map[cpsat.BoolVar]bool{}}
	for _, a := range prior.Assignments {
		tv, ok := vars.ByID(a.TaskID)
		if !ok || a.Mode < 0 || a.Mode >= len(tv.Modes) {
			continue
		}
		hint.Ints[tv.Start] = a.Start
		hint.Ints[tv.End] = a.End
		hint.Ints[tv.Duration] = a.End - a.Start
		for _, m := range tv.Modes {
			hint.Bools[m.Selected] = m.Mode == a.Mode
		}
	}
	if len(hint.Ints) == 0 {
		return nil
	}
	return hint
}

// Outcome is the mapped result of a search.
type Outcome struct {
	Status   models.Status
	Response *cpsat.Response
}

// Run searches the model. Search outcomes are returned as statuses; only a failure of
// the solver itself is returned as an error wrapping ErrSolverKernel.
func Run(ctx context.Context, m *cpsat.Model, params Params) (*Outcome, error) {
	ctx, span := logging.StartSpan(ctx, "engine.search")
	defer span.End()

	resp, err := cpsat.Solve(ctx, m, params.kernel())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrSolverKernel, err)
	}
	status := MapStatus(resp)
	logging.Logger().DebugContext(ctx, "search finished",
		"status", status,
		"stop", resp.StopReason.String(),
		"objective", resp.ObjectiveValue,
		"bound", resp.BestObjectiveBound,
		"branches", resp.NumBranches,
		"workers", resp.NumWorkers,
		"wall", resp.WallTime,
	)
	return &Outcome{Status: status, Response: resp}, nil
}

// MapStatus maps a solver response to a terminal status.
func MapStatus(resp *cpsat.Response) models.Status {
	switch resp.Status {
	case cpsat.Optimal:
		return models.StatusOptimal
	case cpsat.Infeasible:
		return models.StatusInfeasible
	case cpsat.ModelInvalid:
		return models.StatusModelError
	case cpsat.Feasible:
		if resp.StopReason == cpsat.StopTimeLimit || resp.StopReason == cpsat.StopCancelled {
			return models.StatusTimeoutWithSolution
		}
		return models.StatusFeasible
	}
	if resp.StopReason == cpsat.StopTimeLimit || resp.StopReason == cpsat.StopCancelled {
		return models.StatusTimeoutNoSolution
	}
	return models.StatusUnknown
}
