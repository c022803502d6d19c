// Package engine turns a problem into a solve result: it builds variables and constraints,
// runs the search and extracts the schedule.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fentz26/jobshop/internal/constraints"
	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/extract"
	"github.com/fentz26/jobshop/internal/logging"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/patterns"
	"github.com/fentz26/jobshop/internal/search"
	"github.com/fentz26/jobshop/internal/variables"
)

// ErrSolverKernel is returned, wrapped, when the solver itself fails.
var ErrSolverKernel = search.ErrSolverKernel

// Phase is a state of a solve call.
type Phase string

const (
	PhaseBuilding  Phase = "BUILDING"
	PhaseSearching Phase = "SEARCHING"
	PhaseDone      Phase = "DONE"
)

// Config is everything a solve call is parameterised by. It is passed explicitly; the
// engine keeps no solver state between calls.
type Config struct {
	Objective models.Objective `yaml:"objective"`
	// Families is the enabled set of constraint families; zero enables all of them.
	Families     constraints.Family `yaml:"-"`
	Variables    variables.Options  `yaml:"variables"`
	Search       search.Params      `yaml:"search"`
	ClosureLimit int                `yaml:"closure_limit"`
	Patterns     bool               `yaml:"patterns"`
	AutoDetect   bool               `yaml:"auto_detect"`
	Symmetry     bool               `yaml:"symmetry"`

	// Hint is a prior solution used to warm-start the search. It is only read.
	Hint *models.Solution `yaml:"-"`
	// OnPhase observes state transitions.
	OnPhase func(Phase)  `yaml:"-"`
	Logger  *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the makespan objective with every family, pattern sharing and
// symmetry breaking enabled.
func DefaultConfig() Config {
	return Config{
		Objective:    models.ObjectiveMakespan,
		Families:     constraints.All,
		Variables:    variables.DefaultOptions(),
		Search:       search.DefaultParams(),
		ClosureLimit: constraints.DefaultClosureLimit,
		Patterns:     true,
		Symmetry:     true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Objective != "" && !c.Objective.Valid() {
		return models.NewValidationError(models.ErrInvalidValue, "config", "unknown objective %q", c.Objective)
	}
	if c.Variables.HorizonBuffer < 0 || c.Variables.Horizon < 0 {
		return models.NewValidationError(models.ErrInvalidValue, "config", "horizon settings must be >= 0")
	}
	if c.ClosureLimit < 0 {
		return models.NewValidationError(models.ErrInvalidValue, "config", "closure limit %d is negative", c.ClosureLimit)
	}
	return c.Search.Validate()
}

var (
	instrumentsOnce sync.Once
	solveCount      metric.Float64Counter
	solveDuration   metric.Float64Histogram
)

func instruments() {
	instrumentsOnce.Do(func() {
		solveCount, _ = logging.InitializeFloatCounter("jobshop.solve.count", "Number of solve calls", "{solve}")
		solveDuration, _ = logging.InitializeHistogram("jobshop.solve.duration", "Wall time of solve calls", "ms")
	})
}

type built struct {
	model *cpsat.Model
	vars  *variables.Set
	diag  models.Diagnostics
}

// Solve builds and searches p. Validation and build failures return a MODEL_ERROR result
// together with the error; search outcomes, including infeasibility and timeouts, return a
// result and a nil error. A solver failure returns a nil result and an error wrapping
// ErrSolverKernel.
func Solve(ctx context.Context, p *models.Problem, cfg Config) (*models.Result, error) {
	instruments()
	log := cfg.Logger
	if log == nil {
		log = logging.Logger()
	}
	began := time.Now()
	ctx, span := logging.StartSpan(ctx, "engine.solve",
		attribute.String("problem", p.Name),
		attribute.Int("tasks", p.TaskCount()),
		attribute.String("objective", string(cfg.Objective)),
	)
	defer span.End()

	phase := func(ph Phase) {
		log.DebugContext(ctx, "solve phase", "problem", p.Name, "phase", string(ph))
		if cfg.OnPhase != nil {
			cfg.OnPhase(ph)
		}
	}
	finish := func(status models.Status) {
		phase(PhaseDone)
		attrs := metric.WithAttributes(attribute.String("status", string(status)))
		if solveCount != nil {
			solveCount.Add(ctx, 1, attrs)
		}
		if solveDuration != nil {
			solveDuration.Record(ctx, float64(time.Since(began).Microseconds())/1000.0, attrs)
		}
		span.SetAttributes(attribute.String("status", string(status)))
	}

	phase(PhaseBuilding)
	b, err := build(ctx, p, cfg, log)
	if err != nil {
		span.RecordError(err)
		log.InfoContext(ctx, "model rejected", "problem", p.Name, "error", err)
		finish(models.StatusModelError)
		return &models.Result{
			Status:      models.StatusModelError,
			Diagnostics: models.Diagnostics{Cause: err.Error(), WallTime: time.Since(began)},
		}, err
	}

	phase(PhaseSearching)
	out, err := search.Run(ctx, b.model, cfg.Search)
	if err != nil {
		span.RecordError(err)
		log.ErrorContext(ctx, "solver failure", "problem", p.Name, "error", err)
		finish(models.StatusUnknown)
		return nil, err
	}

	resp := out.Response
	diag := b.diag
	diag.Workers = resp.NumWorkers
	diag.LinearizationLevel = resp.LinearizationLevel
	diag.Branches = resp.NumBranches
	diag.Conflicts = resp.NumConflicts
	diag.Solutions = resp.NumSolutions
	diag.HintUsed = resp.HintUsed
	diag.HintAbandoned = resp.HintAbandoned
	diag.FirstSolutionTime = resp.FirstSolutionTime
	for _, imp := range resp.Improvements {
		diag.Improvements = append(diag.Improvements, models.Improvement{Objective: imp.Objective, Elapsed: imp.Elapsed})
	}
	if len(diag.Improvements) > 0 {
		diag.FirstObjective = diag.Improvements[0].Objective
	}
	diag.WallTime = time.Since(began)
	if resp.HintUsed {
		log.InfoContext(ctx, "warm start",
			"problem", p.Name,
			"hint_abandoned", resp.HintAbandoned,
			"first_objective", diag.FirstObjective,
			"first_solution_ms", resp.FirstSolutionTime.Milliseconds(),
		)
	}

	result := &models.Result{
		Status:      out.Status,
		Solution:    extract.Solution(p, b.vars, resp, out.Status),
		Diagnostics: diag,
	}
	log.InfoContext(ctx, "solve finished",
		"problem", p.Name,
		"status", string(result.Status),
		"objective", resp.ObjectiveValue,
		"wall_ms", diag.WallTime.Milliseconds(),
	)
	finish(result.Status)
	return result, nil
}

func build(ctx context.Context, p *models.Problem, cfg Config, log *slog.Logger) (*built, error) {
	_, span := logging.StartSpan(ctx, "engine.build")
	defer span.End()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cp := cpsat.NewBuilder()
	vars, err := variables.Build(cp, p, cfg.Variables)
	if err != nil {
		return nil, err
	}
	cb := constraints.New(cp, p, vars, constraints.Options{ClosureLimit: cfg.ClosureLimit, Logger: log})
	families := cfg.Families
	if families == 0 {
		families = constraints.All
	}

	var pst patterns.Stats
	if cfg.Patterns && families.Has(constraints.Precedence) {
		arena, err := patterns.Detect(p, patterns.DetectOptions{AutoDetect: cfg.AutoDetect})
		if err != nil {
			return nil, err
		}
		pst = patterns.Apply(cp, cb, p, vars, arena, patterns.Options{
			ClosureLimit: cfg.ClosureLimit,
			Symmetry:     cfg.Symmetry,
		})
	}
	if err := cb.Apply(families); err != nil {
		return nil, err
	}
	if err := cb.Objective(cfg.Objective); err != nil {
		return nil, err
	}
	search.AddStrategies(cp, vars)
	if h := search.HintFromSolution(vars, cfg.Hint); h != nil {
		cp.SetHint(h)
	}

	m, err := cp.Model()
	if err != nil {
		return nil, fmt.Errorf("compile model: %w", err)
	}
	st := cb.Stats()
	span.SetAttributes(
		attribute.Int("variables", m.NumVariables()),
		attribute.Int("constraints", m.NumConstraints()),
		attribute.Int("patterns", pst.Patterns),
	)
	log.DebugContext(ctx, "model built",
		"horizon", vars.Horizon,
		"variables", m.NumVariables(),
		"constraints", m.NumConstraints(),
		"precedences", st.Precedences+pst.SharedEdges,
		"setup_machines", st.SetupMachines,
		"excluded_modes", st.ExcludedModes,
		"symmetry_cuts", pst.SymmetryCuts,
	)
	return &built{
		model: m,
		vars:  vars,
		diag: models.Diagnostics{
			Horizon:      vars.Horizon,
			Variables:    m.NumVariables(),
			Constraints:  m.NumConstraints(),
			Patterns:     pst.Patterns,
			SymmetryCuts: pst.SymmetryCuts,
			Warnings:     st.Warnings,
		},
	}, nil
}

// IsModelError reports whether err was raised while validating or building a model.
func IsModelError(err error) bool {
	var ve *models.ValidationError
	return errors.As(err, &ve)
}
