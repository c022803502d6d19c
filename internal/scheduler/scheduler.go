package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/jobshop/internal/audit"
	"github.com/fentz26/jobshop/internal/engine"
	"github.com/fentz26/jobshop/internal/logging"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/search"
	"github.com/fentz26/jobshop/internal/store"
)

// Solver solves one problem. engine.Solve satisfies it through SolverFunc.
type Solver interface {
	Solve(ctx context.Context, p *models.Problem, cfg engine.Config) (*models.Result, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, p *models.Problem, cfg engine.Config) (*models.Result, error)

// Solve calls f.
func (f SolverFunc) Solve(ctx context.Context, p *models.Problem, cfg engine.Config) (*models.Result, error) {
	return f(ctx, p, cfg)
}

// EngineSolver solves with the in-process engine.
var EngineSolver Solver = SolverFunc(engine.Solve)

// Stats is a snapshot of the worker pool.
type Stats struct {
	ActiveWorkers   int            `json:"active_workers"`
	GlobalMax       int            `json:"global_max"`
	ObjectiveCounts map[string]int `json:"objective_counts"`
	Completed       int            `json:"completed"`
	Failed          int            `json:"failed"`
}

// Scheduler claims pending runs from the journal and solves them.
type Scheduler struct {
	store  *store.Store
	pdr    *audit.PDRWriter
	solver Solver
	base   engine.Config
	config *Config
	log    *slog.Logger

	// Worker pool state
	mu              sync.Mutex
	activeWorkers   int
	objectiveCounts map[string]int
	completed       int
	failed          int

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. base is the engine configuration each run starts from before
// its own parameters are applied.
func New(s *store.Store, pdr *audit.PDRWriter, solver Solver, base engine.Config, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if solver == nil {
		solver = EngineSolver
	}
	log := base.Logger
	if log == nil {
		log = logging.Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:           s,
		pdr:             pdr,
		solver:          solver,
		base:            base,
		config:          cfg,
		log:             log,
		objectiveCounts: make(map[string]int),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.schedulerLoop()
	sch.log.Info("scheduler started", "global_max", sch.config.GlobalMax)
}

// Stop cancels in-flight solves, requeues their runs and waits for workers to exit.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.log.Info("scheduler stopped")
}

// Drain blocks until no run is pending and no worker is active, or ctx ends.
func (sch *Scheduler) Drain(ctx context.Context) error {
	ticker := time.NewTicker(sch.config.PollInterval)
	defer ticker.Stop()
	for {
		idle, err := sch.idle(ctx)
		if err != nil {
			return err
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sch.ctx.Done():
			return errors.New("scheduler stopped before the queue drained")
		case <-ticker.C:
		}
	}
}

func (sch *Scheduler) idle(ctx context.Context) (bool, error) {
	sch.mu.Lock()
	active := sch.activeWorkers
	sch.mu.Unlock()
	if active > 0 {
		return false, nil
	}
	for _, status := range []models.RunStatus{models.RunStatusPending, models.RunStatusClaimed} {
		runs, err := sch.store.ListRuns(ctx, status, 1)
		if err != nil {
			return false, fmt.Errorf("checking queue: %w", err)
		}
		if len(runs) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// schedulerLoop polls for pending runs and dispatches them to workers.
func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.config.PollInterval)
	defer ticker.Stop()

	for {
		sch.pollAndDispatch()
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollAndDispatch claims pending runs until the pool is full or the queue is empty.
func (sch *Scheduler) pollAndDispatch() {
	for sch.ctx.Err() == nil {
		sch.mu.Lock()
		full := sch.activeWorkers >= sch.config.GlobalMax
		sch.mu.Unlock()
		if full {
			return
		}

		workerID := uuid.New().String()
		run, err := sch.store.AtomicClaimRun(sch.ctx, workerID, sch.hasSlot)
		if err != nil {
			sch.log.Error("claiming run", "error", err)
			return
		}
		if run == nil {
			return
		}

		// Only this loop takes slots, so a slot seen free by hasSlot is still free.
		objective := sch.objectiveOf(run)
		sch.mu.Lock()
		sch.activeWorkers++
		sch.objectiveCounts[objective]++
		sch.mu.Unlock()

		sch.record(audit.ActionDispatch, map[string]any{
			"run_id":     run.ID,
			"problem_id": run.ProblemID,
			"worker_id":  workerID,
			"objective":  objective,
		}, audit.OutcomeSuccess, run.ID, fmt.Sprintf("dispatched to worker %s", workerID))
		sch.log.Info("dispatched run", "run", run.ID, "problem", run.ProblemID, "worker", workerID)

		sch.wg.Add(1)
		go sch.runWorker(run, objective, workerID)
	}
}

// hasSlot reports whether the objective of run is below its concurrency limit. Runs of a
// saturated objective stay queued while later runs of other objectives are claimed.
func (sch *Scheduler) hasSlot(run *models.Run) bool {
	objective := sch.objectiveOf(run)
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.objectiveCounts[objective] < sch.config.GetObjectiveLimit(objective)
}

func (sch *Scheduler) objectiveOf(run *models.Run) string {
	switch {
	case run.Params.Objective != "":
		return string(run.Params.Objective)
	case sch.base.Objective != "":
		return string(sch.base.Objective)
	}
	return string(models.ObjectiveMakespan)
}

// runWorker solves one claimed run and journals the outcome.
func (sch *Scheduler) runWorker(run *models.Run, objective, workerID string) {
	defer sch.wg.Done()
	defer func() {
		sch.mu.Lock()
		sch.activeWorkers--
		sch.objectiveCounts[objective]--
		sch.mu.Unlock()
	}()

	// Journal writes must outlive a Stop.
	journal := context.WithoutCancel(sch.ctx)

	ctx := sch.ctx
	if sch.config.SolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sch.config.SolveTimeout)
		defer cancel()
	}

	rec, err := sch.store.GetProblem(journal, run.ProblemID)
	if err == nil && rec == nil {
		err = fmt.Errorf("problem %s not found", run.ProblemID)
	}
	if err != nil {
		sch.fail(journal, run, err)
		return
	}
	cfg, err := sch.engineConfig(journal, run)
	if err != nil {
		sch.fail(journal, run, err)
		return
	}

	result, err := sch.solver.Solve(ctx, rec.Problem, cfg)
	if sch.ctx.Err() != nil {
		sch.log.Info("worker interrupted, releasing run", "run", run.ID, "worker", workerID)
		if err := sch.store.ReleaseRun(journal, run.ID); err != nil {
			sch.log.Error("releasing run", "run", run.ID, "error", err)
		}
		return
	}
	if result == nil {
		if err == nil {
			err = errors.New("solver returned no result")
		}
		sch.fail(journal, run, err)
		return
	}
	// A rejected model still has a MODEL_ERROR result worth keeping.
	if err := sch.store.CompleteRun(journal, run.ID, result); err != nil {
		sch.log.Error("completing run", "run", run.ID, "error", err)
		return
	}
	sch.mu.Lock()
	sch.completed++
	sch.mu.Unlock()
	sch.record(audit.ActionComplete, result, audit.OutcomeSuccess, run.ID, string(result.Status))
	sch.log.Info("run completed", "run", run.ID, "status", string(result.Status), "worker", workerID)
}

// engineConfig applies the run's parameters over the base configuration.
func (sch *Scheduler) engineConfig(ctx context.Context, run *models.Run) (engine.Config, error) {
	cfg := sch.base
	p := run.Params
	if p.Objective != "" {
		cfg.Objective = p.Objective
	}
	if p.TimeLimitMs > 0 {
		cfg.Search.TimeLimit = time.Duration(p.TimeLimitMs) * time.Millisecond
	}
	if p.Workers > 0 {
		cfg.Search.Workers = p.Workers
	}
	if p.Fixed {
		cfg.Search.Branching = search.BranchingFixed
	}
	cfg.Hint = nil
	if p.Warm {
		hint, err := sch.store.LatestSolution(ctx, run.ProblemID)
		if err != nil {
			return cfg, fmt.Errorf("loading warm-start solution: %w", err)
		}
		cfg.Hint = hint
	}
	cfg.Logger = sch.log.With("run", run.ID)
	return cfg, nil
}

func (sch *Scheduler) fail(ctx context.Context, run *models.Run, cause error) {
	sch.log.Error("run failed", "run", run.ID, "error", cause)
	if err := sch.store.FailRun(ctx, run.ID, cause.Error()); err != nil {
		sch.log.Error("failing run", "run", run.ID, "error", err)
		return
	}
	sch.mu.Lock()
	sch.failed++
	sch.mu.Unlock()
	sch.record(audit.ActionFail, map[string]any{"run_id": run.ID}, audit.OutcomeFailure, run.ID, cause.Error())
}

func (sch *Scheduler) record(action string, inputs any, outcome, runID, details string) {
	if sch.pdr == nil {
		return
	}
	if _, err := sch.pdr.Record(context.WithoutCancel(sch.ctx), action, inputs, outcome, runID, details); err != nil {
		sch.log.Warn("writing decision record", "action", action, "error", err)
	}
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	counts := make(map[string]int, len(sch.objectiveCounts))
	for k, v := range sch.objectiveCounts {
		counts[k] = v
	}
	return Stats{
		ActiveWorkers:   sch.activeWorkers,
		GlobalMax:       sch.config.GlobalMax,
		ObjectiveCounts: counts,
		Completed:       sch.completed,
		Failed:          sch.failed,
	}
}
