package engine

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/fentz26/jobshop/internal/constraints"
	"github.com/fentz26/jobshop/internal/generate"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/search"
)

func twoByTwo() *models.Problem {
	return &models.Problem{
		Name:     "two-by-two",
		Machines: []models.Machine{{ID: "M1", Capacity: 1}},
		Jobs: []models.Job{
			{ID: "J1", Tasks: []models.Task{
				{ID: "J1T1", Position: 1, Modes: []models.Mode{{Machine: "M1", Duration: 2}}},
				{ID: "J1T2", Position: 2, Modes: []models.Mode{{Machine: "M1", Duration: 3}}},
			}},
			{ID: "J2", Tasks: []models.Task{
				{ID: "J2T1", Position: 1, Modes: []models.Mode{{Machine: "M1", Duration: 1}}},
				{ID: "J2T2", Position: 2, Modes: []models.Mode{{Machine: "M1", Duration: 4}}},
			}},
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Search.TimeLimit = 20 * time.Second
	cfg.Search.Workers = 2
	return cfg
}

func mustSolve(t *testing.T, p *models.Problem, cfg Config) *models.Result {
	t.Helper()
	res, err := Solve(context.Background(), p, cfg)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if res.Status.HasSolution() {
		if err := models.Verify(p, res.Solution); err != nil {
			t.Fatalf("returned solution violates the model: %v", err)
		}
	}
	return res
}

func small(t *testing.T, seed int64) *models.Problem {
	t.Helper()
	cfg := generate.DefaultConfig()
	cfg.Jobs, cfg.TasksPerJob, cfg.Machines = 3, 3, 3
	p, err := generate.RandomProblem(cfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("RandomProblem failed: %v", err)
	}
	return p
}

func TestTwoByTwoSingleMachine(t *testing.T) {
	res := mustSolve(t, twoByTwo(), testConfig())
	if res.Status != models.StatusOptimal {
		t.Fatalf("expected OPTIMAL, got %s", res.Status)
	}
	sol := res.Solution
	if sol.Makespan != 10 || sol.Objective != 10 || !sol.OptimalityProven {
		t.Errorf("expected proven makespan 10, got %+v", sol)
	}
	if len(sol.Assignments) != 4 {
		t.Errorf("expected 4 assignments, got %d", len(sol.Assignments))
	}
	if res.Diagnostics.Horizon != 12 || res.Diagnostics.Variables == 0 {
		t.Errorf("unexpected diagnostics %+v", res.Diagnostics)
	}
}

func TestWindowShorterThanTaskIsModelError(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1", Windows: []models.Window{{Start: 0, End: 5}}}},
		Jobs: []models.Job{{ID: "J1", Tasks: []models.Task{
			{ID: "T1", Position: 1, Modes: []models.Mode{{Machine: "M1", Duration: 6}}},
		}}},
	}
	var phases []Phase
	cfg := testConfig()
	cfg.OnPhase = func(ph Phase) { phases = append(phases, ph) }

	res, err := Solve(context.Background(), p, cfg)
	if !errors.Is(err, models.ErrNoFeasibleMode) || !IsModelError(err) {
		t.Fatalf("expected ErrNoFeasibleMode, got %v", err)
	}
	if res == nil || res.Status != models.StatusModelError || res.Solution != nil {
		t.Fatalf("expected MODEL_ERROR without a solution, got %+v", res)
	}
	if res.Diagnostics.Cause == "" {
		t.Error("expected the cause to be reported")
	}
	if !reflect.DeepEqual(phases, []Phase{PhaseBuilding, PhaseDone}) {
		t.Errorf("unexpected phases %v", phases)
	}
}

func TestStructuralErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *models.Problem, cfg *Config)
		want   error
	}{
		{"cycle", func(p *models.Problem, _ *Config) {
			p.Jobs[0].Precedences = []models.Precedence{{Before: "J1T1", After: "J1T2"}, {Before: "J1T2", After: "J1T1"}}
		}, models.ErrCyclicPrecedence},
		{"no modes", func(p *models.Problem, _ *Config) { p.Jobs[1].Tasks[1].Modes = nil }, models.ErrNoModes},
		{"unknown machine", func(p *models.Problem, _ *Config) { p.Jobs[1].Tasks[0].Modes[0].Machine = "M2" }, models.ErrUnknownMachine},
		{"pattern mismatch", func(p *models.Problem, _ *Config) {
			p.Jobs[0].PatternID, p.Jobs[1].PatternID = "P", "P"
			p.Jobs[1].Tasks = p.Jobs[1].Tasks[:1]
		}, models.ErrPatternMismatch},
		{"bad objective", func(_ *models.Problem, cfg *Config) { cfg.Objective = "cheapest" }, models.ErrInvalidValue},
		{"bad search params", func(_ *models.Problem, cfg *Config) { cfg.Search.LinearizationLevel = 9 }, models.ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, cfg := twoByTwo(), testConfig()
			tt.mutate(p, &cfg)
			res, err := Solve(context.Background(), p, cfg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if res.Status != models.StatusModelError {
				t.Errorf("expected MODEL_ERROR, got %s", res.Status)
			}
		})
	}
}

func TestInfeasibleIsAStatus(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1", Windows: []models.Window{{Start: 0, End: 3}}}},
		Jobs: []models.Job{{ID: "J1", Tasks: []models.Task{
			{ID: "A", Position: 1, Modes: []models.Mode{{Machine: "M1", Duration: 3}}},
			{ID: "B", Position: 2, Modes: []models.Mode{{Machine: "M1", Duration: 3}}},
		}}},
	}
	var phases []Phase
	cfg := testConfig()
	cfg.OnPhase = func(ph Phase) { phases = append(phases, ph) }
	res := mustSolve(t, p, cfg)
	if res.Status != models.StatusInfeasible || res.Solution != nil {
		t.Fatalf("expected INFEASIBLE without a solution, got %s", res.Status)
	}
	if !reflect.DeepEqual(phases, []Phase{PhaseBuilding, PhaseSearching, PhaseDone}) {
		t.Errorf("unexpected phases %v", phases)
	}
}

func TestSolutionsSatisfyConstraints(t *testing.T) {
	for seed := int64(1); seed <= 6; seed++ {
		p := small(t, seed)
		if seed%2 == 0 {
			p.Machines[0].Windows = []models.Window{{Start: 0, End: 12}, {Start: 15, End: 200}}
			p.SetupTimes = []models.SetupTime{{Machine: "M2", From: "", To: "x", Duration: 2}}
			p.Jobs[0].Tasks[0].Type = "x"
		}
		if seed == 3 {
			p.Machines[2].Capacity = 2
		}
		res := mustSolve(t, p, testConfig())
		if !res.Status.HasSolution() {
			t.Errorf("seed %d: expected a solution, got %s", seed, res.Status)
		}
	}
}

func TestConstraintsNeverLowerMakespan(t *testing.T) {
	for seed := int64(10); seed < 13; seed++ {
		base := small(t, seed)
		cfg := testConfig()
		free := mustSolve(t, base, cfg)

		withSetups := small(t, seed)
		for i := range withSetups.Jobs {
			for k := range withSetups.Jobs[i].Tasks {
				withSetups.Jobs[i].Tasks[k].Type = []string{"a", "b"}[(i+k)%2]
			}
		}
		for _, m := range withSetups.Machines {
			withSetups.SetupTimes = append(withSetups.SetupTimes,
				models.SetupTime{Machine: m.ID, From: "a", To: "b", Duration: 2},
				models.SetupTime{Machine: m.ID, From: "b", To: "a", Duration: 3})
		}
		setup := mustSolve(t, withSetups, cfg)

		withWindows := small(t, seed)
		withWindows.Machines[1].Windows = []models.Window{{Start: 0, End: 4}, {Start: 9, End: 500}}
		windowed := mustSolve(t, withWindows, cfg)

		for name, res := range map[string]*models.Result{"free": free, "setups": setup, "windows": windowed} {
			if res.Status != models.StatusOptimal {
				t.Fatalf("seed %d %s: expected OPTIMAL, got %s", seed, name, res.Status)
			}
		}
		if setup.Solution.Makespan < free.Solution.Makespan {
			t.Errorf("seed %d: setups lowered the makespan %d -> %d", seed, free.Solution.Makespan, setup.Solution.Makespan)
		}
		if windowed.Solution.Makespan < free.Solution.Makespan {
			t.Errorf("seed %d: windows lowered the makespan %d -> %d", seed, free.Solution.Makespan, windowed.Solution.Makespan)
		}
	}
}

func TestFixedBranchingIsIdempotent(t *testing.T) {
	p := small(t, 21)
	cfg := testConfig()
	cfg.Search.Branching = search.BranchingFixed
	a := mustSolve(t, p, cfg)
	b := mustSolve(t, p, cfg)
	if a.Solution.Objective != b.Solution.Objective {
		t.Errorf("objectives differ: %d vs %d", a.Solution.Objective, b.Solution.Objective)
	}
	if !reflect.DeepEqual(a.Solution.Assignments, b.Solution.Assignments) {
		t.Error("fixed branching produced different assignments")
	}
}

func TestPatternSharingKeepsOptimum(t *testing.T) {
	gen := generate.DefaultConfig()
	gen.Jobs, gen.TasksPerJob, gen.Machines, gen.Patterns, gen.AltModeProb = 4, 3, 3, 1, 0
	p, err := generate.RandomProblem(gen, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("RandomProblem failed: %v", err)
	}

	shared := testConfig()
	plain := testConfig()
	plain.Patterns = false

	a := mustSolve(t, p, shared)
	b := mustSolve(t, p, plain)
	if a.Status != models.StatusOptimal || b.Status != models.StatusOptimal {
		t.Fatalf("expected both OPTIMAL, got %s and %s", a.Status, b.Status)
	}
	if a.Solution.Objective != b.Solution.Objective {
		t.Errorf("pattern sharing changed the optimum: %d vs %d", a.Solution.Objective, b.Solution.Objective)
	}
	if a.Diagnostics.Patterns != 1 || a.Diagnostics.SymmetryCuts != 3 {
		t.Errorf("expected 1 pattern with 3 cuts, got %+v", a.Diagnostics)
	}
	if b.Diagnostics.Patterns != 0 {
		t.Errorf("expected no patterns when disabled, got %d", b.Diagnostics.Patterns)
	}
}

func TestDisabledFamilies(t *testing.T) {
	cfg := testConfig()
	cfg.Families = constraints.All &^ constraints.Capacity
	res, err := Solve(context.Background(), twoByTwo(), cfg)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	// Without capacity only the job chains remain: max(2+3, 1+4).
	if res.Solution.Makespan != 5 {
		t.Errorf("expected makespan 5, got %d", res.Solution.Makespan)
	}
}

func TestWeightedTardinessObjective(t *testing.T) {
	p := twoByTwo()
	due1, due2 := int64(5), int64(5)
	p.Jobs[0].DueDate = &due1
	p.Jobs[1].DueDate = &due2
	cfg := testConfig()
	cfg.Objective = models.ObjectiveWeightedTardiness
	res := mustSolve(t, p, cfg)
	if res.Status != models.StatusOptimal {
		t.Fatalf("expected OPTIMAL, got %s", res.Status)
	}
	if res.Solution.Objective != 5 || res.Solution.WeightedTardiness != 5 {
		t.Errorf("expected tardiness 5, got objective %d tardiness %d", res.Solution.Objective, res.Solution.WeightedTardiness)
	}
}

func TestSetupsChargedBetweenNeighboursOnly(t *testing.T) {
	p := &models.Problem{
		Name:     "changeovers",
		Machines: []models.Machine{{ID: "M1", Capacity: 1}},
	}
	for _, task := range []struct{ id, typ string }{{"a", "X"}, {"b", "Y"}, {"c", "Z"}} {
		p.Jobs = append(p.Jobs, models.Job{ID: "J" + task.id, Tasks: []models.Task{
			{ID: task.id, Position: 1, Type: task.typ, Modes: []models.Mode{{Machine: "M1", Duration: 1}}},
		}})
	}
	for _, st := range []models.SetupTime{
		{From: "X", To: "Y", Duration: 1}, {From: "Y", To: "Z", Duration: 1}, {From: "X", To: "Z", Duration: 10},
		{From: "Y", To: "X", Duration: 100}, {From: "Z", To: "Y", Duration: 100}, {From: "Z", To: "X", Duration: 100},
	} {
		st.Machine = "M1"
		p.SetupTimes = append(p.SetupTimes, st)
	}

	res := mustSolve(t, p, testConfig())
	if res.Status != models.StatusOptimal || res.Solution.Makespan != 5 {
		t.Fatalf("expected OPTIMAL makespan 5, got %s %v", res.Status, res.Solution)
	}
	if len(res.Diagnostics.Warnings) != 0 {
		t.Errorf("unexpected warnings %q", res.Diagnostics.Warnings)
	}
}

func TestSharedMachineSetupsWarn(t *testing.T) {
	p := twoByTwo()
	p.Machines[0].Capacity = 2
	p.Jobs[0].Tasks[0].Type, p.Jobs[1].Tasks[0].Type = "red", "blue"
	p.SetupTimes = []models.SetupTime{{Machine: "M1", From: "red", To: "blue", Duration: 3}}

	res := mustSolve(t, p, testConfig())
	if !res.Status.HasSolution() {
		t.Fatalf("expected a solution, got %s", res.Status)
	}
	if len(res.Diagnostics.Warnings) != 1 {
		t.Errorf("expected one warning about M1, got %q", res.Diagnostics.Warnings)
	}
}

func fiftyTasks(t testing.TB) (*models.Problem, generate.Config, *rand.Rand) {
	gen := generate.DefaultConfig()
	gen.Jobs, gen.TasksPerJob, gen.Machines = 10, 5, 5
	rng := rand.New(rand.NewSource(50))
	p, err := generate.RandomProblem(gen, rng)
	if err != nil {
		t.Fatalf("RandomProblem failed: %v", err)
	}
	return p, gen, rng
}

func TestWarmResolveAfterNewJob(t *testing.T) {
	p, gen, rng := fiftyTasks(t)
	cfg := testConfig()
	cfg.Search.TimeLimit = 2 * time.Second
	cold := mustSolve(t, p, cfg)
	if !cold.Status.HasSolution() {
		t.Fatalf("cold solve found no solution: %s", cold.Status)
	}

	prior := *cold.Solution
	prior.Assignments = append([]models.Assignment(nil), cold.Solution.Assignments...)
	job := generate.AppendJob(p, 1, gen, rng)
	if p.TaskCount() != 51 {
		t.Fatalf("expected 51 tasks, got %d", p.TaskCount())
	}
	added := job.Tasks[0].MaxDuration()

	cfg.Hint = cold.Solution
	warm := mustSolve(t, p, cfg)
	if !warm.Status.HasSolution() {
		t.Fatalf("warm solve found no solution: %s", warm.Status)
	}
	d := warm.Diagnostics
	if !d.HintUsed {
		t.Error("expected the prior solution to be used as a hint")
	}
	if d.HintAbandoned {
		t.Error("a prior schedule extended by one task should be completed, not abandoned")
	}
	// Following the hint keeps every prior task in place, so the new task at worst runs
	// after the old makespan.
	if d.FirstObjective == 0 || d.FirstObjective > prior.Makespan+added {
		t.Errorf("first warm objective %d, expected at most %d", d.FirstObjective, prior.Makespan+added)
	}
	if len(d.Improvements) == 0 || d.FirstSolutionTime != d.Improvements[0].Elapsed {
		t.Fatalf("improvements %+v do not start at the first solution %v", d.Improvements, d.FirstSolutionTime)
	}
	if last := d.Improvements[len(d.Improvements)-1]; last.Objective != warm.Solution.Objective {
		t.Errorf("last improvement %d differs from the returned objective %d", last.Objective, warm.Solution.Objective)
	}
	if !reflect.DeepEqual(prior, *cold.Solution) {
		t.Error("the prior solution was modified")
	}
}

// timeToReach returns when a solve first found an objective of at most target.
func timeToReach(d models.Diagnostics, target int64) (time.Duration, bool) {
	for _, imp := range d.Improvements {
		if imp.Objective <= target {
			return imp.Elapsed, true
		}
	}
	return 0, false
}

func TestTimeToReach(t *testing.T) {
	d := models.Diagnostics{Improvements: []models.Improvement{
		{Objective: 40, Elapsed: time.Millisecond},
		{Objective: 31, Elapsed: 5 * time.Millisecond},
		{Objective: 30, Elapsed: 9 * time.Millisecond},
	}}
	if at, ok := timeToReach(d, 35); !ok || at != 5*time.Millisecond {
		t.Errorf("expected 5ms, got %v %v", at, ok)
	}
	if _, ok := timeToReach(d, 29); ok {
		t.Error("target below every improvement should not be reached")
	}
}

// BenchmarkResolve compares how long a cold and a warm-started solve of the extended
// problem take to match the objective of a reference cold solve.
func BenchmarkResolve(b *testing.B) {
	p, gen, rng := fiftyTasks(b)
	cfg := DefaultConfig()
	cfg.Search.TimeLimit = 5 * time.Second
	before, err := Solve(context.Background(), p, cfg)
	if err != nil || !before.Status.HasSolution() {
		b.Fatalf("initial solve: %v %v", err, before)
	}
	generate.AppendJob(p, 1, gen, rng)

	cfg.Search.TimeLimit = 2 * time.Second
	ref, err := Solve(context.Background(), p, cfg)
	if err != nil || !ref.Status.HasSolution() {
		b.Fatalf("reference solve: %v %v", err, ref)
	}
	target := ref.Solution.Objective

	run := func(b *testing.B, cfg Config) {
		var total time.Duration
		reached, missed := 0, 0
		for i := 0; i < b.N; i++ {
			res, err := Solve(context.Background(), p, cfg)
			if err != nil {
				b.Fatal(err)
			}
			if at, ok := timeToReach(res.Diagnostics, target); ok {
				total += at
				reached++
			} else {
				missed++
			}
		}
		if reached > 0 {
			b.ReportMetric(float64(total.Microseconds())/1000/float64(reached), "ms-to-target")
		}
		b.ReportMetric(float64(missed), "missed")
	}
	b.Run("cold", func(b *testing.B) { run(b, cfg) })
	b.Run("warm", func(b *testing.B) {
		warm := cfg
		warm.Hint = before.Solution
		run(b, warm)
	})
}
