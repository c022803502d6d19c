package patterns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fentz26/jobshop/internal/constraints"
	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/variables"
)

// flowShop returns n identical three-step jobs over three machines, all on pattern "P".
func flowShop(n int) *models.Problem {
	p := &models.Problem{Machines: []models.Machine{{ID: "CUT"}, {ID: "WELD"}, {ID: "PAINT"}}}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("J%d", i+1)
		p.Jobs = append(p.Jobs, models.Job{ID: id, PatternID: "P", Tasks: []models.Task{
			{ID: id + "-cut", Position: 1, Type: "cut", Modes: []models.Mode{{Machine: "CUT", Duration: 2}}},
			{ID: id + "-weld", Position: 2, Type: "weld", Modes: []models.Mode{{Machine: "WELD", Duration: 3}}},
			{ID: id + "-paint", Position: 3, Type: "paint", Modes: []models.Mode{{Machine: "PAINT", Duration: 1}}},
		}})
	}
	return p
}

func TestDetect(t *testing.T) {
	p := flowShop(3)
	p.Jobs[2].Tasks[1].Modes[0].Duration = 1
	p.Jobs = append(p.Jobs, models.Job{ID: "SOLO", Tasks: []models.Task{
		{ID: "solo", Position: 1, Modes: []models.Mode{{Machine: "CUT", Duration: 1}}},
	}})

	arena, err := Detect(p, DetectOptions{})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(arena.Skeletons) != 1 || len(arena.Groups) != 1 {
		t.Fatalf("expected one pattern, got %d skeletons %d groups", len(arena.Skeletons), len(arena.Groups))
	}
	sk := arena.Skeletons[0]
	if sk.ID != "P" || sk.Tasks != 3 || len(sk.Edges) != 2 || sk.First != 0 {
		t.Errorf("unexpected skeleton %+v", sk)
	}
	// The shortest weld over all instances is 1.
	if len(sk.Lags) != 1 || sk.Lags[0] != (constraints.Lag{From: 0, To: 2, Gap: 1}) {
		t.Errorf("unexpected lags %v", sk.Lags)
	}
	g := arena.Groups[0]
	if len(g.Bindings) != 3 || g.Bindings[2][0] != 6 || g.Bindings[1][2] != 5 {
		t.Errorf("unexpected bindings %v", g.Bindings)
	}
	if arena.Instances() != 3 || len(arena.Jobs()) != 3 {
		t.Errorf("expected 3 instances, got %d", arena.Instances())
	}
}

func TestDetectMismatch(t *testing.T) {
	p := flowShop(2)
	p.Jobs[1].Tasks = p.Jobs[1].Tasks[:2]
	_, err := Detect(p, DetectOptions{})
	if !errors.Is(err, models.ErrPatternMismatch) {
		t.Fatalf("expected ErrPatternMismatch, got %v", err)
	}

	p = flowShop(2)
	p.Jobs[1].Precedences = []models.Precedence{{Before: "J2-cut", After: "J2-paint"}}
	_, err = Detect(p, DetectOptions{})
	if !errors.Is(err, models.ErrPatternMismatch) {
		t.Fatalf("expected ErrPatternMismatch for differing edges, got %v", err)
	}
}

func TestDetectTaskMismatch(t *testing.T) {
	p := flowShop(3)
	p.Jobs[2].Tasks[1].Type = "grind"
	_, err := Detect(p, DetectOptions{})
	if !errors.Is(err, models.ErrPatternMismatch) {
		t.Fatalf("expected ErrPatternMismatch for differing type, got %v", err)
	}
	if !strings.Contains(err.Error(), "J3-weld") {
		t.Errorf("error should name the task, got %v", err)
	}

	p = flowShop(3)
	p.Jobs[1].Tasks[2].Position = 4
	_, err = Detect(p, DetectOptions{})
	if !errors.Is(err, models.ErrPatternMismatch) {
		t.Fatalf("expected ErrPatternMismatch for differing position, got %v", err)
	}
	if !strings.Contains(err.Error(), "J2-paint") {
		t.Errorf("error should name the task, got %v", err)
	}

	// Durations may differ between instances.
	p = flowShop(3)
	p.Jobs[1].Tasks[0].Modes[0].Duration = 7
	if _, err := Detect(p, DetectOptions{}); err != nil {
		t.Errorf("differing durations should not mismatch: %v", err)
	}
}

func TestAutoDetect(t *testing.T) {
	p := flowShop(4)
	for i := range p.Jobs {
		p.Jobs[i].PatternID = ""
	}
	p.Jobs[3].Tasks[0].Modes[0].Duration = 9

	arena, err := Detect(p, DetectOptions{})
	if err != nil || len(arena.Groups) != 0 {
		t.Fatalf("expected no groups without auto-detect, got %v %v", arena, err)
	}
	arena, err = Detect(p, DetectOptions{AutoDetect: true})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(arena.Groups) != 1 || len(arena.Groups[0].Jobs) != 3 {
		t.Fatalf("expected the three identical jobs grouped, got %+v", arena.Groups)
	}
	if Signature(p, 0) != Signature(p, 1) || Signature(p, 0) == Signature(p, 3) {
		t.Error("signatures disagree with job structure")
	}
}

func solveMakespan(t *testing.T, p *models.Problem, shared bool) (int64, Stats) {
	t.Helper()
	cp := cpsat.NewBuilder()
	vars, err := variables.Build(cp, p, variables.DefaultOptions())
	if err != nil {
		t.Fatalf("variables.Build failed: %v", err)
	}
	b := constraints.New(cp, p, vars, constraints.Options{ClosureLimit: constraints.DefaultClosureLimit})
	var st Stats
	if shared {
		arena, err := Detect(p, DetectOptions{})
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		st = Apply(cp, b, p, vars, arena, Options{ClosureLimit: constraints.DefaultClosureLimit, Symmetry: true})
	}
	if err := b.Apply(constraints.All); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := b.Objective(models.ObjectiveMakespan); err != nil {
		t.Fatalf("Objective failed: %v", err)
	}
	m, err := cp.Model()
	if err != nil {
		t.Fatalf("Model failed: %v", err)
	}
	resp, err := cpsat.Solve(context.Background(), m, cpsat.Parameters{NumWorkers: 1})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if resp.Status != cpsat.Optimal {
		t.Fatalf("expected OPTIMAL, got %v", resp.Status)
	}
	return resp.ObjectiveValue, st
}

func TestSharedPatternKeepsOptimum(t *testing.T) {
	p := flowShop(4)
	p.Jobs[3].Tasks[1].Modes[0].Duration = 4

	plain, _ := solveMakespan(t, p, false)
	shared, st := solveMakespan(t, p, true)
	if plain != shared {
		t.Errorf("pattern sharing changed the optimum: %d vs %d", plain, shared)
	}
	if st.Patterns != 1 || st.Instances != 4 {
		t.Errorf("unexpected stats %+v", st)
	}
	// J4 differs, so only J1 <= J2 <= J3 are ordered.
	if st.SymmetryCuts != 2 {
		t.Errorf("expected 2 symmetry cuts, got %d", st.SymmetryCuts)
	}
	if st.SharedEdges != 4*3 {
		t.Errorf("expected 3 edges per instance, got %d", st.SharedEdges)
	}
}

func TestSymmetryCutsOrderInstances(t *testing.T) {
	p := flowShop(3)
	cp := cpsat.NewBuilder()
	vars, err := variables.Build(cp, p, variables.DefaultOptions())
	if err != nil {
		t.Fatalf("variables.Build failed: %v", err)
	}
	b := constraints.New(cp, p, vars, constraints.Options{})
	arena, _ := Detect(p, DetectOptions{})
	Apply(cp, b, p, vars, arena, Options{Symmetry: true})
	if err := b.Apply(constraints.All); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := b.Objective(models.ObjectiveMakespan); err != nil {
		t.Fatalf("Objective failed: %v", err)
	}
	m, _ := cp.Model()
	resp, err := cpsat.Solve(context.Background(), m, cpsat.Parameters{NumWorkers: 1})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	prev := int64(-1)
	for j := range p.Jobs {
		s := cpsat.SolutionIntegerValue(resp, vars.Task(j, 0).Start)
		if s < prev {
			t.Errorf("instance %d starts at %d before its predecessor at %d", j, s, prev)
		}
		prev = s
	}
}
