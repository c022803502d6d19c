package extract

import (
	"context"
	"math"
	"testing"

	"github.com/fentz26/jobshop/internal/constraints"
	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/variables"
)

func TestSolution(t *testing.T) {
	due := int64(2)
	p := &models.Problem{
		Name:     "pair",
		Machines: []models.Machine{{ID: "M1"}, {ID: "M2"}},
		Jobs: []models.Job{
			{ID: "J1", DueDate: &due, Tasks: []models.Task{
				{ID: "A", Position: 1, Modes: []models.Mode{{Machine: "M1", Duration: 3}}},
				{ID: "B", Position: 2, Modes: []models.Mode{{Machine: "M1", Duration: 9}, {Machine: "M2", Duration: 1}}},
			}},
		},
	}
	cp := cpsat.NewBuilder()
	vars, err := variables.Build(cp, p, variables.DefaultOptions())
	if err != nil {
		t.Fatalf("variables.Build failed: %v", err)
	}
	b := constraints.New(cp, p, vars, constraints.Options{})
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
	resp, err := cpsat.Solve(context.Background(), m, cpsat.Parameters{})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	sol := Solution(p, vars, resp, models.StatusOptimal)
	if sol == nil {
		t.Fatal("expected a solution")
	}
	if sol.Problem != "pair" || sol.Makespan != 4 || sol.Objective != 4 || !sol.OptimalityProven || sol.Gap != 0 {
		t.Errorf("unexpected solution header %+v", sol)
	}
	if sol.WeightedTardiness != 2 {
		t.Errorf("expected tardiness 2, got %d", sol.WeightedTardiness)
	}
	bAssign, ok := sol.Assignment("B")
	if !ok || bAssign.Machine != "M2" || bAssign.Mode != 1 || bAssign.Start != 3 || bAssign.End != 4 || bAssign.JobID != "J1" {
		t.Errorf("unexpected assignment %+v", bAssign)
	}
	if err := models.Verify(p, sol); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	if Solution(p, vars, resp, models.StatusInfeasible) != nil {
		t.Error("expected no solution for INFEASIBLE")
	}
	if Solution(p, vars, &cpsat.Response{}, models.StatusFeasible) != nil {
		t.Error("expected no solution from an empty response")
	}
}

func TestGap(t *testing.T) {
	if g := Gap(10, 10); g != 0 {
		t.Errorf("expected 0, got %g", g)
	}
	if g := Gap(10, 8); math.Abs(g-0.2) > 1e-9 {
		t.Errorf("expected 0.2, got %g", g)
	}
	if g := Gap(0, -3); g != 3 {
		t.Errorf("expected objective clamped to 1, got %g", g)
	}
}
