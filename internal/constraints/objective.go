package constraints

import (
	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/models"
)

// AddMakespan bounds the makespan variable below by every task end.
func (b *Builder) AddMakespan() {
	for i := range b.vars.Tasks {
		b.cp.AddGreaterOrEqual(b.vars.Makespan, b.vars.Tasks[i].End)
	}
}

// Tardiness adds one tardiness variable per job with a due date, bounded below by how late
// each of its final tasks ends, and returns Σ weight·tardiness.
func (b *Builder) Tardiness() *cpsat.LinearExpr {
	total := cpsat.NewLinearExpr()
	for j, job := range b.p.Jobs {
		if job.DueDate == nil || len(job.Tasks) == 0 {
			continue
		}
		due := *job.DueDate
		late := b.cp.NewIntVar(0, max(b.vars.Horizon-due, 0)).WithName("tardy_" + job.ID)
		for _, t := range sinks(len(job.Tasks), b.p.JobEdges(j)) {
			b.cp.AddGreaterOrEqual(late, cpsat.NewLinearExpr().Add(b.vars.Task(j, t).End).AddConstant(-due))
		}
		total.AddTerm(late, job.EffectiveWeight())
	}
	return total
}

// Objective adds the makespan bound and minimises obj.
func (b *Builder) Objective(obj models.Objective) error {
	b.AddMakespan()
	switch obj {
	case models.ObjectiveMakespan, "":
		b.cp.Minimize(b.vars.Makespan)
	case models.ObjectiveWeightedTardiness:
		b.cp.Minimize(b.Tardiness())
	case models.ObjectiveLexicographic:
		b.cp.Minimize(cpsat.NewLinearExpr().
			AddTerm(b.Tardiness(), b.vars.Horizon+1).
			Add(b.vars.Makespan))
	default:
		return models.NewValidationError(models.ErrInvalidValue, "objective", "unknown objective %q", obj)
	}
	return nil
}

// LexicographicParts splits a lexicographic objective value into tardiness and makespan.
func LexicographicParts(value, horizon int64) (tardiness, makespan int64) {
	return value / (horizon + 1), value % (horizon + 1)
}

// sinks returns the tasks without successors.
func sinks(n int, edges [][2]int) []int {
	hasSucc := make([]bool, n)
	for _, e := range edges {
		hasSucc[e[0]] = true
	}
	var out []int
	for i := 0; i < n; i++ {
		if !hasSucc[i] {
			out = append(out, i)
		}
	}
	return out
}
