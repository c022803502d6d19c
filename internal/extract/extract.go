// Package extract reads solved variable values back into a Solution.
package extract

import (
	"math"

	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/variables"
)

// Solution materialises the assignment held by resp. It returns nil when status carries
// no solution.
func Solution(p *models.Problem, vars *variables.Set, resp *cpsat.Response, status models.Status) *models.Solution {
	if !status.HasSolution() || resp == nil || !resp.HasSolution() {
		return nil
	}
	sol := &models.Solution{
		Problem:          p.Name,
		Status:           status,
		Objective:        resp.ObjectiveValue,
		BestBound:        resp.BestObjectiveBound,
		OptimalityProven: status == models.StatusOptimal,
		Assignments:      make([]models.Assignment, 0, len(vars.Tasks)),
	}
	for i := range vars.Tasks {
		tv := &vars.Tasks[i]
		a := models.Assignment{
			TaskID: tv.ID,
			JobID:  p.Jobs[tv.Ref.Job].ID,
			Mode:   -1,
			Start:  cpsat.SolutionIntegerValue(resp, tv.Start),
			End:    cpsat.SolutionIntegerValue(resp, tv.End),
		}
		for _, m := range tv.Modes {
			if cpsat.SolutionBooleanValue(resp, m.Selected) {
				a.Mode = m.Mode
				a.Machine = p.Machines[m.Machine].ID
				break
			}
		}
		sol.Assignments = append(sol.Assignments, a)
	}
	sol.Makespan = Makespan(sol)
	sol.WeightedTardiness = WeightedTardiness(p, sol)
	if !sol.OptimalityProven {
		sol.Gap = Gap(sol.Objective, sol.BestBound)
	}
	return sol
}

// Makespan returns the latest end over all assignments.
func Makespan(s *models.Solution) int64 {
	var end int64
	for _, a := range s.Assignments {
		end = max(end, a.End)
	}
	return end
}

// WeightedTardiness returns Σ weight·max(0, completion − due) over jobs with a due date.
func WeightedTardiness(p *models.Problem, s *models.Solution) int64 {
	completion := make(map[string]int64, len(p.Jobs))
	for _, a := range s.Assignments {
		completion[a.JobID] = max(completion[a.JobID], a.End)
	}
	var total int64
	for _, job := range p.Jobs {
		if job.DueDate == nil {
			continue
		}
		if late := completion[job.ID] - *job.DueDate; late > 0 {
			total += job.EffectiveWeight() * late
		}
	}
	return total
}

// Gap returns the relative distance between an objective value and its lower bound.
func Gap(objective, bound int64) float64 {
	if objective <= bound {
		return 0
	}
	return float64(objective-bound) / math.Max(1, math.Abs(float64(objective)))
}
