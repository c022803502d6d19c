package models

import (
	"errors"
	"fmt"
)

// Validate re-checks the structural invariants the engine relies on: unique ids, defined
// machines, at least one mode per task, well-formed windows and acyclic precedences.
// Referential integrity is the loader's job, but it is cheap to re-check here.
func (p *Problem) Validate() error {
	if p == nil {
		return invalid(ErrInvalidValue, "problem", "problem is nil")
	}
	if p.TimeUnitMinutes < 0 {
		return invalid(ErrInvalidValue, "problem", "time_unit_minutes must be >= 0 (got %d)", p.TimeUnitMinutes)
	}

	machines := make(map[string]Machine, len(p.Machines))
	for _, m := range p.Machines {
		subject := "machine " + m.ID
		if m.ID == "" {
			return invalid(ErrInvalidValue, "machine", "machine id is empty")
		}
		if _, dup := machines[m.ID]; dup {
			return invalid(ErrDuplicateID, subject, "defined twice")
		}
		if m.Capacity < 0 {
			return invalid(ErrInvalidValue, subject, "capacity must be >= 1 (got %d)", m.Capacity)
		}
		for i, w := range m.Windows {
			if w.Start < 0 || w.End <= w.Start {
				return invalid(ErrInvalidWindow, subject, "window %d [%d,%d) is empty or negative", i, w.Start, w.End)
			}
			if i > 0 && w.Start < m.Windows[i-1].End {
				return invalid(ErrInvalidWindow, subject, "window %d overlaps or precedes window %d", i, i-1)
			}
		}
		machines[m.ID] = m
	}

	jobIDs := make(map[string]bool, len(p.Jobs))
	taskIDs := make(map[string]bool)
	for j, job := range p.Jobs {
		subject := "job " + job.ID
		if job.ID == "" {
			return invalid(ErrInvalidValue, fmt.Sprintf("job #%d", j), "job id is empty")
		}
		if jobIDs[job.ID] {
			return invalid(ErrDuplicateID, subject, "defined twice")
		}
		jobIDs[job.ID] = true
		if job.DueDate != nil && *job.DueDate < 0 {
			return invalid(ErrInvalidValue, subject, "due date must be >= 0 (got %d)", *job.DueDate)
		}
		if job.Weight != nil && *job.Weight < 0 {
			return invalid(ErrInvalidValue, subject, "weight must be >= 0 (got %d)", *job.Weight)
		}

		local := make(map[string]bool, len(job.Tasks))
		for _, t := range job.Tasks {
			if err := validateTask(t, machines); err != nil {
				return err
			}
			if taskIDs[t.ID] {
				return invalid(ErrDuplicateID, "task "+t.ID, "task ids must be unique across jobs")
			}
			taskIDs[t.ID] = true
			local[t.ID] = true
		}
		for _, e := range job.Precedences {
			if !local[e.Before] || !local[e.After] {
				return invalid(ErrInvalidValue, subject, "precedence %s->%s references a task outside the job", e.Before, e.After)
			}
			if e.Before == e.After {
				return invalid(ErrCyclicPrecedence, subject, "self-loop on task %s", e.Before)
			}
		}
		if _, err := TopologicalOrder(len(job.Tasks), p.JobEdges(j)); err != nil {
			var cycle *CycleError
			if errors.As(err, &cycle) {
				return invalid(ErrCyclicPrecedence, "task "+job.Tasks[cycle.Node].ID, "in job %s", job.ID)
			}
			return invalid(ErrCyclicPrecedence, subject, "%v", err)
		}
	}

	seen := make(map[SetupKey]bool, len(p.SetupTimes))
	for _, s := range p.SetupTimes {
		subject := fmt.Sprintf("setup %s:%s->%s", s.Machine, s.From, s.To)
		if _, ok := machines[s.Machine]; !ok {
			return invalid(ErrUnknownMachine, subject, "machine %q", s.Machine)
		}
		if s.Duration < 0 {
			return invalid(ErrInvalidValue, subject, "duration must be >= 0 (got %d)", s.Duration)
		}
		k := SetupKey{Machine: s.Machine, From: s.From, To: s.To}
		if seen[k] {
			return invalid(ErrDuplicateID, subject, "defined twice")
		}
		seen[k] = true
	}
	return nil
}

func validateTask(t Task, machines map[string]Machine) error {
	subject := "task " + t.ID
	if t.ID == "" {
		return invalid(ErrInvalidValue, "task", "task id is empty")
	}
	if len(t.Modes) == 0 {
		return invalid(ErrNoModes, subject, "at least one mode is required")
	}
	for i, m := range t.Modes {
		machine, ok := machines[m.Machine]
		if !ok {
			return invalid(ErrUnknownMachine, subject, "mode %d uses machine %q", i, m.Machine)
		}
		if m.Duration < 0 {
			return invalid(ErrInvalidValue, subject, "mode %d duration must be >= 0 (got %d)", i, m.Duration)
		}
		if m.Demand < 0 || m.EffectiveDemand() > machine.EffectiveCapacity() {
			return invalid(ErrInvalidValue, subject, "mode %d demand %d exceeds capacity %d of machine %s",
				i, m.EffectiveDemand(), machine.EffectiveCapacity(), m.Machine)
		}
	}
	return nil
}

// CycleError names a node that lies on (or behind) a precedence cycle.
type CycleError struct {
	Node int
}

func (e *CycleError) Error() string { return fmt.Sprintf("node %d is on a cycle", e.Node) }

// TopologicalOrder returns the nodes 0..n-1 in an order compatible with edges, or a
// *CycleError.
func TopologicalOrder(n int, edges [][2]int) ([]int, error) {
	indeg := make([]int, n)
	succ := make([][]int, n)
	for _, e := range edges {
		succ[e[0]] = append(succ[e[0]], e[1])
		indeg[e[1]]++
	}
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, n)
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, v)
		for _, w := range succ[v] {
			indeg[w]--
			if indeg[w] == 0 {
				queue = append(queue, w)
			}
		}
	}
	if len(order) != n {
		for i := 0; i < n; i++ {
			if indeg[i] > 0 {
				return nil, &CycleError{Node: i}
			}
		}
	}
	return order, nil
}
