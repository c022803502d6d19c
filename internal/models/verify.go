package models

import (
	"fmt"
	"sort"
)

// Verify checks a solution against the problem it claims to solve: every task assigned
// exactly once to one of its modes, start+duration == end, precedences, machine capacity,
// availability windows and setup times on unary machines. It returns the first violation.
func Verify(p *Problem, s *Solution) error {
	if s == nil {
		return fmt.Errorf("solution is nil")
	}
	byTask := make(map[string]Assignment, len(s.Assignments))
	for _, a := range s.Assignments {
		if _, dup := byTask[a.TaskID]; dup {
			return fmt.Errorf("task %s assigned more than once", a.TaskID)
		}
		byTask[a.TaskID] = a
	}

	machines := p.MachineIndex()
	type use struct {
		start, end int64
		demand     int
		typ        string
	}
	perMachine := make([][]use, len(p.Machines))

	for j, job := range p.Jobs {
		for _, t := range job.Tasks {
			a, ok := byTask[t.ID]
			if !ok {
				return fmt.Errorf("task %s is not scheduled", t.ID)
			}
			if a.Mode < 0 || a.Mode >= len(t.Modes) {
				return fmt.Errorf("task %s: mode %d out of range", t.ID, a.Mode)
			}
			mode := t.Modes[a.Mode]
			if a.Machine != mode.Machine {
				return fmt.Errorf("task %s: machine %s does not match mode %d (%s)", t.ID, a.Machine, a.Mode, mode.Machine)
			}
			if a.Start < 0 || a.Start+mode.Duration != a.End {
				return fmt.Errorf("task %s: [%d,%d) does not match duration %d", t.ID, a.Start, a.End, mode.Duration)
			}
			m := p.Machines[machines[mode.Machine]]
			if len(m.Windows) > 0 && mode.Duration > 0 {
				inside := false
				for _, w := range m.Windows {
					if a.Start >= w.Start && a.End <= w.End {
						inside = true
						break
					}
				}
				if !inside {
					return fmt.Errorf("task %s: [%d,%d) is outside every window of machine %s", t.ID, a.Start, a.End, m.ID)
				}
			}
			if mode.Duration > 0 {
				mi := machines[mode.Machine]
				perMachine[mi] = append(perMachine[mi], use{a.Start, a.End, mode.EffectiveDemand(), t.Type})
			}
		}
		for _, e := range p.JobEdges(j) {
			a := byTask[job.Tasks[e[0]].ID]
			b := byTask[job.Tasks[e[1]].ID]
			if a.End > b.Start {
				return fmt.Errorf("precedence %s->%s violated: end %d > start %d", a.TaskID, b.TaskID, a.End, b.Start)
			}
		}
	}

	setups := p.Setups()
	for mi, uses := range perMachine {
		m := p.Machines[mi]
		capacity := m.EffectiveCapacity()
		// Sweep: +demand at start, -demand at end; ends sort before starts at equal time.
		type event struct {
			at    int64
			delta int
		}
		events := make([]event, 0, 2*len(uses))
		for _, u := range uses {
			events = append(events, event{u.start, u.demand}, event{u.end, -u.demand})
		}
		sort.Slice(events, func(i, k int) bool {
			if events[i].at != events[k].at {
				return events[i].at < events[k].at
			}
			return events[i].delta < events[k].delta
		})
		load := 0
		for _, ev := range events {
			load += ev.delta
			if load > capacity {
				return fmt.Errorf("machine %s over capacity (%d > %d) at t=%d", m.ID, load, capacity, ev.at)
			}
		}

		if capacity == 1 {
			sort.Slice(uses, func(i, k int) bool { return uses[i].start < uses[k].start })
			for i := 1; i < len(uses); i++ {
				need := setups.Get(m.ID, uses[i-1].typ, uses[i].typ)
				if uses[i].start < uses[i-1].end+need {
					return fmt.Errorf("machine %s: setup %d between t=%d and t=%d not respected", m.ID, need, uses[i-1].end, uses[i].start)
				}
			}
		}
	}
	return nil
}
