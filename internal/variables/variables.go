// Package variables derives the decision variables of a scheduling problem.
package variables

import (
	"fmt"
	"math"

	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/models"
)

// DefaultHorizonBuffer is the slack added on top of the summed task durations.
const DefaultHorizonBuffer = 0.20

// Options control variable construction.
type Options struct {
	// HorizonBuffer is a fraction (0.2 = 20%) added to the computed horizon.
	HorizonBuffer float64 `yaml:"horizon_buffer"`
	// Horizon overrides the computed horizon when > 0.
	Horizon int64 `yaml:"horizon"`
}

// DefaultOptions returns the default variable options.
func DefaultOptions() Options {
	return Options{HorizonBuffer: DefaultHorizonBuffer}
}

// ModeVars are the variables of one (task, mode) pair.
type ModeVars struct {
	Mode     int
	Machine  int
	Duration int64
	Demand   int64
	Selected cpsat.BoolVar
	// Interval is present iff Selected and shares the task's start.
	Interval cpsat.IntervalVar
}

// TaskVars are the variables of one task.
type TaskVars struct {
	Ref      models.TaskRef
	ID       string
	Type     string
	Start    cpsat.IntVar
	End      cpsat.IntVar
	Duration cpsat.IntVar
	Interval cpsat.IntervalVar
	Modes    []ModeVars
}

// Set holds every decision variable of a model, indexed like Problem.TaskRefs.
type Set struct {
	Horizon  int64
	Tasks    []TaskVars
	Makespan cpsat.IntVar

	byID      map[string]int
	jobOffset []int
}

// Task returns the variables of task t in job j.
func (s *Set) Task(j, t int) *TaskVars {
	return &s.Tasks[s.jobOffset[j]+t]
}

// ByID looks a task up by id.
func (s *Set) ByID(id string) (*TaskVars, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.Tasks[i], true
}

// Index returns the flat index of task t in job j.
func (s *Set) Index(j, t int) int {
	return s.jobOffset[j] + t
}

// Horizon returns an upper bound on any start or end: the summed longest mode durations
// plus the longest outgoing setup of each task, inflated by buffer and rounded up, plus the
// last window end when any machine has windows.
func Horizon(p *models.Problem, buffer float64) int64 {
	setups := p.Setups()
	var sum int64
	for _, job := range p.Jobs {
		for _, t := range job.Tasks {
			var setup int64
			for _, m := range t.Modes {
				setup = max(setup, setups.MaxFrom(m.Machine, t.Type))
			}
			sum += t.MaxDuration() + setup
		}
	}
	if buffer < 0 {
		buffer = 0
	}
	h := int64(math.Ceil(float64(sum) * (1 + buffer)))

	var lastWindow int64
	for _, m := range p.Machines {
		if n := len(m.Windows); n > 0 {
			lastWindow = max(lastWindow, m.Windows[n-1].End)
		}
	}
	return h + lastWindow
}

// Build creates the start/end/duration/interval variables of every task, a selection
// literal and optional interval per mode, and the makespan variable.
func Build(cp *cpsat.Builder, p *models.Problem, opts Options) (*Set, error) {
	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = Horizon(p, opts.HorizonBuffer)
	}
	machines := p.MachineIndex()

	s := &Set{
		Horizon:   horizon,
		Tasks:     make([]TaskVars, 0, p.TaskCount()),
		byID:      make(map[string]int, p.TaskCount()),
		jobOffset: make([]int, len(p.Jobs)),
	}
	for j, job := range p.Jobs {
		s.jobOffset[j] = len(s.Tasks)
		for ti, t := range job.Tasks {
			if len(t.Modes) == 0 {
				return nil, models.NewValidationError(models.ErrNoModes, "task "+t.ID, "in job %s", job.ID)
			}
			minD, maxD := t.MinDuration(), t.MaxDuration()
			tv := TaskVars{
				Ref:      models.TaskRef{Job: j, Task: ti},
				ID:       t.ID,
				Type:     t.Type,
				Start:    cp.NewIntVar(0, horizon).WithName("start_" + t.ID),
				End:      cp.NewIntVar(0, horizon).WithName("end_" + t.ID),
				Duration: cp.NewIntVar(minD, maxD).WithName("dur_" + t.ID),
			}
			tv.Interval = cp.NewIntervalVar(tv.Start, tv.Duration, tv.End).WithName("iv_" + t.ID)

			for mi, m := range t.Modes {
				idx, ok := machines[m.Machine]
				if !ok {
					return nil, models.NewValidationError(models.ErrUnknownMachine, "task "+t.ID, "mode %d uses machine %q", mi, m.Machine)
				}
				sel := cp.NewBoolVar().WithName(fmt.Sprintf("sel_%s_%d", t.ID, mi))
				tv.Modes = append(tv.Modes, ModeVars{
					Mode:     mi,
					Machine:  idx,
					Duration: m.Duration,
					Demand:   int64(m.EffectiveDemand()),
					Selected: sel,
					Interval: cp.NewOptionalFixedSizeIntervalVar(tv.Start, m.Duration, sel).
						WithName(fmt.Sprintf("iv_%s_%d", t.ID, mi)),
				})
			}
			s.byID[t.ID] = len(s.Tasks)
			s.Tasks = append(s.Tasks, tv)
		}
	}
	s.Makespan = cp.NewIntVar(0, horizon).WithName("makespan")
	return s, nil
}
