// Package models defines the core domain types for jobshop.
package models

import (
	"sort"
	"time"
)

// Objective selects what a solve minimises.
type Objective string

const (
	ObjectiveMakespan          Objective = "makespan"
	ObjectiveWeightedTardiness Objective = "weighted_tardiness"
	// ObjectiveLexicographic minimises weighted tardiness first, then makespan.
	ObjectiveLexicographic Objective = "lexicographic"
)

// Valid reports whether o is a known objective.
func (o Objective) Valid() bool {
	switch o {
	case ObjectiveMakespan, ObjectiveWeightedTardiness, ObjectiveLexicographic:
		return true
	}
	return false
}

// DefaultTimeUnitMinutes is the display granularity when a problem does not set one.
const DefaultTimeUnitMinutes = 15

// Window is a half-open availability interval [Start, End) in time units.
type Window struct {
	Start int64 `json:"start" yaml:"start"`
	End   int64 `json:"end" yaml:"end"`
}

// Len returns the window length.
func (w Window) Len() int64 { return w.End - w.Start }

// Machine is a resource that executes task modes.
type Machine struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Capacity   int    `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Department string `json:"department,omitempty" yaml:"department,omitempty"`
	// Windows lists ordered, disjoint availability intervals. Empty means always available.
	Windows []Window `json:"windows,omitempty" yaml:"windows,omitempty"`
}

// EffectiveCapacity returns the capacity, treating an unset value as 1.
func (m Machine) EffectiveCapacity() int {
	if m.Capacity <= 0 {
		return 1
	}
	return m.Capacity
}

// Mode is one way of executing a task: a machine and a duration.
type Mode struct {
	Machine  string `json:"machine" yaml:"machine"`
	Duration int64  `json:"duration" yaml:"duration"`
	Demand   int    `json:"demand,omitempty" yaml:"demand,omitempty"`
}

// EffectiveDemand returns the demand, treating an unset value as 1.
func (m Mode) EffectiveDemand() int {
	if m.Demand <= 0 {
		return 1
	}
	return m.Demand
}

// Task is a unit of work inside a job.
type Task struct {
	ID       string `json:"id" yaml:"id"`
	Position int    `json:"position" yaml:"position"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Modes    []Mode `json:"modes" yaml:"modes"`
}

// MinDuration returns the shortest mode duration, or 0 without modes.
func (t Task) MinDuration() int64 {
	if len(t.Modes) == 0 {
		return 0
	}
	d := t.Modes[0].Duration
	for _, m := range t.Modes[1:] {
		if m.Duration < d {
			d = m.Duration
		}
	}
	return d
}

// MaxDuration returns the longest mode duration, or 0 without modes.
func (t Task) MaxDuration() int64 {
	var d int64
	for _, m := range t.Modes {
		if m.Duration > d {
			d = m.Duration
		}
	}
	return d
}

// Precedence is a directed edge: Before must end no later than After starts.
type Precedence struct {
	Before string `json:"before" yaml:"before"`
	After  string `json:"after" yaml:"after"`
}

// Job is an ordered collection of tasks.
type Job struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Tasks []Task `json:"tasks" yaml:"tasks"`
	// Precedences lists explicit edges between tasks of this job. When empty, tasks are
	// chained by position.
	Precedences []Precedence `json:"precedences,omitempty" yaml:"precedences,omitempty"`
	DueDate     *int64       `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Weight      *int64       `json:"weight,omitempty" yaml:"weight,omitempty"`
	PatternID   string       `json:"pattern_id,omitempty" yaml:"pattern_id,omitempty"`
}

// EffectiveWeight returns the tardiness weight, defaulting to 1.
func (j Job) EffectiveWeight() int64 {
	if j.Weight == nil {
		return 1
	}
	return *j.Weight
}

// SetupTime is extra machine-busy time between two tasks of different types.
type SetupTime struct {
	Machine  string `json:"machine" yaml:"machine"`
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	Duration int64  `json:"duration" yaml:"duration"`
}

// Problem is the immutable description handed to the engine.
type Problem struct {
	Name            string      `json:"name,omitempty" yaml:"name,omitempty"`
	TimeUnitMinutes int         `json:"time_unit_minutes,omitempty" yaml:"time_unit_minutes,omitempty"`
	Machines        []Machine   `json:"machines" yaml:"machines"`
	Jobs            []Job       `json:"jobs" yaml:"jobs"`
	SetupTimes      []SetupTime `json:"setup_times,omitempty" yaml:"setup_times,omitempty"`
}

// TaskRef locates a task inside a problem.
type TaskRef struct {
	Job  int
	Task int
}

// TaskRefs returns every task in job order.
func (p *Problem) TaskRefs() []TaskRef {
	var refs []TaskRef
	for j := range p.Jobs {
		for t := range p.Jobs[j].Tasks {
			refs = append(refs, TaskRef{Job: j, Task: t})
		}
	}
	return refs
}

// TaskCount returns the number of tasks across all jobs.
func (p *Problem) TaskCount() int {
	n := 0
	for _, j := range p.Jobs {
		n += len(j.Tasks)
	}
	return n
}

// Task returns the task behind ref.
func (p *Problem) Task(ref TaskRef) *Task {
	return &p.Jobs[ref.Job].Tasks[ref.Task]
}

// MachineIndex maps machine ids to their slice index.
func (p *Problem) MachineIndex() map[string]int {
	idx := make(map[string]int, len(p.Machines))
	for i, m := range p.Machines {
		idx[m.ID] = i
	}
	return idx
}

// SetupKey identifies a setup-time entry.
type SetupKey struct {
	Machine string
	From    string
	To      string
}

// SetupTable maps setup keys to durations. Missing entries and equal types mean zero.
type SetupTable map[SetupKey]int64

// Get returns the setup duration between two task types on a machine.
func (t SetupTable) Get(machine, from, to string) int64 {
	if from == to {
		return 0
	}
	return t[SetupKey{Machine: machine, From: from, To: to}]
}

// MaxFrom returns the largest setup leaving type from on machine.
func (t SetupTable) MaxFrom(machine, from string) int64 {
	var best int64
	for k, d := range t {
		if k.Machine == machine && k.From == from && k.To != from && d > best {
			best = d
		}
	}
	return best
}

// Setups indexes the problem's setup times.
func (p *Problem) Setups() SetupTable {
	table := make(SetupTable, len(p.SetupTimes))
	for _, s := range p.SetupTimes {
		table[SetupKey{Machine: s.Machine, From: s.From, To: s.To}] = s.Duration
	}
	return table
}

// JobEdges returns the precedence edges of job j as local task index pairs. Explicit
// precedences win; otherwise tasks are chained by position.
func (p *Problem) JobEdges(j int) [][2]int {
	job := &p.Jobs[j]
	if len(job.Precedences) > 0 {
		local := make(map[string]int, len(job.Tasks))
		for i, t := range job.Tasks {
			local[t.ID] = i
		}
		edges := make([][2]int, 0, len(job.Precedences))
		for _, e := range job.Precedences {
			a, okA := local[e.Before]
			b, okB := local[e.After]
			if okA && okB {
				edges = append(edges, [2]int{a, b})
			}
		}
		return edges
	}

	order := make([]int, len(job.Tasks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return job.Tasks[order[a]].Position < job.Tasks[order[b]].Position
	})

	var edges [][2]int
	// Group tasks by position; every task of a group precedes every task of the next.
	var prev, cur []int
	for i, t := range order {
		if i > 0 && job.Tasks[t].Position != job.Tasks[order[i-1]].Position {
			prev, cur = cur, nil
		}
		cur = append(cur, t)
		for _, a := range prev {
			edges = append(edges, [2]int{a, t})
		}
	}
	return edges
}

// Status is the terminal outcome of a solve call.
type Status string

const (
	StatusOptimal             Status = "OPTIMAL"
	StatusFeasible            Status = "FEASIBLE"
	StatusInfeasible          Status = "INFEASIBLE"
	StatusTimeoutWithSolution Status = "TIMEOUT_WITH_SOLUTION"
	StatusTimeoutNoSolution   Status = "TIMEOUT_NO_SOLUTION"
	StatusModelError          Status = "MODEL_ERROR"
	StatusUnknown             Status = "UNKNOWN"
)

// HasSolution reports whether a status carries a solution payload.
func (s Status) HasSolution() bool {
	switch s {
	case StatusOptimal, StatusFeasible, StatusTimeoutWithSolution:
		return true
	}
	return false
}

// Assignment is the scheduled placement of one task.
type Assignment struct {
	TaskID  string `json:"task_id" yaml:"task_id"`
	JobID   string `json:"job_id" yaml:"job_id"`
	Machine string `json:"machine" yaml:"machine"`
	Mode    int    `json:"mode" yaml:"mode"`
	Start   int64  `json:"start" yaml:"start"`
	End     int64  `json:"end" yaml:"end"`
}

// Solution is the materialised schedule of a solve call.
type Solution struct {
	Problem           string       `json:"problem,omitempty" yaml:"problem,omitempty"`
	Status            Status       `json:"status" yaml:"status"`
	Objective         int64        `json:"objective" yaml:"objective"`
	BestBound         int64        `json:"best_bound" yaml:"best_bound"`
	Gap               float64      `json:"gap" yaml:"gap"`
	OptimalityProven  bool         `json:"optimality_proven" yaml:"optimality_proven"`
	Makespan          int64        `json:"makespan" yaml:"makespan"`
	WeightedTardiness int64        `json:"weighted_tardiness" yaml:"weighted_tardiness"`
	Assignments       []Assignment `json:"assignments" yaml:"assignments"`
}

// Assignment returns the assignment of a task id, if present.
func (s *Solution) Assignment(taskID string) (Assignment, bool) {
	for _, a := range s.Assignments {
		if a.TaskID == taskID {
			return a, true
		}
	}
	return Assignment{}, false
}

// Diagnostics carries solver-side facts about a solve call.
type Diagnostics struct {
	Cause              string        `json:"cause,omitempty"`
	Horizon            int64         `json:"horizon"`
	Variables          int           `json:"variables"`
	Constraints        int           `json:"constraints"`
	Patterns           int           `json:"patterns"`
	SymmetryCuts       int           `json:"symmetry_cuts"`
	Workers            int           `json:"workers"`
	LinearizationLevel int           `json:"linearization_level"`
	Branches           int64         `json:"branches"`
	Conflicts          int64         `json:"conflicts"`
	Solutions          int           `json:"solutions"`
	HintUsed           bool          `json:"hint_used"`
	HintAbandoned      bool          `json:"hint_abandoned"`
	// FirstObjective is the objective of the first solution found. With a hint it tells
	// how good the repaired prior schedule was.
	FirstObjective    int64         `json:"first_objective,omitempty"`
	FirstSolutionTime time.Duration `json:"first_solution_ns,omitempty"`
	Improvements      []Improvement `json:"improvements,omitempty"`
	WallTime          time.Duration `json:"wall_time_ns"`
	// Warnings list parts of the input the model could not honour.
	Warnings []string `json:"warnings,omitempty"`
}

// Improvement is a new best objective and when the search found it.
type Improvement struct {
	Objective int64         `json:"objective"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Result is what a solve call returns: a status, an optional solution and diagnostics.
type Result struct {
	Status      Status      `json:"status"`
	Solution    *Solution   `json:"solution,omitempty"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// RunStatus represents the state of a journaled solve run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusClaimed   RunStatus = "claimed"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunParams are the per-run solve settings recorded in the journal.
type RunParams struct {
	Objective   Objective `json:"objective,omitempty"`
	TimeLimitMs int64     `json:"time_limit_ms,omitempty"`
	Workers     int       `json:"workers,omitempty"`
	Fixed       bool      `json:"fixed,omitempty"`
	Warm        bool      `json:"warm,omitempty"`
}

// ProblemRecord is a stored problem.
type ProblemRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	Problem     *Problem  `json:"problem"`
	CreatedAt   time.Time `json:"created_at"`
}

// Run is a journaled solve attempt.
type Run struct {
	ID        string     `json:"id"`
	ProblemID string     `json:"problem_id"`
	Status    RunStatus  `json:"status"`
	Params    RunParams  `json:"params"`
	Result    *Result    `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	RunID      string    `json:"run_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
