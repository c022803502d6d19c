// Package patterns detects jobs that share one task/precedence structure and adds their
// precedences once per pattern, expanded through per-instance bindings, together with
// symmetry-breaking cuts between interchangeable instances.
package patterns

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fentz26/jobshop/internal/constraints"
	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/variables"
)

// Skeleton is the shared structure of a pattern: local tasks, their precedence edges and
// the transitive lags implied by the shortest duration of each local task over all
// instances.
type Skeleton struct {
	ID    string
	Tasks int
	Edges [][2]int
	Lags  []constraints.Lag
	// First is the local task whose start orders interchangeable instances.
	First int
}

// Group binds a skeleton to its instances.
type Group struct {
	Skeleton int
	// Jobs lists the instance jobs in problem order.
	Jobs []int
	// Bindings maps, per instance, local task index to flat task index.
	Bindings [][]int
}

// Arena holds every detected skeleton and group.
type Arena struct {
	Skeletons []Skeleton
	Groups    []Group
}

// Jobs returns every job covered by a group.
func (a *Arena) Jobs() []int {
	var out []int
	for _, g := range a.Groups {
		out = append(out, g.Jobs...)
	}
	sort.Ints(out)
	return out
}

// Instances returns the number of jobs covered by the arena.
func (a *Arena) Instances() int {
	n := 0
	for _, g := range a.Groups {
		n += len(g.Jobs)
	}
	return n
}

// DetectOptions control detection.
type DetectOptions struct {
	// AutoDetect groups jobs without a pattern id by structural signature.
	AutoDetect bool
}

// Detect groups jobs by pattern id, and by signature when AutoDetect is set. Groups of one
// job are dropped. A job whose structure differs from the rest of its pattern is a
// validation error.
func Detect(p *models.Problem, opts DetectOptions) (*Arena, error) {
	type bucket struct {
		id   string
		jobs []int
	}
	var buckets []*bucket
	byKey := map[string]*bucket{}
	add := func(key, id string, j int) {
		b, ok := byKey[key]
		if !ok {
			b = &bucket{id: id}
			byKey[key] = b
			buckets = append(buckets, b)
		}
		b.jobs = append(b.jobs, j)
	}
	for j, job := range p.Jobs {
		switch {
		case job.PatternID != "":
			add("id:"+job.PatternID, job.PatternID, j)
		case opts.AutoDetect && len(job.Tasks) > 0:
			sig := Signature(p, j)
			add("sig:"+sig, fmt.Sprintf("auto-%d", len(buckets)), j)
		}
	}

	offsets := make([]int, len(p.Jobs))
	n := 0
	for j, job := range p.Jobs {
		offsets[j] = n
		n += len(job.Tasks)
	}

	arena := &Arena{}
	for _, b := range buckets {
		if len(b.jobs) < 2 {
			continue
		}
		first := b.jobs[0]
		tasks := len(p.Jobs[first].Tasks)
		edges := sortedEdges(p.JobEdges(first))
		for _, j := range b.jobs[1:] {
			if len(p.Jobs[j].Tasks) != tasks {
				return nil, models.NewValidationError(models.ErrPatternMismatch, "job "+p.Jobs[j].ID,
					"pattern %s has %d tasks, job has %d", b.id, tasks, len(p.Jobs[j].Tasks))
			}
			if !equalEdges(edges, sortedEdges(p.JobEdges(j))) {
				return nil, models.NewValidationError(models.ErrPatternMismatch, "job "+p.Jobs[j].ID,
					"precedences differ from pattern %s", b.id)
			}
			for t, task := range p.Jobs[j].Tasks {
				ref := p.Jobs[first].Tasks[t]
				if task.Type != ref.Type {
					return nil, models.NewValidationError(models.ErrPatternMismatch, "task "+task.ID,
						"type %q differs from %q in pattern %s", task.Type, ref.Type, b.id)
				}
				if task.Position != ref.Position {
					return nil, models.NewValidationError(models.ErrPatternMismatch, "task "+task.ID,
						"position %d differs from %d in pattern %s", task.Position, ref.Position, b.id)
				}
			}
		}

		minDur := make([]int64, tasks)
		for t := range minDur {
			minDur[t] = -1
			for _, j := range b.jobs {
				if d := p.Jobs[j].Tasks[t].MinDuration(); minDur[t] < 0 || d < minDur[t] {
					minDur[t] = d
				}
			}
		}
		sk := Skeleton{
			ID:    b.id,
			Tasks: tasks,
			Edges: edges,
			Lags:  constraints.TransitiveLags(tasks, edges, minDur),
			First: firstTask(tasks, edges),
		}
		g := Group{Skeleton: len(arena.Skeletons), Jobs: b.jobs}
		for _, j := range b.jobs {
			bind := make([]int, tasks)
			for t := range bind {
				bind[t] = offsets[j] + t
			}
			g.Bindings = append(g.Bindings, bind)
		}
		arena.Skeletons = append(arena.Skeletons, sk)
		arena.Groups = append(arena.Groups, g)
	}
	return arena, nil
}

// Signature describes a job's structure: task count, precedence edges, and per task its
// type and modes.
func Signature(p *models.Problem, j int) string {
	var sb strings.Builder
	job := p.Jobs[j]
	fmt.Fprintf(&sb, "%d|", len(job.Tasks))
	for _, e := range sortedEdges(p.JobEdges(j)) {
		fmt.Fprintf(&sb, "%d>%d,", e[0], e[1])
	}
	for _, t := range job.Tasks {
		sb.WriteString("|" + t.Type + ":")
		for _, m := range t.Modes {
			fmt.Fprintf(&sb, "%s/%d/%d;", m.Machine, m.Duration, m.EffectiveDemand())
		}
	}
	return sb.String()
}

// interchangeKey identifies instances that can swap schedules without changing
// feasibility or objective.
func interchangeKey(p *models.Problem, j int) string {
	job := p.Jobs[j]
	due := "none"
	if job.DueDate != nil {
		due = fmt.Sprint(*job.DueDate)
	}
	return fmt.Sprintf("%s|due=%s|w=%d", Signature(p, j), due, job.EffectiveWeight())
}

// Options control Apply.
type Options struct {
	ClosureLimit int
	// Symmetry adds ordering cuts between interchangeable instances.
	Symmetry bool
}

// Stats counts what Apply added.
type Stats struct {
	Patterns     int
	Instances    int
	SharedEdges  int
	SymmetryCuts int
}

// Apply adds the precedences of every grouped job through its bindings and marks those
// jobs as handled on the constraint builder.
func Apply(cp *cpsat.Builder, b *constraints.Builder, p *models.Problem, vars *variables.Set, arena *Arena, opts Options) Stats {
	var st Stats
	for _, g := range arena.Groups {
		sk := arena.Skeletons[g.Skeleton]
		b.SkipPrecedence(g.Jobs...)
		st.Patterns++
		st.Instances += len(g.Jobs)

		withLags := sk.Tasks <= opts.ClosureLimit
		for _, bind := range g.Bindings {
			for _, e := range sk.Edges {
				b.Edge(&vars.Tasks[bind[e[0]]], &vars.Tasks[bind[e[1]]], 0)
				st.SharedEdges++
			}
			if !withLags {
				continue
			}
			for _, l := range sk.Lags {
				b.Edge(&vars.Tasks[bind[l.From]], &vars.Tasks[bind[l.To]], l.Gap)
				st.SharedEdges++
			}
		}

		if !opts.Symmetry || sk.First < 0 {
			continue
		}
		last := map[string]int{}
		for i, j := range g.Jobs {
			key := interchangeKey(p, j)
			if prev, ok := last[key]; ok {
				cp.AddLessOrEqual(vars.Tasks[g.Bindings[prev][sk.First]].Start, vars.Tasks[g.Bindings[i][sk.First]].Start)
				st.SymmetryCuts++
			}
			last[key] = i
		}
	}
	return st
}

// firstTask returns the lowest-indexed task without predecessors, or -1 for an empty job.
func firstTask(n int, edges [][2]int) int {
	hasPred := make([]bool, n)
	for _, e := range edges {
		hasPred[e[1]] = true
	}
	for t := 0; t < n; t++ {
		if !hasPred[t] {
			return t
		}
	}
	return -1
}

func sortedEdges(edges [][2]int) [][2]int {
	out := append([][2]int(nil), edges...)
	sort.Slice(out, func(i, k int) bool {
		if out[i][0] != out[k][0] {
			return out[i][0] < out[k][0]
		}
		return out[i][1] < out[k][1]
	})
	return out
}

func equalEdges(a, b [][2]int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
