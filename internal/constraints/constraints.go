// Package constraints adds the constraint families of a scheduling model. Each family is
// an independent method on Builder; Apply adds the families of an explicit enabled set.
package constraints

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/logging"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/variables"
)

// Family is a set of constraint families.
type Family uint

const (
	Duration Family = 1 << iota
	ExactlyOneMode
	Precedence
	Capacity
	SetupTimes
	Availability

	// All enables every family.
	All = Duration | ExactlyOneMode | Precedence | Capacity | SetupTimes | Availability
)

var familyNames = []struct {
	f    Family
	name string
}{
	{Duration, "duration"},
	{ExactlyOneMode, "exactly_one_mode"},
	{Precedence, "precedence"},
	{Capacity, "capacity"},
	{SetupTimes, "setup_times"},
	{Availability, "availability"},
}

// Has reports whether every family in x is enabled.
func (f Family) Has(x Family) bool { return f&x == x }

func (f Family) String() string {
	var parts []string
	for _, fn := range familyNames {
		if f.Has(fn.f) {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// ParseFamilies turns family names into a set. "all" enables every family.
func ParseFamilies(names []string) (Family, error) {
	var f Family
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		if n == "" {
			continue
		}
		if n == "all" {
			f |= All
			continue
		}
		found := false
		for _, fn := range familyNames {
			if fn.name == n {
				f |= fn.f
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown constraint family %q", n)
		}
	}
	return f, nil
}

// DefaultClosureLimit is the largest job for which redundant transitive precedences are added.
const DefaultClosureLimit = 32

// Options configure a Builder.
type Options struct {
	ClosureLimit int
	Logger       *slog.Logger
}

// Stats counts what the builder added.
type Stats struct {
	Precedences    int
	ClosureEdges   int
	Resources      int
	SetupMachines  int
	WindowLiterals int
	ExcludedModes  int
	// Warnings describe input the model could not honour.
	Warnings []string
}

// Builder adds constraints over a variable set. It never touches state outside the model.
type Builder struct {
	cp     *cpsat.Builder
	p      *models.Problem
	vars   *variables.Set
	opts   Options
	log    *slog.Logger
	shared map[int]bool
	stats  Stats
}

// New returns a Builder for one model.
func New(cp *cpsat.Builder, p *models.Problem, vars *variables.Set, opts Options) *Builder {
	if opts.ClosureLimit < 0 {
		opts.ClosureLimit = 0
	}
	log := opts.Logger
	if log == nil {
		log = logging.Logger()
	}
	return &Builder{cp: cp, p: p, vars: vars, opts: opts, log: log, shared: map[int]bool{}}
}

// Stats returns counters of the constraints added so far.
func (b *Builder) Stats() Stats { return b.stats }

// SkipPrecedence excludes jobs whose precedences are added elsewhere, e.g. by the pattern
// optimizer.
func (b *Builder) SkipPrecedence(jobs ...int) {
	for _, j := range jobs {
		b.shared[j] = true
	}
}

// Apply adds every enabled family.
func (b *Builder) Apply(enabled Family) error {
	if enabled.Has(Duration) {
		b.AddDuration()
	}
	if enabled.Has(ExactlyOneMode) {
		b.AddExactlyOneMode()
	}
	if enabled.Has(Precedence) {
		b.AddPrecedence()
	}
	if enabled.Has(Capacity) {
		b.AddCapacity()
	}
	if enabled.Has(SetupTimes) {
		b.AddSetupTimes()
	}
	if enabled.Has(Availability) {
		if err := b.AddAvailability(); err != nil {
			return err
		}
	}
	return nil
}

// AddDuration links each task's duration to its selected mode: duration = Σ d_m·sel_m,
// and end = start + d_m whenever mode m is selected.
func (b *Builder) AddDuration() {
	for i := range b.vars.Tasks {
		tv := &b.vars.Tasks[i]
		sum := cpsat.NewLinearExpr()
		for _, m := range tv.Modes {
			sum.AddTerm(m.Selected, m.Duration)
			b.cp.AddEquality(tv.End, cpsat.NewLinearExpr().Add(tv.Start).AddConstant(m.Duration)).
				OnlyEnforceIf(m.Selected)
		}
		b.cp.AddEquality(tv.Duration, sum)
	}
}

// AddExactlyOneMode selects exactly one mode per task.
func (b *Builder) AddExactlyOneMode() {
	for i := range b.vars.Tasks {
		tv := &b.vars.Tasks[i]
		lits := make([]cpsat.BoolVar, len(tv.Modes))
		for k, m := range tv.Modes {
			lits[k] = m.Selected
		}
		b.cp.AddExactlyOne(lits...)
	}
}

// AddPrecedence adds end(A) <= start(B) for every edge of every job not handled by a
// pattern, plus transitive lags for jobs within the closure limit.
func (b *Builder) AddPrecedence() {
	for j, job := range b.p.Jobs {
		if b.shared[j] {
			continue
		}
		edges := b.p.JobEdges(j)
		for _, e := range edges {
			b.Edge(b.vars.Task(j, e[0]), b.vars.Task(j, e[1]), 0)
			b.stats.Precedences++
		}
		if len(job.Tasks) > b.opts.ClosureLimit {
			continue
		}
		minDur := make([]int64, len(job.Tasks))
		for t := range job.Tasks {
			minDur[t] = job.Tasks[t].MinDuration()
		}
		for _, l := range TransitiveLags(len(job.Tasks), edges, minDur) {
			b.Edge(b.vars.Task(j, l.From), b.vars.Task(j, l.To), l.Gap)
			b.stats.ClosureEdges++
		}
	}
}

// Edge adds start(to) >= end(from) + gap.
func (b *Builder) Edge(from, to *variables.TaskVars, gap int64) {
	b.cp.AddGreaterOrEqual(to.Start, cpsat.NewLinearExpr().Add(from.End).AddConstant(gap))
}

// Lag is a redundant precedence start(To) >= end(From) + Gap implied by a chain of edges.
type Lag struct {
	From, To int
	Gap      int64
}

// TransitiveLags returns, for every pair connected by a path of two or more edges, the
// longest sum of minimum durations strictly between them. Pairs joined only by a direct
// edge with no longer path are omitted. The graph must be acyclic.
func TransitiveLags(n int, edges [][2]int, minDur []int64) []Lag {
	order, err := models.TopologicalOrder(n, edges)
	if err != nil {
		return nil
	}
	succ := make([][]int, n)
	direct := make(map[[2]int]bool, len(edges))
	for _, e := range edges {
		succ[e[0]] = append(succ[e[0]], e[1])
		direct[e] = true
	}
	pos := make([]int, n)
	for i, v := range order {
		pos[v] = i
	}

	var lags []Lag
	dist := make([]int64, n)
	for _, src := range order {
		for i := range dist {
			dist[i] = -1
		}
		for _, s := range succ[src] {
			dist[s] = 0
		}
		for _, v := range order[pos[src]+1:] {
			if dist[v] < 0 {
				continue
			}
			for _, w := range succ[v] {
				if d := dist[v] + minDur[v]; d > dist[w] {
					dist[w] = d
				}
			}
		}
		for v := 0; v < n; v++ {
			if dist[v] < 0 || v == src {
				continue
			}
			if direct[[2]int{src, v}] && dist[v] == 0 {
				continue
			}
			lags = append(lags, Lag{From: src, To: v, Gap: dist[v]})
		}
	}
	sort.Slice(lags, func(i, k int) bool {
		if lags[i].From != lags[k].From {
			return lags[i].From < lags[k].From
		}
		return lags[i].To < lags[k].To
	})
	return lags
}
