package cpsat

import (
	"fmt"
	"math"
)

// Model is an immutable, compiled constraint model ready for Solve. It is safe to solve
// the same Model from several goroutines.
type Model struct {
	lb, ub    []int64
	names     []string
	linears   []linearProp
	resources []resourceProp
	intervals []intervalDef

	objective *linearProp
	objOffset int64

	hint       []int64
	hinted     []bool
	hintCount  int
	strategies []DecisionStrategy

	// watch maps a variable to the propagators that read it. Propagator ids are laid out
	// as linears, then resources, then the objective.
	watch [][]int32
}

type linearProp struct {
	vars    []VarIndex
	coeffs  []int64
	lb, ub  int64
	enforce []VarIndex
}

type resourceProp struct {
	intervals []ConstrIndex
	demands   []int64
	capacity  int64
	unary     bool

	// Set on a no-overlap with setup times. reach[a][b] is the least total setup on any
	// chain of neighbours from type a to type b.
	types []int
	setup [][]int64
	reach [][]int64
}

// NumVariables returns the number of variables in the model.
func (m *Model) NumVariables() int { return len(m.lb) }

// NumConstraints returns the number of constraints in the model, including the duration
// link of each interval.
func (m *Model) NumConstraints() int { return len(m.linears) + len(m.resources) }

// HasObjective reports whether the model minimises something.
func (m *Model) HasObjective() bool { return m.objective != nil }

func (m *Model) numProps() int {
	n := len(m.linears) + len(m.resources)
	if m.objective != nil {
		n++
	}
	return n
}

func (m *Model) objectiveID() int32 { return int32(len(m.linears) + len(m.resources)) }

func shiftBound(b, off int64) int64 {
	if b == math.MinInt64 || b == math.MaxInt64 {
		return b
	}
	return b - off
}

func compileLinear(e *LinearExpr, lb, ub int64, enforcement []VarIndex) linearProp {
	terms, off := e.normalize()
	lp := linearProp{lb: shiftBound(lb, off), ub: shiftBound(ub, off)}
	for _, t := range terms {
		lp.vars = append(lp.vars, t.v)
		lp.coeffs = append(lp.coeffs, t.k)
	}
	seen := make(map[VarIndex]bool, len(enforcement))
	for _, l := range enforcement {
		if !seen[l] {
			seen[l] = true
			lp.enforce = append(lp.enforce, l)
		}
	}
	return lp
}

func compile(cp *Builder) (*Model, error) {
	m := &Model{
		lb:        make([]int64, len(cp.vars)),
		ub:        make([]int64, len(cp.vars)),
		names:     make([]string, len(cp.vars)),
		intervals: cp.intervals,
	}
	for i, v := range cp.vars {
		m.lb[i], m.ub[i], m.names[i] = v.lo, v.hi, v.name
	}

	for i, ct := range cp.constraints {
		switch ct.kind {
		case kindLinear:
			m.linears = append(m.linears, compileLinear(ct.expr, ct.lo, ct.hi, ct.enforce))
		case kindNoOverlap, kindCumulative:
			for _, iv := range ct.intervals {
				if iv < 0 || int(iv) >= len(cp.intervals) {
					return nil, fmt.Errorf("constraint %d: unknown interval %d", i, iv)
				}
			}
			rp := resourceProp{
				intervals: ct.intervals,
				demands:   ct.demands,
				capacity:  ct.capacity,
				unary:     ct.kind == kindNoOverlap || ct.capacity == 1,
			}
			if ct.setup != nil && hasSetup(ct.setup) {
				rp.types, rp.setup, rp.reach = ct.types, ct.setup, shortestChains(ct.setup)
			}
			m.resources = append(m.resources, rp)
		}
	}

	if cp.objective != nil {
		obj := compileLinear(cp.objective, math.MinInt64, math.MaxInt64, nil)
		_, m.objOffset = cp.objective.normalize()
		m.objective = &obj
	}

	m.hint = make([]int64, len(cp.vars))
	m.hinted = make([]bool, len(cp.vars))
	if h := cp.hint; h != nil {
		for iv, val := range h.Ints {
			if iv.owner != cp {
				return nil, ErrMixedModels
			}
			m.hint[iv.idx], m.hinted[iv.idx] = val, true
		}
		for bv, val := range h.Bools {
			if bv.owner != cp {
				return nil, ErrMixedModels
			}
			if bv.idx < 0 {
				val = !val
			}
			idx := bv.idx.base()
			m.hint[idx], m.hinted[idx] = 0, true
			if val {
				m.hint[idx] = 1
			}
		}
		for _, ok := range m.hinted {
			if ok {
				m.hintCount++
			}
		}
	}
	m.strategies = cp.strategies

	m.watch = make([][]int32, len(cp.vars))
	add := func(v VarIndex, id int32) {
		v = v.base()
		w := m.watch[v]
		if len(w) > 0 && w[len(w)-1] == id {
			return
		}
		m.watch[v] = append(w, id)
	}
	for i, lp := range m.linears {
		for _, v := range lp.vars {
			add(v, int32(i))
		}
		for _, l := range lp.enforce {
			add(l, int32(i))
		}
	}
	base := len(m.linears)
	for i, rp := range m.resources {
		id := int32(base + i)
		for _, ci := range rp.intervals {
			iv := m.intervals[ci]
			for _, a := range []affine{iv.start, iv.size, iv.end} {
				if a.v >= 0 {
					add(a.v, id)
				}
			}
			if iv.optional {
				add(iv.presence, id)
			}
		}
	}
	if m.objective != nil {
		for _, v := range m.objective.vars {
			add(v, m.objectiveID())
		}
	}
	return m, nil
}

func hasSetup(setup [][]int64) bool {
	for _, row := range setup {
		for _, d := range row {
			if d > 0 {
				return true
			}
		}
	}
	return false
}

// shortestChains closes the setup matrix under composition: the result holds, for every
// pair of types, the cheapest sum of setups over one or more consecutive changeovers.
func shortestChains(setup [][]int64) [][]int64 {
	n := len(setup)
	reach := make([][]int64, n)
	for i := range setup {
		reach[i] = append([]int64(nil), setup[i]...)
	}
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if d := reach[i][k] + reach[k][j]; d < reach[i][j] {
					reach[i][j] = d
				}
			}
		}
	}
	return reach
}
