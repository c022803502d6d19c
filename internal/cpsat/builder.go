// Package cpsat is a small constraint-programming kernel for scheduling models.
//
// A Builder collects integer and Boolean variables, linear constraints guarded by
// literals, optional intervals, unary and cumulative resources, sequence-dependent setup
// times, one objective to minimise, a solution hint and branching strategies. Model
// compiles them into propagators and Solve runs a time-bounded, parallel branch-and-bound.
package cpsat

import (
	"errors"
	"fmt"
	"math"
)

// ErrMixedModels is recorded when a variable or interval from one Builder is used in
// another.
var ErrMixedModels = errors.New("cpsat: variable belongs to a different builder")

// ErrNonAffine is recorded when an interval bound is not a single variable plus a constant.
var ErrNonAffine = errors.New("interval expression must be a variable plus a constant")

type (
	// VarIndex identifies a variable. A negative index ^v is the negation of Boolean
	// variable v.
	VarIndex int32
	// ConstrIndex identifies a constraint or an interval.
	ConstrIndex int32
)

// base strips a negation.
func (v VarIndex) base() VarIndex {
	if v < 0 {
		return ^v
	}
	return v
}

// LinearArgument is anything that can appear in a linear expression.
type LinearArgument interface {
	appendTo(e *LinearExpr, scale int64)
}

// Var is a variable usable in a decision strategy.
type Var interface {
	Index() VarIndex
}

type term struct {
	v VarIndex
	k int64
}

// LinearExpr is a weighted sum of variables plus a constant. Its methods mutate the
// receiver and return it for chaining.
type LinearExpr struct {
	terms    []term
	constant int64
}

// NewLinearExpr returns the empty sum.
func NewLinearExpr() *LinearExpr {
	return &LinearExpr{}
}

// NewConstant returns the expression c.
func NewConstant(c int64) *LinearExpr {
	return &LinearExpr{constant: c}
}

// Add adds la with weight one.
func (l *LinearExpr) Add(la LinearArgument) *LinearExpr {
	return l.AddTerm(la, 1)
}

// AddConstant adds c.
func (l *LinearExpr) AddConstant(c int64) *LinearExpr {
	l.constant += c
	return l
}

// AddTerm adds la scaled by k.
func (l *LinearExpr) AddTerm(la LinearArgument, k int64) *LinearExpr {
	la.appendTo(l, k)
	return l
}

func (l *LinearExpr) appendTo(e *LinearExpr, scale int64) {
	for _, t := range l.terms {
		e.terms = append(e.terms, term{v: t.v, k: t.k * scale})
	}
	e.constant += l.constant * scale
}

func toExpr(la LinearArgument) *LinearExpr {
	e := &LinearExpr{}
	la.appendTo(e, 1)
	return e
}

// normalize folds repeated variables and drops zero weights.
func (l *LinearExpr) normalize() ([]term, int64) {
	at := make(map[VarIndex]int, len(l.terms))
	out := make([]term, 0, len(l.terms))
	for _, t := range l.terms {
		if i, ok := at[t.v]; ok {
			out[i].k += t.k
			continue
		}
		at[t.v] = len(out)
		out = append(out, t)
	}
	n := 0
	for _, t := range out {
		if t.k != 0 {
			out[n] = t
			n++
		}
	}
	return out[:n], l.constant
}

// IntVar is an integer variable of a Builder.
type IntVar struct {
	idx   VarIndex
	owner *Builder
}

// Index implements Var.
func (i IntVar) Index() VarIndex { return i.idx }

// Name returns the debug name.
func (i IntVar) Name() string { return i.owner.vars[i.idx].name }

// WithName sets the debug name.
func (i IntVar) WithName(s string) IntVar {
	i.owner.vars[i.idx].name = s
	return i
}

// Bounds returns the domain the variable was created with.
func (i IntVar) Bounds() (int64, int64) {
	d := i.owner.vars[i.idx]
	return d.lo, d.hi
}

func (i IntVar) appendTo(e *LinearExpr, scale int64) {
	e.terms = append(e.terms, term{v: i.idx, k: scale})
}

// BoolVar is a 0/1 variable or its negation.
type BoolVar struct {
	idx   VarIndex
	owner *Builder
}

// Not returns the negated literal.
func (b BoolVar) Not() BoolVar {
	return BoolVar{idx: ^b.idx, owner: b.owner}
}

// Index implements Var. Negated literals report ^v.
func (b BoolVar) Index() VarIndex { return b.idx }

// Name returns the debug name of the underlying variable.
func (b BoolVar) Name() string { return b.owner.vars[b.idx.base()].name }

// WithName sets the debug name of the underlying variable.
func (b BoolVar) WithName(s string) BoolVar {
	b.owner.vars[b.idx.base()].name = s
	return b
}

// appendTo writes a negated literal as 1 - v.
func (b BoolVar) appendTo(e *LinearExpr, scale int64) {
	if b.idx >= 0 {
		e.terms = append(e.terms, term{v: b.idx, k: scale})
		return
	}
	e.terms = append(e.terms, term{v: ^b.idx, k: -scale})
	e.constant += scale
}

// IntervalVar is a [start, end) span with start + size == end while present.
type IntervalVar struct {
	idx   ConstrIndex
	owner *Builder
}

// WithName sets the debug name.
func (iv IntervalVar) WithName(s string) IntervalVar {
	iv.owner.intervals[iv.idx].name = s
	return iv
}

// Constraint is a handle on an added constraint.
type Constraint struct {
	idx   ConstrIndex
	owner *Builder
}

// WithName sets the debug name.
func (c Constraint) WithName(s string) Constraint {
	c.owner.constraints[c.idx].name = s
	return c
}

// OnlyEnforceIf makes a linear constraint conditional on every literal in bvs being true.
// Resource constraints cannot be guarded.
func (c Constraint) OnlyEnforceIf(bvs ...BoolVar) Constraint {
	ct := &c.owner.constraints[c.idx]
	if ct.kind != kindLinear {
		c.owner.failf("constraint %d: only linear constraints take enforcement literals", c.idx)
		return c
	}
	for _, bv := range bvs {
		if !c.owner.owns(bv.owner) {
			return c
		}
		ct.enforce = append(ct.enforce, bv.idx)
	}
	return c
}

// CumulativeConstraint is a cumulative resource that takes its intervals one at a time.
type CumulativeConstraint struct {
	Constraint
}

// AddDemand puts interval on the resource with a constant demand.
func (cc CumulativeConstraint) AddDemand(interval IntervalVar, demand LinearArgument) {
	if !cc.owner.owns(interval.owner) {
		return
	}
	terms, c := toExpr(demand).normalize()
	if len(terms) != 0 || c < 0 {
		cc.owner.failf("cumulative %d: demand must be a constant >= 0", cc.idx)
		return
	}
	ct := &cc.owner.constraints[cc.idx]
	ct.intervals = append(ct.intervals, interval.idx)
	ct.demands = append(ct.demands, c)
}

type varDef struct {
	lo, hi int64
	name   string
}

type constraintKind int

const (
	kindLinear constraintKind = iota
	kindNoOverlap
	kindCumulative
)

type constraintDef struct {
	kind    constraintKind
	name    string
	enforce []VarIndex

	expr   *LinearExpr
	lo, hi int64

	intervals []ConstrIndex
	demands   []int64
	capacity  int64

	// types and setup give the gap owed between consecutive intervals of a no-overlap.
	types []int
	setup [][]int64
}

// affine is v + off, or the constant off when v < 0.
type affine struct {
	v   VarIndex
	off int64
}

type intervalDef struct {
	name             string
	start, size, end affine
	presence         VarIndex
	optional         bool
}

// Builder accumulates a model. Errors are sticky: Model returns the first one.
type Builder struct {
	vars        []varDef
	constraints []constraintDef
	intervals   []intervalDef
	objective   *LinearExpr
	hint        *Hint
	strategies  []DecisionStrategy
	err         error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) failf(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

func (b *Builder) owns(other *Builder) bool {
	if other == b {
		return true
	}
	if b.err == nil {
		b.err = ErrMixedModels
	}
	return false
}

// NewIntVar adds an integer variable with domain [lo, hi].
func (b *Builder) NewIntVar(lo, hi int64) IntVar {
	if lo > hi {
		b.failf("int var %d: empty domain [%d, %d]", len(b.vars), lo, hi)
	}
	b.vars = append(b.vars, varDef{lo: lo, hi: hi})
	return IntVar{idx: VarIndex(len(b.vars) - 1), owner: b}
}

// NewBoolVar adds a 0/1 variable.
func (b *Builder) NewBoolVar() BoolVar {
	b.vars = append(b.vars, varDef{lo: 0, hi: 1})
	return BoolVar{idx: VarIndex(len(b.vars) - 1), owner: b}
}

// NewConstant adds a variable fixed to v.
func (b *Builder) NewConstant(v int64) IntVar {
	return b.NewIntVar(v, v)
}

func (b *Builder) affineOf(la LinearArgument, what string) affine {
	terms, c := toExpr(la).normalize()
	if len(terms) == 0 {
		return affine{v: -1, off: c}
	}
	if len(terms) == 1 && terms[0].k == 1 && terms[0].v >= 0 {
		return affine{v: terms[0].v, off: c}
	}
	if b.err == nil {
		b.err = fmt.Errorf("interval %s: %w", what, ErrNonAffine)
	}
	return affine{v: -1, off: c}
}

// NewIntervalVar adds an always-present interval and the link start + size == end. Each
// bound must be a variable plus a constant, or a constant.
func (b *Builder) NewIntervalVar(start, size, end LinearArgument) IntervalVar {
	return b.addInterval(start, size, end, -1, false)
}

// NewFixedSizeIntervalVar adds an interval of constant size starting at start.
func (b *Builder) NewFixedSizeIntervalVar(start LinearArgument, size int64) IntervalVar {
	return b.NewIntervalVar(start, NewConstant(size), NewLinearExpr().Add(start).AddConstant(size))
}

// NewOptionalIntervalVar adds an interval that exists only while presence is true. The
// size link is guarded by presence.
func (b *Builder) NewOptionalIntervalVar(start, size, end LinearArgument, presence BoolVar) IntervalVar {
	if !b.owns(presence.owner) {
		return IntervalVar{idx: -1, owner: b}
	}
	return b.addInterval(start, size, end, presence.idx, true)
}

// NewOptionalFixedSizeIntervalVar is NewOptionalIntervalVar with a constant size.
func (b *Builder) NewOptionalFixedSizeIntervalVar(start LinearArgument, size int64, presence BoolVar) IntervalVar {
	return b.NewOptionalIntervalVar(start, NewConstant(size), NewLinearExpr().Add(start).AddConstant(size), presence)
}

func (b *Builder) addInterval(start, size, end LinearArgument, presence VarIndex, optional bool) IntervalVar {
	def := intervalDef{
		start:    b.affineOf(start, "start"),
		size:     b.affineOf(size, "size"),
		end:      b.affineOf(end, "end"),
		presence: presence,
		optional: optional,
	}
	if def.size.v < 0 && def.size.off < 0 {
		b.failf("interval %d: negative size %d", len(b.intervals), def.size.off)
	}
	link := b.AddEquality(NewLinearExpr().Add(start).Add(size), end)
	if optional {
		link.OnlyEnforceIf(BoolVar{idx: presence, owner: b})
	}
	b.intervals = append(b.intervals, def)
	return IntervalVar{idx: ConstrIndex(len(b.intervals) - 1), owner: b}
}

func (b *Builder) add(ct constraintDef) Constraint {
	b.constraints = append(b.constraints, ct)
	return Constraint{idx: ConstrIndex(len(b.constraints) - 1), owner: b}
}

// AddLinearConstraint adds lo <= expr <= hi. Use math.MinInt64 or math.MaxInt64 for an
// open side.
func (b *Builder) AddLinearConstraint(expr LinearArgument, lo, hi int64) Constraint {
	return b.add(constraintDef{kind: kindLinear, expr: toExpr(expr), lo: lo, hi: hi})
}

// difference adds lo <= lhs - rhs <= hi.
func (b *Builder) difference(lhs, rhs LinearArgument, lo, hi int64) Constraint {
	return b.AddLinearConstraint(NewLinearExpr().Add(lhs).AddTerm(rhs, -1), lo, hi)
}

// AddEquality adds lhs == rhs.
func (b *Builder) AddEquality(lhs, rhs LinearArgument) Constraint {
	return b.difference(lhs, rhs, 0, 0)
}

// AddLessOrEqual adds lhs <= rhs.
func (b *Builder) AddLessOrEqual(lhs, rhs LinearArgument) Constraint {
	return b.difference(lhs, rhs, math.MinInt64, 0)
}

// AddGreaterOrEqual adds lhs >= rhs.
func (b *Builder) AddGreaterOrEqual(lhs, rhs LinearArgument) Constraint {
	return b.difference(lhs, rhs, 0, math.MaxInt64)
}

func countTrue(bvs []BoolVar) *LinearExpr {
	e := NewLinearExpr()
	for _, bv := range bvs {
		e.Add(bv)
	}
	return e
}

// AddBoolOr requires at least one literal to be true.
func (b *Builder) AddBoolOr(bvs ...BoolVar) Constraint {
	return b.AddLinearConstraint(countTrue(bvs), 1, math.MaxInt64)
}

// AddExactlyOne requires exactly one literal to be true.
func (b *Builder) AddExactlyOne(bvs ...BoolVar) Constraint {
	return b.AddLinearConstraint(countTrue(bvs), 1, 1)
}

// AddBoolAnd requires every literal to be true. Guarded, it forces literals from a
// condition.
func (b *Builder) AddBoolAnd(bvs ...BoolVar) Constraint {
	n := int64(len(bvs))
	return b.AddLinearConstraint(countTrue(bvs), n, n)
}

// AddImplication adds x => y.
func (b *Builder) AddImplication(x, y BoolVar) Constraint {
	return b.AddBoolOr(x.Not(), y)
}

// AddNoOverlap forbids any two present intervals of positive size from sharing a time
// unit.
func (b *Builder) AddNoOverlap(ivs ...IntervalVar) Constraint {
	ct := constraintDef{kind: kindNoOverlap, capacity: 1}
	for _, iv := range ivs {
		if !b.owns(iv.owner) {
			break
		}
		ct.intervals = append(ct.intervals, iv.idx)
		ct.demands = append(ct.demands, 1)
	}
	return b.add(ct)
}

// AddNoOverlapWithSetups is a no-overlap that also owes a gap between neighbours: when a
// present interval of type types[i] is directly followed by one of type types[j], the
// second starts at least setup[types[i]][types[j]] after the first ends. Intervals of
// size zero are not sequenced. setup must be square with entries >= 0 and every type
// must index it.
func (b *Builder) AddNoOverlapWithSetups(ivs []IntervalVar, types []int, setup [][]int64) Constraint {
	c := b.AddNoOverlap(ivs...)
	if len(types) != len(ivs) {
		b.failf("no-overlap %d: %d types for %d intervals", c.idx, len(types), len(ivs))
		return c
	}
	n := len(setup)
	table := make([][]int64, n)
	for i, row := range setup {
		if len(row) != n {
			b.failf("no-overlap %d: setup row %d has %d entries, want %d", c.idx, i, len(row), n)
			return c
		}
		for j, d := range row {
			if d < 0 {
				b.failf("no-overlap %d: setup %d->%d is negative", c.idx, i, j)
				return c
			}
		}
		table[i] = append([]int64(nil), row...)
	}
	for k, t := range types {
		if t < 0 || t >= n {
			b.failf("no-overlap %d: interval %d has type %d outside [0,%d)", c.idx, k, t, n)
			return c
		}
	}
	ct := &b.constraints[c.idx]
	ct.types = append([]int(nil), types...)
	ct.setup = table
	return c
}

// AddCumulative adds a resource of constant capacity. Intervals join it through
// AddDemand.
func (b *Builder) AddCumulative(capacity LinearArgument) CumulativeConstraint {
	terms, c := toExpr(capacity).normalize()
	if len(terms) != 0 || c < 0 {
		b.failf("cumulative %d: capacity must be a constant >= 0", len(b.constraints))
	}
	return CumulativeConstraint{b.add(constraintDef{kind: kindCumulative, capacity: c})}
}

// Minimize sets the objective. A later call replaces an earlier one.
func (b *Builder) Minimize(obj LinearArgument) {
	b.objective = toExpr(obj)
}

// Hint holds preferred values tried first while searching.
type Hint struct {
	Ints  map[IntVar]int64
	Bools map[BoolVar]bool
}

// SetHint replaces the model's hint. A nil hint removes it.
func (b *Builder) SetHint(hint *Hint) {
	b.hint = hint
}

// VarSelection picks which unfixed variable of a strategy is branched on next.
type VarSelection int

const (
	ChooseFirst VarSelection = iota
	ChooseLowestMin
	ChooseHighestMax
	ChooseMinDomainSize
)

// ValueSelection picks the value tried first on a branched variable.
type ValueSelection int

const (
	SelectMinValue ValueSelection = iota
	SelectMaxValue
)

// DecisionStrategy orders branching over a group of variables.
type DecisionStrategy struct {
	Vars     []VarIndex
	Variable VarSelection
	Value    ValueSelection
}

// AddDecisionStrategy appends a branching rule over vars. Rules are tried in the order
// they were added; whatever they leave unfixed is branched on by index.
func (b *Builder) AddDecisionStrategy(vars []Var, vs VarSelection, ds ValueSelection) {
	s := DecisionStrategy{Variable: vs, Value: ds}
	for _, v := range vars {
		s.Vars = append(s.Vars, v.Index().base())
	}
	b.strategies = append(b.strategies, s)
}

// NumVariables returns how many variables were added.
func (b *Builder) NumVariables() int { return len(b.vars) }

// NumConstraints returns how many constraints were added, interval links included.
func (b *Builder) NumConstraints() int { return len(b.constraints) }

// Model compiles what was added, or returns the first recorded error.
func (b *Builder) Model() (*Model, error) {
	if b.err != nil {
		return nil, b.err
	}
	return compile(b)
}
