package cpsat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrKernelFailure wraps a panic or resource failure inside the search.
var ErrKernelFailure = errors.New("cpsat: solver failure")

// Status is the outcome of a Solve call.
type Status int

const (
	Unknown Status = iota
	ModelInvalid
	Feasible
	Infeasible
	Optimal
)

func (s Status) String() string {
	switch s {
	case ModelInvalid:
		return "MODEL_INVALID"
	case Feasible:
		return "FEASIBLE"
	case Infeasible:
		return "INFEASIBLE"
	case Optimal:
		return "OPTIMAL"
	}
	return "UNKNOWN"
}

// StopReason records why the search ended.
type StopReason int

const (
	StopExhausted StopReason = iota
	StopTimeLimit
	StopGapLimit
	StopSolutionLimit
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopTimeLimit:
		return "time_limit"
	case StopGapLimit:
		return "gap_limit"
	case StopSolutionLimit:
		return "solution_limit"
	case StopCancelled:
		return "cancelled"
	}
	return "exhausted"
}

// Parameters tune a Solve call. The zero value solves with one worker and no time limit.
type Parameters struct {
	MaxTime    time.Duration
	NumWorkers int
	// FixedSearch follows the decision strategies with a single deterministic worker.
	FixedSearch            bool
	LinearizationLevel     int
	EscalateOnStall        bool
	StallNodes             int64
	HintConflictLimit      int
	RelativeGapLimit       float64
	StopAfterFirstSolution bool
	RandomSeed             int64
}

const defaultStallNodes = 20000

// Response is the result of a Solve call.
type Response struct {
	Status             Status
	StopReason         StopReason
	ObjectiveValue     int64
	BestObjectiveBound int64
	NumBranches        int64
	NumConflicts       int64
	NumSolutions       int
	NumWorkers         int
	LinearizationLevel int
	HintUsed           bool
	HintAbandoned      bool
	WallTime           time.Duration
	// FirstSolutionTime is when the first incumbent was found, zero without one.
	FirstSolutionTime time.Duration
	Improvements      []Improvement

	solution []int64
}

// Improvement is one new incumbent in the order it was found.
type Improvement struct {
	Objective int64
	Elapsed   time.Duration
}

// HasSolution reports whether the response carries a solution.
func (r *Response) HasSolution() bool { return r.solution != nil }

// SolutionIntegerValue evaluates a linear argument in the response's solution.
func SolutionIntegerValue(r *Response, la LinearArgument) int64 {
	if r == nil || r.solution == nil {
		return 0
	}
	terms, off := toExpr(la).normalize()
	for _, t := range terms {
		off += t.k * r.solution[t.v]
	}
	return off
}

// SolutionBooleanValue returns the value of a Boolean literal in the response's solution.
func SolutionBooleanValue(r *Response, bv BoolVar) bool {
	return SolutionIntegerValue(r, bv) == 1
}

type shared struct {
	mu           sync.Mutex
	began        time.Time
	best         int64
	solution     []int64
	solutions    int
	improvements []Improvement
	rootBound    int64
	hasRoot      bool
	proven       bool

	bestAtomic atomic.Int64
	done       atomic.Bool
	reason     StopReason
	failure    error

	branches  atomic.Int64
	conflicts atomic.Int64
	level     atomic.Int64
	hintUsed  atomic.Bool
	abandoned atomic.Bool
	// hintDone is set by the first complete assignment; hint conflicts stop counting then.
	hintDone atomic.Bool
}

func (sh *shared) stop(reason StopReason) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.done.Load() {
		sh.reason = reason
		sh.done.Store(true)
	}
}

func (sh *shared) fail(err error) {
	sh.mu.Lock()
	if sh.failure == nil {
		sh.failure = err
	}
	sh.mu.Unlock()
	sh.stop(StopCancelled)
}

func (sh *shared) exhausted() {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.done.Load() {
		sh.proven = true
		sh.reason = StopExhausted
		sh.done.Store(true)
	}
}

// Solve searches the model until it proves optimality or infeasibility, hits a stopping
// rule, or ctx is done. A non-nil error is only returned for kernel failures; every
// search outcome is reported through Response.Status.
func Solve(ctx context.Context, m *Model, p Parameters) (*Response, error) {
	start := time.Now()
	if m == nil {
		return &Response{Status: ModelInvalid}, fmt.Errorf("solve: nil model")
	}
	workers := p.NumWorkers
	if workers < 1 || p.FixedSearch {
		workers = 1
	}
	if p.StallNodes <= 0 {
		p.StallNodes = defaultStallNodes
	}
	if p.MaxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.MaxTime)
		defer cancel()
	}

	sh := &shared{best: math.MaxInt64, began: start}
	sh.bestAtomic.Store(math.MaxInt64)
	sh.level.Store(int64(p.LinearizationLevel))

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				sh.stop(StopTimeLimit)
			} else {
				sh.stop(StopCancelled)
			}
		case <-finished:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					sh.fail(fmt.Errorf("%w: worker %d: %v\n%s", ErrKernelFailure, id, r, debug.Stack()))
				}
			}()
			newWorker(id, m, p, sh).run()
		}(i)
	}
	wg.Wait()
	close(finished)

	if sh.failure != nil {
		return nil, sh.failure
	}

	resp := &Response{
		StopReason:         sh.reason,
		NumBranches:        sh.branches.Load(),
		NumConflicts:       sh.conflicts.Load(),
		NumSolutions:       sh.solutions,
		NumWorkers:         workers,
		LinearizationLevel: int(sh.level.Load()),
		HintUsed:           sh.hintUsed.Load(),
		HintAbandoned:      sh.abandoned.Load(),
		Improvements:       sh.improvements,
		solution:           sh.solution,
	}
	if len(sh.improvements) > 0 {
		resp.FirstSolutionTime = sh.improvements[0].Elapsed
	}
	switch {
	case sh.solution != nil && sh.proven:
		resp.Status = Optimal
	case sh.solution != nil:
		resp.Status = Feasible
	case sh.proven:
		resp.Status = Infeasible
	default:
		resp.Status = Unknown
	}
	if sh.solution != nil && m.objective != nil {
		resp.ObjectiveValue = sh.best
	}
	if m.objective != nil {
		switch {
		case resp.Status == Optimal:
			resp.BestObjectiveBound = resp.ObjectiveValue
		case sh.hasRoot:
			resp.BestObjectiveBound = sh.rootBound
		}
	}
	resp.WallTime = time.Since(start)
	return resp, nil
}

type worker struct {
	id int
	m  *Model
	p  Parameters
	sh *shared

	lo, hi []int64
	trail  []trailEntry
	queue  []int32
	queued []bool

	objUB int64
	level int
	rng   *rand.Rand

	hintOn        bool
	hintConflicts int

	nodes        int64
	conflicts    int64
	sinceImprove int64

	tasks  []resTask
	events []profileEvent
	segs   []segment
	order  []int
	seq    []seqTask
	chain  []int
}

func newWorker(id int, m *Model, p Parameters, sh *shared) *worker {
	w := &worker{
		id:     id,
		m:      m,
		p:      p,
		sh:     sh,
		lo:     append([]int64(nil), m.lb...),
		hi:     append([]int64(nil), m.ub...),
		queued: make([]bool, m.numProps()),
		objUB:  math.MaxInt64,
		level:  p.LinearizationLevel,
		rng:    rand.New(rand.NewSource(p.RandomSeed + int64(id))),
		hintOn: m.hintCount > 0,
	}
	if w.hintOn {
		sh.hintUsed.Store(true)
	}
	return w
}

func (w *worker) run() {
	defer func() {
		w.sh.branches.Add(w.nodes)
		w.sh.conflicts.Add(w.conflicts)
	}()

	for i := range w.m.lb {
		if w.lo[i] > w.hi[i] {
			w.sh.exhausted()
			return
		}
	}
	for id := 0; id < w.m.numProps(); id++ {
		w.enqueue(int32(id))
	}
	if !w.propagate() {
		w.sh.exhausted()
		return
	}
	if w.m.objective != nil && w.id == 0 {
		lb, _ := w.activity(w.m.objective)
		w.sh.mu.Lock()
		w.sh.rootBound, w.sh.hasRoot = lb+w.m.objOffset, true
		w.sh.mu.Unlock()
	}
	if !w.dfs() {
		w.sh.exhausted()
	}
}

// dfs explores the subtree under the current bounds. It returns true when the search was
// stopped before the subtree was exhausted.
func (w *worker) dfs() bool {
	if w.sh.done.Load() {
		return true
	}
	w.nodes++
	w.sinceImprove++
	if w.p.EscalateOnStall && w.level < 2 && w.sinceImprove > w.p.StallNodes {
		w.level++
		w.sinceImprove = 0
		for {
			cur := w.sh.level.Load()
			if int64(w.level) <= cur || w.sh.level.CompareAndSwap(cur, int64(w.level)) {
				break
			}
		}
	}

	if best := w.sh.bestAtomic.Load(); w.m.objective != nil && best != math.MaxInt64 && best-1 < w.objUB {
		w.objUB = best - 1
		w.enqueue(w.m.objectiveID())
		if !w.propagate() {
			w.conflict()
			return false
		}
	}

	v, alts := w.decide()
	if v < 0 {
		if w.feasible() {
			w.report()
		} else {
			w.conflict()
		}
		return w.sh.done.Load()
	}

	for _, alt := range alts {
		mark := len(w.trail)
		ok := w.setLo(v, alt[0]) && w.setHi(v, alt[1]) && w.propagate()
		if !ok {
			w.clearQueue()
			w.conflict()
		} else if w.dfs() {
			w.undo(mark)
			return true
		}
		w.undo(mark)
	}
	return false
}

// conflict counts a failed branch. Until the first solution is found, failures under an
// active hint are charged to it and the hint is dropped once they exceed the limit.
func (w *worker) conflict() {
	w.conflicts++
	if w.hintOn && w.sh.hintDone.Load() {
		w.hintOn = false
	}
	if w.hintOn {
		w.hintConflicts++
		if w.p.HintConflictLimit > 0 && w.hintConflicts > w.p.HintConflictLimit {
			w.hintOn = false
			w.sh.abandoned.Store(true)
		}
	}
}

func (w *worker) report() {
	var obj int64
	if w.m.objective != nil {
		val, _ := w.activity(w.m.objective)
		obj = val + w.m.objOffset
	}

	sh := w.sh
	sh.hintDone.Store(true)
	sh.mu.Lock()
	improved := sh.solution == nil || (w.m.objective != nil && obj < sh.best)
	if improved {
		sh.best = obj
		sh.solution = append(sh.solution[:0:0], w.lo...)
		sh.solutions++
		sh.improvements = append(sh.improvements, Improvement{Objective: obj, Elapsed: time.Since(sh.began)})
		sh.bestAtomic.Store(obj)
	}
	rootBound, hasRoot := sh.rootBound, sh.hasRoot
	sh.mu.Unlock()
	if !improved {
		return
	}
	w.sinceImprove = 0

	switch {
	case w.m.objective == nil:
		sh.exhausted()
	case hasRoot && obj <= rootBound:
		sh.exhausted()
	case w.p.StopAfterFirstSolution:
		sh.stop(StopSolutionLimit)
	case w.p.RelativeGapLimit > 0 && hasRoot && relativeGap(obj, rootBound) <= w.p.RelativeGapLimit:
		sh.stop(StopGapLimit)
	}
}

func relativeGap(obj, bound int64) float64 {
	den := math.Abs(float64(obj))
	if den < 1 {
		den = 1
	}
	return float64(obj-bound) / den
}

// decide picks the next branching variable and its ordered alternatives, each a [lo, hi]
// range. While a hint is being followed, hinted strategy variables whose hinted value is
// still in their domain go first. It returns -1 when every variable is fixed.
func (w *worker) decide() (VarIndex, [][2]int64) {
	if w.hintOn && !w.sh.hintDone.Load() {
		for _, s := range w.m.strategies {
			for _, v := range s.Vars {
				if w.lo[v] != w.hi[v] && w.m.hinted[v] && w.m.hint[v] >= w.lo[v] && w.m.hint[v] <= w.hi[v] {
					return v, w.alternatives(v, s.Value)
				}
			}
		}
	}
	for _, s := range w.m.strategies {
		if v := w.pick(s); v >= 0 {
			return v, w.alternatives(v, s.Value)
		}
	}
	for i := range w.lo {
		if w.lo[i] != w.hi[i] {
			return VarIndex(i), w.alternatives(VarIndex(i), SelectMinValue)
		}
	}
	return -1, nil
}

func (w *worker) pick(s DecisionStrategy) VarIndex {
	best := VarIndex(-1)
	var bestKey int64
	ties := 0
	for _, v := range s.Vars {
		if w.lo[v] == w.hi[v] {
			continue
		}
		var key int64
		switch s.Variable {
		case ChooseFirst:
			if w.id == 0 || w.p.FixedSearch {
				return v
			}
		case ChooseLowestMin:
			key = w.lo[v]
		case ChooseHighestMax:
			key = -w.hi[v]
		case ChooseMinDomainSize:
			key = w.hi[v] - w.lo[v]
		}
		switch {
		case best < 0 || key < bestKey:
			best, bestKey, ties = v, key, 1
		case key == bestKey && w.id > 0 && !w.p.FixedSearch:
			// Reservoir sampling among ties diversifies the portfolio workers.
			ties++
			if w.rng.Intn(ties) == 0 {
				best = v
			}
		}
	}
	return best
}

func (w *worker) alternatives(v VarIndex, sel ValueSelection) [][2]int64 {
	lo, hi := w.lo[v], w.hi[v]
	if w.hintOn && w.m.hinted[v] {
		h := w.m.hint[v]
		if h >= lo && h <= hi {
			alts := [][2]int64{{h, h}}
			if sel == SelectMaxValue {
				if h < hi {
					alts = append(alts, [2]int64{h + 1, hi})
				}
				if h > lo {
					alts = append(alts, [2]int64{lo, h - 1})
				}
			} else {
				if h > lo {
					alts = append(alts, [2]int64{lo, h - 1})
				}
				if h < hi {
					alts = append(alts, [2]int64{h + 1, hi})
				}
			}
			return alts
		}
	}
	if sel == SelectMaxValue {
		return [][2]int64{{hi, hi}, {lo, hi - 1}}
	}
	return [][2]int64{{lo, lo}, {lo + 1, hi}}
}
