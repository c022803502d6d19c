package cpsat

import (
	"math"
	"sort"
)

type trailEntry struct {
	v      VarIndex
	lo, hi int64
}

func (w *worker) enqueueVar(v VarIndex) {
	for _, id := range w.m.watch[v] {
		w.enqueue(id)
	}
}

func (w *worker) enqueue(id int32) {
	if !w.queued[id] {
		w.queued[id] = true
		w.queue = append(w.queue, id)
	}
}

func (w *worker) clearQueue() {
	for _, id := range w.queue {
		w.queued[id] = false
	}
	w.queue = w.queue[:0]
}

func (w *worker) setLo(v VarIndex, x int64) bool {
	if x <= w.lo[v] {
		return true
	}
	if x > w.hi[v] {
		return false
	}
	w.trail = append(w.trail, trailEntry{v: v, lo: w.lo[v], hi: w.hi[v]})
	w.lo[v] = x
	w.enqueueVar(v)
	return true
}

func (w *worker) setHi(v VarIndex, x int64) bool {
	if x >= w.hi[v] {
		return true
	}
	if x < w.lo[v] {
		return false
	}
	w.trail = append(w.trail, trailEntry{v: v, lo: w.lo[v], hi: w.hi[v]})
	w.hi[v] = x
	w.enqueueVar(v)
	return true
}

func (w *worker) undo(mark int) {
	for i := len(w.trail) - 1; i >= mark; i-- {
		e := w.trail[i]
		w.lo[e.v], w.hi[e.v] = e.lo, e.hi
	}
	w.trail = w.trail[:mark]
}

// litValue returns 1 for a true literal, 0 for a false one and -1 while unfixed.
func (w *worker) litValue(l VarIndex) int {
	v := l.base()
	if w.lo[v] != w.hi[v] {
		return -1
	}
	val := int(w.lo[v])
	if l < 0 {
		val = 1 - val
	}
	return val
}

func (w *worker) setLit(l VarIndex, val bool) bool {
	if l < 0 {
		l, val = l.base(), !val
	}
	if val {
		return w.setLo(l, 1)
	}
	return w.setHi(l, 0)
}

func (w *worker) affLo(a affine) int64 {
	if a.v < 0 {
		return a.off
	}
	return w.lo[a.v] + a.off
}

func (w *worker) affHi(a affine) int64 {
	if a.v < 0 {
		return a.off
	}
	return w.hi[a.v] + a.off
}

func (w *worker) setAffLo(a affine, x int64) bool {
	if a.v < 0 {
		return x <= a.off
	}
	return w.setLo(a.v, x-a.off)
}

func (w *worker) setAffHi(a affine, x int64) bool {
	if a.v < 0 {
		return x >= a.off
	}
	return w.setHi(a.v, x-a.off)
}

// propagate runs queued propagators to a fixpoint. On conflict the queue is cleared and
// false is returned; the caller undoes the trail.
func (w *worker) propagate() bool {
	nLin := int32(len(w.m.linears))
	nRes := int32(len(w.m.resources))
	for len(w.queue) > 0 {
		id := w.queue[len(w.queue)-1]
		w.queue = w.queue[:len(w.queue)-1]
		w.queued[id] = false

		var ok bool
		switch {
		case id < nLin:
			ok = w.propagateLinear(&w.m.linears[id], w.m.linears[id].ub)
		case id < nLin+nRes:
			ok = w.propagateResource(&w.m.resources[id-nLin])
		default:
			ok = w.propagateObjective()
		}
		if !ok {
			w.clearQueue()
			return false
		}
	}
	return true
}

func (w *worker) propagateObjective() bool {
	if w.objUB == math.MaxInt64 {
		return true
	}
	return w.propagateLinear(w.m.objective, w.objUB-w.m.objOffset)
}

func (w *worker) activity(c *linearProp) (minAct, maxAct int64) {
	for i, v := range c.vars {
		k := c.coeffs[i]
		if k > 0 {
			minAct += k * w.lo[v]
			maxAct += k * w.hi[v]
		} else {
			minAct += k * w.hi[v]
			maxAct += k * w.lo[v]
		}
	}
	return minAct, maxAct
}

func (w *worker) propagateLinear(c *linearProp, ub int64) bool {
	unfixed := VarIndex(0)
	nUnfixed := 0
	for _, l := range c.enforce {
		switch w.litValue(l) {
		case 0:
			return true
		case -1:
			nUnfixed++
			unfixed = l
		}
	}
	if nUnfixed > 1 {
		return true
	}

	minAct, maxAct := w.activity(c)
	hasUB := ub != math.MaxInt64
	hasLB := c.lb != math.MinInt64
	infeasible := (hasUB && minAct > ub) || (hasLB && maxAct < c.lb)
	if nUnfixed == 1 {
		if infeasible {
			return w.setLit(unfixed, false)
		}
		return true
	}
	if infeasible {
		return false
	}

	if hasUB {
		slack := ub - minAct
		for i, v := range c.vars {
			k := c.coeffs[i]
			if k > 0 {
				if !w.setHi(v, w.lo[v]+slack/k) {
					return false
				}
			} else if !w.setLo(v, w.hi[v]-slack/(-k)) {
				return false
			}
		}
	}
	if hasLB {
		slack := maxAct - c.lb
		for i, v := range c.vars {
			k := c.coeffs[i]
			if k > 0 {
				if !w.setLo(v, w.hi[v]-slack/k) {
					return false
				}
			} else if !w.setHi(v, w.lo[v]+slack/(-k)) {
				return false
			}
		}
	}
	return true
}

type resTask struct {
	iv      *intervalDef
	demand  int64
	size    int64
	est     int64
	lst     int64
	ect     int64
	lct     int64
	present bool
}

type profileEvent struct {
	at    int64
	delta int64
}

type segment struct {
	a, b int64
	load int64
}

// propagateResource applies time-table reasoning over compulsory parts, disjunctive
// detection on unary resources, and energy checks from linearization level 1.
func (w *worker) propagateResource(r *resourceProp) bool {
	tasks := w.tasks[:0]
	for k, idx := range r.intervals {
		d := r.demands[k]
		iv := &w.m.intervals[idx]
		pres := 1
		if iv.optional {
			pres = w.litValue(iv.presence)
		}
		if pres == 0 || d == 0 {
			continue
		}
		size := w.affLo(iv.size)
		if size <= 0 {
			continue
		}
		est := w.affLo(iv.start)
		lct := w.affHi(iv.end)
		ect := max(w.affLo(iv.end), est+size)
		lst := min(w.affHi(iv.start), lct-size)
		if d > r.capacity || est > lst {
			if pres == 1 || !w.setLit(iv.presence, false) {
				return false
			}
			continue
		}
		tasks = append(tasks, resTask{iv: iv, demand: d, size: size, est: est, lst: lst, ect: ect, lct: lct, present: pres == 1})
	}
	w.tasks = tasks

	events := w.events[:0]
	for i := range tasks {
		t := &tasks[i]
		if t.present && t.lst < t.ect {
			events = append(events, profileEvent{t.lst, t.demand}, profileEvent{t.ect, -t.demand})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].at < events[j].at })
	w.events = events

	segs := w.segs[:0]
	var load int64
	for i := 0; i < len(events); {
		at := events[i].at
		for i < len(events) && events[i].at == at {
			load += events[i].delta
			i++
		}
		if load > r.capacity {
			return false
		}
		if load > 0 && i < len(events) {
			segs = append(segs, segment{a: at, b: events[i].at, load: load})
		}
	}
	w.segs = segs

	for i := range tasks {
		t := &tasks[i]
		hasCP := t.present && t.lst < t.ect
		overloaded := func(s segment) bool {
			own := int64(0)
			if hasCP && t.lst <= s.a && s.b <= t.ect {
				own = t.demand
			}
			return s.load-own+t.demand > r.capacity
		}

		est := t.est
		for _, s := range segs {
			if s.b <= est {
				continue
			}
			if s.a >= est+t.size {
				break
			}
			if overloaded(s) {
				est = s.b
			}
		}
		lct := t.lct
		for k := len(segs) - 1; k >= 0; k-- {
			s := segs[k]
			if s.a >= lct {
				continue
			}
			if s.b <= lct-t.size {
				break
			}
			if overloaded(s) {
				lct = s.a
			}
		}

		if est > t.lst || lct < t.ect || est+t.size > lct {
			if t.present {
				return false
			}
			if !w.setLit(t.iv.presence, false) {
				return false
			}
			t.demand = 0
			continue
		}
		if t.present {
			if !w.setAffLo(t.iv.start, est) || !w.setAffHi(t.iv.end, lct) {
				return false
			}
		}
	}

	if r.unary && !w.propagateDisjunctive(tasks) {
		return false
	}
	if w.level >= 1 && !w.checkEnergy(r, tasks) {
		return false
	}
	if r.setup != nil && !w.propagateSetups(r) {
		return false
	}
	return true
}

// propagateDisjunctive orders pairs of intervals that cannot be sequenced one way round.
// Tasks zeroed out by the time-table pass are skipped.
func (w *worker) propagateDisjunctive(tasks []resTask) bool {
	for i := 0; i < len(tasks); i++ {
		a := &tasks[i]
		if a.demand == 0 {
			continue
		}
		for j := i + 1; j < len(tasks); j++ {
			b := &tasks[j]
			if b.demand == 0 || (!a.present && !b.present) {
				continue
			}
			aFirst := a.est+a.size <= b.lst
			bFirst := b.est+b.size <= a.lst
			switch {
			case !aFirst && !bFirst:
				if a.present && b.present {
					return false
				}
				opt := a
				if a.present {
					opt = b
				}
				if !w.setLit(opt.iv.presence, false) {
					return false
				}
				opt.demand = 0
			case a.present && b.present && aFirst && !bFirst:
				if !w.setAffLo(b.iv.start, a.ect) || !w.setAffHi(a.iv.end, b.lst) {
					return false
				}
			case a.present && b.present && bFirst && !aFirst:
				if !w.setAffLo(a.iv.start, b.ect) || !w.setAffHi(b.iv.end, a.lst) {
					return false
				}
			}
			if a.demand == 0 {
				break
			}
		}
	}
	return true
}

// checkEnergy fails when the present intervals contained in some window [est, lct] need
// more energy than the window offers. At level 2, optional intervals that would overload
// their own window are marked absent.
func (w *worker) checkEnergy(r *resourceProp, tasks []resTask) bool {
	order := w.order[:0]
	for i := range tasks {
		if tasks[i].present && tasks[i].demand > 0 {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(x, y int) bool { return tasks[order[x]].lct < tasks[order[y]].lct })
	w.order = order

	for _, i := range order {
		t1 := tasks[i].est
		var energy int64
		for _, k := range order {
			t := &tasks[k]
			if t.est < t1 {
				continue
			}
			energy += t.size * t.demand
			if energy > r.capacity*(t.lct-t1) {
				return false
			}
		}
	}

	if w.level < 2 {
		return true
	}
	for i := range tasks {
		u := &tasks[i]
		if u.present || u.demand == 0 {
			continue
		}
		energy := u.size * u.demand
		for _, k := range order {
			t := &tasks[k]
			if t.est >= u.est && t.lct <= u.lct {
				energy += t.size * t.demand
			}
		}
		if energy > r.capacity*(u.lct-u.est) {
			if !w.setLit(u.iv.presence, false) {
				return false
			}
			u.demand = 0
		}
	}
	return true
}

// feasible checks a complete assignment against every constraint.
func (w *worker) feasible() bool {
	for i := range w.m.linears {
		c := &w.m.linears[i]
		active := true
		for _, l := range c.enforce {
			if w.litValue(l) == 0 {
				active = false
				break
			}
		}
		if !active {
			continue
		}
		val, _ := w.activity(c)
		if (c.lb != math.MinInt64 && val < c.lb) || (c.ub != math.MaxInt64 && val > c.ub) {
			return false
		}
	}
	for i := range w.m.resources {
		r := &w.m.resources[i]
		events := w.events[:0]
		for k, idx := range r.intervals {
			iv := &w.m.intervals[idx]
			if iv.optional && w.litValue(iv.presence) != 1 {
				continue
			}
			s, e := w.affLo(iv.start), w.affLo(iv.end)
			if e > s && r.demands[k] > 0 {
				events = append(events, profileEvent{s, r.demands[k]}, profileEvent{e, -r.demands[k]})
			}
		}
		sort.Slice(events, func(x, y int) bool {
			if events[x].at != events[y].at {
				return events[x].at < events[y].at
			}
			return events[x].delta < events[y].delta
		})
		w.events = events
		var load int64
		for _, ev := range events {
			load += ev.delta
			if load > r.capacity {
				return false
			}
		}
		if r.setup != nil && !w.setupsHold(r) {
			return false
		}
	}
	return true
}

// setupsHold checks a complete assignment: every present interval of positive size
// starts no earlier than the end of the one before it plus their setup.
func (w *worker) setupsHold(r *resourceProp) bool {
	order := w.order[:0]
	for k, idx := range r.intervals {
		iv := &w.m.intervals[idx]
		if iv.optional && w.litValue(iv.presence) != 1 {
			continue
		}
		if w.affLo(iv.size) > 0 {
			order = append(order, k)
		}
	}
	start := func(k int) int64 { return w.affLo(w.m.intervals[r.intervals[k]].start) }
	sort.Slice(order, func(x, y int) bool { return start(order[x]) < start(order[y]) })
	w.order = order
	for i := 1; i < len(order); i++ {
		prev, next := order[i-1], order[i]
		end := w.affLo(w.m.intervals[r.intervals[prev]].end)
		if start(next) < end+r.setup[r.types[prev]][r.types[next]] {
			return false
		}
	}
	return true
}

// seqTask is an interval of a no-overlap with setup times, with bounds read at the start
// of propagateSetups.
type seqTask struct {
	iv      *intervalDef
	typ     int
	size    int64
	est     int64
	lst     int64
	ect     int64
	lct     int64
	present bool
	fixed   bool
}

// propagateSetups enforces setup gaps between neighbours. A pair of present intervals
// that fits in one order only is pushed apart by the cheapest chain of setups between
// their types. Two fixed intervals with nothing able to run between them are neighbours
// and must leave their direct setup free.
func (w *worker) propagateSetups(r *resourceProp) bool {
	seq := w.seq[:0]
	for k, idx := range r.intervals {
		iv := &w.m.intervals[idx]
		pres := 1
		if iv.optional {
			pres = w.litValue(iv.presence)
		}
		if pres == 0 || w.affHi(iv.size) <= 0 {
			continue
		}
		size := w.affLo(iv.size)
		est := w.affLo(iv.start)
		lct := w.affHi(iv.end)
		t := seqTask{
			iv:      iv,
			typ:     r.types[k],
			size:    size,
			est:     est,
			lst:     min(w.affHi(iv.start), lct-size),
			ect:     max(w.affLo(iv.end), est+size),
			lct:     lct,
			present: pres == 1,
		}
		t.fixed = t.present && size > 0 && size == w.affHi(iv.size) && est == w.affHi(iv.start)
		seq = append(seq, t)
	}
	w.seq = seq

	for i := range seq {
		a := &seq[i]
		if !a.present || a.size == 0 {
			continue
		}
		for j := i + 1; j < len(seq); j++ {
			c := &seq[j]
			if !c.present || c.size == 0 {
				continue
			}
			ac, ca := r.reach[a.typ][c.typ], r.reach[c.typ][a.typ]
			aFirst := a.ect+ac <= c.lst
			cFirst := c.ect+ca <= a.lst
			switch {
			case !aFirst && !cFirst:
				return false
			case aFirst && !cFirst:
				if !w.setAffLo(c.iv.start, a.ect+ac) || !w.setAffHi(a.iv.end, c.lst-ac) {
					return false
				}
			case cFirst && !aFirst:
				if !w.setAffLo(a.iv.start, c.ect+ca) || !w.setAffHi(c.iv.end, a.lst-ca) {
					return false
				}
			}
		}
	}

	fixed := w.chain[:0]
	for i := range seq {
		if seq[i].fixed {
			fixed = append(fixed, i)
		}
	}
	sort.Slice(fixed, func(x, y int) bool { return seq[fixed[x]].est < seq[fixed[y]].est })
	w.chain = fixed
	for k := 1; k < len(fixed); k++ {
		p, n := &seq[fixed[k-1]], &seq[fixed[k]]
		if n.est >= p.ect+r.setup[p.typ][n.typ] {
			continue
		}
		if !w.fitsBetween(r, seq, p, n) {
			return false
		}
	}
	return true
}

// fitsBetween reports whether some unfixed interval could still be placed after p and
// before n, setups included.
func (w *worker) fitsBetween(r *resourceProp, seq []seqTask, p, n *seqTask) bool {
	for i := range seq {
		y := &seq[i]
		if y.fixed {
			continue
		}
		size := max(y.size, 1)
		at := max(y.est, p.ect+r.reach[p.typ][y.typ])
		if at+size <= y.lct && at+size+r.reach[y.typ][n.typ] <= n.est {
			return true
		}
	}
	return false
}
