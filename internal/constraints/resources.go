package constraints

import (
	"fmt"

	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/variables"
)

type machineMode struct {
	task *variables.TaskVars
	mode *variables.ModeVars
}

// modesByMachine groups every mode by the machine it runs on.
func (b *Builder) modesByMachine() [][]machineMode {
	byMachine := make([][]machineMode, len(b.p.Machines))
	for i := range b.vars.Tasks {
		tv := &b.vars.Tasks[i]
		for k := range tv.Modes {
			m := &tv.Modes[k]
			byMachine[m.Machine] = append(byMachine[m.Machine], machineMode{task: tv, mode: m})
		}
	}
	return byMachine
}

// AddCapacity bounds the concurrent demand on each machine by its capacity. Unary machines
// get a no-overlap constraint, the rest a cumulative one.
func (b *Builder) AddCapacity() {
	for mi, modes := range b.modesByMachine() {
		if len(modes) < 2 {
			continue
		}
		machine := b.p.Machines[mi]
		capacity := int64(machine.EffectiveCapacity())
		if capacity == 1 {
			ivs := make([]cpsat.IntervalVar, len(modes))
			for k, mm := range modes {
				ivs[k] = mm.mode.Interval
			}
			b.cp.AddNoOverlap(ivs...).WithName("no_overlap_" + machine.ID)
		} else {
			cum := b.cp.AddCumulative(cpsat.NewConstant(capacity))
			cum.WithName("cumulative_" + machine.ID)
			for _, mm := range modes {
				cum.AddDemand(mm.mode.Interval, cpsat.NewConstant(mm.mode.Demand))
			}
		}
		b.stats.Resources++
	}
}

// AddSetupTimes charges setup times between neighbours on unary machines. Every mode of
// positive duration on the machine joins one no-overlap whose transition matrix holds the
// machine's setups between task types, so only back-to-back tasks owe a changeover.
// Shared machines are not sequenced; their setups are reported as warnings.
func (b *Builder) AddSetupTimes() {
	if len(b.p.SetupTimes) == 0 {
		return
	}
	setups := b.p.Setups()
	for mi, modes := range b.modesByMachine() {
		machine := b.p.Machines[mi]
		var (
			ivs   []cpsat.IntervalVar
			types []int
			names []string
		)
		index := map[string]int{}
		for _, mm := range modes {
			if mm.mode.Duration <= 0 {
				continue
			}
			k, ok := index[mm.task.Type]
			if !ok {
				k = len(names)
				index[mm.task.Type] = k
				names = append(names, mm.task.Type)
			}
			ivs = append(ivs, mm.mode.Interval)
			types = append(types, k)
		}
		matrix := make([][]int64, len(names))
		nonzero := false
		for x, from := range names {
			matrix[x] = make([]int64, len(names))
			for y, to := range names {
				matrix[x][y] = setups.Get(machine.ID, from, to)
				nonzero = nonzero || matrix[x][y] > 0
			}
		}
		if !nonzero || len(ivs) < 2 {
			continue
		}
		if c := machine.EffectiveCapacity(); c > 1 {
			msg := fmt.Sprintf("setup times on machine %s ignored: capacity %d runs tasks in parallel", machine.ID, c)
			b.log.Warn("setup times ignored on shared machine", "machine", machine.ID, "capacity", c)
			b.stats.Warnings = append(b.stats.Warnings, msg)
			continue
		}
		b.cp.AddNoOverlapWithSetups(ivs, types, matrix).WithName("setups_" + machine.ID)
		b.stats.SetupMachines++
	}
}
