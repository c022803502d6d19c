package constraints

import (
	"fmt"

	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/models"
)

// AddAvailability keeps each selected mode inside exactly one availability window of its
// machine. Modes whose duration exceeds every window are excluded; a task left with no
// usable mode is a model error. Zero-duration modes occupy no time and are unrestricted.
func (b *Builder) AddAvailability() error {
	for i := range b.vars.Tasks {
		tv := &b.vars.Tasks[i]
		usable := 0
		for k := range tv.Modes {
			m := &tv.Modes[k]
			windows := b.p.Machines[m.Machine].Windows
			if len(windows) == 0 || m.Duration == 0 {
				usable++
				continue
			}

			sum := cpsat.NewLinearExpr()
			fits := 0
			for w, win := range windows {
				if win.Len() < m.Duration {
					continue
				}
				in := b.cp.NewBoolVar().WithName(fmt.Sprintf("in_%s_%d_%d", tv.ID, m.Mode, w))
				b.cp.AddGreaterOrEqual(tv.Start, cpsat.NewConstant(win.Start)).OnlyEnforceIf(in)
				b.cp.AddLessOrEqual(cpsat.NewLinearExpr().Add(tv.Start).AddConstant(m.Duration),
					cpsat.NewConstant(win.End)).OnlyEnforceIf(in)
				sum.Add(in)
				fits++
				b.stats.WindowLiterals++
			}
			if fits == 0 {
				b.cp.AddBoolAnd(m.Selected.Not())
				b.stats.ExcludedModes++
				b.log.Debug("mode excluded by availability", "task", tv.ID, "mode", m.Mode, "duration", m.Duration)
				continue
			}
			b.cp.AddEquality(sum, m.Selected)
			usable++
		}
		if usable == 0 {
			return models.NewValidationError(models.ErrNoFeasibleMode, "task "+tv.ID,
				"no mode fits inside an availability window")
		}
	}
	return nil
}
