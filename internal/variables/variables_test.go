package variables

import (
	"errors"
	"testing"

	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/models"
)

func sample() *models.Problem {
	return &models.Problem{
		Machines: []models.Machine{{ID: "M1"}, {ID: "M2", Capacity: 2}},
		Jobs: []models.Job{
			{ID: "J1", Tasks: []models.Task{
				{ID: "A", Position: 1, Type: "cut", Modes: []models.Mode{{Machine: "M1", Duration: 2}, {Machine: "M2", Duration: 5}}},
				{ID: "B", Position: 2, Type: "weld", Modes: []models.Mode{{Machine: "M2", Duration: 3}}},
			}},
			{ID: "J2", Tasks: []models.Task{
				{ID: "C", Position: 1, Modes: []models.Mode{{Machine: "M1", Duration: 4}}},
			}},
		},
	}
}

func TestHorizon(t *testing.T) {
	p := sample()
	// Longest modes: 5 + 3 + 4 = 12, inflated by 20%.
	if got := Horizon(p, DefaultHorizonBuffer); got != 15 {
		t.Errorf("expected horizon 15, got %d", got)
	}
	if got := Horizon(p, 0); got != 12 {
		t.Errorf("expected unbuffered horizon 12, got %d", got)
	}

	p.SetupTimes = []models.SetupTime{{Machine: "M1", From: "cut", To: "weld", Duration: 3}}
	if got := Horizon(p, 0); got != 15 {
		t.Errorf("expected setups to extend the horizon to 15, got %d", got)
	}

	p.Machines[0].Windows = []models.Window{{Start: 0, End: 10}, {Start: 20, End: 30}}
	if got := Horizon(p, 0); got != 45 {
		t.Errorf("expected last window end to be added, got %d", got)
	}
}

func TestBuild(t *testing.T) {
	cp := cpsat.NewBuilder()
	set, err := Build(cp, sample(), DefaultOptions())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(set.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(set.Tasks))
	}
	if set.Index(1, 0) != 2 {
		t.Errorf("expected C at flat index 2, got %d", set.Index(1, 0))
	}
	a := set.Task(0, 0)
	if a.ID != "A" || len(a.Modes) != 2 {
		t.Fatalf("unexpected task vars %+v", a)
	}
	if a.Modes[1].Machine != 1 || a.Modes[1].Duration != 5 || a.Modes[1].Demand != 1 {
		t.Errorf("unexpected mode vars %+v", a.Modes[1])
	}
	if lo, hi := a.Duration.Bounds(); lo != 2 || hi != 5 {
		t.Errorf("expected duration bounds [2,5], got [%d,%d]", lo, hi)
	}
	if lo, hi := a.Start.Bounds(); lo != 0 || hi != set.Horizon {
		t.Errorf("expected start bounds [0,%d], got [%d,%d]", set.Horizon, lo, hi)
	}
	if a.Start.Name() != "start_A" || a.Modes[0].Selected.Name() != "sel_A_0" {
		t.Errorf("unexpected names %q, %q", a.Start.Name(), a.Modes[0].Selected.Name())
	}
	if c, ok := set.ByID("C"); !ok || c.Ref != (models.TaskRef{Job: 1, Task: 0}) {
		t.Errorf("ByID(C) = %+v, %v", c, ok)
	}
	if _, ok := set.ByID("missing"); ok {
		t.Error("expected missing id to be absent")
	}
	if _, err := cp.Model(); err != nil {
		t.Errorf("Model failed: %v", err)
	}
}

func TestBuildHorizonOverride(t *testing.T) {
	set, err := Build(cpsat.NewBuilder(), sample(), Options{Horizon: 100})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if set.Horizon != 100 {
		t.Errorf("expected horizon 100, got %d", set.Horizon)
	}
	if _, hi := set.Makespan.Bounds(); hi != 100 {
		t.Errorf("expected makespan upper bound 100, got %d", hi)
	}
}

func TestBuildErrors(t *testing.T) {
	p := sample()
	p.Jobs[1].Tasks[0].Modes = nil
	_, err := Build(cpsat.NewBuilder(), p, DefaultOptions())
	if !errors.Is(err, models.ErrNoModes) {
		t.Errorf("expected ErrNoModes, got %v", err)
	}

	p = sample()
	p.Jobs[0].Tasks[1].Modes[0].Machine = "M7"
	_, err = Build(cpsat.NewBuilder(), p, DefaultOptions())
	if !errors.Is(err, models.ErrUnknownMachine) {
		t.Errorf("expected ErrUnknownMachine, got %v", err)
	}
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected *ValidationError, got %T", err)
	}
}
