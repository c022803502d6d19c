package constraints

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/fentz26/jobshop/internal/cpsat"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/variables"
)

type solved struct {
	resp *cpsat.Response
	vars *variables.Set
}

func (s solved) start(id string) int64 {
	tv, _ := s.vars.ByID(id)
	return cpsat.SolutionIntegerValue(s.resp, tv.Start)
}

func (s solved) mode(id string) int {
	tv, _ := s.vars.ByID(id)
	for _, m := range tv.Modes {
		if cpsat.SolutionBooleanValue(s.resp, m.Selected) {
			return m.Mode
		}
	}
	return -1
}

func solveWith(t *testing.T, p *models.Problem, families Family, obj models.Objective) solved {
	t.Helper()
	cp := cpsat.NewBuilder()
	vars, err := variables.Build(cp, p, variables.DefaultOptions())
	if err != nil {
		t.Fatalf("variables.Build failed: %v", err)
	}
	b := New(cp, p, vars, Options{ClosureLimit: DefaultClosureLimit})
	if err := b.Apply(families); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := b.Objective(obj); err != nil {
		t.Fatalf("Objective failed: %v", err)
	}
	m, err := cp.Model()
	if err != nil {
		t.Fatalf("Model failed: %v", err)
	}
	resp, err := cpsat.Solve(context.Background(), m, cpsat.Parameters{NumWorkers: 1})
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	return solved{resp: resp, vars: vars}
}

func single(id, typ, machine string, d int64) models.Task {
	return models.Task{ID: id, Position: 1, Type: typ, Modes: []models.Mode{{Machine: machine, Duration: d}}}
}

func TestFamilyNames(t *testing.T) {
	if All.String() != "duration,exactly_one_mode,precedence,capacity,setup_times,availability" {
		t.Errorf("unexpected All: %s", All)
	}
	if Family(0).String() != "none" {
		t.Errorf("expected none, got %s", Family(0))
	}
	f, err := ParseFamilies([]string{"Duration", " capacity ", ""})
	if err != nil {
		t.Fatalf("ParseFamilies failed: %v", err)
	}
	if f != Duration|Capacity {
		t.Errorf("expected duration,capacity, got %s", f)
	}
	if f, _ := ParseFamilies([]string{"all"}); f != All {
		t.Errorf("expected all, got %s", f)
	}
	if _, err := ParseFamilies([]string{"gravity"}); err == nil {
		t.Error("expected error for unknown family")
	}
	if !All.Has(SetupTimes|Availability) || (Duration | Capacity).Has(Precedence) {
		t.Error("Has reported the wrong membership")
	}
}

func TestTransitiveLags(t *testing.T) {
	chain := [][2]int{{0, 1}, {1, 2}, {2, 3}}
	got := TransitiveLags(4, chain, []int64{2, 3, 4, 5})
	want := []Lag{{0, 2, 3}, {0, 3, 7}, {1, 3, 4}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("chain: expected %v, got %v", want, got)
	}

	// A direct edge shadowed by a longer path still gets the path's lag.
	diamond := [][2]int{{0, 1}, {0, 2}, {1, 3}, {2, 3}, {0, 3}}
	got = TransitiveLags(4, diamond, []int64{1, 5, 2, 1})
	want = []Lag{{0, 3, 5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("diamond: expected %v, got %v", want, got)
	}

	if lags := TransitiveLags(2, [][2]int{{0, 1}, {1, 0}}, []int64{1, 1}); lags != nil {
		t.Errorf("expected no lags for a cyclic graph, got %v", lags)
	}
	if lags := TransitiveLags(1, nil, []int64{4}); len(lags) != 0 {
		t.Errorf("expected no lags for one task, got %v", lags)
	}
}

func TestTwoJobsOneMachine(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1", Capacity: 1}},
		Jobs: []models.Job{
			{ID: "J1", Tasks: []models.Task{
				{ID: "J1T1", Position: 1, Modes: []models.Mode{{Machine: "M1", Duration: 2}}},
				{ID: "J1T2", Position: 2, Modes: []models.Mode{{Machine: "M1", Duration: 3}}},
			}},
			{ID: "J2", Tasks: []models.Task{
				{ID: "J2T1", Position: 1, Modes: []models.Mode{{Machine: "M1", Duration: 1}}},
				{ID: "J2T2", Position: 2, Modes: []models.Mode{{Machine: "M1", Duration: 4}}},
			}},
		},
	}
	s := solveWith(t, p, All, models.ObjectiveMakespan)
	if s.resp.Status != cpsat.Optimal || s.resp.ObjectiveValue != 10 {
		t.Fatalf("expected optimal makespan 10, got %v %d", s.resp.Status, s.resp.ObjectiveValue)
	}
	if s.start("J1T2") < s.start("J1T1")+2 || s.start("J2T2") < s.start("J2T1")+1 {
		t.Error("precedence violated")
	}
}

func TestWithoutCapacityTasksOverlap(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1"}},
		Jobs: []models.Job{
			{ID: "J1", Tasks: []models.Task{single("A", "", "M1", 3)}},
			{ID: "J2", Tasks: []models.Task{single("B", "", "M1", 4)}},
		},
	}
	s := solveWith(t, p, All&^Capacity, models.ObjectiveMakespan)
	if s.resp.ObjectiveValue != 4 {
		t.Errorf("expected makespan 4 without capacity, got %d", s.resp.ObjectiveValue)
	}
	s = solveWith(t, p, All, models.ObjectiveMakespan)
	if s.resp.ObjectiveValue != 7 {
		t.Errorf("expected makespan 7 with capacity, got %d", s.resp.ObjectiveValue)
	}
}

func TestCumulativeCapacity(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "OVEN", Capacity: 2}},
		Jobs: []models.Job{
			{ID: "J1", Tasks: []models.Task{single("A", "", "OVEN", 3)}},
			{ID: "J2", Tasks: []models.Task{single("B", "", "OVEN", 3)}},
			{ID: "J3", Tasks: []models.Task{single("C", "", "OVEN", 3)}},
		},
	}
	s := solveWith(t, p, All, models.ObjectiveMakespan)
	if s.resp.Status != cpsat.Optimal || s.resp.ObjectiveValue != 6 {
		t.Errorf("expected optimal makespan 6, got %v %d", s.resp.Status, s.resp.ObjectiveValue)
	}
}

func TestModeSelection(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "SLOW"}, {ID: "FAST"}},
		Jobs: []models.Job{{ID: "J1", Tasks: []models.Task{{
			ID: "A", Position: 1,
			Modes: []models.Mode{{Machine: "SLOW", Duration: 5}, {Machine: "FAST", Duration: 2}},
		}}}},
	}
	s := solveWith(t, p, All, models.ObjectiveMakespan)
	if s.resp.ObjectiveValue != 2 || s.mode("A") != 1 {
		t.Errorf("expected fast mode with makespan 2, got mode %d makespan %d", s.mode("A"), s.resp.ObjectiveValue)
	}
}

func TestSetupTimesChooseCheaperOrder(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1"}},
		Jobs: []models.Job{
			{ID: "J1", Tasks: []models.Task{single("A", "red", "M1", 2)}},
			{ID: "J2", Tasks: []models.Task{single("B", "blue", "M1", 3)}},
		},
		SetupTimes: []models.SetupTime{
			{Machine: "M1", From: "red", To: "blue", Duration: 4},
			{Machine: "M1", From: "blue", To: "red", Duration: 1},
		},
	}
	s := solveWith(t, p, All, models.ObjectiveMakespan)
	if s.resp.ObjectiveValue != 6 {
		t.Fatalf("expected makespan 6 (blue, setup 1, red), got %d", s.resp.ObjectiveValue)
	}
	if s.start("A") < s.start("B")+3+1 {
		t.Errorf("setup gap missing: A=%d B=%d", s.start("A"), s.start("B"))
	}

	s = solveWith(t, p, All&^SetupTimes, models.ObjectiveMakespan)
	if s.resp.ObjectiveValue != 5 {
		t.Errorf("expected makespan 5 without setups, got %d", s.resp.ObjectiveValue)
	}
}

// chainSetups makes X->Y->Z cheap, X->Z directly expensive and every way back dearer still.
func chainSetups(p *models.Problem, machine string) {
	for _, st := range []struct {
		from, to string
		d        int64
	}{
		{"X", "Y", 1}, {"Y", "Z", 1}, {"X", "Z", 10},
		{"Y", "X", 100}, {"Z", "Y", 100}, {"Z", "X", 100},
	} {
		p.SetupTimes = append(p.SetupTimes, models.SetupTime{Machine: machine, From: st.from, To: st.to, Duration: st.d})
	}
}

func TestSetupTimesOnlyBetweenNeighbours(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1"}},
		Jobs: []models.Job{
			{ID: "J1", Tasks: []models.Task{single("a", "X", "M1", 1)}},
			{ID: "J2", Tasks: []models.Task{single("b", "Y", "M1", 1)}},
			{ID: "J3", Tasks: []models.Task{single("c", "Z", "M1", 1)}},
		},
	}
	chainSetups(p, "M1")

	s := solveWith(t, p, All, models.ObjectiveMakespan)
	if s.resp.Status != cpsat.Optimal || s.resp.ObjectiveValue != 5 {
		t.Fatalf("expected optimal makespan 5, got %v %d", s.resp.Status, s.resp.ObjectiveValue)
	}
	for id, want := range map[string]int64{"a": 0, "b": 2, "c": 4} {
		if got := s.start(id); got != want {
			t.Errorf("start(%s) = %d, expected %d", id, got, want)
		}
	}
}

func TestSetupTimesIgnoreEmptyTasks(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1"}},
		Jobs: []models.Job{
			{ID: "J1", Tasks: []models.Task{single("a", "X", "M1", 1)}},
			{ID: "J2", Tasks: []models.Task{single("b", "Y", "M1", 0)}},
			{ID: "J3", Tasks: []models.Task{single("c", "Z", "M1", 1)}},
		},
	}
	chainSetups(p, "M1")

	// The empty Y task is not a changeover, so X to Z pays the direct setup.
	s := solveWith(t, p, All, models.ObjectiveMakespan)
	if s.resp.Status != cpsat.Optimal || s.resp.ObjectiveValue != 12 {
		t.Fatalf("expected optimal makespan 12, got %v %d", s.resp.Status, s.resp.ObjectiveValue)
	}
	if s.start("c") < s.start("a")+1+10 {
		t.Errorf("direct setup missing: a=%d c=%d", s.start("a"), s.start("c"))
	}
}

func TestSetupTimesOnSharedMachineWarn(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "OVEN", Capacity: 2}, {ID: "M1"}},
		Jobs: []models.Job{
			{ID: "J1", Tasks: []models.Task{single("a", "X", "OVEN", 2)}},
			{ID: "J2", Tasks: []models.Task{single("b", "Z", "OVEN", 2)}},
		},
	}
	chainSetups(p, "OVEN")
	chainSetups(p, "M1")

	cp := cpsat.NewBuilder()
	vars, err := variables.Build(cp, p, variables.DefaultOptions())
	if err != nil {
		t.Fatalf("variables.Build failed: %v", err)
	}
	b := New(cp, p, vars, Options{})
	if err := b.Apply(All); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	st := b.Stats()
	if st.SetupMachines != 0 {
		t.Errorf("expected no sequenced machines, got %d", st.SetupMachines)
	}
	if len(st.Warnings) != 1 || !strings.Contains(st.Warnings[0], "OVEN") {
		t.Errorf("expected one warning naming OVEN, got %q", st.Warnings)
	}
}

func TestAvailabilityWindows(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1", Windows: []models.Window{{Start: 0, End: 3}, {Start: 5, End: 20}}}},
		Jobs:     []models.Job{{ID: "J1", Tasks: []models.Task{single("A", "", "M1", 4)}}},
	}
	s := solveWith(t, p, All, models.ObjectiveMakespan)
	if s.resp.ObjectiveValue != 9 || s.start("A") != 5 {
		t.Errorf("expected A to start at 5 and end at 9, got start %d makespan %d", s.start("A"), s.resp.ObjectiveValue)
	}
}

func TestAvailabilityExcludesModes(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{
			{ID: "FAST", Windows: []models.Window{{Start: 0, End: 2}}},
			{ID: "SLOW"},
		},
		Jobs: []models.Job{{ID: "J1", Tasks: []models.Task{{
			ID: "A", Position: 1,
			Modes: []models.Mode{{Machine: "FAST", Duration: 3}, {Machine: "SLOW", Duration: 6}},
		}}}},
	}
	s := solveWith(t, p, All, models.ObjectiveMakespan)
	if s.mode("A") != 1 || s.resp.ObjectiveValue != 6 {
		t.Errorf("expected slow mode, got mode %d makespan %d", s.mode("A"), s.resp.ObjectiveValue)
	}
}

func TestAvailabilityNoFittingWindow(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1", Windows: []models.Window{{Start: 0, End: 5}}}},
		Jobs:     []models.Job{{ID: "J1", Tasks: []models.Task{single("A", "", "M1", 6)}}},
	}
	cp := cpsat.NewBuilder()
	vars, err := variables.Build(cp, p, variables.DefaultOptions())
	if err != nil {
		t.Fatalf("variables.Build failed: %v", err)
	}
	err = New(cp, p, vars, Options{}).Apply(All)
	if !errors.Is(err, models.ErrNoFeasibleMode) {
		t.Fatalf("expected ErrNoFeasibleMode, got %v", err)
	}
	var ve *models.ValidationError
	if !errors.As(err, &ve) || ve.Subject != "task A" {
		t.Errorf("expected validation error on task A, got %v", err)
	}
}

func TestWeightedTardiness(t *testing.T) {
	due := int64(3)
	light, heavy := int64(1), int64(5)
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1"}},
		Jobs: []models.Job{
			{ID: "J1", DueDate: &due, Weight: &light, Tasks: []models.Task{single("A", "", "M1", 3)}},
			{ID: "J2", DueDate: &due, Weight: &heavy, Tasks: []models.Task{single("B", "", "M1", 3)}},
		},
	}
	s := solveWith(t, p, All, models.ObjectiveWeightedTardiness)
	if s.resp.Status != cpsat.Optimal || s.resp.ObjectiveValue != 3 {
		t.Fatalf("expected optimal tardiness 3, got %v %d", s.resp.Status, s.resp.ObjectiveValue)
	}
	if s.start("B") != 0 {
		t.Errorf("expected the heavy job first, B started at %d", s.start("B"))
	}

	s = solveWith(t, p, All, models.ObjectiveLexicographic)
	tard, span := LexicographicParts(s.resp.ObjectiveValue, s.vars.Horizon)
	if tard != 3 || span != 6 {
		t.Errorf("expected tardiness 3 and makespan 6, got %d and %d", tard, span)
	}
}

func TestClosureLimit(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1"}, {ID: "M2"}, {ID: "M3"}},
		Jobs: []models.Job{{ID: "J1", Tasks: []models.Task{
			{ID: "A", Position: 1, Modes: []models.Mode{{Machine: "M1", Duration: 1}}},
			{ID: "B", Position: 2, Modes: []models.Mode{{Machine: "M2", Duration: 1}}},
			{ID: "C", Position: 3, Modes: []models.Mode{{Machine: "M3", Duration: 1}}},
		}}},
	}
	for _, tt := range []struct {
		limit   int
		closure int
	}{{DefaultClosureLimit, 1}, {2, 0}} {
		cp := cpsat.NewBuilder()
		vars, err := variables.Build(cp, p, variables.DefaultOptions())
		if err != nil {
			t.Fatalf("variables.Build failed: %v", err)
		}
		b := New(cp, p, vars, Options{ClosureLimit: tt.limit})
		b.AddPrecedence()
		if st := b.Stats(); st.Precedences != 2 || st.ClosureEdges != tt.closure {
			t.Errorf("limit %d: unexpected stats %+v", tt.limit, st)
		}
	}
}

func TestSkipPrecedence(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1"}, {ID: "M2"}},
		Jobs: []models.Job{{ID: "J1", Tasks: []models.Task{
			{ID: "A", Position: 1, Modes: []models.Mode{{Machine: "M1", Duration: 2}}},
			{ID: "B", Position: 2, Modes: []models.Mode{{Machine: "M2", Duration: 2}}},
		}}},
	}
	cp := cpsat.NewBuilder()
	vars, err := variables.Build(cp, p, variables.DefaultOptions())
	if err != nil {
		t.Fatalf("variables.Build failed: %v", err)
	}
	b := New(cp, p, vars, Options{})
	b.SkipPrecedence(0)
	if err := b.Apply(All); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if st := b.Stats(); st.Precedences != 0 {
		t.Errorf("expected skipped job to add no precedences, got %d", st.Precedences)
	}
}

func TestUnknownObjective(t *testing.T) {
	p := &models.Problem{
		Machines: []models.Machine{{ID: "M1"}},
		Jobs:     []models.Job{{ID: "J1", Tasks: []models.Task{single("A", "", "M1", 1)}}},
	}
	cp := cpsat.NewBuilder()
	vars, _ := variables.Build(cp, p, variables.DefaultOptions())
	err := New(cp, p, vars, Options{}).Objective("fastest")
	if !errors.Is(err, models.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}
