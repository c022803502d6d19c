// Package bench measures cold against warm-started re-solves on generated problems.
package bench

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/fentz26/jobshop/internal/engine"
	"github.com/fentz26/jobshop/internal/generate"
	"github.com/fentz26/jobshop/internal/models"
)

// Case is one generated problem family and the change applied before re-solving.
type Case struct {
	Name         string
	Gen          generate.Config
	InstanceSeed int64
	// AddTasks is the size of the job appended before the re-solve.
	AddTasks int
}

type Record struct {
	Case  string
	Jobs  int
	Tasks int
	Runs  int

	ColdBestMs float64
	ColdMeanMs float64
	ColdStdMs  float64
	WarmBestMs float64
	WarmMeanMs float64
	WarmStdMs  float64

	ColdObjBest int64
	ColdObjMean float64
	WarmObjBest int64
	WarmObjMean float64

	HintUsed int
	Speedup  float64
}

type Runner struct {
	Runs     int
	BaseSeed int64
	Engine   engine.Config
	// Solve defaults to engine.Solve.
	Solve         func(ctx context.Context, p *models.Problem, cfg engine.Config) (*models.Result, error)
	PerRunTimeout time.Duration // 0 = no timeout
}

// RunCase solves the generated problem, appends a job, then re-solves it cold and
// warm-started from the first solution, Runs times.
func (r Runner) RunCase(ctx context.Context, c Case) (Record, error) {
	solve := r.Solve
	if solve == nil {
		solve = engine.Solve
	}

	coldMs := make([]float64, 0, r.Runs)
	warmMs := make([]float64, 0, r.Runs)
	coldObj := make([]int64, 0, r.Runs)
	warmObj := make([]int64, 0, r.Runs)
	hinted := 0
	var tasks, jobs int

	for i := 0; i < r.Runs; i++ {
		runSeed := r.BaseSeed + int64(i)

		p, err := generate.RandomProblem(c.Gen, randForSeed(c.InstanceSeed))
		if err != nil {
			return Record{}, fmt.Errorf("case %s: %w", c.Name, err)
		}
		base, _, err := r.timed(ctx, solve, p, r.Engine)
		if err != nil {
			return Record{}, fmt.Errorf("run %d: base solve: %w", i, err)
		}
		if base.Solution == nil {
			return Record{}, fmt.Errorf("run %d: base solve found no schedule (%s)", i, base.Status)
		}

		generate.AppendJob(p, max(c.AddTasks, 1), c.Gen, randForSeed(runSeed))
		jobs, tasks = len(p.Jobs), p.TaskCount()

		cold, coldDur, err := r.timed(ctx, solve, p, r.Engine)
		if err != nil {
			return Record{}, fmt.Errorf("run %d: cold solve: %w", i, err)
		}
		warmCfg := r.Engine
		warmCfg.Hint = base.Solution
		warm, warmDur, err := r.timed(ctx, solve, p, warmCfg)
		if err != nil {
			return Record{}, fmt.Errorf("run %d: warm solve: %w", i, err)
		}
		if cold.Solution == nil || warm.Solution == nil {
			return Record{}, fmt.Errorf("run %d: re-solve found no schedule (cold %s, warm %s)", i, cold.Status, warm.Status)
		}
		if warm.Diagnostics.HintUsed {
			hinted++
		}

		coldMs = append(coldMs, float64(coldDur.Microseconds())/1000.0)
		warmMs = append(warmMs, float64(warmDur.Microseconds())/1000.0)
		coldObj = append(coldObj, cold.Solution.Objective)
		warmObj = append(warmObj, warm.Solution.Objective)
	}

	ct, wt := CalcFloatStats(coldMs), CalcFloatStats(warmMs)
	co, wo := CalcIntStats(coldObj), CalcIntStats(warmObj)
	rec := Record{
		Case:  c.Name,
		Jobs:  jobs,
		Tasks: tasks,
		Runs:  r.Runs,

		ColdBestMs: ct.Best,
		ColdMeanMs: ct.Mean,
		ColdStdMs:  ct.Std,
		WarmBestMs: wt.Best,
		WarmMeanMs: wt.Mean,
		WarmStdMs:  wt.Std,

		ColdObjBest: co.Best,
		ColdObjMean: co.Mean,
		WarmObjBest: wo.Best,
		WarmObjMean: wo.Mean,

		HintUsed: hinted,
	}
	if wt.Mean > 0 {
		rec.Speedup = ct.Mean / wt.Mean
	}
	return rec, nil
}

func (r Runner) timed(ctx context.Context, solve func(context.Context, *models.Problem, engine.Config) (*models.Result, error), p *models.Problem, cfg engine.Config) (*models.Result, time.Duration, error) {
	runCtx := ctx
	cancel := func() {}
	if r.PerRunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.PerRunTimeout)
	}
	defer cancel()

	start := time.Now()
	res, err := solve(runCtx, p, cfg)
	dur := time.Since(start)
	if err != nil {
		return nil, dur, err
	}
	return res, dur, nil
}

func WriteCSV(path string, records []Record) error {
	if d := dirOf(path); d != "" {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"case", "jobs", "tasks", "runs",
		"cold_best_ms", "cold_mean_ms", "cold_std_ms",
		"warm_best_ms", "warm_mean_ms", "warm_std_ms",
		"cold_obj_best", "cold_obj_mean", "warm_obj_best", "warm_obj_mean",
		"hint_used", "speedup",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		row := []string{
			r.Case,
			itoa(r.Jobs),
			itoa(r.Tasks),
			itoa(r.Runs),

			ftoa(r.ColdBestMs),
			ftoa(r.ColdMeanMs),
			ftoa(r.ColdStdMs),
			ftoa(r.WarmBestMs),
			ftoa(r.WarmMeanMs),
			ftoa(r.WarmStdMs),

			i64toa(r.ColdObjBest),
			ftoa(r.ColdObjMean),
			i64toa(r.WarmObjBest),
			ftoa(r.WarmObjMean),

			itoa(r.HintUsed),
			ftoa(r.Speedup),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
