package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/jobshop/internal/bench"
	"github.com/fentz26/jobshop/internal/generate"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare cold and warm-started re-solves on generated problems",
	RunE:  runBench,
}

var (
	benchCases        string
	benchRuns         int
	benchSeed         int64
	benchInstanceSeed int64
	benchAddTasks     int
	benchTimeLimit    time.Duration
	benchPerRunTO     time.Duration
	benchOut          string
)

func init() {
	f := benchCmd.Flags()
	f.StringVar(&benchCases, "cases", "5x4x3,8x5x4,12x5x5", "Problem shapes as jobs x tasks x machines, comma separated")
	f.IntVar(&benchRuns, "runs", 5, "Runs per case")
	f.Int64Var(&benchSeed, "seed", 1000, "Base seed for the appended jobs")
	f.Int64Var(&benchInstanceSeed, "instance-seed", 777, "Base seed for problem generation")
	f.IntVar(&benchAddTasks, "add-tasks", 2, "Tasks in the job appended before re-solving")
	f.DurationVar(&benchTimeLimit, "time-limit", 10*time.Second, "Search time limit per solve")
	f.DurationVar(&benchPerRunTO, "per-run-timeout", 0, "Wall-clock cap per solve (0 = none)")
	f.StringVarP(&benchOut, "out", "o", "", "Write records to a CSV file")
}

func runBench(cmd *cobra.Command, args []string) error {
	cases, err := parseCases(benchCases, benchInstanceSeed, benchAddTasks)
	if err != nil {
		return err
	}
	ec, err := cfg.Engine()
	if err != nil {
		return err
	}
	ec.Search.TimeLimit = benchTimeLimit

	r := bench.Runner{Runs: benchRuns, BaseSeed: benchSeed, Engine: ec, PerRunTimeout: benchPerRunTO}
	records := make([]bench.Record, 0, len(cases))
	for _, c := range cases {
		fmt.Fprintf(os.Stderr, "running %s (%d runs)\n", c.Name, benchRuns)
		rec, err := r.RunCase(cmd.Context(), c)
		if err != nil {
			return fmt.Errorf("case %s: %w", c.Name, err)
		}
		records = append(records, rec)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CASE\tTASKS\tCOLD MS\tWARM MS\tSPEEDUP\tCOLD OBJ\tWARM OBJ\tHINTED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%d\t%.1f±%.1f\t%.1f±%.1f\t%.2fx\t%.1f\t%.1f\t%d/%d\n",
			rec.Case, rec.Tasks, rec.ColdMeanMs, rec.ColdStdMs, rec.WarmMeanMs, rec.WarmStdMs,
			rec.Speedup, rec.ColdObjMean, rec.WarmObjMean, rec.HintUsed, rec.Runs)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if benchOut != "" {
		if err := bench.WriteCSV(benchOut, records); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "records written to %s\n", benchOut)
	}
	return nil
}

// parseCases reads shapes like "10x5x4" into generator cases with fixed instance seeds.
func parseCases(s string, baseInstanceSeed int64, addTasks int) ([]bench.Case, error) {
	parts := splitCSV(s)
	if len(parts) == 0 {
		return nil, fmt.Errorf("no cases given")
	}
	cases := make([]bench.Case, 0, len(parts))
	for i, p := range parts {
		dims := strings.Split(p, "x")
		if len(dims) != 3 {
			return nil, fmt.Errorf("case %q: want jobs x tasks x machines, e.g. 10x5x4", p)
		}
		var n [3]int
		for k, d := range dims {
			v, err := strconv.Atoi(strings.TrimSpace(d))
			if err != nil {
				return nil, fmt.Errorf("case %q: %w", p, err)
			}
			if v <= 0 {
				return nil, fmt.Errorf("case %q: dimensions must be > 0", p)
			}
			n[k] = v
		}

		gen := generate.DefaultConfig()
		gen.Jobs, gen.TasksPerJob, gen.Machines = n[0], n[1], n[2]
		cases = append(cases, bench.Case{
			Name:         p,
			Gen:          gen,
			InstanceSeed: baseInstanceSeed + int64(i)*10_000 + int64(n[0])*100 + int64(n[2]),
			AddTasks:     addTasks,
		})
	}
	return cases, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
