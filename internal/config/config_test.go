package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/jobshop/internal/constraints"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/search"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	ec, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine failed: %v", err)
	}
	if ec.Families != constraints.All || ec.Objective != models.ObjectiveMakespan {
		t.Errorf("unexpected engine config %+v", ec)
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Solver.TimeLimit != DefaultConfig().Solver.TimeLimit {
		t.Errorf("expected default time limit, got %v", cfg.Solver.TimeLimit)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.yaml")
	doc := `
solver:
  objective: weighted_tardiness
  time_limit: 5s
  branching: fixed
model:
  families: [duration, exactly_one_mode, precedence, capacity]
scheduler:
  global_max: 4
  poll_interval: 250ms
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvWorkers, "3")
	t.Setenv(EnvDBDriver, "postgres")
	t.Setenv(EnvDBDSN, "postgres://localhost/jobshop?sslmode=disable")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Solver.Objective != "weighted_tardiness" || cfg.Solver.TimeLimit != 5*time.Second {
		t.Errorf("file values not applied: %+v", cfg.Solver)
	}
	if cfg.Solver.Workers != 3 || cfg.Store.Driver != "postgres" {
		t.Errorf("env overrides not applied: %+v %+v", cfg.Solver, cfg.Store)
	}
	if cfg.Scheduler.GlobalMax != 4 || cfg.Scheduler.PollInterval != 250*time.Millisecond {
		t.Errorf("scheduler section not applied: %+v", cfg.Scheduler)
	}

	ec, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine failed: %v", err)
	}
	if ec.Families.Has(constraints.SetupTimes) || !ec.Families.Has(constraints.Capacity) {
		t.Errorf("unexpected families %s", ec.Families)
	}
	if ec.Search.Branching != search.BranchingFixed || ec.Search.Workers != 3 {
		t.Errorf("unexpected search params %+v", ec.Search)
	}
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvTimeLimit+"=2s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv(EnvTimeLimit) })

	cfg, err := Load(filepath.Join(dir, "none.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Solver.TimeLimit != 2*time.Second {
		t.Errorf("expected .env time limit, got %v", cfg.Solver.TimeLimit)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	for _, key := range []string{EnvTimeLimit, EnvWorkers, EnvTelemetry} {
		cfg := DefaultConfig()
		err := cfg.ApplyEnv(func(k string) string {
			if k == key {
				return "not-a-value"
			}
			return ""
		})
		if err == nil {
			t.Errorf("%s: expected a parse error", key)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"objective": func(c *Config) { c.Solver.Objective = "fastest" },
		"families":  func(c *Config) { c.Model.Families = []string{"bogus"} },
		"none":      func(c *Config) { c.Model.Families = nil },
		"driver":    func(c *Config) { c.Store.Driver = "mysql" },
		"dsn":       func(c *Config) { c.Store.DSN = "" },
		"scheduler": func(c *Config) { c.Scheduler.GlobalMax = 0 },
		"branching": func(c *Config) { c.Solver.Branching = "random" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Solver.Objective = "lexicographic"
	cfg.Store.DSN = filepath.Join(dir, "j.db")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Solver.Objective != "lexicographic" || got.Store.DSN != cfg.Store.DSN {
		t.Errorf("round trip lost values: %+v", got)
	}
	if err := Save(path, nil); err == nil {
		t.Error("expected error saving nil config")
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restoring working directory: %v", err)
		}
	})
}
