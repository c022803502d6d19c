// Package config loads jobshop settings from YAML, a .env file and JOBSHOP_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/jobshop/internal/constraints"
	"github.com/fentz26/jobshop/internal/engine"
	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/scheduler"
	"github.com/fentz26/jobshop/internal/search"
	"github.com/fentz26/jobshop/internal/variables"
)

// Environment variables that override the file.
const (
	EnvTimeLimit = "JOBSHOP_TIME_LIMIT"
	EnvWorkers   = "JOBSHOP_WORKERS"
	EnvObjective = "JOBSHOP_OBJECTIVE"
	EnvDBDriver  = "JOBSHOP_DB_DRIVER"
	EnvDBDSN     = "JOBSHOP_DB_DSN"
	EnvTelemetry = "JOBSHOP_TELEMETRY"
)

// Config is the full jobshop configuration.
type Config struct {
	Solver    SolverConfig     `yaml:"solver"`
	Model     ModelConfig      `yaml:"model"`
	Store     StoreConfig      `yaml:"store"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	// Telemetry exports traces, metrics and logs to stderr.
	Telemetry bool `yaml:"telemetry"`
}

// SolverConfig holds search settings.
type SolverConfig struct {
	Objective          string        `yaml:"objective"`
	TimeLimit          time.Duration `yaml:"time_limit"`
	Workers            int           `yaml:"workers"`
	LinearizationLevel int           `yaml:"linearization_level"`
	EscalateOnStall    bool          `yaml:"escalate_on_stall"`
	Branching          string        `yaml:"branching"`
	HintConflictLimit  int           `yaml:"hint_conflict_limit"`
	RelativeGap        float64       `yaml:"relative_gap"`
	Seed               int64         `yaml:"seed"`
}

// ModelConfig holds model construction settings.
type ModelConfig struct {
	// Families lists the enabled constraint families; "all" enables every family.
	Families      []string `yaml:"families"`
	HorizonBuffer float64  `yaml:"horizon_buffer"`
	Horizon       int64    `yaml:"horizon,omitempty"`
	ClosureLimit  int      `yaml:"closure_limit"`
	Patterns      bool     `yaml:"patterns"`
	AutoDetect    bool     `yaml:"auto_detect"`
	Symmetry      bool     `yaml:"symmetry"`
}

// StoreConfig selects the run journal database.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	sp := search.DefaultParams()
	return &Config{
		Solver: SolverConfig{
			Objective:          string(models.ObjectiveMakespan),
			TimeLimit:          sp.TimeLimit,
			Workers:            sp.Workers,
			LinearizationLevel: sp.LinearizationLevel,
			EscalateOnStall:    sp.EscalateOnStall,
			Branching:          string(sp.Branching),
			HintConflictLimit:  sp.HintConflictLimit,
		},
		Model: ModelConfig{
			Families:      []string{"all"},
			HorizonBuffer: variables.DefaultHorizonBuffer,
			ClosureLimit:  constraints.DefaultClosureLimit,
			Patterns:      true,
			Symmetry:      true,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(defaultDir(), "jobshop.db"),
		},
		Scheduler: *scheduler.DefaultConfig(),
	}
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jobshop"
	}
	return filepath.Join(home, ".jobshop")
}

// DefaultPath returns ~/.jobshop/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultDir(), "config.yaml")
}

// Load reads path over the defaults, then applies .env and environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from JOBSHOP_* variables looked up through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvTimeLimit); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeLimit, err)
		}
		c.Solver.TimeLimit = d
	}
	if v := getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Solver.Workers = n
	}
	if v := getenv(EnvObjective); v != "" {
		c.Solver.Objective = v
	}
	if v := getenv(EnvDBDriver); v != "" {
		c.Store.Driver = v
	}
	if v := getenv(EnvDBDSN); v != "" {
		c.Store.DSN = v
	}
	if v := getenv(EnvTelemetry); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTelemetry, err)
		}
		c.Telemetry = b
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.Engine(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid store driver %q, must be: sqlite or postgres", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return errors.New("store dsn must not be empty")
	}
	return c.Scheduler.Validate()
}

// Engine converts the solver and model sections to an engine configuration.
func (c *Config) Engine() (engine.Config, error) {
	families, err := constraints.ParseFamilies(c.Model.Families)
	if err != nil {
		return engine.Config{}, err
	}
	if families == 0 {
		return engine.Config{}, errors.New("at least one constraint family must be enabled")
	}
	ec := engine.Config{
		Objective: models.Objective(strings.ToLower(c.Solver.Objective)),
		Families:  families,
		Variables: variables.Options{HorizonBuffer: c.Model.HorizonBuffer, Horizon: c.Model.Horizon},
		Search: search.Params{
			TimeLimit:          c.Solver.TimeLimit,
			Workers:            c.Solver.Workers,
			LinearizationLevel: c.Solver.LinearizationLevel,
			EscalateOnStall:    c.Solver.EscalateOnStall,
			Branching:          search.Branching(c.Solver.Branching),
			HintConflictLimit:  c.Solver.HintConflictLimit,
			RelativeGap:        c.Solver.RelativeGap,
			Seed:               c.Solver.Seed,
		},
		ClosureLimit: c.Model.ClosureLimit,
		Patterns:     c.Model.Patterns,
		AutoDetect:   c.Model.AutoDetect,
		Symmetry:     c.Model.Symmetry,
	}
	if err := ec.Validate(); err != nil {
		return engine.Config{}, err
	}
	return ec, nil
}

// Save writes cfg as YAML, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
