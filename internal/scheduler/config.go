// Package scheduler runs journaled solve requests on a bounded worker pool.
package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// Config defines the scheduler configuration.
type Config struct {
	// GlobalMax is the maximum number of concurrent solves.
	GlobalMax int `yaml:"global_max"`
	// ByObjective defines per-objective concurrency limits.
	ByObjective map[string]int `yaml:"by_objective"`
	// PollInterval is how often the queue is checked for pending runs.
	PollInterval time.Duration `yaml:"poll_interval"`
	// SolveTimeout caps the wall time of one run on top of its own time limit. Zero means
	// no cap.
	SolveTimeout time.Duration `yaml:"solve_timeout"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		GlobalMax: 2,
		ByObjective: map[string]int{
			"makespan":           2,
			"weighted_tardiness": 1,
			"lexicographic":      1,
		},
		PollInterval: time.Second,
		SolveTimeout: 10 * time.Minute,
	}
}

// GetObjectiveLimit returns the concurrency limit for an objective.
func (c Config) GetObjectiveLimit(objective string) int {
	if limit, ok := c.ByObjective[objective]; ok {
		return limit
	}
	// Default limit if not specified
	return 1
}

// Validate checks the limits and intervals.
func (c Config) Validate() error {
	if c.GlobalMax < 1 {
		return fmt.Errorf("scheduler global_max must be >= 1, got %d", c.GlobalMax)
	}
	for obj, limit := range c.ByObjective {
		if limit < 1 {
			return fmt.Errorf("scheduler limit for %q must be >= 1, got %d", obj, limit)
		}
	}
	if c.PollInterval <= 0 {
		return errors.New("scheduler poll_interval must be positive")
	}
	if c.SolveTimeout < 0 {
		return errors.New("scheduler solve_timeout must not be negative")
	}
	return nil
}
