// Package generate builds random job-shop problems for tests, benchmarks and the CLI.
package generate

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/fentz26/jobshop/internal/models"
)

// Config shapes a random problem.
type Config struct {
	Jobs        int   `yaml:"jobs"`
	TasksPerJob int   `yaml:"tasks_per_job"`
	Machines    int   `yaml:"machines"`
	MinDuration int64 `yaml:"min_duration"`
	MaxDuration int64 `yaml:"max_duration"`
	// AltModeProb is the chance that a task gets a second mode on another machine.
	AltModeProb float64 `yaml:"alt_mode_prob"`
	// Patterns, when > 0, draws that many job templates and assigns jobs to them round-robin.
	Patterns int `yaml:"patterns"`
	// Types is the number of task types; setups between types are drawn from [1, MaxSetup].
	Types    int   `yaml:"types"`
	MaxSetup int64 `yaml:"max_setup"`
	// DueSlack, when > 0, sets each due date to the job's total minimum duration times it.
	DueSlack float64 `yaml:"due_slack"`
}

// DefaultConfig returns a small flexible job shop.
func DefaultConfig() Config {
	return Config{
		Jobs:        5,
		TasksPerJob: 4,
		Machines:    3,
		MinDuration: 1,
		MaxDuration: 9,
		AltModeProb: 0.3,
	}
}

func (c Config) Validate() error {
	if c.Jobs <= 0 {
		return fmt.Errorf("jobs must be > 0 (got %d)", c.Jobs)
	}
	if c.TasksPerJob <= 0 {
		return fmt.Errorf("tasks per job must be > 0 (got %d)", c.TasksPerJob)
	}
	if c.Machines <= 0 {
		return fmt.Errorf("machines must be > 0 (got %d)", c.Machines)
	}
	if c.MinDuration < 0 || c.MaxDuration < c.MinDuration {
		return fmt.Errorf("invalid duration bounds [%d,%d]", c.MinDuration, c.MaxDuration)
	}
	if c.AltModeProb < 0 || c.AltModeProb > 1 {
		return fmt.Errorf("alt mode probability must be in [0,1] (got %g)", c.AltModeProb)
	}
	if c.Patterns < 0 || c.Types < 0 || c.MaxSetup < 0 || c.DueSlack < 0 {
		return errors.New("patterns, types, max setup and due slack must be >= 0")
	}
	return nil
}

// RandomProblem draws a problem from cfg using rng.
func RandomProblem(cfg Config, rng *rand.Rand) (*models.Problem, error) {
	if rng == nil {
		return nil, errors.New("random source is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &models.Problem{
		Name:            fmt.Sprintf("random-%dx%dx%d", cfg.Jobs, cfg.TasksPerJob, cfg.Machines),
		TimeUnitMinutes: models.DefaultTimeUnitMinutes,
	}
	for m := 0; m < cfg.Machines; m++ {
		p.Machines = append(p.Machines, models.Machine{ID: machineID(m), Capacity: 1})
	}
	if cfg.Types > 1 && cfg.MaxSetup > 0 {
		for m := 0; m < cfg.Machines; m++ {
			for a := 0; a < cfg.Types; a++ {
				for b := 0; b < cfg.Types; b++ {
					if a == b {
						continue
					}
					p.SetupTimes = append(p.SetupTimes, models.SetupTime{
						Machine:  machineID(m),
						From:     typeName(a),
						To:       typeName(b),
						Duration: 1 + rng.Int63n(cfg.MaxSetup),
					})
				}
			}
		}
	}

	var templates [][]models.Task
	for i := 0; i < cfg.Patterns; i++ {
		templates = append(templates, randomTasks(cfg, rng))
	}
	for j := 0; j < cfg.Jobs; j++ {
		id := fmt.Sprintf("J%d", j+1)
		job := models.Job{ID: id}
		var tasks []models.Task
		if len(templates) > 0 {
			k := j % len(templates)
			job.PatternID = fmt.Sprintf("P%d", k+1)
			tasks = append([]models.Task(nil), templates[k]...)
		} else {
			tasks = randomTasks(cfg, rng)
		}
		for t := range tasks {
			tasks[t].ID = fmt.Sprintf("%s-T%d", id, t+1)
			tasks[t].Modes = append([]models.Mode(nil), tasks[t].Modes...)
		}
		job.Tasks = tasks
		setDueDate(&job, cfg)
		p.Jobs = append(p.Jobs, job)
	}
	return p, nil
}

// AppendJob adds one random job with the given number of tasks, as a new order arriving
// after a schedule was computed.
func AppendJob(p *models.Problem, tasks int, cfg Config, rng *rand.Rand) *models.Job {
	cfg.TasksPerJob = tasks
	cfg.Machines = len(p.Machines)
	id := fmt.Sprintf("J%d", len(p.Jobs)+1)
	job := models.Job{ID: id, Tasks: randomTasks(cfg, rng)}
	for t := range job.Tasks {
		job.Tasks[t].ID = fmt.Sprintf("%s-T%d", id, t+1)
	}
	setDueDate(&job, cfg)
	p.Jobs = append(p.Jobs, job)
	return &p.Jobs[len(p.Jobs)-1]
}

// randomTasks draws a route visiting machines in random order, repeating when a job has
// more tasks than there are machines.
func randomTasks(cfg Config, rng *rand.Rand) []models.Task {
	route := rng.Perm(cfg.Machines)
	tasks := make([]models.Task, cfg.TasksPerJob)
	for t := range tasks {
		m := route[t%len(route)]
		modes := []models.Mode{{Machine: machineID(m), Duration: duration(cfg, rng)}}
		if cfg.Machines > 1 && rng.Float64() < cfg.AltModeProb {
			alt := (m + 1 + rng.Intn(cfg.Machines-1)) % cfg.Machines
			modes = append(modes, models.Mode{Machine: machineID(alt), Duration: duration(cfg, rng)})
		}
		tasks[t] = models.Task{Position: t + 1, Modes: modes}
		if cfg.Types > 0 {
			tasks[t].Type = typeName(rng.Intn(cfg.Types))
		}
	}
	return tasks
}

func setDueDate(job *models.Job, cfg Config) {
	if cfg.DueSlack <= 0 {
		return
	}
	var sum int64
	for _, t := range job.Tasks {
		sum += t.MinDuration()
	}
	due := int64(float64(sum) * cfg.DueSlack)
	job.DueDate = &due
}

func duration(cfg Config, rng *rand.Rand) int64 {
	span := cfg.MaxDuration - cfg.MinDuration + 1
	d := cfg.MinDuration
	if span > 1 {
		d += rng.Int63n(span)
	}
	return d
}

func machineID(i int) string { return fmt.Sprintf("M%d", i+1) }

func typeName(i int) string { return fmt.Sprintf("type-%c", 'a'+rune(i%26)) }
