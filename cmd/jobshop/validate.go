package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fentz26/jobshop/internal/models"
)

var validateCmd = &cobra.Command{
	Use:   "validate [problem-file]",
	Short: "Check a problem file, and optionally a solution against it",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var validateSolution string

func init() {
	validateCmd.Flags().StringVar(&validateSolution, "solution", "", "Solution file to verify against the problem")
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, err := models.LoadProblem(args[0])
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("problem invalid: %w", err)
	}
	fmt.Printf("Problem %s: %d jobs, %d tasks, %d machines\n", p.Name, len(p.Jobs), p.TaskCount(), len(p.Machines))

	if validateSolution == "" {
		return nil
	}
	sol, err := models.LoadSolution(validateSolution)
	if err != nil {
		return err
	}
	if err := models.Verify(p, sol); err != nil {
		return fmt.Errorf("solution invalid: %w", err)
	}
	fmt.Printf("Solution valid: makespan %d, weighted tardiness %d\n", sol.Makespan, sol.WeightedTardiness)
	return nil
}
