// SPDX-License-Identifier: MPL-2.0

package uninstall

import "time"

const (
	// StatusSuccess means every step was applied.
	StatusSuccess Status = "success"
	// StatusRolledBack means a step failed and every applied step was reverted.
	StatusRolledBack Status = "rolled_back"
	// StatusPartial means a step failed and rollback could not revert everything.
	StatusPartial Status = "partial"
)

const (
	// StepApplied means the step's effect is in place.
	StepApplied StepState = "applied"
	// StepFailed means the step returned an error.
	StepFailed StepState = "failed"
	// StepSkipped means the step was never attempted.
	StepSkipped StepState = "skipped"
	// StepReverted means the step was applied and then rolled back.
	StepReverted StepState = "reverted"
)

type (
	// Status is the final state of an execution.
	Status string

	// StepState is the final state of a single step.
	StepState string

	// StepOutcome pairs a step with what happened to it.
	StepOutcome struct {
		Step  Step      `json:"step"`
		State StepState `json:"state"`
		Error string    `json:"error,omitempty"`
	}

	// ExecutionResult reports an executed plan.
	ExecutionResult struct {
		Status    Status        `json:"status"`
		Packages  []string      `json:"packages"`
		Removed   []string      `json:"removed"`
		Protected []Protected   `json:"protected,omitempty"`
		Missing   []string      `json:"missing,omitempty"`
		Steps     []StepOutcome `json:"steps"`
		// StashDir is only set when a partial removal left entries behind in it.
		StashDir string        `json:"stash_dir,omitempty"`
		Duration time.Duration `json:"duration_ns"`
		Error    string        `json:"error,omitempty"`
	}
)

// stepsIn returns the steps whose outcome is in state.
func (r *ExecutionResult) stepsIn(state StepState) []Step {
	var steps []Step
	for _, o := range r.Steps {
		if o.State == state {
			steps = append(steps, o.Step)
		}
	}
	return steps
}
