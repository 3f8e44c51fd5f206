package agent

import (
	"errors"
	"fmt"
	"time"
)

// RunConfig holds the budgets and thresholds of one run.
// It is stored alongside each checkpoint.
type RunConfig struct {
	MaxIterations            int           `json:"max_iterations"`
	CheckpointInterval       int           `json:"checkpoint_interval"`
	ErrorThreshold           int           `json:"error_threshold"`
	DiagnosticThreshold      int           `json:"diagnostic_threshold"`
	CompletionThreshold      float64       `json:"completion_threshold"`
	MinPlanConfidence        float64       `json:"min_plan_confidence"`
	ReflectionWindow         int           `json:"reflection_window"`
	TimeBudget               time.Duration `json:"time_budget,omitempty"`
	StepTimeout              time.Duration `json:"step_timeout,omitempty"`
	TolerateCheckpointErrors bool          `json:"tolerate_checkpoint_errors,omitempty"`
}

// DefaultRunConfig returns the default budgets.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MaxIterations:       10,
		CheckpointInterval:  3,
		ErrorThreshold:      3,
		DiagnosticThreshold: 2,
		CompletionThreshold: 0.7,
		MinPlanConfidence:   0.5,
		ReflectionWindow:    5,
		StepTimeout:         2 * time.Minute,
	}
}

// Validate checks the configuration for errors.
func (c RunConfig) Validate() error {
	var errs []error
	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max iterations must be >= 1, got %d", c.MaxIterations))
	}
	if c.CheckpointInterval < 1 {
		errs = append(errs, fmt.Errorf("checkpoint interval must be >= 1, got %d", c.CheckpointInterval))
	}
	if c.ErrorThreshold < 1 {
		errs = append(errs, fmt.Errorf("error threshold must be >= 1, got %d", c.ErrorThreshold))
	}
	if c.DiagnosticThreshold < 1 {
		errs = append(errs, fmt.Errorf("diagnostic threshold must be >= 1, got %d", c.DiagnosticThreshold))
	}
	if c.CompletionThreshold <= 0 || c.CompletionThreshold > 1 {
		errs = append(errs, fmt.Errorf("completion threshold must be in (0, 1], got %v", c.CompletionThreshold))
	}
	if c.ReflectionWindow < 1 {
		errs = append(errs, errors.New("reflection window must be >= 1"))
	}
	if c.TimeBudget < 0 || c.StepTimeout < 0 {
		errs = append(errs, errors.New("durations cannot be negative"))
	}
	return errors.Join(errs...)
}
