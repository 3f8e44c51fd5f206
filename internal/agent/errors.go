package agent

import "errors"

var (
	// ErrPlanning marks a failure to choose an action.
	ErrPlanning = errors.New("planning failed")
	// ErrExecution marks a failure raised by a tool executor.
	ErrExecution = errors.New("execution failed")
	// ErrReflection marks a failure to obtain a usable reflection.
	ErrReflection = errors.New("reflection failed")
	// ErrPersistence marks a failure to write or read durable state.
	ErrPersistence = errors.New("persistence failed")
	// ErrNotFound is returned when a checkpoint is absent or unreadable.
	ErrNotFound = errors.New("not found")
	// ErrBudgetExhausted is returned when a resumed run has no iterations left.
	ErrBudgetExhausted = errors.New("iteration budget exhausted")
)
