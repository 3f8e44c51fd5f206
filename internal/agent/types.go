package agent

import (
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusInit                    Status = "init"
	StatusPlanning                Status = "planning"
	StatusExecuting               Status = "executing"
	StatusReflecting              Status = "reflecting"
	StatusComplete                Status = "complete"
	StatusFailed                  Status = "failed"
	StatusAborted                 Status = "aborted"
	StatusWaitingForClarification Status = "waiting_for_clarification"
)

// Terminal reports whether no further iterations follow without a resume.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusAborted, StatusWaitingForClarification:
		return true
	}
	return false
}

// Resumable reports whether a run in this status may be resumed.
func (s Status) Resumable() bool {
	return s == StatusWaitingForClarification || s == StatusAborted || !s.Terminal()
}

// Assessment is the reflection verdict on task progress.
type Assessment string

const (
	AssessmentInProgress         Assessment = "in_progress"
	AssessmentComplete           Assessment = "complete"
	AssessmentBlocked            Assessment = "blocked"
	AssessmentNeedsClarification Assessment = "needs_clarification"
)

// ParseAssessment validates s against the known assessments.
func ParseAssessment(s string) (Assessment, bool) {
	switch a := Assessment(s); a {
	case AssessmentInProgress, AssessmentComplete, AssessmentBlocked, AssessmentNeedsClarification:
		return a, true
	}
	return "", false
}

// Outcome classifies a single action execution.
type Outcome string

const (
	// OutcomeSuccess means the tool returned without an error payload.
	OutcomeSuccess Outcome = "success"
	// OutcomeToolError means the tool ran and reported an error in its result.
	OutcomeToolError Outcome = "tool_error"
	// OutcomeException means the executor returned an error or panicked.
	OutcomeException Outcome = "exception"
	// OutcomeSkipped marks a null action.
	OutcomeSkipped Outcome = "skipped"
)

// Task is the unit of work handed to a run. Immutable once the run starts.
type Task struct {
	Goal           string            `json:"goal"`
	Type           string            `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ToolDefinition describes a callable tool.
type ToolDefinition struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters,omitempty"` // name -> type
	Required    []string          `json:"required,omitempty"`
}

// Catalog is the set of tools available to a run.
type Catalog []ToolDefinition

// Find returns the named tool.
func (c Catalog) Find(name string) (ToolDefinition, bool) {
	for _, t := range c {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDefinition{}, false
}

// Names returns tool names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, t := range c {
		names[i] = t.Name
	}
	return names
}

// ToolCall is a request to run one tool.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult is what a tool returned. An empty Error means success.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// ActionRecord is one executed (or skipped) action.
type ActionRecord struct {
	Iteration int        `json:"iteration"`
	Call      *ToolCall  `json:"call,omitempty"` // nil for a null action
	Rationale string     `json:"rationale"`
	Result    ToolResult `json:"result"`
	Outcome   Outcome    `json:"outcome"`
	Timestamp time.Time  `json:"timestamp"`
}

// ReflectionRecord is the assessment produced after one iteration.
type ReflectionRecord struct {
	Iteration            int        `json:"iteration"`
	Assessment           Assessment `json:"assessment"`
	ProgressPercent      int        `json:"progress_percent"`
	RawConfidence        float64    `json:"raw_confidence"`
	CalibratedConfidence float64    `json:"calibrated_confidence"`
	CalibrationReason    string     `json:"calibration_reason,omitempty"`
	NextAction           string     `json:"next_action,omitempty"`
	Reasoning            string     `json:"reasoning"`
	Fallback             bool       `json:"fallback,omitempty"`
	RepetitionFlagged    bool       `json:"repetition_flagged,omitempty"`
}

// ErrorSource names the step that produced an error.
type ErrorSource string

const (
	SourcePlanner    ErrorSource = "planner"
	SourceExecutor   ErrorSource = "executor"
	SourceReflection ErrorSource = "reflection"
	SourceCheckpoint ErrorSource = "checkpoint"
)

// ErrorEntry records an error observed during a run.
type ErrorEntry struct {
	Iteration int         `json:"iteration"`
	Source    ErrorSource `json:"source"`
	Tool      string      `json:"tool,omitempty"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// Diagnosis is the conclusion of a failure analysis for one tool.
type Diagnosis struct {
	Iteration  int      `json:"iteration"`
	Tool       string   `json:"tool"`
	ErrorCount int      `json:"error_count"`
	Chain      []string `json:"chain"`
	Conclusion string   `json:"conclusion"`
}

// StopReason explains why a run ended.
type StopReason string

const (
	ReasonCompleted           StopReason = "completed"
	ReasonClarificationNeeded StopReason = "clarification_needed"
	ReasonRepetitionBlocked   StopReason = "repetition_blocked"
	ReasonMaxIterations       StopReason = "max_iterations"
	ReasonErrorThreshold      StopReason = "error_threshold"
	ReasonCancelled           StopReason = "cancelled"
	ReasonTimeBudget          StopReason = "time_budget"
	ReasonPersistenceFailure  StopReason = "persistence_error"
	ReasonNone                StopReason = ""
)

// Status maps a stop reason to the terminal status of the run.
func (r StopReason) Status() Status {
	switch r {
	case ReasonCompleted:
		return StatusComplete
	case ReasonClarificationNeeded:
		return StatusWaitingForClarification
	case ReasonCancelled, ReasonTimeBudget:
		return StatusAborted
	case ReasonNone:
		return StatusInit
	}
	return StatusFailed
}

// Result is the final outcome of a run.
type Result struct {
	RunID        string             `json:"run_id"`
	SessionID    int64              `json:"session_id"`
	Status       Status             `json:"status"`
	Reason       StopReason         `json:"reason"`
	Iterations   int                `json:"iterations"`
	Actions      []ActionRecord     `json:"actions"`
	Reflections  []ReflectionRecord `json:"reflections"`
	Diagnoses    []Diagnosis        `json:"diagnoses,omitempty"`
	Summary      string             `json:"summary"`
	CheckpointID string             `json:"checkpoint_id,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
}
