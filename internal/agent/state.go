package agent

import (
	"time"
)

// State is the mutable record of one run. The orchestrator is its only writer.
type State struct {
	RunID                   string             `json:"run_id"`
	SessionID               int64              `json:"session_id"`
	Task                    Task               `json:"task"`
	Iteration               int                `json:"iteration"`
	Status                  Status             `json:"status"`
	Actions                 []ActionRecord     `json:"actions"`
	Reflections             []ReflectionRecord `json:"reflections"`
	ToolErrors              map[string]int     `json:"tool_errors"`
	Errors                  []ErrorEntry       `json:"errors"`
	Diagnoses               []Diagnosis        `json:"diagnoses,omitempty"`
	Clarifications          []string           `json:"clarifications,omitempty"`
	WaitingForClarification bool               `json:"waiting_for_clarification"`
	StartedAt               time.Time          `json:"started_at"`
}

// NewState returns an initial state for a run.
func NewState(runID string, sessionID int64, task Task) *State {
	return &State{
		RunID:      runID,
		SessionID:  sessionID,
		Task:       task,
		Status:     StatusInit,
		ToolErrors: make(map[string]int),
		StartedAt:  time.Now().UTC(),
	}
}

// LastReflection returns the most recent reflection, if any.
func (s *State) LastReflection() (ReflectionRecord, bool) {
	if len(s.Reflections) == 0 {
		return ReflectionRecord{}, false
	}
	return s.Reflections[len(s.Reflections)-1], true
}

// RecentActions returns at most k of the latest actions, oldest first.
func (s *State) RecentActions(k int) []ActionRecord {
	if k <= 0 || len(s.Actions) == 0 {
		return nil
	}
	if k > len(s.Actions) {
		k = len(s.Actions)
	}
	return s.Actions[len(s.Actions)-k:]
}

// RecordError appends an error entry and bumps the counter for key.
func (s *State) RecordError(source ErrorSource, key, message string) int {
	if s.ToolErrors == nil {
		s.ToolErrors = make(map[string]int)
	}
	s.ToolErrors[key]++
	s.NoteError(source, key, message)
	return s.ToolErrors[key]
}

// NoteError appends an error entry without touching any counter.
func (s *State) NoteError(source ErrorSource, key, message string) {
	s.Errors = append(s.Errors, ErrorEntry{
		Iteration: s.Iteration,
		Source:    source,
		Tool:      key,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// MaxToolErrors returns the key with the highest error count and that count.
// Ties resolve to the lexically smallest key.
func (s *State) MaxToolErrors() (string, int) {
	var key string
	best := 0
	for k, n := range s.ToolErrors {
		if n > best || (n == best && n > 0 && k < key) {
			key, best = k, n
		}
	}
	return key, best
}

// DiagnosisFor returns the latest diagnosis recorded for tool.
func (s *State) DiagnosisFor(tool string) (Diagnosis, bool) {
	for i := len(s.Diagnoses) - 1; i >= 0; i-- {
		if s.Diagnoses[i].Tool == tool {
			return s.Diagnoses[i], true
		}
	}
	return Diagnosis{}, false
}

// DiagnosedTools returns the set of tools with a recorded diagnosis.
func (s *State) DiagnosedTools() map[string]bool {
	out := make(map[string]bool, len(s.Diagnoses))
	for _, d := range s.Diagnoses {
		out[d.Tool] = true
	}
	return out
}
