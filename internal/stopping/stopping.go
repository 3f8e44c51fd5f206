// Package stopping decides when a run ends and shapes its final result.
// Everything here is a pure function of the run state.
package stopping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
)

// Policy holds the thresholds a stop decision depends on.
type Policy struct {
	MaxIterations       int
	ErrorThreshold      int
	CompletionThreshold float64
}

// New returns the policy for a run configuration.
func New(cfg agent.RunConfig) Policy {
	return Policy{
		MaxIterations:       cfg.MaxIterations,
		ErrorThreshold:      cfg.ErrorThreshold,
		CompletionThreshold: cfg.CompletionThreshold,
	}
}

// ShouldStop evaluates the stop conditions in priority order: waiting for
// clarification, confident completion, error threshold, repetition that
// left the run blocked, and the iteration budget.
func (p Policy) ShouldStop(state *agent.State, waiting bool) (bool, agent.StopReason) {
	if waiting {
		return true, agent.ReasonClarificationNeeded
	}

	last, ok := state.LastReflection()
	if ok && last.Assessment == agent.AssessmentComplete && last.CalibratedConfidence >= p.CompletionThreshold {
		return true, agent.ReasonCompleted
	}

	if p.ErrorThreshold > 0 {
		if _, n := state.MaxToolErrors(); n >= p.ErrorThreshold {
			return true, agent.ReasonErrorThreshold
		}
	}

	if ok && last.Assessment == agent.AssessmentBlocked && repeatedTwice(state.Reflections) {
		return true, agent.ReasonRepetitionBlocked
	}

	if p.MaxIterations > 0 && state.Iteration >= p.MaxIterations {
		return true, agent.ReasonMaxIterations
	}
	return false, agent.ReasonNone
}

func repeatedTwice(refs []agent.ReflectionRecord) bool {
	if len(refs) < 2 {
		return false
	}
	return refs[len(refs)-1].RepetitionFlagged && refs[len(refs)-2].RepetitionFlagged
}

// BuildResult assembles the final result. It cannot fail.
func BuildResult(state *agent.State, reason agent.StopReason) *agent.Result {
	return &agent.Result{
		RunID:       state.RunID,
		SessionID:   state.SessionID,
		Status:      reason.Status(),
		Reason:      reason,
		Iterations:  state.Iteration,
		Actions:     append([]agent.ActionRecord(nil), state.Actions...),
		Reflections: append([]agent.ReflectionRecord(nil), state.Reflections...),
		Diagnoses:   append([]agent.Diagnosis(nil), state.Diagnoses...),
		Summary:     GenerateSummary(state, reason),
	}
}

// GenerateSummary describes the run in a few sentences.
func GenerateSummary(state *agent.State, reason agent.StopReason) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %q %s after %d iteration(s).", state.Task.Goal, describe(reason), state.Iteration)

	if tools := toolCounts(state.Actions); tools != "" {
		fmt.Fprintf(&b, " Actions: %s.", tools)
	} else {
		b.WriteString(" No tool was called.")
	}
	if n := len(state.Errors); n > 0 {
		fmt.Fprintf(&b, " %d error(s) recorded.", n)
	}
	for _, d := range state.Diagnoses {
		fmt.Fprintf(&b, " Diagnosis: %s.", strings.TrimRight(d.Conclusion, "."))
	}
	if last, ok := state.LastReflection(); ok {
		fmt.Fprintf(&b, " Final assessment %s at confidence %.2f", last.Assessment, last.CalibratedConfidence)
		if last.Fallback {
			b.WriteString(" (fallback)")
		}
		b.WriteString(".")
		if r := strings.TrimSpace(last.Reasoning); r != "" && !last.Fallback {
			fmt.Fprintf(&b, " %s", r)
		}
	}
	return b.String()
}

func describe(reason agent.StopReason) string {
	switch reason {
	case agent.ReasonCompleted:
		return "completed"
	case agent.ReasonClarificationNeeded:
		return "paused for clarification"
	case agent.ReasonRepetitionBlocked:
		return "stopped: blocked by repeated actions"
	case agent.ReasonMaxIterations:
		return "stopped: iteration budget exhausted"
	case agent.ReasonErrorThreshold:
		return "failed: too many tool errors"
	case agent.ReasonCancelled:
		return "was cancelled"
	case agent.ReasonTimeBudget:
		return "was aborted: time budget exhausted"
	case agent.ReasonPersistenceFailure:
		return "failed: state could not be saved"
	}
	return "stopped"
}

// toolCounts renders "list_dir x2 (1 ok), read_file x1 (1 ok)" in name order.
func toolCounts(actions []agent.ActionRecord) string {
	type count struct{ total, ok int }
	counts := map[string]*count{}
	for _, a := range actions {
		if a.Call == nil {
			continue
		}
		c := counts[a.Call.Tool]
		if c == nil {
			c = &count{}
			counts[a.Call.Tool] = c
		}
		c.total++
		if a.Outcome == agent.OutcomeSuccess {
			c.ok++
		}
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s x%d (%d ok)", n, counts[n].total, counts[n].ok))
	}
	return strings.Join(parts, ", ")
}

// Learnings extracts lessons worth keeping for future sessions.
func Learnings(state *agent.State, reason agent.StopReason) []string {
	var out []string
	for _, d := range state.Diagnoses {
		out = append(out, d.Conclusion)
	}
	if tool, n := state.MaxToolErrors(); reason == agent.ReasonErrorThreshold && n > 0 {
		out = append(out, fmt.Sprintf("%s reached %d errors", tool, n))
	}
	if reason == agent.ReasonRepetitionBlocked {
		if a := state.RecentActions(1); len(a) == 1 && a[0].Call != nil {
			out = append(out, fmt.Sprintf("repeating %s did not make progress", a[0].Call.Tool))
		}
	}
	if reason == agent.ReasonCompleted {
		for _, a := range state.Actions {
			if a.Outcome == agent.OutcomeSuccess && a.Call != nil {
				out = append(out, fmt.Sprintf("%s succeeded: %s", a.Call.Tool, a.Rationale))
				break
			}
		}
	}
	return out
}
