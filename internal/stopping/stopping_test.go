package stopping

import (
	"math/rand"
	"testing"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func policy() Policy {
	return New(agent.DefaultRunConfig())
}

func withReflections(iteration int, refs ...agent.ReflectionRecord) *agent.State {
	s := agent.NewState("run", 1, agent.Task{Goal: "list /tmp", Type: "filesystem"})
	s.Iteration = iteration
	s.Reflections = refs
	return s
}

func TestShouldStop(t *testing.T) {
	complete := agent.ReflectionRecord{Assessment: agent.AssessmentComplete, CalibratedConfidence: 0.95}
	unsure := agent.ReflectionRecord{Assessment: agent.AssessmentComplete, CalibratedConfidence: 0.5}
	progress := agent.ReflectionRecord{Assessment: agent.AssessmentInProgress, CalibratedConfidence: 0.5}
	blockedFlagged := agent.ReflectionRecord{Assessment: agent.AssessmentBlocked, RepetitionFlagged: true}
	flagged := agent.ReflectionRecord{Assessment: agent.AssessmentInProgress, RepetitionFlagged: true}

	tests := []struct {
		name    string
		state   *agent.State
		waiting bool
		stop    bool
		reason  agent.StopReason
	}{
		{"nothing yet", withReflections(0), false, false, agent.ReasonNone},
		{"waiting wins", withReflections(1, complete), true, true, agent.ReasonClarificationNeeded},
		{"confident complete", withReflections(1, complete), false, true, agent.ReasonCompleted},
		{"threshold is inclusive", withReflections(1, agent.ReflectionRecord{Assessment: agent.AssessmentComplete, CalibratedConfidence: 0.7}), false, true, agent.ReasonCompleted},
		{"unsure complete continues", withReflections(1, unsure), false, false, agent.ReasonNone},
		{"in progress continues", withReflections(2, progress, progress), false, false, agent.ReasonNone},
		{"blocked after two flags", withReflections(3, flagged, blockedFlagged), false, true, agent.ReasonRepetitionBlocked},
		{"blocked with one flag continues", withReflections(3, progress, blockedFlagged), false, false, agent.ReasonNone},
		{"max iterations", withReflections(10, progress), false, true, agent.ReasonMaxIterations},
		{"complete beats max iterations", withReflections(10, complete), false, true, agent.ReasonCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stop, reason := policy().ShouldStop(tt.state, tt.waiting)
			assert.Equal(t, tt.stop, stop)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestShouldStop_ErrorThreshold(t *testing.T) {
	s := withReflections(2, agent.ReflectionRecord{Assessment: agent.AssessmentInProgress})
	s.RecordError(agent.SourceExecutor, "run_shell", "boom")
	s.RecordError(agent.SourceExecutor, "run_shell", "boom")

	stop, _ := policy().ShouldStop(s, false)
	assert.False(t, stop)

	s.RecordError(agent.SourceExecutor, "run_shell", "boom")
	stop, reason := policy().ShouldStop(s, false)
	assert.True(t, stop)
	assert.Equal(t, agent.ReasonErrorThreshold, reason)
	assert.Equal(t, agent.StatusFailed, reason.Status())
}

// For any history, a latest complete reflection at or above the threshold
// stops the run as completed, and reaching the budget always stops it.
func TestShouldStop_RandomHistories(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	assessments := []agent.Assessment{
		agent.AssessmentInProgress, agent.AssessmentComplete,
		agent.AssessmentBlocked, agent.AssessmentNeedsClarification,
	}
	p := policy()

	for i := 0; i < 5000; i++ {
		n := 1 + rng.Intn(p.MaxIterations+2)
		refs := make([]agent.ReflectionRecord, n)
		for j := range refs {
			refs[j] = agent.ReflectionRecord{
				Iteration:            j + 1,
				Assessment:           assessments[rng.Intn(len(assessments))],
				CalibratedConfidence: rng.Float64(),
				RepetitionFlagged:    rng.Intn(3) == 0,
			}
		}
		s := withReflections(n, refs...)
		stop, reason := p.ShouldStop(s, false)

		last := refs[n-1]
		if last.Assessment == agent.AssessmentComplete && last.CalibratedConfidence >= p.CompletionThreshold {
			require.True(t, stop)
			require.Equal(t, agent.ReasonCompleted, reason)
		}
		if n >= p.MaxIterations {
			require.True(t, stop, "iteration %d of %d must stop", n, p.MaxIterations)
		}
		if !stop {
			require.Equal(t, agent.ReasonNone, reason)
			require.Less(t, n, p.MaxIterations)
		}
	}
}

func TestBuildResult(t *testing.T) {
	s := withReflections(2,
		agent.ReflectionRecord{Iteration: 1, Assessment: agent.AssessmentInProgress, CalibratedConfidence: 0.4},
		agent.ReflectionRecord{Iteration: 2, Assessment: agent.AssessmentComplete, CalibratedConfidence: 0.9, Reasoning: "All files listed."},
	)
	s.Actions = []agent.ActionRecord{
		{Iteration: 1, Call: &agent.ToolCall{Tool: "list_dir"}, Outcome: agent.OutcomeToolError},
		{Iteration: 2, Call: &agent.ToolCall{Tool: "list_dir"}, Outcome: agent.OutcomeSuccess, Rationale: "list it"},
	}

	res := BuildResult(s, agent.ReasonCompleted)
	assert.Equal(t, agent.StatusComplete, res.Status)
	assert.Equal(t, agent.ReasonCompleted, res.Reason)
	assert.Equal(t, 2, res.Iterations)
	assert.Len(t, res.Actions, 2)
	assert.Len(t, res.Reflections, 2)
	assert.Equal(t, "run", res.RunID)
	assert.Equal(t, int64(1), res.SessionID)
	assert.Equal(t,
		`Task "list /tmp" completed after 2 iteration(s). Actions: list_dir x2 (1 ok). Final assessment complete at confidence 0.90. All files listed.`,
		res.Summary)

	// The result does not alias state slices.
	s.Actions[0].Rationale = "changed"
	assert.Empty(t, res.Actions[0].Rationale)
}

func TestBuildResult_StatusMapping(t *testing.T) {
	tests := map[agent.StopReason]agent.Status{
		agent.ReasonCompleted:           agent.StatusComplete,
		agent.ReasonClarificationNeeded: agent.StatusWaitingForClarification,
		agent.ReasonRepetitionBlocked:   agent.StatusFailed,
		agent.ReasonMaxIterations:       agent.StatusFailed,
		agent.ReasonErrorThreshold:      agent.StatusFailed,
		agent.ReasonPersistenceFailure:  agent.StatusFailed,
		agent.ReasonCancelled:           agent.StatusAborted,
		agent.ReasonTimeBudget:          agent.StatusAborted,
	}
	for reason, status := range tests {
		res := BuildResult(withReflections(0), reason)
		assert.Equal(t, status, res.Status, reason)
		assert.NotEmpty(t, res.Summary)
	}
}

func TestGenerateSummary_NoActions(t *testing.T) {
	s := withReflections(1, agent.ReflectionRecord{Assessment: agent.AssessmentInProgress, CalibratedConfidence: 0.3, Fallback: true, Reasoning: "Fallback reflection: x"})
	s.RecordError(agent.SourceReflection, "reflection", "x")
	s.Diagnoses = []agent.Diagnosis{{Tool: "run_shell", Conclusion: "run_shell failed 2 time(s): it is unavailable in this environment"}}

	got := GenerateSummary(s, agent.ReasonCancelled)
	assert.Contains(t, got, "was cancelled after 1 iteration(s)")
	assert.Contains(t, got, "No tool was called.")
	assert.Contains(t, got, "1 error(s) recorded.")
	assert.Contains(t, got, "Diagnosis: run_shell failed 2 time(s)")
	assert.Contains(t, got, "(fallback).")
	assert.NotContains(t, got, "Fallback reflection")
}

func TestLearnings(t *testing.T) {
	s := withReflections(3)
	s.Diagnoses = []agent.Diagnosis{{Tool: "run_shell", Conclusion: "run_shell failed 2 time(s): it is unavailable"}}
	for i := 0; i < 3; i++ {
		s.RecordError(agent.SourceExecutor, "run_shell", "boom")
	}
	assert.Equal(t, []string{
		"run_shell failed 2 time(s): it is unavailable",
		"run_shell reached 3 errors",
	}, Learnings(s, agent.ReasonErrorThreshold))

	done := withReflections(1)
	done.Actions = []agent.ActionRecord{{Call: &agent.ToolCall{Tool: "list_dir"}, Outcome: agent.OutcomeSuccess, Rationale: "list it"}}
	assert.Equal(t, []string{"list_dir succeeded: list it"}, Learnings(done, agent.ReasonCompleted))
}
