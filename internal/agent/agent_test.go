package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(tool string, args map[string]any) *ToolCall {
	return &ToolCall{Tool: tool, Arguments: args}
}

func TestSignature_ArgumentOrderIndependent(t *testing.T) {
	a := ToolCall{Tool: "read_file", Arguments: map[string]any{"path": "/tmp/a", "limit": 10}}
	b := ToolCall{Tool: "read_file", Arguments: map[string]any{"limit": 10, "path": "/tmp/a"}}
	c := ToolCall{Tool: "read_file", Arguments: map[string]any{"path": "/tmp/b", "limit": 10}}

	assert.Equal(t, a.Signature(), b.Signature())
	assert.NotEqual(t, a.Signature(), c.Signature())
	assert.Contains(t, a.Signature(), "read_file:")
}

func TestRepeatedCalls(t *testing.T) {
	same := func() ActionRecord { return ActionRecord{Call: call("list_dir", map[string]any{"path": "/tmp"})} }
	other := ActionRecord{Call: call("list_dir", map[string]any{"path": "/var"})}
	null := ActionRecord{}

	tests := []struct {
		name    string
		actions []ActionRecord
		want    bool
	}{
		{"too few", []ActionRecord{same(), same()}, false},
		{"three identical", []ActionRecord{same(), same(), same()}, true},
		{"identical tail", []ActionRecord{other, same(), same(), same()}, true},
		{"different args", []ActionRecord{same(), other, same()}, false},
		{"null actions", []ActionRecord{null, null, null}, false},
		{"null in tail", []ActionRecord{same(), null, same()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RepeatedCalls(tt.actions))
		})
	}
}

func TestNoNewInformation(t *testing.T) {
	r := func(content string) ActionRecord { return ActionRecord{Result: ToolResult{Content: content}} }
	assert.False(t, NoNewInformation([]ActionRecord{r("a"), r("a")}))
	assert.True(t, NoNewInformation([]ActionRecord{r("x"), r("a"), r("a"), r("a")}))
	assert.False(t, NoNewInformation([]ActionRecord{r("a"), r("b"), r("a")}))
}

func TestState_RecordErrorAndMax(t *testing.T) {
	s := NewState("run", 1, Task{Goal: "g"})
	s.Iteration = 2
	assert.Equal(t, 1, s.RecordError(SourceExecutor, "run_shell", "boom"))
	assert.Equal(t, 2, s.RecordError(SourceExecutor, "run_shell", "boom"))
	assert.Equal(t, 1, s.RecordError(SourcePlanner, "planner", "panic"))

	key, n := s.MaxToolErrors()
	assert.Equal(t, "run_shell", key)
	assert.Equal(t, 2, n)
	require.Len(t, s.Errors, 3)
	assert.Equal(t, 2, s.Errors[0].Iteration)
	assert.Equal(t, SourcePlanner, s.Errors[2].Source)

	s.NoteError(SourceExecutor, "list_dir", "no such directory")
	assert.Len(t, s.Errors, 4)
	assert.Zero(t, s.ToolErrors["list_dir"])
}

func TestState_MaxToolErrorsTie(t *testing.T) {
	s := NewState("run", 1, Task{})
	s.ToolErrors = map[string]int{"b": 2, "a": 2, "c": 1}
	key, n := s.MaxToolErrors()
	assert.Equal(t, "a", key)
	assert.Equal(t, 2, n)
}

func TestState_RecentActions(t *testing.T) {
	s := NewState("run", 1, Task{})
	assert.Nil(t, s.RecentActions(3))
	for i := 1; i <= 4; i++ {
		s.Actions = append(s.Actions, ActionRecord{Iteration: i})
	}
	recent := s.RecentActions(2)
	require.Len(t, recent, 2)
	assert.Equal(t, 3, recent[0].Iteration)
	assert.Len(t, s.RecentActions(10), 4)
}

func TestState_JSONRoundTrip(t *testing.T) {
	s := NewState("run-1", 42, Task{Goal: "list /tmp", Type: "filesystem", ConversationID: "c1"})
	s.Iteration = 1
	s.Status = StatusWaitingForClarification
	s.WaitingForClarification = true
	s.Actions = append(s.Actions, ActionRecord{
		Iteration: 1,
		Call:      call("list_dir", map[string]any{"path": "/tmp"}),
		Result:    ToolResult{Content: "a.txt"},
		Outcome:   OutcomeSuccess,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, ActionRecord{Iteration: 1, Outcome: OutcomeSkipped})
	s.Reflections = append(s.Reflections, ReflectionRecord{Iteration: 1, Assessment: AssessmentNeedsClarification, CalibratedConfidence: 0.4})
	s.RecordError(SourceExecutor, "list_dir", "x")
	s.Diagnoses = append(s.Diagnoses, Diagnosis{Tool: "list_dir", Chain: []string{"why"}, Conclusion: "c"})

	b, err := json.Marshal(s)
	require.NoError(t, err)
	var got State
	require.NoError(t, json.Unmarshal(b, &got))

	assert.Equal(t, s.RunID, got.RunID)
	assert.Equal(t, s.SessionID, got.SessionID)
	assert.Equal(t, s.Task, got.Task)
	assert.Equal(t, s.Reflections, got.Reflections)
	assert.Equal(t, s.ToolErrors, got.ToolErrors)
	assert.Equal(t, s.Diagnoses, got.Diagnoses)
	assert.True(t, got.WaitingForClarification)
	assert.Nil(t, got.Actions[1].Call)
	assert.Equal(t, "/tmp", got.Actions[0].Call.Arguments["path"])
}

func TestStatusAndReason(t *testing.T) {
	assert.Equal(t, StatusComplete, ReasonCompleted.Status())
	assert.Equal(t, StatusWaitingForClarification, ReasonClarificationNeeded.Status())
	assert.Equal(t, StatusAborted, ReasonCancelled.Status())
	assert.Equal(t, StatusAborted, ReasonTimeBudget.Status())
	for _, r := range []StopReason{ReasonRepetitionBlocked, ReasonMaxIterations, ReasonErrorThreshold, ReasonPersistenceFailure} {
		assert.Equal(t, StatusFailed, r.Status(), r)
	}

	assert.True(t, StatusWaitingForClarification.Resumable())
	assert.True(t, StatusExecuting.Resumable())
	assert.False(t, StatusComplete.Resumable())
	assert.False(t, StatusFailed.Resumable())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPlanning.Terminal())
}

func TestParseAssessment(t *testing.T) {
	a, ok := ParseAssessment("blocked")
	assert.True(t, ok)
	assert.Equal(t, AssessmentBlocked, a)
	_, ok = ParseAssessment("done")
	assert.False(t, ok)
}

func TestCatalog(t *testing.T) {
	c := Catalog{{Name: "list_dir"}, {Name: "read_file"}}
	_, ok := c.Find("read_file")
	assert.True(t, ok)
	_, ok = c.Find("write_file")
	assert.False(t, ok)
	assert.Equal(t, []string{"list_dir", "read_file"}, c.Names())
}

func TestRunConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultRunConfig().Validate())

	cfg := DefaultRunConfig()
	cfg.MaxIterations = 0
	cfg.CompletionThreshold = 2
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max iterations")
	assert.Contains(t, err.Error(), "completion threshold")
}
