package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/executor"
	"github.com/fyrsmithlabs/agentloop/internal/llm/llmtest"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
	"github.com/fyrsmithlabs/agentloop/internal/secrets"
	"github.com/fyrsmithlabs/agentloop/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"
)

const (
	planListTmp    = `{"tool":"list_dir","arguments":{"path":"/tmp"},"rationale":"look at /tmp","confidence":0.9}`
	reflectWorking = `{"assessment":"in_progress","progress_percent":40,"confidence":0.5,"next_action":"keep going","reasoning":"not done yet"}`
	reflectDone    = `{"assessment":"complete","progress_percent":100,"confidence":0.95,"next_action":"","reasoning":"listing obtained"}`
	reflectAsk     = `{"assessment":"needs_clarification","progress_percent":10,"confidence":0.6,"next_action":"ask which directory","reasoning":"the target is ambiguous"}`
)

var listDirDef = agent.ToolDefinition{
	Name:        "list_dir",
	Description: "List files in a directory",
	Parameters:  map[string]string{"path": "string"},
	Required:    []string{"path"},
}

type harness struct {
	files   *memory.Files
	memory  *memory.Manager
	logger  *logging.TestLogger
	reg     *executor.Registry
	entries []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	files, err := memory.OpenFiles(t.TempDir(), nil)
	require.NoError(t, err)
	return newHarnessWith(t, files, files.Checkpoints)
}

func newHarnessWith(t *testing.T, files *memory.Files, checkpoints memory.CheckpointStore) *harness {
	t.Helper()
	tl := logging.NewTestLogger()
	m, err := memory.NewManager(memory.Options{
		Checkpoints: checkpoints,
		Outcomes:    files.Outcomes,
		Episodes:    files.Episodes,
		Counter:     files.Counter,
		Limits:      memory.DefaultLimits(),
		Logger:      tl.Logger,
	})
	require.NoError(t, err)

	h := &harness{files: files, memory: m, logger: tl, reg: executor.NewRegistry()}
	h.reg.MustRegister(listDirDef, func(_ context.Context, args map[string]any) (string, error) {
		path, _ := executor.StringArg(args, "path")
		h.entries = append(h.entries, path)
		return "a.txt\nb.txt", nil
	})
	return h
}

func (h *harness) orchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	opts.Memory = h.memory
	if opts.Sessions == nil {
		opts.Sessions = h.files.Sessions
	}
	if opts.Config == (agent.RunConfig{}) {
		opts.Config = agent.DefaultRunConfig()
	}
	opts.Logger = h.logger.Logger
	o, err := New(opts)
	require.NoError(t, err)
	return o
}

func listTask() agent.Task {
	return agent.Task{Goal: "List the files in /tmp", Type: "filesystem"}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Config: agent.DefaultRunConfig()})
	assert.Error(t, err)

	h := newHarness(t)
	_, err = New(Options{Memory: h.memory, Config: agent.RunConfig{}})
	assert.Error(t, err)
}

func TestRun_InvalidInput(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, Options{})

	res, err := o.Run(context.Background(), listTask(), nil)
	require.Error(t, err)
	assert.Equal(t, agent.StatusFailed, res.Status)
	assert.Zero(t, res.Iterations)

	res, err = o.Run(context.Background(), agent.Task{Type: "filesystem"}, h.reg)
	require.Error(t, err)
	assert.Contains(t, res.Summary, "goal")
}

func TestRun_HeuristicCompletesInOneIteration(t *testing.T) {
	h := newHarness(t)
	var progress []Progress
	o := h.orchestrator(t, Options{OnProgress: func(p Progress) { progress = append(progress, p) }})

	before := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("list_dir", "success"))
	runsBefore := testutil.ToFloat64(RunsTotal.WithLabelValues("complete"))

	res, err := o.Run(context.Background(), listTask(), h.reg)
	require.NoError(t, err)

	assert.Equal(t, agent.StatusComplete, res.Status)
	assert.Equal(t, agent.ReasonCompleted, res.Reason)
	assert.Equal(t, 1, res.Iterations)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "list_dir", res.Actions[0].Call.Tool)
	assert.Equal(t, agent.OutcomeSuccess, res.Actions[0].Outcome)
	assert.Equal(t, []string{"/tmp"}, h.entries)
	assert.NotEmpty(t, res.CheckpointID)
	assert.Empty(t, res.Warnings)
	assert.Positive(t, res.SessionID)

	require.Len(t, progress, 1)
	assert.Equal(t, "list_dir", progress[0].Tool)
	assert.Equal(t, agent.AssessmentComplete, progress[0].Assessment)

	assert.Equal(t, before+1, testutil.ToFloat64(ToolCallsTotal.WithLabelValues("list_dir", "success")))
	assert.Equal(t, runsBefore+1, testutil.ToFloat64(RunsTotal.WithLabelValues("complete")))

	sessions, err := h.memory.Sessions(context.Background(), "filesystem")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, agent.StatusComplete, sessions[0].Status)
	assert.Equal(t, []string{"list_dir"}, sessions[0].ToolsUsed)

	state, _, err := h.memory.LoadCheckpoint(context.Background(), res.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusComplete, state.Status)

	h.logger.AssertLogged(t, zapcore.InfoLevel, "run finished")
	runLogs := h.logger.ForRun(res.RunID)
	assert.Equal(t, 1, runLogs.FilterMessage("iteration finished").Len())
	assert.Equal(t, 1, runLogs.FilterMessage("run finished").Len())
}

func TestRun_ConfidentModelCompletes(t *testing.T) {
	h := newHarness(t)
	model := &llmtest.Router{Replies: map[string]string{"plan": planListTmp, "reflection": reflectDone}}
	o := h.orchestrator(t, Options{Model: model})

	res, err := o.Run(context.Background(), listTask(), h.reg)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusComplete, res.Status)
	assert.Equal(t, 1, res.Iterations)
	require.Len(t, res.Reflections, 1)
	assert.InDelta(t, 0.95, res.Reflections[0].CalibratedConfidence, 1e-9)
	assert.Len(t, model.Prompts("plan"), 1)
	assert.Len(t, model.Prompts("reflection"), 1)
}

func TestRun_ErrorThresholdWithDiagnosis(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.reg.MustRegister(agent.ToolDefinition{
		Name:        "run_shell",
		Description: "Run a shell command",
		Parameters:  map[string]string{"command": "string"},
		Required:    []string{"command"},
	}, func(context.Context, map[string]any) (string, error) {
		calls++
		return "", errors.New("exit status 2: make: *** No rule to make target 'build'")
	})
	model := &llmtest.Router{Replies: map[string]string{
		"plan":       `{"tool":"run_shell","arguments":{"command":"make build"},"rationale":"build it","confidence":0.9}`,
		"reflection": reflectWorking,
		"diagnose":   `{"answer":"The Makefile has no build target","root_cause":true}`,
	}}
	o := h.orchestrator(t, Options{Model: model})

	res, err := o.Run(context.Background(), agent.Task{Goal: "Build the project", Type: "build"}, h.reg)
	require.NoError(t, err)

	assert.Equal(t, agent.StatusFailed, res.Status)
	assert.Equal(t, agent.ReasonErrorThreshold, res.Reason)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, calls)
	for _, a := range res.Actions {
		assert.Equal(t, agent.OutcomeException, a.Outcome)
	}

	require.Len(t, res.Diagnoses, 1)
	d := res.Diagnoses[0]
	assert.Equal(t, "run_shell", d.Tool)
	assert.Equal(t, 2, d.Iteration)
	assert.Equal(t, []string{"The Makefile has no build target"}, d.Chain)
	assert.Len(t, model.Prompts("diagnose"), 1)
	assert.Contains(t, res.Summary, "error")
}

func TestRun_MalformedModelFallsBack(t *testing.T) {
	h := newHarness(t)
	model := &llmtest.Router{Default: "I am not sure what to do."}
	cfg := agent.DefaultRunConfig()
	cfg.MaxIterations = 4
	o := h.orchestrator(t, Options{Model: model, Config: cfg})

	before := testutil.ToFloat64(FallbackReflectionsTotal)
	res, err := o.Run(context.Background(), listTask(), h.reg)
	require.NoError(t, err)

	assert.Equal(t, agent.ReasonMaxIterations, res.Reason)
	assert.Equal(t, agent.StatusFailed, res.Status)
	assert.Equal(t, 4, res.Iterations)
	require.Len(t, res.Reflections, 4)
	for _, r := range res.Reflections {
		assert.True(t, r.Fallback)
		assert.InDelta(t, 0.3, r.CalibratedConfidence, 1e-9)
	}
	assert.Equal(t, before+4, testutil.ToFloat64(FallbackReflectionsTotal))
	// The planner fell back to the heuristic, so the tool still ran.
	assert.Len(t, h.entries, 4)
}

func TestRun_RepetitionBlocks(t *testing.T) {
	h := newHarness(t)
	model := &llmtest.Router{Replies: map[string]string{"plan": planListTmp, "reflection": reflectWorking}}
	o := h.orchestrator(t, Options{Model: model})

	res, err := o.Run(context.Background(), listTask(), h.reg)
	require.NoError(t, err)

	assert.Equal(t, agent.ReasonRepetitionBlocked, res.Reason)
	assert.Equal(t, agent.StatusFailed, res.Status)
	assert.Equal(t, 4, res.Iterations)
	require.Len(t, res.Reflections, 4)
	assert.False(t, res.Reflections[1].RepetitionFlagged)
	assert.True(t, res.Reflections[2].RepetitionFlagged)
	assert.Equal(t, agent.AssessmentBlocked, res.Reflections[3].Assessment)

	prompts := model.Prompts("reflection")
	require.Len(t, prompts, 4)
	assert.Contains(t, prompts[2].Prompt, "WARNING")
}

func TestRun_CancelThenResume(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelled := false
	h.reg.MustRegister(listDirDef, func(toolCtx context.Context, _ map[string]any) (string, error) {
		if !cancelled {
			cancelled = true
			cancel()
		}
		return "a.txt", toolCtx.Err()
	})
	model := &llmtest.Router{Replies: map[string]string{"plan": planListTmp, "reflection": reflectWorking}}
	o := h.orchestrator(t, Options{Model: model})

	res, err := o.Run(ctx, listTask(), h.reg)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusAborted, res.Status)
	assert.Equal(t, agent.ReasonCancelled, res.Reason)
	assert.Equal(t, 1, res.Iterations)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, agent.OutcomeSuccess, res.Actions[0].Outcome, "steps run detached from run cancellation")
	require.NotEmpty(t, res.CheckpointID)

	model.Replies["reflection"] = reflectDone
	resumed, err := o.Resume(context.Background(), res.CheckpointID, "", h.reg)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusComplete, resumed.Status)
	assert.Equal(t, res.RunID, resumed.RunID)
	assert.Equal(t, res.SessionID, resumed.SessionID)
	assert.Equal(t, 2, resumed.Iterations)
	assert.Len(t, resumed.Actions, 2)
	assert.Equal(t, res.CheckpointID, resumed.CheckpointID)

	_, err = o.Resume(context.Background(), res.CheckpointID, "", h.reg)
	assert.Error(t, err, "completed runs cannot be resumed")
}

func TestResume_RefusesWhenIterationBudgetIsSpent(t *testing.T) {
	h := newHarness(t)
	model := &llmtest.Router{Replies: map[string]string{"plan": planListTmp, "reflection": reflectAsk}}
	cfg := agent.DefaultRunConfig()
	cfg.MaxIterations = 1
	o := h.orchestrator(t, Options{Model: model, Config: cfg})

	res, err := o.Run(context.Background(), listTask(), h.reg)
	require.NoError(t, err)
	require.Equal(t, agent.StatusWaitingForClarification, res.Status)
	assert.Equal(t, 1, res.Iterations)

	resumed, err := o.Resume(context.Background(), res.CheckpointID, "use /var/tmp", h.reg)
	require.ErrorIs(t, err, agent.ErrBudgetExhausted)
	assert.Equal(t, agent.StatusWaitingForClarification, resumed.Status)
	assert.Equal(t, 1, resumed.Iterations)
	assert.Len(t, resumed.Actions, 1)
	assert.Equal(t, []string{"/tmp"}, h.entries)

	sessions, err := h.memory.Sessions(context.Background(), "filesystem")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRun_ConcurrentRunsShareMemory(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, Options{})

	var calls atomic.Int64
	reg := executor.NewRegistry()
	reg.MustRegister(listDirDef, func(context.Context, map[string]any) (string, error) {
		calls.Add(1)
		return "a.txt", nil
	})

	const n = 16
	results := make([]*agent.Result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Run(context.Background(), listTask(), reg)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	runs := make(map[string]bool, n)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, agent.StatusComplete, res.Status)
		assert.False(t, seen[res.SessionID], "session id %d issued twice", res.SessionID)
		seen[res.SessionID] = true
		runs[res.RunID] = true
	}
	assert.Len(t, runs, n)
	assert.Equal(t, int64(n), calls.Load())

	sessions, err := h.memory.Sessions(context.Background(), "filesystem")
	require.NoError(t, err)
	assert.Len(t, sessions, n)

	checkpoints, err := h.memory.ListCheckpoints(context.Background())
	require.NoError(t, err)
	assert.Len(t, checkpoints, n)
}

func TestRun_ClarificationThenResumeConversation(t *testing.T) {
	h := newHarness(t)
	model := &llmtest.Router{Replies: map[string]string{"plan": planListTmp, "reflection": reflectAsk}}
	o := h.orchestrator(t, Options{Model: model})

	task := listTask()
	task.ConversationID = "conv-1"
	res, err := o.Run(context.Background(), task, h.reg)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusWaitingForClarification, res.Status)
	assert.Equal(t, agent.ReasonClarificationNeeded, res.Reason)
	assert.Equal(t, 1, res.Iterations)

	sessions, err := h.memory.Sessions(context.Background(), "filesystem")
	require.NoError(t, err)
	assert.Empty(t, sessions, "paused runs are not recorded")

	bound, err := h.files.Sessions.Lookup(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, res.CheckpointID, bound)

	model.Replies["reflection"] = reflectDone
	resumed, err := o.ResumeConversation(context.Background(), "conv-1", "only the top level of /tmp", h.reg)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusComplete, resumed.Status)
	assert.Equal(t, 2, resumed.Iterations)

	plans := model.Prompts("plan")
	require.Len(t, plans, 2)
	assert.Contains(t, plans[1].Prompt, "only the top level of /tmp")

	sessions, err = h.memory.Sessions(context.Background(), "filesystem")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestResumeConversation_Unknown(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, Options{})

	res, err := o.ResumeConversation(context.Background(), "missing", "", h.reg)
	require.ErrorIs(t, err, agent.ErrNotFound)
	assert.Equal(t, agent.StatusFailed, res.Status)

	_, err = o.Resume(context.Background(), "no-such-checkpoint", "", h.reg)
	require.ErrorIs(t, err, agent.ErrNotFound)
}

type brokenCheckpoints struct{}

func (brokenCheckpoints) Put(context.Context, *memory.Checkpoint) error {
	return errors.New("disk full")
}
func (brokenCheckpoints) Get(context.Context, string) (*memory.Checkpoint, error) {
	return nil, errors.New("disk full")
}
func (brokenCheckpoints) List(context.Context) ([]memory.CheckpointInfo, error) { return nil, nil }

func TestRun_PersistenceFailure(t *testing.T) {
	model := func() *llmtest.Router {
		return &llmtest.Router{Replies: map[string]string{"plan": planListTmp, "reflection": reflectWorking}}
	}
	cfg := agent.DefaultRunConfig()
	cfg.CheckpointInterval = 1
	cfg.MaxIterations = 2

	t.Run("not tolerated", func(t *testing.T) {
		files, err := memory.OpenFiles(t.TempDir(), nil)
		require.NoError(t, err)
		h := newHarnessWith(t, files, brokenCheckpoints{})
		o := h.orchestrator(t, Options{Model: model(), Config: cfg})

		res, err := o.Run(context.Background(), listTask(), h.reg)
		require.ErrorIs(t, err, agent.ErrPersistence)
		assert.Equal(t, agent.StatusFailed, res.Status)
		assert.Equal(t, agent.ReasonPersistenceFailure, res.Reason)
		assert.Equal(t, 1, res.Iterations)
		assert.Empty(t, res.CheckpointID)
	})

	t.Run("tolerated", func(t *testing.T) {
		files, err := memory.OpenFiles(t.TempDir(), nil)
		require.NoError(t, err)
		h := newHarnessWith(t, files, brokenCheckpoints{})
		tolerant := cfg
		tolerant.TolerateCheckpointErrors = true
		o := h.orchestrator(t, Options{Model: model(), Config: tolerant})

		res, err := o.Run(context.Background(), listTask(), h.reg)
		require.NoError(t, err)
		assert.Equal(t, agent.ReasonMaxIterations, res.Reason)
		assert.Equal(t, 2, res.Iterations)
		require.NotEmpty(t, res.Warnings)
		assert.Contains(t, res.Warnings[0], "checkpoint failed")
		h.logger.AssertLogged(t, zapcore.WarnLevel, "checkpoint failed")
	})
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func TestRun_TimeBudget(t *testing.T) {
	h := newHarness(t)
	model := &llmtest.Router{Replies: map[string]string{"plan": planListTmp, "reflection": reflectWorking}}
	cfg := agent.DefaultRunConfig()
	cfg.TimeBudget = 90 * time.Second
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	o := h.orchestrator(t, Options{Model: model, Config: cfg, Now: clock.Now})

	res, err := o.Run(context.Background(), listTask(), h.reg)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusAborted, res.Status)
	assert.Equal(t, agent.ReasonTimeBudget, res.Reason)
	assert.Equal(t, 1, res.Iterations)
}

type panickyInferrer struct{}

func (panickyInferrer) Infer(string, agent.ToolDefinition, string) (any, bool) {
	panic("inferrer exploded")
}

type panickyCalibrator struct{}

func (panickyCalibrator) Calibrate(float64, memory.Accuracy) (float64, string) {
	panic("calibrator exploded")
}

type panickyCatalog struct{}

func (panickyCatalog) Tools(context.Context) ([]agent.ToolDefinition, error) {
	panic("catalog exploded")
}

func (panickyCatalog) Execute(context.Context, agent.ToolCall) (agent.ToolResult, error) {
	return agent.ToolResult{}, errors.New("not reached")
}

func TestRun_ComponentPanicsAreContained(t *testing.T) {
	t.Run("tool catalog", func(t *testing.T) {
		h := newHarness(t)
		cfg := agent.DefaultRunConfig()
		cfg.MaxIterations = 2
		o := h.orchestrator(t, Options{Config: cfg})

		var res *agent.Result
		var err error
		require.NotPanics(t, func() {
			res, err = o.Run(context.Background(), listTask(), panickyCatalog{})
		})
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.NotEqual(t, agent.StatusComplete, res.Status)
		for _, a := range res.Actions {
			assert.Nil(t, a.Call)
		}
		require.NotEmpty(t, res.Warnings)
		assert.Contains(t, res.Warnings[0], "tool catalog unavailable")
		h.logger.AssertLogged(t, zapcore.ErrorLevel, "tool catalog panicked")
	})

	t.Run("planner", func(t *testing.T) {
		h := newHarness(t)
		o := h.orchestrator(t, Options{Inferrer: panickyInferrer{}})

		res, err := o.Run(context.Background(), listTask(), h.reg)
		require.NoError(t, err)
		assert.Equal(t, agent.ReasonErrorThreshold, res.Reason)
		assert.Equal(t, 3, res.Iterations)
		for _, a := range res.Actions {
			assert.Nil(t, a.Call)
			assert.Equal(t, agent.OutcomeSkipped, a.Outcome)
		}
		assert.Empty(t, h.entries)
		h.logger.AssertLogged(t, zapcore.ErrorLevel, "planner panicked")
	})

	t.Run("reflection", func(t *testing.T) {
		h := newHarness(t)
		o := h.orchestrator(t, Options{Calibrator: panickyCalibrator{}})

		res, err := o.Run(context.Background(), listTask(), h.reg)
		require.NoError(t, err)
		assert.Equal(t, agent.ReasonErrorThreshold, res.Reason)
		for _, r := range res.Reflections {
			assert.True(t, r.Fallback)
		}
		h.logger.AssertLogged(t, zapcore.ErrorLevel, "reflection panicked")
	})

	t.Run("progress callback", func(t *testing.T) {
		h := newHarness(t)
		o := h.orchestrator(t, Options{OnProgress: func(Progress) { panic("ui crashed") }})

		res, err := o.Run(context.Background(), listTask(), h.reg)
		require.NoError(t, err)
		assert.Equal(t, agent.StatusComplete, res.Status)
		h.logger.AssertLogged(t, zapcore.WarnLevel, "progress callback panicked")
	})
}

func TestRun_Telemetry(t *testing.T) {
	tt := telemetry.NewTestTelemetry(t)

	h := newHarness(t)
	o := h.orchestrator(t, Options{})
	_, err := o.Run(context.Background(), listTask(), h.reg)
	require.NoError(t, err)

	assert.Equal(t, 1, tt.SpanCount("orchestrator.run"))
	assert.Equal(t, 1, tt.SpanCount("orchestrator.iteration"))
	assert.Equal(t, 1, tt.SpanCount("reflection.reflect"))
	assert.Positive(t, tt.SpanCount("memory.save_checkpoint"))
	tt.AssertSpanAttribute(t, "orchestrator.run", "status", "complete")
	tt.AssertSpanAttribute(t, "orchestrator.iteration", "tool", "list_dir")

	m, ok := tt.Metric(t, "agentloop.orchestrator.step_duration_seconds")
	require.True(t, ok)
	for _, step := range []string{"plan", "execute", "reflect"} {
		assert.Equal(t, uint64(1), telemetry.HistogramCount(m, attribute.String("step", step)), step)
	}
}

func TestRun_RedactsToolOutput(t *testing.T) {
	h := newHarness(t)
	h.reg.MustRegister(agent.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file",
		Parameters:  map[string]string{"path": "string"},
		Required:    []string{"path"},
	}, func(context.Context, map[string]any) (string, error) {
		return "PORT=8080\nDB_PASSWORD=hunter2hunter2\n", nil
	})
	model := &llmtest.Router{Replies: map[string]string{
		"plan":       `{"tool":"read_file","arguments":{"path":".env"},"rationale":"read the settings","confidence":0.9}`,
		"reflection": reflectDone,
	}}
	o := h.orchestrator(t, Options{Model: model, Redactor: secrets.MustNew(secrets.Options{})})
	before := testutil.ToFloat64(RedactionsTotal.WithLabelValues("generic-password"))

	res, err := o.Run(context.Background(), agent.Task{Goal: "Which port does the app use?", Type: "config"}, h.reg)
	require.NoError(t, err)

	require.Len(t, res.Actions, 1)
	assert.Equal(t, "PORT=8080\n[REDACTED]\n", res.Actions[0].Result.Content)
	prompts := model.Prompts("reflection")
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0].Prompt, "PORT=8080")
	assert.NotContains(t, prompts[0].Prompt, "hunter2")

	state, _, err := h.memory.LoadCheckpoint(context.Background(), res.CheckpointID)
	require.NoError(t, err)
	assert.NotContains(t, state.Actions[0].Result.Content, "hunter2")

	assert.Equal(t, before+1, testutil.ToFloat64(RedactionsTotal.WithLabelValues("generic-password")))
	h.logger.AssertField(t, "tool output redacted", "tool", "read_file")
}
