package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/llm"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
	"github.com/fyrsmithlabs/agentloop/internal/planner"
	"github.com/fyrsmithlabs/agentloop/internal/reflection"
	"github.com/fyrsmithlabs/agentloop/internal/secrets"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/agentloop/internal/orchestrator"

// Progress is reported after every iteration.
type Progress struct {
	RunID      string           `json:"run_id"`
	Iteration  int              `json:"iteration"`
	Status     agent.Status     `json:"status"`
	Tool       string           `json:"tool,omitempty"`
	Outcome    agent.Outcome    `json:"outcome"`
	Assessment agent.Assessment `json:"assessment"`
	Percent    int              `json:"percent"`
	Confidence float64          `json:"confidence"`
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(Progress)

// Options wire an Orchestrator. Memory is required.
type Options struct {
	Memory *memory.Manager
	// Sessions maps conversation ids to checkpoints. Optional.
	Sessions memory.SessionIndex
	// Model is shared by the planner and the reflection engine. Optional.
	Model      llm.Completer
	Inferrer   planner.ArgumentInferrer
	Calibrator reflection.Calibrator
	// Redactor scrubs tool output before it is recorded. Nil records
	// output as returned.
	Redactor   *secrets.Redactor
	Config     agent.RunConfig
	OnProgress ProgressCallback
	Logger     *logging.Logger
	// Now is the clock used for the time budget.
	Now func() time.Time
}

// Orchestrator runs tasks. It holds no per-run state, so independent runs
// may share one instance.
type Orchestrator struct {
	memory     *memory.Manager
	sessions   memory.SessionIndex
	model      llm.Completer
	inferrer   planner.ArgumentInferrer
	calibrator reflection.Calibrator
	redactor   *secrets.Redactor
	config     agent.RunConfig
	onProgress ProgressCallback
	logger     *logging.Logger
	tracer     trace.Tracer
	metrics    *stepMetrics
	now        func() time.Time
}

// New validates options and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Memory == nil {
		return nil, errors.New("memory manager is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Calibrator == nil {
		opts.Calibrator = reflection.NewBetaCalibrator(0, 0)
	}
	if opts.Inferrer == nil {
		opts.Inferrer = planner.HeuristicInferrer{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.Named("orchestrator")
	return &Orchestrator{
		memory:     opts.Memory,
		sessions:   opts.Sessions,
		model:      opts.Model,
		inferrer:   opts.Inferrer,
		calibrator: opts.Calibrator,
		redactor:   opts.Redactor,
		config:     opts.Config,
		onProgress: opts.OnProgress,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		metrics:    newStepMetrics(logger),
		now:        opts.Now,
	}, nil
}

// Run executes task until the stopping policy ends it. It always returns a
// non-nil Result. The error is non-nil only for invalid input or, when
// checkpoint errors are not tolerated, a persistence failure; the Result
// is complete in both cases.
func (o *Orchestrator) Run(ctx context.Context, task agent.Task, exec agent.Executor) (*agent.Result, error) {
	if exec == nil {
		return notStarted("executor is required"), errors.New("executor is required")
	}
	if task.Goal == "" {
		return notStarted("task goal is required"), errors.New("task goal is required")
	}

	var warnings []string
	sessionID, err := o.memory.NextSessionID(ctx)
	if err != nil {
		PersistenceErrorsTotal.WithLabelValues("session_id").Inc()
		if !o.config.TolerateCheckpointErrors {
			res := notStarted("session id could not be allocated")
			res.Reason = agent.ReasonPersistenceFailure
			return res, err
		}
		warnings = append(warnings, err.Error())
	}

	state := agent.NewState(uuid.NewString(), sessionID, task)
	r := &run{
		o:        o,
		state:    state,
		cfg:      o.config,
		exec:     exec,
		warnings: warnings,
	}
	return r.execute(ctx)
}

// Resume continues a run from a checkpoint. The iteration counter carries
// on from the checkpoint; a non-empty clarification is added to the run's
// context and clears the waiting flag. A run that has already used all of
// its iterations is refused with agent.ErrBudgetExhausted.
func (o *Orchestrator) Resume(ctx context.Context, checkpointID, clarification string, exec agent.Executor) (*agent.Result, error) {
	if exec == nil {
		return notStarted("executor is required"), errors.New("executor is required")
	}
	state, cfg, err := o.memory.LoadCheckpoint(ctx, checkpointID)
	if err != nil {
		return notStarted("checkpoint could not be loaded"), fmt.Errorf("resume %s: %w", checkpointID, err)
	}
	if !state.Status.Resumable() {
		res := stoppedResult(state, checkpointID)
		return res, fmt.Errorf("resume %s: run already ended with status %s", checkpointID, state.Status)
	}
	if err := cfg.Validate(); err != nil {
		cfg = o.config
	}
	if state.Iteration >= cfg.MaxIterations {
		res := stoppedResult(state, checkpointID)
		res.Summary = fmt.Sprintf("Run has used all %d iterations and cannot continue.", cfg.MaxIterations)
		return res, fmt.Errorf("resume %s: %w", checkpointID, agent.ErrBudgetExhausted)
	}

	if clarification != "" {
		state.Clarifications = append(state.Clarifications, clarification)
	}
	state.WaitingForClarification = false

	r := &run{
		o:            o,
		state:        state,
		cfg:          cfg,
		exec:         exec,
		checkpointID: checkpointID,
		resumed:      true,
	}
	return r.execute(ctx)
}

// ResumeConversation resumes the latest checkpoint bound to conversationID.
func (o *Orchestrator) ResumeConversation(ctx context.Context, conversationID, clarification string, exec agent.Executor) (*agent.Result, error) {
	if o.sessions == nil {
		return notStarted("no session index configured"), errors.New("no session index configured")
	}
	checkpointID, err := o.sessions.Lookup(ctx, conversationID)
	if err != nil {
		return notStarted("conversation not found"), fmt.Errorf("resume conversation %s: %w", conversationID, err)
	}
	return o.Resume(ctx, checkpointID, clarification, exec)
}

func notStarted(why string) *agent.Result {
	return &agent.Result{
		Status:  agent.StatusFailed,
		Summary: "Run not started: " + why + ".",
	}
}

func stoppedResult(state *agent.State, checkpointID string) *agent.Result {
	return &agent.Result{
		RunID:        state.RunID,
		SessionID:    state.SessionID,
		Status:       state.Status,
		Iterations:   state.Iteration,
		Actions:      state.Actions,
		Reflections:  state.Reflections,
		Diagnoses:    state.Diagnoses,
		Summary:      fmt.Sprintf("Run already ended with status %s.", state.Status),
		CheckpointID: checkpointID,
	}
}

func (o *Orchestrator) report(p Progress) {
	if o.onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn(context.Background(), "progress callback panicked", zap.Any("panic", r))
		}
	}()
	o.onProgress(p)
}
