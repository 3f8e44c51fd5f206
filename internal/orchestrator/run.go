package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
	"github.com/fyrsmithlabs/agentloop/internal/planner"
	"github.com/fyrsmithlabs/agentloop/internal/reflection"
	"github.com/fyrsmithlabs/agentloop/internal/stopping"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// run is the per-run working set. Only its goroutine touches state.
type run struct {
	o            *Orchestrator
	state        *agent.State
	cfg          agent.RunConfig
	exec         agent.Executor
	checkpointID string
	resumed      bool
	warnings     []string

	catalog  agent.Catalog
	guidance *memory.Guidance
	planner  *planner.Planner
	engine   *reflection.Engine
	policy   stopping.Policy
}

func (r *run) execute(ctx context.Context) (*agent.Result, error) {
	o, state := r.o, r.state
	task := state.Task

	ctx = logging.WithRunID(ctx, state.RunID)
	ctx = logging.WithSessionID(ctx, state.SessionID)
	ctx = logging.WithConversationID(ctx, task.ConversationID)
	ctx = logging.WithTaskType(ctx, task.Type)

	ctx, span := o.tracer.Start(ctx, "orchestrator.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", state.RunID),
		attribute.Int64("session.id", state.SessionID),
		attribute.String("task.type", task.Type),
		attribute.Bool("resumed", r.resumed),
		attribute.Int("max_iterations", r.cfg.MaxIterations),
	)

	o.logger.Info(ctx, "run started",
		zap.String("goal", task.Goal),
		zap.Int("iteration", state.Iteration),
		zap.Bool("resumed", r.resumed))

	r.prepare(ctx)

	reason, fatal := r.loop(ctx)

	state.Status = reason.Status()
	if err := r.saveCheckpoint(ctx); err != nil && !r.cfg.TolerateCheckpointErrors && fatal == nil {
		reason = agent.ReasonPersistenceFailure
		state.Status = reason.Status()
		fatal = err
	}
	r.bindConversation(ctx)

	if state.Status != agent.StatusWaitingForClarification {
		if err := r.recordSession(ctx, reason); err != nil && !r.cfg.TolerateCheckpointErrors && fatal == nil {
			fatal = err
		}
	}

	res := stopping.BuildResult(state, reason)
	res.CheckpointID = r.checkpointID
	res.Warnings = r.warnings

	RunsTotal.WithLabelValues(string(res.Status)).Inc()
	RunIterations.Observe(float64(res.Iterations))
	span.SetAttributes(
		attribute.String("status", string(res.Status)),
		attribute.String("reason", string(res.Reason)),
		attribute.Int("iterations", res.Iterations),
	)
	if fatal != nil {
		span.RecordError(fatal)
		span.SetStatus(codes.Error, fatal.Error())
	}
	o.logger.Info(ctx, "run finished",
		zap.String("status", string(res.Status)),
		zap.String("reason", string(res.Reason)),
		zap.Int("iterations", res.Iterations),
		zap.String("checkpoint_id", res.CheckpointID),
		zap.Int("warnings", len(res.Warnings)))
	return res, fatal
}

func (r *run) prepare(ctx context.Context) {
	o, state := r.o, r.state

	tools, err := r.listTools(ctx)
	if err != nil {
		state.NoteError(agent.SourceExecutor, "tools", err.Error())
		r.warn(ctx, "tool catalog unavailable", err)
	}
	r.catalog = agent.Catalog(tools)

	guidance, err := o.memory.LoadAll(ctx, state.Task.Type, state.Task.Goal)
	if err != nil {
		r.warn(ctx, "guidance partially loaded", err)
	}
	guidance.Clarifications = state.Clarifications
	r.guidance = guidance

	r.planner = planner.New(planner.Options{
		Model:         o.model,
		Inferrer:      o.inferrer,
		MinConfidence: r.cfg.MinPlanConfidence,
		Window:        r.cfg.ReflectionWindow,
		Logger:        o.logger,
	})
	r.engine = reflection.NewEngine(o.model, r.cfg.ReflectionWindow, o.logger)
	r.policy = stopping.New(r.cfg)
}

// loop iterates until a stop reason is found. A non-nil error is a
// persistence failure that was not tolerated.
func (r *run) loop(ctx context.Context) (agent.StopReason, error) {
	state := r.state
	started := r.o.now()
	for {
		if ctx.Err() != nil {
			return agent.ReasonCancelled, nil
		}
		if r.cfg.TimeBudget > 0 && r.o.now().Sub(started) >= r.cfg.TimeBudget {
			return agent.ReasonTimeBudget, nil
		}
		if state.Iteration >= r.cfg.MaxIterations {
			return agent.ReasonMaxIterations, nil
		}

		state.Iteration++
		r.iterate(ctx)

		if stop, reason := r.policy.ShouldStop(state, state.WaitingForClarification); stop {
			return reason, nil
		}
		if state.Iteration%r.cfg.CheckpointInterval == 0 {
			if err := r.saveCheckpoint(ctx); err != nil && !r.cfg.TolerateCheckpointErrors {
				return agent.ReasonPersistenceFailure, err
			}
		}
	}
}

func (r *run) iterate(ctx context.Context) {
	o, state := r.o, r.state
	ctx, span := o.tracer.Start(ctx, "orchestrator.iteration")
	defer span.End()
	span.SetAttributes(attribute.Int("iteration", state.Iteration))

	state.Status = agent.StatusPlanning
	start := time.Now()
	plan := r.plan(ctx)
	o.metrics.observe(ctx, "plan", start)

	state.Status = agent.StatusExecuting
	start = time.Now()
	stepCtx, cancel := r.stepContext(ctx)
	ex := planner.Execute(stepCtx, r.exec, plan.Call)
	cancel()
	o.metrics.observe(ctx, "execute", start)

	tool := "none"
	if plan.Call != nil {
		tool = plan.Call.Tool
	}
	ex.Result = r.redact(ctx, tool, ex.Result)

	state.Actions = append(state.Actions, agent.ActionRecord{
		Iteration: state.Iteration,
		Call:      plan.Call,
		Rationale: plan.Rationale,
		Result:    ex.Result,
		Outcome:   ex.Outcome,
		Timestamp: time.Now().UTC(),
	})
	ToolCallsTotal.WithLabelValues(tool, string(ex.Outcome)).Inc()
	span.SetAttributes(attribute.String("tool", tool), attribute.String("outcome", string(ex.Outcome)))
	r.afterExecute(ctx, tool, ex)

	state.Status = agent.StatusReflecting
	start = time.Now()
	rec := r.reflect(ctx)
	o.metrics.observe(ctx, "reflect", start)
	state.Reflections = append(state.Reflections, rec)
	if rec.Fallback {
		FallbackReflectionsTotal.Inc()
	}
	if rec.Assessment == agent.AssessmentNeedsClarification {
		state.WaitingForClarification = true
	}
	span.SetAttributes(
		attribute.String("assessment", string(rec.Assessment)),
		attribute.Float64("confidence", rec.CalibratedConfidence),
	)

	o.logger.Info(ctx, "iteration finished",
		zap.Int("iteration", state.Iteration),
		zap.String("tool", tool),
		zap.String("outcome", string(ex.Outcome)),
		zap.String("assessment", string(rec.Assessment)),
		zap.Float64("confidence", rec.CalibratedConfidence))
	o.report(Progress{
		RunID:      state.RunID,
		Iteration:  state.Iteration,
		Status:     state.Status,
		Tool:       tool,
		Outcome:    ex.Outcome,
		Assessment: rec.Assessment,
		Percent:    rec.ProgressPercent,
		Confidence: rec.CalibratedConfidence,
	})
}

// redact scrubs credentials from a tool result before anything records it.
func (r *run) redact(ctx context.Context, tool string, res agent.ToolResult) agent.ToolResult {
	clean, rep := r.o.redactor.ToolResult(res)
	if rep.Total == 0 {
		return res
	}
	for _, id := range rep.Rules() {
		RedactionsTotal.WithLabelValues(id).Add(float64(rep.ByRule[id]))
	}
	r.o.logger.Info(ctx, "tool output redacted",
		zap.String("tool", tool), zap.Int("count", rep.Total), zap.Strings("rules", rep.Rules()))
	return clean
}

// afterExecute counts exceptions and runs a diagnosis when a tool reaches
// the diagnostic threshold below the failure threshold.
func (r *run) afterExecute(ctx context.Context, tool string, ex planner.Execution) {
	state := r.state
	switch ex.Outcome {
	case agent.OutcomeToolError:
		state.NoteError(agent.SourceExecutor, tool, ex.Result.Error)
		return
	case agent.OutcomeException:
	default:
		return
	}

	n := state.RecordError(agent.SourceExecutor, tool, ex.Result.Error)
	r.o.logger.Warn(ctx, "tool raised an error",
		zap.String("tool", tool), zap.Int("count", n), zap.String("error", ex.Result.Error))
	if n != r.cfg.DiagnosticThreshold || n >= r.cfg.ErrorThreshold {
		return
	}
	if _, done := state.DiagnosisFor(tool); done {
		return
	}
	if d, ok := r.diagnose(ctx, tool); ok {
		state.Diagnoses = append(state.Diagnoses, d)
	}
}

// listTools turns a panicking executor into an error and an empty catalog.
func (r *run) listTools(ctx context.Context) (tools []agent.ToolDefinition, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.o.logger.Error(ctx, "tool catalog panicked", zap.Any("panic", p))
			tools, err = nil, fmt.Errorf("%w: tool catalog panic: %v", agent.ErrExecution, p)
		}
	}()
	stepCtx, cancel := r.stepContext(ctx)
	defer cancel()
	return r.exec.Tools(stepCtx)
}

// plan returns a null plan when the planner errors or panics.
func (r *run) plan(ctx context.Context) (plan *planner.Plan) {
	state := r.state
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("planner panic: %v", p)
			state.RecordError(agent.SourcePlanner, "planner", msg)
			r.o.logger.Error(ctx, "planner panicked", zap.Any("panic", p))
			plan = &planner.Plan{Rationale: msg, Source: planner.SourceNone}
		}
	}()

	stepCtx, cancel := r.stepContext(ctx)
	defer cancel()
	p, err := r.planner.Plan(stepCtx, state, r.catalog, r.guidance)
	if err != nil || p == nil {
		msg := "planner returned no plan"
		if err != nil {
			msg = err.Error()
		}
		state.RecordError(agent.SourcePlanner, "planner", msg)
		return &planner.Plan{Rationale: msg, Source: planner.SourceNone}
	}
	return p
}

// reflect returns a fallback record when the engine panics.
func (r *run) reflect(ctx context.Context) (rec agent.ReflectionRecord) {
	state := r.state
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("reflection panic: %v", p)
			state.RecordError(agent.SourceReflection, "reflection", msg)
			r.o.logger.Error(ctx, "reflection panicked", zap.Any("panic", p))
			rec = reflection.Fallback(fmt.Errorf("%w: %s", agent.ErrReflection, msg))
			rec.Iteration = state.Iteration
		}
	}()

	stepCtx, cancel := r.stepContext(ctx)
	defer cancel()
	return r.engine.Reflect(stepCtx, state, r.catalog, r.o.calibrator, r.guidance)
}

func (r *run) diagnose(ctx context.Context, tool string) (d agent.Diagnosis, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.o.logger.Error(ctx, "diagnosis panicked", zap.Any("panic", p))
			ok = false
		}
	}()
	stepCtx, cancel := r.stepContext(ctx)
	defer cancel()
	return r.planner.Diagnose(stepCtx, r.state, tool), true
}

// stepContext detaches a step from run cancellation and bounds it by
// StepTimeout instead.
func (r *run) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if r.cfg.StepTimeout > 0 {
		return context.WithTimeout(detached, r.cfg.StepTimeout)
	}
	return context.WithCancel(detached)
}

func (r *run) saveCheckpoint(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	id, err := r.o.memory.SaveCheckpoint(ctx, r.state.SessionID, r.state, r.cfg, r.checkpointID)
	if err != nil {
		PersistenceErrorsTotal.WithLabelValues("checkpoint").Inc()
		r.state.NoteError(agent.SourceCheckpoint, "checkpoint", err.Error())
		r.warn(ctx, "checkpoint failed", err)
		return err
	}
	r.checkpointID = id
	return nil
}

func (r *run) bindConversation(ctx context.Context) {
	conv := r.state.Task.ConversationID
	if conv == "" || r.o.sessions == nil || r.checkpointID == "" {
		return
	}
	if err := r.o.sessions.Bind(context.WithoutCancel(ctx), conv, r.checkpointID); err != nil {
		r.warn(ctx, "conversation binding failed", err)
	}
}

func (r *run) recordSession(ctx context.Context, reason agent.StopReason) error {
	state := r.state
	var final float64
	if last, ok := state.LastReflection(); ok {
		final = last.RawConfidence
	}
	err := r.o.memory.RecordSession(context.WithoutCancel(ctx), state.Task.Type, memory.SessionRecord{
		SessionID:       state.SessionID,
		RunID:           state.RunID,
		Goal:            state.Task.Goal,
		Status:          reason.Status(),
		Reason:          reason,
		Iterations:      state.Iteration,
		FinalConfidence: final,
		ToolsUsed:       memory.ToolsUsed(state.Actions),
		ErrorCount:      len(state.Errors),
		Summary:         stopping.GenerateSummary(state, reason),
		Learnings:       stopping.Learnings(state, reason),
	})
	if err != nil {
		PersistenceErrorsTotal.WithLabelValues("record_session").Inc()
		r.warn(ctx, "session record failed", err)
	}
	return err
}

func (r *run) warn(ctx context.Context, msg string, err error) {
	r.warnings = append(r.warnings, fmt.Sprintf("%s: %v", msg, err))
	r.o.logger.Warn(ctx, msg, zap.Error(err))
}
