package reflection

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/llm"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/agentloop/internal/reflection"

const (
	// FallbackConfidence is used when no valid reflection was obtained.
	FallbackConfidence = 0.3
	// DefaultWindow is the number of recent actions shown to the model.
	DefaultWindow = 5
	// PromptName identifies reflection requests to the model.
	PromptName = "reflection"

	maxResultChars = 1500
)

var schema = map[string]string{
	"assessment":       "one of in_progress, complete, blocked, needs_clarification",
	"progress_percent": "integer 0-100",
	"confidence":       "number 0-1, how sure you are of the assessment",
	"next_action":      "short description of what should happen next",
	"reasoning":        "one or two sentences",
}

// Engine produces one ReflectionRecord per iteration.
type Engine struct {
	model  llm.Completer
	window int
	logger *logging.Logger
	tracer trace.Tracer
}

// NewEngine returns an engine. A nil model makes every reflection a
// deterministic heuristic assessment; window <= 0 uses DefaultWindow.
func NewEngine(model llm.Completer, window int, logger *logging.Logger) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		model:  model,
		window: window,
		logger: logger.Named("reflection"),
		tracer: otel.Tracer(instrumentationName),
	}
}

// Reflect assesses the run after its latest action. It never fails: any
// problem with the model yields a record with Fallback set.
func (e *Engine) Reflect(ctx context.Context, state *agent.State, catalog agent.Catalog, calibrator Calibrator, guidance *memory.Guidance) agent.ReflectionRecord {
	ctx, span := e.tracer.Start(ctx, "reflection.reflect")
	defer span.End()

	if calibrator == nil {
		calibrator = Identity{}
	}
	acc := memory.Accuracy{TaskType: state.Task.Type}
	if guidance != nil {
		acc = guidance.Accuracy
	}

	repeated := agent.RepeatedCalls(state.Actions)
	noNewInfo := repeated && agent.NoNewInformation(state.Actions)

	var (
		rec agent.ReflectionRecord
		err error
	)
	if e.model == nil {
		rec = heuristic(state)
	} else {
		rec, err = e.ask(ctx, state, catalog, guidance, repeated)
	}
	if err != nil {
		span.RecordError(err)
		e.logger.Warn(ctx, "reflection fell back", zap.Int("iteration", state.Iteration), zap.Error(err))
		rec = Fallback(err)
	} else {
		rec.CalibratedConfidence, rec.CalibrationReason = calibrator.Calibrate(rec.RawConfidence, acc)
	}

	rec.Iteration = state.Iteration
	rec.RepetitionFlagged = repeated
	if noNewInfo && !rec.Fallback && rec.Assessment == agent.AssessmentInProgress {
		rec.Assessment = agent.AssessmentBlocked
		rec.Reasoning = strings.TrimSpace(rec.Reasoning + " Marked blocked: the same call returned the same result three times in a row.")
	}

	span.SetAttributes(
		attribute.String("assessment", string(rec.Assessment)),
		attribute.Float64("confidence.raw", rec.RawConfidence),
		attribute.Float64("confidence.calibrated", rec.CalibratedConfidence),
		attribute.Bool("fallback", rec.Fallback),
		attribute.Bool("repetition", rec.RepetitionFlagged),
	)
	e.logger.Debug(ctx, "reflection",
		zap.Int("iteration", rec.Iteration),
		zap.String("assessment", string(rec.Assessment)),
		zap.Float64("confidence", rec.CalibratedConfidence),
		zap.Bool("fallback", rec.Fallback))
	return rec
}

// Fallback is the record used when reflection could not be obtained.
func Fallback(cause error) agent.ReflectionRecord {
	reason := "no usable model output"
	if cause != nil {
		reason = cause.Error()
	}
	return agent.ReflectionRecord{
		Assessment:           agent.AssessmentInProgress,
		RawConfidence:        FallbackConfidence,
		CalibratedConfidence: FallbackConfidence,
		CalibrationReason:    "fallback",
		Reasoning:            "Fallback reflection: " + reason,
		Fallback:             true,
	}
}

func (e *Engine) ask(ctx context.Context, state *agent.State, catalog agent.Catalog, guidance *memory.Guidance, repeated bool) (agent.ReflectionRecord, error) {
	spec := llm.PromptSpec{
		Name:        PromptName,
		System:      "You evaluate the progress of an autonomous agent working on a task. Be strict: only call a task complete when the results shown actually satisfy it.",
		Prompt:      buildPrompt(state, catalog, guidance, e.window, repeated),
		Schema:      schema,
		MaxTokens:   512,
		Temperature: 0,
	}
	out, err := e.model.Complete(ctx, spec)
	if err != nil {
		return agent.ReflectionRecord{}, fmt.Errorf("%w: %v", agent.ErrReflection, err)
	}
	return parse(out)
}

// parse validates model output, repairing common deviations: assessment
// spelling variants and confidences given as percentages.
func parse(out *llm.Output) (agent.ReflectionRecord, error) {
	if out == nil || out.Structured == nil {
		return agent.ReflectionRecord{}, fmt.Errorf("%w: %v", agent.ErrReflection, llm.ErrNoJSON)
	}
	assessment, ok := normalizeAssessment(out.String("assessment"))
	if !ok {
		return agent.ReflectionRecord{}, fmt.Errorf("%w: invalid assessment %q", agent.ErrReflection, out.String("assessment"))
	}
	conf, ok := out.Float("confidence")
	if !ok {
		return agent.ReflectionRecord{}, fmt.Errorf("%w: missing confidence", agent.ErrReflection)
	}
	if conf > 1 && conf <= 100 {
		conf /= 100
	}

	progress := 0
	if p, ok := out.Float("progress_percent"); ok {
		if p > 0 && p <= 1 {
			p *= 100
		}
		progress = int(clamp01(p/100)*100 + 0.5)
	}
	if assessment == agent.AssessmentComplete && progress == 0 {
		progress = 100
	}

	return agent.ReflectionRecord{
		Assessment:      assessment,
		ProgressPercent: progress,
		RawConfidence:   clamp01(conf),
		NextAction:      out.String("next_action"),
		Reasoning:       out.String("reasoning"),
	}, nil
}

func normalizeAssessment(s string) (agent.Assessment, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case "completed", "done", "finished":
		s = string(agent.AssessmentComplete)
	case "inprogress", "progress", "continue":
		s = string(agent.AssessmentInProgress)
	case "needs_clarify", "clarification", "clarification_needed", "need_clarification":
		s = string(agent.AssessmentNeedsClarification)
	case "stuck":
		s = string(agent.AssessmentBlocked)
	}
	return agent.ParseAssessment(s)
}

// heuristic assesses without a model from the latest action alone.
func heuristic(state *agent.State) agent.ReflectionRecord {
	last := state.RecentActions(1)
	if len(last) == 0 {
		return agent.ReflectionRecord{
			Assessment:    agent.AssessmentInProgress,
			RawConfidence: 0.1,
			Reasoning:     "Heuristic: no action has run yet.",
		}
	}
	a := last[0]
	switch a.Outcome {
	case agent.OutcomeSuccess:
		tool := "the last tool"
		if a.Call != nil {
			tool = a.Call.Tool
		}
		return agent.ReflectionRecord{
			Assessment:      agent.AssessmentComplete,
			ProgressPercent: 100,
			RawConfidence:   0.75,
			Reasoning:       fmt.Sprintf("Heuristic: %s succeeded and returned a result.", tool),
		}
	case agent.OutcomeSkipped:
		return agent.ReflectionRecord{
			Assessment:    agent.AssessmentInProgress,
			RawConfidence: 0.2,
			NextAction:    "choose a tool that fits the task",
			Reasoning:     "Heuristic: no action was taken. " + a.Rationale,
		}
	}
	return agent.ReflectionRecord{
		Assessment:    agent.AssessmentInProgress,
		RawConfidence: 0.3,
		NextAction:    "retry with different arguments or another tool",
		Reasoning:     "Heuristic: the last action failed.",
	}
}
