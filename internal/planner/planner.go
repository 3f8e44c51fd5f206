package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/llm"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
	"github.com/fyrsmithlabs/agentloop/internal/textmatch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/agentloop/internal/planner"

// Prompt names sent to the model.
const (
	PlanPrompt     = "plan"
	DiagnosePrompt = "diagnose"
)

// Source records how a plan was produced.
type Source string

const (
	SourceModel     Source = "model"
	SourceHeuristic Source = "heuristic"
	SourceNone      Source = "none"
)

// Plan is the next action. A nil Call is a null action.
type Plan struct {
	Call       *agent.ToolCall `json:"call,omitempty"`
	Rationale  string          `json:"rationale"`
	Confidence float64         `json:"confidence"`
	Source     Source          `json:"source"`
}

// Null reports whether the plan takes no action.
func (p *Plan) Null() bool { return p == nil || p.Call == nil }

// Options configure a Planner.
type Options struct {
	// Model is optional. Without it every plan is heuristic.
	Model    llm.Completer
	Inferrer ArgumentInferrer
	// MinConfidence is the model confidence below which the heuristic
	// plan is used instead.
	MinConfidence float64
	// Window is the number of recent actions shown to the model.
	Window int
	// MaxWhyDepth bounds the diagnostic chain.
	MaxWhyDepth int
	Logger      *logging.Logger
}

// Planner is stateless between calls; all run state comes in through
// agent.State.
type Planner struct {
	model         llm.Completer
	inferrer      ArgumentInferrer
	minConfidence float64
	window        int
	maxWhyDepth   int
	logger        *logging.Logger
	tracer        trace.Tracer
}

// New returns a Planner with defaults for zero options.
func New(opts Options) *Planner {
	if opts.Inferrer == nil {
		opts.Inferrer = HeuristicInferrer{}
	}
	if opts.Window <= 0 {
		opts.Window = 5
	}
	if opts.MaxWhyDepth <= 0 {
		opts.MaxWhyDepth = DefaultWhyDepth
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Planner{
		model:         opts.Model,
		inferrer:      opts.Inferrer,
		minConfidence: opts.MinConfidence,
		window:        opts.Window,
		maxWhyDepth:   opts.MaxWhyDepth,
		logger:        opts.Logger.Named("planner"),
		tracer:        otel.Tracer(instrumentationName),
	}
}

// Plan picks the next action. Model failures are logged and replaced by
// the heuristic; the returned error is non-nil only for unusable input.
func (p *Planner) Plan(ctx context.Context, state *agent.State, catalog agent.Catalog, guidance *memory.Guidance) (*Plan, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: nil state", agent.ErrPlanning)
	}
	ctx, span := p.tracer.Start(ctx, "planner.plan")
	defer span.End()

	plan := p.plan(ctx, state, catalog, guidance)
	attrs := []attribute.KeyValue{
		attribute.String("source", string(plan.Source)),
		attribute.Float64("confidence", plan.Confidence),
	}
	if plan.Call != nil {
		attrs = append(attrs, attribute.String("tool", plan.Call.Tool))
	}
	span.SetAttributes(attrs...)
	p.logger.Debug(ctx, "plan",
		zap.Int("iteration", state.Iteration),
		zap.String("source", string(plan.Source)),
		zap.Bool("null", plan.Null()),
		zap.String("rationale", plan.Rationale))
	return plan, nil
}

func (p *Planner) plan(ctx context.Context, state *agent.State, catalog agent.Catalog, guidance *memory.Guidance) *Plan {
	if len(catalog) == 0 {
		return &Plan{Rationale: "no tools are available", Source: SourceNone}
	}
	if p.model == nil {
		return p.heuristic(state, catalog)
	}

	plan, err := p.askModel(ctx, state, catalog, guidance)
	switch {
	case errors.Is(err, errInvalidPlan):
		p.logger.Warn(ctx, "model plan rejected", zap.Error(err))
		return &Plan{Rationale: err.Error(), Source: SourceModel, Confidence: plan.Confidence}
	case err != nil:
		p.logger.Warn(ctx, "model planning failed, using heuristic", zap.Error(err))
		h := p.heuristic(state, catalog)
		h.Rationale = "model unavailable: " + h.Rationale
		return h
	case plan.Confidence < p.minConfidence:
		h := p.heuristic(state, catalog)
		if h.Null() {
			return plan
		}
		h.Rationale = fmt.Sprintf("model confidence %.2f below %.2f: %s", plan.Confidence, p.minConfidence, h.Rationale)
		return h
	}
	return plan
}

var errInvalidPlan = errors.New("invalid plan")

var planSchema = map[string]string{
	"tool":       "name of one available tool",
	"arguments":  "object of argument name to value",
	"rationale":  "why this action moves the task forward",
	"confidence": "number 0-1, how likely this action helps",
}

func (p *Planner) askModel(ctx context.Context, state *agent.State, catalog agent.Catalog, guidance *memory.Guidance) (*Plan, error) {
	out, err := p.model.Complete(ctx, llm.PromptSpec{
		Name:        PlanPrompt,
		System:      "You plan the next single tool call for an autonomous agent. Choose only from the listed tools.",
		Prompt:      planPrompt(state, catalog, guidance, p.window),
		Schema:      planSchema,
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Structured == nil {
		return nil, llm.ErrNoJSON
	}

	conf, ok := out.Float("confidence")
	if !ok {
		conf = 0
	}
	if conf > 1 && conf <= 100 {
		conf /= 100
	}
	conf = clamp01(conf)

	name := out.String("tool")
	if name == "" {
		return nil, errors.New("model plan names no tool")
	}
	def, ok := catalog.Find(name)
	if !ok {
		return &Plan{Confidence: conf}, fmt.Errorf("%w: unknown tool %q", errInvalidPlan, name)
	}

	args, _ := out.Map("arguments")
	if args == nil {
		args = map[string]any{}
	}
	if missing := p.fill(state, def, args); missing != "" {
		return &Plan{Confidence: conf}, fmt.Errorf("%w: %s needs %q and it could not be inferred", errInvalidPlan, def.Name, missing)
	}

	rationale := out.String("rationale")
	if rationale == "" {
		rationale = "model chose " + def.Name
	}
	return &Plan{
		Call:       &agent.ToolCall{Tool: def.Name, Arguments: args},
		Rationale:  rationale,
		Confidence: conf,
		Source:     SourceModel,
	}, nil
}

// fill infers missing required arguments in place and returns the first
// one it could not fill.
func (p *Planner) fill(state *agent.State, def agent.ToolDefinition, args map[string]any) string {
	text := taskText(state)
	for _, param := range def.Required {
		if v, ok := args[param]; ok && v != nil && v != "" {
			continue
		}
		v, ok := p.inferrer.Infer(text, def, param)
		if !ok {
			return param
		}
		args[param] = v
	}
	return ""
}

type candidate struct {
	def       agent.ToolDefinition
	score     float64
	diagnosed bool
}

// heuristic ranks tools by keyword overlap with the task. Diagnosed tools
// rank after all others. The first candidate whose required arguments can
// be inferred wins.
func (p *Planner) heuristic(state *agent.State, catalog agent.Catalog) *Plan {
	keywords := textmatch.Keywords(taskText(state))
	diagnosed := state.DiagnosedTools()

	var cands []candidate
	for _, def := range catalog {
		score := textmatch.Similarity(keywords, def.Name, def.Description)
		if score <= 0 {
			continue
		}
		cands = append(cands, candidate{def: def, score: score, diagnosed: diagnosed[def.Name]})
	}
	if len(cands) == 0 {
		return &Plan{Rationale: "no available tool matches the task", Source: SourceNone}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].diagnosed != cands[j].diagnosed {
			return !cands[i].diagnosed
		}
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].def.Name < cands[j].def.Name
	})

	var skipped []string
	for _, c := range cands {
		args := map[string]any{}
		if missing := p.fill(state, c.def, args); missing != "" {
			skipped = append(skipped, fmt.Sprintf("%s (missing %s)", c.def.Name, missing))
			continue
		}
		rationale := fmt.Sprintf("%s best matches the task keywords (score %.2f)", c.def.Name, c.score)
		if c.diagnosed {
			rationale += "; it failed before but no alternative fits"
		}
		return &Plan{
			Call:       &agent.ToolCall{Tool: c.def.Name, Arguments: args},
			Rationale:  rationale,
			Confidence: c.score,
			Source:     SourceHeuristic,
		}
	}
	return &Plan{
		Rationale: "required arguments could not be inferred for: " + strings.Join(skipped, ", "),
		Source:    SourceNone,
	}
}

// taskText is the goal plus any clarifications the user gave.
func taskText(state *agent.State) string {
	if len(state.Clarifications) == 0 {
		return state.Task.Goal
	}
	return state.Task.Goal + "\n" + strings.Join(state.Clarifications, "\n")
}

func clamp01(f float64) float64 {
	if f < 0 || f != f {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
