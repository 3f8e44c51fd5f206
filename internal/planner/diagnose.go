package planner

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultWhyDepth bounds the number of "why" questions per diagnosis.
const DefaultWhyDepth = 5

const maxDiagnosisErrors = 5

var diagnoseSchema = map[string]string{
	"answer":     "one sentence answering the question",
	"root_cause": "true when the answer is the underlying cause and no further why applies",
}

// Diagnose explains why tool keeps failing. With a model it asks a chain
// of why questions, each built from the previous answer, stopping at the
// depth bound, an empty answer, or an answer marked as the root cause.
// Without a model, or when the model gives nothing, the errors are
// classified by pattern in a single step.
func (p *Planner) Diagnose(ctx context.Context, state *agent.State, tool string) agent.Diagnosis {
	ctx, span := p.tracer.Start(ctx, "planner.diagnose")
	defer span.End()

	msgs := toolErrors(state, tool)
	diag := agent.Diagnosis{
		Iteration:  state.Iteration,
		Tool:       tool,
		ErrorCount: state.ToolErrors[tool],
	}

	if p.model != nil {
		diag.Chain = p.whyChain(ctx, tool, msgs)
	}
	if len(diag.Chain) == 0 {
		diag.Chain = []string{Classify(msgs)}
	}
	diag.Conclusion = fmt.Sprintf("%s failed %d time(s): %s", tool, diag.ErrorCount, diag.Chain[len(diag.Chain)-1])

	span.SetAttributes(
		attribute.String("tool", tool),
		attribute.Int("depth", len(diag.Chain)),
	)
	p.logger.Info(ctx, "tool diagnosed",
		zap.String("tool", tool),
		zap.Int("errors", diag.ErrorCount),
		zap.Int("depth", len(diag.Chain)),
		zap.String("conclusion", diag.Conclusion))
	return diag
}

func (p *Planner) whyChain(ctx context.Context, tool string, msgs []string) []string {
	question := fmt.Sprintf("Why did the tool %s fail?", tool)
	var chain []string
	for depth := 0; depth < p.maxWhyDepth; depth++ {
		var b strings.Builder
		fmt.Fprintf(&b, "Errors from %s:\n", tool)
		for _, m := range msgs {
			fmt.Fprintf(&b, "- %s\n", clip(m))
		}
		if len(chain) > 0 {
			b.WriteString("\nAnswers so far:\n")
			for i, a := range chain {
				fmt.Fprintf(&b, "%d. %s\n", i+1, a)
			}
		}
		fmt.Fprintf(&b, "\nQuestion: %s\n", question)

		out, err := p.model.Complete(ctx, llm.PromptSpec{
			Name:      DiagnosePrompt,
			System:    "You find the root cause of repeated tool failures by asking why until the cause is reached.",
			Prompt:    b.String(),
			Schema:    diagnoseSchema,
			MaxTokens: 256,
		})
		if err != nil {
			p.logger.Warn(ctx, "diagnosis step failed", zap.Int("depth", depth), zap.Error(err))
			break
		}
		answer, root := parseAnswer(out)
		if answer == "" {
			break
		}
		chain = append(chain, answer)
		if root {
			break
		}
		question = "Why " + lowerFirst(strings.TrimRight(answer, ".")) + "?"
	}
	return chain
}

func parseAnswer(out *llm.Output) (string, bool) {
	if out == nil {
		return "", false
	}
	answer := out.String("answer")
	if out.Structured == nil {
		answer = strings.TrimSpace(out.Text)
	}
	root, _ := out.Structured["root_cause"].(bool)
	if strings.Contains(strings.ToLower(answer), "root cause") {
		root = true
	}
	return answer, root
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}

func toolErrors(state *agent.State, tool string) []string {
	var out []string
	for i := len(state.Errors) - 1; i >= 0 && len(out) < maxDiagnosisErrors; i-- {
		e := state.Errors[i]
		if e.Tool == tool && e.Source == agent.SourceExecutor {
			out = append(out, e.Message)
		}
	}
	return out
}

var classes = []struct {
	markers []string
	cause   string
}{
	{[]string{"panic"}, "the tool crashed while running"},
	{[]string{"connection refused", "unavailable", "not installed", "unknown tool", "no executor", "executable file not found"}, "it is unavailable in this environment"},
	{[]string{"no such file", "not found", "does not exist", "enoent", "404"}, "the target it was pointed at does not exist"},
	{[]string{"permission", "denied", "forbidden", "unauthorized", "eacces", "401", "403"}, "it lacks permission for the target"},
	{[]string{"timeout", "timed out", "deadline exceeded"}, "it timed out before finishing"},
	{[]string{"invalid", "missing", "required", "malformed", "bad argument", "unexpected"}, "it was called with invalid arguments"},
}

// Classify maps error messages to a single probable cause.
func Classify(msgs []string) string {
	if len(msgs) == 0 {
		return "no error details were recorded"
	}
	joined := strings.ToLower(strings.Join(msgs, "\n"))
	for _, c := range classes {
		for _, m := range c.markers {
			if strings.Contains(joined, m) {
				return c.cause
			}
		}
	}
	return "it fails repeatedly for an unclassified reason: " + clip(msgs[0])
}
