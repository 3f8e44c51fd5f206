// Package llm defines the language model boundary used by the planner
// and the reflection engine, with an Anthropic HTTP client and an
// adapter for any langchaingo model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoJSON is returned when model output contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in model output")

// PromptSpec is one model request.
type PromptSpec struct {
	// Name identifies the prompt in logs and metrics.
	Name   string
	System string
	Prompt string
	// Schema maps expected output fields to a short type description.
	// When set, the rendered prompt asks for a JSON object with these fields.
	Schema      map[string]string
	MaxTokens   int
	Temperature float64
}

// Completer produces a completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, spec PromptSpec) (*Output, error)
}

// Render returns the user prompt with the schema instruction appended.
func (p PromptSpec) Render() string {
	if len(p.Schema) == 0 {
		return p.Prompt
	}
	keys := make([]string, 0, len(p.Schema))
	for k := range p.Schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(p.Prompt)
	b.WriteString("\n\nRespond ONLY with a JSON object with these fields:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %q: %s\n", k, p.Schema[k])
	}
	return b.String()
}
