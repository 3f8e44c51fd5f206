package planner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
)

const maxResultChars = 1000

func planPrompt(state *agent.State, catalog agent.Catalog, guidance *memory.Guidance, window int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", state.Task.Goal)
	for _, c := range state.Clarifications {
		fmt.Fprintf(&b, "Clarification from user: %s\n", c)
	}

	b.WriteString("\nAvailable tools:\n")
	for _, t := range catalog {
		b.WriteString(describeTool(t))
	}

	if len(state.Diagnoses) > 0 {
		b.WriteString("\nKnown failures (avoid these tools unless nothing else can work):\n")
		for _, d := range state.Diagnoses {
			fmt.Fprintf(&b, "- %s: %s\n", d.Tool, d.Conclusion)
		}
	}

	b.WriteString("\nGuidance from memory:\n")
	b.WriteString(guidance.Text())
	b.WriteString("\n")

	recent := state.RecentActions(window)
	if len(recent) > 0 {
		b.WriteString("\nRecent actions:\n")
		for _, a := range recent {
			if a.Call == nil {
				fmt.Fprintf(&b, "- [%d] no action: %s\n", a.Iteration, a.Rationale)
				continue
			}
			args, _ := json.Marshal(a.Call.Arguments)
			fmt.Fprintf(&b, "- [%d] %s %s -> %s", a.Iteration, a.Call.Tool, args, a.Outcome)
			switch {
			case a.Result.Error != "":
				fmt.Fprintf(&b, ": %s", clip(a.Result.Error))
			case a.Result.Content != "":
				fmt.Fprintf(&b, ": %s", clip(a.Result.Content))
			}
			b.WriteString("\n")
		}
	}
	if last, ok := state.LastReflection(); ok && last.NextAction != "" {
		fmt.Fprintf(&b, "\nSuggested next step: %s\n", last.NextAction)
	}
	return b.String()
}

func describeTool(t agent.ToolDefinition) string {
	required := make(map[string]bool, len(t.Required))
	for _, r := range t.Required {
		required[r] = true
	}
	names := make([]string, 0, len(t.Parameters))
	for n := range t.Parameters {
		names = append(names, n)
	}
	sort.Strings(names)

	params := make([]string, 0, len(names))
	for _, n := range names {
		p := n + ": " + t.Parameters[n]
		if required[n] {
			p += " (required)"
		}
		params = append(params, p)
	}
	return fmt.Sprintf("- %s(%s): %s\n", t.Name, strings.Join(params, ", "), t.Description)
}

func clip(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxResultChars {
		return s
	}
	return strings.ToValidUTF8(s[:maxResultChars], "") + "..."
}
