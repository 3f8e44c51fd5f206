package reflection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
)

func buildPrompt(state *agent.State, catalog agent.Catalog, guidance *memory.Guidance, window int, repeated bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n", state.Task.Goal)
	if state.Task.Type != "" {
		fmt.Fprintf(&b, "Task type: %s\n", state.Task.Type)
	}
	fmt.Fprintf(&b, "Iteration: %d\n", state.Iteration)
	if len(catalog) > 0 {
		fmt.Fprintf(&b, "Available tools: %s\n", strings.Join(catalog.Names(), ", "))
	}

	b.WriteString("\nGuidance from memory:\n")
	b.WriteString(guidance.Text())
	b.WriteString("\n")

	recent := state.RecentActions(window)
	fmt.Fprintf(&b, "\nRecent actions (last %d):\n", len(recent))
	if len(recent) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range recent {
		b.WriteString(describeAction(a))
	}

	if repeated {
		fmt.Fprintf(&b, "\nWARNING: the last %d actions made the same call with the same arguments. "+
			"If they produced no new information, the task is blocked unless a different approach is possible.\n",
			agent.RepetitionWindow)
	}
	return b.String()
}

func describeAction(a agent.ActionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- [%d] ", a.Iteration)
	if a.Call == nil {
		fmt.Fprintf(&b, "no action (%s)\n", a.Rationale)
		return b.String()
	}
	args, err := json.Marshal(a.Call.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	fmt.Fprintf(&b, "%s %s -> %s\n", a.Call.Tool, args, a.Outcome)
	if a.Result.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", truncate(a.Result.Error, maxResultChars))
	}
	if a.Result.Content != "" {
		fmt.Fprintf(&b, "  result: %s\n", truncate(a.Result.Content, maxResultChars))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "...(truncated)"
}
