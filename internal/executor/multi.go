package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
)

// Multi serves the union of several executors. When two executors offer
// the same tool name, the one listed first wins.
type Multi struct {
	execs []agent.Executor
}

// NewMulti combines execs in priority order. Nil entries are skipped.
func NewMulti(execs ...agent.Executor) *Multi {
	m := &Multi{}
	for _, e := range execs {
		if e != nil {
			m.execs = append(m.execs, e)
		}
	}
	return m
}

// Tools lists every reachable tool, sorted by name. An executor whose
// catalog cannot be read is left out; the error is returned only when
// no executor answered.
func (m *Multi) Tools(ctx context.Context) ([]agent.ToolDefinition, error) {
	seen := map[string]bool{}
	var (
		defs []agent.ToolDefinition
		errs []error
		ok   int
	)
	for _, e := range m.execs {
		tools, err := e.Tools(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ok++
		for _, t := range tools {
			if !seen[t.Name] {
				seen[t.Name] = true
				defs = append(defs, t)
			}
		}
	}
	if ok == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Execute routes call to the first executor that lists its tool.
func (m *Multi) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	for _, e := range m.execs {
		tools, err := e.Tools(ctx)
		if err != nil {
			continue
		}
		for _, t := range tools {
			if t.Name == call.Tool {
				return e.Execute(ctx, call)
			}
		}
	}
	return agent.ToolResult{}, fmt.Errorf("%w: unknown tool %q", agent.ErrExecution, call.Tool)
}
