package agent

import "context"

// Executor runs tools on behalf of the agent.
//
// Execute returns a ToolResult for outcomes the tool itself reports,
// including failures carried in ToolResult.Error. A non-nil error means
// the executor could not run the tool at all.
type Executor interface {
	Tools(ctx context.Context) ([]ToolDefinition, error)
	Execute(ctx context.Context, call ToolCall) (ToolResult, error)
}
