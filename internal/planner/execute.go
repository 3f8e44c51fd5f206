package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
)

// Execution is the classified result of running one call.
type Execution struct {
	Result   agent.ToolResult
	Outcome  agent.Outcome
	Err      error
	Duration time.Duration
}

// Execute runs call and classifies the outcome. A nil call is skipped.
// Executor errors and panics are exceptions; an error reported inside the
// result is a tool error.
func Execute(ctx context.Context, exec agent.Executor, call *agent.ToolCall) (ex Execution) {
	if call == nil {
		return Execution{Outcome: agent.OutcomeSkipped}
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ex = Execution{
				Result:  agent.ToolResult{Error: fmt.Sprintf("panic: %v", r)},
				Outcome: agent.OutcomeException,
				Err:     fmt.Errorf("%w: %s panicked: %v", agent.ErrExecution, call.Tool, r),
			}
		}
		ex.Duration = time.Since(start)
	}()

	if exec == nil {
		return Execution{
			Result:  agent.ToolResult{Error: "no executor"},
			Outcome: agent.OutcomeException,
			Err:     fmt.Errorf("%w: no executor", agent.ErrExecution),
		}
	}
	res, err := exec.Execute(ctx, *call)
	switch {
	case err != nil:
		return Execution{
			Result:  agent.ToolResult{Content: res.Content, Error: err.Error()},
			Outcome: agent.OutcomeException,
			Err:     err,
		}
	case res.Error != "":
		return Execution{Result: res, Outcome: agent.OutcomeToolError}
	}
	return Execution{Result: res, Outcome: agent.OutcomeSuccess}
}
