package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
)

// Handler runs one tool. Returning an error built with ToolError reports
// a failure inside the tool; any other error is an execution exception.
type Handler func(ctx context.Context, args map[string]any) (string, error)

type toolError struct {
	msg string
}

func (e *toolError) Error() string { return e.msg }

// ToolError returns an error that the registry reports in ToolResult.Error
// rather than as an exception.
func ToolError(format string, a ...any) error {
	return &toolError{msg: fmt.Sprintf(format, a...)}
}

// IsToolError reports whether err was built with ToolError.
func IsToolError(err error) bool {
	var te *toolError
	return errors.As(err, &te)
}

type registered struct {
	def     agent.ToolDefinition
	handler Handler
}

// Registry is an in-process tool executor.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registered)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def agent.ToolDefinition, h Handler) error {
	if def.Name == "" {
		return errors.New("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("tool %q: handler is required", def.Name)
	}
	for _, req := range def.Required {
		if _, ok := def.Parameters[req]; !ok {
			return fmt.Errorf("tool %q: required parameter %q is not declared", def.Name, req)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = registered{def: def, handler: h}
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (r *Registry) MustRegister(def agent.ToolDefinition, h Handler) {
	if err := r.Register(def, h); err != nil {
		panic(err)
	}
}

// Tools returns definitions sorted by name.
func (r *Registry) Tools(_ context.Context) ([]agent.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]agent.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Execute runs the named tool. A panic inside the handler is returned as
// an error wrapping agent.ErrExecution.
func (r *Registry) Execute(ctx context.Context, call agent.ToolCall) (res agent.ToolResult, err error) {
	r.mu.RLock()
	t, ok := r.tools[call.Tool]
	r.mu.RUnlock()
	if !ok {
		return agent.ToolResult{}, fmt.Errorf("%w: unknown tool %q", agent.ErrExecution, call.Tool)
	}

	defer func() {
		if p := recover(); p != nil {
			res = agent.ToolResult{}
			err = fmt.Errorf("%w: tool %q panicked: %v", agent.ErrExecution, call.Tool, p)
		}
	}()

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	content, herr := t.handler(ctx, args)
	if herr != nil {
		if IsToolError(herr) {
			return agent.ToolResult{Content: content, Error: herr.Error()}, nil
		}
		return agent.ToolResult{}, fmt.Errorf("%w: %s: %v", agent.ErrExecution, call.Tool, herr)
	}
	return agent.ToolResult{Content: content}, nil
}

// StringArg returns a string argument.
func StringArg(args map[string]any, name string) (string, bool) {
	s, ok := args[name].(string)
	return s, ok && s != ""
}

// IntArg returns an integer argument, accepting JSON numbers.
func IntArg(args map[string]any, name string) (int, bool) {
	switch v := args[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
