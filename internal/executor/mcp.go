package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// MCPConfig identifies this client to MCP servers.
type MCPConfig struct {
	Name    string
	Version string
}

// MCP executes tools exposed by an MCP server session.
type MCP struct {
	session *mcp.ClientSession
	logger  *logging.Logger

	mu    sync.Mutex
	tools []agent.ToolDefinition
}

// ConnectMCP connects to an MCP server over transport.
func ConnectMCP(ctx context.Context, cfg MCPConfig, transport mcp.Transport, logger *logging.Logger) (*MCP, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Name == "" {
		cfg.Name = "agentloop"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	client := mcp.NewClient(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to MCP server: %w", err)
	}
	return &MCP{session: session, logger: logger.Named("mcp")}, nil
}

// Close ends the session.
func (m *MCP) Close() error {
	return m.session.Close()
}

// Tools lists the server's tools. The list is fetched once per session.
func (m *MCP) Tools(ctx context.Context) ([]agent.ToolDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tools != nil {
		return m.tools, nil
	}

	res, err := m.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list MCP tools: %w", err)
	}
	defs := make([]agent.ToolDefinition, 0, len(res.Tools))
	for _, t := range res.Tools {
		def, err := toolDefinition(t)
		if err != nil {
			m.logger.Warn(ctx, "skipping MCP tool with unreadable schema",
				zap.String("tool", t.Name), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	m.tools = defs
	return defs, nil
}

// Execute calls the tool. Results flagged IsError become ToolResult.Error;
// transport and protocol failures are returned as errors.
func (m *MCP) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	res, err := m.session.CallTool(ctx, &mcp.CallToolParams{Name: call.Tool, Arguments: args})
	if err != nil {
		return agent.ToolResult{}, fmt.Errorf("%w: MCP call %s: %v", agent.ErrExecution, call.Tool, err)
	}

	text := contentText(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return agent.ToolResult{Error: text}, nil
	}
	return agent.ToolResult{Content: text}, nil
}

func contentText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if b, err := json.Marshal(res.StructuredContent); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, "\n")
}

// inputSchema is the subset of JSON Schema the planner needs.
type inputSchema struct {
	Properties map[string]struct {
		Type any `json:"type"`
	} `json:"properties"`
	Required []string `json:"required"`
}

func toolDefinition(t *mcp.Tool) (agent.ToolDefinition, error) {
	def := agent.ToolDefinition{Name: t.Name, Description: t.Description}
	if t.InputSchema == nil {
		return def, nil
	}
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return def, err
	}
	var s inputSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return def, err
	}
	if len(s.Properties) > 0 {
		def.Parameters = make(map[string]string, len(s.Properties))
		for name, p := range s.Properties {
			def.Parameters[name] = schemaType(p.Type)
		}
	}
	def.Required = s.Required
	return def, nil
}

func schemaType(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && s != "null" {
				return s
			}
		}
	}
	return "any"
}
