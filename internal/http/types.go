package http

import (
	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RunRequest is the request body for POST /api/v1/runs.
type RunRequest struct {
	Goal           string            `json:"goal"`
	Type           string            `json:"type,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ResumeRequest is the request body for POST /api/v1/runs/resume.
// Exactly one of CheckpointID and ConversationID must be set.
type ResumeRequest struct {
	CheckpointID   string `json:"checkpoint_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Clarification  string `json:"clarification,omitempty"`
}

// RunResponse carries the run result. Error is set when the run returned
// one; Result is still complete in that case.
type RunResponse struct {
	Result *agent.Result `json:"result"`
	Error  string        `json:"error,omitempty"`
}

// ToolsResponse is the response body for GET /api/v1/tools.
type ToolsResponse struct {
	Tools []agent.ToolDefinition `json:"tools"`
}

// CheckpointsResponse is the response body for GET /api/v1/checkpoints.
type CheckpointsResponse struct {
	Checkpoints []memory.CheckpointInfo `json:"checkpoints"`
}

// CheckpointResponse is the response body for GET /api/v1/checkpoints/:id.
type CheckpointResponse struct {
	ID     string          `json:"id"`
	State  *agent.State    `json:"state"`
	Config agent.RunConfig `json:"config"`
}

// EpisodesResponse is the response body for GET /api/v1/episodes.
type EpisodesResponse struct {
	Episodes []memory.ScoredEpisode `json:"episodes"`
}
