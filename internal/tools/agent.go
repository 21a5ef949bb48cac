package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgeworks/forge/pkg/models"
)

// MissingAgentDescriptionError is returned when an agent is exposed as a
// tool without a description the model could act on.
type MissingAgentDescriptionError struct {
	AgentID string
}

func (e *MissingAgentDescriptionError) Error() string {
	return fmt.Sprintf("agent %s cannot be registered as a tool without a description", e.AgentID)
}

// AgentInput is the generic envelope every agent tool accepts.
type AgentInput struct {
	Tasks       []string `json:"tasks"`
	Explanation string   `json:"explanation,omitempty"`
}

// AgentRunner executes tasks against a named agent and returns its output.
type AgentRunner func(ctx context.Context, agentID string, input AgentInput) (models.ToolOutput, error)

// AgentTool exposes a configured agent as a callable tool; the agent id is
// the tool name.
type AgentTool struct {
	agent  models.Agent
	runner AgentRunner
}

// NewAgentTool wraps an agent. The agent must carry a description.
func NewAgentTool(agent models.Agent, runner AgentRunner) (*AgentTool, error) {
	if agent.Description == "" {
		return nil, &MissingAgentDescriptionError{AgentID: agent.ID}
	}
	return &AgentTool{agent: agent, runner: runner}, nil
}

func (t *AgentTool) Name() string { return t.agent.ID }

func (t *AgentTool) Description() string { return t.agent.Description }

func (t *AgentTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tasks": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Tasks to delegate to the agent.",
			},
			"explanation": map[string]any{
				"type":        "string",
				"description": "Why the work is being delegated.",
			},
		},
		"required": []string{"tasks"},
	})
}

func (t *AgentTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input AgentInput
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid agent call argument: %v", err), true), nil
	}
	if len(input.Tasks) == 0 {
		return models.TextOutput("agent call needs at least one task", true), nil
	}
	return t.runner(ctx, t.agent.ID, input)
}
