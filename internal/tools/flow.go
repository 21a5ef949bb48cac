package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgeworks/forge/pkg/models"
)

// FollowupTool lets the model ask the user a clarifying question, pausing
// the turn loop.
type FollowupTool struct{}

func (t *FollowupTool) Name() string { return "followup" }

func (t *FollowupTool) Description() string {
	return "Ask the user a clarifying question when the task cannot proceed without an answer. Ends the current turn."
}

func (t *FollowupTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string", "description": "The question for the user."},
			"options": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional suggested answers.",
			},
		},
		"required": []string{"question"},
	})
}

func (t *FollowupTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	text := input.Question
	if len(input.Options) > 0 {
		text += "\nOptions:\n- " + strings.Join(input.Options, "\n- ")
	}
	return models.TextOutput(text, false), nil
}

// AttemptCompletionTool marks the task finished with a result summary. It is
// the only terminal tool.
type AttemptCompletionTool struct{}

func (t *AttemptCompletionTool) Name() string { return "attempt_completion" }

func (t *AttemptCompletionTool) Description() string {
	return "Declare the task complete and present the final result to the user."
}

func (t *AttemptCompletionTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"result": map[string]any{"type": "string", "description": "Final description of what was accomplished."},
		},
		"required": []string{"result"},
	})
}

func (t *AttemptCompletionTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	return models.TextOutput(input.Result, false), nil
}

// PlanTool records a step-by-step plan before the model starts working.
type PlanTool struct{}

func (t *PlanTool) Name() string { return "plan" }

func (t *PlanTool) Description() string {
	return "Write down a short ordered plan for the task before executing it."
}

func (t *PlanTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"steps": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Ordered plan steps.",
			},
		},
		"required": []string{"steps"},
	})
}

func (t *PlanTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input struct {
		Steps []string `json:"steps"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	var out strings.Builder
	for i, step := range input.Steps {
		fmt.Fprintf(&out, "%d. %s\n", i+1, step)
	}
	return models.TextOutput(out.String(), false), nil
}
