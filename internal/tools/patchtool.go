package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgeworks/forge/internal/patch"
	"github.com/forgeworks/forge/pkg/models"
)

// PatchTool applies a targeted edit to a file through the patch service.
type PatchTool struct {
	services *Services
}

// NewPatchTool creates the patch tool.
func NewPatchTool(services *Services) *PatchTool {
	return &PatchTool{services: services}
}

func (t *PatchTool) Name() string { return "patch" }

func (t *PatchTool) Description() string {
	return "Edit a file by locating search text (exactly, or fuzzily when exact matching fails) and applying an operation: prepend, append, replace, replace_all, or swap. The file is snapshotted before the write."
}

func (t *PatchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":   map[string]any{"type": "string", "description": "Absolute path of the file to edit."},
			"search": map[string]any{"type": "string", "description": "Text to locate. Empty targets the whole file."},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to insert, or the swap target for the swap operation.",
			},
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"prepend", "append", "replace", "replace_all", "swap"},
				"description": "How to combine content with the matched range.",
			},
		},
		"required": []string{"path", "operation"},
	})
}

type patchInput struct {
	Path      string `json:"path"`
	Search    string `json:"search"`
	Content   string `json:"content"`
	Operation string `json:"operation"`
}

func (t *PatchTool) Permission(params json.RawMessage) PermissionOperation {
	var input patchInput
	_ = json.Unmarshal(params, &input)
	return PermissionOperation{Kind: PermissionWrite, Path: input.Path}
}

func (t *PatchTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input patchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}

	output, err := t.services.Patcher.Patch(input.Path, input.Search, input.Content, patch.Operation(input.Operation))
	if err != nil {
		return models.TextOutput(err.Error(), true), nil
	}

	hash := output.ContentHash
	t.services.Record(input.Path, models.FileOperation{
		LinesAdded:   output.LinesAdded,
		LinesRemoved: output.LinesRemoved,
		ContentHash:  &hash,
		Tool:         models.OperationPatch,
	})

	summary := fmt.Sprintf("patched %s (+%d/-%d lines)", input.Path, output.LinesAdded, output.LinesRemoved)
	for _, syntaxErr := range output.Errors {
		summary += fmt.Sprintf("\nwarning line %d: %s", syntaxErr.Line, syntaxErr.Message)
	}
	return models.TextOutput(summary, false), nil
}
