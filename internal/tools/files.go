package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/forgeworks/forge/internal/infra"
	"github.com/forgeworks/forge/internal/patch"
	"github.com/forgeworks/forge/internal/snapshot"
	"github.com/forgeworks/forge/pkg/models"
)

// Services bundles what the file tools need: the snapshot store, the patch
// service, and the metrics sink for the active conversation.
type Services struct {
	Snapshots *snapshot.Store
	Patcher   *patch.Service

	mu      sync.Mutex
	metrics *models.Metrics
}

// NewServices creates the shared tool services.
func NewServices(snapshots *snapshot.Store, patcher *patch.Service) *Services {
	return &Services{Snapshots: snapshots, Patcher: patcher}
}

// SetMetrics points the tools at the active conversation's metrics.
func (s *Services) SetMetrics(metrics *models.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = metrics
}

// Record stores a file operation on the active metrics, keeping only the
// most recent operation per path.
func (s *Services) Record(path string, op models.FileOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordOperation(path, op)
	}
}

// ReadTool reads a file, optionally a line range of it.
type ReadTool struct {
	services *Services
}

// NewReadTool creates the read tool.
func NewReadTool(services *Services) *ReadTool {
	return &ReadTool{services: services}
}

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string {
	return "Read a UTF-8 file from disk, optionally restricted to a 1-based inclusive line range."
}

func (t *ReadTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":       map[string]any{"type": "string", "description": "Absolute path of the file to read."},
			"start_line": map[string]any{"type": "integer", "description": "First line to read (1-based)."},
			"end_line":   map[string]any{"type": "integer", "description": "Last line to read (inclusive)."},
		},
		"required": []string{"path"},
	})
}

type readInput struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (t *ReadTool) Permission(params json.RawMessage) PermissionOperation {
	var input readInput
	_ = json.Unmarshal(params, &input)
	return PermissionOperation{
		Kind:    PermissionRead,
		Path:    input.Path,
		Message: fmt.Sprintf("Read file %s", input.Path),
	}
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input readInput
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	if infra.IsBinary(input.Path) {
		return models.TextOutput(fmt.Sprintf("%s is a binary file", input.Path), true), nil
	}

	content, info, err := infra.RangeReadUTF8(input.Path, input.StartLine, input.EndLine)
	if err != nil {
		return models.TextOutput(err.Error(), true), nil
	}

	t.services.Record(input.Path, models.FileOperation{Tool: models.OperationRead})

	header := fmt.Sprintf("lines %d-%d of %d\n", info.StartLine, info.EndLine, info.TotalLines)
	return models.TextOutput(header+content, false), nil
}

// WriteTool writes a whole file, snapshotting any previous content first.
type WriteTool struct {
	services *Services
}

// NewWriteTool creates the write tool.
func NewWriteTool(services *Services) *WriteTool {
	return &WriteTool{services: services}
}

func (t *WriteTool) Name() string { return "write" }

func (t *WriteTool) Description() string {
	return "Create or overwrite a file with the given content. The previous content is snapshotted for undo."
}

func (t *WriteTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Absolute path of the file to write."},
			"content": map[string]any{"type": "string", "description": "Full new content of the file."},
		},
		"required": []string{"path", "content"},
	})
}

type writeInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteTool) Permission(params json.RawMessage) PermissionOperation {
	var input writeInput
	_ = json.Unmarshal(params, &input)
	return PermissionOperation{Kind: PermissionWrite, Path: input.Path}
}

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input writeInput
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	if !filepath.IsAbs(input.Path) {
		return models.TextOutput("path must be absolute", true), nil
	}

	before := ""
	if raw, err := os.ReadFile(input.Path); err == nil {
		before = string(raw)
	}

	if _, err := t.services.Snapshots.Insert(input.Path); err != nil {
		return models.ToolOutput{}, err
	}
	if err := infra.WriteFile(input.Path, []byte(input.Content)); err != nil {
		return models.TextOutput(err.Error(), true), nil
	}

	hash := patch.ContentHash(input.Content)
	added, removed := patch.LineDelta(before, input.Content)
	t.services.Record(input.Path, models.FileOperation{
		LinesAdded:   added,
		LinesRemoved: removed,
		ContentHash:  &hash,
		Tool:         models.OperationWrite,
	})

	return models.TextOutput(fmt.Sprintf("wrote %d bytes to %s", len(input.Content), input.Path), false), nil
}

// RemoveTool deletes a file, snapshotting it first so undo can restore it.
type RemoveTool struct {
	services *Services
}

// NewRemoveTool creates the remove tool.
func NewRemoveTool(services *Services) *RemoveTool {
	return &RemoveTool{services: services}
}

func (t *RemoveTool) Name() string { return "remove" }

func (t *RemoveTool) Description() string {
	return "Delete a file. The content is snapshotted first so the deletion can be undone."
}

func (t *RemoveTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Absolute path of the file to delete."},
		},
		"required": []string{"path"},
	})
}

type removeInput struct {
	Path string `json:"path"`
}

func (t *RemoveTool) Permission(params json.RawMessage) PermissionOperation {
	var input removeInput
	_ = json.Unmarshal(params, &input)
	return PermissionOperation{Kind: PermissionWrite, Path: input.Path}
}

func (t *RemoveTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input removeInput
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	if !filepath.IsAbs(input.Path) {
		return models.TextOutput("path must be absolute", true), nil
	}

	if _, err := t.services.Snapshots.Insert(input.Path); err != nil {
		return models.ToolOutput{}, err
	}
	if err := os.Remove(input.Path); err != nil {
		return models.TextOutput(err.Error(), true), nil
	}

	t.services.Record(input.Path, models.FileOperation{Tool: models.OperationWrite})
	return models.TextOutput(fmt.Sprintf("removed %s", input.Path), false), nil
}

// UndoTool restores the most recent snapshot of a file.
type UndoTool struct {
	services *Services
}

// NewUndoTool creates the undo tool.
func NewUndoTool(services *Services) *UndoTool {
	return &UndoTool{services: services}
}

func (t *UndoTool) Name() string { return "undo" }

func (t *UndoTool) Description() string {
	return "Undo the most recent change to a file by restoring its last snapshot."
}

func (t *UndoTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Absolute path of the file to restore."},
		},
		"required": []string{"path"},
	})
}

type undoInput struct {
	Path string `json:"path"`
}

func (t *UndoTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input undoInput
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}

	result, err := t.services.Snapshots.Undo(input.Path)
	if err != nil {
		return models.TextOutput(err.Error(), true), nil
	}

	t.services.Record(input.Path, models.FileOperation{
		Tool: models.OperationUndo,
	})
	added, removed := patch.LineDelta(result.BeforeUndo, result.AfterUndo)
	return models.TextOutput(fmt.Sprintf("restored %s (+%d/-%d lines)", input.Path, added, removed), false), nil
}
