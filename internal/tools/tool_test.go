package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forgeworks/forge/internal/patch"
	"github.com/forgeworks/forge/internal/snapshot"
	"github.com/forgeworks/forge/pkg/models"
)

func timeNow() time.Time { return time.Now().UTC() }

func testServices(t *testing.T) *Services {
	t.Helper()
	snapshots := snapshot.NewStore(t.TempDir())
	return NewServices(snapshots, patch.NewService(snapshots, nil, nil))
}

func testRegistry(t *testing.T, services *Services) *Registry {
	t.Helper()
	registry := NewRegistry(nil)
	for _, tool := range []Tool{
		NewReadTool(services),
		NewWriteTool(services),
		NewRemoveTool(services),
		NewPatchTool(services),
		NewUndoTool(services),
		NewShellTool(""),
		&FollowupTool{},
		&AttemptCompletionTool{},
		&PlanTool{},
	} {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	return registry
}

func TestPermissionMapping(t *testing.T) {
	services := testServices(t)
	registry := testRegistry(t, services)

	tests := []struct {
		call models.ToolCallFull
		want PermissionKind
	}{
		{call: models.ToolCallFull{Name: "read", Arguments: []byte(`{"path":"/tmp/a"}`)}, want: PermissionRead},
		{call: models.ToolCallFull{Name: "write", Arguments: []byte(`{"path":"/tmp/a","content":"x"}`)}, want: PermissionWrite},
		{call: models.ToolCallFull{Name: "remove", Arguments: []byte(`{"path":"/tmp/a"}`)}, want: PermissionWrite},
		{call: models.ToolCallFull{Name: "patch", Arguments: []byte(`{"path":"/tmp/a","operation":"replace"}`)}, want: PermissionWrite},
		{call: models.ToolCallFull{Name: "shell", Arguments: []byte(`{"command":"ls"}`)}, want: PermissionExecute},
		{call: models.ToolCallFull{Name: "undo", Arguments: []byte(`{"path":"/tmp/a"}`)}, want: PermissionNone},
		{call: models.ToolCallFull{Name: "followup", Arguments: []byte(`{"question":"?"}`)}, want: PermissionNone},
		{call: models.ToolCallFull{Name: "attempt_completion", Arguments: []byte(`{"result":"done"}`)}, want: PermissionNone},
		{call: models.ToolCallFull{Name: "plan", Arguments: []byte(`{"steps":[]}`)}, want: PermissionNone},
	}
	for _, tt := range tests {
		if got := registry.Permission(tt.call); got.Kind != tt.want {
			t.Errorf("Permission(%s) = %s, want %s", tt.call.Name, got.Kind, tt.want)
		}
	}
}

func TestYieldPredicates(t *testing.T) {
	if !ShouldYield("followup") || !ShouldYield("attempt_completion") {
		t.Error("flow tools must yield")
	}
	if ShouldYield("read") || ShouldYield("shell") {
		t.Error("ordinary tools must not yield")
	}
	if !IsAttemptCompletion("attempt_completion") {
		t.Error("attempt_completion is terminal")
	}
	if IsAttemptCompletion("followup") {
		t.Error("followup is not terminal")
	}
}

func TestRegistryValidatesArguments(t *testing.T) {
	services := testServices(t)
	registry := testRegistry(t, services)

	// Missing the required "path" field.
	output := registry.Execute(context.Background(), models.ToolCallFull{
		Name:      "read",
		Arguments: []byte(`{"start_line": 1}`),
	})
	if !output.IsError {
		t.Fatal("schema violation accepted")
	}
	if !strings.Contains(output.Text(), "schema") {
		t.Errorf("error text = %q", output.Text())
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	registry := testRegistry(t, testServices(t))
	output := registry.Execute(context.Background(), models.ToolCallFull{Name: "teleport", Arguments: []byte(`{}`)})
	if !output.IsError {
		t.Error("unknown tool did not error")
	}
}

func TestWritePatchUndoCycle(t *testing.T) {
	services := testServices(t)
	registry := testRegistry(t, services)
	metrics := models.NewMetrics(timeNow())
	services.SetMetrics(&metrics)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "main.go")
	writeArgs, _ := json.Marshal(map[string]string{"path": path, "content": "package main\n\nfunc main() {}\n"})
	if out := registry.Execute(ctx, models.ToolCallFull{Name: "write", Arguments: writeArgs}); out.IsError {
		t.Fatalf("write failed: %s", out.Text())
	}

	patchArgs, _ := json.Marshal(map[string]string{
		"path": path, "search": "func main() {}", "content": "func main() { run() }", "operation": "replace",
	})
	if out := registry.Execute(ctx, models.ToolCallFull{Name: "patch", Arguments: patchArgs}); out.IsError {
		t.Fatalf("patch failed: %s", out.Text())
	}

	content, _ := os.ReadFile(path)
	if !strings.Contains(string(content), "run()") {
		t.Fatalf("patch not applied: %s", content)
	}

	undoArgs, _ := json.Marshal(map[string]string{"path": path})
	if out := registry.Execute(ctx, models.ToolCallFull{Name: "undo", Arguments: undoArgs}); out.IsError {
		t.Fatalf("undo failed: %s", out.Text())
	}
	content, _ = os.ReadFile(path)
	if strings.Contains(string(content), "run()") {
		t.Errorf("undo did not restore: %s", content)
	}

	op, ok := metrics.FileOperations[path]
	if !ok {
		t.Fatal("metrics missing file operation")
	}
	if op.Tool != models.OperationUndo {
		t.Errorf("latest op = %s, want undo (only most recent is kept)", op.Tool)
	}
}

func TestAgentToolRequiresDescription(t *testing.T) {
	_, err := NewAgentTool(models.Agent{ID: "helper"}, nil)
	var missing *MissingAgentDescriptionError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want MissingAgentDescriptionError", err)
	}

	tool, err := NewAgentTool(models.Agent{ID: "helper", Description: "delegates"}, func(ctx context.Context, agentID string, input AgentInput) (models.ToolOutput, error) {
		return models.TextOutput("ran "+input.Tasks[0]+" on "+agentID, false), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if tool.Name() != "helper" {
		t.Errorf("tool name = %q, want agent id", tool.Name())
	}
	out, err := tool.Execute(context.Background(), []byte(`{"tasks":["build"]}`))
	if err != nil || out.Text() != "ran build on helper" {
		t.Errorf("execute = %q, %v", out.Text(), err)
	}
}

func TestShellToolReportsExitStatus(t *testing.T) {
	shell := NewShellTool("")
	out, err := shell.Execute(context.Background(), []byte(`{"command":"echo out; exit 3"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsError {
		t.Error("nonzero exit not flagged as error")
	}
	if !strings.Contains(out.Text(), "exit status 3") || !strings.Contains(out.Text(), "out") {
		t.Errorf("output = %q", out.Text())
	}
}
