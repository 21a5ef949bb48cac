package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/forgeworks/forge/pkg/models"
)

// shellOutputLimit truncates command output fed back to the model.
const shellOutputLimit = 64 * 1024

// defaultShellTimeout bounds a command when the caller sets none.
const defaultShellTimeout = 120 * time.Second

// ShellTool runs a command through the system shell in the workspace.
type ShellTool struct {
	cwd string
}

// NewShellTool creates a shell tool defaulting to cwd.
func NewShellTool(cwd string) *ShellTool {
	return &ShellTool{cwd: cwd}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command and return its combined output and exit status."
}

func (t *ShellTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":         map[string]any{"type": "string", "description": "Command line to execute."},
			"cwd":             map[string]any{"type": "string", "description": "Working directory; defaults to the workspace root."},
			"timeout_seconds": map[string]any{"type": "integer", "description": "Kill the command after this many seconds."},
		},
		"required": []string{"command"},
	})
}

type shellInput struct {
	Command        string `json:"command"`
	Cwd            string `json:"cwd"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (t *ShellTool) Permission(params json.RawMessage) PermissionOperation {
	var input shellInput
	_ = json.Unmarshal(params, &input)
	cwd := input.Cwd
	if cwd == "" {
		cwd = t.cwd
	}
	return PermissionOperation{Kind: PermissionExecute, Command: input.Command, Cwd: cwd}
}

func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input shellInput
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	if strings.TrimSpace(input.Command) == "" {
		return models.TextOutput("command is required", true), nil
	}

	timeout := defaultShellTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", input.Command)
	if input.Cwd != "" {
		cmd.Dir = input.Cwd
	} else if t.cwd != "" {
		cmd.Dir = t.cwd
	}

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	output := combined.String()
	if len(output) > shellOutputLimit {
		output = output[:shellOutputLimit] + "\n... output truncated"
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return models.TextOutput(fmt.Sprintf("command timed out after %s\n%s", timeout, output), true), nil
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			return models.TextOutput(fmt.Sprintf("exit status %d\n%s", exitErr.ExitCode(), output), true), nil
		}
		return models.TextOutput(err.Error(), true), nil
	}
	return models.TextOutput(output, false), nil
}
