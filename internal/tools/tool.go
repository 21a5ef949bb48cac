// Package tools implements the built-in tool surface the agent can call:
// file access, patching, search, shell, fetch, undo, and the flow-control
// tools that pause or finish a turn. Each tool carries a JSON schema derived
// from its input shape and maps every call to a permission operation for
// policy enforcement.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/forgeworks/forge/pkg/models"
)

// Tool is one callable tool.
type Tool interface {
	// Name returns the tool name used in function calling.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema of the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Failures the model should see are returned as
	// error outputs, not Go errors.
	Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error)
}

// PermissionKind classifies what a tool call is allowed to touch.
type PermissionKind string

const (
	PermissionRead    PermissionKind = "read"
	PermissionWrite   PermissionKind = "write"
	PermissionExecute PermissionKind = "execute"
	PermissionFetch   PermissionKind = "fetch"
	PermissionNone    PermissionKind = "none"
)

// PermissionOperation describes one tool call for policy decisions.
type PermissionOperation struct {
	Kind    PermissionKind
	Path    string
	Message string
	Command string
	Cwd     string
	URL     string
}

// PermissionMapper is implemented by tools whose calls need a permission
// decision. Tools without the interface require none.
type PermissionMapper interface {
	Permission(params json.RawMessage) PermissionOperation
}

// yieldingTools pause the turn and hand control back to the user.
var yieldingTools = map[string]struct{}{
	"followup":           {},
	"attempt_completion": {},
}

// ShouldYield reports whether a call to the named tool ends the turn loop.
func ShouldYield(name string) bool {
	_, ok := yieldingTools[name]
	return ok
}

// IsAttemptCompletion reports whether the named tool terminates the task.
func IsAttemptCompletion(name string) bool {
	return name == "attempt_completion"
}

// Registry holds the registered tools with their compiled schemas.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool, compiling its schema for argument validation.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	compiler := jsonschema.NewCompiler()
	name := tool.Name()
	resource := "inline://" + name + ".json"
	if err := compiler.AddResource(resource, strings.NewReader(string(tool.Schema()))); err != nil {
		return fmt.Errorf("invalid schema for tool %s: %w", name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("invalid schema for tool %s: %w", name, err)
	}

	r.tools[name] = tool
	r.schemas[name] = compiled
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions returns the tool definitions in stable name order.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]models.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		defs = append(defs, models.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return defs
}

// Permission maps a call to its permission operation.
func (r *Registry) Permission(call models.ToolCallFull) PermissionOperation {
	tool, ok := r.Get(call.Name)
	if !ok {
		return PermissionOperation{Kind: PermissionNone}
	}
	if mapper, ok := tool.(PermissionMapper); ok {
		return mapper.Permission(call.Arguments)
	}
	return PermissionOperation{Kind: PermissionNone}
}

// Execute validates the call's arguments against the tool schema and runs
// the tool. Every failure becomes an error tool output so the turn can
// continue.
func (r *Registry) Execute(ctx context.Context, call models.ToolCallFull) models.ToolOutput {
	tool, ok := r.Get(call.Name)
	if !ok {
		return models.TextOutput(fmt.Sprintf("unknown tool: %s", call.Name), true)
	}

	r.mu.RLock()
	compiled := r.schemas[call.Name]
	r.mu.RUnlock()

	if compiled != nil {
		var value any
		if err := json.Unmarshal(call.Arguments, &value); err != nil {
			return models.TextOutput(fmt.Sprintf("invalid arguments for %s: %v", call.Name, err), true)
		}
		if err := compiled.Validate(value); err != nil {
			return models.TextOutput(fmt.Sprintf("arguments for %s do not match its schema: %v", call.Name, err), true)
		}
	}

	output, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		r.logger.Debug("tool execution failed", "tool", call.Name, "error", err)
		return models.TextOutput(err.Error(), true)
	}
	return output
}

// mustSchema marshals a schema literal, falling back to a permissive object
// schema on failure.
func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
