package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgeworks/forge/internal/infra"
	"github.com/forgeworks/forge/internal/walker"
	"github.com/forgeworks/forge/pkg/models"
)

// searchMaxResults caps the matches returned to the model.
const searchMaxResults = 200

// SearchTool finds text across workspace files, bounded by the walker.
type SearchTool struct {
	cwd string
}

// NewSearchTool creates a search tool rooted at cwd.
func NewSearchTool(cwd string) *SearchTool {
	return &SearchTool{cwd: cwd}
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Search workspace files for a substring, optionally filtered by a glob pattern like **/*.go. Returns path, line number, and the matching line."
}

func (t *SearchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":            map[string]any{"type": "string", "description": "Substring to find."},
			"file_pattern":     map[string]any{"type": "string", "description": "Optional glob restricting which files are searched."},
			"case_insensitive": map[string]any{"type": "boolean", "description": "Match case-insensitively."},
		},
		"required": []string{"query"},
	})
}

type searchInput struct {
	Query           string `json:"query"`
	FilePattern     string `json:"file_pattern"`
	CaseInsensitive bool   `json:"case_insensitive"`
}

func (t *SearchTool) Permission(params json.RawMessage) PermissionOperation {
	var input searchInput
	_ = json.Unmarshal(params, &input)
	return PermissionOperation{
		Kind:    PermissionRead,
		Path:    t.cwd,
		Message: fmt.Sprintf("Search workspace for %q", input.Query),
	}
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input searchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}
	if input.Query == "" {
		return models.TextOutput("query is required", true), nil
	}

	files, err := walker.Walk(walker.Config{
		Cwd:         t.cwd,
		SkipBinary:  true,
		MaxFileSize: 1 << 20,
		Pattern:     input.FilePattern,
	})
	if err != nil {
		return models.TextOutput(err.Error(), true), nil
	}

	query := input.Query
	if input.CaseInsensitive {
		query = strings.ToLower(query)
	}

	var out strings.Builder
	matches := 0
	for _, file := range files {
		if ctx.Err() != nil {
			return models.TextOutput(ctx.Err().Error(), true), nil
		}
		content, err := infra.ReadUTF8(file.Path)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(content, "\n") {
			haystack := line
			if input.CaseInsensitive {
				haystack = strings.ToLower(haystack)
			}
			if strings.Contains(haystack, query) {
				fmt.Fprintf(&out, "%s:%d: %s\n", file.Path, i+1, strings.TrimSpace(line))
				matches++
				if matches >= searchMaxResults {
					fmt.Fprintf(&out, "... truncated at %d matches\n", searchMaxResults)
					return models.TextOutput(out.String(), false), nil
				}
			}
		}
	}

	if matches == 0 {
		return models.TextOutput(fmt.Sprintf("no matches for %q", input.Query), false), nil
	}
	return models.TextOutput(out.String(), false), nil
}
