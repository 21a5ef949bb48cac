package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/forgeworks/forge/pkg/models"
)

// fetchBodyLimit caps how much of a response is returned to the model.
const fetchBodyLimit = 256 * 1024

// FetchTool retrieves a URL over HTTP using the shared client.
type FetchTool struct {
	client *http.Client
}

// NewFetchTool creates the fetch tool. client may be nil.
func NewFetchTool(client *http.Client) *FetchTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &FetchTool{client: client}
}

func (t *FetchTool) Name() string { return "fetch" }

func (t *FetchTool) Description() string {
	return "Fetch a URL with HTTP GET and return the response body as text."
}

func (t *FetchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "URL to fetch."},
		},
		"required": []string{"url"},
	})
}

type fetchInput struct {
	URL string `json:"url"`
}

func (t *FetchTool) Permission(params json.RawMessage) PermissionOperation {
	var input fetchInput
	_ = json.Unmarshal(params, &input)
	return PermissionOperation{Kind: PermissionFetch, URL: input.URL}
}

func (t *FetchTool) Execute(ctx context.Context, params json.RawMessage) (models.ToolOutput, error) {
	var input fetchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return models.TextOutput(fmt.Sprintf("invalid parameters: %v", err), true), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
	if err != nil {
		return models.TextOutput(err.Error(), true), nil
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return models.TextOutput(err.Error(), true), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return models.TextOutput(err.Error(), true), nil
	}
	if resp.StatusCode >= 400 {
		return models.TextOutput(fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, body), true), nil
	}
	return models.TextOutput(string(body), false), nil
}
