package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/forgeworks/forge/internal/agent"
	"github.com/forgeworks/forge/internal/infra"
	"github.com/forgeworks/forge/internal/providers/toolconv"
	"github.com/forgeworks/forge/pkg/models"
)

// openaiProvider speaks the OpenAI chat-completions protocol over SSE. The
// wire DTOs are owned by this adapter (openai_dto.go): the dialect needs
// content-part cache markers and reasoning-detail passthrough that generic
// client libraries cannot express.
type openaiProvider struct {
	id      string
	apiKey  string
	baseURL string
	deps    deps
}

func newOpenAI(cfg Config, d deps) (agent.ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &openaiProvider{
		id:      cfg.ID,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		deps:    d,
	}, nil
}

func (p *openaiProvider) Name() string {
	return "openai"
}

func (p *openaiProvider) ContextLength(model models.ModelID) int {
	id := string(model)
	switch {
	case strings.HasPrefix(id, "o1"), strings.HasPrefix(id, "o3"), strings.HasPrefix(id, "o4"):
		return 200000
	case strings.HasPrefix(id, "gpt-4.1"):
		return 1000000
	case strings.HasPrefix(id, "gpt-4o"), strings.HasPrefix(id, "gpt-4-turbo"):
		return 128000
	}
	return 0
}

func (p *openaiProvider) Chat(ctx context.Context, model models.ModelID, chat *models.Context) (<-chan *agent.ChatCompletionMessage, error) {
	request, err := p.buildRequest(model, chat)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	frames := make(chan *agent.ChatCompletionMessage)
	go func() {
		defer close(frames)

		// Only the connection phase is retried; once bytes stream, the
		// response is committed.
		var respBody io.ReadCloser
		err := infra.Retry(ctx, p.deps.retry, IsRetryable, func() error {
			var reqErr error
			respBody, reqErr = p.open(ctx, body, model)
			return reqErr
		})
		if err != nil {
			frames <- &agent.ChatCompletionMessage{Err: err}
			return
		}
		defer respBody.Close()

		p.consumeStream(ctx, respBody, frames, model)
	}()
	return frames, nil
}

func (p *openaiProvider) buildRequest(model models.ModelID, chat *models.Context) (*chatRequest, error) {
	request := &chatRequest{
		Model:             string(model),
		Stream:            true,
		StreamOptions:     &streamOptions{IncludeUsage: true},
		ParallelToolCalls: false,
		MaxTokens:         chat.MaxTokens,
		Temperature:       chat.Temperature,
		TopP:              chat.TopP,
	}

	if chat.Reasoning.Active() && chat.Reasoning.Effort != "" {
		request.ReasoningEffort = string(chat.Reasoning.Effort)
	}

	lastSystem := -1
	for _, msg := range chat.Messages {
		switch {
		case msg.Text != nil:
			wire := chatMessage{
				Role:    string(msg.Text.Role),
				Content: TextContent(msg.Text.Content),
			}
			if msg.Text.Role == models.RoleSystem {
				lastSystem = len(request.Messages)
			}
			if msg.Text.Role == models.RoleAssistant {
				wire.ReasoningDetails = msg.Text.ReasoningDetails
				for i, tc := range msg.Text.ToolCalls {
					idx := i
					wire.ToolCalls = append(wire.ToolCalls, chatToolCall{
						Index: &idx,
						ID:    tc.CallID,
						Type:  "function",
						Function: chatToolCallFunction{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					})
				}
			}
			request.Messages = append(request.Messages, wire)

		case msg.Tool != nil:
			request.Messages = append(request.Messages, chatMessage{
				Role:       "tool",
				Name:       msg.Tool.Name,
				ToolCallID: msg.Tool.CallID,
				Content:    TextContent(msg.Tool.Output.Text()),
			})

		case msg.Image != nil:
			request.Messages = append(request.Messages, chatMessage{
				Role: "user",
				Content: PartsContent(ContentPart{
					Type:     "image_url",
					ImageURL: &imageURLPart{URL: msg.Image.URL},
				}),
			})
		}
	}

	// Cache the static system prefix: one ephemeral marker on the last
	// system message.
	if lastSystem >= 0 {
		request.Messages[lastSystem].Content = request.Messages[lastSystem].Content.Cached(true)
	}

	for _, tool := range chat.Tools {
		request.Tools = append(request.Tools, chatToolDef{
			Type: "function",
			Function: chatFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  toolconv.SanitizeForOpenAI(tool.InputSchema),
			},
		})
	}

	if choice := chat.ToolChoice; choice != nil {
		switch choice.Mode {
		case models.ToolChoiceAuto:
			request.ToolChoice = "auto"
		case models.ToolChoiceNone:
			request.ToolChoice = "none"
		case models.ToolChoiceRequired:
			request.ToolChoice = "required"
		case models.ToolChoiceCall:
			request.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": choice.Name},
			}
		}
	}

	return request, nil
}

// open performs the POST and returns the response body once the server has
// committed to streaming. Non-2xx responses become provider errors.
func (p *openaiProvider) open(ctx context.Context, body []byte, model models.ModelID) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, newError("openai", string(model), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	client := p.deps.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, newError("openai", string(model), err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		provErr := newError("openai", string(model), fmt.Errorf("request failed")).WithStatus(resp.StatusCode)
		var parsed chatErrorPayload
		if json.Unmarshal(payload, &parsed) == nil && parsed.Error.Message != "" {
			provErr = provErr.WithMessage(parsed.Error.Message).WithCode(parsed.Error.Type)
		} else if len(payload) > 0 {
			provErr = provErr.WithMessage(strings.TrimSpace(string(payload)))
		}
		if provErr.Reason.IsRetryable() && !p.deps.retry.ShouldRetryStatus(resp.StatusCode) {
			// the env-configured status list narrows what retries
			provErr.Reason = FailUnknown
		}
		return nil, provErr
	}
	return resp.Body, nil
}

// consumeStream reads SSE frames: "data:" lines separated by blank lines,
// terminated by the [DONE] sentinel.
func (p *openaiProvider) consumeStream(ctx context.Context, body io.Reader, frames chan<- *agent.ChatCompletionMessage, model models.ModelID) {
	send := func(msg *agent.ChatCompletionMessage) bool {
		select {
		case frames <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// tool-call stream indices are per response; remember the last one so
	// fragments without an index append to the open call
	lastToolIndex := 0

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			send(&agent.ChatCompletionMessage{Err: newError("openai", string(model), fmt.Errorf("malformed stream event: %w", err))})
			return
		}

		if chunk.Usage != nil {
			usage := &models.Usage{
				PromptTokens:     models.Actual(chunk.Usage.PromptTokens),
				CompletionTokens: models.Actual(chunk.Usage.CompletionTokens),
				TotalTokens:      models.Actual(chunk.Usage.TotalTokens),
				Cost:             chunk.Usage.Cost,
			}
			if details := chunk.Usage.PromptTokensDetails; details != nil {
				usage.CachedTokens = models.Actual(details.CachedTokens)
			}
			if !send(&agent.ChatCompletionMessage{Usage: usage}) {
				return
			}
		}

		for _, choice := range chunk.Choices {
			delta := choice.Delta

			if delta.Content != "" {
				if !send(&agent.ChatCompletionMessage{Content: delta.Content}) {
					return
				}
			}
			if reasoning := delta.Reasoning + delta.ReasoningContent; reasoning != "" {
				if !send(&agent.ChatCompletionMessage{Reasoning: reasoning}) {
					return
				}
			}
			for _, detail := range delta.ReasoningDetails {
				d := detail
				index := 0
				if d.Index != nil {
					index = *d.Index
				}
				if !send(&agent.ChatCompletionMessage{ReasoningDetail: &d, ReasoningIndex: index}) {
					return
				}
			}

			for i, tc := range delta.ToolCalls {
				index := lastToolIndex
				if tc.Index != nil {
					index = *tc.Index
				} else if tc.ID != "" {
					index = i
				}
				part := &agent.ToolCallPart{
					Index:         index,
					ArgumentsPart: tc.Function.Arguments,
				}
				if tc.ID != "" || tc.Function.Name != "" {
					id := tc.ID
					name := tc.Function.Name
					part.CallID = &id
					part.Name = &name
					lastToolIndex = index
				}
				if !send(&agent.ChatCompletionMessage{ToolCallPart: part}) {
					return
				}
			}

			if choice.FinishReason != nil && *choice.FinishReason != "" {
				if !send(&agent.ChatCompletionMessage{FinishReason: openaiFinishReason(*choice.FinishReason)}) {
					return
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(&agent.ChatCompletionMessage{Err: newError("openai", string(model), err)})
	}
}

func openaiFinishReason(reason string) agent.FinishReason {
	switch reason {
	case "stop":
		return agent.FinishStop
	case "length":
		return agent.FinishLength
	case "tool_calls", "function_call":
		return agent.FinishToolCalls
	case "content_filter":
		return agent.FinishContentFilter
	}
	return agent.FinishStop
}
