package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/forgeworks/forge/internal/agent"
	"github.com/forgeworks/forge/internal/infra"
	"github.com/forgeworks/forge/internal/providers/toolconv"
	"github.com/forgeworks/forge/pkg/models"
)

// anthropicProvider speaks the Anthropic messages protocol.
//
// The adapter hoists system messages into the request's top-level system
// field, folds tool results into user content blocks, requests extended
// thinking when the context enables reasoning, and converts the typed SSE
// events back into canonical frames. Unknown event types are swallowed as
// empty frames so new server events never break an in-flight stream.
type anthropicProvider struct {
	id     string
	client anthropic.Client
	deps   deps
}

// defaultAnthropicMaxTokens caps generation when the context doesn't set a
// limit; the messages API requires an explicit value.
const defaultAnthropicMaxTokens = 4096

// minThinkingBudget is the smallest budget the API accepts for extended
// thinking.
const minThinkingBudget = 1024

func newAnthropic(cfg Config, d deps) (agent.ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if d.httpClient != nil {
		options = append(options, option.WithHTTPClient(d.httpClient))
	}
	return &anthropicProvider{
		id:     cfg.ID,
		client: anthropic.NewClient(options...),
		deps:   d,
	}, nil
}

func (p *anthropicProvider) Name() string {
	return "anthropic"
}

// ContextLength is hard-coded by model family: 200K for current
// generations, 100K for legacy models.
func (p *anthropicProvider) ContextLength(model models.ModelID) int {
	id := string(model)
	switch {
	case strings.HasPrefix(id, "claude-3"),
		strings.HasPrefix(id, "claude-sonnet"),
		strings.HasPrefix(id, "claude-opus"),
		strings.HasPrefix(id, "claude-haiku"):
		return 200000
	case strings.HasPrefix(id, "claude-2"),
		strings.HasPrefix(id, "claude-instant"):
		return 100000
	}
	return 0
}

func (p *anthropicProvider) Chat(ctx context.Context, model models.ModelID, chat *models.Context) (<-chan *agent.ChatCompletionMessage, error) {
	params, err := p.buildParams(model, chat)
	if err != nil {
		return nil, err
	}

	frames := make(chan *agent.ChatCompletionMessage)
	go func() {
		defer close(frames)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := infra.Retry(ctx, p.deps.retry, IsRetryable, func() error {
			stream = p.client.Messages.NewStreaming(ctx, params)
			if streamErr := stream.Err(); streamErr != nil {
				return p.wrapError(streamErr, model)
			}
			return nil
		})
		if err != nil {
			frames <- &agent.ChatCompletionMessage{Err: err}
			return
		}

		p.consumeStream(ctx, stream, frames, model)
	}()
	return frames, nil
}

func (p *anthropicProvider) buildParams(model models.ModelID, chat *models.Context) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(defaultAnthropicMaxTokens),
	}
	if chat.MaxTokens != nil {
		params.MaxTokens = int64(*chat.MaxTokens)
	}
	if chat.Temperature != nil {
		params.Temperature = anthropic.Float(*chat.Temperature)
	}
	if chat.TopP != nil {
		params.TopP = anthropic.Float(*chat.TopP)
	}
	if chat.TopK != nil {
		params.TopK = anthropic.Int(int64(*chat.TopK))
	}

	// System messages are hoisted out of the message list. The last block
	// carries an ephemeral cache marker so the static prefix is cached.
	var system []anthropic.TextBlockParam
	for _, msg := range chat.Messages {
		if msg.HasRole(models.RoleSystem) {
			system = append(system, anthropic.TextBlockParam{Text: msg.Text.Content})
		}
	}
	if len(system) > 0 {
		system[len(system)-1].CacheControl = anthropic.NewCacheControlEphemeralParam()
		params.System = system
	}

	messages, err := p.convertMessages(chat.Messages)
	if err != nil {
		return params, err
	}
	params.Messages = messages

	if len(chat.Tools) > 0 {
		tools, err := p.convertTools(chat.Tools)
		if err != nil {
			return params, err
		}
		params.Tools = tools
	}

	if choice := chat.ToolChoice; choice != nil {
		switch choice.Mode {
		case models.ToolChoiceAuto:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		case models.ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		case models.ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case models.ToolChoiceCall:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: choice.Name}}
		}
	}

	if chat.Reasoning.Active() {
		budget := int64(chat.Reasoning.MaxTokens)
		if budget < minThinkingBudget {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return params, nil
}

func (p *anthropicProvider) convertMessages(messages []models.ContextMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		switch {
		case msg.Text != nil:
			if msg.Text.Role == models.RoleSystem {
				continue
			}

			var content []anthropic.ContentBlockParamUnion

			for _, rd := range msg.Text.ReasoningDetails {
				switch {
				case rd.Data != "":
					content = append(content, anthropic.ContentBlockParamUnion{
						OfRedactedThinking: &anthropic.RedactedThinkingBlockParam{Data: rd.Data},
					})
				case rd.Text != "" || rd.Signature != "":
					content = append(content, anthropic.ContentBlockParamUnion{
						OfThinking: &anthropic.ThinkingBlockParam{
							Thinking:  rd.Text,
							Signature: rd.Signature,
						},
					})
				}
			}

			if msg.Text.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Text.Content))
			}

			for _, tc := range msg.Text.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.CallID, input, tc.Name))
			}

			if len(content) == 0 {
				continue
			}
			if msg.Text.Role == models.RoleAssistant {
				result = append(result, anthropic.NewAssistantMessage(content...))
			} else {
				result = append(result, anthropic.NewUserMessage(content...))
			}

		case msg.Tool != nil:
			block := anthropic.ToolResultBlockParam{ToolUseID: msg.Tool.CallID}
			if msg.Tool.Output.IsError {
				block.IsError = anthropic.Bool(true)
			}
			for _, v := range msg.Tool.Output.Values {
				switch {
				case v.Text != nil:
					block.Content = append(block.Content, anthropic.ToolResultBlockParamContentUnion{
						OfText: &anthropic.TextBlockParam{Text: *v.Text},
					})
				case v.Image != nil:
					if img := imageBlockParam(*v.Image); img != nil {
						block.Content = append(block.Content, anthropic.ToolResultBlockParamContentUnion{
							OfImage: img,
						})
					}
				case v.AI != nil:
					block.Content = append(block.Content, anthropic.ToolResultBlockParamContentUnion{
						OfText: &anthropic.TextBlockParam{Text: string(v.AI.Value)},
					})
				}
			}
			result = append(result, anthropic.NewUserMessage(anthropic.ContentBlockParamUnion{
				OfToolResult: &block,
			}))

		case msg.Image != nil:
			if img := imageBlockParam(*msg.Image); img != nil {
				result = append(result, anthropic.NewUserMessage(anthropic.ContentBlockParamUnion{
					OfImage: img,
				}))
			}
		}
	}

	return result, nil
}

func imageBlockParam(img models.Image) *anthropic.ImageBlockParam {
	if mediaType, data, ok := parseDataURL(img.URL); ok {
		return &anthropic.ImageBlockParam{
			Source: anthropic.ImageBlockParamSourceUnion{
				OfBase64: &anthropic.Base64ImageSourceParam{
					Data:      data,
					MediaType: anthropic.Base64ImageSourceMediaType(mediaType),
				},
			},
		}
	}
	if img.URL != "" {
		return &anthropic.ImageBlockParam{
			Source: anthropic.ImageBlockParamSourceUnion{
				OfURL: &anthropic.URLImageSourceParam{URL: img.URL},
			},
		}
	}
	return nil
}

func parseDataURL(raw string) (string, string, bool) {
	if !strings.HasPrefix(raw, "data:") {
		return "", "", false
	}
	meta, data, ok := strings.Cut(raw, ",")
	if !ok {
		return "", "", false
	}
	meta = strings.TrimPrefix(meta, "data:")
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType == "" {
		return "", "", false
	}
	return mediaType, data, true
}

func (p *anthropicProvider) convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(toolconv.StripSchemaField(tool.InputSchema), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

// consumeStream converts typed SSE events into canonical frames.
func (p *anthropicProvider) consumeStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], frames chan<- *agent.ChatCompletionMessage, model models.ModelID) {
	send := func(msg *agent.ChatCompletionMessage) bool {
		select {
		case frames <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		var out *agent.ChatCompletionMessage

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			out = &agent.ChatCompletionMessage{Usage: anthropicUsage(
				start.Message.Usage.InputTokens,
				start.Message.Usage.CacheCreationInputTokens,
				start.Message.Usage.CacheReadInputTokens,
				start.Message.Usage.OutputTokens,
			)}

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			index := int(blockStart.Index)
			block := blockStart.ContentBlock
			switch block.Type {
			case "tool_use":
				toolUse := block.AsToolUse()
				id := toolUse.ID
				name := toolUse.Name
				out = &agent.ChatCompletionMessage{ToolCallPart: &agent.ToolCallPart{
					CallID:        &id,
					Name:          &name,
					ArgumentsPart: initialToolArguments(toolUse.Input),
					Index:         index,
				}}
			case "thinking":
				thinking := block.AsThinking()
				out = &agent.ChatCompletionMessage{
					Reasoning:      thinking.Thinking,
					ReasoningIndex: index,
				}
				if thinking.Signature != "" {
					out.ReasoningDetail = &models.ReasoningFull{Signature: thinking.Signature}
				}
			case "redacted_thinking":
				redacted := block.AsRedactedThinking()
				out = &agent.ChatCompletionMessage{
					ReasoningDetail: &models.ReasoningFull{Data: redacted.Data},
					ReasoningIndex:  index,
				}
			case "text":
				text := block.AsText()
				if text.Text != "" {
					out = &agent.ChatCompletionMessage{Content: text.Text}
				}
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			index := int(blockDelta.Index)
			delta := blockDelta.Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out = &agent.ChatCompletionMessage{Content: delta.Text}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					out = &agent.ChatCompletionMessage{ToolCallPart: &agent.ToolCallPart{
						ArgumentsPart: delta.PartialJSON,
						Index:         index,
					}}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out = &agent.ChatCompletionMessage{
						Reasoning:      delta.Thinking,
						ReasoningIndex: index,
					}
				}
			case "signature_delta":
				if delta.Signature != "" {
					out = &agent.ChatCompletionMessage{
						ReasoningDetail: &models.ReasoningFull{Signature: delta.Signature},
						ReasoningIndex:  index,
					}
				}
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			out = &agent.ChatCompletionMessage{
				FinishReason: anthropicStopReason(string(messageDelta.Delta.StopReason)),
			}
			if messageDelta.Usage.OutputTokens > 0 {
				out.Usage = &models.Usage{
					CompletionTokens: models.Actual(int(messageDelta.Usage.OutputTokens)),
				}
			}

		case "message_stop":
			return

		case "content_block_stop", "ping":
			// carry no payload

		case "error":
			send(&agent.ChatCompletionMessage{Err: p.wrapError(errors.New("anthropic stream error"), model)})
			return

		default:
			// unknown event types are swallowed as an empty frame
			out = &agent.ChatCompletionMessage{}
		}

		if out != nil && !send(out) {
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(&agent.ChatCompletionMessage{Err: p.wrapError(err, model)})
	}
}

// anthropicUsage converts the provider's split token accounting into the
// canonical shape: prompt tokens include cache creation and cache reads.
func anthropicUsage(input, cacheCreation, cacheRead, output int64) *models.Usage {
	prompt := models.Actual(int(input + cacheCreation + cacheRead))
	completion := models.Actual(int(output))
	return &models.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt.Add(completion),
		CachedTokens:     models.Actual(int(cacheRead)),
	}
}

func anthropicStopReason(reason string) agent.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return agent.FinishStop
	case "max_tokens":
		return agent.FinishLength
	case "tool_use":
		return agent.FinishToolCalls
	}
	return ""
}

// initialToolArguments returns the first argument fragment for a tool_use
// block: empty when the input is absent or an empty object, otherwise the
// serialized input.
func initialToolArguments(input json.RawMessage) string {
	trimmed := strings.TrimSpace(string(input))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return ""
	}
	return trimmed
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *anthropicProvider) wrapError(err error, model models.ModelID) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		provErr := newError("anthropic", string(model), err).WithStatus(apiErr.StatusCode)

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					provErr = provErr.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					provErr = provErr.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					provErr = provErr.WithRequestID(payload.RequestID)
				}
			}
		}
		return provErr
	}

	return newError("anthropic", string(model), err)
}
