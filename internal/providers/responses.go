package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	rs "github.com/openai/openai-go/v2/responses"
	"github.com/openai/openai-go/v2/shared"

	"github.com/forgeworks/forge/internal/agent"
	"github.com/forgeworks/forge/internal/infra"
	"github.com/forgeworks/forge/internal/providers/toolconv"
	"github.com/forgeworks/forge/pkg/models"
)

// responsesProvider speaks the OpenAI Responses protocol used by Codex
// models. The endpoint is derived from the configured base URL by reducing
// its path to /v1 and appending /responses.
type responsesProvider struct {
	id       string
	client   sdk.Client
	endpoint string
	deps     deps
}

func newResponses(cfg Config, d deps) (agent.ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai_responses: API key is required")
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	endpoint := ""
	if strings.TrimSpace(cfg.BaseURL) != "" {
		derived, err := responsesURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		endpoint = derived
		options = append(options, option.WithBaseURL(strings.TrimSuffix(derived, "/responses")))
	}
	if d.httpClient != nil {
		options = append(options, option.WithHTTPClient(d.httpClient))
	}

	return &responsesProvider{
		id:       cfg.ID,
		client:   sdk.NewClient(options...),
		endpoint: endpoint,
		deps:     d,
	}, nil
}

func (p *responsesProvider) Name() string {
	return "openai_responses"
}

func (p *responsesProvider) ContextLength(model models.ModelID) int {
	id := string(model)
	switch {
	case strings.HasPrefix(id, "o3"), strings.HasPrefix(id, "o4"), strings.HasPrefix(id, "codex"),
		strings.HasPrefix(id, "gpt-5"):
		return 200000
	}
	return 0
}

func (p *responsesProvider) Chat(ctx context.Context, model models.ModelID, chat *models.Context) (<-chan *agent.ChatCompletionMessage, error) {
	params := p.buildParams(model, chat)

	messageCount := 1
	if len(params.Input.OfInputItemList) > 0 {
		messageCount = len(params.Input.OfInputItemList)
	}
	p.deps.logger.Debug("responses request",
		"model", model,
		"message_count", messageCount,
		"endpoint", p.endpoint,
	)

	frames := make(chan *agent.ChatCompletionMessage)
	go func() {
		defer close(frames)

		err := infra.Retry(ctx, p.deps.retry, IsRetryable, func() error {
			stream := p.client.Responses.NewStreaming(ctx, params)
			return p.consumeStream(ctx, stream, frames, model)
		})
		if err != nil && ctx.Err() == nil {
			frames <- &agent.ChatCompletionMessage{Err: newError("openai_responses", string(model), err)}
		}
	}()
	return frames, nil
}

func (p *responsesProvider) buildParams(model models.ModelID, chat *models.Context) rs.ResponseNewParams {
	params := rs.ResponseNewParams{
		Model: rs.ResponsesModel(model),
	}

	if chat.MaxTokens != nil {
		params.MaxOutputTokens = sdk.Int(int64(*chat.MaxTokens))
	}
	if chat.Temperature != nil {
		params.Temperature = sdk.Float(*chat.Temperature)
	}
	if chat.TopP != nil {
		params.TopP = sdk.Float(*chat.TopP)
	}

	var instructions []string
	var items rs.ResponseInputParam

	for _, msg := range chat.Messages {
		switch {
		case msg.Text != nil:
			switch msg.Text.Role {
			case models.RoleSystem:
				if strings.TrimSpace(msg.Text.Content) != "" {
					instructions = append(instructions, msg.Text.Content)
				}
			case models.RoleUser:
				content := msg.Text.Content
				if strings.TrimSpace(content) == "" {
					content = " "
				}
				part := rs.ResponseInputContentParamOfInputText(content)
				items = append(items, rs.ResponseInputItemUnionParam{OfInputMessage: &rs.ResponseInputItemMessageParam{
					Content: rs.ResponseInputMessageContentListParam{part},
					Role:    "user",
				}})
			case models.RoleAssistant:
				for _, tc := range msg.Text.ToolCalls {
					items = append(items, rs.ResponseInputItemParamOfFunctionCall(string(tc.Arguments), tc.CallID, tc.Name))
				}
				if msg.Text.Content != "" {
					part := rs.ResponseInputContentParamOfInputText(msg.Text.Content)
					items = append(items, rs.ResponseInputItemUnionParam{OfInputMessage: &rs.ResponseInputItemMessageParam{
						Content: rs.ResponseInputMessageContentListParam{part},
						Role:    "assistant",
					}})
				}
			}

		case msg.Tool != nil:
			output := strings.TrimSpace(msg.Tool.Output.Text())
			if output == "" {
				output = "{}"
			}
			items = append(items, rs.ResponseInputItemParamOfFunctionCallOutput(msg.Tool.CallID, output))
		}
	}

	if len(items) > 0 {
		params.Input.OfInputItemList = items
	}
	if len(instructions) > 0 {
		params.Instructions = sdk.String(strings.Join(instructions, "\n\n"))
	}

	for _, tool := range chat.Tools {
		var schemaMap map[string]any
		if err := jsonUnmarshalMap(toolconv.SanitizeForOpenAI(tool.InputSchema), &schemaMap); err != nil {
			continue
		}
		params.Tools = append(params.Tools, rs.ToolUnionParam{OfFunction: &rs.FunctionToolParam{
			Name:        tool.Name,
			Parameters:  schemaMap,
			Strict:      sdk.Bool(false),
			Description: sdk.String(tool.Description),
		}})
	}

	if chat.Reasoning.Active() && chat.Reasoning.Effort != "" {
		params.Reasoning = shared.ReasoningParam{
			Effort: shared.ReasoningEffort(chat.Reasoning.Effort),
		}
	}

	return params
}

func jsonUnmarshalMap(data []byte, target *map[string]any) error {
	return json.Unmarshal(data, target)
}

func (p *responsesProvider) consumeStream(ctx context.Context, stream interface {
	Next() bool
	Current() rs.ResponseStreamEventUnion
	Err() error
}, frames chan<- *agent.ChatCompletionMessage, model models.ModelID) error {
	send := func(msg *agent.ChatCompletionMessage) bool {
		select {
		case frames <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		switch event := stream.Current().AsAny().(type) {
		case rs.ResponseTextDeltaEvent:
			if event.Delta != "" {
				if !send(&agent.ChatCompletionMessage{Content: event.Delta}) {
					return nil
				}
			}

		case rs.ResponseReasoningSummaryTextDeltaEvent:
			if event.Delta != "" {
				if !send(&agent.ChatCompletionMessage{
					Reasoning:      event.Delta,
					ReasoningIndex: int(event.OutputIndex),
				}) {
					return nil
				}
			}

		case rs.ResponseOutputItemAddedEvent:
			if fn := event.Item.AsFunctionCall(); fn.Name != "" || fn.CallID != "" {
				id := fn.CallID
				if id == "" {
					id = fn.ID
				}
				name := fn.Name
				if !send(&agent.ChatCompletionMessage{ToolCallPart: &agent.ToolCallPart{
					CallID:        &id,
					Name:          &name,
					ArgumentsPart: fn.Arguments,
					Index:         int(event.OutputIndex),
				}}) {
					return nil
				}
			}

		case rs.ResponseFunctionCallArgumentsDeltaEvent:
			if event.Delta != "" {
				if !send(&agent.ChatCompletionMessage{ToolCallPart: &agent.ToolCallPart{
					ArgumentsPart: event.Delta,
					Index:         int(event.OutputIndex),
				}}) {
					return nil
				}
			}

		case rs.ResponseCompletedEvent:
			usage := event.Response.Usage
			prompt := models.Actual(int(usage.InputTokens))
			completion := models.Actual(int(usage.OutputTokens))
			finish := agent.FinishStop
			for _, item := range event.Response.Output {
				if item.Type == "function_call" {
					finish = agent.FinishToolCalls
					break
				}
			}
			if !send(&agent.ChatCompletionMessage{
				Usage: &models.Usage{
					PromptTokens:     prompt,
					CompletionTokens: completion,
					TotalTokens:      models.Actual(int(usage.TotalTokens)),
					CachedTokens:     models.Actual(int(usage.InputTokensDetails.CachedTokens)),
				},
				FinishReason: finish,
			}) {
				return nil
			}

		case rs.ResponseIncompleteEvent:
			if !send(&agent.ChatCompletionMessage{FinishReason: agent.FinishLength}) {
				return nil
			}

		case rs.ResponseErrorEvent:
			return newError("openai_responses", string(model), errors.New(event.Message))
		}
	}
	return stream.Err()
}
