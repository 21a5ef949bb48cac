package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/forgeworks/forge/internal/agent"
	"github.com/forgeworks/forge/internal/infra"
	"github.com/forgeworks/forge/internal/providers/toolconv"
	"github.com/forgeworks/forge/pkg/models"
)

// googleProvider speaks the Gemini generateContent protocol through the
// Google Gen AI SDK.
//
// Two dialect rules matter here: system messages are concatenated into a
// single top-level system instruction, and every run of consecutive tool
// results must be flattened into one user Content whose parts are the
// function responses, because the API rejects adjacent function-response
// contents.
type googleProvider struct {
	id     string
	client *genai.Client
	deps   deps
}

func newGoogle(cfg Config, d deps) (agent.ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if d.httpClient != nil {
		clientCfg.HTTPClient = d.httpClient
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &googleProvider{id: cfg.ID, client: client, deps: d}, nil
}

func (p *googleProvider) Name() string {
	return "google"
}

func (p *googleProvider) ContextLength(model models.ModelID) int {
	id := string(model)
	switch {
	case strings.HasPrefix(id, "gemini-1.5-pro"):
		return 2000000
	case strings.HasPrefix(id, "gemini-"):
		return 1000000
	}
	return 0
}

func (p *googleProvider) Chat(ctx context.Context, model models.ModelID, chat *models.Context) (<-chan *agent.ChatCompletionMessage, error) {
	contents, err := GroupContents(chat.Messages)
	if err != nil {
		return nil, err
	}
	config := p.buildConfig(chat)

	frames := make(chan *agent.ChatCompletionMessage)
	go func() {
		defer close(frames)

		err := infra.Retry(ctx, p.deps.retry, IsRetryable, func() error {
			stream := p.client.Models.GenerateContentStream(ctx, string(model), contents, config)
			return p.consumeStream(ctx, stream, frames, model)
		})
		if err != nil && ctx.Err() == nil {
			frames <- &agent.ChatCompletionMessage{Err: p.wrapError(err, model)}
		}
	}()
	return frames, nil
}

func (p *googleProvider) buildConfig(chat *models.Context) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	// All system messages fold into one instruction with the role omitted.
	var system []string
	for _, msg := range chat.Messages {
		if msg.HasRole(models.RoleSystem) {
			system = append(system, msg.Text.Content)
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
		}
	}

	if chat.MaxTokens != nil {
		config.MaxOutputTokens = int32(*chat.MaxTokens)
	}
	if chat.Temperature != nil {
		v := float32(*chat.Temperature)
		config.Temperature = &v
	}
	if chat.TopP != nil {
		v := float32(*chat.TopP)
		config.TopP = &v
	}
	if chat.TopK != nil {
		v := float32(*chat.TopK)
		config.TopK = &v
	}

	if len(chat.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(chat.Tools)
	}

	if choice := chat.ToolChoice; choice != nil {
		fc := &genai.FunctionCallingConfig{}
		switch choice.Mode {
		case models.ToolChoiceAuto:
			fc.Mode = genai.FunctionCallingConfigModeAuto
		case models.ToolChoiceNone:
			fc.Mode = genai.FunctionCallingConfigModeNone
		case models.ToolChoiceRequired:
			fc.Mode = genai.FunctionCallingConfigModeAny
		case models.ToolChoiceCall:
			fc.Mode = genai.FunctionCallingConfigModeAny
			fc.AllowedFunctionNames = []string{choice.Name}
		}
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: fc}
	}

	if len(chat.ResponseSchema) > 0 {
		var schemaMap map[string]any
		if err := json.Unmarshal(toolconv.StripSchemaField(chat.ResponseSchema), &schemaMap); err == nil {
			config.ResponseMIMEType = "application/json"
			config.ResponseSchema = toolconv.ToGeminiSchema(schemaMap)
		}
	}

	if chat.Reasoning.Active() {
		thinking := &genai.ThinkingConfig{IncludeThoughts: true}
		if chat.Reasoning.MaxTokens > 0 {
			budget := int32(chat.Reasoning.MaxTokens)
			thinking.ThinkingBudget = &budget
		}
		config.ThinkingConfig = thinking
	}

	return config
}

// GroupContents converts context messages into Gemini contents, flattening
// every run of consecutive tool results into a single user Content of
// function-response parts. Exported for the dialect tests.
func GroupContents(messages []models.ContextMessage) ([]*genai.Content, error) {
	var result []*genai.Content
	var pendingResponses []*genai.Part

	flush := func() {
		if len(pendingResponses) > 0 {
			result = append(result, &genai.Content{
				Role:  genai.RoleUser,
				Parts: pendingResponses,
			})
			pendingResponses = nil
		}
	}

	for _, msg := range messages {
		switch {
		case msg.Tool != nil:
			response := map[string]any{}
			text := msg.Tool.Output.Text()
			var parsed map[string]any
			if err := json.Unmarshal([]byte(text), &parsed); err == nil {
				response = parsed
			} else {
				response["result"] = text
				if msg.Tool.Output.IsError {
					response["error"] = true
				}
			}
			pendingResponses = append(pendingResponses, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.Tool.CallID,
					Name:     msg.Tool.Name,
					Response: response,
				},
			})

		case msg.Text != nil:
			if msg.Text.Role == models.RoleSystem {
				continue
			}
			flush()

			content := &genai.Content{}
			if msg.Text.Role == models.RoleAssistant {
				content.Role = genai.RoleModel
			} else {
				content.Role = genai.RoleUser
			}

			if msg.Text.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Text.Content})
			}
			for _, tc := range msg.Text.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.CallID,
						Name: tc.Name,
						Args: args,
					},
				})
			}

			if len(content.Parts) > 0 {
				result = append(result, content)
			}

		case msg.Image != nil:
			flush()
			part, err := imagePart(*msg.Image)
			if err != nil {
				return nil, err
			}
			result = append(result, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{part},
			})
		}
	}
	flush()

	return result, nil
}

func imagePart(img models.Image) (*genai.Part, error) {
	if mediaType, encoded, ok := parseDataURL(img.URL); ok {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 image: %w", err)
		}
		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mediaType}}, nil
	}
	return &genai.Part{FileData: &genai.FileData{FileURI: img.URL, MIMEType: img.MimeType}}, nil
}

func (p *googleProvider) consumeStream(ctx context.Context, stream iter.Seq2[*genai.GenerateContentResponse, error], frames chan<- *agent.ChatCompletionMessage, model models.ModelID) error {
	send := func(msg *agent.ChatCompletionMessage) bool {
		select {
		case frames <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	toolIndex := 0
	sawToolCall := false

	for resp, err := range stream {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}

		if usage := resp.UsageMetadata; usage != nil {
			prompt := models.Actual(int(usage.PromptTokenCount))
			completion := models.Actual(int(usage.CandidatesTokenCount))
			if !send(&agent.ChatCompletionMessage{Usage: &models.Usage{
				PromptTokens:     prompt,
				CompletionTokens: completion,
				TotalTokens:      models.Actual(int(usage.TotalTokenCount)),
				CachedTokens:     models.Actual(int(usage.CachedContentTokenCount)),
			}}) {
				return nil
			}
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					out := &agent.ChatCompletionMessage{}
					if part.Thought {
						out.Reasoning = part.Text
					} else {
						out.Content = part.Text
					}
					if !send(out) {
						return nil
					}
				}
				if fc := part.FunctionCall; fc != nil {
					// arguments arrive already structured; serialize whole
					args, err := json.Marshal(fc.Args)
					if err != nil {
						args = []byte("{}")
					}
					id := fc.ID
					if id == "" {
						id = fmt.Sprintf("call_%s_%d", fc.Name, toolIndex)
					}
					name := fc.Name
					if !send(&agent.ChatCompletionMessage{ToolCallPart: &agent.ToolCallPart{
						CallID:        &id,
						Name:          &name,
						ArgumentsPart: string(args),
						Index:         toolIndex,
					}}) {
						return nil
					}
					toolIndex++
					sawToolCall = true
				}
			}

			if candidate.FinishReason != "" {
				reason := googleFinishReason(string(candidate.FinishReason), sawToolCall)
				if !send(&agent.ChatCompletionMessage{FinishReason: reason}) {
					return nil
				}
			}
		}
	}
	return nil
}

func googleFinishReason(reason string, sawToolCall bool) agent.FinishReason {
	switch reason {
	case "STOP":
		if sawToolCall {
			return agent.FinishToolCalls
		}
		return agent.FinishStop
	case "MAX_TOKENS":
		return agent.FinishLength
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return agent.FinishContentFilter
	}
	return agent.FinishStop
}

func (p *googleProvider) wrapError(err error, model models.ModelID) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return newError("google", string(model), err).
			WithStatus(apiErr.Code).
			WithMessage(apiErr.Message)
	}
	return newError("google", string(model), err)
}
