package providers

import (
	"encoding/json"
	"fmt"

	"github.com/forgeworks/forge/pkg/models"
)

// The chat-completions dialect is shared by OpenAI and the compatible
// routers (OpenRouter and friends). The wire shapes below are owned by this
// adapter; domain types never serialize themselves for the wire.

type cacheControl struct {
	Type string `json:"type"`
}

// ContentPart is one element of a multi-part message content array.
type ContentPart struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	ImageURL     *imageURLPart `json:"image_url,omitempty"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

// MessageContent is either a plain string or a parts array on the wire.
type MessageContent struct {
	Text  *string
	Parts []ContentPart
}

// TextContent wraps a plain string content.
func TextContent(s string) MessageContent {
	return MessageContent{Text: &s}
}

// PartsContent wraps a parts array content.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// IsEmpty reports whether there is no content at all.
func (c MessageContent) IsEmpty() bool {
	return c.Text == nil && len(c.Parts) == 0
}

// Cached moves the ephemeral cache marker to the last part, clearing any
// marker on other parts; at most one marker survives per message. Cached on
// a plain string converts it to a single-part array first. Cached(false)
// clears every marker.
func (c MessageContent) Cached(enabled bool) MessageContent {
	if c.Text != nil {
		if !enabled {
			return c
		}
		c.Parts = []ContentPart{{Type: "text", Text: *c.Text}}
		c.Text = nil
	}
	parts := make([]ContentPart, len(c.Parts))
	copy(parts, c.Parts)
	for i := range parts {
		parts[i].CacheControl = nil
	}
	if enabled && len(parts) > 0 {
		parts[len(parts)-1].CacheControl = &cacheControl{Type: "ephemeral"}
	}
	return MessageContent{Parts: parts}
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return []byte("null"), nil
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = &text
		c.Parts = nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		c.Text = nil
		c.Parts = parts
		return nil
	}
	return fmt.Errorf("message content is neither string nor parts array")
}

type chatFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatToolDef struct {
	Type     string          `json:"type"`
	Function chatFunctionDef `json:"function"`
}

type chatToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type chatToolCall struct {
	Index    *int                 `json:"index,omitempty"`
	ID       string               `json:"id,omitempty"`
	Type     string               `json:"type,omitempty"`
	Function chatToolCallFunction `json:"function"`
}

type chatMessage struct {
	Role             string                 `json:"role"`
	Content          MessageContent         `json:"content"`
	Name             string                 `json:"name,omitempty"`
	ToolCallID       string                 `json:"tool_call_id,omitempty"`
	ToolCalls        []chatToolCall         `json:"tool_calls,omitempty"`
	ReasoningDetails []models.ReasoningFull `json:"reasoning_details,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model             string         `json:"model"`
	Messages          []chatMessage  `json:"messages"`
	Tools             []chatToolDef  `json:"tools,omitempty"`
	ToolChoice        any            `json:"tool_choice,omitempty"`
	MaxTokens         *int           `json:"max_tokens,omitempty"`
	Temperature       *float64       `json:"temperature,omitempty"`
	TopP              *float64       `json:"top_p,omitempty"`
	Stream            bool           `json:"stream"`
	StreamOptions     *streamOptions `json:"stream_options,omitempty"`
	ParallelToolCalls bool           `json:"parallel_tool_calls"`
	ReasoningEffort   string         `json:"reasoning_effort,omitempty"`
}

type chatStreamDelta struct {
	Content          string                 `json:"content,omitempty"`
	Reasoning        string                 `json:"reasoning,omitempty"`
	ReasoningContent string                 `json:"reasoning_content,omitempty"`
	ToolCalls        []chatToolCall         `json:"tool_calls,omitempty"`
	ReasoningDetails []models.ReasoningFull `json:"reasoning_details,omitempty"`
}

type chatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        chatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type promptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

type chatUsage struct {
	PromptTokens        int                  `json:"prompt_tokens"`
	CompletionTokens    int                  `json:"completion_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	PromptTokensDetails *promptTokensDetails `json:"prompt_tokens_details,omitempty"`
	Cost                *float64             `json:"cost,omitempty"`
}

type chatStreamChunk struct {
	Choices []chatStreamChoice `json:"choices"`
	Usage   *chatUsage         `json:"usage"`
}

type chatErrorPayload struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}
