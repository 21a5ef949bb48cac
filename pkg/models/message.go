package models

import "strings"

// Role identifies the author of a text message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ModelID names a provider model.
type ModelID string

// TextMessage is a plain conversation message. Assistant messages may carry
// tool calls and reasoning blocks.
type TextMessage struct {
	Role             Role
	Content          string
	ToolCalls        []ToolCallFull
	ReasoningDetails []ReasoningFull
	Model            ModelID
}

// HasReasoning reports whether the message carries at least one non-empty
// reasoning block.
func (m *TextMessage) HasReasoning() bool {
	for _, rd := range m.ReasoningDetails {
		if !rd.IsEmpty() {
			return true
		}
	}
	return false
}

// ContextMessage is one entry of a conversation context: a text message, a
// tool result, or a standalone image. Exactly one field is set.
type ContextMessage struct {
	Text  *TextMessage
	Tool  *ToolResult
	Image *Image
}

// SystemMessage builds a system text message.
func SystemMessage(content string) ContextMessage {
	return ContextMessage{Text: &TextMessage{Role: RoleSystem, Content: content}}
}

// UserMessage builds a user text message, optionally tagged with the model
// it was produced for.
func UserMessage(content string, model ModelID) ContextMessage {
	return ContextMessage{Text: &TextMessage{Role: RoleUser, Content: content, Model: model}}
}

// AssistantMessage builds an assistant message with optional reasoning and
// tool calls.
func AssistantMessage(content string, reasoning []ReasoningFull, toolCalls []ToolCallFull) ContextMessage {
	return ContextMessage{Text: &TextMessage{
		Role:             RoleAssistant,
		Content:          content,
		ToolCalls:        toolCalls,
		ReasoningDetails: reasoning,
	}}
}

// ToolResultMessage wraps a tool result as a context message.
func ToolResultMessage(result ToolResult) ContextMessage {
	return ContextMessage{Tool: &result}
}

// HasRole reports whether the message is a text message with the given role.
func (m ContextMessage) HasRole(role Role) bool {
	return m.Text != nil && m.Text.Role == role
}

// Content returns the text content when the message is a text message.
func (m ContextMessage) Content() (string, bool) {
	if m.Text == nil {
		return "", false
	}
	return m.Text.Content, true
}

// HasToolCall reports whether the message carries tool calls.
func (m ContextMessage) HasToolCall() bool {
	return m.Text != nil && len(m.Text.ToolCalls) > 0
}

// HasToolResult reports whether the message is a tool result.
func (m ContextMessage) HasToolResult() bool {
	return m.Tool != nil
}

// TokenCountApprox estimates the message's token weight by character count.
// Assistant messages also count serialized tool-call arguments, tool names,
// and reasoning text.
func (m ContextMessage) TokenCountApprox() int {
	chars := 0
	switch {
	case m.Text != nil:
		chars += len(m.Text.Content)
		for _, tc := range m.Text.ToolCalls {
			chars += len(tc.Name)
			chars += len(tc.Arguments)
		}
		for _, rd := range m.Text.ReasoningDetails {
			chars += len(rd.Text)
		}
	case m.Tool != nil:
		for _, v := range m.Tool.Output.Values {
			if v.Text != nil {
				chars += len(*v.Text)
			}
		}
	case m.Image != nil:
		chars += len(m.Image.URL)
	}
	return (chars + ApproxCharsPerToken - 1) / ApproxCharsPerToken
}

// ToText renders the message in the diagnostic dump format. Base64 image
// URLs are replaced with a placeholder to keep dumps readable.
func (m ContextMessage) ToText() string {
	var b strings.Builder
	switch {
	case m.Text != nil:
		b.WriteString("<message role=\"")
		b.WriteString(string(m.Text.Role))
		b.WriteString("\">")
		b.WriteString("<content>")
		b.WriteString(m.Text.Content)
		b.WriteString("</content>")
		for _, tc := range m.Text.ToolCalls {
			b.WriteString("<forge_tool_call name=\"")
			b.WriteString(tc.Name)
			b.WriteString("\">")
			b.Write(tc.Arguments)
			b.WriteString("</forge_tool_call>")
		}
		for _, rd := range m.Text.ReasoningDetails {
			b.WriteString("<reasoning_detail>")
			b.WriteString(rd.Text)
			b.WriteString("</reasoning_detail>")
		}
		b.WriteString("</message>")
	case m.Tool != nil:
		b.WriteString("<message role=\"tool\">")
		b.WriteString("<forge_tool_result name=\"")
		b.WriteString(m.Tool.Name)
		b.WriteString("\">")
		for _, v := range m.Tool.Output.Values {
			switch {
			case v.Text != nil:
				b.WriteString(*v.Text)
			case v.Image != nil:
				b.WriteString(displayImageURL(*v.Image))
			case v.AI != nil:
				b.Write(v.AI.Value)
			}
		}
		b.WriteString("</forge_tool_result>")
		b.WriteString("</message>")
	case m.Image != nil:
		b.WriteString("<message role=\"user\">")
		b.WriteString(displayImageURL(*m.Image))
		b.WriteString("</message>")
	}
	return b.String()
}

func displayImageURL(img Image) string {
	if strings.HasPrefix(img.URL, "data:") {
		mime := img.MimeType
		if mime == "" {
			meta, _, _ := strings.Cut(strings.TrimPrefix(img.URL, "data:"), ",")
			mime, _, _ = strings.Cut(meta, ";")
		}
		return "[base64 image: " + mime + "]"
	}
	return img.URL
}
