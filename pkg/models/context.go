package models

import "strings"

// Context is the ordered conversation state sent to a model: messages, tool
// definitions, the tool-use policy, sampling parameters, reasoning
// configuration, and accumulated usage.
//
// Invariants: at most one consecutive run of system messages at the head,
// and tool results immediately follow the assistant message carrying the
// matching call id.
type Context struct {
	ConversationID string
	Messages       []ContextMessage
	Tools          []ToolDefinition
	ToolChoice     *ToolChoice

	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	TopK        *int

	Reasoning *ReasoningConfig
	Usage     *Usage

	// ResponseSchema, when set, constrains the response to JSON matching
	// this schema on providers that support structured output.
	ResponseSchema []byte
}

// AddMessage appends a message.
func (c *Context) AddMessage(msg ContextMessage) *Context {
	c.Messages = append(c.Messages, msg)
	return c
}

// AddToolResults appends a batch of tool results in order.
func (c *Context) AddToolResults(results []ToolResult) *Context {
	for _, r := range results {
		c.Messages = append(c.Messages, ToolResultMessage(r))
	}
	return c
}

// AddTool registers a tool definition. Duplicates are allowed; callers
// deduplicate when needed.
func (c *Context) AddTool(def ToolDefinition) *Context {
	c.Tools = append(c.Tools, def)
	return c
}

// SetSystemMessages replaces any existing run of system messages at the
// head of the context with the given contents.
func (c *Context) SetSystemMessages(contents ...string) *Context {
	rest := c.Messages
	for len(rest) > 0 && rest[0].HasRole(RoleSystem) {
		rest = rest[1:]
	}
	head := make([]ContextMessage, 0, len(contents)+len(rest))
	for _, content := range contents {
		head = append(head, SystemMessage(content))
	}
	c.Messages = append(head, rest...)
	return c
}

// AppendMessage atomically appends an assistant message carrying the given
// tool calls followed by all matching tool results.
func (c *Context) AppendMessage(content string, reasoning []ReasoningFull, records []ToolCallRecord) *Context {
	calls := make([]ToolCallFull, 0, len(records))
	results := make([]ToolResult, 0, len(records))
	for _, rec := range records {
		calls = append(calls, rec.Call)
		results = append(results, rec.Result)
	}
	c.AddMessage(AssistantMessage(content, reasoning, calls))
	return c.AddToolResults(results)
}

// ToolCallRecord pairs a tool call with its result for atomic appends.
type ToolCallRecord struct {
	Call   ToolCallFull
	Result ToolResult
}

// SystemPrompt returns the first system message content, if any.
func (c *Context) SystemPrompt() (string, bool) {
	for _, m := range c.Messages {
		if m.HasRole(RoleSystem) {
			return m.Text.Content, true
		}
	}
	return "", false
}

// TokenCount returns the context's token weight: the accumulated actual
// total when the provider reported one, otherwise a per-message
// approximation.
func (c *Context) TokenCount() TokenCount {
	if c.Usage != nil && !c.Usage.TotalTokens.IsApprox() && c.Usage.TotalTokens.Value() > 0 {
		return c.Usage.TotalTokens
	}
	return Approx(c.TokenCountApprox())
}

// TokenCountApprox sums the per-message approximations.
func (c *Context) TokenCountApprox() int {
	total := 0
	for _, m := range c.Messages {
		total += m.TokenCountApprox()
	}
	return total
}

// IsReasoningSupported reports whether reasoning is requested for this
// context.
func (c *Context) IsReasoningSupported() bool {
	return c.Reasoning.Active()
}

// ToText renders the whole context in the diagnostic dump format.
func (c *Context) ToText() string {
	var b strings.Builder
	b.WriteString("<chat_history>")
	for _, m := range c.Messages {
		b.WriteString(m.ToText())
	}
	b.WriteString("</chat_history>")
	return b.String()
}
