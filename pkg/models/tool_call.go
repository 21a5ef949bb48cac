package models

import "encoding/json"

// ToolCallFull is a complete model-issued request to execute a named tool.
// Arguments hold the parsed JSON value; streaming fragments are accumulated
// and repaired before a ToolCallFull is constructed.
type ToolCallFull struct {
	Name             string          `json:"name"`
	CallID           string          `json:"call_id,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	ThoughtSignature string          `json:"thought_signature,omitempty"`
}

// Image is an image payload, either a data: URL or a remote URL.
type Image struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

// AIValue is a nested agent response carried inside a tool output.
type AIValue struct {
	Value          json.RawMessage `json:"value"`
	ConversationID string          `json:"conversation_id,omitempty"`
}

// ToolValue is one element of a tool's output. Exactly one of the fields is
// set; an all-nil value is the explicit empty output.
type ToolValue struct {
	Text  *string
	Image *Image
	AI    *AIValue
}

// TextValue wraps a string as a tool output element.
func TextValue(s string) ToolValue {
	return ToolValue{Text: &s}
}

// ImageValue wraps an image as a tool output element.
func ImageValue(img Image) ToolValue {
	return ToolValue{Image: &img}
}

// ToolOutput is the result payload of a tool execution.
type ToolOutput struct {
	IsError bool
	Values  []ToolValue
}

// TextOutput builds a plain-text tool output.
func TextOutput(text string, isError bool) ToolOutput {
	return ToolOutput{IsError: isError, Values: []ToolValue{TextValue(text)}}
}

// Text concatenates the textual elements of the output.
func (o ToolOutput) Text() string {
	var out string
	for _, v := range o.Values {
		if v.Text != nil {
			out += *v.Text
		}
	}
	return out
}

// ToolResult is the outcome of executing a tool call, tagged with the
// call id from the request so providers can link request and response.
type ToolResult struct {
	Name   string
	CallID string
	Output ToolOutput
}
