// Package agent holds the canonical conversation runtime: the streaming
// frame types shared by every provider adapter, the accumulator that folds a
// response stream into a complete message, and the turn orchestrator.
package agent

import (
	"context"

	"github.com/forgeworks/forge/pkg/models"
)

// FinishReason is the canonical stop condition of a response.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// ToolCallPart is a streamed fragment of a tool call. A fragment carrying a
// call id and name opens a new call; later fragments carry only argument
// bytes and are keyed to the open call by Index.
type ToolCallPart struct {
	CallID        *string
	Name          *string
	ArgumentsPart string
	Index         int
}

// ChatCompletionMessage is one canonical stream frame. Each frame carries at
// most one of content, reasoning, or a tool-call fragment, plus an optional
// usage delta and finish reason. Err terminates the stream.
type ChatCompletionMessage struct {
	Content         string
	Reasoning       string
	ReasoningDetail *models.ReasoningFull
	ReasoningIndex  int
	ToolCallPart    *ToolCallPart
	Usage           *models.Usage
	FinishReason    FinishReason
	Err             error
}

// ChatCompletionMessageFull is the accumulated result of a whole response
// stream.
type ChatCompletionMessageFull struct {
	Content          string
	ReasoningDetails []models.ReasoningFull
	ToolCalls        []models.ToolCallFull
	Usage            models.Usage
	FinishReason     FinishReason
}

// ChatProvider streams model responses for a context. Implementations close
// the channel when the stream ends; cancelling ctx cancels the underlying
// request.
type ChatProvider interface {
	Chat(ctx context.Context, model models.ModelID, chat *models.Context) (<-chan *ChatCompletionMessage, error)

	// Name identifies the provider for logging and routing.
	Name() string

	// ContextLength returns the model's context window in tokens, or 0 when
	// unknown.
	ContextLength(model models.ModelID) int
}
