package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/forgeworks/forge/internal/jsonrepair"
	"github.com/forgeworks/forge/pkg/models"
)

// partialToolCall accumulates one tool call across stream frames.
type partialToolCall struct {
	callID    string
	name      string
	arguments strings.Builder
	order     int
}

// partialReasoning accumulates one reasoning block across stream frames.
type partialReasoning struct {
	block models.ReasoningFull
	text  strings.Builder
	order int
}

// Accumulator folds a stream of frames into a ChatCompletionMessageFull. It
// is a plain state machine: feed every frame to Apply, then call Finalize.
type Accumulator struct {
	content      strings.Builder
	toolCalls    map[int]*partialToolCall
	reasoning    map[int]*partialReasoning
	usage        models.Usage
	finishReason FinishReason
	lastToolIdx  int
	nextOrder    int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		toolCalls: make(map[int]*partialToolCall),
		reasoning: make(map[int]*partialReasoning),
	}
}

// Apply folds one frame into the state.
func (a *Accumulator) Apply(msg *ChatCompletionMessage) {
	if msg == nil {
		return
	}

	if msg.Content != "" {
		a.content.WriteString(msg.Content)
	}

	if msg.Reasoning != "" || msg.ReasoningDetail != nil {
		r := a.reasoning[msg.ReasoningIndex]
		if r == nil {
			r = &partialReasoning{order: a.nextOrder}
			a.nextOrder++
			a.reasoning[msg.ReasoningIndex] = r
		}
		if msg.Reasoning != "" {
			r.text.WriteString(msg.Reasoning)
		}
		if detail := msg.ReasoningDetail; detail != nil {
			if detail.Text != "" {
				r.text.WriteString(detail.Text)
			}
			if detail.Signature != "" {
				r.block.Signature = detail.Signature
			}
			if detail.Data != "" {
				r.block.Data = detail.Data
			}
			if detail.ID != "" {
				r.block.ID = detail.ID
			}
			if detail.Format != "" {
				r.block.Format = detail.Format
			}
			if detail.Type != "" {
				r.block.Type = detail.Type
			}
		}
	}

	if part := msg.ToolCallPart; part != nil {
		if part.CallID != nil || part.Name != nil {
			call := &partialToolCall{order: a.nextOrder}
			a.nextOrder++
			if part.CallID != nil {
				call.callID = *part.CallID
			}
			if part.Name != nil {
				call.name = *part.Name
			}
			call.arguments.WriteString(part.ArgumentsPart)
			a.toolCalls[part.Index] = call
			a.lastToolIdx = part.Index
		} else if call := a.toolCalls[part.Index]; call != nil {
			call.arguments.WriteString(part.ArgumentsPart)
		} else if call := a.toolCalls[a.lastToolIdx]; call != nil {
			// providers that omit the index on append frames key to the
			// most recently opened call
			call.arguments.WriteString(part.ArgumentsPart)
		}
	}

	if msg.Usage != nil {
		a.usage.AccumulateDelta(*msg.Usage)
	}

	if msg.FinishReason != "" {
		a.finishReason = msg.FinishReason
	}
}

// Finalize produces the complete message. Accumulated tool-call argument
// text is repaired into parsed JSON; a call whose arguments cannot be
// repaired fails the whole response.
func (a *Accumulator) Finalize() (*ChatCompletionMessageFull, error) {
	full := &ChatCompletionMessageFull{
		Content:      a.content.String(),
		Usage:        a.usage,
		FinishReason: a.finishReason,
	}

	type indexed struct {
		order int
		idx   int
	}

	callKeys := make([]indexed, 0, len(a.toolCalls))
	for idx, call := range a.toolCalls {
		callKeys = append(callKeys, indexed{order: call.order, idx: idx})
	}
	sort.Slice(callKeys, func(i, j int) bool { return callKeys[i].order < callKeys[j].order })

	for _, key := range callKeys {
		call := a.toolCalls[key.idx]
		raw := strings.TrimSpace(call.arguments.String())
		var arguments json.RawMessage
		if raw == "" {
			arguments = json.RawMessage(`{}`)
		} else {
			repaired, err := jsonrepair.Repair(raw)
			if err != nil {
				return nil, fmt.Errorf("tool call %s has unparseable arguments: %w", call.name, err)
			}
			arguments = json.RawMessage(repaired)
		}
		full.ToolCalls = append(full.ToolCalls, models.ToolCallFull{
			Name:      call.name,
			CallID:    call.callID,
			Arguments: arguments,
		})
	}

	reasoningKeys := make([]indexed, 0, len(a.reasoning))
	for idx, r := range a.reasoning {
		reasoningKeys = append(reasoningKeys, indexed{order: r.order, idx: idx})
	}
	sort.Slice(reasoningKeys, func(i, j int) bool { return reasoningKeys[i].order < reasoningKeys[j].order })

	for _, key := range reasoningKeys {
		r := a.reasoning[key.idx]
		block := r.block
		block.Text = r.text.String()
		idx := key.idx
		block.Index = &idx
		full.ReasoningDetails = append(full.ReasoningDetails, block)
	}

	return full, nil
}

// Collect drains a frame stream into a full message. The first frame error
// aborts collection; an empty finish reason with a closed channel is treated
// as a normal end of stream.
func Collect(ctx context.Context, frames <-chan *ChatCompletionMessage) (*ChatCompletionMessageFull, error) {
	acc := NewAccumulator()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-frames:
			if !ok {
				return acc.Finalize()
			}
			if msg != nil && msg.Err != nil {
				return nil, msg.Err
			}
			acc.Apply(msg)
		}
	}
}
