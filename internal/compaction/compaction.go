// Package compaction shrinks a conversation context by summarizing an older
// contiguous range of messages into a single synthetic user message.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/forgeworks/forge/internal/agent"
	"github.com/forgeworks/forge/internal/templates"
	"github.com/forgeworks/forge/pkg/models"
)

// ErrNoModel is returned when compaction is requested without a summarizer
// model configured.
var ErrNoModel = errors.New("no model specified for compaction")

// Compactor runs the summarize-and-splice cycle against a provider.
type Compactor struct {
	provider agent.ChatProvider
	config   models.CompactConfig
	logger   *slog.Logger
}

// New creates a compactor. logger may be nil.
func New(provider agent.ChatProvider, config models.CompactConfig, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{provider: provider, config: config, logger: logger}
}

// Compact applies compaction to the context if a strategy yields a range.
// With max unset the smaller of the eviction and retention ranges is used;
// with max set the retention range is used. The original context is returned
// unchanged when there is nothing to evict, and never modified on failure.
func (c *Compactor) Compact(ctx context.Context, chat *models.Context, max bool) (*models.Context, error) {
	eviction := Evict(c.config.EvictionWindow)
	retention := Retain(c.config.RetentionWindow)

	var strategy Strategy
	if max {
		strategy = retention
	} else {
		strategy = eviction.Min(retention, chat)
	}

	start, end, ok := strategy.EvictionRange(chat)
	if !ok {
		return chat, nil
	}
	return c.CompressRange(ctx, chat, start, end)
}

// CompressRange summarizes messages [start, end] and splices the rendered
// summary frame over them.
func (c *Compactor) CompressRange(ctx context.Context, chat *models.Context, start, end int) (*models.Context, error) {
	if start < 0 || end >= len(chat.Messages) || start > end {
		return nil, fmt.Errorf("invalid compaction range [%d, %d] for %d messages", start, end, len(chat.Messages))
	}

	evicted := make([]models.ContextMessage, end-start+1)
	copy(evicted, chat.Messages[start:end+1])

	// user messages in the evicted range are kept verbatim as feedback
	var feedback []string
	for _, msg := range evicted {
		if msg.HasRole(models.RoleUser) {
			if content, ok := msg.Content(); ok && content != "" {
				feedback = append(feedback, content)
			}
		}
	}

	summary, err := c.summarize(ctx, evicted)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("created context compaction summary",
		"sequence_start", start,
		"sequence_end", end,
		"sequence_length", len(evicted),
	)

	frame, err := templates.Render("summary-frame.md", templates.SummaryFrameData{
		Summary:  summary.Content,
		Feedback: feedback,
	})
	if err != nil {
		return nil, err
	}

	// the last non-empty reasoning in the evicted range survives the splice
	var preserved []models.ReasoningFull
	for i := len(evicted) - 1; i >= 0; i-- {
		if evicted[i].Text != nil && evicted[i].Text.HasReasoning() {
			preserved = evicted[i].Text.ReasoningDetails
			break
		}
	}

	result := *chat
	result.Usage = compactedUsage(chat.Usage, &summary.Usage)

	messages := make([]models.ContextMessage, 0, len(chat.Messages)-(end-start))
	messages = append(messages, chat.Messages[:start]...)
	messages = append(messages, models.UserMessage(frame, c.config.Model))
	messages = append(messages, chat.Messages[end+1:]...)
	result.Messages = messages

	if preserved != nil {
		for i := range result.Messages {
			msg := result.Messages[i]
			if msg.HasRole(models.RoleAssistant) {
				if !msg.Text.HasReasoning() {
					text := *msg.Text
					text.ReasoningDetails = preserved
					result.Messages[i] = models.ContextMessage{Text: &text}
				}
				break
			}
		}
	}

	return &result, nil
}

// summarize runs the summarizer model over the evicted range and extracts
// the tagged summary from its response.
func (c *Compactor) summarize(ctx context.Context, evicted []models.ContextMessage) (*agent.ChatCompletionMessageFull, error) {
	if c.config.Model == "" {
		return nil, ErrNoModel
	}

	prompt := c.config.PromptTemplate
	var err error
	if prompt == "" {
		prompt, err = templates.Render("context-summarizer.md", templates.SummarizerData{SummaryTag: c.config.SummaryTag})
	} else {
		prompt, err = templates.RenderString(prompt, templates.SummarizerData{SummaryTag: c.config.SummaryTag})
	}
	if err != nil {
		return nil, err
	}

	request := &models.Context{}
	for _, msg := range evicted {
		request.AddMessage(msg)
	}
	request.AddMessage(models.UserMessage(prompt, c.config.Model))
	if c.config.MaxTokens > 0 {
		maxTokens := c.config.MaxTokens
		request.MaxTokens = &maxTokens
	}

	frames, err := c.provider.Chat(ctx, c.config.Model, request)
	if err != nil {
		return nil, err
	}
	full, err := agent.Collect(ctx, frames)
	if err != nil {
		return nil, err
	}

	if extracted, ok := ExtractTagContent(full.Content, c.config.SummaryTag); ok {
		full.Content = extracted
	}
	return full, nil
}

// ExtractTagContent returns the text between <tag> and </tag>, trimmed.
func ExtractTagContent(content, tag string) (string, bool) {
	if tag == "" {
		return "", false
	}
	openTag := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	start := strings.Index(content, openTag)
	if start < 0 {
		return "", false
	}
	rest := content[start+len(openTag):]
	end := strings.Index(rest, closeTag)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// compactedUsage computes the context usage after a splice: the new prompt
// estimate is the summary's completion plus the original prompt minus the
// summary's prompt, marked approximate. Completion tokens survive, cached
// tokens reset, costs sum when both sides exist.
func compactedUsage(before, summary *models.Usage) *models.Usage {
	if before == nil || summary == nil {
		return before
	}
	prompt := models.Approx(summary.CompletionTokens.Value() + before.PromptTokens.Value() - summary.PromptTokens.Value())
	completion := before.CompletionTokens
	return &models.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt.Add(completion),
		CachedTokens:     models.TokenCount{},
		Cost:             models.SumCosts(before.Cost, summary.Cost),
	}
}
