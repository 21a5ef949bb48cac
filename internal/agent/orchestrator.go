package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/forgeworks/forge/internal/conversations"
	"github.com/forgeworks/forge/internal/tools"
	"github.com/forgeworks/forge/pkg/models"
)

// Compacter shrinks a context when it outgrows its windows. Implemented by
// the compaction engine; an interface here keeps the dependency one-way.
type Compacter interface {
	Compact(ctx context.Context, chat *models.Context, max bool) (*models.Context, error)
}

// Approver decides whether a tool call may run. A nil approver allows
// everything.
type Approver func(op tools.PermissionOperation) bool

// Options tunes the turn loop.
type Options struct {
	// MaxRequestsPerTurn caps provider round-trips in one turn.
	MaxRequestsPerTurn int
	// MaxToolFailuresPerTurn forces the turn to complete after this many
	// failed tool executions.
	MaxToolFailuresPerTurn int
	// ToolParallelism caps concurrent tool executions.
	ToolParallelism int
	// CompactionThreshold triggers compaction when the context token count
	// exceeds it; 0 disables automatic compaction.
	CompactionThreshold int
	Logger              *slog.Logger
}

// DefaultOptions returns the baseline turn-loop options.
func DefaultOptions() Options {
	return Options{
		MaxRequestsPerTurn:     50,
		MaxToolFailuresPerTurn: 3,
		ToolParallelism:        4,
	}
}

// Orchestrator drives one conversation turn: request, stream, dispatch
// tools, append, compact, persist.
type Orchestrator struct {
	provider  ChatProvider
	registry  *tools.Registry
	repo      conversations.Repository
	compacter Compacter
	approver  Approver
	options   Options
	logger    *slog.Logger
}

// NewOrchestrator wires the turn loop. repo, compacter, and approver may be
// nil.
func NewOrchestrator(provider ChatProvider, registry *tools.Registry, repo conversations.Repository, compacter Compacter, approver Approver, options Options) *Orchestrator {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.MaxRequestsPerTurn <= 0 {
		options.MaxRequestsPerTurn = DefaultOptions().MaxRequestsPerTurn
	}
	if options.MaxToolFailuresPerTurn <= 0 {
		options.MaxToolFailuresPerTurn = DefaultOptions().MaxToolFailuresPerTurn
	}
	if options.ToolParallelism <= 0 {
		options.ToolParallelism = DefaultOptions().ToolParallelism
	}
	return &Orchestrator{
		provider:  provider,
		registry:  registry,
		repo:      repo,
		compacter: compacter,
		approver:  approver,
		options:   options,
		logger:    logger,
	}
}

// TurnResult reports how a turn ended.
type TurnResult struct {
	// Content is the assistant's final text.
	Content string
	// Completed is true when the model called the terminal tool.
	Completed bool
	// AwaitingUser is true when the model asked a follow-up question.
	AwaitingUser bool
	Requests     int
}

// Run executes one turn for the conversation, mutating its context in
// place. Cancelling ctx leaves the context as it was before the in-flight
// assistant response.
func (o *Orchestrator) Run(ctx context.Context, conversation *models.Conversation, model models.ModelID, userInput string) (*TurnResult, error) {
	if conversation.Context == nil {
		conversation.Context = &models.Context{ConversationID: conversation.ID}
	}
	chat := conversation.Context

	if o.registry != nil {
		chat.Tools = o.registry.Definitions()
	}
	chat.AddMessage(models.UserMessage(userInput, model))

	result := &TurnResult{}
	failures := 0

	for result.Requests < o.options.MaxRequestsPerTurn {
		result.Requests++

		frames, err := o.provider.Chat(ctx, model, chat)
		if err != nil {
			return nil, err
		}
		full, err := Collect(ctx, frames)
		if err != nil {
			// partial assistant output is discarded: nothing was appended
			return nil, err
		}

		if chat.Usage == nil {
			chat.Usage = &models.Usage{}
		}
		chat.Usage.AccumulateDelta(full.Usage)

		if len(full.ToolCalls) == 0 {
			chat.AddMessage(models.AssistantMessage(full.Content, full.ReasoningDetails, nil))
			result.Content = full.Content
			break
		}

		results := o.dispatch(ctx, full.ToolCalls)

		records := make([]models.ToolCallRecord, len(full.ToolCalls))
		for i, call := range full.ToolCalls {
			records[i] = models.ToolCallRecord{Call: call, Result: results[i]}
			if results[i].Output.IsError {
				failures++
			}
		}
		chat.AppendMessage(full.Content, full.ReasoningDetails, records)
		result.Content = full.Content

		done := false
		for _, call := range full.ToolCalls {
			if tools.IsAttemptCompletion(call.Name) {
				result.Completed = true
				done = true
			} else if tools.ShouldYield(call.Name) {
				result.AwaitingUser = true
				done = true
			}
		}

		if failures > o.options.MaxToolFailuresPerTurn {
			o.logger.Warn("tool failure budget exhausted, forcing turn completion",
				"failures", failures, "conversation_id", conversation.ID)
			done = true
		}

		if compacted, err := o.maybeCompact(ctx, chat); err != nil {
			o.logger.Warn("compaction failed, continuing with full context",
				"error", err, "conversation_id", conversation.ID)
		} else if compacted != nil {
			*chat = *compacted
		}

		if err := o.persist(ctx, conversation); err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
	}

	if compacted, err := o.maybeCompact(ctx, chat); err == nil && compacted != nil {
		*chat = *compacted
	}
	if err := o.persist(ctx, conversation); err != nil {
		return nil, err
	}
	return result, nil
}

// dispatch runs tool calls, possibly concurrently, and returns the results
// ordered exactly as the calls appeared on the assistant message.
func (o *Orchestrator) dispatch(ctx context.Context, calls []models.ToolCallFull) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	sem := make(chan struct{}, o.options.ToolParallelism)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCallFull) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = models.ToolResult{
				Name:   call.Name,
				CallID: call.CallID,
				Output: o.execute(ctx, call),
			}
		}(i, call)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) execute(ctx context.Context, call models.ToolCallFull) models.ToolOutput {
	if o.registry == nil {
		return models.TextOutput(fmt.Sprintf("no tools registered, cannot run %s", call.Name), true)
	}
	if o.approver != nil {
		op := o.registry.Permission(call)
		if op.Kind != tools.PermissionNone && !o.approver(op) {
			return models.TextOutput(fmt.Sprintf("permission denied for %s", call.Name), true)
		}
	}
	return o.registry.Execute(ctx, call)
}

// maybeCompact runs the compacter when the context has outgrown the
// threshold. Returns nil when nothing changed.
func (o *Orchestrator) maybeCompact(ctx context.Context, chat *models.Context) (*models.Context, error) {
	if o.compacter == nil || o.options.CompactionThreshold <= 0 {
		return nil, nil
	}
	if chat.TokenCount().Value() <= o.options.CompactionThreshold {
		return nil, nil
	}
	compacted, err := o.compacter.Compact(ctx, chat, false)
	if err != nil {
		return nil, err
	}
	if compacted == chat {
		return nil, nil
	}
	return compacted, nil
}

func (o *Orchestrator) persist(ctx context.Context, conversation *models.Conversation) error {
	if o.repo == nil || !conversation.HasMessages() {
		return nil
	}
	if err := o.repo.Upsert(ctx, conversation); err != nil {
		return fmt.Errorf("persist conversation %s: %w", conversation.ID, err)
	}
	return nil
}
