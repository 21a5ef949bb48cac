package models

import "time"

// OperationKind identifies which tool last touched a file.
type OperationKind string

const (
	OperationRead  OperationKind = "read"
	OperationWrite OperationKind = "write"
	OperationPatch OperationKind = "patch"
	OperationUndo  OperationKind = "undo"
)

// FileOperation records the line-level impact of the most recent operation
// on a file. Only the latest operation per path is retained.
type FileOperation struct {
	LinesAdded   int
	LinesRemoved int
	ContentHash  *string
	Tool         OperationKind
}

// Metrics aggregates per-conversation file activity.
type Metrics struct {
	StartedAt      time.Time
	FileOperations map[string]FileOperation
	FilesAccessed  map[string]struct{}
}

// NewMetrics returns initialized metrics stamped with the current time.
func NewMetrics(now time.Time) Metrics {
	return Metrics{
		StartedAt:      now,
		FileOperations: make(map[string]FileOperation),
		FilesAccessed:  make(map[string]struct{}),
	}
}

// RecordOperation stores the latest operation for a path, replacing any
// previous entry, and tracks read access.
func (m *Metrics) RecordOperation(path string, op FileOperation) {
	if m.FileOperations == nil {
		m.FileOperations = make(map[string]FileOperation)
	}
	m.FileOperations[path] = op
	if op.Tool == OperationRead {
		if m.FilesAccessed == nil {
			m.FilesAccessed = make(map[string]struct{})
		}
		m.FilesAccessed[path] = struct{}{}
	}
}

// ConversationMeta carries creation and update timestamps.
type ConversationMeta struct {
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Conversation is a persisted multi-turn exchange: its context, metrics,
// and metadata. Conversations with an empty context are not persisted.
type Conversation struct {
	ID       string
	Title    *string
	Context  *Context
	Metrics  Metrics
	Metadata ConversationMeta
}

// HasMessages reports whether the conversation carries any context.
func (c *Conversation) HasMessages() bool {
	return c.Context != nil && len(c.Context.Messages) > 0
}
