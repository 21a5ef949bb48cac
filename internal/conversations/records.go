// Package conversations persists conversations in a relational store.
//
// No domain type is serialized directly: a parallel hierarchy of record
// types mirrors the domain, so a domain change is a compile error here until
// the stored shape is deliberately updated. The records also absorb the
// historical on-disk shapes still present in old databases.
package conversations

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgeworks/forge/pkg/models"
)

// tokenCountRecord stores a count as {"actual": n} or {"approx": n}. Plain
// numbers from old rows decode as actual counts.
type tokenCountRecord struct {
	value  int
	approx bool
}

func (r tokenCountRecord) MarshalJSON() ([]byte, error) {
	if r.approx {
		return json.Marshal(map[string]int{"approx": r.value})
	}
	return json.Marshal(map[string]int{"actual": r.value})
}

func (r *tokenCountRecord) UnmarshalJSON(data []byte) error {
	var plain int
	if err := json.Unmarshal(data, &plain); err == nil {
		r.value = plain
		r.approx = false
		return nil
	}
	var tagged map[string]int
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if v, ok := tagged["actual"]; ok {
		r.value = v
		r.approx = false
		return nil
	}
	if v, ok := tagged["approx"]; ok {
		r.value = v
		r.approx = true
		return nil
	}
	return fmt.Errorf("token count record has neither actual nor approx")
}

func newTokenCountRecord(t models.TokenCount) tokenCountRecord {
	return tokenCountRecord{value: t.Value(), approx: t.IsApprox()}
}

func (r tokenCountRecord) toDomain() models.TokenCount {
	if r.approx {
		return models.Approx(r.value)
	}
	return models.Actual(r.value)
}

type usageRecord struct {
	PromptTokens     tokenCountRecord `json:"prompt_tokens"`
	CompletionTokens tokenCountRecord `json:"completion_tokens"`
	TotalTokens      tokenCountRecord `json:"total_tokens"`
	CachedTokens     tokenCountRecord `json:"cached_tokens"`
	Cost             *float64         `json:"cost,omitempty"`
}

func newUsageRecord(u *models.Usage) *usageRecord {
	if u == nil {
		return nil
	}
	return &usageRecord{
		PromptTokens:     newTokenCountRecord(u.PromptTokens),
		CompletionTokens: newTokenCountRecord(u.CompletionTokens),
		TotalTokens:      newTokenCountRecord(u.TotalTokens),
		CachedTokens:     newTokenCountRecord(u.CachedTokens),
		Cost:             u.Cost,
	}
}

func (r *usageRecord) toDomain() *models.Usage {
	if r == nil {
		return nil
	}
	return &models.Usage{
		PromptTokens:     r.PromptTokens.toDomain(),
		CompletionTokens: r.CompletionTokens.toDomain(),
		TotalTokens:      r.TotalTokens.toDomain(),
		CachedTokens:     r.CachedTokens.toDomain(),
		Cost:             r.Cost,
	}
}

type reasoningFullRecord struct {
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`
	Data      string `json:"data,omitempty"`
	ID        string `json:"id,omitempty"`
	Format    string `json:"format,omitempty"`
	Index     *int   `json:"index,omitempty"`
	Type      string `json:"type,omitempty"`
}

func newReasoningRecords(details []models.ReasoningFull) []reasoningFullRecord {
	if details == nil {
		return nil
	}
	records := make([]reasoningFullRecord, len(details))
	for i, d := range details {
		records[i] = reasoningFullRecord(d)
	}
	return records
}

func reasoningRecordsToDomain(records []reasoningFullRecord) []models.ReasoningFull {
	if records == nil {
		return nil
	}
	details := make([]models.ReasoningFull, len(records))
	for i, r := range records {
		details[i] = models.ReasoningFull(r)
	}
	return details
}

type toolCallRecord struct {
	Name             string          `json:"name"`
	CallID           string          `json:"call_id,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	ThoughtSignature string          `json:"thought_signature,omitempty"`
}

type imageRecord struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

type aiValueRecord struct {
	Value          json.RawMessage `json:"value"`
	ConversationID string          `json:"conversation_id,omitempty"`
}

// toolValueRecord is a tagged union: exactly one field is set.
type toolValueRecord struct {
	Text  *string        `json:"text,omitempty"`
	Image *imageRecord   `json:"image,omitempty"`
	AI    *aiValueRecord `json:"ai,omitempty"`
	Empty bool           `json:"empty,omitempty"`
}

type toolOutputRecord struct {
	IsError bool              `json:"is_error"`
	Values  []toolValueRecord `json:"values"`
}

type toolResultRecord struct {
	Name   string           `json:"name"`
	CallID string           `json:"call_id"`
	Output toolOutputRecord `json:"output"`
}

func newToolResultRecord(r *models.ToolResult) *toolResultRecord {
	record := &toolResultRecord{
		Name:   r.Name,
		CallID: r.CallID,
		Output: toolOutputRecord{IsError: r.Output.IsError},
	}
	for _, v := range r.Output.Values {
		switch {
		case v.Text != nil:
			record.Output.Values = append(record.Output.Values, toolValueRecord{Text: v.Text})
		case v.Image != nil:
			img := imageRecord(*v.Image)
			record.Output.Values = append(record.Output.Values, toolValueRecord{Image: &img})
		case v.AI != nil:
			ai := aiValueRecord(*v.AI)
			record.Output.Values = append(record.Output.Values, toolValueRecord{AI: &ai})
		default:
			record.Output.Values = append(record.Output.Values, toolValueRecord{Empty: true})
		}
	}
	return record
}

func (r *toolResultRecord) toDomain() models.ToolResult {
	result := models.ToolResult{
		Name:   r.Name,
		CallID: r.CallID,
		Output: models.ToolOutput{IsError: r.Output.IsError},
	}
	for _, v := range r.Output.Values {
		switch {
		case v.Text != nil:
			result.Output.Values = append(result.Output.Values, models.ToolValue{Text: v.Text})
		case v.Image != nil:
			img := models.Image(*v.Image)
			result.Output.Values = append(result.Output.Values, models.ToolValue{Image: &img})
		case v.AI != nil:
			ai := models.AIValue(*v.AI)
			result.Output.Values = append(result.Output.Values, models.ToolValue{AI: &ai})
		default:
			result.Output.Values = append(result.Output.Values, models.ToolValue{})
		}
	}
	return result
}

type textMessageRecord struct {
	Role             string                `json:"role"`
	Content          string                `json:"content"`
	ToolCalls        []toolCallRecord      `json:"tool_calls,omitempty"`
	ReasoningDetails []reasoningFullRecord `json:"reasoning_details,omitempty"`
	Model            string                `json:"model,omitempty"`
}

// contextMessageValueRecord is the tagged message union.
type contextMessageValueRecord struct {
	Text  *textMessageRecord `json:"text,omitempty"`
	Tool  *toolResultRecord  `json:"tool,omitempty"`
	Image *imageRecord       `json:"image,omitempty"`
}

// contextMessageRecord accepts both the wrapped form {"message": {...},
// "usage": {...}} and the bare legacy form {...}.
type contextMessageRecord struct {
	Message contextMessageValueRecord `json:"message"`
	Usage   *usageRecord              `json:"usage,omitempty"`
}

func (r contextMessageRecord) MarshalJSON() ([]byte, error) {
	type wrapped contextMessageRecord
	return json.Marshal(wrapped(r))
}

func (r *contextMessageRecord) UnmarshalJSON(data []byte) error {
	type wrapped contextMessageRecord
	var w wrapped
	if err := json.Unmarshal(data, &w); err == nil && (w.Message.Text != nil || w.Message.Tool != nil || w.Message.Image != nil) {
		*r = contextMessageRecord(w)
		return nil
	}
	var direct contextMessageValueRecord
	if err := json.Unmarshal(data, &direct); err != nil {
		return err
	}
	if direct.Text == nil && direct.Tool == nil && direct.Image == nil {
		return fmt.Errorf("context message record has no recognized variant")
	}
	r.Message = direct
	r.Usage = nil
	return nil
}

func newContextMessageRecord(m models.ContextMessage) contextMessageRecord {
	var record contextMessageRecord
	switch {
	case m.Text != nil:
		calls := make([]toolCallRecord, 0, len(m.Text.ToolCalls))
		for _, tc := range m.Text.ToolCalls {
			calls = append(calls, toolCallRecord(tc))
		}
		if len(calls) == 0 {
			calls = nil
		}
		record.Message.Text = &textMessageRecord{
			Role:             string(m.Text.Role),
			Content:          m.Text.Content,
			ToolCalls:        calls,
			ReasoningDetails: newReasoningRecords(m.Text.ReasoningDetails),
			Model:            string(m.Text.Model),
		}
	case m.Tool != nil:
		record.Message.Tool = newToolResultRecord(m.Tool)
	case m.Image != nil:
		img := imageRecord(*m.Image)
		record.Message.Image = &img
	}
	return record
}

func (r contextMessageRecord) toDomain() (models.ContextMessage, error) {
	switch {
	case r.Message.Text != nil:
		text := &models.TextMessage{
			Role:             models.Role(r.Message.Text.Role),
			Content:          r.Message.Text.Content,
			ReasoningDetails: reasoningRecordsToDomain(r.Message.Text.ReasoningDetails),
			Model:            models.ModelID(r.Message.Text.Model),
		}
		for _, tc := range r.Message.Text.ToolCalls {
			text.ToolCalls = append(text.ToolCalls, models.ToolCallFull(tc))
		}
		return models.ContextMessage{Text: text}, nil
	case r.Message.Tool != nil:
		result := r.Message.Tool.toDomain()
		return models.ContextMessage{Tool: &result}, nil
	case r.Message.Image != nil:
		img := models.Image(*r.Message.Image)
		return models.ContextMessage{Image: &img}, nil
	}
	return models.ContextMessage{}, fmt.Errorf("context message record has no variant")
}

type toolDefinitionRecord struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type toolChoiceRecord struct {
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}

type reasoningConfigRecord struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	Effort    string `json:"effort,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Exclude   bool   `json:"exclude,omitempty"`
}

type contextRecord struct {
	ConversationID string                 `json:"conversation_id,omitempty"`
	Messages       []contextMessageRecord `json:"messages"`
	Tools          []toolDefinitionRecord `json:"tools,omitempty"`
	ToolChoice     *toolChoiceRecord      `json:"tool_choice,omitempty"`
	MaxTokens      *int                   `json:"max_tokens,omitempty"`
	Temperature    *float64               `json:"temperature,omitempty"`
	TopP           *float64               `json:"top_p,omitempty"`
	TopK           *int                   `json:"top_k,omitempty"`
	Reasoning      *reasoningConfigRecord `json:"reasoning,omitempty"`
	Usage          *usageRecord           `json:"usage,omitempty"`
}

func newContextRecord(c *models.Context) *contextRecord {
	if c == nil {
		return nil
	}
	record := &contextRecord{
		ConversationID: c.ConversationID,
		MaxTokens:      c.MaxTokens,
		Temperature:    c.Temperature,
		TopP:           c.TopP,
		TopK:           c.TopK,
		Usage:          newUsageRecord(c.Usage),
	}
	for _, m := range c.Messages {
		record.Messages = append(record.Messages, newContextMessageRecord(m))
	}
	for _, t := range c.Tools {
		record.Tools = append(record.Tools, toolDefinitionRecord(t))
	}
	if c.ToolChoice != nil {
		record.ToolChoice = &toolChoiceRecord{Mode: string(c.ToolChoice.Mode), Name: c.ToolChoice.Name}
	}
	if c.Reasoning != nil {
		record.Reasoning = &reasoningConfigRecord{
			Enabled:   c.Reasoning.Enabled,
			Effort:    string(c.Reasoning.Effort),
			MaxTokens: c.Reasoning.MaxTokens,
			Exclude:   c.Reasoning.Exclude,
		}
	}
	return record
}

func (r *contextRecord) toDomain() (*models.Context, error) {
	if r == nil {
		return nil, nil
	}
	c := &models.Context{
		ConversationID: r.ConversationID,
		MaxTokens:      r.MaxTokens,
		Temperature:    r.Temperature,
		TopP:           r.TopP,
		TopK:           r.TopK,
		Usage:          r.Usage.toDomain(),
	}
	for i, m := range r.Messages {
		domain, err := m.toDomain()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		c.Messages = append(c.Messages, domain)
	}
	for _, t := range r.Tools {
		c.Tools = append(c.Tools, models.ToolDefinition(t))
	}
	if r.ToolChoice != nil {
		c.ToolChoice = &models.ToolChoice{Mode: models.ToolChoiceMode(r.ToolChoice.Mode), Name: r.ToolChoice.Name}
	}
	if r.Reasoning != nil {
		c.Reasoning = &models.ReasoningConfig{
			Enabled:   r.Reasoning.Enabled,
			Effort:    models.Effort(r.Reasoning.Effort),
			MaxTokens: r.Reasoning.MaxTokens,
			Exclude:   r.Reasoning.Exclude,
		}
	}
	return c, nil
}

// fileOperationRecord absorbs the legacy shape without tool or content_hash
// fields: a missing tool defaults to write.
type fileOperationRecord struct {
	LinesAdded   int     `json:"lines_added"`
	LinesRemoved int     `json:"lines_removed"`
	ContentHash  *string `json:"content_hash,omitempty"`
	Tool         *string `json:"tool,omitempty"`
}

func (r fileOperationRecord) toDomain() models.FileOperation {
	op := models.FileOperation{
		LinesAdded:   r.LinesAdded,
		LinesRemoved: r.LinesRemoved,
		ContentHash:  r.ContentHash,
		Tool:         models.OperationWrite,
	}
	if r.Tool != nil {
		op.Tool = models.OperationKind(*r.Tool)
	}
	return op
}

// fileOperationOrArray accepts a single operation or a historical array of
// operations per path; an array collapses to its last element.
type fileOperationOrArray struct {
	op    *fileOperationRecord
	empty bool
}

func (r *fileOperationOrArray) UnmarshalJSON(data []byte) error {
	var single fileOperationRecord
	if err := json.Unmarshal(data, &single); err == nil {
		r.op = &single
		return nil
	}
	var list []fileOperationRecord
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		r.empty = true
		return nil
	}
	last := list[len(list)-1]
	r.op = &last
	return nil
}

func (r fileOperationOrArray) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.op)
}

type metricsRecord struct {
	StartedAt time.Time `json:"started_at"`
	// FileOperations is the current key; FilesChanged is the historical one.
	FileOperations map[string]fileOperationOrArray `json:"file_operations,omitempty"`
	FilesChanged   map[string]fileOperationOrArray `json:"files_changed,omitempty"`
	FilesAccessed  []string                        `json:"files_accessed,omitempty"`
}

func newMetricsRecord(m models.Metrics) *metricsRecord {
	record := &metricsRecord{StartedAt: m.StartedAt}
	if len(m.FileOperations) > 0 {
		record.FileOperations = make(map[string]fileOperationOrArray, len(m.FileOperations))
		for path, op := range m.FileOperations {
			tool := string(op.Tool)
			record.FileOperations[path] = fileOperationOrArray{op: &fileOperationRecord{
				LinesAdded:   op.LinesAdded,
				LinesRemoved: op.LinesRemoved,
				ContentHash:  op.ContentHash,
				Tool:         &tool,
			}}
		}
	}
	for path := range m.FilesAccessed {
		record.FilesAccessed = append(record.FilesAccessed, path)
	}
	return record
}

func (r *metricsRecord) toDomain() models.Metrics {
	m := models.Metrics{
		StartedAt:      r.StartedAt,
		FileOperations: make(map[string]models.FileOperation),
		FilesAccessed:  make(map[string]struct{}),
	}
	source := r.FileOperations
	if source == nil {
		source = r.FilesChanged
	}
	for path, entry := range source {
		if entry.empty || entry.op == nil {
			continue
		}
		m.FileOperations[path] = entry.op.toDomain()
	}
	if r.FilesAccessed != nil {
		for _, path := range r.FilesAccessed {
			m.FilesAccessed[path] = struct{}{}
		}
	} else {
		// reconstruct from read operations when old data lacks the set
		for path, op := range m.FileOperations {
			if op.Tool == models.OperationRead {
				m.FilesAccessed[path] = struct{}{}
			}
		}
	}
	return m
}
