package compaction

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/forgeworks/forge/internal/agent"
	"github.com/forgeworks/forge/pkg/models"
)

// mockProvider replays a fixed response as a single-frame stream.
type mockProvider struct {
	content string
	usage   models.Usage
	err     error
	calls   int
}

func (m *mockProvider) Chat(ctx context.Context, model models.ModelID, chat *models.Context) (<-chan *agent.ChatCompletionMessage, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	frames := make(chan *agent.ChatCompletionMessage, 2)
	frames <- &agent.ChatCompletionMessage{
		Content:      m.content,
		Usage:        &m.usage,
		FinishReason: agent.FinishStop,
	}
	close(frames)
	return frames, nil
}

func (m *mockProvider) Name() string                           { return "mock" }
func (m *mockProvider) ContextLength(model models.ModelID) int { return 200000 }

func summarizerUsage() models.Usage {
	return models.Usage{
		PromptTokens:     models.Actual(100),
		CompletionTokens: models.Actual(50),
		TotalTokens:      models.Actual(150),
	}
}

func testConfig() models.CompactConfig {
	return models.CompactConfig{
		EvictionWindow:  100,
		RetentionWindow: 50,
		SummaryTag:      "summary",
		Model:           "mock-model",
	}
}

func reasoning(text string) []models.ReasoningFull {
	return []models.ReasoningFull{{Text: text, Signature: "sig-" + text}}
}

func TestCompressRangePreservesLastReasoning(t *testing.T) {
	provider := &mockProvider{content: "<summary>Summary</summary>", usage: summarizerUsage()}
	compactor := New(provider, testConfig(), nil)

	chat := &models.Context{Usage: &models.Usage{
		PromptTokens:     models.Actual(200),
		CompletionTokens: models.Actual(100),
		TotalTokens:      models.Actual(300),
	}}
	chat.AddMessage(models.UserMessage("M1", ""))
	chat.AddMessage(models.AssistantMessage("R1", reasoning("first"), nil))
	chat.AddMessage(models.UserMessage("M2", ""))
	chat.AddMessage(models.AssistantMessage("R2", reasoning("last"), nil))
	chat.AddMessage(models.UserMessage("M3", ""))
	chat.AddMessage(models.AssistantMessage("R3", nil, nil))

	result, err := compactor.CompressRange(context.Background(), chat, 0, 3)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Messages) != 3 {
		t.Fatalf("messages = %d, want summary + M3 + R3", len(result.Messages))
	}
	if !result.Messages[0].HasRole(models.RoleUser) {
		t.Errorf("head is not a user summary frame")
	}
	if content, _ := result.Messages[0].Content(); !strings.Contains(content, "Summary") {
		t.Errorf("frame missing summary: %q", content)
	}
	if content, _ := result.Messages[1].Content(); content != "M3" {
		t.Errorf("second message = %q, want M3", content)
	}

	final := result.Messages[2]
	if !final.HasRole(models.RoleAssistant) {
		t.Fatalf("third message is not the assistant")
	}
	if !final.Text.HasReasoning() {
		t.Fatal("reasoning not preserved across splice")
	}
	if final.Text.ReasoningDetails[0].Text != "last" {
		t.Errorf("preserved reasoning = %q, want the last non-empty block", final.Text.ReasoningDetails[0].Text)
	}
}

func TestCompressRangeSkipsEmptyReasoningBlocks(t *testing.T) {
	provider := &mockProvider{content: "<summary>Summary</summary>", usage: summarizerUsage()}
	compactor := New(provider, testConfig(), nil)

	chat := &models.Context{}
	chat.AddMessage(models.UserMessage("U1", ""))
	chat.AddMessage(models.AssistantMessage("A1", reasoning("valid"), nil))
	chat.AddMessage(models.UserMessage("U2", ""))
	chat.AddMessage(models.AssistantMessage("A2", []models.ReasoningFull{}, nil))
	chat.AddMessage(models.UserMessage("U3", ""))
	chat.AddMessage(models.AssistantMessage("A3", nil, nil))

	result, err := compactor.CompressRange(context.Background(), chat, 0, 3)
	if err != nil {
		t.Fatal(err)
	}

	final := result.Messages[len(result.Messages)-1]
	if !final.Text.HasReasoning() || final.Text.ReasoningDetails[0].Text != "valid" {
		t.Errorf("preserved reasoning = %+v, want the valid block", final.Text.ReasoningDetails)
	}
}

func TestCompactionIdempotentOnReasoningCount(t *testing.T) {
	provider := &mockProvider{content: "<summary>S</summary>", usage: summarizerUsage()}
	compactor := New(provider, testConfig(), nil)

	chat := &models.Context{}
	chat.AddMessage(models.UserMessage("U1", ""))
	chat.AddMessage(models.AssistantMessage("A1", reasoning("r"), nil))
	chat.AddMessage(models.UserMessage("U2", ""))
	chat.AddMessage(models.AssistantMessage("A2", nil, nil))
	chat.AddMessage(models.UserMessage("U3", ""))
	chat.AddMessage(models.AssistantMessage("A3", nil, nil))

	once, err := compactor.CompressRange(context.Background(), chat, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := compactor.CompressRange(context.Background(), once, 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	for i, msg := range twice.Messages {
		if msg.Text != nil && len(msg.Text.ReasoningDetails) > 1 {
			t.Errorf("message %d accumulated %d reasoning blocks", i, len(msg.Text.ReasoningDetails))
		}
	}
}

func TestCompactUsageAccounting(t *testing.T) {
	cost := 0.1
	summaryCost := 0.2
	before := &models.Usage{
		PromptTokens:     models.Actual(200),
		CompletionTokens: models.Actual(100),
		TotalTokens:      models.Actual(300),
		CachedTokens:     models.Actual(40),
		Cost:             &cost,
	}
	summary := &models.Usage{
		PromptTokens:     models.Actual(100),
		CompletionTokens: models.Actual(50),
		TotalTokens:      models.Actual(150),
		Cost:             &summaryCost,
	}

	got := compactedUsage(before, summary)
	// 50 + 200 - 100 = 150, approximate
	if got.PromptTokens.Value() != 150 || !got.PromptTokens.IsApprox() {
		t.Errorf("prompt = %v, want ~150", got.PromptTokens)
	}
	if got.CompletionTokens.Value() != 100 {
		t.Errorf("completion = %v, want preserved 100", got.CompletionTokens)
	}
	if got.CachedTokens.Value() != 0 {
		t.Errorf("cached = %v, want reset", got.CachedTokens)
	}
	if got.Cost == nil || math.Abs(*got.Cost-0.3) > 1e-9 {
		t.Errorf("cost = %v, want 0.3", got.Cost)
	}
	if !got.TotalTokens.IsApprox() || got.TotalTokens.Value() != 250 {
		t.Errorf("total = %v, want ~250", got.TotalTokens)
	}
}

func TestCompactNoRangeReturnsUnchanged(t *testing.T) {
	provider := &mockProvider{content: "<summary>S</summary>", usage: summarizerUsage()}
	compactor := New(provider, testConfig(), nil)

	chat := &models.Context{}
	chat.AddMessage(models.UserMessage("only one", ""))

	result, err := compactor.Compact(context.Background(), chat, false)
	if err != nil {
		t.Fatal(err)
	}
	if result != chat {
		t.Error("context was replaced despite empty range")
	}
	if provider.calls != 0 {
		t.Errorf("summarizer called %d times for an empty range", provider.calls)
	}
}

func TestCompactSummarizerFailureKeepsOriginal(t *testing.T) {
	provider := &mockProvider{err: errors.New("provider down")}
	compactor := New(provider, testConfig(), nil)

	chat := &models.Context{}
	for i := 0; i < 6; i++ {
		chat.AddMessage(models.UserMessage(strings.Repeat("x", 400), ""))
	}
	original := len(chat.Messages)

	_, err := compactor.CompressRange(context.Background(), chat, 0, 3)
	if err == nil {
		t.Fatal("want summarizer error")
	}
	if len(chat.Messages) != original {
		t.Error("original context was modified on failure")
	}
}

func TestCompactMissingModelIsHardError(t *testing.T) {
	cfg := testConfig()
	cfg.Model = ""
	compactor := New(&mockProvider{content: "x"}, cfg, nil)

	chat := &models.Context{}
	for i := 0; i < 4; i++ {
		chat.AddMessage(models.UserMessage("msg", ""))
	}
	if _, err := compactor.CompressRange(context.Background(), chat, 0, 1); !errors.Is(err, ErrNoModel) {
		t.Errorf("error = %v, want ErrNoModel", err)
	}
}

func TestCompactWithoutTagsUsesFullContent(t *testing.T) {
	provider := &mockProvider{content: "bare summary text", usage: summarizerUsage()}
	compactor := New(provider, testConfig(), nil)

	chat := &models.Context{}
	for i := 0; i < 4; i++ {
		chat.AddMessage(models.UserMessage("msg", ""))
	}
	result, err := compactor.CompressRange(context.Background(), chat, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if content, _ := result.Messages[0].Content(); !strings.Contains(content, "bare summary text") {
		t.Errorf("frame missing untagged summary: %q", content)
	}
}

func TestExtractTagContent(t *testing.T) {
	got, ok := ExtractTagContent("before <summary> the core </summary> after", "summary")
	if !ok || got != "the core" {
		t.Errorf("got (%q, %v)", got, ok)
	}
	if _, ok := ExtractTagContent("no tags here", "summary"); ok {
		t.Error("matched missing tags")
	}
}

func TestStrategyRanges(t *testing.T) {
	chat := &models.Context{}
	chat.AddMessage(models.SystemMessage(strings.Repeat("s", 400)))
	for i := 0; i < 5; i++ {
		chat.AddMessage(models.UserMessage(strings.Repeat("x", 400), "")) // ~100 tokens each
	}

	start, end, ok := Evict(250).EvictionRange(chat)
	if !ok || start != 1 || end != 2 {
		t.Errorf("evict range = (%d, %d, %v), want (1, 2, true)", start, end, ok)
	}

	start, end, ok = Retain(150).EvictionRange(chat)
	// the budget retains only the final message; everything older is evicted
	if !ok || start != 1 || end != 4 {
		t.Errorf("retain range = (%d, %d, %v), want (1, 4, true)", start, end, ok)
	}

	if _, _, ok := Evict(10).EvictionRange(chat); ok {
		t.Error("tiny eviction budget yielded a range")
	}
}

func TestStrategyKeepsToolResultGroupsIntact(t *testing.T) {
	chat := &models.Context{}
	chat.AddMessage(models.UserMessage(strings.Repeat("x", 400), ""))
	chat.AddMessage(models.AssistantMessage(strings.Repeat("y", 400), nil, []models.ToolCallFull{{Name: "read", CallID: "c1"}}))
	chat.AddMessage(models.ToolResultMessage(models.ToolResult{Name: "read", CallID: "c1", Output: models.TextOutput(strings.Repeat("z", 400), false)}))
	chat.AddMessage(models.UserMessage(strings.Repeat("w", 400), ""))

	// A budget that would cut between the assistant and its tool result.
	start, end, ok := Evict(220).EvictionRange(chat)
	if !ok {
		t.Fatal("no range")
	}
	if end != 0 {
		t.Errorf("range = (%d, %d), want the boundary pulled before the tool group", start, end)
	}
}
