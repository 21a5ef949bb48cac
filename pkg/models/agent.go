package models

import "fmt"

// CompactConfig tunes context compaction for an agent. Windows are token
// thresholds; compaction takes the smaller of the two ranges, or the
// retention range alone when max is requested.
type CompactConfig struct {
	EvictionWindow  int     `yaml:"eviction_window"`
	RetentionWindow int     `yaml:"retention_window"`
	SummaryTag      string  `yaml:"summary_tag"`
	PromptTemplate  string  `yaml:"prompt_template"`
	Model           ModelID `yaml:"model"`
	MaxTokens       int     `yaml:"max_tokens"`
}

// Agent configures one addressable agent: its model, prompts, tool set, and
// turn-loop limits.
type Agent struct {
	ID                    string           `yaml:"id"`
	Title                 string           `yaml:"title,omitempty"`
	Model                 ModelID          `yaml:"model,omitempty"`
	Description           string           `yaml:"description,omitempty"`
	SystemPromptTemplate  string           `yaml:"system_prompt,omitempty"`
	UserPromptTemplate    string           `yaml:"user_prompt,omitempty"`
	Tools                 []string         `yaml:"tools,omitempty"`
	Subscribe             []string         `yaml:"subscribe,omitempty"`
	MaxTurns              int              `yaml:"max_turns,omitempty"`
	Compact               *CompactConfig   `yaml:"compact,omitempty"`
	CustomRules           string           `yaml:"custom_rules,omitempty"`
	Temperature           *float64         `yaml:"temperature,omitempty"`
	TopP                  *float64         `yaml:"top_p,omitempty"`
	TopK                  *int             `yaml:"top_k,omitempty"`
	MaxTokens             *int             `yaml:"max_tokens,omitempty"`
	Reasoning             *ReasoningConfig `yaml:"reasoning,omitempty"`
	MaxToolFailurePerTurn int              `yaml:"max_tool_failure_per_turn,omitempty"`
	MaxRequestsPerTurn    int              `yaml:"max_requests_per_turn,omitempty"`
}

// Sampling bounds. Values outside these ranges are rejected at
// configuration load.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinTopK        = 1
	MaxTopK        = 1000
	MinMaxTokens   = 1
	MaxMaxTokens   = 100000
)

// ValidateTemperature rejects temperatures outside [0, 2].
func ValidateTemperature(v float64) error {
	if v < MinTemperature || v > MaxTemperature {
		return fmt.Errorf("temperature %v is out of range [%v, %v]", v, MinTemperature, MaxTemperature)
	}
	return nil
}

// ValidateTopP rejects top_p outside [0, 1].
func ValidateTopP(v float64) error {
	if v < MinTopP || v > MaxTopP {
		return fmt.Errorf("top_p %v is out of range [%v, %v]", v, MinTopP, MaxTopP)
	}
	return nil
}

// ValidateTopK rejects top_k outside [1, 1000].
func ValidateTopK(v int) error {
	if v < MinTopK || v > MaxTopK {
		return fmt.Errorf("top_k %d is out of range [%d, %d]", v, MinTopK, MaxTopK)
	}
	return nil
}

// ValidateMaxTokens rejects max_tokens outside [1, 100000].
func ValidateMaxTokens(v int) error {
	if v < MinMaxTokens || v > MaxMaxTokens {
		return fmt.Errorf("max_tokens %d is out of range [%d, %d]", v, MinMaxTokens, MaxMaxTokens)
	}
	return nil
}

// ApplySampling copies the agent's sampling overrides onto a context.
func (a *Agent) ApplySampling(ctx *Context) {
	if a.Temperature != nil {
		ctx.Temperature = a.Temperature
	}
	if a.TopP != nil {
		ctx.TopP = a.TopP
	}
	if a.TopK != nil {
		ctx.TopK = a.TopK
	}
	if a.MaxTokens != nil {
		ctx.MaxTokens = a.MaxTokens
	}
	if a.Reasoning != nil {
		ctx.Reasoning = a.Reasoning
	}
}
