package providers

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/forgeworks/forge/internal/agent"
	"github.com/forgeworks/forge/internal/infra"
)

// Dialect identifies a provider's wire protocol. A provider record declares
// which response shape it speaks; the adapter is selected from that.
type Dialect string

const (
	// DialectOpenAI is the OpenAI chat-completions protocol, also spoken by
	// OpenRouter and most compatible routers.
	DialectOpenAI Dialect = "openai"
	// DialectOpenAIResponses is the OpenAI Responses protocol used by Codex
	// models.
	DialectOpenAIResponses Dialect = "openai_responses"
	// DialectAnthropic is the Anthropic messages protocol.
	DialectAnthropic Dialect = "anthropic"
	// DialectGoogle is the Google Gemini generateContent protocol.
	DialectGoogle Dialect = "google"
)

// Config describes one configured provider endpoint.
type Config struct {
	ID      string  `yaml:"id"`
	Dialect Dialect `yaml:"dialect"`
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url"`
}

// deps bundles the process-wide plumbing shared by all adapters.
type deps struct {
	httpClient *http.Client
	retry      infra.RetryConfig
	logger     *slog.Logger
}

// New builds the adapter for the config's declared dialect. Adapters are
// stateless beyond their clients and may be constructed per call.
func New(cfg Config, httpClient *http.Client, retry infra.RetryConfig, logger *slog.Logger) (agent.ChatProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := deps{httpClient: httpClient, retry: retry, logger: logger}

	switch cfg.Dialect {
	case DialectOpenAI:
		return newOpenAI(cfg, d)
	case DialectOpenAIResponses:
		return newResponses(cfg, d)
	case DialectAnthropic:
		return newAnthropic(cfg, d)
	case DialectGoogle:
		return newGoogle(cfg, d)
	}
	return nil, fmt.Errorf("unknown provider dialect %q", cfg.Dialect)
}

// responsesURL derives the Responses endpoint from a configured base URL by
// reducing the path to /v1 and appending /responses.
func responsesURL(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	parsed.Path = "/v1"
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/") + "/responses", nil
}
