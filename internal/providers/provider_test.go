package providers

import (
	"testing"

	"github.com/forgeworks/forge/internal/infra"
)

func TestResponsesURLDerivation(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "https://api.openai.com/v1/chat/completions", want: "https://api.openai.com/v1/responses"},
		{base: "https://api.openai.com/v1", want: "https://api.openai.com/v1/responses"},
		{base: "https://proxy.example.com/v1/?key=abc#frag", want: "https://proxy.example.com/v1/responses"},
	}
	for _, tt := range tests {
		got, err := responsesURL(tt.base)
		if err != nil {
			t.Errorf("responsesURL(%q) error: %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("responsesURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestNewSelectsDialect(t *testing.T) {
	retry := infra.DefaultRetryConfig()

	tests := []struct {
		dialect Dialect
		name    string
	}{
		{dialect: DialectOpenAI, name: "openai"},
		{dialect: DialectAnthropic, name: "anthropic"},
		{dialect: DialectOpenAIResponses, name: "openai_responses"},
	}
	for _, tt := range tests {
		p, err := New(Config{ID: "x", Dialect: tt.dialect, APIKey: "key"}, nil, retry, nil)
		if err != nil {
			t.Errorf("New(%s): %v", tt.dialect, err)
			continue
		}
		if p.Name() != tt.name {
			t.Errorf("Name() = %q, want %q", p.Name(), tt.name)
		}
	}

	if _, err := New(Config{Dialect: "smoke-signals", APIKey: "key"}, nil, retry, nil); err == nil {
		t.Error("unknown dialect accepted")
	}
}

func TestErrorClassification(t *testing.T) {
	err := newError("openai", "gpt-4o", nil).WithStatus(429)
	if err.Reason != FailRateLimit || !err.Reason.IsRetryable() {
		t.Errorf("429 classified as %s", err.Reason)
	}
	err = newError("openai", "gpt-4o", nil).WithStatus(401)
	if err.Reason != FailAuth || err.Reason.IsRetryable() {
		t.Errorf("401 classified as %s", err.Reason)
	}
	err = newError("openai", "gpt-4o", nil).WithStatus(503)
	if err.Reason != FailServerError || !err.Reason.IsRetryable() {
		t.Errorf("503 classified as %s", err.Reason)
	}
	err = newError("openai", "gpt-4o", nil).WithStatus(522)
	if !err.Reason.IsRetryable() {
		t.Errorf("522 classified as %s", err.Reason)
	}
}
