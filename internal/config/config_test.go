package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
default_model: claude-sonnet-4-20250514
providers:
  - id: anthropic
    dialect: anthropic
    api_key: sk-ant-test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Compact.SummaryTag != "summary" {
		t.Errorf("summary tag = %q", cfg.Compact.SummaryTag)
	}
	if cfg.Compact.Model != "claude-sonnet-4-20250514" {
		t.Errorf("compact model = %q, want default model", cfg.Compact.Model)
	}
	if !strings.HasSuffix(cfg.Workspace.Database, "forge.db") {
		t.Errorf("database = %q", cfg.Workspace.Database)
	}

	provider, err := cfg.ProviderFor("")
	if err != nil || provider.ID != "anthropic" {
		t.Errorf("ProviderFor(\"\") = %+v, %v", provider, err)
	}
}

func TestLoadRejectsOutOfRangeSampling(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
	}{
		{
			name: "temperature too high",
			yaml: `
providers: [{id: p, dialect: openai, api_key: k}]
agents: [{id: a, temperature: 2.5}]
`,
			message: "[0, 2]",
		},
		{
			name: "top_p negative",
			yaml: `
providers: [{id: p, dialect: openai, api_key: k}]
agents: [{id: a, top_p: -0.1}]
`,
			message: "[0, 1]",
		},
		{
			name: "top_k too large",
			yaml: `
providers: [{id: p, dialect: openai, api_key: k}]
agents: [{id: a, top_k: 5000}]
`,
			message: "[1, 1000]",
		},
		{
			name: "max_tokens too large",
			yaml: `
providers: [{id: p, dialect: openai, api_key: k}]
agents: [{id: a, max_tokens: 200000}]
`,
			message: "[1, 100000]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error %q does not name the valid range %s", err, tt.message)
			}
		})
	}
}

func TestLoadRejectsUnknownDialect(t *testing.T) {
	_, err := Load(writeConfig(t, `
providers: [{id: p, dialect: telepathy, api_key: k}]
`))
	if err == nil || !strings.Contains(err.Error(), "telepathy") {
		t.Errorf("error = %v", err)
	}
}
