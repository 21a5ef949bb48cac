// Package templates embeds the prompt templates shipped with the binary and
// renders them with text/template.
package templates

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.md
var promptFS embed.FS

// SummarizerData fills the context-summarizer prompt.
type SummarizerData struct {
	SummaryTag string
}

// SummaryFrameData fills the summary frame spliced into a compacted
// conversation.
type SummaryFrameData struct {
	Summary  string
	Feedback []string
}

// Render executes the named embedded template with data.
func Render(name string, data any) (string, error) {
	raw, err := promptFS.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("unknown template %q: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", name, err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render template %q: %w", name, err)
	}
	return out.String(), nil
}

// RenderString parses and executes an inline template, for agent-supplied
// prompt overrides.
func RenderString(text string, data any) (string, error) {
	tmpl, err := template.New("inline").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse inline template: %w", err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render inline template: %w", err)
	}
	return out.String(), nil
}
