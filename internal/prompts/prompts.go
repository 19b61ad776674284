// Package prompts renders the system prompt that opens every model request.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
	"time"
)

//go:embed system.tmpl
var systemTemplate string

// Provider supplies the system prompt.
type Provider interface {
	SystemPrompt() (string, error)
}

// Default renders the built-in prompt with today's date.
type Default struct {
	tmpl *template.Template
	now  func() time.Time
}

// NewDefault parses the built-in template.
func NewDefault() (*Default, error) {
	tmpl, err := template.New("system").Parse(systemTemplate)
	if err != nil {
		return nil, fmt.Errorf("prompts: parse template: %w", err)
	}
	return &Default{tmpl: tmpl, now: time.Now}, nil
}

// SystemPrompt implements Provider.
func (d *Default) SystemPrompt() (string, error) {
	var buf bytes.Buffer
	data := struct{ Date string }{Date: d.now().Format("2006-01-02")}
	if err := d.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompts: execute template: %w", err)
	}
	return buf.String(), nil
}

// Static always returns the same prompt.
type Static string

func (s Static) SystemPrompt() (string, error) { return string(s), nil }
