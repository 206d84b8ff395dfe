package usecase

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"ragchat/internal/domain"
)

//go:embed templates/*.txt
var promptTemplates embed.FS

const (
	condenseTemplateName = "templates/condense_question.txt"
	qaTemplateName       = "templates/qa.txt"
)

// Prompt is a parsed prompt template. Variables are referenced as
// {{.name}}; rendering fails on a variable that was not supplied.
type Prompt struct {
	tmpl *template.Template
}

// ParsePrompt parses a prompt template from text.
func ParsePrompt(name, text string) (*Prompt, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return &Prompt{tmpl: tmpl}, nil
}

func loadPrompt(name string) (*Prompt, error) {
	content, err := promptTemplates.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("template not found: %w", err)
	}
	return ParsePrompt(name, strings.TrimRight(string(content), "\n"))
}

// LoadPromptFile parses a prompt template from a file on disk.
func LoadPromptFile(path string) (*Prompt, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt: %w", err)
	}
	return ParsePrompt(filepath.Base(path), strings.TrimRight(string(content), "\n"))
}

// Render executes the template with the given variables.
func (p *Prompt) Render(values map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, values); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

// FormatHistory renders turns as Human/Assistant lines.
func FormatHistory(turns []domain.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, "Human: "+t.Question+"\nAssistant: "+t.Answer)
	}
	return strings.Join(lines, "\n")
}

// FormatContext joins retrieved chunk texts with blank lines.
func FormatContext(chunks []domain.ScoredChunk) string {
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Chunk.Text)
	}
	return strings.Join(texts, "\n\n")
}
