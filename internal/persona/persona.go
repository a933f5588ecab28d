// Package persona renders the system instruction that makes the model answer
// as the profile owner.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/ent0n29/folio/internal/profile"
)

//go:embed default_template.txt
var defaultTemplate string

const (
	chatQuestionPrefix = "\n\nUser Question: "
	openingDirective   = "\n\nIMPORTANT: Start the conversation now by briefly introducing yourself."
	bareGreeting       = "Hello! Please briefly introduce yourself."
)

var ErrEmptyProfile = errors.New("persona: profile document is empty")

// Instruction is the rendered system instruction.
type Instruction string

func (i Instruction) String() string {
	return string(i)
}

// ChatPrompt joins the instruction and a visitor question into one text prompt.
func (i Instruction) ChatPrompt(utterance string) string {
	return string(i) + chatQuestionPrefix + utterance
}

// OpeningTurn is the first text turn of a voice call. It asks the model to
// greet the visitor before any microphone audio is streamed.
func (i Instruction) OpeningTurn() string {
	if strings.TrimSpace(string(i)) == "" {
		return bareGreeting
	}
	return string(i) + openingDirective
}

// Builder renders instructions from a template whose data is derived from
// the profile alone.
type Builder struct {
	tmpl *template.Template
}

type templateData struct {
	Name    string
	Profile string
}

// New parses a custom template. It may reference {{ .Profile }} (the compact
// profile JSON) and {{ .Name }}.
func New(text string) (*Builder, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("persona: template is empty")
	}
	if !strings.Contains(text, ".Profile") {
		return nil, errors.New("persona: template must reference .Profile")
	}
	tmpl, err := template.New("persona").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("persona: parse template: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

// Default returns the builder for the built-in template.
func Default() *Builder {
	b, err := New(defaultTemplate)
	if err != nil {
		panic(err)
	}
	return b
}

// FromFile loads a template from path, or the built-in one when path is empty.
func FromFile(path string) (*Builder, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read template: %w", err)
	}
	return New(string(data))
}

// Build renders the instruction for doc. The output embeds doc.JSON() verbatim.
func (b *Builder) Build(doc profile.Document) (Instruction, error) {
	if doc.IsZero() {
		return "", ErrEmptyProfile
	}
	var sb strings.Builder
	err := b.tmpl.Execute(&sb, templateData{
		Name:    doc.Name(),
		Profile: doc.JSON(),
	})
	if err != nil {
		return "", fmt.Errorf("persona: render: %w", err)
	}
	return Instruction(strings.TrimSpace(sb.String())), nil
}

// Build renders doc with the built-in template.
func Build(doc profile.Document) (Instruction, error) {
	return Default().Build(doc)
}
