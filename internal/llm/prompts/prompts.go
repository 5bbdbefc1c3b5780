// Package prompts renders the system prompts used for study advice.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"text/template"
)

// FS holds the built-in prompt templates.
//
//go:embed templates/*.txt
var FS embed.FS

// Variant selects how much detail the advice goes into.
type Variant string

const (
	// VariantBrief asks for two or three sentences.
	VariantBrief Variant = "brief"
	// VariantStandard is the default.
	VariantStandard Variant = "standard"
	// VariantDetailed asks for a week-by-week plan.
	VariantDetailed Variant = "detailed"
)

var validVariants = map[Variant]bool{
	VariantBrief:    true,
	VariantStandard: true,
	VariantDetailed: true,
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Variant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[Variant(v)]
}

// AdviceData holds template data for advice prompts.
type AdviceData struct {
	Level          string
	LevelLabel     string
	CorrectAnswers int
	TotalQuestions int
	Language       string
}

// Load parses the advice templates from fsys. Only the first call does any
// work.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[Variant]*template.Template)
		for _, v := range []Variant{VariantBrief, VariantStandard, VariantDetailed} {
			file := "templates/advice_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(string(v)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[v] = tmpl
		}
	})
	return loadErr
}

// BuildAdvicePrompt renders the system prompt for a variant.
func BuildAdvicePrompt(variant Variant, data AdviceData) (string, error) {
	if templates == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	if data.Language == "" {
		data.Language = "English"
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
