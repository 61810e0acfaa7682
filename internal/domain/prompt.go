package domain

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PromptRequest carries the short user phrase to be expanded.
type PromptRequest struct {
	Text   string `json:"text"`
	Origin string `json:"-"`
}

// GenerationRequest carries one image-generation prompt.
type GenerationRequest struct {
	Prompt string `json:"prompt"`
}

// Normalize trims and NFC-normalizes the text. It returns a validation error
// when nothing remains.
func (r *PromptRequest) Normalize() error {
	r.Text = normalizeText(r.Text)
	if r.Text == "" {
		return Validation("Text is required")
	}
	return nil
}

// Normalize trims and NFC-normalizes the prompt. It returns a validation
// error when nothing remains.
func (r *GenerationRequest) Normalize() error {
	r.Prompt = normalizeText(r.Prompt)
	if r.Prompt == "" {
		return Validation("Prompt is required")
	}
	return nil
}

func normalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// Preview shortens s for log output.
func Preview(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
