// Package imagegen is the request orchestrator shared by the HTTP server and
// the CLI: it validates input and dispatches to the prompt expander and the
// image provider selector.
package imagegen

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"pixproxy/internal/domain"
	"pixproxy/internal/infra"
	"pixproxy/internal/providers/image"
	"pixproxy/internal/providers/prompt"
)

// PromptResult is returned by ExpandPrompt.
type PromptResult struct {
	Prompt string `json:"prompt"`
}

// Service validates requests and relays them to the configured providers.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	expander prompt.Expander
	images   image.Generator
	logger   *infra.Logger
}

// NewService wires an expander and an image generator. A nil logger discards.
func NewService(expander prompt.Expander, images image.Generator, logger *infra.Logger) *Service {
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Service{expander: expander, images: images, logger: logger}
}

// ExpandPrompt turns a short phrase into a detailed image prompt. Validation
// failures are returned before any upstream call.
func (s *Service) ExpandPrompt(ctx context.Context, req domain.PromptRequest) (*PromptResult, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if s.expander == nil {
		return nil, domain.Misconfigured("OpenRouter API key is not configured")
	}
	ctx = prompt.WithReferer(ctx, req.Origin)
	out, err := s.expander.Expand(ctx, req.Text)
	if err != nil {
		derr := domain.AsError(err)
		s.logger.Warn().Str("component", "orchestrator").Str("kind", string(derr.Kind)).Int("status", derr.Status()).Msg("prompt expansion failed")
		return nil, derr
	}
	return &PromptResult{Prompt: out}, nil
}

// GenerateImage produces exactly one of an image or a canonical error.
func (s *Service) GenerateImage(ctx context.Context, req domain.GenerationRequest) (*image.Image, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if s.images == nil {
		return nil, domain.Misconfigured("No image generation API key configured. Please set HUGGINGFACE_API_KEY or REPLICATE_API_KEY")
	}
	s.logger.Info().Str("component", "orchestrator").Str("prompt", domain.Preview(req.Prompt, 100)).Msg("generating image")

	img, err := s.images.Generate(ctx, req.Prompt)
	if err != nil {
		derr := domain.AsError(err)
		s.logger.Warn().Str("component", "orchestrator").Str("kind", string(derr.Kind)).Int("status", derr.Status()).Msg("image generation failed")
		return nil, derr
	}
	if img == nil || len(img.Data) == 0 {
		return nil, domain.WrapError(domain.KindUpstreamError, http.StatusInternalServerError, "Image generation returned an empty image", domain.ErrNoResult)
	}
	s.logger.Info().
		Str("component", "orchestrator").
		Str("provider", img.Provider).
		Str("source", img.Source).
		Int("bytes", len(img.Data)).
		Msg("image generated")
	return img, nil
}
