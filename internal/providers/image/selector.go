package image

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"pixproxy/internal/domain"
	"pixproxy/internal/infra"
	"pixproxy/internal/metrics"
)

// Provider identifies an image provider family.
type Provider string

const (
	// ProviderImmediate answers synchronously with image bytes.
	ProviderImmediate Provider = "huggingface"
	// ProviderDeferred accepts a job and is polled until it finishes.
	ProviderDeferred Provider = "replicate"
)

// PreferredProvider wins when both credentials are configured.
const PreferredProvider = ProviderImmediate

// Credentials lists the provider keys known to the process. Empty means
// unset.
type Credentials struct {
	HuggingFaceAPIKey string
	ReplicateAPIKey   string
}

func (c Credentials) key(p Provider) string {
	switch p {
	case ProviderImmediate:
		return strings.TrimSpace(c.HuggingFaceAPIKey)
	case ProviderDeferred:
		return strings.TrimSpace(c.ReplicateAPIKey)
	default:
		return ""
	}
}

// Select chooses exactly one provider for a request. It is a pure function of
// the credential set.
func Select(creds Credentials) (Provider, error) {
	order := []Provider{PreferredProvider}
	if PreferredProvider == ProviderImmediate {
		order = append(order, ProviderDeferred)
	} else {
		order = append(order, ProviderImmediate)
	}
	for _, p := range order {
		if creds.key(p) != "" {
			return p, nil
		}
	}
	return "", domain.Misconfigured("No image generation API key configured. Please set HUGGINGFACE_API_KEY or REPLICATE_API_KEY")
}

// Factory builds a generator for one provider from its API key.
type Factory func(apiKey string) Generator

// SelectorOptions carries optional collaborators.
type SelectorOptions struct {
	Logger  *infra.Logger
	Metrics *metrics.Collector
}

// Selector routes every request to the provider chosen by Select. Factories
// are only invoked once a provider has been chosen.
type Selector struct {
	creds     Credentials
	factories map[Provider]Factory
	logger    *infra.Logger
	metrics   *metrics.Collector
}

// NewSelector builds a selector. factories must cover every provider whose
// credential may be set.
func NewSelector(creds Credentials, factories map[Provider]Factory, opts SelectorOptions) *Selector {
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	copied := make(map[Provider]Factory, len(factories))
	for k, v := range factories {
		copied[k] = v
	}
	return &Selector{creds: creds, factories: copied, logger: logger, metrics: opts.Metrics}
}

// Plan reports which provider the next request would use.
func (s *Selector) Plan() (Provider, error) {
	return Select(s.creds)
}

// Generate selects a provider and delegates to it. No provider is contacted
// when no credential is configured.
func (s *Selector) Generate(ctx context.Context, prompt string) (*Image, error) {
	provider, err := Select(s.creds)
	if err != nil {
		s.metrics.ObserveResult("none", string(domain.KindOf(err)))
		return nil, err
	}
	factory, ok := s.factories[provider]
	if !ok || factory == nil {
		derr := domain.Misconfigured("No image generator registered for provider " + string(provider))
		s.metrics.ObserveResult(string(provider), string(derr.Kind))
		return nil, derr
	}
	s.logger.Info().Str("component", "selector").Str("provider", string(provider)).Msg("selector: provider chosen")

	img, err := factory(s.creds.key(provider)).Generate(ctx, prompt)
	if err != nil {
		derr := domain.AsError(err)
		s.metrics.ObserveResult(string(provider), string(derr.Kind))
		return nil, derr
	}
	if img == nil || len(img.Data) == 0 {
		derr := domain.WrapError(domain.KindUpstreamError, http.StatusInternalServerError, "Image generation returned an empty image", domain.ErrNoResult)
		s.metrics.ObserveResult(string(provider), string(derr.Kind))
		return nil, derr
	}
	img.Provider = string(provider)
	s.metrics.ObserveResult(string(provider), "")
	return img, nil
}
