package imagegen

import (
	"fmt"
	"net/http"

	"pixproxy/internal/infra"
	"pixproxy/internal/metrics"
	"pixproxy/internal/providers/huggingface"
	"pixproxy/internal/providers/image"
	"pixproxy/internal/providers/prompt"
	"pixproxy/internal/providers/replicate"
)

// Dependencies are the shared collaborators handed to every provider.
type Dependencies struct {
	Logger  *infra.Logger
	Metrics *metrics.Collector
	// HTTPClient overrides the per-provider clients; tests point it at fakes.
	HTTPClient *http.Client
}

// Endpoints returns the ranked immediate-provider endpoints for cfg.
func Endpoints(cfg *infra.Config) ([]huggingface.Endpoint, error) {
	if cfg.HuggingFaceEndpoints == "" {
		return huggingface.DefaultEndpoints(), nil
	}
	endpoints, err := huggingface.ParseEndpoints(cfg.HuggingFaceEndpoints)
	if err != nil {
		return nil, fmt.Errorf("imagegen: HUGGINGFACE_ENDPOINTS: %w", err)
	}
	return huggingface.SortEndpoints(endpoints), nil
}

// NewSelector builds the provider selector from configuration. Provider
// clients are constructed lazily, once per request, from the chosen key.
func NewSelector(cfg *infra.Config, deps Dependencies) (*image.Selector, error) {
	endpoints, err := Endpoints(cfg)
	if err != nil {
		return nil, err
	}
	policy := image.PollPolicy{Interval: cfg.ReplicatePollInterval, MaxAttempts: cfg.ReplicateMaxAttempts}

	factories := map[image.Provider]image.Factory{
		image.ProviderImmediate: func(apiKey string) image.Generator {
			client := huggingface.NewClient(huggingface.Options{
				APIKey:         apiKey,
				HTTPClient:     deps.HTTPClient,
				Logger:         deps.Logger,
				AttemptTimeout: cfg.HuggingFaceAttemptTimeout,
			})
			return image.NewCascadeGenerator(client, endpoints, image.CascadeOptions{
				Logger:  deps.Logger,
				Metrics: deps.Metrics,
			})
		},
		image.ProviderDeferred: func(apiKey string) image.Generator {
			client := replicate.NewClient(replicate.Options{
				APIKey:       apiKey,
				BaseURL:      cfg.ReplicateBaseURL,
				ModelVersion: cfg.ReplicateModelVersion,
				HTTPClient:   deps.HTTPClient,
				Logger:       deps.Logger,
			})
			return image.NewPollingGenerator(client, image.PollingOptions{
				Policy:  policy,
				Logger:  deps.Logger,
				Metrics: deps.Metrics,
			})
		},
	}
	creds := image.Credentials{
		HuggingFaceAPIKey: cfg.HuggingFaceAPIKey,
		ReplicateAPIKey:   cfg.ReplicateAPIKey,
	}
	return image.NewSelector(creds, factories, image.SelectorOptions{Logger: deps.Logger, Metrics: deps.Metrics}), nil
}

// NewExpander builds the OpenRouter prompt expander from configuration.
func NewExpander(cfg *infra.Config, deps Dependencies) *prompt.OpenRouterExpander {
	return prompt.NewOpenRouterExpander(prompt.Options{
		APIKey:     cfg.OpenRouterAPIKey,
		BaseURL:    cfg.OpenRouterBaseURL,
		Model:      cfg.PromptModel,
		MaxTokens:  cfg.PromptMaxTokens,
		Referer:    cfg.PromptReferer,
		AppTitle:   cfg.PromptAppTitle,
		HTTPClient: deps.HTTPClient,
		Logger:     deps.Logger,
	})
}

// NewServiceFromConfig wires the orchestrator with every configured provider.
func NewServiceFromConfig(cfg *infra.Config, deps Dependencies) (*Service, error) {
	selector, err := NewSelector(cfg, deps)
	if err != nil {
		return nil, err
	}
	return NewService(NewExpander(cfg, deps), selector, deps.Logger), nil
}
