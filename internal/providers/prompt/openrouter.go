// Package prompt expands a short user phrase into a detailed image prompt
// using an OpenAI-compatible chat completion API.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"pixproxy/internal/domain"
	"pixproxy/internal/infra"
	"pixproxy/internal/providers/upstream"
)

// ProviderName is used in caller-facing messages.
const ProviderName = "OpenRouter"

const (
	DefaultBaseURL   = "https://openrouter.ai/api/v1"
	DefaultModel     = "openai/gpt-4o-mini"
	DefaultMaxTokens = 200
	DefaultReferer   = "http://localhost:3000"
	DefaultAppTitle  = "Image Generator App"

	defaultTimeout  = 30 * time.Second
	fallbackMessage = "Failed to generate prompt"
)

const systemPrompt = "You are a prompt engineer. Convert the user's text into a detailed, descriptive prompt for image generation. Make it vivid and detailed, suitable for creating high-quality images."

// Expander turns a short phrase into an image-generation prompt.
type Expander interface {
	Expand(ctx context.Context, text string) (string, error)
}

type refererKey struct{}

// WithReferer attaches the caller origin sent as HTTP-Referer upstream.
func WithReferer(ctx context.Context, origin string) context.Context {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ctx
	}
	return context.WithValue(ctx, refererKey{}, origin)
}

func refererFrom(ctx context.Context) string {
	v, _ := ctx.Value(refererKey{}).(string)
	return v
}

// Options configures the OpenRouter expander.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	Referer    string
	AppTitle   string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// OpenRouterExpander calls the OpenRouter chat completion endpoint.
type OpenRouterExpander struct {
	apiKey    string
	model     string
	maxTokens int
	client    *openai.Client
	logger    *infra.Logger
}

// NewOpenRouterExpander constructs an expander with defaults applied. A
// missing key is reported on Expand, not here.
func NewOpenRouterExpander(opts Options) *OpenRouterExpander {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	referer := strings.TrimSpace(opts.Referer)
	if referer == "" {
		referer = DefaultReferer
	}
	title := strings.TrimSpace(opts.AppTitle)
	if title == "" {
		title = DefaultAppTitle
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: defaultTimeout}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}

	apiKey := strings.TrimSpace(opts.APIKey)
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{
		Timeout: base.Timeout,
		Transport: &headerTransport{
			next:     transport,
			referer:  referer,
			appTitle: title,
		},
	}
	return &OpenRouterExpander{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		client:    openai.NewClientWithConfig(cfg),
		logger:    logger,
	}
}

// HasCredentials reports whether a key is configured.
func (e *OpenRouterExpander) HasCredentials() bool {
	return e != nil && e.apiKey != ""
}

// Expand requests a single completion and returns its trimmed content.
func (e *OpenRouterExpander) Expand(ctx context.Context, text string) (string, error) {
	if !e.HasCredentials() {
		return "", domain.Misconfigured("OpenRouter API key is not configured")
	}
	e.logger.Info().Str("component", "prompt").Str("text", domain.Preview(text, 100)).Str("model", e.model).Msg("prompt: expanding")

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Create a detailed image generation prompt for: \"%s\"", text)},
		},
	})
	if err != nil {
		derr := normalize(err)
		e.logger.Error().Str("component", "prompt").Err(err).Int("status", derr.Status()).Msg("prompt: expansion failed")
		return "", derr
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewError(domain.KindUpstreamError, http.StatusInternalServerError, "Invalid response from prompt generation service")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", domain.NewError(domain.KindUpstreamError, http.StatusInternalServerError, "Invalid response from prompt generation service")
	}
	e.logger.Info().Str("component", "prompt").Str("prompt", domain.Preview(out, 100)).Msg("prompt: expanded")
	return out, nil
}

func normalize(err error) *domain.Error {
	c := upstream.Context{Provider: ProviderName, Endpoint: "OpenRouter chat completions", Fallback: fallbackMessage}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return upstream.NormalizeMessage(apiErr.HTTPStatusCode, strings.TrimSpace(apiErr.Message), c)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return upstream.NormalizeMessage(reqErr.HTTPStatusCode, "", c)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.AsError(err)
	}
	return upstream.Unreachable(upstream.Context{Provider: ProviderName}, err)
}

// headerTransport adds the attribution headers OpenRouter expects.
type headerTransport struct {
	next     http.RoundTripper
	referer  string
	appTitle string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	referer := refererFrom(req.Context())
	if referer == "" {
		referer = t.referer
	}
	clone.Header.Set("HTTP-Referer", referer)
	clone.Header.Set("X-Title", t.appTitle)
	return t.next.RoundTrip(clone)
}
