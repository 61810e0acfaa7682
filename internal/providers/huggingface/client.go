package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pixproxy/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("huggingface: api key is required")

// ProviderName is used in caller-facing messages.
const ProviderName = "Hugging Face"

const (
	defaultAttemptTimeout = 60 * time.Second
	maxResponseBytes      = 32 << 20
)

// Endpoint is one reachable instance of the inference API. Lower ranks are
// tried first.
type Endpoint struct {
	Name string
	URL  string
	Rank int
}

// DefaultEndpoints lists the known inference surfaces in preference order.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Rank: 1, Name: "Router API - SDXL", URL: "https://router.huggingface.co/hf-inference/models/stabilityai/stable-diffusion-xl-base-1.0"},
		{Rank: 2, Name: "Router API - SD v1.5", URL: "https://router.huggingface.co/hf-inference/models/runwayml/stable-diffusion-v1-5"},
		{Rank: 3, Name: "Router API - SD 2.1", URL: "https://router.huggingface.co/hf-inference/models/stabilityai/stable-diffusion-2-1"},
		{Rank: 4, Name: "Inference API - SDXL (fallback)", URL: "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0"},
		{Rank: 5, Name: "Inference API - SD v1.5 (fallback)", URL: "https://api-inference.huggingface.co/models/runwayml/stable-diffusion-v1-5"},
	}
}

// ParseEndpoints reads a "name=url,name=url" list. Ranks follow list order.
func ParseEndpoints(list string) ([]Endpoint, error) {
	var out []Endpoint
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		if !ok {
			url = name
			name = ""
		}
		name = strings.TrimSpace(name)
		url = strings.TrimSpace(url)
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, fmt.Errorf("huggingface: invalid endpoint url %q", url)
		}
		if name == "" {
			name = url
		}
		out = append(out, Endpoint{Name: name, URL: url, Rank: len(out) + 1})
	}
	if len(out) == 0 {
		return nil, errors.New("huggingface: no endpoints configured")
	}
	return out, nil
}

// SortEndpoints returns a rank-ordered copy of endpoints.
func SortEndpoints(endpoints []Endpoint) []Endpoint {
	out := append([]Endpoint(nil), endpoints...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Options configures the inference client.
type Options struct {
	APIKey         string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	AttemptTimeout time.Duration
}

// Client performs one synchronous text-to-image call per endpoint.
type Client struct {
	apiKey     string
	httpClient *http.Client
	logger     *infra.Logger
}

// Response is the raw result of one inference call that reached the server.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.AttemptTimeout
		if timeout <= 0 {
			timeout = defaultAttemptTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c != nil && c.apiKey != ""
}

// Infer posts the prompt to one endpoint. A non-nil error means no HTTP
// status was received; any received status, including failures, is returned
// as a Response.
func (c *Client) Infer(ctx context.Context, endpoint Endpoint, prompt string) (*Response, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	body, err := json.Marshal(inferenceRequest{Inputs: prompt})
	if err != nil {
		return nil, fmt.Errorf("huggingface: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("huggingface: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("huggingface: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("huggingface: read response: %w", err)
	}
	c.logger.Debug().
		Str("endpoint", endpoint.Name).
		Int("status", resp.StatusCode).
		Int("bytes", len(raw)).
		Msg("huggingface: inference response")
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        raw,
	}, nil
}
