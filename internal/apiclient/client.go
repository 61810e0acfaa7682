// Package apiclient talks to a running proxy over its public HTTP contract.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pixproxy/internal/domain"
	"pixproxy/internal/imagegen"
	"pixproxy/internal/providers/image"
)

const (
	defaultTimeout   = 150 * time.Second
	maxResponseBytes = 32 << 20
)

// ErrMissingBaseURL indicates that no proxy URL was configured.
var ErrMissingBaseURL = errors.New("apiclient: base url is required")

// Options configures the client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Origin     string
}

// Client implements the orchestrator contract against a remote proxy.
type Client struct {
	baseURL    string
	origin     string
	httpClient *http.Client
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: base, origin: strings.TrimSpace(opts.Origin), httpClient: httpClient}, nil
}

// ExpandPrompt calls POST /api/generate-prompt.
func (c *Client) ExpandPrompt(ctx context.Context, req domain.PromptRequest) (*imagegen.PromptResult, error) {
	resp, err := c.post(ctx, "/api/generate-prompt", map[string]string{"text": req.Text}, req.Origin)
	if err != nil {
		return nil, err
	}
	var out imagegen.PromptResult
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("apiclient: decode prompt response: %w", err)
	}
	return &out, nil
}

// GenerateImage calls POST /api/generate-image.
func (c *Client) GenerateImage(ctx context.Context, req domain.GenerationRequest) (*image.Image, error) {
	resp, err := c.post(ctx, "/api/generate-image", map[string]string{"prompt": req.Prompt}, "")
	if err != nil {
		return nil, err
	}
	if len(resp.body) == 0 {
		return nil, domain.WrapError(domain.KindUpstreamError, http.StatusInternalServerError, "Proxy returned an empty image", domain.ErrNoResult)
	}
	contentType := resp.contentType
	if contentType == "" {
		contentType = "image/png"
	}
	return &image.Image{
		Data:        resp.body,
		ContentType: contentType,
		Provider:    resp.provider,
		Source:      c.baseURL,
	}, nil
}

type rawResponse struct {
	body        []byte
	contentType string
	provider    string
}

func (c *Client) post(ctx context.Context, path string, payload any, origin string) (*rawResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("apiclient: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if origin == "" {
		origin = c.origin
	}
	if origin != "" {
		httpReq.Header.Set("Origin", origin)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, domain.AsError(err)
		}
		return nil, domain.WrapError(domain.KindUpstreamError, http.StatusBadGateway,
			fmt.Sprintf("Failed to connect to proxy at %s", c.baseURL), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("apiclient: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp.StatusCode, raw)
	}
	return &rawResponse{
		body:        raw,
		contentType: resp.Header.Get("Content-Type"),
		provider:    resp.Header.Get("X-Image-Provider"),
	}, nil
}

// decodeError rebuilds the canonical error from the proxy's error body.
func decodeError(status int, raw []byte) *domain.Error {
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	_ = json.Unmarshal(raw, &body)
	msg := strings.TrimSpace(body.Error)
	if msg == "" {
		msg = fmt.Sprintf("Proxy returned status %d", status)
	}
	kind := domain.ErrorKind(body.Kind)
	if kind == "" {
		kind = domain.KindUpstreamError
		if status == http.StatusBadRequest {
			kind = domain.KindValidation
		}
	}
	return domain.NewError(kind, status, msg)
}
