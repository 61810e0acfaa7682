package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pixproxy/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("replicate: api key is required")

// ProviderName is used in caller-facing messages.
const ProviderName = "Replicate"

// DefaultModelVersion pins stable-diffusion 2.1.
const DefaultModelVersion = "db21e45d3f7023abc2a46ee38a23973f6dce16bb082a930b0c49861f96d1e5bf"

const (
	defaultBaseURL   = "https://api.replicate.com/v1"
	defaultTimeout   = 30 * time.Second
	maxArtifactBytes = 32 << 20
	maxJSONBytes     = 1 << 20
)

// Fixed generation parameters; they are not caller configurable.
const (
	numOutputs        = 1
	numInferenceSteps = 50
	guidanceScale     = 7.5
	imageWidth        = 512
	imageHeight       = 512
)

// StatusError reports a non-2xx answer from the prediction API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("replicate: %s: status %d", e.Op, e.StatusCode)
}

// Options configures the prediction client.
type Options struct {
	APIKey       string
	BaseURL      string
	ModelVersion string
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// Client speaks the asynchronous predictions API.
type Client struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
	logger     *infra.Logger
}

// Prediction is the subset of the prediction payload the state machine needs.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// Outputs returns the artifact references, accepting either a list of URLs
// or a single URL.
func (p *Prediction) Outputs() []string {
	if p == nil || len(p.Output) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

// ErrorMessage returns the vendor failure detail, if any.
func (p *Prediction) ErrorMessage() string {
	if p == nil || len(p.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// Artifact is a downloaded prediction output.
type Artifact struct {
	Data        []byte
	ContentType string
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Prompt            string  `json:"prompt"`
	NumOutputs        int     `json:"num_outputs"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := strings.TrimSpace(opts.ModelVersion)
	if version == "" {
		version = DefaultModelVersion
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		version:    version,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c != nil && c.apiKey != ""
}

// CreatePrediction submits a generation job.
func (c *Client) CreatePrediction(ctx context.Context, prompt string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	payload := predictionRequest{
		Version: c.version,
		Input: predictionInput{
			Prompt:            prompt,
			NumOutputs:        numOutputs,
			NumInferenceSteps: numInferenceSteps,
			GuidanceScale:     guidanceScale,
			Width:             imageWidth,
			Height:            imageHeight,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	pred, err := c.doPrediction(httpReq, "create prediction")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(pred.ID) == "" {
		return nil, errors.New("replicate: prediction id missing from response")
	}
	c.logger.Debug().Str("prediction_id", pred.ID).Msg("replicate: prediction created")
	return pred, nil
}

// GetPrediction fetches the current state of a job.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	endpoint := c.baseURL + "/predictions/" + url.PathEscape(id)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	c.authorize(httpReq)
	return c.doPrediction(httpReq, "get prediction")
}

// Download fetches a produced artifact. Output URLs are pre-signed, so no
// credential is attached.
func (c *Client) Download(ctx context.Context, ref string) (*Artifact, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("replicate: invalid output url: %s", ref)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replicate: download output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxJSONBytes))
		return nil, &StatusError{Op: "download output", StatusCode: resp.StatusCode, Body: raw}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes))
	if err != nil {
		return nil, fmt.Errorf("replicate: read output: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return &Artifact{Data: data, ContentType: contentType}, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Token "+c.apiKey)
}

func (c *Client) doPrediction(req *http.Request, op string) (*Prediction, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate: %s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBytes))
	if err != nil {
		return nil, fmt.Errorf("replicate: %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: raw}
	}
	var pred Prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, fmt.Errorf("replicate: %s: decode response: %w", op, err)
	}
	return &pred, nil
}
