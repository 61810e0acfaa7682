package image

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"pixproxy/internal/domain"
	"pixproxy/internal/infra"
	"pixproxy/internal/metrics"
	"pixproxy/internal/providers/huggingface"
	"pixproxy/internal/providers/upstream"
)

type inferenceClient interface {
	Infer(ctx context.Context, endpoint huggingface.Endpoint, prompt string) (*huggingface.Response, error)
}

// Statuses that are specific to one endpoint instance; the next candidate may
// not exhibit them.
var retryableStatuses = map[int]bool{
	http.StatusNotFound:           true,
	http.StatusGone:               true,
	http.StatusServiceUnavailable: true,
}

// AttemptOutcome is the result of trying one endpoint.
type AttemptOutcome struct {
	Endpoint    huggingface.Endpoint
	Status      int
	OK          bool
	Retryable   bool
	Body        []byte
	ContentType string
	Err         error
}

func (o AttemptOutcome) label() string {
	switch {
	case o.OK:
		return "ok"
	case o.Err != nil:
		return "transport"
	case o.Retryable:
		return "retryable"
	default:
		return "terminal"
	}
}

// CascadeOptions carries optional collaborators.
type CascadeOptions struct {
	Logger  *infra.Logger
	Metrics *metrics.Collector
}

// CascadeGenerator tries ranked endpoints of an immediate provider until one
// succeeds or fails terminally.
type CascadeGenerator struct {
	client    inferenceClient
	endpoints []huggingface.Endpoint
	logger    *infra.Logger
	metrics   *metrics.Collector
}

// NewCascadeGenerator fixes the rank order once; it is never changed at
// runtime.
func NewCascadeGenerator(client inferenceClient, endpoints []huggingface.Endpoint, opts CascadeOptions) *CascadeGenerator {
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &CascadeGenerator{
		client:    client,
		endpoints: huggingface.SortEndpoints(endpoints),
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

// Endpoints returns the candidates in the order they are tried.
func (g *CascadeGenerator) Endpoints() []huggingface.Endpoint {
	return append([]huggingface.Endpoint(nil), g.endpoints...)
}

// Generate returns the first successful body, the first terminal failure, or
// the last retryable failure once every candidate has been tried.
func (g *CascadeGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	var last *AttemptOutcome
	for _, endpoint := range g.endpoints {
		outcome := g.attempt(ctx, endpoint, prompt)
		if outcome.OK {
			g.logger.Info().Str("component", "cascade").Str("endpoint", endpoint.Name).Msg("cascade: success")
			return &Image{
				Data:        outcome.Body,
				ContentType: normalizeContentType(outcome.ContentType),
				Source:      endpoint.Name,
			}, nil
		}
		if errors.Is(outcome.Err, huggingface.ErrMissingAPIKey) {
			return nil, domain.Misconfigured("Hugging Face API key is not configured")
		}
		if !outcome.Retryable {
			g.logger.Warn().Str("component", "cascade").Str("endpoint", endpoint.Name).Int("status", outcome.Status).Msg("cascade: terminal failure, stopping")
			return nil, failure(outcome)
		}
		last = &outcome
		if err := ctx.Err(); err != nil {
			return nil, domain.AsError(err)
		}
		g.logger.Info().Str("component", "cascade").Str("endpoint", endpoint.Name).Int("status", outcome.Status).Err(outcome.Err).Msg("cascade: trying next endpoint")
	}
	if last == nil {
		return nil, upstream.Unreachable(upstream.Context{Provider: huggingface.ProviderName}, nil)
	}
	g.logger.Error().Str("component", "cascade").Str("endpoint", last.Endpoint.Name).Msg("cascade: all endpoints failed")
	return nil, failure(*last)
}

func (g *CascadeGenerator) attempt(ctx context.Context, endpoint huggingface.Endpoint, prompt string) AttemptOutcome {
	start := time.Now()
	resp, err := g.client.Infer(ctx, endpoint, prompt)
	outcome := classify(endpoint, resp, err)
	g.metrics.ObserveAttempt(string(ProviderImmediate), endpoint.Name, outcome.label(), time.Since(start))
	return outcome
}

func classify(endpoint huggingface.Endpoint, resp *huggingface.Response, err error) AttemptOutcome {
	outcome := AttemptOutcome{Endpoint: endpoint, Err: err}
	if err != nil || resp == nil {
		if outcome.Err == nil {
			outcome.Err = errors.New("huggingface: empty response")
		}
		outcome.Retryable = true
		return outcome
	}
	outcome.Status = resp.StatusCode
	outcome.Body = resp.Body
	outcome.ContentType = resp.ContentType
	outcome.OK = resp.OK()
	outcome.Retryable = !outcome.OK && retryableStatuses[resp.StatusCode]
	return outcome
}

func failure(outcome AttemptOutcome) *domain.Error {
	ctx := upstream.Context{Provider: huggingface.ProviderName, Endpoint: outcome.Endpoint.Name}
	if outcome.Err != nil {
		return upstream.Unreachable(ctx, outcome.Err)
	}
	return upstream.Normalize(outcome.Status, outcome.Body, ctx)
}
