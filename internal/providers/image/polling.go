package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pixproxy/internal/domain"
	"pixproxy/internal/infra"
	"pixproxy/internal/metrics"
	"pixproxy/internal/providers/replicate"
	"pixproxy/internal/providers/upstream"
)

type predictionClient interface {
	CreatePrediction(ctx context.Context, prompt string) (*replicate.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*replicate.Prediction, error)
	Download(ctx context.Context, ref string) (*replicate.Artifact, error)
}

// JobState is the exit-state enum of one deferred run.
type JobState int

const (
	JobSubmitting JobState = iota
	JobPending
	JobProcessing
	JobSucceeded
	JobFailed
	JobTimedOut
	JobSubmissionFailed
)

func (s JobState) String() string {
	switch s {
	case JobSubmitting:
		return "submitting"
	case JobPending:
		return "pending"
	case JobProcessing:
		return "processing"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobTimedOut:
		return "timed_out"
	case JobSubmissionFailed:
		return "submission_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run has finished.
func (s JobState) Terminal() bool {
	return s >= JobSucceeded
}

// PollPolicy bounds worst-case latency to Interval × MaxAttempts.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollPolicy checks once per second for up to a minute.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: time.Second, MaxAttempts: 60}
}

func (p PollPolicy) normalized() PollPolicy {
	def := DefaultPollPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	return p
}

// JobRun records how one deferred run ended. Exactly one of Image and Err is
// set once State is terminal.
type JobRun struct {
	State  JobState
	Job    *domain.Job
	Checks int
	Image  *Image
	Err    *domain.Error
}

func (r *JobRun) fail(state JobState, err *domain.Error) *JobRun {
	r.State = state
	r.Err = err
	return r
}

// PollingOptions carries optional collaborators.
type PollingOptions struct {
	Policy  PollPolicy
	Logger  *infra.Logger
	Metrics *metrics.Collector
	// Wait replaces the interval sleep; tests use it to avoid real delays.
	Wait func(ctx context.Context, d time.Duration) error
}

// PollingGenerator submits a job to a deferred provider and polls it on a
// fixed interval until it reaches a terminal state.
type PollingGenerator struct {
	client  predictionClient
	policy  PollPolicy
	wait    func(ctx context.Context, d time.Duration) error
	logger  *infra.Logger
	metrics *metrics.Collector
}

// NewPollingGenerator wires a prediction client with a polling policy.
func NewPollingGenerator(client predictionClient, opts PollingOptions) *PollingGenerator {
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	wait := opts.Wait
	if wait == nil {
		wait = sleepContext
	}
	return &PollingGenerator{
		client:  client,
		policy:  opts.Policy.normalized(),
		wait:    wait,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Generate fulfils the Generator interface.
func (g *PollingGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	run := g.Run(ctx, prompt)
	if run.Err != nil {
		return nil, run.Err
	}
	return run.Image, nil
}

// Run drives one job from submission to a terminal state. The job is
// abandoned upstream on timeout; no cancellation call is issued.
func (g *PollingGenerator) Run(ctx context.Context, prompt string) *JobRun {
	run := &JobRun{State: JobSubmitting}
	pred, err := g.client.CreatePrediction(ctx, prompt)
	if err != nil {
		g.logger.Error().Str("component", "replicate").Err(err).Msg("replicate: prediction creation failed")
		return run.fail(JobSubmissionFailed, normalizeDeferred(err, "Failed to submit image generation job"))
	}
	run.Job = domain.NewJob(pred.ID)
	run.State = JobPending
	g.logger.Info().Str("component", "replicate").Str("prediction_id", pred.ID).Msg("replicate: prediction created")

	for run.Checks < g.policy.MaxAttempts {
		if err := g.wait(ctx, g.policy.Interval); err != nil {
			return g.interrupted(run, err)
		}
		run.Checks++
		status, err := g.client.GetPrediction(ctx, run.Job.ID)
		if err != nil {
			g.logger.Error().Str("component", "replicate").Err(err).Int("attempt", run.Checks).Msg("replicate: status check failed")
			return run.fail(JobFailed, normalizeDeferred(err, "Failed to check prediction status"))
		}
		g.metrics.ObservePoll(status.Status)
		g.logger.Debug().Str("component", "replicate").Str("status", status.Status).Int("attempt", run.Checks).Msg("replicate: status")

		if err := run.Job.Advance(domain.ParseJobStatus(status.Status)); err != nil {
			return run.fail(JobFailed, domain.WrapError(domain.KindUpstreamError, http.StatusInternalServerError, "Replicate reported an inconsistent job status", err))
		}
		run.Job.Label = status.Status

		switch run.Job.Status {
		case domain.JobStatusSucceeded:
			run.State = JobSucceeded
			outputs := status.Outputs()
			if len(outputs) == 0 || strings.TrimSpace(outputs[0]) == "" {
				run.Err = domain.NewError(domain.KindUpstreamError, http.StatusInternalServerError, "Replicate returned no output for the prediction")
				return run
			}
			run.Job.OutputRef = outputs[0]
			return g.fetch(ctx, run)
		case domain.JobStatusFailed:
			return run.fail(JobFailed, failedJobError(status))
		case domain.JobStatusProcessing:
			run.State = JobProcessing
		}
	}

	g.logger.Warn().Str("component", "replicate").Str("prediction_id", run.Job.ID).Int("checks", run.Checks).Msg("replicate: polling budget exhausted")
	return run.fail(JobTimedOut, domain.NewError(domain.KindTimedOut, http.StatusGatewayTimeout,
		fmt.Sprintf("Image generation timed out after %d status checks", run.Checks)))
}

func (g *PollingGenerator) fetch(ctx context.Context, run *JobRun) *JobRun {
	g.logger.Info().Str("component", "replicate").Str("output", run.Job.OutputRef).Msg("replicate: fetching image")
	artifact, err := g.client.Download(ctx, run.Job.OutputRef)
	if err != nil {
		var statusErr *replicate.StatusError
		if errors.As(err, &statusErr) {
			run.Err = domain.WrapError(domain.KindUpstreamError, http.StatusInternalServerError,
				fmt.Sprintf("Failed to fetch generated image (status %d)", statusErr.StatusCode), err)
			return run
		}
		run.Err = normalizeDeferred(err, "Failed to fetch generated image")
		return run
	}
	run.Image = &Image{
		Data:        artifact.Data,
		ContentType: normalizeContentType(artifact.ContentType),
		Source:      run.Job.ID,
	}
	return run
}

func (g *PollingGenerator) interrupted(run *JobRun, err error) *JobRun {
	derr := domain.AsError(err)
	if derr.Kind == domain.KindTimedOut {
		return run.fail(JobTimedOut, derr)
	}
	return run.fail(JobFailed, derr)
}

func failedJobError(pred *replicate.Prediction) *domain.Error {
	msg := "Image generation failed on Replicate"
	if strings.EqualFold(pred.Status, "canceled") || strings.EqualFold(pred.Status, "cancelled") {
		msg = "Image generation was canceled on Replicate"
	}
	if detail := pred.ErrorMessage(); detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	return domain.NewError(domain.KindUpstreamError, http.StatusInternalServerError, msg)
}

func normalizeDeferred(err error, fallback string) *domain.Error {
	var statusErr *replicate.StatusError
	switch {
	case errors.As(err, &statusErr):
		return upstream.Normalize(statusErr.StatusCode, statusErr.Body, upstream.Context{
			Provider: replicate.ProviderName,
			Endpoint: "the Replicate predictions API",
			Fallback: fallback,
		})
	case errors.Is(err, replicate.ErrMissingAPIKey):
		return domain.Misconfigured("Replicate API key is not configured")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.AsError(err)
	default:
		return upstream.Unreachable(upstream.Context{Provider: replicate.ProviderName}, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
