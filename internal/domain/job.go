package domain

import (
	"fmt"
	"strings"
)

// JobStatus enumerates the lifecycle of a deferred-provider job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// ParseJobStatus maps a vendor status label onto the job lifecycle. Unknown
// intermediate labels count as processing.
func ParseJobStatus(label string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "succeeded", "successful", "completed":
		return JobStatusSucceeded
	case "failed", "canceled", "cancelled":
		return JobStatusFailed
	case "", "pending", "starting", "queued":
		return JobStatusPending
	default:
		return JobStatusProcessing
	}
}

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	default:
		return 2
	}
}

// Job tracks one deferred generation from submission to its terminal state.
type Job struct {
	ID        string
	Status    JobStatus
	OutputRef string
	Label     string
}

// NewJob starts a job in the pending state.
func NewJob(id string) *Job {
	return &Job{ID: id, Status: JobStatusPending}
}

// Advance applies an observed status. Transitions are monotonic: a terminal
// job rejects any change and a regression (processing back to pending) leaves
// the status untouched.
func (j *Job) Advance(next JobStatus) error {
	if j.Status.Terminal() {
		if next == j.Status {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	if next.rank() < j.Status.rank() {
		return nil
	}
	j.Status = next
	return nil
}
