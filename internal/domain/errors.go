package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure surfaced to callers.
type ErrorKind string

const (
	KindValidation             ErrorKind = "validation_error"
	KindMisconfigured          ErrorKind = "misconfigured"
	KindAuthFailure            ErrorKind = "auth_failure"
	KindEndpointGone           ErrorKind = "endpoint_gone"
	KindTemporarilyUnavailable ErrorKind = "temporarily_unavailable"
	KindNotFound               ErrorKind = "not_found"
	KindTimedOut               ErrorKind = "timed_out"
	KindUpstreamError          ErrorKind = "upstream_error"
)

var (
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrNoResult          = errors.New("generation produced no result")
)

// Error is the canonical failure value relayed to callers. It is never
// mutated after construction.
type Error struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Status returns the HTTP status relayed to the caller, defaulting to 500.
func (e *Error) Status() int {
	if e == nil || e.HTTPStatus < 400 || e.HTTPStatus > 599 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatus
}

// NewError builds a canonical error.
func NewError(kind ErrorKind, status int, message string) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: status}
}

// WrapError builds a canonical error that keeps cause for errors.Is/As.
func WrapError(kind ErrorKind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: status, Err: cause}
}

// Validation reports a caller-caused input problem.
func Validation(message string) *Error {
	return NewError(KindValidation, http.StatusBadRequest, message)
}

// Misconfigured reports a missing credential or unusable configuration.
func Misconfigured(message string) *Error {
	return NewError(KindMisconfigured, http.StatusInternalServerError, message)
}

// AsError converts any error into a canonical *Error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var derr *Error
	if errors.As(err, &derr) && derr != nil {
		return derr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(KindTimedOut, http.StatusGatewayTimeout, "The request timed out before the image was ready", err)
	case errors.Is(err, context.Canceled):
		return WrapError(KindUpstreamError, http.StatusInternalServerError, "The request was canceled", err)
	}
	msg := err.Error()
	if msg == "" {
		msg = "Failed to generate image"
	}
	return WrapError(KindUpstreamError, http.StatusInternalServerError, msg, err)
}

// KindOf returns the canonical kind of err, or "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}
