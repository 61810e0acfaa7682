// Package upstream turns heterogeneous provider failures into canonical
// domain errors. It is the only place status-code-to-message mapping lives.
package upstream

import (
	"fmt"
	"net/http"

	"pixproxy/internal/domain"
)

const defaultFallbackMessage = "Failed to generate image"

// Context names the provider and endpoint involved in a failure so messages
// can point the caller at the right credential or model.
type Context struct {
	Provider string
	Endpoint string
	// Fallback is used when the body carries no usable message.
	Fallback string
}

func (c Context) provider() string {
	if c.Provider == "" {
		return "upstream"
	}
	return c.Provider
}

func (c Context) endpoint() string {
	if c.Endpoint == "" {
		return "the endpoint"
	}
	return c.Endpoint
}

func (c Context) fallback() string {
	if c.Fallback == "" {
		return defaultFallbackMessage
	}
	return c.Fallback
}

// Normalize maps a raw upstream status and body into a canonical error. It
// never fails.
func Normalize(status int, body []byte, c Context) *domain.Error {
	return NormalizeMessage(status, ExtractMessage(body, c.fallback()), c)
}

// NormalizeMessage applies the status policy to an already extracted detail
// message. The detail is only used for the catch-all kind.
func NormalizeMessage(status int, detail string, c Context) *domain.Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewError(domain.KindAuthFailure, status, fmt.Sprintf(
			"Authentication failed (%s). Please verify your %s API key is correct and restart the server.",
			c.endpoint(), c.provider()))
	case status == http.StatusGone:
		return domain.NewError(domain.KindEndpointGone, status, fmt.Sprintf(
			"The API endpoint is no longer available (410 Gone). The %s endpoint may have been deprecated or changed.",
			c.provider()))
	case status == http.StatusServiceUnavailable:
		return domain.NewError(domain.KindTemporarilyUnavailable, status, fmt.Sprintf(
			"Model is loading on %s. Please wait a moment and try again.", c.endpoint()))
	case status == http.StatusNotFound:
		return domain.NewError(domain.KindNotFound, status, fmt.Sprintf(
			"Model not found on %s. The model may not be available or the endpoint URL is incorrect.", c.endpoint()))
	}
	if detail == "" {
		detail = c.fallback()
	}
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	return domain.NewError(domain.KindUpstreamError, status, detail)
}

// Unreachable reports a transport failure where no status was received.
func Unreachable(c Context, cause error) *domain.Error {
	msg := fmt.Sprintf("Failed to connect to %s API", c.provider())
	if c.Endpoint != "" {
		msg = fmt.Sprintf("%s (%s)", msg, c.Endpoint)
	}
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return domain.WrapError(domain.KindUpstreamError, http.StatusBadGateway, msg, cause)
}
