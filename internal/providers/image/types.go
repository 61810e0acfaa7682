package image

import (
	"context"
	"strings"
)

const defaultContentType = "image/png"

// Image is a finished artifact ready to be relayed to the caller.
type Image struct {
	Data        []byte
	ContentType string
	// Provider names the provider family that produced the image.
	Provider string
	// Source names the endpoint or job that produced the image.
	Source string
}

// Generator is the contract implemented by every image provider strategy.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}

func normalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return defaultContentType
	}
	return contentType
}
