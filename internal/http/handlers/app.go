package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"pixproxy/internal/domain"
	"pixproxy/internal/imagegen"
	"pixproxy/internal/infra"
	"pixproxy/internal/middleware"
	"pixproxy/internal/providers/image"
)

const maxBodyBytes = 1 << 20

// Orchestrator is the request orchestrator contract the handlers depend on.
type Orchestrator interface {
	ExpandPrompt(ctx context.Context, req domain.PromptRequest) (*imagegen.PromptResult, error)
	GenerateImage(ctx context.Context, req domain.GenerationRequest) (*image.Image, error)
}

// App carries the collaborators shared by every handler.
type App struct {
	Service Orchestrator
	Logger  infra.Logger
}

// NewApp wires the handlers to an orchestrator. A nil logger discards.
func NewApp(service Orchestrator, logger *infra.Logger) *App {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &App{Service: service, Logger: l}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, err error) {
	derr := domain.AsError(err)
	ev := a.Logger.Warn()
	if derr.Status() >= http.StatusInternalServerError {
		ev = a.Logger.Error()
	}
	ev.Str("component", "http").
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("kind", string(derr.Kind)).
		Int("status", derr.Status()).
		Err(derr.Err).
		Msg(derr.Message)
	a.json(w, derr.Status(), errorResponse{Error: derr.Message, Kind: string(derr.Kind)})
}

// decode reads a JSON body of at most 1 MiB into v.
func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.NewError(domain.KindValidation, http.StatusRequestEntityTooLarge,
				"Request body exceeds "+strconv.Itoa(maxBodyBytes)+" bytes")
		}
		if errors.Is(err, io.EOF) {
			// An empty body decodes to the zero request; validation reports it.
			return nil
		}
		return domain.Validation("Invalid JSON body")
	}
	return nil
}
