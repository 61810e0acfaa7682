package handlers

import (
	"net/http"
	"strconv"

	"pixproxy/internal/domain"
)

// GeneratePrompt handles POST /api/generate-prompt.
func (a *App) GeneratePrompt(w http.ResponseWriter, r *http.Request) {
	var req domain.PromptRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, r, err)
		return
	}
	req.Origin = r.Header.Get("Origin")
	res, err := a.Service.ExpandPrompt(r.Context(), req)
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

// GenerateImage handles POST /api/generate-image. The success body is the raw
// image with the provider's content type.
func (a *App) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerationRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, r, err)
		return
	}
	img, err := a.Service.GenerateImage(r.Context(), req)
	if err != nil {
		a.error(w, r, err)
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	if img.Provider != "" {
		w.Header().Set("X-Image-Provider", img.Provider)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		a.Logger.Warn().Str("component", "http").Err(err).Msg("failed to write image body")
	}
}
