package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixproxy/internal/domain"
	"pixproxy/internal/infra"
	"pixproxy/internal/providers/image"
)

type stubExpander struct {
	out   string
	err   error
	calls int
	texts []string
}

func (s *stubExpander) Expand(ctx context.Context, text string) (string, error) {
	s.calls++
	s.texts = append(s.texts, text)
	return s.out, s.err
}

type stubImages struct {
	img     *image.Image
	err     error
	calls   int
	prompts []string
}

func (s *stubImages) Generate(ctx context.Context, prompt string) (*image.Image, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)
	return s.img, s.err
}

func TestExpandPromptValidatesBeforeCalling(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		exp := &stubExpander{out: "unused"}
		svc := NewService(exp, &stubImages{}, nil)

		_, err := svc.ExpandPrompt(context.Background(), domain.PromptRequest{Text: text})
		derr := domain.AsError(err)
		require.NotNil(t, derr)
		assert.Equal(t, domain.KindValidation, derr.Kind)
		assert.Equal(t, http.StatusBadRequest, derr.Status())
		assert.Equal(t, "Text is required", derr.Message)
		assert.Zero(t, exp.calls)
	}
}

func TestExpandPromptPassesNormalizedText(t *testing.T) {
	exp := &stubExpander{out: "a detailed prompt"}
	svc := NewService(exp, nil, nil)

	res, err := svc.ExpandPrompt(context.Background(), domain.PromptRequest{Text: "  a cat  "})
	require.NoError(t, err)
	assert.Equal(t, "a detailed prompt", res.Prompt)
	assert.Equal(t, []string{"a cat"}, exp.texts)
}

func TestExpandPromptRelaysUpstreamError(t *testing.T) {
	want := domain.NewError(domain.KindAuthFailure, http.StatusUnauthorized, "denied")
	svc := NewService(&stubExpander{err: want}, nil, nil)

	_, err := svc.ExpandPrompt(context.Background(), domain.PromptRequest{Text: "x"})
	assert.Same(t, want, domain.AsError(err))
}

func TestGenerateImageValidatesBeforeCalling(t *testing.T) {
	images := &stubImages{}
	svc := NewService(nil, images, nil)

	_, err := svc.GenerateImage(context.Background(), domain.GenerationRequest{Prompt: "   "})
	derr := domain.AsError(err)
	assert.Equal(t, domain.KindValidation, derr.Kind)
	assert.Equal(t, "Prompt is required", derr.Message)
	assert.Zero(t, images.calls)
}

func TestGenerateImageReturnsImage(t *testing.T) {
	images := &stubImages{img: &image.Image{Data: []byte{0x89, 'P', 'N', 'G'}, ContentType: "image/png", Provider: "huggingface"}}
	svc := NewService(nil, images, nil)

	img, err := svc.GenerateImage(context.Background(), domain.GenerationRequest{Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, img.Data)
	assert.Equal(t, []string{"a cat"}, images.prompts)
}

func TestGenerateImageNeverReturnsEmptySuccess(t *testing.T) {
	svc := NewService(nil, &stubImages{}, nil)

	img, err := svc.GenerateImage(context.Background(), domain.GenerationRequest{Prompt: "a cat"})
	assert.Nil(t, img)
	assert.ErrorIs(t, err, domain.ErrNoResult)
}

func TestGenerateImageWithoutGenerator(t *testing.T) {
	svc := NewService(nil, nil, nil)
	_, err := svc.GenerateImage(context.Background(), domain.GenerationRequest{Prompt: "a cat"})
	assert.Equal(t, domain.KindMisconfigured, domain.KindOf(err))
}

func baseConfig() *infra.Config {
	return &infra.Config{
		AppEnv:                    "test",
		PromptMaxTokens:           200,
		HuggingFaceAttemptTimeout: 5 * time.Second,
		ReplicatePollInterval:     time.Millisecond,
		ReplicateMaxAttempts:      5,
	}
}

func TestServiceFromConfigImmediateProvider(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Bearer hf-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.HuggingFaceAPIKey = "hf-key"
	cfg.ReplicateAPIKey = "r8-key"
	cfg.HuggingFaceEndpoints = "fake=" + srv.URL + "/model"
	svc, err := NewServiceFromConfig(cfg, Dependencies{})
	require.NoError(t, err)

	img, err := svc.GenerateImage(context.Background(), domain.GenerationRequest{Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(img.Data))
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, string(image.ProviderImmediate), img.Provider)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestServiceFromConfigDeferredProvider(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token r8-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "abc", "status": "starting"})
	})
	mux.HandleFunc("/v1/predictions/abc", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		body := map[string]any{"id": "abc", "status": "processing"}
		if n >= 2 {
			body = map[string]any{"id": "abc", "status": "succeeded", "output": []string{srv.URL + "/out.png"}}
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/out.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("R8PNG"))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	cfg := baseConfig()
	cfg.ReplicateAPIKey = "r8-key"
	cfg.ReplicateBaseURL = srv.URL + "/v1"
	svc, err := NewServiceFromConfig(cfg, Dependencies{})
	require.NoError(t, err)

	img, err := svc.GenerateImage(context.Background(), domain.GenerationRequest{Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, "R8PNG", string(img.Data))
	assert.Equal(t, string(image.ProviderDeferred), img.Provider)
	assert.EqualValues(t, 2, atomic.LoadInt32(&polls))
}

func TestServiceFromConfigWithoutCredentials(t *testing.T) {
	svc, err := NewServiceFromConfig(baseConfig(), Dependencies{})
	require.NoError(t, err)

	_, err = svc.GenerateImage(context.Background(), domain.GenerationRequest{Prompt: "a cat"})
	derr := domain.AsError(err)
	assert.Equal(t, domain.KindMisconfigured, derr.Kind)
	assert.Equal(t, http.StatusInternalServerError, derr.Status())

	_, err = svc.ExpandPrompt(context.Background(), domain.PromptRequest{Text: "a cat"})
	assert.Equal(t, domain.KindMisconfigured, domain.KindOf(err))
}

func TestServiceFromConfigRejectsBadEndpoints(t *testing.T) {
	cfg := baseConfig()
	cfg.HuggingFaceEndpoints = "broken=ftp://nope"
	_, err := NewServiceFromConfig(cfg, Dependencies{})
	assert.Error(t, err)
}
