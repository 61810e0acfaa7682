package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixproxy/internal/http/handlers"
	"pixproxy/internal/imagegen"
	"pixproxy/internal/infra"
	"pixproxy/internal/metrics"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 1, 2, 3}

type countingTransport struct {
	calls int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.next.RoundTrip(r)
}

func newTestServer(t *testing.T, cfg *infra.Config) (*httptest.Server, *countingTransport) {
	t.Helper()
	transport := &countingTransport{next: http.DefaultTransport}
	deps := imagegen.Dependencies{HTTPClient: &http.Client{Transport: transport, Timeout: 5 * time.Second}}
	svc, err := imagegen.NewServiceFromConfig(cfg, deps)
	require.NoError(t, err)

	app := handlers.NewApp(svc, nil)
	router := NewRouter(app, Options{
		Logger:          zerolog.Nop(),
		Metrics:         metrics.NewCollector(),
		AllowedOrigins:  []string{"*"},
		RateLimitPerMin: 100,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, transport
}

func testConfig() *infra.Config {
	return &infra.Config{
		AppEnv:                    "test",
		HuggingFaceAttemptTimeout: 5 * time.Second,
		ReplicatePollInterval:     time.Millisecond,
		ReplicateMaxAttempts:      3,
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestScenarioExpandThenGenerate(t *testing.T) {
	openrouter := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "https://app.example", r.Header.Get("HTTP-Referer"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"A tabby cat perched on a tiled rooftop at dusk"}}]}`)
	}))
	defer openrouter.Close()

	var hfCalls int32
	hf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hfCalls, 1)
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		assert.Equal(t, "A tabby cat perched on a tiled rooftop at dusk", payload["inputs"])
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer hf.Close()

	cfg := testConfig()
	cfg.OpenRouterAPIKey = "or-key"
	cfg.OpenRouterBaseURL = openrouter.URL + "/api/v1"
	cfg.HuggingFaceAPIKey = "hf-key"
	cfg.HuggingFaceEndpoints = "primary=" + hf.URL + "/sdxl,secondary=" + hf.URL + "/sd15"
	srv, _ := newTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/generate-prompt", strings.NewReader(`{"text":"a cat on a rooftop at dusk"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var expanded struct {
		Prompt string `json:"prompt"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&expanded))
	require.NotEmpty(t, expanded.Prompt)

	body, _ := json.Marshal(map[string]string{"prompt": expanded.Prompt})
	imgResp := postJSON(t, srv.URL+"/api/generate-image", string(body))
	require.Equal(t, http.StatusOK, imgResp.StatusCode)
	assert.Equal(t, "image/png", imgResp.Header.Get("Content-Type"))
	got, err := io.ReadAll(imgResp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pngBytes, got))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hfCalls))
}

func TestScenarioEmptyText(t *testing.T) {
	srv, transport := newTestServer(t, testConfig())

	resp := postJSON(t, srv.URL+"/api/generate-prompt", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Text is required", decodeError(t, resp)["error"])
	assert.Zero(t, atomic.LoadInt32(&transport.calls))
}

func TestScenarioNoImageCredentials(t *testing.T) {
	srv, transport := newTestServer(t, testConfig())

	resp := postJSON(t, srv.URL+"/api/generate-image", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Contains(t, body["error"], "API key")
	assert.Equal(t, "misconfigured", body["kind"])
	assert.Zero(t, atomic.LoadInt32(&transport.calls))
}

func TestGenerateImageRelaysUpstreamStatus(t *testing.T) {
	hf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"Invalid token"}`)
	}))
	defer hf.Close()

	cfg := testConfig()
	cfg.HuggingFaceAPIKey = "bad"
	cfg.HuggingFaceEndpoints = "only=" + hf.URL
	srv, _ := newTestServer(t, cfg)

	resp := postJSON(t, srv.URL+"/api/generate-image", `{"prompt":"a cat"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, "auth_failure", body["kind"])
	assert.Contains(t, body["error"], "Hugging Face API key")
}

func TestGenerateImageRejectsInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	resp := postJSON(t, srv.URL+"/api/generate-image", `{"prompt":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid JSON body", decodeError(t, resp)["error"])
}

func TestGenerateImageWhitespacePrompt(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	resp := postJSON(t, srv.URL+"/api/generate-image", `{"prompt":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Prompt is required", decodeError(t, resp)["error"])
}

func TestMethodHandling(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	resp, err := http.Get(srv.URL + "/api/generate-image")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "Method not allowed", decodeError(t, resp)["error"])

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/generate-prompt", nil)
	req.Header.Set("Origin", "https://app.example")
	preflight, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer preflight.Body.Close()
	assert.Equal(t, http.StatusOK, preflight.StatusCode)
	assert.Equal(t, "*", preflight.Header.Get("Access-Control-Allow-Origin"))
}

func TestAuxiliaryRoutes(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	resp, err := http.Get(srv.URL + "/api/test")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var msg map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, "Server is running!", msg["message"])

	health, err := http.Get(srv.URL + "/v1/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	missing, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, "Route not found: GET /nope", decodeError(t, missing)["error"])

	m, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer m.Body.Close()
	text, _ := io.ReadAll(m.Body)
	assert.Contains(t, string(text), "pixproxy_http_requests_total")
}
