package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.ObserveAttempt("huggingface", "SDXL", "retryable", 10*time.Millisecond)
	c.ObserveAttempt("huggingface", "SDXL", "retryable", 10*time.Millisecond)
	c.ObservePoll("processing")
	c.ObserveResult("replicate", "")
	c.ObserveHTTP(http.MethodPost, "/api/generate-image", 200, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.upstreamAttempts.WithLabelValues("huggingface", "SDXL", "retryable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobPolls.WithLabelValues("processing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.generationResults.WithLabelValues("replicate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/generate-image", "200")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveAttempt("p", "e", "ok", 0)
	c.ObservePoll("x")
	c.ObserveResult("p", "")
	c.ObserveHTTP("GET", "/", 200, 0)
	assert.Nil(t, c.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.ObservePoll("succeeded")
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `pixproxy_job_status_checks_total{status="succeeded"} 1`))
}
