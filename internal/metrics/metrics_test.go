package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Independent(t *testing.T) {
	a, b := New(), New()

	a.StreamChunksTotal.Add(3)
	a.TurnsPersistedTotal.WithLabelValues("complete").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(a.StreamChunksTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StreamChunksTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.TurnsPersistedTotal.WithLabelValues("complete")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()
	m.LLMRequestsTotal.WithLabelValues("stream", "ok").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `legalsathi_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, string(body), `legalsathi_llm_requests_total{mode="stream",outcome="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
