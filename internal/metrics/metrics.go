package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one server instance.
//
// Each instance owns its registry, so tests can build as many as they like.
//
// Metrics:
//   - legalsathi_http_requests_total{method,route,status}
//   - legalsathi_http_request_duration_seconds{method,route}
//   - legalsathi_llm_requests_total{mode,outcome}
//   - legalsathi_llm_duration_seconds{mode}
//   - legalsathi_stream_chunks_total
//   - legalsathi_turns_persisted_total{status}
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LLMRequestsTotal *prometheus.CounterVec
	LLMDuration      *prometheus.HistogramVec

	StreamChunksTotal   prometheus.Counter
	TurnsPersistedTotal *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalsathi_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "legalsathi_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LLMRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalsathi_llm_requests_total",
				Help: "Total number of completion requests sent to the LLM",
			},
			[]string{"mode", "outcome"}, // mode: complete|stream, outcome: ok|error|aborted
		),
		LLMDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "legalsathi_llm_duration_seconds",
				Help:    "Duration of LLM completions in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"mode"},
		),
		StreamChunksTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "legalsathi_stream_chunks_total",
				Help: "Total number of streamed reply fragments",
			},
		),
		TurnsPersistedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalsathi_turns_persisted_total",
				Help: "Total number of conversation turns written to storage",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
