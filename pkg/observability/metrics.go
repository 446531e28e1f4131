// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the parley server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, path, and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "path"},
	)

	// StreamingConnections tracks the number of active streaming chat connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// GenerationsTotal counts generation calls by backend kind, model, and outcome.
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_generations_total",
			Help: "Backend generation calls",
		},
		[]string{"kind", "model", "status"},
	)

	// GenerationLatency records backend generation latency in seconds.
	GenerationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_generation_latency_seconds",
			Help:    "Backend generation latency",
			Buckets: LLMBuckets,
		},
		[]string{"kind", "model"},
	)

	// TokensTotal counts estimated tokens recorded on persisted messages.
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_tokens_total",
			Help: "Estimated token count",
		},
		[]string{"kind", "model"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		GenerationsTotal,
		GenerationLatency,
		TokensTotal,
	)
}
