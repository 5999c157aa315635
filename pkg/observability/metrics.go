// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the wisp server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wisp_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wisp_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wisp_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// RunsTotal counts orchestration runs by final outcome.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wisp_runs_total",
			Help: "Orchestration runs",
		},
		[]string{"status"},
	)

	// RunIterations records the number of model requests a single run needed.
	RunIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wisp_run_iterations",
			Help:    "Model requests per run",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	// ProviderRequestsTotal counts requests sent to backend LLM providers.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wisp_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records backend provider latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wisp_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wisp_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// CapabilityExecutionsTotal counts capability executions by name and outcome.
	CapabilityExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wisp_capability_executions_total",
			Help: "Capability executions",
		},
		[]string{"capability", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		RunsTotal,
		RunIterations,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		CapabilityExecutionsTotal,
	)
}
