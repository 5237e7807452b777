package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldatlas_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// GateDecisions counts request gate outcomes by the rule that fired
	// (locked|role_floor|login_required|allow).
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldatlas_gate_decisions_total",
			Help: "Total number of request gate decisions",
		},
		[]string{"rule"},
	)

	// TokenOperations counts token issue/consume calls by kind and outcome.
	TokenOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldatlas_token_operations_total",
			Help: "Total number of token issue and consume operations",
		},
		[]string{"kind", "op", "result"},
	)

	// AnalysisRequests counts land cover analysis proxy calls by outcome.
	AnalysisRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldatlas_analysis_requests_total",
			Help: "Total number of land cover analysis proxy requests",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldatlas_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
