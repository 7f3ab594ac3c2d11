// Package metrics declares the Prometheus collectors shared across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recommendations
	RecommendationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsense_recommendation_results_total",
		Help: "Recommendation results by source (remote, local, local_fallback, empty)",
	}, []string{"source", "mode"})

	// Remote collaborators
	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopsense_remote_request_duration_seconds",
		Help:    "Latency of calls to remote collaborators",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "outcome"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shopsense_circuit_breaker_state",
		Help: "Circuit breaker state (0 = closed, 1 = half-open, 2 = open)",
	}, []string{"endpoint"})

	// Event tracking
	TrackedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsense_tracked_events_total",
		Help: "Tracked interaction events by type and outcome",
	}, []string{"event_type", "status"})

	SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsense_event_sink_failures_total",
		Help: "Interaction deliveries that failed, by sink",
	}, []string{"sink"})

	// Storage and sessions
	StorageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsense_storage_failures_total",
		Help: "Durable storage operations that degraded to defaults",
	}, []string{"operation", "reason"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shopsense_active_sessions",
		Help: "Visitor sessions currently held in memory",
	})
)
