// Package metrics provides Prometheus instrumentation for the hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsTotal counts caller-facing operations by final result.
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_calls_total",
			Help: "Caller-facing operations by capability and final outcome.",
		},
		[]string{"capability", "outcome"},
	)

	// AttemptsTotal counts individual call attempts by classified outcome.
	// Retries make this larger than hub_calls_total.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_call_attempts_total",
			Help: "Call attempts by capability and classified outcome.",
		},
		[]string{"capability", "outcome"},
	)

	// ProvisionLatency tracks how long the proxy takes to issue a credential.
	ProvisionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_provision_latency_seconds",
			Help:    "Latency of credential provisioning calls in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// CallLatency tracks end-to-end operation latency in seconds.
	CallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_call_latency_seconds",
			Help:    "End-to-end operation latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"capability", "outcome"},
	)

	// ReportsTotal counts outcome report deliveries.
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_outcome_reports_total",
			Help: "Outcome report deliveries to the token proxy by status.",
		},
		[]string{"status"}, // "delivered" or "error"
	)

	// ActiveCalls tracks the number of in-flight operations.
	ActiveCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_active_calls",
			Help: "Number of currently in-flight operations.",
		},
	)

	// StreamChunksTotal counts chat stream chunks delivered to callers.
	StreamChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_stream_chunks_total",
			Help: "Total chat stream chunks delivered to callers.",
		},
	)
)
