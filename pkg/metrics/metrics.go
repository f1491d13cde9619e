package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// PermissionChecks counts permission evaluations and their outcome (allow|deny|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "result"},
	)

	// PendingRequests tracks the current depth of the approval queue.
	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backoffice_pending_requests",
			Help: "Number of permission requests awaiting a decision",
		},
	)

	// SweepRowsAffected counts rows touched by maintenance sweeps, by sweep name.
	SweepRowsAffected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_sweep_rows_total",
			Help: "Rows affected by maintenance sweeps",
		},
		[]string{"sweep"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backoffice_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
