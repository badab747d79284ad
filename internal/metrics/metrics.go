// Package metrics provides Prometheus metrics for menuboard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProvisionTotal counts EnsureTenantExists outcomes.
	ProvisionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "menuboard",
			Name:      "provision_total",
			Help:      "Total number of tenant provisioning attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ProvisionDuration measures EnsureTenantExists duration.
	ProvisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "menuboard",
			Name:      "provision_duration_seconds",
			Help:      "Duration of tenant provisioning in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// AvailabilityLookups counts availability lookups that reached the backend.
	AvailabilityLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "menuboard",
			Name:      "availability_lookups_total",
			Help:      "Total number of availability lookups by kind and result",
		},
		[]string{"kind", "result"},
	)

	// AuthAttempts counts sign-up, sign-in and password flow results.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "menuboard",
			Name:      "auth_attempts_total",
			Help:      "Total number of auth flow operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	// HTTPRequests counts HTTP requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "menuboard",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// ActiveContexts tracks client contexts held in memory.
	ActiveContexts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "menuboard",
			Name:      "client_contexts_active",
			Help:      "Number of client contexts held in memory",
		},
	)
)

// RecordProvision records an EnsureTenantExists outcome.
func RecordProvision(outcome string, duration float64) {
	ProvisionTotal.WithLabelValues(outcome).Inc()
	ProvisionDuration.Observe(duration)
}

// RecordAvailabilityLookup records a completed availability lookup.
func RecordAvailabilityLookup(kind, result string) {
	AvailabilityLookups.WithLabelValues(kind, result).Inc()
}

// RecordAuth records an auth flow operation.
func RecordAuth(operation, result string) {
	AuthAttempts.WithLabelValues(operation, result).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(method, route, status string) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
}
