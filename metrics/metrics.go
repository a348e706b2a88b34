// Package metrics holds the Prometheus collectors of the registry and the
// server that exposes them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ruteri/certificate-registry/interfaces"
)

var (
	// RegistryOperations counts registry operations by outcome, the
	// interfaces.ErrorCode of the returned error ("ok" on success).
	RegistryOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certificate_registry_operations_total",
		Help: "Registry operations by operation and outcome",
	}, []string{"operation", "outcome"})

	RegistryOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "certificate_registry_operation_duration_seconds",
		Help:    "Registry operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certificate_registry_events_published_total",
		Help: "Registry events handed to a sink, by sink and outcome",
	}, []string{"sink", "outcome"})

	DocumentBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "certificate_registry_document_bytes",
		Help:    "Size of uploaded certificate documents",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})

	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certificate_registry_auth_failures_total",
		Help: "Rejected signed requests by reason",
	}, []string{"reason"})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "certificate_registry_build_info",
		Help: "Service name and version",
	}, []string{"service", "version"})
)

// ObserveOperation records the outcome and latency of one registry operation.
func ObserveOperation(operation string, start time.Time, err error) {
	RegistryOperations.WithLabelValues(operation, interfaces.ErrorCode(err)).Inc()
	RegistryOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
