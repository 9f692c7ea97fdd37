// Package metrics exposes Prometheus collectors for the payment engine.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GatewayRequests counts outbound gateway calls by endpoint kind and outcome.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketing",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Outbound payment gateway requests.",
	}, []string{"call", "ok"})

	// GatewayLatency observes outbound gateway call latency.
	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ticketing",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Outbound payment gateway request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"call"})

	// Reconciliations counts reconciliation passes by source and resolved flow.
	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketing",
		Subsystem: "payments",
		Name:      "reconciliations_total",
		Help:      "Reconciliation passes by source and resolved flow.",
	}, []string{"source", "flow"})

	// Transitions counts applied payment status transitions.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketing",
		Subsystem: "payments",
		Name:      "transitions_total",
		Help:      "Applied payment status transitions.",
	}, []string{"from", "to"})

	// HashFailures counts gateway payloads rejected for a bad signature.
	HashFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketing",
		Subsystem: "payments",
		Name:      "hash_failures_total",
		Help:      "Gateway payloads failing hash verification.",
	}, []string{"source"})

	// Notifications counts payment events handed to notifiers.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketing",
		Subsystem: "payments",
		Name:      "notifications_total",
		Help:      "Payment notifications by type and delivery result.",
	}, []string{"type", "result"})

	// SyncBatches counts pending sync sub-request batches by outcome.
	SyncBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ticketing",
		Subsystem: "sync",
		Name:      "batches_total",
		Help:      "Pending sync batches by outcome.",
	}, []string{"ok"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// BoolLabel renders a bool as a label value.
func BoolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
