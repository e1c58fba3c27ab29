package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics exposed via the default prometheus registry
var (
	// ClassificationsTotal counts classification results by category and method
	ClassificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costopt",
		Name:      "classifications_total",
		Help:      "Number of classification results produced",
	}, []string{"category", "method"})

	// DecisionsGenerated counts decisions produced by the rule engine, by action
	DecisionsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costopt",
		Name:      "decisions_generated_total",
		Help:      "Number of decisions generated by the rule engine",
	}, []string{"action"})

	// AnomaliesDetected counts flagged cost anomalies by severity band
	AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costopt",
		Name:      "anomalies_detected_total",
		Help:      "Number of cost anomalies detected",
	}, []string{"severity"})

	// WebhookAttempts counts individual webhook delivery attempts by outcome
	WebhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costopt",
		Name:      "webhook_attempts_total",
		Help:      "Number of webhook delivery attempts",
	}, []string{"outcome"})

	// WebhookDeliveryDuration observes wall-clock duration of webhook attempts
	WebhookDeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "costopt",
		Name:      "webhook_delivery_duration_seconds",
		Help:      "Duration of individual webhook delivery attempts",
		Buckets:   prometheus.DefBuckets,
	})

	// JobsProcessed counts background jobs by type and terminal status
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "costopt",
		Name:      "jobs_processed_total",
		Help:      "Number of background jobs processed",
	}, []string{"type", "status"})
)
