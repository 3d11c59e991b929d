// Package system exposes the service's own operational metrics.
package system

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts API requests by handler and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitals",
		Name:      "http_requests_total",
		Help:      "API requests by handler and status code.",
	}, []string{"handler", "code"})

	// QueryDuration observes backend execution time of session
	// queries.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vitals",
		Name:      "query_duration_seconds",
		Help:      "Session query backend execution time.",
		Buckets:   prometheus.DefBuckets,
	})

	// TruncatedResults counts queries whose group set hit the row
	// budget.
	TruncatedResults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vitals",
		Name:      "query_truncated_total",
		Help:      "Queries with truncated group sets.",
	})

	// IngestedSessions counts accepted session envelopes.
	IngestedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vitals",
		Name:      "ingested_sessions_total",
		Help:      "Accepted session envelopes.",
	})

	// RejectedSessions counts envelopes dropped at ingest.
	RejectedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vitals",
		Name:      "rejected_sessions_total",
		Help:      "Session envelopes rejected at ingest.",
	})

	// AlertsFired counts alert rule activations.
	AlertsFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vitals",
		Name:      "alerts_fired_total",
		Help:      "Alert rule activations.",
	})
)
