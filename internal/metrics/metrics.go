// Package metrics provides Prometheus metrics for contactlink.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Identify outcomes.
const (
	OutcomeCreated     = "created"
	OutcomeLinked      = "linked"
	OutcomeMerged      = "merged"
	OutcomeMatched     = "matched"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

var (
	// IdentifyRequestsTotal counts Identify calls by outcome.
	IdentifyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contactlink",
			Subsystem: "identify",
			Name:      "requests_total",
			Help:      "Total number of identify calls by outcome",
		},
		[]string{"outcome"},
	)

	// IdentifyDuration tracks Identify latency including retries.
	IdentifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contactlink",
			Subsystem: "identify",
			Name:      "duration_seconds",
			Help:      "Duration of identify calls in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"outcome"},
	)

	// IdentifyRetriesTotal counts attempts restarted after a store conflict.
	IdentifyRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "contactlink",
			Subsystem: "identify",
			Name:      "retries_total",
			Help:      "Total number of identify attempts retried after a store conflict",
		},
	)

	// ClustersMergedTotal counts demoted primaries.
	ClustersMergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "contactlink",
			Subsystem: "cluster",
			Name:      "merged_total",
			Help:      "Total number of primary contacts demoted by a merge",
		},
	)

	// ContactsCreatedTotal counts inserted contacts by link precedence.
	ContactsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contactlink",
			Subsystem: "contact",
			Name:      "created_total",
			Help:      "Total number of contacts created by link precedence",
		},
		[]string{"link_precedence"},
	)
)
