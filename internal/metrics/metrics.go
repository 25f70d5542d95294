// Package metrics provides Prometheus metrics for the closing checklist API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AccessAttemptsTotal tracks PIN submissions by outcome
	AccessAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "closingdocs",
			Subsystem: "access",
			Name:      "attempts_total",
			Help:      "Total number of access code submissions by outcome",
		},
		[]string{"outcome"},
	)

	// ChecklistGenerationsTotal tracks checklist ensure calls by outcome
	ChecklistGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "closingdocs",
			Subsystem: "checklist",
			Name:      "generations_total",
			Help:      "Total number of checklist generation calls by outcome",
		},
		[]string{"outcome"},
	)

	// ChecklistDefectsTotal tracks parties skipped because of bad data
	ChecklistDefectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "closingdocs",
			Subsystem: "checklist",
			Name:      "defects_total",
			Help:      "Total number of parties that could not produce documents",
		},
	)

	// FileMutationsTotal tracks uploads and deletes
	FileMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "closingdocs",
			Subsystem: "files",
			Name:      "mutations_total",
			Help:      "Total number of document file mutations by kind and status",
		},
		[]string{"kind", "status"},
	)

	// UploadBytes tracks the size of uploaded files
	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "closingdocs",
			Subsystem: "files",
			Name:      "upload_bytes",
			Help:      "Size of uploaded document files in bytes",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 4, 8),
		},
	)

	// HTTPRequestDuration tracks inbound request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "closingdocs",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	// SearchBackendAvailable reports whether Meilisearch answers health checks
	SearchBackendAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "closingdocs",
			Subsystem: "search",
			Name:      "meili_available",
			Help:      "1 when the Meilisearch backend is healthy, 0 when the Postgres fallback is used",
		},
	)
)

// Outcome label values shared by the counters above.
const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeGranted  = "granted"
	OutcomeAdmin    = "admin"
	OutcomeDenied   = "denied"
	OutcomeLocked   = "locked"
)
