// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetcal",
			Name:      "fetch_total",
			Help:      "Calendar source fetch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "meetcal",
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of a single source fetch and parse.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetcal",
			Name:      "cache_requests_total",
			Help:      "Availability cache lookups by result (hit, miss, shared, degraded).",
		},
		[]string{"result"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meetcal",
			Name:      "cache_entries",
			Help:      "Entries currently held by the in-memory availability cache.",
		},
	)
)
