// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts jobs by final status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "jobs_total",
			Help:      "Total number of ingestion jobs by status",
		},
		[]string{"status"},
	)

	// ArticlesTotal counts writer outcomes per source.
	ArticlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "articles_total",
			Help:      "Articles handled by the writer by outcome",
		},
		[]string{"source", "outcome"},
	)

	// FetchErrorsTotal counts failed fetches by stage.
	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "fetch_errors_total",
			Help:      "Fetch failures by source and stage",
		},
		[]string{"source", "stage"},
	)

	// FetchDuration measures single HTTP fetches.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "newsdigest",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of discovery and article fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source", "stage"},
	)

	// WriterQueueDepth tracks buffered writer requests.
	WriterQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "newsdigest",
			Name:      "writer_queue_depth",
			Help:      "Requests waiting in the writer channel",
		},
	)

	// DigestItems observes the size of built digests.
	DigestItems = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "newsdigest",
			Name:      "digest_items",
			Help:      "Distribution of digest sizes",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		},
	)
)

// RecordArticle records a writer outcome (inserted, duplicate, refreshed, failed).
func RecordArticle(source, outcome string) {
	ArticlesTotal.WithLabelValues(source, outcome).Inc()
}

// RecordFetch records one fetch and its failure, if any.
func RecordFetch(source, stage string, seconds float64, failed bool) {
	FetchDuration.WithLabelValues(source, stage).Observe(seconds)
	if failed {
		FetchErrorsTotal.WithLabelValues(source, stage).Inc()
	}
}

// RecordJob records a job reaching a terminal status.
func RecordJob(status string) {
	JobsTotal.WithLabelValues(status).Inc()
}
