// Package obs holds the Prometheus instrumentation for crawls, comp
// merges and agent jobs.
package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbfinder",
			Subsystem: "crawl",
			Name:      "fetches_total",
			Help:      "Total marketplace page fetches.",
		},
		[]string{"source", "result"},
	)
	itemsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbfinder",
			Subsystem: "crawl",
			Name:      "items_skipped_total",
			Help:      "Raw items dropped during parsing or validation.",
		},
		[]string{"source"},
	)
	listingsUpsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbfinder",
			Subsystem: "crawl",
			Name:      "listings_upserted_total",
			Help:      "Listings written to the store.",
		},
		[]string{"source"},
	)
	sourceSuspendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbfinder",
			Subsystem: "crawl",
			Name:      "source_suspended_total",
			Help:      "Circuit breaker suspensions per source.",
		},
		[]string{"source"},
	)
	crawlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arbfinder",
			Subsystem: "crawl",
			Name:      "source_duration_seconds",
			Help:      "Per-source crawl duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"source"},
	)

	compMergesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arbfinder",
			Subsystem: "comps",
			Name:      "merges_total",
			Help:      "Sold observations merged into comp aggregates.",
		},
	)
	opportunitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbfinder",
			Subsystem: "evaluate",
			Name:      "opportunities_total",
			Help:      "Evaluated listings by qualification outcome.",
		},
		[]string{"qualifies"},
	)

	agentJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbfinder",
			Subsystem: "agents",
			Name:      "jobs_total",
			Help:      "Agent job executions by type and result.",
		},
		[]string{"type", "result"},
	)
	agentJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arbfinder",
			Subsystem: "agents",
			Name:      "job_duration_seconds",
			Help:      "Agent job execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		fetchesTotal, itemsSkippedTotal, listingsUpsertedTotal,
		sourceSuspendedTotal, crawlDuration,
		compMergesTotal, opportunitiesTotal,
		agentJobsTotal, agentJobDuration,
	)
}

// RecordFetch counts one page fetch per source and outcome.
func RecordFetch(source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	fetchesTotal.WithLabelValues(source, result).Inc()
}

// RecordSkip counts a raw item dropped during parse or validation.
func RecordSkip(source string) {
	itemsSkippedTotal.WithLabelValues(source).Inc()
}

// RecordUpsert counts a listing written to the store.
func RecordUpsert(source string) {
	listingsUpsertedTotal.WithLabelValues(source).Inc()
}

// RecordSuspension counts a circuit-breaker trip for a source.
func RecordSuspension(source string) {
	sourceSuspendedTotal.WithLabelValues(source).Inc()
}

// RecordSourceDuration records how long one source's crawl took.
func RecordSourceDuration(source string, start time.Time) {
	crawlDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// RecordMerge counts one comp aggregate merge.
func RecordMerge() {
	compMergesTotal.Inc()
}

// RecordOpportunity counts one evaluated listing.
func RecordOpportunity(qualifies bool) {
	label := "false"
	if qualifies {
		label = "true"
	}
	opportunitiesTotal.WithLabelValues(label).Inc()
}

// RecordAgentJob records one agent job execution.
func RecordAgentJob(jobType string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	agentJobsTotal.WithLabelValues(jobType, result).Inc()
	agentJobDuration.WithLabelValues(jobType).Observe(time.Since(start).Seconds())
}
