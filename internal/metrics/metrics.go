// Package metrics exposes Prometheus collectors for the crawl service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal   *prometheus.CounterVec
	fetchSuccessTotal    *prometheus.CounterVec
	dedupDecisionsTotal  *prometheus.CounterVec
	postingsTotal        *prometheus.CounterVec
	crawlJobsTotal       *prometheus.CounterVec
	crawlDurationSeconds *prometheus.HistogramVec
	activeCrawls         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobradar_fetch_attempts_total",
				Help: "Fetch strategy attempts, labeled by strategy.",
			},
			[]string{"strategy"},
		)

		fetchSuccessTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobradar_fetch_success_total",
				Help: "Fetch strategy successes, labeled by strategy.",
			},
			[]string{"strategy"},
		)

		dedupDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobradar_dedup_decisions_total",
				Help: "Deduplication decisions, labeled by outcome (new or the detection method).",
			},
			[]string{"outcome"},
		)

		postingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobradar_postings_total",
				Help: "Postings processed, labeled by source and result (added, duplicate, dropped).",
			},
			[]string{"source", "result"},
		)

		crawlJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobradar_crawl_jobs_total",
				Help: "Crawl jobs finished, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobradar_crawl_duration_seconds",
				Help:    "Wall time per crawl job, labeled by source.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"source"},
		)

		activeCrawls = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobradar_active_crawls",
				Help: "Number of crawl jobs currently running.",
			},
		)
	})
}

// ObserveFetchAttempt counts one strategy attempt.
func ObserveFetchAttempt(strategy string) {
	if fetchAttemptsTotal != nil {
		fetchAttemptsTotal.WithLabelValues(strategy).Inc()
	}
}

// ObserveFetchSuccess counts one winning strategy.
func ObserveFetchSuccess(strategy string) {
	if fetchSuccessTotal != nil {
		fetchSuccessTotal.WithLabelValues(strategy).Inc()
	}
}

// ObserveDedupDecision counts one dedup outcome ("new" or a detection method).
func ObserveDedupDecision(outcome string) {
	if dedupDecisionsTotal != nil {
		dedupDecisionsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObservePosting counts one processed posting for a source.
func ObservePosting(source, result string) {
	if postingsTotal != nil {
		postingsTotal.WithLabelValues(source, result).Inc()
	}
}

// ObserveCrawlJob records a finished crawl job.
func ObserveCrawlJob(source, status string, dur time.Duration) {
	if crawlJobsTotal != nil {
		crawlJobsTotal.WithLabelValues(source, status).Inc()
	}
	if crawlDurationSeconds != nil {
		crawlDurationSeconds.WithLabelValues(source).Observe(dur.Seconds())
	}
}

// CrawlStarted bumps the active-crawl gauge.
func CrawlStarted() {
	if activeCrawls != nil {
		activeCrawls.Inc()
	}
}

// CrawlFinished drops the active-crawl gauge.
func CrawlFinished() {
	if activeCrawls != nil {
		activeCrawls.Dec()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
