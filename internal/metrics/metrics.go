// Package metrics exposes Prometheus collectors for the link crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsSubmittedTotal         prometheus.Counter
	jobsFinalizedTotal         *prometheus.CounterVec
	claimConflictsTotal        prometheus.Counter
	activeWorkers              prometheus.Gauge
	pendingJobs                prometheus.Gauge
	pageFetchesTotal           *prometheus.CounterVec
	pageFetchDurationSeconds   *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		jobsSubmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkcrawler_jobs_submitted_total",
				Help: "Total number of crawl jobs accepted by the API or CLI.",
			},
		)

		jobsFinalizedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcrawler_jobs_finalized_total",
				Help: "Total number of jobs finalized, labeled by terminal status.",
			},
			[]string{"status"},
		)

		claimConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkcrawler_claim_conflicts_total",
				Help: "Total number of claim attempts that found the job missing or already claimed.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkcrawler_active_workers",
				Help: "Number of dispatcher slots currently executing a job.",
			},
		)

		pendingJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkcrawler_pending_jobs",
				Help: "Number of submitted job ids waiting for a free dispatcher slot.",
			},
		)

		pageFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcrawler_page_fetches_total",
				Help: "Total number of page fetches, labeled by crawl depth and outcome.",
			},
			[]string{"depth", "outcome"},
		)

		pageFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkcrawler_page_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by crawl depth.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"depth"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJobSubmitted increments the accepted job counter.
func ObserveJobSubmitted() {
	Init()
	jobsSubmittedTotal.Inc()
}

// ObserveJobFinalized increments the finalized job counter for the given status.
func ObserveJobFinalized(status string) {
	Init()
	jobsFinalizedTotal.WithLabelValues(status).Inc()
}

// ObserveClaimConflict counts a claim that lost to another worker or found no job.
func ObserveClaimConflict() {
	Init()
	claimConflictsTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetPendingJobs records the current dispatcher backlog.
func SetPendingJobs(n int) {
	Init()
	pendingJobs.Set(float64(n))
}

// ObservePageFetch records one page fetch at the given crawl depth.
func ObservePageFetch(depth int, outcome string, duration time.Duration) {
	Init()
	d := strconv.Itoa(depth)
	pageFetchesTotal.WithLabelValues(d, outcome).Inc()
	pageFetchDurationSeconds.WithLabelValues(d).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
