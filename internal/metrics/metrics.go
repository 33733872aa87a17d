// Package metrics exposes Prometheus collectors for the indexer service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sitemapFetchesTotal        *prometheus.CounterVec
	sitemapURLsDiscoveredTotal *prometheus.CounterVec
	indexingSubmissionsTotal   *prometheus.CounterVec
	workflowStepsTotal         *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sitemapFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_sitemap_fetches_total",
				Help: "Total number of sitemap documents fetched, labeled by host and outcome.",
			},
			[]string{"site", "outcome"},
		)

		sitemapURLsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_sitemap_urls_discovered_total",
				Help: "Total number of leaf URLs resolved from sitemaps, labeled by host.",
			},
			[]string{"site"},
		)

		indexingSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_indexing_submissions_total",
				Help: "Total number of indexing API submissions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		workflowStepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_workflow_steps_total",
				Help: "Total number of durable step executions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_runs_total",
				Help: "Total number of workflow runs finished, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_active_workers",
				Help: "Number of workers currently executing a run.",
			},
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSitemapFetch counts one sitemap document fetch.
func ObserveSitemapFetch(sitemapURL, outcome string) {
	Init()
	sitemapFetchesTotal.WithLabelValues(SanitizeSite(sitemapURL), outcome).Inc()
}

// ObserveURLsDiscovered adds the number of leaf URLs resolved for a site.
func ObserveURLsDiscovered(sitemapURL string, n int) {
	Init()
	if n <= 0 {
		return
	}
	sitemapURLsDiscoveredTotal.WithLabelValues(SanitizeSite(sitemapURL)).Add(float64(n))
}

// ObserveSubmission counts one indexing API attempt.
func ObserveSubmission(outcome string) {
	Init()
	indexingSubmissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStep counts one durable step execution.
func ObserveStep(outcome string) {
	Init()
	workflowStepsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
