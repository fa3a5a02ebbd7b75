// Package metrics exposes Prometheus collectors for the price crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors exist from package load so callers never see nil vectors; Init
// registers them with the default registry.
var (
	crawlJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jppc_crawl_jobs_total",
			Help: "Total number of finished crawl jobs, labeled by terminal status.",
		},
		[]string{"status"},
	)
	crawlRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jppc_crawl_running",
			Help: "1 while a crawl job is running.",
		},
	)
	sourceOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jppc_source_outcomes_total",
			Help: "Per-source results, labeled by source and result.",
		},
		[]string{"source", "result"},
	)
	sourceDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jppc_source_duration_seconds",
			Help:    "Histogram of per-source crawl durations.",
			Buckets: []float64{5, 10, 20, 40, 60, 120, 300, 600},
		},
		[]string{"source"},
	)
	plansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jppc_plans_total",
			Help: "Extracted plans, labeled by source and reconcile decision.",
		},
		[]string{"source", "decision"},
	)
	priceChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jppc_price_changes_total",
			Help: "Detected price changes, labeled by source and significance.",
		},
		[]string{"source", "significance"},
	)
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jppc_retries_total",
			Help: "Extraction retries, labeled by source.",
		},
		[]string{"source"},
	)
	rateLimitDelaySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jppc_rate_limit_delay_seconds",
			Help:    "Histogram of politeness wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 3, 4, 5, 10, 30},
		},
		[]string{"source"},
	)
	pageFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jppc_page_fetches_total",
			Help: "Page loads, labeled by site and status.",
		},
		[]string{"site", "status"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	once sync.Once
)

// Init registers the collectors with the default Prometheus registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			crawlJobsTotal,
			crawlRunning,
			sourceOutcomesTotal,
			sourceDurationSeconds,
			plansTotal,
			priceChangesTotal,
			retriesTotal,
			rateLimitDelaySeconds,
			pageFetchesTotal,
			httpRequestsTotal,
			httpRequestDurationSeconds,
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

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	crawlJobsTotal.WithLabelValues(status).Inc()
}

// SetRunning flips the running gauge.
func SetRunning(running bool) {
	if running {
		crawlRunning.Set(1)
		return
	}
	crawlRunning.Set(0)
}

// ObserveSource records one per-source outcome.
func ObserveSource(source string, success bool, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	sourceOutcomesTotal.WithLabelValues(source, result).Inc()
	sourceDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObservePlan counts a reconcile decision (created, updated, unchanged, rejected).
func ObservePlan(source, decision string) {
	plansTotal.WithLabelValues(source, decision).Inc()
}

// ObservePriceChanges counts all and significant changes for a plan.
func ObservePriceChanges(source string, total, significant int) {
	if total > significant {
		priceChangesTotal.WithLabelValues(source, "minor").Add(float64(total - significant))
	}
	if significant > 0 {
		priceChangesTotal.WithLabelValues(source, "significant").Add(float64(significant))
	}
}

// ObserveRetry counts one extraction retry.
func ObserveRetry(source string) {
	retriesTotal.WithLabelValues(source).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObservePageFetch counts one page load by host and HTTP status (0 on transport error).
func ObservePageFetch(rawURL string, status int) {
	pageFetchesTotal.WithLabelValues(SanitizeSite(rawURL), strconv.Itoa(status)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
