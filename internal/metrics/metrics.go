// Package metrics exposes Prometheus collectors for the fetch service.
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
	attemptsTotal              *prometheus.CounterVec
	creditsTotal               *prometheus.CounterVec
	resultsTotal               *prometheus.CounterVec
	responseBytesTotal         *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		attemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierfetch_attempts_total",
				Help: "Provider calls, labeled by proxy tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		creditsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierfetch_credits_total",
				Help: "Estimated provider credits spent, labeled by proxy tier.",
			},
			[]string{"tier"},
		)

		resultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierfetch_results_total",
				Help: "Terminal fetch results, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		responseBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierfetch_response_bytes_total",
				Help: "Bytes returned to callers, labeled by site.",
			},
			[]string{"site"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierfetch_cache_lookups_total",
				Help: "Fingerprint cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierfetch_jobs_total",
				Help: "Total number of batch jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tierfetch_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tierfetch_rate_limit_delays_seconds",
				Help:    "Histogram of outbound rate limit wait durations.",
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

// ObserveAttempt counts one provider call.
func ObserveAttempt(tier, outcome string) {
	Init()
	attemptsTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveCredits adds billed credits for tier.
func ObserveCredits(tier string, credits int) {
	Init()
	if credits > 0 {
		creditsTotal.WithLabelValues(tier).Add(float64(credits))
	}
}

// ObserveResult records a terminal result for the site of rawURL.
func ObserveResult(rawURL string, outcome string, bytesReturned int) {
	Init()
	site := SanitizeSite(rawURL)
	resultsTotal.WithLabelValues(site, outcome).Inc()
	if bytesReturned > 0 {
		responseBytesTotal.WithLabelValues(site).Add(float64(bytesReturned))
	}
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
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
