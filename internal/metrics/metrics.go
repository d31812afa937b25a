// Package metrics exposes Prometheus collectors for the crawl and
// analysis pipeline.
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
	crawlPagesTotal            *prometheus.CounterVec
	crawlBytesTotal            *prometheus.CounterVec
	crawlJobsTotal             *prometheus.CounterVec
	crawlActiveWorkers         prometheus.Gauge
	crawlRateLimitDelaySeconds *prometheus.HistogramVec
	analysisRunsTotal          *prometheus.CounterVec
	analysisCostUSDTotal       prometheus.Counter
	mappingsCreatedTotal       *prometheus.CounterVec
	predictionsTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_pages_total",
				Help: "Total number of pages fetched, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		crawlBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_jobs_total",
				Help: "Total number of crawl jobs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		crawlActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawl_active_workers",
				Help: "Number of workers currently fetching a page.",
			},
		)

		crawlRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_rate_limit_delay_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		analysisRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analysis_runs_total",
				Help: "Total number of page analyses, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		analysisCostUSDTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "analysis_cost_usd_total",
				Help: "Cumulative estimated spend on remote analysis in US dollars.",
			},
		)

		mappingsCreatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persona_mappings_created_total",
				Help: "Total number of page to persona mappings written, labeled by method.",
			},
			[]string{"method"},
		)

		predictionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persona_predictions_total",
				Help: "Total number of persona predictions served, labeled by strategy.",
			},
			[]string{"strategy"},
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

// ObserveFetch records the outcome of a page fetch.
func ObserveFetch(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	crawlPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	crawlJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	crawlRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveAnalysis records a page analysis attempt for a strategy.
func ObserveAnalysis(strategy, outcome string) {
	analysisRunsTotal.WithLabelValues(strategy, outcome).Inc()
}

// AddAnalysisCost accumulates estimated remote analysis spend.
func AddAnalysisCost(usd float64) {
	if usd > 0 {
		analysisCostUSDTotal.Add(usd)
	}
}

// ObserveMappings records newly written persona mappings.
func ObserveMappings(method string, count int) {
	if count > 0 {
		mappingsCreatedTotal.WithLabelValues(method).Add(float64(count))
	}
}

// ObservePrediction increments the prediction counter for a strategy.
func ObservePrediction(strategy string) {
	predictionsTotal.WithLabelValues(strategy).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
