// Package metrics exposes Prometheus collectors for the crawler and the
// digest job.
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
	crawlerResponsesTotal      *prometheus.CounterVec
	crawlerRecordsTotal        *prometheus.CounterVec
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	crawlerRetriesTotal        *prometheus.CounterVec
	crawlerImagesTotal         *prometheus.CounterVec
	throttleDelaySeconds       *prometheus.HistogramVec
	digestRunsTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerResponsesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_responses_total",
				Help: "Total number of responses, labeled by site and disposition.",
			},
			[]string{"site", "disposition"},
		)

		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Total number of records emitted, labeled by kind.",
			},
			[]string{"kind"},
		)

		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of listing pages processed, labeled by pipeline.",
			},
			[]string{"pipeline"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total number of retried requests, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerImagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_images_total",
				Help: "Total number of image downloads, labeled by status.",
			},
			[]string{"status"},
		)

		throttleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_throttle_delay_seconds",
				Help:    "Time spent waiting on the download throttle, labeled by site.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		digestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_runs_total",
				Help: "Total number of digest runs, labeled by outcome.",
			},
			[]string{"outcome"},
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

// ObserveResponse counts one classified response.
func ObserveResponse(site, disposition string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerResponsesTotal.WithLabelValues(sanitizedSite, disposition).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRecord counts one emitted record.
func ObserveRecord(kind string) {
	Init()
	crawlerRecordsTotal.WithLabelValues(kind).Inc()
}

// ObservePage counts one processed listing page.
func ObservePage(pipeline string) {
	Init()
	crawlerPagesTotal.WithLabelValues(pipeline).Inc()
}

// ObserveRetry counts one retried request.
func ObserveRetry(reason string) {
	Init()
	crawlerRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveImage counts one image download attempt.
func ObserveImage(status string) {
	Init()
	crawlerImagesTotal.WithLabelValues(status).Inc()
}

// ObserveThrottleDelay records time spent waiting for a download slot.
func ObserveThrottleDelay(site string, d time.Duration) {
	Init()
	throttleDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(d.Seconds())
}

// ObserveDigestRun counts one finished digest run.
func ObserveDigestRun(outcome string) {
	Init()
	digestRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
