// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolverFetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_fetch_attempts_total",
			Help: "Total fetch attempts made while resolving links, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	resolverResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_resolutions_total",
			Help: "Total link resolutions, labeled by the source that produced the links.",
		},
		[]string{"source"},
	)

	resolverLinksReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolver_links_returned",
			Help:    "Histogram of link counts returned per resolution.",
			Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		},
	)

	mailboxTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbox_transitions_total",
			Help: "Total mailbox connection lifecycle transitions, labeled by provider, transition and outcome.",
		},
		[]string{"provider", "transition", "outcome"},
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method", "route"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resolver_rate_limit_delays_seconds",
			Help:    "Histogram of politeness limiter wait durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"host"},
	)
)

// SanitizeHost extracts a lowercase hostname for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveFetchAttempt counts one fetch attempt. kind is probe, sitemap or page.
func ObserveFetchAttempt(kind, outcome string) {
	resolverFetchAttemptsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveResolution records the source and size of a finished resolution.
func ObserveResolution(source string, links int) {
	resolverResolutionsTotal.WithLabelValues(source).Inc()
	resolverLinksReturned.Observe(float64(links))
}

// ObserveMailboxTransition counts a connection lifecycle transition.
func ObserveMailboxTransition(provider, transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	mailboxTransitionsTotal.WithLabelValues(provider, transition, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a limiter wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
