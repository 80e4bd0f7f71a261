// Package metrics exposes Prometheus collectors for the link-validation service.
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
	linksCheckedTotal    *prometheus.CounterVec
	checkDurationSeconds *prometheus.HistogramVec
	runsTotal            *prometheus.CounterVec
	activeWorkers        prometheus.Gauge
	limiterWaitSeconds   prometheus.Histogram
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		linksCheckedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcheck_links_checked_total",
				Help: "Total links checked, labeled by terminal status.",
			},
			[]string{"status"},
		)

		checkDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkcheck_check_duration_seconds",
				Help:    "Histogram of per-link check latencies, labeled by terminal status.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"status"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcheck_runs_total",
				Help: "Total validation runs finished, labeled by terminal state.",
			},
			[]string{"state"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkcheck_active_workers",
				Help: "Number of workers currently processing a link.",
			},
		)

		limiterWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linkcheck_rate_limit_wait_seconds",
				Help:    "Histogram of sliding-window admission wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
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
	return promhttp.Handler()
}

// ObserveCheck records one terminal link result and its latency.
func ObserveCheck(status string, duration time.Duration) {
	if linksCheckedTotal == nil {
		return
	}
	linksCheckedTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		checkDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// ObserveRun increments the run counter for the given terminal state.
func ObserveRun(state string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(state).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// ObserveLimiterWait records the duration of a sliding-window admission wait.
func ObserveLimiterWait(duration time.Duration) {
	if limiterWaitSeconds != nil {
		limiterWaitSeconds.Observe(duration.Seconds())
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
