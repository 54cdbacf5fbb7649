// Package metrics exposes the process-wide Prometheus collectors for shotbatch.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeWorkers              prometheus.Gauge
	outcomesTotal              *prometheus.CounterVec
	retriesTotal               prometheus.Counter
	passDurationSeconds        *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shotbatch_active_workers",
				Help: "Number of workers holding a live browser session.",
			},
		)

		outcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotbatch_outcomes_total",
				Help: "Capture outcomes, labeled by result kind.",
			},
			[]string{"kind"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shotbatch_retries_total",
				Help: "Jobs routed back for another attempt.",
			},
		)

		passDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shotbatch_pass_duration_seconds",
				Help:    "Wall time per capture pass.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"pass"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shotbatch_rate_limit_delay_seconds",
				Help:    "Time spent waiting on a per-domain navigation budget.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"site"},
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
	return promhttp.Handler()
}

// WriteTextfile dumps the default registry in text format for node_exporter's
// textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ObserveOutcome counts one capture outcome. An empty kind counts as success.
func ObserveOutcome(kind string) {
	if outcomesTotal == nil {
		return
	}
	if kind == "" {
		kind = "success"
	}
	outcomesTotal.WithLabelValues(kind).Inc()
}

// ObserveRetries counts jobs scheduled for a retry pass.
func ObserveRetries(n int) {
	if retriesTotal == nil || n <= 0 {
		return
	}
	retriesTotal.Add(float64(n))
}

// ObservePass records the duration of pass number pass.
func ObservePass(pass int, duration time.Duration) {
	if passDurationSeconds == nil {
		return
	}
	label := "initial"
	if pass > 0 {
		label = "retry"
	}
	passDurationSeconds.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records a wait on the per-domain limiter.
func ObserveRateLimitDelay(site string, d time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
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
