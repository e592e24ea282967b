// Package metrics exposes the Prometheus collectors for the crawl core.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal         *prometheus.CounterVec
	fetchFailuresTotal   *prometheus.CounterVec
	fetchBytesTotal      *prometheus.CounterVec
	fetchDurationSeconds *prometheus.HistogramVec
	frontierDepth        prometheus.Gauge
	openCircuits         prometheus.Gauge
	workerPoolSize       prometheus.Gauge
	throttleDeferrals    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawld_fetches_total",
				Help: "Fetch attempts, labeled by host and source.",
			},
			[]string{"host", "source"},
		)
		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawld_fetch_failures_total",
				Help: "Terminal fetch failures, labeled by host and error kind.",
			},
			[]string{"host", "kind"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawld_fetch_bytes_total",
				Help: "Bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawld_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by source.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)
		frontierDepth = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawld_frontier_depth",
			Help: "Number of pending items in the frontier.",
		})
		openCircuits = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawld_open_circuits",
			Help: "Hosts currently excluded by an open circuit.",
		})
		workerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawld_worker_pool_size",
			Help: "Current size of the execution worker pool.",
		})
		throttleDeferrals = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawld_throttle_deferrals_total",
				Help: "Admission refusals, labeled by host and reason.",
			},
			[]string{"host", "reason"},
		)
		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawld_http_request_duration_seconds",
				Help:    "Worker API request latency, labeled by method, route and status.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route", "status"},
		)
	})
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(host, source string, bytes int64, dur time.Duration) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(host, source).Inc()
	fetchBytesTotal.WithLabelValues(host).Add(float64(bytes))
	fetchDurationSeconds.WithLabelValues(source).Observe(dur.Seconds())
}

// ObserveFailure records one terminal failure.
func ObserveFailure(host, kind string) {
	if fetchFailuresTotal == nil {
		return
	}
	fetchFailuresTotal.WithLabelValues(host, kind).Inc()
}

// SetFrontierDepth updates the pending-item gauge.
func SetFrontierDepth(n int) {
	if frontierDepth == nil {
		return
	}
	frontierDepth.Set(float64(n))
}

// SetOpenCircuits updates the open-circuit gauge.
func SetOpenCircuits(n int) {
	if openCircuits == nil {
		return
	}
	openCircuits.Set(float64(n))
}

// SetWorkerPoolSize updates the pool-size gauge.
func SetWorkerPoolSize(n int) {
	if workerPoolSize == nil {
		return
	}
	workerPoolSize.Set(float64(n))
}

// ObserveHTTPRequest records one worker API request.
func ObserveHTTPRequest(method, route string, status int, dur time.Duration) {
	if httpRequestDuration == nil {
		return
	}
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(dur.Seconds())
}

// ObserveDeferral records a refused admission.
func ObserveDeferral(host, reason string) {
	if throttleDeferrals == nil {
		return
	}
	throttleDeferrals.WithLabelValues(host, reason).Inc()
}
