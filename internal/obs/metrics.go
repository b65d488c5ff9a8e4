package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Dispatch and credential metrics.
var (
	dispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "Delivery attempts by outcome (delivered, retryable, rejected, malformed).",
		},
		[]string{"outcome"},
	)

	dispatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_runs_total",
			Help: "Completed notify runs by result (clean, partial, truncated, aborted).",
		},
		[]string{"result"},
	)

	credentialRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_refresh_total",
			Help: "Outbound credential refresh calls by result.",
		},
		[]string{"result"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		dispatchAttempts, dispatchRuns, credentialRefreshes,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAttempt counts one delivery attempt outcome.
func ObserveAttempt(outcome string) {
	dispatchAttempts.WithLabelValues(outcome).Inc()
}

// ObserveDispatch counts one finished notify run.
func ObserveDispatch(result string) {
	dispatchRuns.WithLabelValues(result).Inc()
}

// ObserveCredentialRefresh counts one refresh call against the external authority.
func ObserveCredentialRefresh(result string) {
	credentialRefreshes.WithLabelValues(result).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path // no router, take it as-is
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter records the response code written by the inner handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
