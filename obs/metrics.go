// Package obs holds the process-wide observability plumbing: prometheus
// collectors and the structured logger.
package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Domain metrics
var (
	integrityViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_integrity_violations_total",
			Help: "Mutations rejected by a conservation invariant.",
		},
		[]string{"kind"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_transitions_total",
			Help: "Committed workflow transitions.",
		},
		[]string{"entity", "transition"},
	)

	ordersBuilt = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finance_transfer_orders_built_total",
		Help: "Transfer orders built.",
	})

	exportRows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finance_export_rows_total",
		Help: "Accounting rows exported.",
	})
)

// HTTP metrics
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
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

var registerOnce sync.Once

// Init registers every collector in the default registry. Safe to call twice.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			integrityViolations, transitions, ordersBuilt, exportRows,
			httpInFlight, httpRequestsTotal, httpRequestDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IntegrityViolation(kind string) { integrityViolations.WithLabelValues(kind).Inc() }

func Transition(entity, name string) { transitions.WithLabelValues(entity, name).Inc() }

func TransferOrderBuilt() { ordersBuilt.Inc() }

func ExportRows(n int) { exportRows.Add(float64(n)) }

// RouteFunc extracts a low-cardinality route label from a request.
type RouteFunc func(r *http.Request) string

// Instrument measures in-flight requests, totals and latency.
func Instrument(route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpInFlight.Inc()
			defer httpInFlight.Dec()
			start := time.Now()

			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)

			label := r.URL.Path
			if route != nil {
				label = route(r)
			}
			status := strconv.Itoa(sw.code)
			httpRequestDuration.WithLabelValues(r.Method, label, status).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, label, status).Inc()
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
