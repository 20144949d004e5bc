package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/laborcost/labor"
)

// Metrics is the Prometheus implementation of labor.Metrics plus HTTP
// instrumentation. Build one per registry; tests use prometheus.NewRegistry().
type Metrics struct {
	rateResolutions *prometheus.CounterVec
	degraded        prometheus.Counter
	auditWrites     *prometheus.CounterVec
	auditFailures   *prometheus.CounterVec
	entryMutations  *prometheus.CounterVec
	bulkEntries     *prometheus.CounterVec
	authzDegraded   prometheus.Counter
	httpInFlight    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

var _ labor.Metrics = (*Metrics)(nil)

// NewMetrics registers every collector on reg. When reg is also a
// Gatherer, Handler serves it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rateResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "laborcost_rate_resolutions_total",
			Help: "Rate resolutions by winning source.",
		}, []string{"source"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laborcost_rate_resolution_degraded_total",
			Help: "Resolutions that fell back to the baseline default rate after a lookup failure.",
		}),
		auditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "laborcost_audit_writes_total",
			Help: "Audit records appended, by action.",
		}, []string{"action"}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "laborcost_audit_write_failures_total",
			Help: "Audit appends that failed and rolled back their mutation, by action.",
		}, []string{"action"}),
		entryMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "laborcost_entry_mutations_total",
			Help: "Committed time entry mutations, by action.",
		}, []string{"action"}),
		bulkEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "laborcost_bulk_entries_total",
			Help: "Entries processed by bulk operations, by operation and outcome.",
		}, []string{"op", "outcome"}),
		authzDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laborcost_authorization_degraded_total",
			Help: "Permission checks answered by the fallback authorizer.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.rateResolutions, m.degraded, m.auditWrites, m.auditFailures,
		m.entryMutations, m.bulkEntries, m.authzDegraded,
		m.httpInFlight, m.httpRequests, m.httpDuration,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func (m *Metrics) RateResolved(source labor.RateSource, degraded bool) {
	m.rateResolutions.WithLabelValues(string(source)).Inc()
	if degraded {
		m.degraded.Inc()
	}
}

func (m *Metrics) AuditWritten(action labor.AuditAction) {
	m.auditWrites.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) AuditWriteFailed(action labor.AuditAction) {
	m.auditFailures.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) EntryMutated(action labor.AuditAction) {
	m.entryMutations.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) BulkEntry(op labor.BulkOp, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "succeeded"
	}
	m.bulkEntries.WithLabelValues(string(op), outcome).Inc()
}

func (m *Metrics) AuthorizationDegraded() { m.authzDegraded.Inc() }

// Handler serves the registry the metrics were built on.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records in-flight, count and latency per chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		m.httpDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, route, code).Inc()
	})
}
