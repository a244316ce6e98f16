// Package metrics provides Prometheus metrics for activewatcher.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "activewatcher"

// Ingest failure reasons.
const (
	ReasonConflict = "conflict"
	ReasonInvalid  = "invalid"
	ReasonInternal = "internal"
)

// Metrics holds the server's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ingestTotal     *prometheus.CounterVec
	ingestFailures  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reportDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg when it is non-nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "states_total",
			Help:      "Total number of accepted state reports by resulting action.",
		}, []string{"action"}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Total number of rejected state reports by reason.",
		}, []string{"reason"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests by route.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route", "code"}),
		reportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reports",
			Name:      "build_duration_seconds",
			Help:      "Time spent building report responses.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"report"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.ingestTotal, m.ingestFailures, m.requestDuration, m.reportDuration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// IngestSucceeded counts a state report that produced action.
func (m *Metrics) IngestSucceeded(action string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(action).Inc()
}

// IngestFailed counts a rejected state report.
func (m *Metrics) IngestFailed(reason string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(reason).Inc()
}

// ObserveReport records how long a report took to build.
func (m *Metrics) ObserveReport(report string, d time.Duration) {
	if m == nil {
		return
	}
	m.reportDuration.WithLabelValues(report).Observe(d.Seconds())
}

// Middleware records request latency labelled with the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
