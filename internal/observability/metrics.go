// Package observability exposes Prometheus metrics for the HTTP surface and
// the billing domain.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects application metrics behind a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	InvoicesGenerated *prometheus.CounterVec
	PaymentsRecorded  *prometheus.CounterVec
	ReceiptsIssued    *prometheus.CounterVec
	OverdueInvoices   prometheus.Gauge
	OutstandingTotal  prometheus.Gauge
}

// NewMetrics initialises the registry and base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bentoya_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bentoya_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	invoicesGenerated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bentoya_invoices_generated_total",
		Help: "Invoices generated by invoice type.",
	}, []string{"type"})
	paymentsRecorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bentoya_payments_recorded_total",
		Help: "Payments recorded by method.",
	}, []string{"method"})
	receiptsIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bentoya_receipts_issued_total",
		Help: "Receipts issued by kind (pre or post payment).",
	}, []string{"kind"})
	overdue := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bentoya_overdue_invoices",
		Help: "Invoices currently past due, updated by the overdue scan.",
	})
	outstanding := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bentoya_outstanding_amount_yen",
		Help: "Total outstanding balance across open invoices.",
	})
	registry.MustRegister(requests, duration, invoicesGenerated, paymentsRecorded, receiptsIssued, overdue, outstanding)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		InvoicesGenerated: invoicesGenerated,
		PaymentsRecorded:  paymentsRecorded,
		ReceiptsIssued:    receiptsIssued,
		OverdueInvoices:   overdue,
		OutstandingTotal:  outstanding,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
