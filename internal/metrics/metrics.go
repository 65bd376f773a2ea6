// Package metrics holds the Prometheus collectors for the reservation core and its
// HTTP surface. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	sweepReclaimed  prometheus.Counter
	sweepErrors     prometheus.Counter
	sweepDuration   prometheus.Histogram
	restockAlerts   prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpRequestTime *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmstock",
			Name:      "reservation_operations_total",
			Help:      "Reservation operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pharmstock",
			Name:      "reservation_operation_duration_seconds",
			Help:      "Latency of reservation operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		sweepReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pharmstock",
			Name:      "sweeper_reclaimed_units_total",
			Help:      "Units returned to availability by the expiry sweeper.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pharmstock",
			Name:      "sweeper_errors_total",
			Help:      "Holds the sweeper failed to reclaim.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pharmstock",
			Name:      "sweeper_cycle_duration_seconds",
			Help:      "Duration of sweeper cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		restockAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pharmstock",
			Name:      "restock_alerts_total",
			Help:      "Restock alerts published.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmstock",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpRequestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pharmstock",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations, m.operationTime,
		m.sweepReclaimed, m.sweepErrors, m.sweepDuration,
		m.restockAlerts,
		m.httpRequests, m.httpRequestTime,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOperation(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationTime.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) ObserveSweep(reclaimedUnits, failures int, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepReclaimed.Add(float64(reclaimedUnits))
	m.sweepErrors.Add(float64(failures))
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRestockAlerts(n int) {
	if m == nil {
		return
	}
	m.restockAlerts.Add(float64(n))
}

func (m *Metrics) ObserveHTTP(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpRequestTime.WithLabelValues(route, method).Observe(d.Seconds())
}
