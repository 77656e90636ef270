/*
Package metrics holds the Prometheus collectors for the ledger service.

Collectors live in a private registry rather than the global default so that
tests and multiple servers in one process do not collide on registration.

EXPOSED SERIES:
  pharmacy_ledger_operations_total{operation,outcome}
  pharmacy_ledger_errors_total{operation,kind}
  pharmacy_ledger_operation_duration_seconds{operation}
  pharmacy_ledger_low_stock_items
  pharmacy_http_requests_total{method,route,status}
  pharmacy_http_request_duration_seconds{method,route}
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/pharmacy-ledger/ledger"
)

type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	errors          *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	lowStockItems   prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpRequestTime *prometheus.HistogramVec
}

var _ ledger.Recorder = (*Metrics)(nil)

// New creates and registers every collector. Go runtime and process
// collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmacy_ledger_operations_total",
				Help: "Total number of ledger operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmacy_ledger_errors_total",
				Help: "Total number of aborted ledger operations by error kind",
			},
			[]string{"operation", "kind"},
		),
		operationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pharmacy_ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		lowStockItems: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pharmacy_ledger_low_stock_items",
				Help: "Number of items below the low-stock threshold at the last scan",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharmacy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pharmacy_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.operations,
		m.errors,
		m.operationTime,
		m.lowStockItems,
		m.httpRequests,
		m.httpRequestTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation implements ledger.Recorder.
func (m *Metrics) ObserveOperation(op string, outcome ledger.Outcome, kind ledger.Kind, elapsed time.Duration) {
	m.operations.WithLabelValues(op, string(outcome)).Inc()
	m.operationTime.WithLabelValues(op).Observe(elapsed.Seconds())
	if outcome == ledger.OutcomeAborted {
		if kind == ledger.KindUnknown {
			kind = "unknown"
		}
		m.errors.WithLabelValues(op, string(kind)).Inc()
	}
}

// SetLowStock records the size of the latest low-stock scan.
func (m *Metrics) SetLowStock(n int) {
	m.lowStockItems.Set(float64(n))
}

// ObserveHTTP records one served request. route is the matched pattern,
// not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestTime.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
