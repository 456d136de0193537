// Package metrics holds the Prometheus collectors for the register.
//
// A Metrics value owns its own registry so tests and multiple engines never
// collide on registration. All methods accept a nil receiver.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	salesFinalized  prometheus.Counter
	salesReversed   prometheus.Counter
	revenueCents    prometheus.Counter
	reversedCents   prometheus.Counter
	drawerOpen      prometheus.Gauge
	operationErrors *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		salesFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Subsystem: "ledger",
			Name:      "sales_finalized_total",
			Help:      "Total sales committed to the ledger.",
		}),
		salesReversed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Subsystem: "ledger",
			Name:      "sales_reversed_total",
			Help:      "Total sales reversed.",
		}),
		revenueCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Subsystem: "ledger",
			Name:      "revenue_cents_total",
			Help:      "Gross revenue of finalized sales in cents.",
		}),
		reversedCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Subsystem: "ledger",
			Name:      "reversed_cents_total",
			Help:      "Revenue taken back by reversals in cents.",
		}),
		drawerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pos",
			Subsystem: "drawer",
			Name:      "open",
			Help:      "1 while a cash session is open.",
		}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pos",
			Subsystem: "engine",
			Name:      "operation_errors_total",
			Help:      "Failed engine operations by operation and error kind.",
		}, []string{"operation", "kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pos",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.salesFinalized,
		m.salesReversed,
		m.revenueCents,
		m.reversedCents,
		m.drawerOpen,
		m.operationErrors,
		m.requestDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SaleFinalized(totalCents int64) {
	if m == nil {
		return
	}
	m.salesFinalized.Inc()
	m.revenueCents.Add(float64(totalCents))
}

func (m *Metrics) SaleReversed(totalCents int64) {
	if m == nil {
		return
	}
	m.salesReversed.Inc()
	m.reversedCents.Add(float64(totalCents))
}

func (m *Metrics) DrawerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.drawerOpen.Set(1)
		return
	}
	m.drawerOpen.Set(0)
}

func (m *Metrics) OperationFailed(operation, kind string) {
	if m == nil {
		return
	}
	m.operationErrors.WithLabelValues(operation, kind).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
