package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
	OrdersCreated     prometheus.Counter
	ReconcileRequired prometheus.Counter
	BalanceApplied    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route", "method"}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "orders_created_total",
			Help:      "Orders written to the ledger.",
		}),
		ReconcileRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "balance_reconcile_required_total",
			Help:      "Orders created whose balance application failed.",
		}),
		BalanceApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "balance_applications_total",
			Help:      "Order totals added to customer balances.",
		}),
	}

	reg.MustRegister(m.Requests, m.LatencyMS, m.OrdersCreated, m.ReconcileRequired, m.BalanceApplied)
	return m
}

// Handler serves the registry that reg was built from.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below accept a nil receiver so callers can run without metrics.

func (m *Metrics) OrderCreated() {
	if m != nil {
		m.OrdersCreated.Inc()
	}
}

func (m *Metrics) ReconcileNeeded() {
	if m != nil {
		m.ReconcileRequired.Inc()
	}
}

func (m *Metrics) BalanceAppliedInc() {
	if m != nil {
		m.BalanceApplied.Inc()
	}
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route, method).Observe(float64(elapsed.Milliseconds()))
}
