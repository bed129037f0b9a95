package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	ordersCreated   prometheus.Counter
	verifications   *prometheus.CounterVec
	shipments       *prometheus.CounterVec
	statusChanges   *prometheus.CounterVec
	carrierRequests *prometheus.CounterVec
}

// NewMetrics registers the service collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders persisted after successful payment verification.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Payment verifications by gateway and result.",
		}, []string{"gateway", "result"}),
		shipments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carrier_shipments_total",
			Help: "Carrier shipment creation attempts by result.",
		}, []string{"result"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_status_changes_total",
			Help: "Applied order status transitions by target status.",
		}, []string{"status"}),
		carrierRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carrier_requests_total",
			Help: "Carrier API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
		m.ordersCreated,
		m.verifications,
		m.shipments,
		m.statusChanges,
		m.carrierRequests,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(latency.Seconds())
}

// OrderCreated counts a persisted order.
func (m *Metrics) OrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// PaymentVerified counts a verification outcome ("verified", "rejected", "bypassed", "error").
func (m *Metrics) PaymentVerified(gateway, result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(gateway, result).Inc()
}

// ShipmentCreated counts carrier shipment creation outcomes ("created", "failed").
func (m *Metrics) ShipmentCreated(result string) {
	if m == nil {
		return
	}
	m.shipments.WithLabelValues(result).Inc()
}

// StatusChanged counts an applied transition.
func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// CarrierRequest counts a carrier API call.
func (m *Metrics) CarrierRequest(operation, outcome string) {
	if m == nil {
		return
	}
	m.carrierRequests.WithLabelValues(operation, outcome).Inc()
}
