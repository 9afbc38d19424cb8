package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "raid"

// Error kinds counted by ErrorsTotal.
const (
	ErrorParse       = "parse"
	ErrorTranslation = "translation"
	ErrorDelivery    = "delivery"
	ErrorTemplate    = "template"
	ErrorHistory     = "history"
)

// Metrics holds the relay collectors. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	eventsReceived   *prometheus.CounterVec
	alertsTotal      *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	deliveryDuration prometheus.Histogram
	queueDepth       prometheus.Gauge
	membersLoaded    prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.eventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Notifications received from a source.",
	}, []string{"backend"})
	m.alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Parsed alerts by outcome (sent, not_sent, skipped).",
	}, []string{"outcome", "threat", "status"})
	m.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Per-event failures by kind.",
	}, []string{"kind"})
	m.deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "delivery_duration_seconds",
		Help:      "Time spent posting one alert to the webhook, retries included.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Events waiting for a pipeline worker.",
	})
	m.membersLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "members_loaded",
		Help:      "Distinct members in the recipient directory.",
	})

	m.registry.MustRegister(
		m.eventsReceived,
		m.alertsTotal,
		m.errorsTotal,
		m.deliveryDuration,
		m.queueDepth,
		m.membersLoaded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) EventReceived(backendName string) {
	m.eventsReceived.WithLabelValues(backendName).Inc()
}

// AlertHandled counts a parsed alert. threat and status are the alert's machine names.
func (m *Metrics) AlertHandled(outcome, threat, status string) {
	m.alertsTotal.WithLabelValues(outcome, threat, status).Inc()
}

func (m *Metrics) Error(kind string) {
	m.errorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDelivery(d time.Duration) {
	m.deliveryDuration.Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) SetMembersLoaded(count int) {
	m.membersLoaded.Set(float64(count))
}
