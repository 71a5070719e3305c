package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Authority's Prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Directives         *prometheus.CounterVec
	Requests           *prometheus.CounterVec
	Broadcasts         *prometheus.CounterVec
	IssuanceDuration   prometheus.Histogram
	IssuanceFailures   prometheus.Counter
	SessionTransitions *prometheus.CounterVec
	ConnectedContexts  prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Directives: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bxm_sync_directives_total",
				Help: "Sync directives returned to Contexts",
			},
			[]string{"directive"},
		),
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bxm_requests_total",
				Help: "Requests received from Contexts",
			},
			[]string{"command"},
		),
		Broadcasts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bxm_broadcast_deliveries_total",
				Help: "Broadcast deliveries by outcome",
			},
			[]string{"command", "outcome"},
		),
		IssuanceDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bxm_token_issuance_duration_seconds",
				Help:    "Custom token issuance latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		IssuanceFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bxm_token_issuance_failures_total",
				Help: "Failed custom token issuances",
			},
		),
		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bxm_session_transitions_total",
				Help: "Authority session transitions",
			},
			[]string{"to"},
		),
		ConnectedContexts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bxm_connected_contexts",
				Help: "Contexts connected to the event stream",
			},
		),
	}
}

// NewRegistry creates a fresh registry with metrics registered on it
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// HandlerFor returns the scrape handler for reg
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDirective(name string) {
	if m == nil {
		return
	}
	m.Directives.WithLabelValues(name).Inc()
}

func (m *Metrics) ObserveRequest(command string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(command).Inc()
}

func (m *Metrics) ObserveBroadcast(command string, err error) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.Broadcasts.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) ObserveIssuance(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.IssuanceDuration.Observe(d.Seconds())
	if err != nil {
		m.IssuanceFailures.Inc()
	}
}

func (m *Metrics) ObserveTransition(signedIn bool) {
	if m == nil {
		return
	}
	to := "absent"
	if signedIn {
		to = "present"
	}
	m.SessionTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) ContextConnected() {
	if m == nil {
		return
	}
	m.ConnectedContexts.Inc()
}

func (m *Metrics) ContextDisconnected() {
	if m == nil {
		return
	}
	m.ConnectedContexts.Dec()
}
