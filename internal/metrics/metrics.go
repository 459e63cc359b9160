package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rosterly/realtime/internal/realtime"
)

const (
	namespace = "rosterly"
	subsystem = "notifier"
)

// Metrics holds the notifier's Prometheus collectors on a private
// registry, so multiple instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	connectionState   *prometheus.GaugeVec
	stateTransitions  *prometheus.CounterVec
	reconnectAttempts prometheus.Gauge
	fallbackActive    prometheus.Gauge
	messagesTotal     prometheus.Counter
	fallbackPolls     prometheus.Counter
	writerBatchSize   prometheus.Histogram
	writerFlushTime   prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_state",
			Help:      "Current connection state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),

		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "State transitions by resulting state",
		}, []string{"state"}),

		reconnectAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnect_attempts",
			Help:      "Failed attempts in the current reconnect cycle",
		}),

		fallbackActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fallback_active",
			Help:      "Whether the HTTP fallback poller is running",
		}),

		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_total",
			Help:      "Notifications received over the push channel",
		}),

		fallbackPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fallback_polls_total",
			Help:      "Fallback refresh polls executed",
		}),

		writerBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "writer_batch_size",
			Help:      "Rows per writer flush",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),

		writerFlushTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "writer_flush_duration_seconds",
			Help:      "Writer flush latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.connectionState,
		m.stateTransitions,
		m.reconnectAttempts,
		m.fallbackActive,
		m.messagesTotal,
		m.fallbackPolls,
		m.writerBatchSize,
		m.writerFlushTime,
	)

	// Pre-populate the state gauge so dashboards see every series.
	for _, s := range realtime.States() {
		m.connectionState.WithLabelValues(s.String()).Set(0)
	}

	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStatus records a connection status transition.
func (m *Metrics) ObserveStatus(s realtime.Status) {
	for _, st := range realtime.States() {
		v := 0.0
		if st == s.State {
			v = 1.0
		}
		m.connectionState.WithLabelValues(st.String()).Set(v)
	}
	m.stateTransitions.WithLabelValues(s.State.String()).Inc()
	m.reconnectAttempts.Set(float64(s.ReconnectAttempts))
	if s.FallbackActive {
		m.fallbackActive.Set(1)
	} else {
		m.fallbackActive.Set(0)
	}
}

// ObserveMessage counts a notification received over the push channel.
func (m *Metrics) ObserveMessage() {
	m.messagesTotal.Inc()
}

// ObserveFallbackPoll counts one fallback refresh.
func (m *Metrics) ObserveFallbackPoll() {
	m.fallbackPolls.Inc()
}

// ObserveFlush records a writer flush.
func (m *Metrics) ObserveFlush(rows int, took time.Duration) {
	m.writerBatchSize.Observe(float64(rows))
	m.writerFlushTime.Observe(took.Seconds())
}
