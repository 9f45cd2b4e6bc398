package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"telecare/internal/core/domain"
)

type PrometheusCollector struct {
	// Gauges
	connectionsActive prometheus.Gauge

	// Counters
	connectionsTotal  prometheus.Counter
	eventsRelayed     *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	messagesPersisted *prometheus.CounterVec
	seenTransitions   *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "telecare_connections_active",
			Help: "Number of open websocket connections",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "telecare_connections_total",
			Help: "Total number of websocket connections accepted",
		}),

		eventsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telecare_events_relayed_total",
			Help: "Events forwarded to recipients, by event type",
		}, []string{"event"}),

		eventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telecare_events_dropped_total",
			Help: "Inbound events discarded, by event type and reason",
		}, []string{"event", "reason"}),

		messagesPersisted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telecare_messages_persisted_total",
			Help: "Chat messages written to the store, by message type",
		}, []string{"message_type"}),

		seenTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telecare_seen_transitions_total",
			Help: "Seen-marking requests, split by whether the flag actually flipped",
		}, []string{"changed"}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) EventRelayed(event string, delivered int) {
	if delivered > 0 {
		p.eventsRelayed.WithLabelValues(event).Add(float64(delivered))
	}
}

func (p *PrometheusCollector) EventDropped(event, reason string) {
	p.eventsDropped.WithLabelValues(event, reason).Inc()
}

func (p *PrometheusCollector) MessagePersisted(msgType domain.MessageType) {
	p.messagesPersisted.WithLabelValues(string(msgType)).Inc()
}

func (p *PrometheusCollector) SeenTransition(changed bool) {
	label := "false"
	if changed {
		label = "true"
	}
	p.seenTransitions.WithLabelValues(label).Inc()
}
