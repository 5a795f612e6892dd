package websocket

import "github.com/prometheus/client_golang/prometheus"

// HubMetrics holds the hub's prometheus collectors. A nil *HubMetrics is
// valid and records nothing.
type HubMetrics struct {
	connections prometheus.Gauge
	events      *prometheus.CounterVec
}

func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "captain_websocket_connections",
			Help: "Number of connected websocket clients.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captain_websocket_events_total",
			Help: "Websocket events by name and direction.",
		}, []string{"event", "direction"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.events)
	}
	return m
}

func (m *HubMetrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *HubMetrics) connectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *HubMetrics) eventReceived(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, "in").Inc()
}

func (m *HubMetrics) eventSent(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, "out").Inc()
}
