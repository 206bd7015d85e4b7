// Package metrics exports Prometheus counters for hooks and sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hooksync"

// Metrics holds the collectors of one process. A nil *Metrics records
// nothing, so packages take it optionally.
type Metrics struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	detourCalls     *prometheus.CounterVec
	modsEnabled     *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	sessionState    prometheus.Gauge
}

// New registers the collectors with reg. A nil reg means
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Packets sent to the peer by event type",
		}, []string{"event"}),

		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Packets received from the peer by event type",
		}, []string{"event"}),

		transportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Failed transport operations",
		}, []string{"op"}),

		detourCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detour_calls_total",
			Help:      "Detour callbacks run on the host thread",
		}, []string{"detour"}),

		modsEnabled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mods_enabled_total",
			Help:      "Mods enabled by loaders",
		}, []string{"mod"}),

		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session establishment attempts by role and result",
		}, []string{"role", "result"}),

		sessionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state: 0 idle, 1 running, 2 stopping",
		}),
	}
}

func (m *Metrics) PacketSent(event string) {
	if m != nil {
		m.packetsSent.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) PacketReceived(event string) {
	if m != nil {
		m.packetsReceived.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) TransportError(op string) {
	if m != nil {
		m.transportErrors.WithLabelValues(op).Inc()
	}
}

// DetourCalled has the signature of hooksync.Dispatcher.OnCall.
func (m *Metrics) DetourCalled(name string) {
	if m != nil {
		m.detourCalls.WithLabelValues(name).Inc()
	}
}

// ModEnabled has the signature of mod.Loader.OnEnable.
func (m *Metrics) ModEnabled(name string) {
	if m != nil {
		m.modsEnabled.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) Session(role, result string) {
	if m != nil {
		m.sessions.WithLabelValues(role, result).Inc()
	}
}

func (m *Metrics) SetSessionState(state int) {
	if m != nil {
		m.sessionState.Set(float64(state))
	}
}
