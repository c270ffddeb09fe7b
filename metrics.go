package planstream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes client counters to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	eventsDispatched *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	connectsOpened   prometheus.Counter
	reconnects       prometheus.Counter
	state            *prometheus.GaugeVec
}

// Drop reasons recorded by Metrics, in addition to the parser's.
const (
	dropUnknownChannel = "unknown_channel"
	dropMissingChannel = "missing_channel"
)

// NewMetrics creates the collectors and registers them with reg when it is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planstream",
			Name:      "events_dispatched_total",
			Help:      "Events delivered to channel handlers, by event type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planstream",
			Name:      "events_dropped_total",
			Help:      "Events discarded before reaching a handler, by reason.",
		}, []string{"reason"}),
		connectsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "planstream",
			Name:      "connections_opened_total",
			Help:      "Stream connections that received their first chunk.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "planstream",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts scheduled after a failure.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "planstream",
			Name:      "client_state",
			Help:      "1 for the client's current state, 0 otherwise.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsDispatched, m.eventsDropped, m.connectsOpened, m.reconnects, m.state)
	}
	return m
}

func (m *Metrics) dispatched(eventType string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(eventType).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) opened() {
	if m == nil {
		return
	}
	m.connectsOpened.Inc()
}

func (m *Metrics) reconnecting() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

var allStates = []State{StateIdle, StateConnecting, StateOpen, StateReconnecting, StateClosed}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}
}
