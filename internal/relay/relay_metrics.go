package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the relay.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	EscalationsTotal *prometheus.CounterVec
	ActionsTotal     *prometheus.CounterVec
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	ThreadDecisions  *prometheus.CounterVec
	RoutingCallsigns prometheus.Gauge
	SeenKeys         prometheus.Gauge
}

// NewMetrics registers and returns relay metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_events_total",
			Help: "Inbound events by source and admission result.",
		}, []string{"source", "result"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_escalation_decisions_total",
			Help: "Paging cooldown decisions for new incidents.",
		}, []string{"decision"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_incident_actions_total",
			Help: "Per-channel ping actions chosen for incidents.",
		}, []string{"action"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_deliveries_total",
			Help: "Outbound deliveries by sender and outcome.",
		}, []string{"sender", "outcome"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perch_delivery_duration_seconds",
			Help:    "Duration of outbound deliveries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"sender"}),
		ThreadDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_thread_decisions_total",
			Help: "Whether an incident continued a recent thread or started a new one.",
		}, []string{"decision"}),
		RoutingCallsigns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perch_routing_callsigns",
			Help: "Callsigns resolved into the routing table at startup.",
		}),
		SeenKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perch_seen_event_keys",
			Help: "Distinct event keys held by the dedup filter.",
		}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.EscalationsTotal,
		m.ActionsTotal,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.ThreadDecisions,
		m.RoutingCallsigns,
		m.SeenKeys,
	)

	return m
}

// Hooks returns Service hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnEvent: func(source Source, result string) {
			m.EventsTotal.WithLabelValues(string(source), result).Inc()
		},
		OnEscalation: func(shouldPing bool) {
			decision := "quiet"
			if shouldPing {
				decision = "ping"
			}
			m.EscalationsTotal.WithLabelValues(decision).Inc()
		},
		OnAction: func(action Action) {
			m.ActionsTotal.WithLabelValues(string(action)).Inc()
		},
		OnDelivery: func(sender string, err error, seconds float64) {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			m.DeliveriesTotal.WithLabelValues(sender, outcome).Inc()
			m.DeliveryDuration.WithLabelValues(sender).Observe(seconds)
		},
		OnThread: func(continued bool) {
			decision := "new"
			if continued {
				decision = "continued"
			}
			m.ThreadDecisions.WithLabelValues(decision).Inc()
		},
		OnSeen: func(keys int) {
			m.SeenKeys.Set(float64(keys))
		},
	}
}
