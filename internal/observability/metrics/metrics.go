package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters for the reservation and reconciliation
// flows. All Observe helpers are nil-safe so tests can pass a nil struct.
type EngineMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	reconcilesTotal    *prometheus.CounterVec
	gatewayTotal       *prometheus.CounterVec
	anomaliesTotal     prometheus.Counter
	notificationsTotal *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kinebook",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Direct booking attempts by outcome",
		}, []string{"outcome"}),
		reconcilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kinebook",
			Subsystem: "payment",
			Name:      "reconciles_total",
			Help:      "Gateway return reconciliations by kind and outcome",
		}, []string{"kind", "outcome"}),
		gatewayTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kinebook",
			Subsystem: "payment",
			Name:      "gateway_requests_total",
			Help:      "Outbound payment gateway calls by operation and outcome",
		}, []string{"op", "outcome"}),
		anomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kinebook",
			Subsystem: "payment",
			Name:      "integrity_anomalies_total",
			Help:      "Authorized payments whose slot state was inconsistent at reconcile time",
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kinebook",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Best-effort notification attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.reconcilesTotal, m.gatewayTotal, m.anomaliesTotal, m.notificationsTotal)
	return m
}

func (m *EngineMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) ObserveReconcile(kind, outcome string) {
	if m == nil {
		return
	}
	m.reconcilesTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *EngineMetrics) ObserveGateway(op, outcome string) {
	if m == nil {
		return
	}
	m.gatewayTotal.WithLabelValues(op, outcome).Inc()
}

func (m *EngineMetrics) ObserveAnomaly() {
	if m == nil {
		return
	}
	m.anomaliesTotal.Inc()
}

func (m *EngineMetrics) ObserveNotification(outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(outcome).Inc()
}
