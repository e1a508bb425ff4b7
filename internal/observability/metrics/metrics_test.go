package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestEngineMetricsObserve(t *testing.T) {
	m := NewEngineMetrics(prometheus.NewRegistry())
	m.ObserveBooking("reserved")
	m.ObserveReconcile("appointment", "authorized")
	m.ObserveGateway("create", "ok")
	m.ObserveAnomaly()
	m.ObserveNotification("sent")
}

func TestEngineMetricsNilSafe(t *testing.T) {
	var m *EngineMetrics
	m.ObserveBooking("reserved")
	m.ObserveReconcile("subscription", "declined")
	m.ObserveGateway("commit", "error")
	m.ObserveAnomaly()
	m.ObserveNotification("error")
}
