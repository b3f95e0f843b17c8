package order

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters the lifecycle manager reports into. Vectors are
// registered in main; a zero Metrics is valid and records nothing, which
// keeps tests free of registry setup.
type Metrics struct {
	OrdersResolved *prometheus.CounterVec // labels: flow, status
	Callbacks      *prometheus.CounterVec // labels: outcome
}

func (m Metrics) resolved(flow, status string) {
	if m.OrdersResolved != nil {
		m.OrdersResolved.WithLabelValues(flow, status).Inc()
	}
}

func (m Metrics) callback(outcome string) {
	if m.Callbacks != nil {
		m.Callbacks.WithLabelValues(outcome).Inc()
	}
}
