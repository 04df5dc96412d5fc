package provisioning

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	events *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumenpay",
			Subsystem: "provisioning",
			Name:      "events_total",
			Help:      "Identity provisioning events by result.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.events)
	}
	return m
}

func (m *Metrics) record(status string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(status).Inc()
}
