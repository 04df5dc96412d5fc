package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is optional; a nil *Metrics disables instrumentation.
type Metrics struct {
	transfers      *prometheus.CounterVec
	submitDuration prometheus.Histogram
	rollbacks      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumenpay",
			Subsystem: "orchestrator",
			Name:      "transfers_total",
			Help:      "Transfer requests by terminal outcome.",
		}, []string{"outcome"}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lumenpay",
			Subsystem: "orchestrator",
			Name:      "submit_duration_seconds",
			Help:      "Wall time of ledger submission including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lumenpay",
			Subsystem: "orchestrator",
			Name:      "sequence_rollbacks_total",
			Help:      "Sequence reservations released after a failed submission.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transfers, m.submitDuration, m.rollbacks)
	}
	return m
}

func (m *Metrics) recordTransfer(outcome string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitDuration.Observe(d.Seconds())
}

func (m *Metrics) recordRollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}
