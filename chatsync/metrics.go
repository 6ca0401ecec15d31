package chatsync

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the sync core does. A nil *Metrics records nothing.
type Metrics struct {
	optimistic *prometheus.CounterVec
	rollbacks  *prometheus.CounterVec
	cacheReads *prometheus.CounterVec
	reconciles prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		optimistic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fynq",
			Subsystem: "sync",
			Name:      "optimistic_ops_total",
			Help:      "Optimistic local mutations issued, by operation.",
		}, []string{"op"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fynq",
			Subsystem: "sync",
			Name:      "rollbacks_total",
			Help:      "Optimistic mutations rolled back after a remote failure, by operation.",
		}, []string{"op"}),
		cacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fynq",
			Subsystem: "sync",
			Name:      "cache_reads_total",
			Help:      "Local cache reads by entity and result (hit or miss).",
		}, []string{"entity", "result"}),
		reconciles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fynq",
			Subsystem: "sync",
			Name:      "reconciles_total",
			Help:      "Periodic reconciliation passes.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.optimistic, m.rollbacks, m.cacheReads, m.reconciles)
	}
	return m
}

func (m *Metrics) optimisticOp(op string) {
	if m != nil {
		m.optimistic.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) rollback(op string) {
	if m != nil {
		m.rollbacks.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) cacheRead(entity string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheReads.WithLabelValues(entity, result).Inc()
}

func (m *Metrics) reconciled() {
	if m != nil {
		m.reconciles.Inc()
	}
}
