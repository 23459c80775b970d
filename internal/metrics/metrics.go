// Package metrics provides Prometheus collectors for the labeling core
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors shared by the sequence, labeling,
// assignment and stats packages. A nil *Metrics is valid and records nothing.
type Metrics struct {
	allocationsTotal   *prometheus.CounterVec
	fallbackTotal      *prometheus.CounterVec
	upsertsTotal       *prometheus.CounterVec
	conflictsRecovered prometheus.Counter
	assignmentsTotal   *prometheus.CounterVec
	cacheOpsTotal      *prometheus.CounterVec

	collectors []prometheus.Collector
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		allocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marcador_sequence_allocations_total",
			Help: "Sequence allocations by counter and outcome",
		}, []string{"counter", "outcome"}), // outcome: ok, error, fallback
		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marcador_sequence_fallback_total",
			Help: "Identifiers handed out by the degraded non-atomic generator",
		}, []string{"counter"}),
		upsertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marcador_label_upserts_total",
			Help: "Label submissions by resulting status",
		}, []string{"status"}),
		conflictsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marcador_label_conflicts_recovered_total",
			Help: "Racing inserts turned into updates of the winning record",
		}),
		assignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marcador_assignments_total",
			Help: "Next-item requests by result",
		}, []string{"result"}), // result: item, done
		cacheOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marcador_stats_cache_operations_total",
			Help: "Statistics cache operations",
		}, []string{"op"}), // op: hit, miss, invalidate, stale_drop
	}
	m.collectors = []prometheus.Collector{
		m.allocationsTotal,
		m.fallbackTotal,
		m.upsertsTotal,
		m.conflictsRecovered,
		m.assignmentsTotal,
		m.cacheOpsTotal,
	}
	if reg != nil {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

func (m *Metrics) Allocation(counter, outcome string) {
	if m == nil {
		return
	}
	m.allocationsTotal.WithLabelValues(counter, outcome).Inc()
}

func (m *Metrics) Fallback(counter string) {
	if m == nil {
		return
	}
	m.fallbackTotal.WithLabelValues(counter).Inc()
}

func (m *Metrics) Upsert(status string) {
	if m == nil {
		return
	}
	m.upsertsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ConflictRecovered() {
	if m == nil {
		return
	}
	m.conflictsRecovered.Inc()
}

func (m *Metrics) Assignment(result string) {
	if m == nil {
		return
	}
	m.assignmentsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheOp(op string) {
	if m == nil {
		return
	}
	m.cacheOpsTotal.WithLabelValues(op).Inc()
}
