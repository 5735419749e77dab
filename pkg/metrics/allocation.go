package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AllocationMetrics tracks the allocation engine and the drift reconciler.
type AllocationMetrics struct {
	committed *prometheus.CounterVec
	amount    *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	retries   prometheus.Counter
	conflicts prometheus.Counter
	duration  *prometheus.HistogramVec
	drift     *prometheus.CounterVec
}

// NewAllocationMetrics registers the allocation metrics on reg. A nil
// registerer returns a no-op recorder.
func NewAllocationMetrics(reg prometheus.Registerer) *AllocationMetrics {
	if reg == nil {
		return &AllocationMetrics{}
	}
	m := &AllocationMetrics{
		committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_allocations_committed_total",
			Help: "Allocation rows committed, by source type.",
		}, []string{"source_type"}),
		amount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_allocated_amount_total",
			Help: "Sum of committed allocation amounts, by source type.",
		}, []string{"source_type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_allocation_rejections_total",
			Help: "Allocation requests rejected, by error code.",
		}, []string{"code"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_allocation_retries_total",
			Help: "Allocation transactions retried after lock contention.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_allocation_conflicts_total",
			Help: "Allocation transactions abandoned after exhausting retries.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_allocation_duration_seconds",
			Help:    "Wall time of allocation transactions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_balance_drift_detected_total",
			Help: "Balances whose cached value disagreed with the recomputed value.",
		}, []string{"balance_type"}),
	}
	reg.MustRegister(m.committed, m.amount, m.rejected, m.retries, m.conflicts, m.duration, m.drift)
	return m
}

// ObserveCommit records a committed allocation batch.
func (m *AllocationMetrics) ObserveCommit(sourceType string, rows int, amount float64, elapsed time.Duration) {
	if m == nil || m.committed == nil {
		return
	}
	label := normalizeLabel(sourceType)
	m.committed.WithLabelValues(label).Add(float64(rows))
	if amount > 0 {
		m.amount.WithLabelValues(label).Add(amount)
	}
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// IncRejected counts a rejected allocation request.
func (m *AllocationMetrics) IncRejected(code string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(code)).Inc()
}

// IncRetry counts a retried transaction attempt.
func (m *AllocationMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

// IncConflict counts an allocation that gave up after retries.
func (m *AllocationMetrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

// IncDrift counts a drifted balance.
func (m *AllocationMetrics) IncDrift(balanceType string) {
	if m == nil || m.drift == nil {
		return
	}
	m.drift.WithLabelValues(normalizeLabel(balanceType)).Inc()
}
