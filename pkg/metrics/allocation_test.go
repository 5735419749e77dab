package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestAllocationMetricsRecordsCommitsAndRejections(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllocationMetrics(reg)

	m.ObserveCommit("PAYMENT", 2, 600.5, 40*time.Millisecond)
	m.IncRejected("INSUFFICIENT_PENDING_BALANCE")
	m.IncRetry()
	m.IncDrift("farmer")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "ledger_allocations_committed_total", "source_type", "PAYMENT"); err != nil || got != 2 {
		t.Fatalf("expected committed=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "ledger_allocated_amount_total", "source_type", "PAYMENT"); err != nil || got != 600.5 {
		t.Fatalf("expected amount=600.5, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "ledger_allocation_rejections_total", "code", "INSUFFICIENT_PENDING_BALANCE"); err != nil || got != 1 {
		t.Fatalf("expected rejection=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "ledger_balance_drift_detected_total", "balance_type", "farmer"); err != nil || got != 1 {
		t.Fatalf("expected drift=1, got %f (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "ledger_allocation_duration_seconds", "source_type", "PAYMENT"); err != nil || got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f (%v)", got, err)
	}
}

func TestAllocationMetricsNilSafe(t *testing.T) {
	var m *AllocationMetrics
	m.ObserveCommit("PAYMENT", 1, 1, time.Second)
	m.IncRejected("x")
	m.IncRetry()
	m.IncConflict()
	m.IncDrift("buyer")

	noop := NewAllocationMetrics(nil)
	noop.ObserveCommit("PAYMENT", 1, 1, time.Second)
	noop.IncConflict()
}
