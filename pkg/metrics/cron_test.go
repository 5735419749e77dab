package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCronJobMetricsRecordsOutcomesAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveDuration("ledger-reconcile", 250*time.Millisecond)
	m.IncSuccess("ledger-reconcile")
	m.IncSuccess("ledger-reconcile")
	m.IncFailure("outbox-retention")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounter(mfs, "ledger_cron_job_runs_total", map[string]string{"job": "ledger-reconcile", "outcome": "success"}); err != nil || got != 2 {
		t.Fatalf("expected 2 successes, got %v (%v)", got, err)
	}
	if got, err := fetchCounter(mfs, "ledger_cron_job_runs_total", map[string]string{"job": "outbox-retention", "outcome": "failure"}); err != nil || got != 1 {
		t.Fatalf("expected 1 failure, got %v (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "ledger_cron_job_duration_seconds", "job", "ledger-reconcile"); err != nil || got <= 0 {
		t.Fatalf("expected duration recorded, got %v (%v)", got, err)
	}
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var cron *CronJobMetrics
	cron.IncSuccess("x")
	NewCronJobMetrics(nil).ObserveDuration("x", time.Second)

	var audit *AuditMetrics
	audit.IncEvent("payment_recorded", "audited")
	audit.AddPartiesChecked(3)
	NewOutboxMetrics(nil).IncPublished("payment_recorded")
}

func TestAuditAndOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	audit := NewAuditMetrics(reg)
	outbox := NewOutboxMetrics(reg)

	audit.IncEvent("payment_recorded", "audited")
	audit.IncEvent("", "invalid")
	audit.AddPartiesChecked(2)
	audit.IncDrift()
	outbox.IncDeadLettered("expense_offset")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounter(mfs, "ledger_audit_events_total", map[string]string{"event_type": "unknown", "outcome": "invalid"}); err != nil || got != 1 {
		t.Fatalf("expected unknown event type label, got %v (%v)", got, err)
	}
	if got, err := fetchCounter(mfs, "ledger_audit_parties_checked_total", nil); err != nil || got != 2 {
		t.Fatalf("expected 2 parties checked, got %v (%v)", got, err)
	}
	if got, err := fetchCounter(mfs, "ledger_outbox_events_total", map[string]string{"event_type": "expense_offset", "outcome": "dead_lettered"}); err != nil || got != 1 {
		t.Fatalf("expected dead letter counted, got %v (%v)", got, err)
	}
}
