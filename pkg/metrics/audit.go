package metrics

import "github.com/prometheus/client_golang/prometheus"

// AuditMetrics tracks how the ledger auditor disposes of delivered events.
type AuditMetrics struct {
	events  *prometheus.CounterVec
	parties prometheus.Counter
	drifted prometheus.Counter
}

func NewAuditMetrics(reg prometheus.Registerer) *AuditMetrics {
	if reg == nil {
		return &AuditMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_audit_events_total",
		Help: "Ledger events seen by the auditor, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	parties := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_audit_parties_checked_total",
		Help: "Users reconciled in response to ledger events.",
	})
	drifted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_audit_drift_reports_total",
		Help: "Reconcile reports with balance drift or a broken snapshot chain.",
	})
	reg.MustRegister(events, parties, drifted)
	return &AuditMetrics{events: events, parties: parties, drifted: drifted}
}

func (m *AuditMetrics) IncEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *AuditMetrics) AddPartiesChecked(n int) {
	if m == nil || m.parties == nil || n <= 0 {
		return
	}
	m.parties.Add(float64(n))
}

func (m *AuditMetrics) IncDrift() {
	if m == nil || m.drifted == nil {
		return
	}
	m.drifted.Inc()
}
