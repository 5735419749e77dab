package cron

import (
	"context"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndIgnoresNil(t *testing.T) {
	registry := NewRegistry()
	retention := &stubJob{name: "outbox-retention"}
	sweep := &stubJob{name: "ledger-reconcile"}
	registry.Register(retention)
	registry.Register(nil)
	registry.Register(sweep)

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != retention || jobs[1] != sweep {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}
