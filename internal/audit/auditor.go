package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/metrics"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/payloads"
)

type eventDecoder interface {
	Decode(eventType enums.OutboxEventType, raw []byte) (outbox.PayloadEnvelope, interface{}, error)
}

type reconciler interface {
	ReconcileUser(ctx context.Context, userID uuid.UUID) ([]ledger.ReconcileReport, error)
}

// Auditor re-derives the balances of every party an event touched.
type Auditor struct {
	decoder eventDecoder
	ledger  reconciler
	metrics *metrics.AuditMetrics
	logg    *logger.Logger
}

func NewAuditor(decoder eventDecoder, ledger reconciler, m *metrics.AuditMetrics, logg *logger.Logger) (*Auditor, error) {
	if decoder == nil {
		return nil, errors.New("event decoder is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger reconciler is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Auditor{decoder: decoder, ledger: ledger, metrics: m, logg: logg}, nil
}

// Handle decodes the envelope and reconciles each affected user. Errors from
// individual users are combined so one failing account does not hide another.
func (a *Auditor) Handle(ctx context.Context, delivery Delivery) error {
	_, payload, err := a.decoder.Decode(delivery.EventType, delivery.Data)
	if err != nil {
		return err
	}
	affecting, ok := payload.(payloads.BalanceAffecting)
	if !ok {
		return nil
	}

	users := uniqueUsers(affecting.AffectedUsers())
	var combined error
	for _, userID := range users {
		reports, err := a.ledger.ReconcileUser(ctx, userID)
		if err != nil {
			combined = multierr.Append(combined, fmt.Errorf("reconcile %s: %w", userID, err))
			continue
		}
		for _, report := range reports {
			if report.HasDrift || !report.ChainValid {
				a.metrics.IncDrift()
			}
		}
	}
	a.metrics.AddPartiesChecked(len(users))
	return combined
}

func uniqueUsers(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
