package allocations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/settlement"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/db"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/payloads"
)

// ReverseInput names the allocation to offset.
type ReverseInput struct {
	AllocationID uuid.UUID
	Actor        *auth.Actor
	Notes        string
}

// ReverseResult carries the compensating row and the reopened settlement view.
type ReverseResult struct {
	Reversal   models.Allocation        `json:"reversal"`
	Settlement settlement.Summary       `json:"settlement"`
	Snapshots  []models.BalanceSnapshot `json:"snapshots"`
}

// Reverse appends an ADJUSTMENT that negates the allocation and undoes every
// balance snapshot the allocation produced.
func (e *Engine) Reverse(ctx context.Context, in ReverseInput) (*ReverseResult, error) {
	if err := auth.RequireActor(in.Actor); err != nil {
		return nil, err
	}
	if in.AllocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation id required")
	}

	original, err := e.repo.FindAllocation(ctx, in.AllocationID, false)
	if err != nil {
		return nil, notFoundOr(err, "allocation not found", "load allocation")
	}
	txns, err := e.repo.FindTransactions(ctx, []uuid.UUID{original.TransactionID}, false)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if len(txns) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	if _, err := e.authz.RequireOwner(ctx, in.Actor, txns[0].ShopID); err != nil {
		return nil, err
	}

	var result *ReverseResult
	err = e.Atomic(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = e.reverse(ctx, tx, e.repo.WithTx(tx), in)
		return err
	})
	if err != nil {
		e.observeRejection(err)
		return nil, err
	}

	if e.logg != nil {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"allocation_id": in.AllocationID.String(),
			"reversal_id":   result.Reversal.ID.String(),
			"amount":        result.Reversal.AllocatedAmount.String(),
		})
		e.logg.Info(logCtx, "allocation.reversed")
	}
	return result, nil
}

func (e *Engine) reverse(ctx context.Context, tx *gorm.DB, repo Repository, in ReverseInput) (*ReverseResult, error) {
	original, err := repo.FindAllocation(ctx, in.AllocationID, true)
	if err != nil {
		return nil, notFoundOr(err, "allocation not found", "lock allocation")
	}
	if original.IsReversal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a reversal cannot be reversed")
	}
	if _, err := repo.FindReversalOf(ctx, original.ID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "allocation already reversed").
			WithDetails(map[string]any{"allocation_id": original.ID})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check reversal")
	}

	txns, err := repo.FindTransactions(ctx, []uuid.UUID{original.TransactionID}, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
	}
	if len(txns) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	txn := txns[0]

	notes := strings.TrimSpace(in.Notes)
	if notes == "" {
		notes = "reversal of " + original.ID.String()
	}
	originalID := original.ID
	reversal := &models.Allocation{
		ID:              uuid.New(),
		SourceType:      enums.AllocationSourceAdjustment,
		SourceID:        original.SourceID,
		TransactionID:   original.TransactionID,
		AllocatedAmount: original.AllocatedAmount.Neg(),
		AllocationDate:  e.now(),
		Notes:           &notes,
		ReversalOfID:    &originalID,
		CreatedBy:       in.Actor.UserID,
	}
	if err := repo.Create(ctx, []*models.Allocation{reversal}); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "allocation already reversed").
				WithDetails(map[string]any{"allocation_id": original.ID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert reversal")
	}

	snapshots, err := e.projector.ReverseReference(ctx, tx, original.ID, reversal.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reverse balances")
	}

	rows, err := repo.ListByTransactions(ctx, []uuid.UUID{txn.ID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	summary := settlement.Summarize(txn, rows)
	if txn.Status == enums.TransactionStatusSettled && !settlement.IsSettled(summary.PendingAmount) {
		reopened := enums.TransactionStatusCompleted
		if txn.SettledFrom != nil {
			reopened = *txn.SettledFrom
		}
		if err := repo.ReopenTransaction(ctx, txn.ID, reopened); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reopen transaction")
		}
	}

	if original.SourceType == enums.AllocationSourceExpenseOffset {
		if err := e.reopenExpense(ctx, repo, original.SourceID); err != nil {
			return nil, err
		}
	}

	userIDs := make([]uuid.UUID, 0, len(snapshots))
	seen := make(map[uuid.UUID]struct{}, len(snapshots))
	for _, snap := range snapshots {
		if _, ok := seen[snap.UserID]; ok {
			continue
		}
		seen[snap.UserID] = struct{}{}
		userIDs = append(userIDs, snap.UserID)
	}
	if err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAllocationReversed,
		AggregateType: enums.AggregateAllocation,
		AggregateID:   original.SourceID,
		Actor:         actorRef(in.Actor),
		Data: payloads.AllocationReversedEvent{
			AllocationID:  original.ID,
			ReversalID:    reversal.ID,
			SourceType:    original.SourceType,
			SourceID:      original.SourceID,
			TransactionID: txn.ID,
			Amount:        original.AllocatedAmount,
			UserIDs:       userIDs,
		},
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit reversal event")
	}

	return &ReverseResult{Reversal: *reversal, Settlement: summary, Snapshots: snapshots}, nil
}

func (e *Engine) reopenExpense(ctx context.Context, repo Repository, expenseID uuid.UUID) error {
	expense, err := repo.FindExpense(ctx, expenseID, true)
	if err != nil {
		return notFoundOr(err, "expense not found", "load expense")
	}
	if expense.Status != enums.ExpenseStatusSettled {
		return nil
	}
	rows, err := repo.ListBySource(ctx, expenseID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense allocations")
	}
	repaid, err := repo.ListRepayments(ctx, []uuid.UUID{expenseID})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense repayments")
	}
	view := settlement.SummarizeExpense(*expense, rows, repaid)
	if view.RemainingAmount.GreaterThan(settlement.Tolerance) {
		if err := repo.UpdateExpenseStatus(ctx, expenseID, enums.ExpenseStatusPending); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reopen expense")
		}
	}
	return nil
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
