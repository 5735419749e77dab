package allocations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/internal/settlement"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/payloads"
)

// RepaymentResult reports how a FARMER to SHOP repayment was applied.
type RepaymentResult struct {
	PaymentID       uuid.UUID                   `json:"payment_id"`
	AppliedAmount   decimal.Decimal             `json:"applied_amount"`
	UnappliedAmount decimal.Decimal             `json:"unapplied_amount"`
	Repayments      []models.ExpenseRepayment   `json:"repayments"`
	Expenses        []settlement.ExpenseSummary `json:"expenses"`
	Snapshots       []models.BalanceSnapshot    `json:"snapshots,omitempty"`
}

// ApplyRepaymentTx pays down the farmer's pending expenses and advances in the
// shop, oldest first, and credits whatever is left to the farmer balance. It
// runs inside the caller's transaction.
func (e *Engine) ApplyRepaymentTx(ctx context.Context, tx *gorm.DB, payment *models.Payment, actor *auth.Actor) (*RepaymentResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if err := auth.RequireActor(actor); err != nil {
		return nil, err
	}
	if payment == nil || !payment.IsRepayment() || payment.CounterpartyID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "farmer repayment required")
	}
	if payment.Status != enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only PAID repayments are applied").
			WithDetails(map[string]any{"payment_id": payment.ID, "status": payment.Status})
	}

	repo := e.repo.WithTx(tx)
	farmerID := *payment.CounterpartyID
	expenses, err := repo.ListPendingExpenses(ctx, payment.ShopID, farmerID, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock pending expenses")
	}
	ids := make([]uuid.UUID, 0, len(expenses))
	var offsets []models.Allocation
	for _, expense := range expenses {
		ids = append(ids, expense.ID)
		rows, err := repo.ListBySource(ctx, expense.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense allocations")
		}
		offsets = append(offsets, rows...)
	}
	repaid, err := repo.ListRepayments(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense repayments")
	}

	result := &RepaymentResult{
		PaymentID:     payment.ID,
		AppliedAmount: decimal.Zero,
		Repayments:    []models.ExpenseRepayment{},
		Expenses:      []settlement.ExpenseSummary{},
	}
	repaidAt := payment.PaymentDate
	if repaidAt.IsZero() {
		repaidAt = e.now()
	}

	left := payment.Amount
	rows := make([]*models.ExpenseRepayment, 0, len(expenses))
	touched := make([]models.Expense, 0, len(expenses))
	for _, expense := range expenses {
		if left.LessThanOrEqual(settlement.Tolerance) {
			break
		}
		remaining := settlement.SummarizeExpense(expense, offsets, repaid).RemainingAmount
		if remaining.LessThanOrEqual(settlement.Tolerance) {
			continue
		}
		amount := decimal.Min(remaining, left)
		row := &models.ExpenseRepayment{
			ID:        uuid.New(),
			ExpenseID: expense.ID,
			PaymentID: payment.ID,
			Amount:    amount,
			RepaidAt:  repaidAt.UTC(),
			CreatedBy: actor.UserID,
		}
		rows = append(rows, row)
		repaid = append(repaid, *row)
		touched = append(touched, expense)
		left = left.Sub(amount)
		result.AppliedAmount = result.AppliedAmount.Add(amount)
	}
	if left.IsNegative() {
		left = decimal.Zero
	}
	result.UnappliedAmount = left

	if err := repo.CreateRepayments(ctx, rows); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert expense repayments")
	}
	for i, expense := range touched {
		result.Repayments = append(result.Repayments, *rows[i])
		view := settlement.SummarizeExpense(expense, offsets, repaid)
		if view.RemainingAmount.LessThanOrEqual(settlement.Tolerance) {
			if err := repo.UpdateExpenseStatus(ctx, expense.ID, enums.ExpenseStatusSettled); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle expense")
			}
			view.Status = enums.ExpenseStatusSettled
		}
		result.Expenses = append(result.Expenses, view)
	}

	if effects := ledger.RepaymentEffects(*payment, result.UnappliedAmount); len(effects) > 0 {
		snapshots, err := e.projector.ProjectAll(ctx, tx, effects)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "project repayment")
		}
		result.Snapshots = snapshots
	}

	if len(rows) == 0 {
		return result, nil
	}
	event := payloads.ExpenseRepaidEvent{
		PaymentID:       payment.ID,
		ShopID:          payment.ShopID,
		UserID:          farmerID,
		AppliedAmount:   result.AppliedAmount,
		UnappliedAmount: result.UnappliedAmount,
	}
	for _, row := range rows {
		event.ExpenseIDs = append(event.ExpenseIDs, row.ExpenseID)
	}
	if err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventExpenseRepaid,
		AggregateType: enums.AggregateExpense,
		AggregateID:   payment.ID,
		Actor:         actorRef(actor),
		Data:          event,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit repayment event")
	}
	return result, nil
}
