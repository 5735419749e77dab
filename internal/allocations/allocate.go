package allocations

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

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

// Outcome describes what an Allocate call did.
type Outcome string

const (
	OutcomeAllocated        Outcome = "ALLOCATED"
	OutcomePreview          Outcome = "PREVIEW"
	OutcomeAlreadyAllocated Outcome = "SOURCE_ALREADY_FULLY_ALLOCATED"
	OutcomeNoCandidates     Outcome = "NO_OUTSTANDING_TRANSACTIONS"
)

// Target asks for a cumulative amount from the source to one transaction.
type Target struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// AllocateInput describes one allocation request.
type AllocateInput struct {
	SourceType enums.AllocationSourceType
	SourceID   uuid.UUID
	// ShopID is resolved from the source or scope when empty.
	ShopID      uuid.UUID
	TotalAmount decimal.Decimal
	// SourceCap lowers the cumulative cap of the source when positive. The
	// cap is otherwise the payment or credit amount, or the unrepaid expense
	// amount.
	SourceCap decimal.Decimal
	// Source is resolved from the payment, expense or credit row when nil.
	Source *ledger.SourceContext
	// Targets in caller order. Empty targets walk Scope in Order.
	Targets        []Target
	Scope          *Scope
	Order          enums.AllocationOrder
	DryRun         bool
	Actor          *auth.Actor
	Notes          string
	AllocationDate time.Time
}

// Result reports the allocations written (or previewed) and the settlement
// views of the transactions they touched.
type Result struct {
	Outcome           Outcome                    `json:"outcome"`
	SourceType        enums.AllocationSourceType `json:"source_type"`
	SourceID          uuid.UUID                  `json:"source_id"`
	AllocatedAmount   decimal.Decimal            `json:"allocated_amount"`
	UnallocatedAmount decimal.Decimal            `json:"unallocated_amount"`
	SourceAllocated   decimal.Decimal            `json:"source_allocated"`
	SourceRemaining   decimal.Decimal            `json:"source_remaining"`
	Allocations       []models.Allocation        `json:"allocations"`
	Settlements       []settlement.Summary       `json:"settlements"`
	Snapshots         []models.BalanceSnapshot   `json:"snapshots,omitempty"`

	elapsed time.Duration
}

type resolvedSource struct {
	ctx   ledger.SourceContext
	cap   decimal.Decimal
	shop  uuid.UUID
	buyer *uuid.UUID
	scope *Scope
}

type planLine struct {
	txn    models.Transaction
	amount decimal.Decimal
}

// plan is what the planners read under lock: the lines to write, the
// allocations already on the touched transactions and the rows already drawn
// from the source.
type plan struct {
	lines       []planLine
	existing    []models.Allocation
	sourceRows  []models.Allocation
	unallocated decimal.Decimal
}

// Allocate validates and commits in under the retry policy of Atomic. A
// DryRun input is routed to DryRun.
func (e *Engine) Allocate(ctx context.Context, in AllocateInput) (*Result, error) {
	if in.DryRun {
		return e.DryRun(ctx, in)
	}
	if err := validateInput(in); err != nil {
		e.observeRejection(err)
		return nil, err
	}
	if err := e.authorize(ctx, &in); err != nil {
		e.observeRejection(err)
		return nil, err
	}

	started := time.Now()
	var result *Result
	err := e.Atomic(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = e.allocate(ctx, tx, e.repo.WithTx(tx), in)
		return err
	})
	if err != nil {
		e.observeRejection(err)
		return nil, err
	}
	result.elapsed = time.Since(started)
	e.Observe(ctx, result)
	return result, nil
}

// AllocateTx runs the allocation inside a transaction owned by the caller.
// The caller is responsible for retries, and for passing the result to
// Observe once its transaction has committed.
func (e *Engine) AllocateTx(ctx context.Context, tx *gorm.DB, in AllocateInput) (*Result, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if err := validateInput(in); err != nil {
		e.observeRejection(err)
		return nil, err
	}
	started := time.Now()
	result, err := e.allocate(ctx, tx, e.repo.WithTx(tx), in)
	if err != nil {
		e.observeRejection(err)
		return nil, err
	}
	result.elapsed = time.Since(started)
	return result, nil
}

// DryRun computes the allocation plan and the resulting settlement views
// without locks and without writing.
func (e *Engine) DryRun(ctx context.Context, in AllocateInput) (*Result, error) {
	in.DryRun = true
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, &in); err != nil {
		return nil, err
	}
	return e.allocate(ctx, nil, e.repo, in)
}

// authorize requires the actor to own the shop the source belongs to. It runs
// before the database transaction opens.
func (e *Engine) authorize(ctx context.Context, in *AllocateInput) error {
	if in.ShopID == uuid.Nil {
		switch in.SourceType {
		case enums.AllocationSourcePayment:
			payment, err := e.repo.FindPayment(ctx, in.SourceID, false)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
			}
			in.ShopID = payment.ShopID
		case enums.AllocationSourceExpenseOffset:
			expense, err := e.repo.FindExpense(ctx, in.SourceID, false)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "expense not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense")
			}
			in.ShopID = expense.ShopID
		case enums.AllocationSourceCreditOffset:
			credit, err := e.repo.FindCredit(ctx, in.SourceID, false)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "credit not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit")
			}
			in.ShopID = credit.ShopID
		default:
			if in.Scope != nil {
				in.ShopID = in.Scope.ShopID
			}
		}
	}
	if in.ShopID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shop id required")
	}
	_, err := e.authz.RequireOwner(ctx, in.Actor, in.ShopID)
	return err
}

func validateInput(in AllocateInput) error {
	if err := auth.RequireActor(in.Actor); err != nil {
		return err
	}
	switch in.SourceType {
	case enums.AllocationSourcePayment, enums.AllocationSourceExpenseOffset, enums.AllocationSourceCreditOffset:
	case enums.AllocationSourceAdjustment:
		return pkgerrors.New(pkgerrors.CodeValidation, "adjustments are written by reversal only")
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid source type")
	}
	if in.SourceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "source id required")
	}
	if in.TotalAmount.IsNegative() || in.SourceCap.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amounts must not be negative")
	}
	if in.Order != "" && in.Order != enums.AllocationOrderFIFO && in.Order != enums.AllocationOrderLargestFirst {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid allocation order")
	}
	if len(in.Targets) == 0 {
		return nil
	}

	sum := decimal.Zero
	for i, target := range in.Targets {
		if target.TransactionID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "transaction id required").
				WithDetails(map[string]any{"line_index": i})
		}
		if !target.Amount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "allocation amount must be positive").
				WithDetails(map[string]any{"line_index": i, "transaction_id": target.TransactionID})
		}
		sum = sum.Add(target.Amount)
	}
	if sum.Sub(in.TotalAmount).Abs().GreaterThan(settlement.Tolerance) {
		return pkgerrors.New(pkgerrors.CodeAmountMismatch, "allocation amounts do not add up to the total").
			WithDetails(map[string]any{"targets_total": sum, "total_amount": in.TotalAmount})
	}
	return nil
}

func (e *Engine) allocate(ctx context.Context, tx *gorm.DB, repo Repository, in AllocateInput) (*Result, error) {
	lock := !in.DryRun

	// The source row is locked first so two writers drawing on the same
	// source queue here, then transactions in id order.
	src, err := e.resolveSource(ctx, repo, in, lock)
	if err != nil {
		return nil, err
	}

	var p *plan
	if len(in.Targets) > 0 {
		p, err = e.planExplicit(ctx, repo, in, src, lock)
	} else {
		p, err = e.planImplicit(ctx, repo, in, src, lock)
	}
	if err != nil {
		return nil, err
	}
	lines, existing, sourceRows := p.lines, p.existing, p.sourceRows
	sourceAllocated := sumAllocations(sourceRows)
	unallocated := p.unallocated

	result := &Result{
		SourceType:        in.SourceType,
		SourceID:          in.SourceID,
		AllocatedAmount:   decimal.Zero,
		UnallocatedAmount: unallocated,
		Allocations:       []models.Allocation{},
		Settlements:       []settlement.Summary{},
	}

	if len(lines) == 0 {
		result.SourceAllocated = sourceAllocated
		result.SourceRemaining = src.cap.Sub(sourceAllocated)
		result.Allocations = sourceRows
		if result.Allocations == nil {
			result.Allocations = []models.Allocation{}
		}
		result.Outcome = OutcomeAlreadyAllocated
		if len(in.Targets) == 0 && result.SourceRemaining.GreaterThan(settlement.Tolerance) {
			result.Outcome = OutcomeNoCandidates
		}
		return result, nil
	}

	date := in.AllocationDate
	if date.IsZero() {
		date = e.now()
	}
	var notes *string
	if trimmed := strings.TrimSpace(in.Notes); trimmed != "" {
		notes = &trimmed
	}

	rows := make([]*models.Allocation, 0, len(lines))
	for _, line := range lines {
		row := &models.Allocation{
			SourceType:      in.SourceType,
			SourceID:        in.SourceID,
			TransactionID:   line.txn.ID,
			AllocatedAmount: line.amount,
			AllocationDate:  date.UTC(),
			Notes:           notes,
			CreatedBy:       in.Actor.UserID,
		}
		if !in.DryRun {
			row.ID = uuid.New()
		}
		rows = append(rows, row)
		result.AllocatedAmount = result.AllocatedAmount.Add(line.amount)
	}
	result.SourceAllocated = sourceAllocated.Add(result.AllocatedAmount)
	result.SourceRemaining = src.cap.Sub(result.SourceAllocated)

	after := append([]models.Allocation{}, existing...)
	for _, row := range rows {
		after = append(after, *row)
		result.Allocations = append(result.Allocations, *row)
	}
	for _, line := range lines {
		result.Settlements = append(result.Settlements, settlement.Summarize(line.txn, after))
	}

	if in.DryRun {
		result.Outcome = OutcomePreview
		return result, nil
	}

	if err := repo.Create(ctx, rows); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert allocations")
	}
	for i, line := range lines {
		summary := result.Settlements[i]
		if settlement.IsSettled(summary.PendingAmount) && line.txn.Status != enums.TransactionStatusSettled {
			if err := repo.UpdateTransactionSettled(ctx, line.txn.ID, line.txn.Status); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update settlement status")
			}
		}
	}

	var effects []ledger.ProjectInput
	for i, line := range lines {
		effects = append(effects, ledger.AllocationEffects(src.ctx, line.txn, *rows[i])...)
	}
	snapshots, err := e.projector.ProjectAll(ctx, tx, effects)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "project balances")
	}
	result.Snapshots = snapshots

	event := payloads.AllocationCommittedEvent{
		SourceType:     in.SourceType,
		SourceID:       in.SourceID,
		ShopID:         lines[0].txn.ShopID,
		UserIDs:        ledger.AffectedUsers(effects),
		TotalAllocated: result.AllocatedAmount,
	}
	for i, line := range lines {
		event.AllocationIDs = append(event.AllocationIDs, rows[i].ID)
		event.TransactionIDs = append(event.TransactionIDs, line.txn.ID)
	}
	if err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAllocationCommitted,
		AggregateType: enums.AggregateAllocation,
		AggregateID:   in.SourceID,
		Actor:         actorRef(in.Actor),
		Data:          event,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit allocation event")
	}

	result.Outcome = OutcomeAllocated
	return result, nil
}

// planExplicit applies caller targets in order, merging repeated transactions
// into one cumulative request.
func (e *Engine) planExplicit(ctx context.Context, repo Repository, in AllocateInput, src resolvedSource, lock bool) (*plan, error) {
	order := make([]uuid.UUID, 0, len(in.Targets))
	desired := make(map[uuid.UUID]decimal.Decimal, len(in.Targets))
	firstLine := make(map[uuid.UUID]int, len(in.Targets))
	for i, target := range in.Targets {
		if _, ok := desired[target.TransactionID]; !ok {
			order = append(order, target.TransactionID)
			desired[target.TransactionID] = decimal.Zero
			firstLine[target.TransactionID] = i
		}
		desired[target.TransactionID] = desired[target.TransactionID].Add(target.Amount)
	}

	txns, err := repo.FindTransactions(ctx, order, lock)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transactions")
	}
	byID := make(map[uuid.UUID]models.Transaction, len(txns))
	for _, txn := range txns {
		byID[txn.ID] = txn
	}
	for _, id := range order {
		txn, ok := byID[id]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found").
				WithDetails(map[string]any{"line_index": firstLine[id], "transaction_id": id})
		}
		if !txn.Status.Allocatable() {
			return nil, pkgerrors.New(pkgerrors.CodeNotAllocatable, "transaction is cancelled").
				WithDetails(map[string]any{"line_index": firstLine[id], "transaction_id": id, "status": txn.Status})
		}
		if src.shop != uuid.Nil && txn.ShopID != src.shop {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction belongs to another shop").
				WithDetails(map[string]any{"line_index": firstLine[id], "transaction_id": id})
		}
		if src.buyer != nil && txn.BuyerID != *src.buyer {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit belongs to another buyer").
				WithDetails(map[string]any{"line_index": firstLine[id], "transaction_id": id})
		}
	}

	// Read after the locks so rows committed by a writer we waited on count.
	sourceRows, err := repo.ListBySource(ctx, in.SourceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load source allocations")
	}
	sourceAllocated := sumAllocations(sourceRows)
	existing, err := repo.ListByTransactions(ctx, order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}

	lines := make([]planLine, 0, len(order))
	requested := decimal.Zero
	for _, id := range order {
		txn := byID[id]
		delta := desired[id].Sub(fromSource(sourceRows, id))
		if delta.LessThanOrEqual(settlement.Tolerance) {
			continue
		}
		pending := txn.TotalAmount.Sub(settlement.SettledAmount(id, existing))
		if delta.GreaterThan(pending.Add(settlement.Tolerance)) {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientPending, "allocation exceeds pending balance").
				WithDetails(map[string]any{
					"line_index":     firstLine[id],
					"transaction_id": id,
					"requested":      delta,
					"pending":        pending,
				})
		}
		lines = append(lines, planLine{txn: txn, amount: delta})
		requested = requested.Add(delta)
	}

	if sourceAllocated.Add(requested).GreaterThan(src.cap.Add(settlement.Tolerance)) {
		return nil, pkgerrors.New(pkgerrors.CodeSourceOverAllocated, "source does not cover the requested allocation").
			WithDetails(map[string]any{
				"source_id":         in.SourceID,
				"source_amount":     src.cap,
				"already_allocated": sourceAllocated,
				"requested":         requested,
			})
	}
	return &plan{lines: lines, existing: existing, sourceRows: sourceRows, unallocated: decimal.Zero}, nil
}

// planImplicit walks outstanding transactions of the scope in the configured
// order until the available amount is used up.
func (e *Engine) planImplicit(ctx context.Context, repo Repository, in AllocateInput, src resolvedSource, lock bool) (*plan, error) {
	scope := in.Scope
	if scope == nil {
		scope = src.scope
	}
	if scope == nil || scope.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation targets or scope required")
	}
	if src.shop != uuid.Nil && scope.ShopID != src.shop {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scope belongs to another shop")
	}
	if src.buyer != nil && (scope.BuyerID == nil || *scope.BuyerID != *src.buyer) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scope belongs to another buyer")
	}

	candidates, err := repo.ListCandidates(ctx, *scope, lock)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load outstanding transactions")
	}

	sourceRows, err := repo.ListBySource(ctx, in.SourceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load source allocations")
	}
	ceiling := src.cap
	if in.TotalAmount.IsPositive() && in.TotalAmount.LessThan(ceiling) {
		ceiling = in.TotalAmount
	}
	available := ceiling.Sub(sumAllocations(sourceRows))
	if available.LessThanOrEqual(settlement.Tolerance) {
		return &plan{sourceRows: sourceRows, unallocated: decimal.Zero}, nil
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for _, txn := range candidates {
		ids = append(ids, txn.ID)
	}
	existing, err := repo.ListByTransactions(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}

	type outstanding struct {
		txn     models.Transaction
		pending decimal.Decimal
	}
	open := make([]outstanding, 0, len(candidates))
	for _, txn := range candidates {
		pending := txn.TotalAmount.Sub(settlement.SettledAmount(txn.ID, existing))
		if pending.GreaterThan(settlement.Tolerance) {
			open = append(open, outstanding{txn: txn, pending: pending})
		}
	}

	order := in.Order
	if order == "" {
		order = e.cfg.OrderValue()
	}
	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i], open[j]
		if order == enums.AllocationOrderLargestFirst && !a.pending.Equal(b.pending) {
			return a.pending.GreaterThan(b.pending)
		}
		if !a.txn.TransactionDate.Equal(b.txn.TransactionDate) {
			return a.txn.TransactionDate.Before(b.txn.TransactionDate)
		}
		return a.txn.ID.String() < b.txn.ID.String()
	})

	left := available
	lines := make([]planLine, 0, len(open))
	for _, item := range open {
		if !left.IsPositive() {
			break
		}
		amount := decimal.Min(item.pending, left)
		lines = append(lines, planLine{txn: item.txn, amount: amount})
		left = left.Sub(amount)
	}
	return &plan{lines: lines, existing: existing, sourceRows: sourceRows, unallocated: left}, nil
}

func (e *Engine) resolveSource(ctx context.Context, repo Repository, in AllocateInput, lock bool) (resolvedSource, error) {
	var src resolvedSource
	switch in.SourceType {
	case enums.AllocationSourcePayment:
		payment, err := repo.FindPayment(ctx, in.SourceID, lock)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return src, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return src, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment.Status != enums.PaymentStatusPaid {
			return src, pkgerrors.New(pkgerrors.CodeStateConflict, "only PAID payments can be allocated").
				WithDetails(map[string]any{"payment_id": payment.ID, "status": payment.Status})
		}
		if payment.IsRepayment() {
			return src, pkgerrors.New(pkgerrors.CodeValidation, "farmer repayments are not allocatable")
		}
		src.ctx = ledger.PaymentSource(*payment)
		src.cap = payment.Amount
		src.shop = payment.ShopID
		if payment.CounterpartyID != nil {
			scope := &Scope{ShopID: payment.ShopID}
			if payment.PayerType == enums.PaymentPartyBuyer {
				scope.BuyerID = payment.CounterpartyID
			} else if payment.PayeeType == enums.PaymentPartyFarmer {
				scope.FarmerID = payment.CounterpartyID
			}
			src.scope = scope
		}
	case enums.AllocationSourceExpenseOffset:
		expense, err := repo.FindExpense(ctx, in.SourceID, lock)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return src, pkgerrors.New(pkgerrors.CodeNotFound, "expense not found")
			}
			return src, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense")
		}
		repaid, err := repo.ListRepayments(ctx, []uuid.UUID{expense.ID})
		if err != nil {
			return src, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense repayments")
		}
		src.ctx = ledger.ExpenseSource(*expense)
		src.cap = expense.Amount
		for _, row := range repaid {
			src.cap = src.cap.Sub(row.Amount)
		}
		src.shop = expense.ShopID
	case enums.AllocationSourceCreditOffset:
		credit, err := repo.FindCredit(ctx, in.SourceID, lock)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return src, pkgerrors.New(pkgerrors.CodeNotFound, "credit not found")
			}
			return src, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit")
		}
		src.ctx = ledger.CreditSource()
		src.cap = credit.Amount
		src.shop = credit.ShopID
		buyer := credit.BuyerID
		src.buyer = &buyer
		src.scope = &Scope{ShopID: credit.ShopID, BuyerID: &buyer}
	}

	if in.ShopID != uuid.Nil {
		if src.shop != uuid.Nil && src.shop != in.ShopID {
			return src, pkgerrors.New(pkgerrors.CodeValidation, "source belongs to another shop")
		}
		src.shop = in.ShopID
	}

	if in.Source != nil {
		src.ctx = *in.Source
	}
	if in.SourceCap.IsPositive() && in.SourceCap.LessThan(src.cap) {
		src.cap = in.SourceCap
	}
	return src, nil
}

// Observe records the metrics and log line of a committed allocation. Callers
// of AllocateTx invoke it after their transaction commits.
func (e *Engine) Observe(ctx context.Context, result *Result) {
	if result == nil || result.Outcome != OutcomeAllocated {
		return
	}
	amount, _ := result.AllocatedAmount.Float64()
	e.metrics.ObserveCommit(string(result.SourceType), len(result.Allocations), amount, result.elapsed)
	if e.logg != nil {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"source_type": string(result.SourceType),
			"source_id":   result.SourceID.String(),
			"rows":        len(result.Allocations),
			"amount":      result.AllocatedAmount.String(),
		})
		e.logg.Info(logCtx, "allocation.committed")
	}
}

func sumAllocations(rows []models.Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.AllocatedAmount)
	}
	return total
}

func fromSource(sourceRows []models.Allocation, transactionID uuid.UUID) decimal.Decimal {
	total := decimal.Zero
	for _, row := range sourceRows {
		if row.TransactionID == transactionID {
			total = total.Add(row.AllocatedAmount)
		}
	}
	return total
}

func actorRef(actor *auth.Actor) *outbox.ActorRef {
	if actor == nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, ShopID: actor.ShopID, Role: string(actor.Role)}
}
