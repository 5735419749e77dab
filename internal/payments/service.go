package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/internal/settlement"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/config"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/payloads"
)

type allocator interface {
	Atomic(ctx context.Context, fn func(tx *gorm.DB) error) error
	Allocate(ctx context.Context, in allocations.AllocateInput) (*allocations.Result, error)
	AllocateTx(ctx context.Context, tx *gorm.DB, in allocations.AllocateInput) (*allocations.Result, error)
	ApplyRepaymentTx(ctx context.Context, tx *gorm.DB, payment *models.Payment, actor *auth.Actor) (*allocations.RepaymentResult, error)
	Observe(ctx context.Context, result *allocations.Result)
}

type balanceProjector interface {
	LockedBalance(ctx context.Context, tx *gorm.DB, userID uuid.UUID, balanceType enums.BalanceType) (decimal.Decimal, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type shopAuthorizer interface {
	RequireOwner(ctx context.Context, actor *auth.Actor, shopID uuid.UUID) (*models.Shop, error)
	AuthorizeShopWrite(ctx context.Context, actor *auth.Actor, shopID uuid.UUID, parties ...uuid.UUID) (*models.Shop, error)
}

// Service records payments, moves them through their lifecycle and allocates
// them against transactions.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*View, error)
	Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*View, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*View, error)
	Allocate(ctx context.Context, input AllocateInput) (*allocations.Result, error)
	Bulk(ctx context.Context, input BulkInput) (*BulkResult, error)
	Outstanding(ctx context.Context, actor *auth.Actor, shopID uuid.UUID) (*Outstanding, error)
}

// CreateInput records one payment. Status defaults to PENDING.
type CreateInput struct {
	ShopID         uuid.UUID
	TransactionID  *uuid.UUID
	CounterpartyID *uuid.UUID
	PayerType      enums.PaymentParty
	PayeeType      enums.PaymentParty
	Amount         decimal.Decimal
	Method         enums.PaymentMethod
	Status         enums.PaymentStatus
	PaymentDate    time.Time
	Notes          string
	ForceOverride  bool
	Actor          *auth.Actor
}

// UpdateStatusInput moves a PENDING payment forward.
type UpdateStatusInput struct {
	PaymentID uuid.UUID
	Status    enums.PaymentStatus
	Actor     *auth.Actor
}

// AllocateInput allocates a PAID payment. Empty Targets fall back to the
// configured implicit ordering over the counterparty's open transactions.
type AllocateInput struct {
	PaymentID   uuid.UUID
	Targets     []allocations.Target
	TotalAmount *decimal.Decimal
	Order       enums.AllocationOrder
	DryRun      bool
	Notes       string
	Actor       *auth.Actor
}

// View is a payment together with its allocation summary.
type View struct {
	Payment         models.Payment      `json:"payment"`
	AllocatedAmount decimal.Decimal     `json:"allocated_amount"`
	RemainingAmount decimal.Decimal     `json:"remaining_amount"`
	Allocatable     bool                `json:"allocatable"`
	Allocations     []models.Allocation `json:"allocations"`
	// Settlement is set when the payment was auto-allocated to its transaction.
	Settlement *settlement.Summary `json:"settlement,omitempty"`
	// Repayment is set when a farmer repayment reached PAID.
	Repayment *allocations.RepaymentResult `json:"repayment,omitempty"`
}

// paidOutcome carries the side effects of a payment reaching PAID.
type paidOutcome struct {
	settlement *settlement.Summary
	allocation *allocations.Result
	repayment  *allocations.RepaymentResult
}

// OutstandingTransaction is an open transaction with its pending amount.
type OutstandingTransaction struct {
	Transaction models.Transaction `json:"transaction"`
	Settlement  settlement.Summary `json:"settlement"`
}

// Outstanding lists what is still open in a shop.
type Outstanding struct {
	Transactions     []OutstandingTransaction `json:"transactions"`
	Payments         []View                   `json:"payments"`
	TotalPending     decimal.Decimal          `json:"total_pending"`
	TotalUnallocated decimal.Decimal          `json:"total_unallocated"`
}

// ServiceParams wires the payments service.
type ServiceParams struct {
	Features   config.FeatureFlagsConfig
	Repo       Repository
	Allocator  allocator
	Projector  balanceProjector
	Outbox     outboxPublisher
	Authorizer shopAuthorizer
	Logger     *logger.Logger
}

type service struct {
	features  config.FeatureFlagsConfig
	repo      Repository
	allocator allocator
	projector balanceProjector
	outbox    outboxPublisher
	authz     shopAuthorizer
	logg      *logger.Logger
	now       func() time.Time
}

// NewService validates params and returns a payments Service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if params.Projector == nil {
		return nil, fmt.Errorf("balance projector required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Authorizer == nil {
		return nil, fmt.Errorf("shop authorizer required")
	}
	return &service{
		features:  params.Features,
		repo:      params.Repo,
		allocator: params.Allocator,
		projector: params.Projector,
		outbox:    params.Outbox,
		authz:     params.Authorizer,
		logg:      params.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*View, error) {
	if err := auth.RequireActor(input.Actor); err != nil {
		return nil, err
	}
	if err := validateParties(input.PayerType, input.PayeeType); err != nil {
		return nil, err
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method").
			WithDetails(map[string]any{"field": "method", "value": input.Method})
	}
	amount := input.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive").
			WithDetails(map[string]any{"field": "amount"})
	}
	status, err := normalizeStatus(input.Status)
	if err != nil {
		return nil, err
	}

	counterparty := input.CounterpartyID
	if input.TransactionID != nil {
		txns, err := s.repo.FindTransactions(ctx, []uuid.UUID{*input.TransactionID}, false)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		if len(txns) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		txn := txns[0]
		if input.ShopID == uuid.Nil {
			input.ShopID = txn.ShopID
		}
		if txn.ShopID != input.ShopID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction belongs to another shop")
		}
		derived := counterpartyFor(input.PayerType, input.PayeeType, txn)
		if counterparty != nil && *counterparty != derived {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "counterparty is not the transaction's party").
				WithDetails(map[string]any{"field": "counterparty_id"})
		}
		counterparty = &derived
	}
	if counterparty == nil || *counterparty == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction_id or counterparty_id required")
	}

	if input.PayerType == enums.PaymentPartyShop {
		if _, err := s.authz.RequireOwner(ctx, input.Actor, input.ShopID); err != nil {
			return nil, err
		}
	} else if _, err := s.authz.AuthorizeShopWrite(ctx, input.Actor, input.ShopID, *counterparty); err != nil {
		return nil, err
	}

	date := input.PaymentDate
	if date.IsZero() {
		date = s.now()
	}
	var notes *string
	if trimmed := strings.TrimSpace(input.Notes); trimmed != "" {
		notes = &trimmed
	}
	payment := &models.Payment{
		ID:             uuid.New(),
		ShopID:         input.ShopID,
		TransactionID:  input.TransactionID,
		CounterpartyID: counterparty,
		PayerType:      input.PayerType,
		PayeeType:      input.PayeeType,
		Amount:         amount,
		Method:         input.Method,
		Status:         status,
		PaymentDate:    date.UTC(),
		Notes:          notes,
		ForceOverride:  input.ForceOverride,
		CreatedBy:      input.Actor.UserID,
	}

	var (
		view *View
		paid paidOutcome
	)
	err = s.allocator.Atomic(ctx, func(tx *gorm.DB) error {
		paid = paidOutcome{}
		if err := s.guardDebt(ctx, tx, payment); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payment")
		}
		if payment.Status == enums.PaymentStatusPaid {
			var err error
			paid, err = s.onPaid(ctx, tx, payment, input.Actor)
			if err != nil {
				return err
			}
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         actorRef(input.Actor),
			Data:          recordedEvent(*payment),
		}); err != nil {
			return err
		}
		var err error
		view, err = s.view(ctx, repo, *payment)
		if err != nil {
			return err
		}
		view.Settlement = paid.settlement
		view.Repayment = paid.repayment
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.allocator.Observe(ctx, paid.allocation)

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id": payment.ID.String(),
			"shop_id":    payment.ShopID.String(),
			"amount":     payment.Amount.String(),
			"status":     string(payment.Status),
		})
		s.logg.Info(logCtx, "payment.recorded")
	}
	return view, nil
}

// guardDebt rejects a SHOP->FARMER payment that would push the farmer's
// balance below zero or is made while it already is.
func (s *service) guardDebt(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	if !s.features.DebtGuard || payment.ForceOverride {
		return nil
	}
	if payment.PayerType != enums.PaymentPartyShop || payment.PayeeType != enums.PaymentPartyFarmer {
		return nil
	}
	balance, err := s.projector.LockedBalance(ctx, tx, *payment.CounterpartyID, enums.BalanceTypeFarmer)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read farmer balance")
	}
	after := balance.Sub(payment.Amount)
	if balance.IsNegative() || after.LessThan(settlement.Tolerance.Neg()) {
		return pkgerrors.New(pkgerrors.CodeWorsensDebt, "payment would leave the farmer in debt").
			WithDetails(map[string]any{
				"farmer_id":       *payment.CounterpartyID,
				"current_balance": balance,
				"balance_after":   after,
				"amount":          payment.Amount,
			})
	}
	return nil
}

// onPaid applies the side effects of a payment reaching PAID: a repayment
// pays down the farmer's pending expenses and credits the rest to the farmer
// balance, a linked payment is allocated to its transaction.
func (s *service) onPaid(ctx context.Context, tx *gorm.DB, payment *models.Payment, actor *auth.Actor) (paidOutcome, error) {
	var out paidOutcome
	if payment.IsRepayment() {
		repaid, err := s.allocator.ApplyRepaymentTx(ctx, tx, payment, actor)
		if err != nil {
			return out, err
		}
		out.repayment = repaid
		return out, nil
	}
	if payment.TransactionID == nil || !s.features.AutoAllocatePaid {
		return out, nil
	}

	repo := s.repo.WithTx(tx)
	txns, err := repo.FindTransactions(ctx, []uuid.UUID{*payment.TransactionID}, true)
	if err != nil {
		return out, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
	}
	if len(txns) == 0 || !txns[0].Status.Allocatable() {
		return out, nil
	}
	rows, err := repo.ListTransactionAllocations(ctx, []uuid.UUID{txns[0].ID})
	if err != nil {
		return out, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	pending := txns[0].TotalAmount.Sub(settlement.SettledAmount(txns[0].ID, rows))
	amount := decimal.Min(payment.Amount, pending)
	if amount.LessThanOrEqual(settlement.Tolerance) {
		return out, nil
	}

	result, err := s.allocator.AllocateTx(ctx, tx, allocations.AllocateInput{
		SourceType:  enums.AllocationSourcePayment,
		SourceID:    payment.ID,
		ShopID:      payment.ShopID,
		TotalAmount: amount,
		Source:      sourceContext(payment),
		Targets:     []allocations.Target{{TransactionID: txns[0].ID, Amount: amount}},
		Actor:       actor,
	})
	if err != nil {
		return out, err
	}
	out.allocation = result
	if len(result.Settlements) > 0 {
		out.settlement = &result.Settlements[0]
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*View, error) {
	if err := auth.RequireActor(actor); err != nil {
		return nil, err
	}
	payment, err := s.find(ctx, s.repo, id, false)
	if err != nil {
		return nil, err
	}
	parties := []uuid.UUID{}
	if payment.CounterpartyID != nil {
		parties = append(parties, *payment.CounterpartyID)
	}
	if _, err := s.authz.AuthorizeShopWrite(ctx, actor, payment.ShopID, parties...); err != nil {
		return nil, err
	}
	return s.view(ctx, s.repo, *payment)
}

// UpdateStatus applies a forward-only transition out of PENDING.
func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*View, error) {
	if err := auth.RequireActor(input.Actor); err != nil {
		return nil, err
	}
	next, err := normalizeStatus(input.Status)
	if err != nil {
		return nil, err
	}
	current, err := s.find(ctx, s.repo, input.PaymentID, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.RequireOwner(ctx, input.Actor, current.ShopID); err != nil {
		return nil, err
	}

	var (
		view *View
		paid paidOutcome
	)
	err = s.allocator.Atomic(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := s.find(ctx, repo, input.PaymentID, true)
		if err != nil {
			return err
		}
		if payment.Status == next {
			view, err = s.view(ctx, repo, *payment)
			return err
		}
		if !payment.Status.CanTransitionTo(next) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment status can only move forward from PENDING").
				WithDetails(map[string]any{"from": payment.Status, "to": next})
		}

		from := payment.Status
		if err := repo.UpdateStatus(ctx, payment.ID, next); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		payment.Status = next

		paid = paidOutcome{}
		if next == enums.PaymentStatusPaid {
			paid, err = s.onPaid(ctx, tx, payment, input.Actor)
			if err != nil {
				return err
			}
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentStatusChanged,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         actorRef(input.Actor),
			Data: payloads.PaymentStatusChangedEvent{
				PaymentID:      payment.ID,
				ShopID:         payment.ShopID,
				CounterpartyID: payment.CounterpartyID,
				From:           from,
				To:             next,
			},
		}); err != nil {
			return err
		}
		view, err = s.view(ctx, repo, *payment)
		if err != nil {
			return err
		}
		view.Settlement = paid.settlement
		view.Repayment = paid.repayment
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.allocator.Observe(ctx, paid.allocation)
	return view, nil
}

func (s *service) Allocate(ctx context.Context, input AllocateInput) (*allocations.Result, error) {
	if err := auth.RequireActor(input.Actor); err != nil {
		return nil, err
	}
	payment, err := s.find(ctx, s.repo, input.PaymentID, false)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, target := range input.Targets {
		total = total.Add(target.Amount)
	}
	if input.TotalAmount != nil {
		total = *input.TotalAmount
	}
	return s.allocator.Allocate(ctx, allocations.AllocateInput{
		SourceType:  enums.AllocationSourcePayment,
		SourceID:    payment.ID,
		ShopID:      payment.ShopID,
		TotalAmount: total,
		Targets:     input.Targets,
		Order:       input.Order,
		DryRun:      input.DryRun,
		Actor:       input.Actor,
		Notes:       input.Notes,
	})
}

func (s *service) Outstanding(ctx context.Context, actor *auth.Actor, shopID uuid.UUID) (*Outstanding, error) {
	if _, err := s.authz.RequireOwner(ctx, actor, shopID); err != nil {
		return nil, err
	}
	txns, err := s.repo.ListOpenTransactions(ctx, shopID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	txnIDs := make([]uuid.UUID, 0, len(txns))
	for _, txn := range txns {
		txnIDs = append(txnIDs, txn.ID)
	}
	txnRows, err := s.repo.ListTransactionAllocations(ctx, txnIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}

	out := &Outstanding{
		Transactions:     []OutstandingTransaction{},
		Payments:         []View{},
		TotalPending:     decimal.Zero,
		TotalUnallocated: decimal.Zero,
	}
	for _, txn := range txns {
		summary := settlement.Summarize(txn, txnRows)
		if summary.PendingAmount.GreaterThan(settlement.Tolerance) {
			out.Transactions = append(out.Transactions, OutstandingTransaction{Transaction: txn, Settlement: summary})
			out.TotalPending = out.TotalPending.Add(summary.PendingAmount)
		}
	}

	payments, err := s.repo.ListOutstanding(ctx, shopID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	paymentIDs := make([]uuid.UUID, 0, len(payments))
	for _, payment := range payments {
		paymentIDs = append(paymentIDs, payment.ID)
	}
	sourceRows, err := s.repo.ListSourceAllocations(ctx, paymentIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment allocations")
	}
	for _, payment := range payments {
		view := buildView(payment, sourceRows)
		if payment.Status == enums.PaymentStatusPending ||
			(view.Allocatable && view.RemainingAmount.GreaterThan(settlement.Tolerance)) {
			out.Payments = append(out.Payments, view)
			if view.Allocatable {
				out.TotalUnallocated = out.TotalUnallocated.Add(view.RemainingAmount)
			}
		}
	}
	return out, nil
}

func (s *service) find(ctx context.Context, repo Repository, id uuid.UUID, lock bool) (*models.Payment, error) {
	payment, err := repo.FindByID(ctx, id, lock)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) view(ctx context.Context, repo Repository, payment models.Payment) (*View, error) {
	rows, err := repo.ListSourceAllocations(ctx, []uuid.UUID{payment.ID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment allocations")
	}
	view := buildView(payment, rows)
	return &view, nil
}

func buildView(payment models.Payment, rows []models.Allocation) View {
	view := View{
		Payment:         payment,
		AllocatedAmount: decimal.Zero,
		Allocatable:     payment.Status == enums.PaymentStatusPaid && !payment.IsRepayment(),
		Allocations:     []models.Allocation{},
	}
	for _, row := range rows {
		if row.SourceID != payment.ID {
			continue
		}
		view.AllocatedAmount = view.AllocatedAmount.Add(row.AllocatedAmount)
		view.Allocations = append(view.Allocations, row)
	}
	view.RemainingAmount = payment.Amount.Sub(view.AllocatedAmount)
	return view
}

func sourceContext(payment *models.Payment) *ledger.SourceContext {
	src := ledger.PaymentSource(*payment)
	return &src
}

func recordedEvent(payment models.Payment) payloads.PaymentRecordedEvent {
	return payloads.PaymentRecordedEvent{
		PaymentID:      payment.ID,
		ShopID:         payment.ShopID,
		TransactionID:  payment.TransactionID,
		CounterpartyID: payment.CounterpartyID,
		BulkPaymentID:  payment.BulkPaymentID,
		PayerType:      payment.PayerType,
		PayeeType:      payment.PayeeType,
		Amount:         payment.Amount,
		Status:         payment.Status,
	}
}

func actorRef(actor *auth.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.UserID, ShopID: actor.ShopID, Role: string(actor.Role)}
}
