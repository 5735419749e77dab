package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/settlement"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/metrics"
	"github.com/angelmondragon/kisaan-ledger/pkg/pagination"
)

// Authorizer decides whether an actor may see a user's balances.
type Authorizer interface {
	AuthorizeUserView(ctx context.Context, actor *auth.Actor, userID uuid.UUID) error
}

// Service exposes the read side of the ledger plus drift detection.
type Service interface {
	Balance(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType) (*BalanceView, error)
	BalanceAt(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType, at time.Time) (*BalanceView, error)
	History(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType, params pagination.Params) (*HistoryPage, error)
	Reconcile(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType) (*ReconcileReport, error)
	FinancialPicture(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType) (*FinancialPicture, error)

	// ReconcileUser checks both balance types of userID for background workers.
	ReconcileUser(ctx context.Context, userID uuid.UUID) ([]ReconcileReport, error)
	ListAccountUsers(ctx context.Context, afterUserID uuid.UUID, limit int) ([]uuid.UUID, error)
}

// BalanceView is a balance as of now or as of a point in time.
type BalanceView struct {
	UserID      uuid.UUID         `json:"user_id"`
	BalanceType enums.BalanceType `json:"balance_type"`
	Balance     decimal.Decimal   `json:"balance"`
	Sequence    int64             `json:"sequence"`
	AsOf        *time.Time        `json:"as_of,omitempty"`
}

// HistoryPage is one page of snapshots, newest first.
type HistoryPage struct {
	Items      []models.BalanceSnapshot `json:"items"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

// ReconcileReport compares the stored balance with a recomputation from source rows.
type ReconcileReport struct {
	UserID          uuid.UUID                                   `json:"user_id"`
	BalanceType     enums.BalanceType                           `json:"balance_type"`
	StoredBalance   decimal.Decimal                             `json:"stored_balance"`
	ComputedBalance decimal.Decimal                             `json:"computed_balance"`
	Drift           decimal.Decimal                             `json:"drift"`
	HasDrift        bool                                        `json:"has_drift"`
	ChainValid      bool                                        `json:"chain_valid"`
	ChainError      string                                      `json:"chain_error,omitempty"`
	SnapshotCount   int                                         `json:"snapshot_count"`
	Breakdown       map[enums.BalanceChangeType]decimal.Decimal `json:"breakdown"`
	CheckedAt       time.Time                                   `json:"checked_at"`
}

// FinancialPicture summarizes a user's position on one balance type.
type FinancialPicture struct {
	UserID                   uuid.UUID         `json:"user_id"`
	BalanceType              enums.BalanceType `json:"balance_type"`
	CurrentBalance           decimal.Decimal   `json:"current_balance"`
	PendingTransactionAmount decimal.Decimal   `json:"pending_transaction_amount"`
	OpenTransactionCount     int               `json:"open_transaction_count"`
	UnallocatedExpenseAmount decimal.Decimal   `json:"unallocated_expense_amount"`
	TotalPayments            decimal.Decimal   `json:"total_payments"`
	TotalExpenses            decimal.Decimal   `json:"total_expenses"`
	NetPosition              decimal.Decimal   `json:"net_position"`
}

type service struct {
	repo    Repository
	authz   Authorizer
	metrics *metrics.AllocationMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires the ledger read service. metrics and logg may be nil.
func NewService(repo Repository, authz Authorizer, m *metrics.AllocationMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if authz == nil {
		return nil, fmt.Errorf("ledger authorizer required")
	}
	return &service{
		repo:    repo,
		authz:   authz,
		metrics: m,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) authorize(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType) error {
	if err := auth.RequireActor(actor); err != nil {
		return err
	}
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !balanceType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "balance type must be farmer or buyer")
	}
	return s.authz.AuthorizeUserView(ctx, actor, userID)
}

func (s *service) Balance(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType) (*BalanceView, error) {
	if err := s.authorize(ctx, actor, userID, balanceType); err != nil {
		return nil, err
	}
	view := &BalanceView{UserID: userID, BalanceType: balanceType, Balance: decimal.Zero}
	account, err := s.repo.FindAccount(ctx, userID, balanceType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return view, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger account")
	}
	view.Balance = account.CurrentBalance
	view.Sequence = account.LastSequence
	return view, nil
}

func (s *service) BalanceAt(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType, at time.Time) (*BalanceView, error) {
	if err := s.authorize(ctx, actor, userID, balanceType); err != nil {
		return nil, err
	}
	if at.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "point in time required")
	}
	asOf := at.UTC()
	view := &BalanceView{UserID: userID, BalanceType: balanceType, Balance: decimal.Zero, AsOf: &asOf}
	snapshot, err := s.repo.LatestSnapshotAt(ctx, userID, balanceType, asOf)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return view, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance snapshot")
	}
	view.Balance = snapshot.NewBalance
	view.Sequence = snapshot.Sequence
	return view, nil
}

func (s *service) History(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType, params pagination.Params) (*HistoryPage, error) {
	if err := s.authorize(ctx, actor, userID, balanceType); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var before int64
	if cursor != nil {
		before = cursor.Sequence
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListSnapshots(ctx, userID, balanceType, before, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list balance snapshots")
	}

	page := &HistoryPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{Sequence: page.Items[limit-1].Sequence})
	}
	if page.Items == nil {
		page.Items = []models.BalanceSnapshot{}
	}
	return page, nil
}

func (s *service) Reconcile(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType) (*ReconcileReport, error) {
	if err := s.authorize(ctx, actor, userID, balanceType); err != nil {
		return nil, err
	}
	return s.reconcile(ctx, userID, balanceType)
}

func (s *service) ReconcileUser(ctx context.Context, userID uuid.UUID) ([]ReconcileReport, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	reports := make([]ReconcileReport, 0, 2)
	for _, balanceType := range []enums.BalanceType{enums.BalanceTypeFarmer, enums.BalanceTypeBuyer} {
		report, err := s.reconcile(ctx, userID, balanceType)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

func (s *service) ListAccountUsers(ctx context.Context, afterUserID uuid.UUID, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.ListAccountUsers(ctx, afterUserID, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger accounts")
	}
	return ids, nil
}

func (s *service) reconcile(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType) (*ReconcileReport, error) {
	computed, breakdown, err := s.recompute(ctx, userID, balanceType)
	if err != nil {
		return nil, err
	}

	stored := decimal.Zero
	account, err := s.repo.FindAccount(ctx, userID, balanceType)
	switch {
	case err == nil:
		stored = account.CurrentBalance
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger account")
	}

	chain, err := s.repo.ListChain(ctx, userID, balanceType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance snapshots")
	}

	report := &ReconcileReport{
		UserID:          userID,
		BalanceType:     balanceType,
		StoredBalance:   stored,
		ComputedBalance: computed,
		Drift:           stored.Sub(computed),
		ChainValid:      true,
		SnapshotCount:   len(chain),
		Breakdown:       breakdown,
		CheckedAt:       s.now(),
	}
	report.HasDrift = report.Drift.Abs().GreaterThan(settlement.Tolerance)

	if chainErr := VerifyChain(chain); chainErr != nil {
		report.ChainValid = false
		report.ChainError = chainErr.Error()
	} else if len(chain) > 0 && !chain[len(chain)-1].NewBalance.Equal(stored) {
		report.ChainValid = false
		report.ChainError = "last snapshot does not match stored balance"
	}

	if report.HasDrift || !report.ChainValid {
		s.metrics.IncDrift(string(balanceType))
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"user_id":      userID.String(),
				"balance_type": string(balanceType),
				"stored":       stored.String(),
				"computed":     computed.String(),
				"chain_valid":  report.ChainValid,
			})
			s.logg.Warn(logCtx, "ledger.drift_detected")
		}
	}
	return report, nil
}

// recompute derives the expected balance from transactions, allocations,
// payments and expenses by replaying the party rules.
func (s *service) recompute(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType) (decimal.Decimal, map[enums.BalanceChangeType]decimal.Decimal, error) {
	breakdown := map[enums.BalanceChangeType]decimal.Decimal{}
	var effects []ProjectInput

	txns, err := s.repo.ListPartyTransactions(ctx, userID, balanceType)
	if err != nil {
		return decimal.Zero, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transactions")
	}
	txnByID := make(map[uuid.UUID]models.Transaction, len(txns))
	txnIDs := make([]uuid.UUID, 0, len(txns))
	for _, txn := range txns {
		txnByID[txn.ID] = txn
		txnIDs = append(txnIDs, txn.ID)
		effects = append(effects, TransactionCreatedEffects(txn)...)
		if txn.Status == enums.TransactionStatusCancelled {
			effects = append(effects, TransactionCancelledEffects(txn)...)
		}
	}

	allocations, err := s.repo.ListAllocationsFor(ctx, txnIDs)
	if err != nil {
		return decimal.Zero, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	sources, err := s.loadSources(ctx, allocations)
	if err != nil {
		return decimal.Zero, nil, err
	}

	allocByID := make(map[uuid.UUID]models.Allocation, len(allocations))
	for _, alloc := range allocations {
		allocByID[alloc.ID] = alloc
	}
	for _, alloc := range allocations {
		if alloc.IsReversal() {
			original, ok := allocByID[*alloc.ReversalOfID]
			if !ok {
				continue
			}
			src, ok := sources[original.ID]
			if !ok {
				continue
			}
			for _, effect := range AllocationEffects(src, txnByID[original.TransactionID], original) {
				effect.AmountChange = effect.AmountChange.Neg()
				effect.TransactionType = enums.BalanceChangeAdjustment
				effects = append(effects, effect)
			}
			continue
		}
		src, ok := sources[alloc.ID]
		if !ok {
			continue
		}
		effects = append(effects, AllocationEffects(src, txnByID[alloc.TransactionID], alloc)...)
	}

	if balanceType == enums.BalanceTypeFarmer {
		payments, err := s.repo.ListPaidPayments(ctx, userID)
		if err != nil {
			return decimal.Zero, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payments")
		}
		paymentIDs := make([]uuid.UUID, 0, len(payments))
		for _, payment := range payments {
			paymentIDs = append(paymentIDs, payment.ID)
		}
		repaid, err := s.repo.ListRepaymentsByPayments(ctx, paymentIDs)
		if err != nil {
			return decimal.Zero, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense repayments")
		}
		applied := make(map[uuid.UUID]decimal.Decimal, len(repaid))
		for _, row := range repaid {
			if current, ok := applied[row.PaymentID]; ok {
				applied[row.PaymentID] = current.Add(row.Amount)
			} else {
				applied[row.PaymentID] = row.Amount
			}
		}
		for _, payment := range payments {
			unapplied := payment.Amount
			if amount, ok := applied[payment.ID]; ok {
				unapplied = unapplied.Sub(amount)
			}
			effects = append(effects, RepaymentEffects(payment, unapplied)...)
		}
	}

	total := decimal.Zero
	for _, effect := range effects {
		if effect.UserID != userID || effect.BalanceType != balanceType {
			continue
		}
		total = total.Add(effect.AmountChange)
		current, ok := breakdown[effect.TransactionType]
		if !ok {
			current = decimal.Zero
		}
		breakdown[effect.TransactionType] = current.Add(effect.AmountChange)
	}
	return total, breakdown, nil
}

// loadSources resolves the SourceContext of every non-reversal allocation, keyed by allocation id.
func (s *service) loadSources(ctx context.Context, allocations []models.Allocation) (map[uuid.UUID]SourceContext, error) {
	var paymentIDs, expenseIDs []uuid.UUID
	for _, alloc := range allocations {
		switch alloc.SourceType {
		case enums.AllocationSourcePayment:
			paymentIDs = append(paymentIDs, alloc.SourceID)
		case enums.AllocationSourceExpenseOffset:
			expenseIDs = append(expenseIDs, alloc.SourceID)
		}
	}

	payments, err := s.repo.ListPaymentsByID(ctx, paymentIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payments")
	}
	paymentByID := make(map[uuid.UUID]models.Payment, len(payments))
	for _, p := range payments {
		paymentByID[p.ID] = p
	}
	expenses, err := s.repo.ListExpensesByID(ctx, expenseIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expenses")
	}
	expenseByID := make(map[uuid.UUID]models.Expense, len(expenses))
	for _, e := range expenses {
		expenseByID[e.ID] = e
	}

	sources := make(map[uuid.UUID]SourceContext, len(allocations))
	for _, alloc := range allocations {
		switch alloc.SourceType {
		case enums.AllocationSourcePayment:
			if p, ok := paymentByID[alloc.SourceID]; ok {
				sources[alloc.ID] = PaymentSource(p)
			}
		case enums.AllocationSourceExpenseOffset:
			if e, ok := expenseByID[alloc.SourceID]; ok {
				sources[alloc.ID] = ExpenseSource(e)
			}
		case enums.AllocationSourceCreditOffset:
			sources[alloc.ID] = CreditSource()
		}
	}
	return sources, nil
}

func (s *service) FinancialPicture(ctx context.Context, actor *auth.Actor, userID uuid.UUID, balanceType enums.BalanceType) (*FinancialPicture, error) {
	if err := s.authorize(ctx, actor, userID, balanceType); err != nil {
		return nil, err
	}

	picture := &FinancialPicture{
		UserID:                   userID,
		BalanceType:              balanceType,
		CurrentBalance:           decimal.Zero,
		PendingTransactionAmount: decimal.Zero,
		UnallocatedExpenseAmount: decimal.Zero,
		TotalPayments:            decimal.Zero,
		TotalExpenses:            decimal.Zero,
	}

	account, err := s.repo.FindAccount(ctx, userID, balanceType)
	switch {
	case err == nil:
		picture.CurrentBalance = account.CurrentBalance
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger account")
	}

	txns, err := s.repo.ListPartyTransactions(ctx, userID, balanceType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transactions")
	}
	txnIDs := make([]uuid.UUID, 0, len(txns))
	for _, txn := range txns {
		txnIDs = append(txnIDs, txn.ID)
	}
	allocations, err := s.repo.ListAllocationsFor(ctx, txnIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	for _, txn := range txns {
		if txn.Status == enums.TransactionStatusCancelled {
			continue
		}
		pending := txn.TotalAmount.Sub(settlement.SettledAmount(txn.ID, allocations))
		if pending.GreaterThan(settlement.Tolerance) {
			picture.PendingTransactionAmount = picture.PendingTransactionAmount.Add(pending)
			picture.OpenTransactionCount++
		}
	}

	expenses, err := s.repo.ListUserExpenses(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expenses")
	}
	expenseIDs := make([]uuid.UUID, 0, len(expenses))
	for _, expense := range expenses {
		expenseIDs = append(expenseIDs, expense.ID)
		picture.TotalExpenses = picture.TotalExpenses.Add(expense.Amount)
	}
	offsets, err := s.repo.ListAllocationsBySources(ctx, expenseIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense allocations")
	}
	repayments, err := s.repo.ListRepaymentsByExpenses(ctx, expenseIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense repayments")
	}
	for _, expense := range expenses {
		if expense.Status != enums.ExpenseStatusPending {
			continue
		}
		summary := settlement.SummarizeExpense(expense, offsets, repayments)
		if summary.RemainingAmount.IsPositive() {
			picture.UnallocatedExpenseAmount = picture.UnallocatedExpenseAmount.Add(summary.RemainingAmount)
		}
	}

	payments, err := s.repo.ListPaidPayments(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payments")
	}
	for _, payment := range payments {
		if balanceType == enums.BalanceTypeFarmer && payment.PayeeType == enums.PaymentPartyFarmer ||
			balanceType == enums.BalanceTypeBuyer && payment.PayerType == enums.PaymentPartyBuyer {
			picture.TotalPayments = picture.TotalPayments.Add(payment.Amount)
		}
	}

	picture.NetPosition = picture.CurrentBalance
	if balanceType == enums.BalanceTypeFarmer {
		picture.NetPosition = picture.CurrentBalance.Sub(picture.UnallocatedExpenseAmount)
	}
	return picture, nil
}
