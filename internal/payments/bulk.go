package payments

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/internal/settlement"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/db"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/payloads"
)

const bulkKeyConstraint = "ux_bulk_payments_shop_key"

// BulkLine is one {transaction, amount} pair of a bulk payment.
type BulkLine struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// BulkInput records several payments that share payer, payee and method.
// Status defaults to PAID.
type BulkInput struct {
	ShopID         uuid.UUID
	IdempotencyKey string
	Lines          []BulkLine
	PayerType      enums.PaymentParty
	PayeeType      enums.PaymentParty
	Method         enums.PaymentMethod
	Status         enums.PaymentStatus
	PaymentDate    time.Time
	Notes          string
	Actor          *auth.Actor
}

// BulkResult is the committed batch. Replayed is set when the batch was
// committed by an earlier request with the same key and payload.
type BulkResult struct {
	BulkPayment models.BulkPayment   `json:"bulk_payment"`
	Payments    []View               `json:"payments"`
	Settlements []settlement.Summary `json:"settlements"`
	Replayed    bool                 `json:"replayed"`

	committed []*allocations.Result
}

type bulkRun struct {
	state enums.BulkPaymentState
}

func (r *bulkRun) advance(next enums.BulkPaymentState) error {
	if !r.state.CanTransitionTo(next) {
		return pkgerrors.New(pkgerrors.CodeInternal, "illegal bulk payment transition").
			WithDetails(map[string]any{"from": r.state, "to": next})
	}
	r.state = next
	return nil
}

func (s *service) Bulk(ctx context.Context, input BulkInput) (*BulkResult, error) {
	if err := auth.RequireActor(input.Actor); err != nil {
		return nil, err
	}
	run := &bulkRun{state: enums.BulkPaymentReceived}

	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if input.IdempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required").
			WithDetails(map[string]any{"header": "Idempotency-Key"})
	}
	if err := validateBulk(&input); err != nil {
		return nil, err
	}
	hash, err := requestHash(input)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fingerprint bulk payment")
	}

	txnIDs := make([]uuid.UUID, 0, len(input.Lines))
	for _, line := range input.Lines {
		txnIDs = append(txnIDs, line.TransactionID)
	}
	found, err := s.repo.FindTransactions(ctx, txnIDs, false)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transactions")
	}
	byID := make(map[uuid.UUID]models.Transaction, len(found))
	for _, txn := range found {
		byID[txn.ID] = txn
	}
	shopID := input.ShopID
	counterparties := map[uuid.UUID]struct{}{}
	for idx, line := range input.Lines {
		txn, ok := byID[line.TransactionID]
		if !ok {
			return nil, lineError(pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found"), idx, line.TransactionID)
		}
		if shopID == uuid.Nil {
			shopID = txn.ShopID
		}
		if txn.ShopID != shopID {
			return nil, lineError(pkgerrors.New(pkgerrors.CodeValidation, "all lines must belong to the same shop"), idx, line.TransactionID)
		}
		if party := counterpartyFor(input.PayerType, input.PayeeType, txn); party != uuid.Nil {
			counterparties[party] = struct{}{}
		}
	}

	if input.PayerType == enums.PaymentPartyShop {
		if _, err := s.authz.RequireOwner(ctx, input.Actor, shopID); err != nil {
			return nil, err
		}
	} else {
		parties := make([]uuid.UUID, 0, len(counterparties))
		for party := range counterparties {
			parties = append(parties, party)
		}
		if _, err := s.authz.AuthorizeShopWrite(ctx, input.Actor, shopID, parties...); err != nil {
			return nil, err
		}
	}

	if replay, err := s.replayBulk(ctx, shopID, input.IdempotencyKey, hash); replay != nil || err != nil {
		return replay, err
	}
	if err := run.advance(enums.BulkPaymentValidated); err != nil {
		return nil, err
	}

	var result *BulkResult
	err = s.allocator.Atomic(ctx, func(tx *gorm.DB) error {
		attempt := &bulkRun{state: run.state}
		var err error
		result, err = s.commitBulk(ctx, tx, attempt, input, shopID, hash)
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err, bulkKeyConstraint) || db.IsUniqueViolation(err, "bulk_payments.shop_id") {
			if replay, rerr := s.replayBulk(ctx, shopID, input.IdempotencyKey, hash); replay != nil || rerr != nil {
				return replay, rerr
			}
		}
		return nil, err
	}
	for _, alloc := range result.committed {
		s.allocator.Observe(ctx, alloc)
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"bulk_payment_id": result.BulkPayment.ID.String(),
			"shop_id":         shopID.String(),
			"line_count":      result.BulkPayment.LineCount,
			"total_amount":    result.BulkPayment.TotalAmount.String(),
		})
		s.logg.Info(logCtx, "bulk_payment.committed")
	}
	return result, nil
}

func (s *service) commitBulk(ctx context.Context, tx *gorm.DB, run *bulkRun, input BulkInput, shopID uuid.UUID, hash string) (*BulkResult, error) {
	repo := s.repo.WithTx(tx)
	paid := input.Status == enums.PaymentStatusPaid

	txnIDs := make([]uuid.UUID, 0, len(input.Lines))
	for _, line := range input.Lines {
		txnIDs = append(txnIDs, line.TransactionID)
	}
	locked, err := repo.FindTransactions(ctx, txnIDs, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transactions")
	}
	byID := make(map[uuid.UUID]models.Transaction, len(locked))
	for _, txn := range locked {
		byID[txn.ID] = txn
	}
	rows, err := repo.ListTransactionAllocations(ctx, txnIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}

	// Lines against the same transaction accumulate.
	claimed := map[uuid.UUID]decimal.Decimal{}
	total := decimal.Zero
	for idx, line := range input.Lines {
		total = total.Add(line.Amount)
		if !paid {
			continue
		}
		txn := byID[line.TransactionID]
		if !txn.Status.Allocatable() {
			return nil, rejectLine(pkgerrors.New(pkgerrors.CodeNotAllocatable, "transaction is not open for allocation").
				WithDetails(map[string]any{"status": txn.Status}), idx, line.TransactionID)
		}
		pending := txn.TotalAmount.Sub(settlement.SettledAmount(txn.ID, rows)).Sub(claimed[txn.ID])
		if line.Amount.GreaterThan(pending.Add(settlement.Tolerance)) {
			return nil, rejectLine(pkgerrors.New(pkgerrors.CodeInsufficientPending, "amount exceeds pending balance").
				WithDetails(map[string]any{"pending_amount": pending, "requested_amount": line.Amount}), idx, line.TransactionID)
		}
		claimed[txn.ID] = claimed[txn.ID].Add(line.Amount)
	}
	if err := run.advance(enums.BulkPaymentAllocated); err != nil {
		return nil, err
	}

	now := s.now()
	date := input.PaymentDate
	if date.IsZero() {
		date = now
	}
	var notes *string
	if trimmed := strings.TrimSpace(input.Notes); trimmed != "" {
		notes = &trimmed
	}
	bulk := &models.BulkPayment{
		ID:             uuid.New(),
		ShopID:         shopID,
		IdempotencyKey: input.IdempotencyKey,
		RequestHash:    hash,
		State:          enums.BulkPaymentCommitted,
		PayerType:      input.PayerType,
		PayeeType:      input.PayeeType,
		Method:         input.Method,
		PaymentStatus:  input.Status,
		TotalAmount:    total,
		LineCount:      len(input.Lines),
		Notes:          notes,
		CreatedBy:      input.Actor.UserID,
	}
	if err := repo.CreateBulk(ctx, bulk); err != nil {
		return nil, err
	}

	result := &BulkResult{
		BulkPayment: *bulk,
		Payments:    make([]View, 0, len(input.Lines)),
		Settlements: []settlement.Summary{},
	}
	event := payloads.BulkPaymentCommittedEvent{
		BulkPaymentID: bulk.ID,
		ShopID:        shopID,
		TotalAmount:   total,
		LineCount:     len(input.Lines),
	}
	users := map[uuid.UUID]struct{}{}
	for idx, line := range input.Lines {
		txn := byID[line.TransactionID]
		txnID := txn.ID
		counterparty := counterpartyFor(input.PayerType, input.PayeeType, txn)
		payment := &models.Payment{
			ID:             uuid.New(),
			ShopID:         shopID,
			TransactionID:  &txnID,
			CounterpartyID: &counterparty,
			BulkPaymentID:  &bulk.ID,
			PayerType:      input.PayerType,
			PayeeType:      input.PayeeType,
			Amount:         line.Amount,
			Method:         input.Method,
			Status:         input.Status,
			PaymentDate:    date.UTC(),
			Notes:          notes,
			CreatedBy:      input.Actor.UserID,
			// Keeps line order stable for replays.
			CreatedAt: now.Add(time.Duration(idx) * time.Microsecond),
		}
		if err := s.guardDebt(ctx, tx, payment); err != nil {
			return nil, rejectLine(err, idx, line.TransactionID)
		}
		if err := repo.Create(ctx, payment); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payment")
		}

		view := View{
			Payment:         *payment,
			AllocatedAmount: decimal.Zero,
			RemainingAmount: payment.Amount,
			Allocatable:     paid,
			Allocations:     []models.Allocation{},
		}
		if paid {
			alloc, err := s.allocator.AllocateTx(ctx, tx, allocations.AllocateInput{
				SourceType:  enums.AllocationSourcePayment,
				SourceID:    payment.ID,
				ShopID:      shopID,
				TotalAmount: line.Amount,
				Source:      sourceContext(payment),
				Targets:     []allocations.Target{{TransactionID: txnID, Amount: line.Amount}},
				Actor:       input.Actor,
			})
			if err != nil {
				return nil, rejectLine(err, idx, line.TransactionID)
			}
			result.committed = append(result.committed, alloc)
			view.Allocations = alloc.Allocations
			view.AllocatedAmount = alloc.SourceAllocated
			view.RemainingAmount = alloc.SourceRemaining
			result.Settlements = mergeSettlements(result.Settlements, alloc.Settlements)
		}
		result.Payments = append(result.Payments, view)
		event.PaymentIDs = append(event.PaymentIDs, payment.ID)
		event.TransactionIDs = append(event.TransactionIDs, txnID)
		if counterparty != uuid.Nil {
			users[counterparty] = struct{}{}
		}
	}
	if err := run.advance(enums.BulkPaymentCommitted); err != nil {
		return nil, err
	}

	for user := range users {
		event.UserIDs = append(event.UserIDs, user)
	}
	sort.Slice(event.UserIDs, func(i, j int) bool { return event.UserIDs[i].String() < event.UserIDs[j].String() })
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventBulkPaymentCommitted,
		AggregateType: enums.AggregateBulkPayment,
		AggregateID:   bulk.ID,
		Actor:         actorRef(input.Actor),
		Data:          event,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// replayBulk returns the committed batch stored under key, or nil when the key
// is unused.
func (s *service) replayBulk(ctx context.Context, shopID uuid.UUID, key, hash string) (*BulkResult, error) {
	bulk, err := s.repo.FindBulkByKey(ctx, shopID, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bulk payment")
	}
	if bulk.RequestHash != hash {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different payload").
			WithDetails(map[string]any{"bulk_payment_id": bulk.ID})
	}

	payments, err := s.repo.ListByBulk(ctx, bulk.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bulk payments")
	}
	ids := make([]uuid.UUID, 0, len(payments))
	txnIDs := make([]uuid.UUID, 0, len(payments))
	for _, payment := range payments {
		ids = append(ids, payment.ID)
		if payment.TransactionID != nil {
			txnIDs = append(txnIDs, *payment.TransactionID)
		}
	}
	sourceRows, err := s.repo.ListSourceAllocations(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bulk allocations")
	}
	result := &BulkResult{
		BulkPayment: *bulk,
		Payments:    make([]View, 0, len(payments)),
		Settlements: []settlement.Summary{},
		Replayed:    true,
	}
	for _, payment := range payments {
		result.Payments = append(result.Payments, buildView(payment, sourceRows))
	}

	txns, err := s.repo.FindTransactions(ctx, txnIDs, false)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transactions")
	}
	txnRows, err := s.repo.ListTransactionAllocations(ctx, txnIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	for _, txn := range txns {
		result.Settlements = append(result.Settlements, settlement.Summarize(txn, txnRows))
	}
	return result, nil
}

func validateBulk(input *BulkInput) error {
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one payment line required").
			WithDetails(map[string]any{"field": "payments"})
	}
	if err := validateParties(input.PayerType, input.PayeeType); err != nil {
		return err
	}
	if input.PayerType == enums.PaymentPartyFarmer {
		return pkgerrors.New(pkgerrors.CodeValidation, "farmer repayments cannot be recorded in bulk").
			WithDetails(map[string]any{"field": "payer_type"})
	}
	if !input.Method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method").
			WithDetails(map[string]any{"field": "method", "value": input.Method})
	}
	if input.Status == "" {
		input.Status = enums.PaymentStatusPaid
	}
	status, err := normalizeStatus(input.Status)
	if err != nil {
		return err
	}
	if status != enums.PaymentStatusPaid && status != enums.PaymentStatusPending {
		return pkgerrors.New(pkgerrors.CodeValidation, "bulk payments must be PAID or PENDING").
			WithDetails(map[string]any{"field": "status", "value": status})
	}
	input.Status = status
	for idx := range input.Lines {
		line := &input.Lines[idx]
		line.Amount = line.Amount.Round(2)
		if line.TransactionID == uuid.Nil {
			return lineError(pkgerrors.New(pkgerrors.CodeValidation, "transaction_id required"), idx, line.TransactionID)
		}
		if !line.Amount.IsPositive() {
			return lineError(pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive"), idx, line.TransactionID)
		}
	}
	return nil
}

type fingerprint struct {
	Lines     []fingerprintLine `json:"lines"`
	PayerType string            `json:"payer_type"`
	PayeeType string            `json:"payee_type"`
	Method    string            `json:"method"`
	Status    string            `json:"status"`
	Notes     string            `json:"notes"`
}

type fingerprintLine struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
}

// requestHash fingerprints the normalized payload so a replayed key can be
// told apart from a reused one.
func requestHash(input BulkInput) (string, error) {
	fp := fingerprint{
		Lines:     make([]fingerprintLine, 0, len(input.Lines)),
		PayerType: string(input.PayerType),
		PayeeType: string(input.PayeeType),
		Method:    string(input.Method),
		Status:    string(input.Status),
		Notes:     strings.TrimSpace(input.Notes),
	}
	for _, line := range input.Lines {
		fp.Lines = append(fp.Lines, fingerprintLine{
			TransactionID: line.TransactionID.String(),
			Amount:        line.Amount.StringFixed(2),
		})
	}
	raw, err := json.Marshal(fp)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// lineError attaches the failing line to a validation-stage error.
func lineError(err *pkgerrors.Error, idx int, txnID uuid.UUID) error {
	return withLine(err, idx, txnID, "")
}

// rejectLine reports a commit-stage business failure as a REJECTED batch.
// Dependency errors and lock conflicts pass through so the retry policy still
// sees them.
func rejectLine(err error, idx int, txnID uuid.UUID) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return err
	}
	switch typed.Code() {
	case pkgerrors.CodeDependency, pkgerrors.CodeInternal, pkgerrors.CodeConcurrentAllocation:
		return err
	}
	return withLine(typed, idx, txnID, enums.BulkPaymentRejected)
}

func withLine(err *pkgerrors.Error, idx int, txnID uuid.UUID, state enums.BulkPaymentState) error {
	details := map[string]any{}
	if existing, ok := err.Details().(map[string]any); ok {
		for k, v := range existing {
			details[k] = v
		}
	}
	details["line_index"] = idx
	details["transaction_id"] = txnID
	if state != "" {
		details["state"] = state
	}
	return pkgerrors.New(err.Code(), err.Message()).WithDetails(details)
}

func mergeSettlements(into, add []settlement.Summary) []settlement.Summary {
	for _, summary := range add {
		replaced := false
		for i := range into {
			if into[i].TransactionID == summary.TransactionID {
				into[i] = summary
				replaced = true
				break
			}
		}
		if !replaced {
			into = append(into, summary)
		}
	}
	return into
}
