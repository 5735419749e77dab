package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// BalanceAffecting is implemented by payloads whose commit changed user balances.
type BalanceAffecting interface {
	AffectedUsers() []uuid.UUID
}

// TransactionRecordedEvent is emitted when a sale is recorded.
type TransactionRecordedEvent struct {
	TransactionID    uuid.UUID               `json:"transaction_id"`
	ShopID           uuid.UUID               `json:"shop_id"`
	FarmerID         uuid.UUID               `json:"farmer_id"`
	BuyerID          uuid.UUID               `json:"buyer_id"`
	TotalAmount      decimal.Decimal         `json:"total_amount"`
	CommissionAmount decimal.Decimal         `json:"commission_amount"`
	FarmerEarning    decimal.Decimal         `json:"farmer_earning"`
	Status           enums.TransactionStatus `json:"status"`
}

func (e TransactionRecordedEvent) AffectedUsers() []uuid.UUID {
	return []uuid.UUID{e.FarmerID, e.BuyerID}
}

// TransactionStatusChangedEvent reports a lifecycle change of a sale.
type TransactionStatusChangedEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	ShopID        uuid.UUID               `json:"shop_id"`
	FarmerID      uuid.UUID               `json:"farmer_id"`
	BuyerID       uuid.UUID               `json:"buyer_id"`
	From          enums.TransactionStatus `json:"from"`
	To            enums.TransactionStatus `json:"to"`
}

func (e TransactionStatusChangedEvent) AffectedUsers() []uuid.UUID {
	return []uuid.UUID{e.FarmerID, e.BuyerID}
}

// PaymentRecordedEvent is emitted for every persisted payment.
type PaymentRecordedEvent struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	ShopID         uuid.UUID           `json:"shop_id"`
	TransactionID  *uuid.UUID          `json:"transaction_id,omitempty"`
	CounterpartyID *uuid.UUID          `json:"counterparty_id,omitempty"`
	BulkPaymentID  *uuid.UUID          `json:"bulk_payment_id,omitempty"`
	PayerType      enums.PaymentParty  `json:"payer_type"`
	PayeeType      enums.PaymentParty  `json:"payee_type"`
	Amount         decimal.Decimal     `json:"amount"`
	Status         enums.PaymentStatus `json:"status"`
}

func (e PaymentRecordedEvent) AffectedUsers() []uuid.UUID {
	if e.CounterpartyID == nil {
		return nil
	}
	return []uuid.UUID{*e.CounterpartyID}
}

// PaymentStatusChangedEvent reports a forward status transition.
type PaymentStatusChangedEvent struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	ShopID         uuid.UUID           `json:"shop_id"`
	CounterpartyID *uuid.UUID          `json:"counterparty_id,omitempty"`
	From           enums.PaymentStatus `json:"from"`
	To             enums.PaymentStatus `json:"to"`
}

func (e PaymentStatusChangedEvent) AffectedUsers() []uuid.UUID {
	if e.CounterpartyID == nil {
		return nil
	}
	return []uuid.UUID{*e.CounterpartyID}
}

// BulkPaymentCommittedEvent is emitted once per committed batch.
type BulkPaymentCommittedEvent struct {
	BulkPaymentID  uuid.UUID       `json:"bulk_payment_id"`
	ShopID         uuid.UUID       `json:"shop_id"`
	PaymentIDs     []uuid.UUID     `json:"payment_ids"`
	TransactionIDs []uuid.UUID     `json:"transaction_ids"`
	UserIDs        []uuid.UUID     `json:"user_ids"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	LineCount      int             `json:"line_count"`
}

func (e BulkPaymentCommittedEvent) AffectedUsers() []uuid.UUID {
	return e.UserIDs
}

// AllocationCommittedEvent summarizes one engine commit.
type AllocationCommittedEvent struct {
	SourceType     enums.AllocationSourceType `json:"source_type"`
	SourceID       uuid.UUID                  `json:"source_id"`
	ShopID         uuid.UUID                  `json:"shop_id"`
	AllocationIDs  []uuid.UUID                `json:"allocation_ids"`
	TransactionIDs []uuid.UUID                `json:"transaction_ids"`
	UserIDs        []uuid.UUID                `json:"user_ids"`
	TotalAllocated decimal.Decimal            `json:"total_allocated"`
}

func (e AllocationCommittedEvent) AffectedUsers() []uuid.UUID {
	return e.UserIDs
}

// AllocationReversedEvent is emitted when a compensating adjustment is written.
type AllocationReversedEvent struct {
	AllocationID  uuid.UUID                  `json:"allocation_id"`
	ReversalID    uuid.UUID                  `json:"reversal_id"`
	SourceType    enums.AllocationSourceType `json:"source_type"`
	SourceID      uuid.UUID                  `json:"source_id"`
	TransactionID uuid.UUID                  `json:"transaction_id"`
	Amount        decimal.Decimal            `json:"amount"`
	UserIDs       []uuid.UUID                `json:"user_ids"`
}

func (e AllocationReversedEvent) AffectedUsers() []uuid.UUID {
	return e.UserIDs
}

// ExpenseRecordedEvent is emitted when an expense or advance is created.
type ExpenseRecordedEvent struct {
	ExpenseID uuid.UUID         `json:"expense_id"`
	ShopID    uuid.UUID         `json:"shop_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Amount    decimal.Decimal   `json:"amount"`
	Type      enums.ExpenseType `json:"type"`
}

func (e ExpenseRecordedEvent) AffectedUsers() []uuid.UUID {
	return []uuid.UUID{e.UserID}
}

// ExpenseOffsetEvent reports an expense being applied against transactions.
type ExpenseOffsetEvent struct {
	ExpenseID       uuid.UUID                     `json:"expense_id"`
	ShopID          uuid.UUID                     `json:"shop_id"`
	UserID          uuid.UUID                     `json:"user_id"`
	AllocatedAmount decimal.Decimal               `json:"allocated_amount"`
	RemainingAmount decimal.Decimal               `json:"remaining_amount"`
	Status          enums.ExpenseAllocationStatus `json:"status"`
	TransactionIDs  []uuid.UUID                   `json:"transaction_ids"`
}

func (e ExpenseOffsetEvent) AffectedUsers() []uuid.UUID {
	return []uuid.UUID{e.UserID}
}

// ExpenseRepaidEvent reports a farmer repayment settling pending expenses.
type ExpenseRepaidEvent struct {
	PaymentID       uuid.UUID       `json:"payment_id"`
	ShopID          uuid.UUID       `json:"shop_id"`
	UserID          uuid.UUID       `json:"user_id"`
	ExpenseIDs      []uuid.UUID     `json:"expense_ids"`
	AppliedAmount   decimal.Decimal `json:"applied_amount"`
	UnappliedAmount decimal.Decimal `json:"unapplied_amount"`
}

func (e ExpenseRepaidEvent) AffectedUsers() []uuid.UUID {
	return []uuid.UUID{e.UserID}
}

// CreditIssuedEvent is emitted when a shop extends credit to a buyer.
type CreditIssuedEvent struct {
	CreditID uuid.UUID       `json:"credit_id"`
	ShopID   uuid.UUID       `json:"shop_id"`
	BuyerID  uuid.UUID       `json:"buyer_id"`
	Amount   decimal.Decimal `json:"amount"`
}

func (e CreditIssuedEvent) AffectedUsers() []uuid.UUID {
	return []uuid.UUID{e.BuyerID}
}
