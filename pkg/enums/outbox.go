package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateTransaction OutboxAggregateType = "transaction"
	AggregatePayment     OutboxAggregateType = "payment"
	AggregateBulkPayment OutboxAggregateType = "bulk_payment"
	AggregateExpense     OutboxAggregateType = "expense"
	AggregateAllocation  OutboxAggregateType = "allocation"
	AggregateCredit      OutboxAggregateType = "credit"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateTransaction,
	AggregatePayment,
	AggregateBulkPayment,
	AggregateExpense,
	AggregateAllocation,
	AggregateCredit,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventTransactionRecorded      OutboxEventType = "transaction_recorded"
	EventTransactionStatusChanged OutboxEventType = "transaction_status_changed"
	EventPaymentRecorded          OutboxEventType = "payment_recorded"
	EventPaymentStatusChanged     OutboxEventType = "payment_status_changed"
	EventBulkPaymentCommitted     OutboxEventType = "bulk_payment_committed"
	EventAllocationCommitted      OutboxEventType = "allocation_committed"
	EventAllocationReversed       OutboxEventType = "allocation_reversed"
	EventExpenseRecorded          OutboxEventType = "expense_recorded"
	EventExpenseOffset            OutboxEventType = "expense_offset"
	EventExpenseRepaid            OutboxEventType = "expense_repaid"
	EventCreditIssued             OutboxEventType = "credit_issued"
)

var validOutboxEventTypes = []OutboxEventType{
	EventTransactionRecorded,
	EventTransactionStatusChanged,
	EventPaymentRecorded,
	EventPaymentStatusChanged,
	EventBulkPaymentCommitted,
	EventAllocationCommitted,
	EventAllocationReversed,
	EventExpenseRecorded,
	EventExpenseOffset,
	EventExpenseRepaid,
	EventCreditIssued,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
