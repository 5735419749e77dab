package enums

import (
	"fmt"
	"strings"
)

// AllocationSourceType identifies what funded an allocation record.
type AllocationSourceType string

const (
	AllocationSourcePayment       AllocationSourceType = "PAYMENT"
	AllocationSourceExpenseOffset AllocationSourceType = "EXPENSE_OFFSET"
	AllocationSourceCreditOffset  AllocationSourceType = "CREDIT_OFFSET"
	AllocationSourceAdjustment    AllocationSourceType = "ADJUSTMENT"
)

var validAllocationSourceTypes = []AllocationSourceType{
	AllocationSourcePayment,
	AllocationSourceExpenseOffset,
	AllocationSourceCreditOffset,
	AllocationSourceAdjustment,
}

// String implements fmt.Stringer.
func (t AllocationSourceType) String() string {
	return string(t)
}

// IsValid reports whether the source type is known.
func (t AllocationSourceType) IsValid() bool {
	for _, candidate := range validAllocationSourceTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseAllocationSourceType converts raw input into an AllocationSourceType.
func ParseAllocationSourceType(value string) (AllocationSourceType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validAllocationSourceTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid allocation source type %q", value)
}

// SettlementStatus is derived from allocation records, never stored.
type SettlementStatus string

const (
	SettlementFullySettled     SettlementStatus = "FULLY_SETTLED"
	SettlementPartiallySettled SettlementStatus = "PARTIALLY_SETTLED"
	SettlementUnsettled        SettlementStatus = "UNSETTLED"
)

// ExpenseAllocationStatus is the derived allocation state of an expense.
type ExpenseAllocationStatus string

const (
	ExpenseUnallocated        ExpenseAllocationStatus = "UNALLOCATED"
	ExpensePartiallyAllocated ExpenseAllocationStatus = "PARTIALLY_ALLOCATED"
	ExpenseFullyAllocated     ExpenseAllocationStatus = "FULLY_ALLOCATED"
)

// AllocationOrder selects how implicit allocations walk outstanding transactions.
type AllocationOrder string

const (
	AllocationOrderFIFO         AllocationOrder = "fifo"
	AllocationOrderLargestFirst AllocationOrder = "largest_first"
)

// ParseAllocationOrder converts raw config input into an AllocationOrder.
func ParseAllocationOrder(value string) (AllocationOrder, error) {
	switch AllocationOrder(strings.ToLower(strings.TrimSpace(value))) {
	case "", AllocationOrderFIFO:
		return AllocationOrderFIFO, nil
	case AllocationOrderLargestFirst:
		return AllocationOrderLargestFirst, nil
	}
	return "", fmt.Errorf("invalid allocation order %q", value)
}
