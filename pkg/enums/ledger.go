package enums

import (
	"fmt"
	"strings"
)

// BalanceType selects which running balance a ledger row belongs to.
// A farmer balance is what the shop owes the farmer; a buyer balance is what
// the buyer owes the shop.
type BalanceType string

const (
	BalanceTypeFarmer BalanceType = "farmer"
	BalanceTypeBuyer  BalanceType = "buyer"
)

// IsValid reports whether the balance type is known.
func (b BalanceType) IsValid() bool {
	return b == BalanceTypeFarmer || b == BalanceTypeBuyer
}

// ParseBalanceType converts raw input into a BalanceType.
func ParseBalanceType(value string) (BalanceType, error) {
	switch BalanceType(strings.ToLower(strings.TrimSpace(value))) {
	case BalanceTypeFarmer:
		return BalanceTypeFarmer, nil
	case BalanceTypeBuyer:
		return BalanceTypeBuyer, nil
	}
	return "", fmt.Errorf("invalid balance type %q", value)
}

// BalanceChangeType labels why a snapshot moved a balance.
type BalanceChangeType string

const (
	BalanceChangeSale          BalanceChangeType = "sale"
	BalanceChangePayment       BalanceChangeType = "payment"
	BalanceChangeExpenseOffset BalanceChangeType = "expense_offset"
	BalanceChangeCreditOffset  BalanceChangeType = "credit_offset"
	BalanceChangeAdjustment    BalanceChangeType = "adjustment"
	BalanceChangeCancellation  BalanceChangeType = "cancellation"
	BalanceChangeRepayment     BalanceChangeType = "repayment"
)

// BalanceReferenceType names the record a snapshot points back to.
type BalanceReferenceType string

const (
	BalanceReferenceTransaction BalanceReferenceType = "transaction"
	BalanceReferenceAllocation  BalanceReferenceType = "allocation"
	BalanceReferencePayment     BalanceReferenceType = "payment"
)
