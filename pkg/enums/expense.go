package enums

import (
	"fmt"
	"strings"
)

// ExpenseType distinguishes shop expenses, advances and manual adjustments.
type ExpenseType string

const (
	ExpenseTypeExpense    ExpenseType = "expense"
	ExpenseTypeAdvance    ExpenseType = "advance"
	ExpenseTypeAdjustment ExpenseType = "adjustment"
)

var validExpenseTypes = []ExpenseType{
	ExpenseTypeExpense,
	ExpenseTypeAdvance,
	ExpenseTypeAdjustment,
}

// IsValid reports whether the type is known.
func (t ExpenseType) IsValid() bool {
	for _, candidate := range validExpenseTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseExpenseType converts raw input into an ExpenseType. Empty input defaults to expense.
func ParseExpenseType(value string) (ExpenseType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ExpenseTypeExpense, nil
	}
	for _, candidate := range validExpenseTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid expense type %q", value)
}

// ExpenseStatus tracks whether an expense still has an unallocated remainder.
type ExpenseStatus string

const (
	ExpenseStatusPending ExpenseStatus = "pending"
	ExpenseStatusSettled ExpenseStatus = "settled"
)
