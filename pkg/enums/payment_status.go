package enums

import (
	"fmt"
	"strings"
)

// PaymentStatus tracks the lifecycle of a recorded payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusCancelled,
}

// legacy spellings accepted on input
var paymentStatusAliases = map[string]PaymentStatus{
	"COMPLETED": PaymentStatusPaid,
	"CANCELED":  PaymentStatusCancelled,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status can no longer change.
func (p PaymentStatus) IsTerminal() bool {
	return p != PaymentStatusPending
}

// CanTransitionTo enforces forward-only transitions out of PENDING.
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if p != PaymentStatusPending {
		return false
	}
	return next == PaymentStatusPaid || next == PaymentStatusFailed || next == PaymentStatusCancelled
}

// ParsePaymentStatus converts raw input into a PaymentStatus, normalizing
// case and the legacy COMPLETED/CANCELED spellings.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if alias, ok := paymentStatusAliases[normalized]; ok {
		return alias, nil
	}
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
