package enums

import (
	"fmt"
	"strings"
)

// PaymentParty names one side of a payment.
type PaymentParty string

const (
	PaymentPartyBuyer  PaymentParty = "BUYER"
	PaymentPartyShop   PaymentParty = "SHOP"
	PaymentPartyFarmer PaymentParty = "FARMER"
)

var validPaymentParties = []PaymentParty{
	PaymentPartyBuyer,
	PaymentPartyShop,
	PaymentPartyFarmer,
}

// String implements fmt.Stringer.
func (p PaymentParty) String() string {
	return string(p)
}

// IsValid reports whether the party is known.
func (p PaymentParty) IsValid() bool {
	for _, candidate := range validPaymentParties {
		if candidate == p {
			return true
		}
	}
	return false
}

// CanReceive reports whether the party may appear as a payee.
func (p PaymentParty) CanReceive() bool {
	return p == PaymentPartyShop || p == PaymentPartyFarmer
}

// ParsePaymentParty converts raw input into a PaymentParty.
func ParsePaymentParty(value string) (PaymentParty, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validPaymentParties {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment party %q", value)
}
