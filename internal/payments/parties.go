package payments

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
)

// validateParties accepts BUYER->SHOP, BUYER->FARMER, SHOP->FARMER and
// FARMER->SHOP.
func validateParties(payer, payee enums.PaymentParty) error {
	if !payer.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid payer type").
			WithDetails(map[string]any{"field": "payer_type", "value": payer})
	}
	if !payee.CanReceive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "payee must be SHOP or FARMER").
			WithDetails(map[string]any{"field": "payee_type", "value": payee})
	}
	if payer == payee {
		return pkgerrors.New(pkgerrors.CodeValidation, "payer and payee must differ").
			WithDetails(map[string]any{"payer_type": payer, "payee_type": payee})
	}
	return nil
}

// counterpartyFor names the party of txn whose balance a payment moves.
func counterpartyFor(payer, payee enums.PaymentParty, txn models.Transaction) uuid.UUID {
	if payer == enums.PaymentPartyBuyer {
		return txn.BuyerID
	}
	if payer == enums.PaymentPartyFarmer || payee == enums.PaymentPartyFarmer {
		return txn.FarmerID
	}
	return uuid.Nil
}

func normalizeStatus(status enums.PaymentStatus) (enums.PaymentStatus, error) {
	if status == "" {
		return enums.PaymentStatusPending, nil
	}
	parsed, err := enums.ParsePaymentStatus(string(status))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status").
			WithDetails(map[string]any{"field": "status", "value": status})
	}
	return parsed, nil
}
