package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// SourceContext carries what the party rules need to know about the source
// that funded an allocation.
type SourceContext struct {
	SourceType enums.AllocationSourceType
	PayerType  enums.PaymentParty
	PayeeType  enums.PaymentParty
	// ExpenseUserID is the user owing an EXPENSE_OFFSET source.
	ExpenseUserID uuid.UUID
}

// PaymentSource builds the context for a PAYMENT allocation.
func PaymentSource(payment models.Payment) SourceContext {
	return SourceContext{
		SourceType: enums.AllocationSourcePayment,
		PayerType:  payment.PayerType,
		PayeeType:  payment.PayeeType,
	}
}

// ExpenseSource builds the context for an EXPENSE_OFFSET allocation.
func ExpenseSource(expense models.Expense) SourceContext {
	return SourceContext{
		SourceType:    enums.AllocationSourceExpenseOffset,
		ExpenseUserID: expense.UserID,
	}
}

// CreditSource builds the context for a CREDIT_OFFSET allocation.
func CreditSource() SourceContext {
	return SourceContext{SourceType: enums.AllocationSourceCreditOffset}
}

// TransactionCreatedEffects credits the farmer with their earning and charges
// the buyer the full total.
func TransactionCreatedEffects(txn models.Transaction) []ProjectInput {
	desc := fmt.Sprintf("sale %s", txn.ID)
	return []ProjectInput{
		{
			UserID:          txn.FarmerID,
			BalanceType:     enums.BalanceTypeFarmer,
			AmountChange:    txn.FarmerEarning,
			TransactionType: enums.BalanceChangeSale,
			ReferenceID:     txn.ID,
			ReferenceType:   enums.BalanceReferenceTransaction,
			Description:     desc,
		},
		{
			UserID:          txn.BuyerID,
			BalanceType:     enums.BalanceTypeBuyer,
			AmountChange:    txn.TotalAmount,
			TransactionType: enums.BalanceChangeSale,
			ReferenceID:     txn.ID,
			ReferenceType:   enums.BalanceReferenceTransaction,
			Description:     desc,
		},
	}
}

// TransactionCancelledEffects is the inverse of TransactionCreatedEffects.
func TransactionCancelledEffects(txn models.Transaction) []ProjectInput {
	effects := TransactionCreatedEffects(txn)
	for i := range effects {
		effects[i].AmountChange = effects[i].AmountChange.Neg()
		effects[i].TransactionType = enums.BalanceChangeCancellation
		effects[i].Description = fmt.Sprintf("cancellation of sale %s", txn.ID)
	}
	return effects
}

// AllocationEffects returns the balance movements caused by alloc against txn.
// Reversal rows are not handled here; see Projector.ReverseReference.
func AllocationEffects(src SourceContext, txn models.Transaction, alloc models.Allocation) []ProjectInput {
	amount := alloc.AllocatedAmount
	base := ProjectInput{
		AmountChange:  amount.Neg(),
		ReferenceID:   alloc.ID,
		ReferenceType: enums.BalanceReferenceAllocation,
	}

	var effects []ProjectInput
	add := func(userID uuid.UUID, balanceType enums.BalanceType, changeType enums.BalanceChangeType, desc string) {
		in := base
		in.UserID = userID
		in.BalanceType = balanceType
		in.TransactionType = changeType
		in.Description = desc
		effects = append(effects, in)
	}

	switch src.SourceType {
	case enums.AllocationSourcePayment:
		desc := fmt.Sprintf("payment %s applied to sale %s", alloc.SourceID, txn.ID)
		if src.PayerType == enums.PaymentPartyBuyer {
			add(txn.BuyerID, enums.BalanceTypeBuyer, enums.BalanceChangePayment, desc)
		}
		if src.PayeeType == enums.PaymentPartyFarmer {
			add(txn.FarmerID, enums.BalanceTypeFarmer, enums.BalanceChangePayment, desc)
		}
	case enums.AllocationSourceExpenseOffset:
		desc := fmt.Sprintf("expense %s offset against sale %s", alloc.SourceID, txn.ID)
		switch src.ExpenseUserID {
		case txn.FarmerID:
			add(txn.FarmerID, enums.BalanceTypeFarmer, enums.BalanceChangeExpenseOffset, desc)
		case txn.BuyerID:
			add(txn.BuyerID, enums.BalanceTypeBuyer, enums.BalanceChangeExpenseOffset, desc)
		}
	case enums.AllocationSourceCreditOffset:
		add(txn.BuyerID, enums.BalanceTypeBuyer, enums.BalanceChangeCreditOffset,
			fmt.Sprintf("credit %s offset against sale %s", alloc.SourceID, txn.ID))
	}
	return effects
}

// RepaymentEffects credits the farmer with the part of a PAID FARMER to SHOP
// repayment that did not pay down a pending expense or advance.
func RepaymentEffects(payment models.Payment, unapplied decimal.Decimal) []ProjectInput {
	if !payment.IsRepayment() || payment.CounterpartyID == nil || !unapplied.IsPositive() {
		return nil
	}
	return []ProjectInput{{
		UserID:          *payment.CounterpartyID,
		BalanceType:     enums.BalanceTypeFarmer,
		AmountChange:    unapplied,
		TransactionType: enums.BalanceChangeRepayment,
		ReferenceID:     payment.ID,
		ReferenceType:   enums.BalanceReferencePayment,
		Description:     fmt.Sprintf("repayment %s", payment.ID),
	}}
}

// Sum adds up the changes in effects that land on (userID, balanceType).
func Sum(effects []ProjectInput, userID uuid.UUID, balanceType enums.BalanceType) decimal.Decimal {
	total := decimal.Zero
	for _, effect := range effects {
		if effect.UserID == userID && effect.BalanceType == balanceType {
			total = total.Add(effect.AmountChange)
		}
	}
	return total
}

// AffectedUsers returns the distinct users touched by effects, in first-seen order.
func AffectedUsers(effects []ProjectInput) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(effects))
	users := make([]uuid.UUID, 0, len(effects))
	for _, effect := range effects {
		if _, ok := seen[effect.UserID]; ok {
			continue
		}
		seen[effect.UserID] = struct{}{}
		users = append(users, effect.UserID)
	}
	return users
}
