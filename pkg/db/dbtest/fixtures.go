package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// MustCreateShop inserts a shop with a 10% commission owned by ownerID.
func MustCreateShop(t testing.TB, conn *gorm.DB, ownerID uuid.UUID) *models.Shop {
	t.Helper()
	shop := &models.Shop{
		OwnerID:        ownerID,
		Name:           "Mandi " + ownerID.String()[:8],
		CommissionRate: decimal.NewFromInt(10),
	}
	if err := conn.Create(shop).Error; err != nil {
		t.Fatalf("create shop: %v", err)
	}
	return shop
}

// MustCreateTransaction inserts a completed transaction for total with a
// 10% commission split.
func MustCreateTransaction(t testing.TB, conn *gorm.DB, shop *models.Shop, farmerID, buyerID uuid.UUID, total string, date time.Time) *models.Transaction {
	t.Helper()
	amount := decimal.RequireFromString(total)
	commission := amount.Mul(decimal.NewFromInt(10)).Div(decimal.NewFromInt(100)).Round(2)
	txn := &models.Transaction{
		ShopID:           shop.ID,
		FarmerID:         farmerID,
		BuyerID:          buyerID,
		Quantity:         decimal.NewFromInt(1),
		UnitPrice:        amount,
		TotalAmount:      amount,
		CommissionRate:   decimal.NewFromInt(10),
		CommissionAmount: commission,
		FarmerEarning:    amount.Sub(commission),
		Status:           enums.TransactionStatusCompleted,
		TransactionDate:  date.UTC(),
		CreatedBy:        shop.OwnerID,
	}
	if err := conn.Create(txn).Error; err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return txn
}

// MustCreatePayment inserts a PAID BUYER to SHOP payment for amount.
func MustCreatePayment(t testing.TB, conn *gorm.DB, shop *models.Shop, counterpartyID uuid.UUID, amount string) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		ShopID:         shop.ID,
		CounterpartyID: &counterpartyID,
		PayerType:      enums.PaymentPartyBuyer,
		PayeeType:      enums.PaymentPartyShop,
		Amount:         decimal.RequireFromString(amount),
		Method:         enums.PaymentMethodCash,
		Status:         enums.PaymentStatusPaid,
		PaymentDate:    time.Now().UTC(),
		CreatedBy:      shop.OwnerID,
	}
	if err := conn.Create(payment).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return payment
}

// MustCreateExpense inserts a pending expense owed by userID.
func MustCreateExpense(t testing.TB, conn *gorm.DB, shop *models.Shop, userID uuid.UUID, amount string) *models.Expense {
	t.Helper()
	expense := &models.Expense{
		ShopID:    shop.ID,
		UserID:    userID,
		Amount:    decimal.RequireFromString(amount),
		Type:      enums.ExpenseTypeExpense,
		Status:    enums.ExpenseStatusPending,
		CreatedBy: shop.OwnerID,
	}
	if err := conn.Create(expense).Error; err != nil {
		t.Fatalf("create expense: %v", err)
	}
	return expense
}

// MustCreateAllocation inserts an allocation row directly.
func MustCreateAllocation(t testing.TB, conn *gorm.DB, sourceType enums.AllocationSourceType, sourceID, transactionID uuid.UUID, amount string) *models.Allocation {
	t.Helper()
	alloc := &models.Allocation{
		SourceType:      sourceType,
		SourceID:        sourceID,
		TransactionID:   transactionID,
		AllocatedAmount: decimal.RequireFromString(amount),
		AllocationDate:  time.Now().UTC(),
		CreatedBy:       uuid.New(),
	}
	if err := conn.Create(alloc).Error; err != nil {
		t.Fatalf("create allocation: %v", err)
	}
	return alloc
}

// RequireDecimal fails the test when got is not numerically equal to want.
func RequireDecimal(t testing.TB, want string, got decimal.Decimal) {
	t.Helper()
	if !decimal.RequireFromString(want).Equal(got) {
		t.Fatalf("expected %s, got %s", want, got.String())
	}
}

// MustCreateCredit inserts store credit granted to buyerID.
func MustCreateCredit(t testing.TB, conn *gorm.DB, shop *models.Shop, buyerID uuid.UUID, amount string) *models.Credit {
	t.Helper()
	credit := &models.Credit{
		ShopID:    shop.ID,
		BuyerID:   buyerID,
		Amount:    decimal.RequireFromString(amount),
		CreatedBy: shop.OwnerID,
	}
	if err := conn.Create(credit).Error; err != nil {
		t.Fatalf("create credit: %v", err)
	}
	return credit
}
