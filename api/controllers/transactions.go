package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/kisaan-ledger/api/responses"
	"github.com/angelmondragon/kisaan-ledger/api/validators"
	"github.com/angelmondragon/kisaan-ledger/internal/expenses"
	"github.com/angelmondragon/kisaan-ledger/internal/transactions"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
)

type createTransactionRequest struct {
	ShopID          uuid.UUID        `json:"shop_id" validate:"required"`
	FarmerID        uuid.UUID        `json:"farmer_id" validate:"required"`
	BuyerID         uuid.UUID        `json:"buyer_id" validate:"required"`
	Quantity        decimal.Decimal  `json:"quantity" validate:"decimal_gt0"`
	UnitPrice       decimal.Decimal  `json:"unit_price" validate:"decimal_gt0"`
	CommissionRate  *decimal.Decimal `json:"commission_rate"`
	Status          string           `json:"status"`
	TransactionDate *time.Time       `json:"transaction_date"`
	Notes           string           `json:"notes" validate:"max=500"`
}

type transactionStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type offsetExpenseRequest struct {
	ExpenseID uuid.UUID       `json:"expense_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	Notes     string          `json:"notes" validate:"max=500"`
}

func CreateTransaction(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createTransactionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := transactions.CreateInput{
			ShopID:         req.ShopID,
			FarmerID:       req.FarmerID,
			BuyerID:        req.BuyerID,
			Quantity:       req.Quantity,
			UnitPrice:      req.UnitPrice,
			CommissionRate: req.CommissionRate,
			Notes:          notes(req.Notes),
			Actor:          actor,
		}
		if req.Status != "" {
			status, err := enums.ParseTransactionStatus(req.Status)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction status").
					WithDetails(map[string]any{"status": req.Status}))
				return
			}
			input.Status = status
		}
		if req.TransactionDate != nil {
			input.TransactionDate = req.TransactionDate.UTC()
		}

		view, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, view)
	}
}

func GetTransaction(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := loadTransaction(w, r, svc, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// GetTransactionSettlement returns only the derived settlement view.
func GetTransactionSettlement(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := loadTransaction(w, r, svc, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, view.Settlement)
	}
}

func loadTransaction(w http.ResponseWriter, r *http.Request, svc transactions.Service, logg *logger.Logger) (*transactions.View, bool) {
	actor, err := requireActor(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	id, err := validators.ParseURLUUID(r, "transactionId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	view, err := svc.Get(r.Context(), actor, id)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	return view, true
}

func UpdateTransactionStatus(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req transactionStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseTransactionStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction status").
				WithDetails(map[string]any{"status": req.Status}))
			return
		}

		view, err := svc.UpdateStatus(r.Context(), transactions.UpdateStatusInput{TransactionID: id, Status: status, Actor: actor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// ListTransactions returns the open transactions of a shop, optionally for one party.
func ListTransactions(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shopID, err := shopFromQuery(r, actor.ShopID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		farmerID, err := validators.ParseQueryUUID(r, "farmerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		buyerID, err := validators.ParseQueryUUID(r, "buyerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views, err := svc.ListOutstanding(r.Context(), actor, transactions.OutstandingFilter{
			ShopID:   shopID,
			FarmerID: farmerID,
			BuyerID:  buyerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views)
	}
}

// OffsetExpense applies part of an expense against a transaction.
func OffsetExpense(svc expenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req offsetExpenseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Offset(r.Context(), expenses.OffsetInput{
			TransactionID: id,
			ExpenseID:     req.ExpenseID,
			Amount:        req.Amount,
			Notes:         notes(req.Notes),
			Actor:         actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, result)
	}
}
