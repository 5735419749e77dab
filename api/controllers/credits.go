package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/kisaan-ledger/api/responses"
	"github.com/angelmondragon/kisaan-ledger/api/validators"
	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/internal/credits"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
)

type createCreditRequest struct {
	ShopID      uuid.UUID       `json:"shop_id" validate:"required"`
	BuyerID     uuid.UUID       `json:"buyer_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	Description string          `json:"description" validate:"max=500"`
	AutoApply   bool            `json:"auto_apply"`
}

// CreateCredit grants store credit to a buyer.
func CreateCredit(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createCreditRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Create(r.Context(), credits.CreateInput{
			ShopID:      req.ShopID,
			BuyerID:     req.BuyerID,
			Amount:      req.Amount,
			Description: notes(req.Description),
			AutoApply:   req.AutoApply,
			Actor:       actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, view)
	}
}

func GetCredit(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLUUID(r, "creditId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func ListCredits(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		buyerID, err := validators.ParseQueryUUID(r, "buyerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if buyerID == nil {
			buyerID = &actor.UserID
		}
		views, err := svc.ListByBuyer(r.Context(), actor, *buyerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views)
	}
}

// ApplyCredit offsets a credit against the buyer's transactions.
func ApplyCredit(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLUUID(r, "creditId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req allocatePaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var order enums.AllocationOrder
		if req.Order != "" {
			if order, err = enums.ParseAllocationOrder(req.Order); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid allocation order").
					WithDetails(map[string]any{"order": req.Order}))
				return
			}
		}
		targets := make([]allocations.Target, 0, len(req.Allocations))
		for _, target := range req.Allocations {
			targets = append(targets, allocations.Target{TransactionID: target.TransactionID, Amount: target.Amount})
		}

		result, err := svc.Apply(r.Context(), credits.ApplyInput{
			CreditID:    id,
			Targets:     targets,
			TotalAmount: req.TotalAmount,
			Order:       order,
			DryRun:      req.DryRun,
			Notes:       notes(req.Notes),
			Actor:       actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
