package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/kisaan-ledger/api/responses"
	"github.com/angelmondragon/kisaan-ledger/api/validators"
	"github.com/angelmondragon/kisaan-ledger/internal/expenses"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
)

type createExpenseRequest struct {
	ShopID      uuid.UUID       `json:"shop_id" validate:"required"`
	UserID      uuid.UUID       `json:"user_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	Type        string          `json:"type"`
	Description string          `json:"description" validate:"max=500"`
}

func CreateExpense(svc expenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createExpenseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		expenseType, err := enums.ParseExpenseType(req.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid expense type").
				WithDetails(map[string]any{"type": req.Type}))
			return
		}

		summary, err := svc.Create(r.Context(), expenses.CreateInput{
			ShopID:      req.ShopID,
			UserID:      req.UserID,
			Amount:      req.Amount,
			Type:        expenseType,
			Description: notes(req.Description),
			Actor:       actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, summary)
	}
}

// GetExpenseAllocation returns how much of an expense has been applied.
func GetExpenseAllocation(svc expenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLUUID(r, "expenseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

func ListExpenses(svc expenses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := validators.ParseQueryUUID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if userID == nil {
			userID = &actor.UserID
		}

		var status *enums.ExpenseStatus
		switch raw := enums.ExpenseStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))); raw {
		case "":
		case enums.ExpenseStatusPending, enums.ExpenseStatusSettled:
			status = &raw
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "status must be pending or settled").
				WithDetails(map[string]any{"field": "status"}))
			return
		}

		summaries, err := svc.ListByUser(r.Context(), actor, *userID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summaries)
	}
}
