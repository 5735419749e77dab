package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/kisaan-ledger/api/responses"
	"github.com/angelmondragon/kisaan-ledger/api/validators"
	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/pagination"
)

type ledgerRequest struct {
	actor       *auth.Actor
	userID      uuid.UUID
	balanceType enums.BalanceType
}

func parseLedgerRequest(r *http.Request) (*ledgerRequest, error) {
	actor, err := requireActor(r)
	if err != nil {
		return nil, err
	}
	userID, err := validators.ParseURLUUID(r, "userId")
	if err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(r.URL.Query().Get("balanceType"))
	if raw == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "balanceType is required").
			WithDetails(map[string]any{"field": "balanceType"})
	}
	balanceType, err := enums.ParseBalanceType(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "balanceType must be farmer or buyer").
			WithDetails(map[string]any{"field": "balanceType"})
	}
	return &ledgerRequest{actor: actor, userID: userID, balanceType: balanceType}, nil
}

// LedgerBalance returns the current balance, or the balance at ?at= when given.
func LedgerBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseLedgerRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		at, err := validators.ParseQueryTime(r, "at")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var view *ledger.BalanceView
		if at != nil {
			view, err = svc.BalanceAt(r.Context(), req.actor, req.userID, req.balanceType, at.UTC())
		} else {
			view, err = svc.Balance(r.Context(), req.actor, req.userID, req.balanceType)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func LedgerSnapshots(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseLedgerRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.History(r.Context(), req.actor, req.userID, req.balanceType, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func LedgerReconcile(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseLedgerRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.Reconcile(r.Context(), req.actor, req.userID, req.balanceType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func LedgerFinancials(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseLedgerRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		picture, err := svc.FinancialPicture(r.Context(), req.actor, req.userID, req.balanceType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, picture)
	}
}
