package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/kisaan-ledger/api/middleware"
	"github.com/angelmondragon/kisaan-ledger/api/responses"
	"github.com/angelmondragon/kisaan-ledger/api/validators"
	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/internal/payments"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
)

type createPaymentRequest struct {
	ShopID         uuid.UUID       `json:"shop_id" validate:"required"`
	TransactionID  *uuid.UUID      `json:"transaction_id"`
	CounterpartyID *uuid.UUID      `json:"counterparty_id"`
	PayerType      string          `json:"payer_type" validate:"required,oneof=FARMER BUYER SHOP"`
	PayeeType      string          `json:"payee_type" validate:"required,oneof=FARMER SHOP"`
	Amount         decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	Method         string          `json:"method" validate:"required,oneof=CASH BANK_TRANSFER UPI CARD CHEQUE OTHER"`
	Status         string          `json:"status"`
	PaymentDate    *time.Time      `json:"payment_date"`
	Notes          string          `json:"notes" validate:"max=500"`
	ForceOverride  bool            `json:"force_override"`
}

type bulkPaymentLine struct {
	TransactionID uuid.UUID       `json:"transaction_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"decimal_gt0"`
}

type bulkPaymentRequest struct {
	ShopID      *uuid.UUID        `json:"shop_id"`
	Payments    []bulkPaymentLine `json:"payments" validate:"required,min=1,dive"`
	PayerType   string            `json:"payer_type" validate:"required,oneof=BUYER SHOP"`
	PayeeType   string            `json:"payee_type" validate:"required,oneof=FARMER SHOP"`
	Method      string            `json:"method" validate:"required,oneof=CASH BANK_TRANSFER UPI CARD CHEQUE OTHER"`
	Status      string            `json:"status"`
	PaymentDate *time.Time        `json:"payment_date"`
	Notes       string            `json:"notes" validate:"max=500"`
}

type paymentStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type allocationTarget struct {
	TransactionID uuid.UUID       `json:"transaction_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"decimal_gt0"`
}

type allocatePaymentRequest struct {
	Allocations []allocationTarget `json:"allocations" validate:"dive"`
	TotalAmount *decimal.Decimal   `json:"total_amount"`
	DryRun      bool               `json:"dryRun"`
	Order       string             `json:"order"`
	Notes       string             `json:"notes" validate:"max=500"`
}

// CreatePayment records a single payment.
func CreatePayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := payments.CreateInput{
			ShopID:         req.ShopID,
			TransactionID:  req.TransactionID,
			CounterpartyID: req.CounterpartyID,
			PayerType:      enums.PaymentParty(req.PayerType),
			PayeeType:      enums.PaymentParty(req.PayeeType),
			Amount:         req.Amount,
			Method:         enums.PaymentMethod(req.Method),
			Status:         enums.PaymentStatus(strings.TrimSpace(req.Status)),
			Notes:          notes(req.Notes),
			ForceOverride:  req.ForceOverride,
			Actor:          actor,
		}
		if req.PaymentDate != nil {
			input.PaymentDate = req.PaymentDate.UTC()
		}

		view, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, view)
	}
}

// CreateBulkPayment records a batch of payments keyed by the Idempotency-Key header.
func CreateBulkPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader))
		if key == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header is required"))
			return
		}

		var req bulkPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shopID := actor.ShopID
		if req.ShopID != nil {
			shopID = req.ShopID
		}
		if shopID == nil || *shopID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "shop_id is required").
				WithDetails(map[string]any{"shop_id": "required"}))
			return
		}

		lines := make([]payments.BulkLine, 0, len(req.Payments))
		for _, line := range req.Payments {
			lines = append(lines, payments.BulkLine{TransactionID: line.TransactionID, Amount: line.Amount})
		}
		input := payments.BulkInput{
			ShopID:         *shopID,
			IdempotencyKey: key,
			Lines:          lines,
			PayerType:      enums.PaymentParty(req.PayerType),
			PayeeType:      enums.PaymentParty(req.PayeeType),
			Method:         enums.PaymentMethod(req.Method),
			Status:         enums.PaymentStatus(strings.TrimSpace(req.Status)),
			Notes:          notes(req.Notes),
			Actor:          actor,
		}
		if req.PaymentDate != nil {
			input.PaymentDate = req.PaymentDate.UTC()
		}

		result, err := svc.Bulk(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result.Replayed {
			responses.WriteSuccess(w, result)
			return
		}
		responses.WriteCreated(w, result)
	}
}

func GetPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLUUID(r, "paymentId")
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

// UpdatePaymentStatus applies a forward-only status transition.
func UpdatePaymentStatus(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLUUID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req paymentStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParsePaymentStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status").
				WithDetails(map[string]any{"status": req.Status}))
			return
		}

		view, err := svc.UpdateStatus(r.Context(), payments.UpdateStatusInput{PaymentID: id, Status: status, Actor: actor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// AllocatePayment previews or commits an allocation of a PAID payment.
// An empty allocations list walks the counterparty's open transactions.
func AllocatePayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseURLUUID(r, "paymentId")
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

		result, err := svc.Allocate(r.Context(), payments.AllocateInput{
			PaymentID:   id,
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

// OutstandingPayments lists open transactions and unallocated payments of a shop.
func OutstandingPayments(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
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
		out, err := svc.Outstanding(r.Context(), actor, shopID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

func shopFromQuery(r *http.Request, fallback *uuid.UUID) (uuid.UUID, error) {
	shopID, err := validators.ParseQueryUUID(r, "shopId")
	if err != nil {
		return uuid.Nil, err
	}
	if shopID == nil {
		shopID = fallback
	}
	if shopID == nil || *shopID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "shopId is required").
			WithDetails(map[string]any{"field": "shopId"})
	}
	return *shopID, nil
}
