package controllers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/internal/credits"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
)

type stubCredits struct {
	credits.Service
	create  *credits.CreateInput
	apply   *credits.ApplyInput
	buyerID uuid.UUID
}

func (s *stubCredits) Create(_ context.Context, in credits.CreateInput) (*credits.View, error) {
	s.create = &in
	return &credits.View{}, nil
}

func (s *stubCredits) Get(context.Context, *auth.Actor, uuid.UUID) (*credits.View, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit not found")
}

func (s *stubCredits) ListByBuyer(_ context.Context, _ *auth.Actor, buyerID uuid.UUID) ([]credits.View, error) {
	s.buyerID = buyerID
	return nil, nil
}

func (s *stubCredits) Apply(_ context.Context, in credits.ApplyInput) (*allocations.Result, error) {
	s.apply = &in
	return &allocations.Result{Outcome: allocations.OutcomeAllocated}, nil
}

func TestCreateCredit(t *testing.T) {
	svc := &stubCredits{}
	actor := ownerActor()
	shopID, buyerID := uuid.New(), uuid.New()
	body := fmt.Sprintf(`{"shop_id":%q,"buyer_id":%q,"amount":"250.50","description":"  spoiled lot ","auto_apply":true}`, shopID, buyerID)

	resp := serve(CreateCredit(svc, nil), newRequest(http.MethodPost, "/api/v1/credits", body, actor, nil))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	require.NotNil(t, svc.create)
	assert.Equal(t, buyerID, svc.create.BuyerID)
	assert.Equal(t, "250.5", svc.create.Amount.String())
	assert.Equal(t, "spoiled lot", svc.create.Description)
	assert.True(t, svc.create.AutoApply)

	resp = serve(CreateCredit(svc, nil), newRequest(http.MethodPost, "/api/v1/credits", fmt.Sprintf(`{"shop_id":%q,"buyer_id":%q,"amount":"0"}`, shopID, buyerID), actor, nil))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), decodeError(t, resp).Code)
}

func TestApplyCredit(t *testing.T) {
	svc := &stubCredits{}
	creditID, txnID := uuid.New(), uuid.New()
	body := fmt.Sprintf(`{"allocations":[{"transaction_id":%q,"amount":"40"}],"order":"largest_first","dryRun":true}`, txnID)

	resp := serve(ApplyCredit(svc, nil), newRequest(http.MethodPost, "/api/v1/credits/"+creditID.String()+"/apply", body, ownerActor(), map[string]string{"creditId": creditID.String()}))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.NotNil(t, svc.apply)
	assert.Equal(t, creditID, svc.apply.CreditID)
	require.Len(t, svc.apply.Targets, 1)
	assert.Equal(t, txnID, svc.apply.Targets[0].TransactionID)
	assert.Equal(t, enums.AllocationOrderLargestFirst, svc.apply.Order)
	assert.True(t, svc.apply.DryRun)

	resp = serve(ApplyCredit(svc, nil), newRequest(http.MethodPost, "/api/v1/credits/x/apply", `{}`, ownerActor(), map[string]string{"creditId": "x"}))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListAndGetCredits(t *testing.T) {
	svc := &stubCredits{}
	actor := ownerActor()

	resp := serve(ListCredits(svc, nil), newRequest(http.MethodGet, "/api/v1/credits", "", actor, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, actor.UserID, svc.buyerID)

	creditID := uuid.New()
	resp = serve(GetCredit(svc, nil), newRequest(http.MethodGet, "/api/v1/credits/"+creditID.String(), "", actor, map[string]string{"creditId": creditID.String()}))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
