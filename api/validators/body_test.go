package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
)

type lineBody struct {
	TransactionID string          `json:"transaction_id" validate:"required,uuid"`
	Amount        decimal.Decimal `json:"amount" validate:"decimal_gt0"`
}

type bulkBody struct {
	Payments  []lineBody `json:"payments" validate:"required,min=1,dive"`
	PayerType string     `json:"payer_type" validate:"required,oneof=BUYER SHOP"`
}

func decode(t *testing.T, body string) (bulkBody, error) {
	t.Helper()
	var dest bulkBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return dest, DecodeJSONBody(req, &dest)
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	got, err := decode(t, `{"payments":[{"transaction_id":"0b6d7c1e-3c1f-4e39-9d1a-6f3f0f1f7a11","amount":"300.50"}],"payer_type":"BUYER"}`)
	require.NoError(t, err)
	require.Len(t, got.Payments, 1)
	assert.True(t, got.Payments[0].Amount.Equal(decimal.RequireFromString("300.5")))
}

func TestDecodeJSONBodyRejectsNonPositiveAmount(t *testing.T) {
	_, err := decode(t, `{"payments":[{"transaction_id":"0b6d7c1e-3c1f-4e39-9d1a-6f3f0f1f7a11","amount":0}],"payer_type":"BUYER"}`)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be greater than zero", details["payments[0].amount"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	_, err := decode(t, `{"payments":[],"payer_type":"BUYER","user_id":1}`)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyRejectsBadEnum(t *testing.T) {
	_, err := decode(t, `{"payments":[{"transaction_id":"0b6d7c1e-3c1f-4e39-9d1a-6f3f0f1f7a11","amount":"1"}],"payer_type":"FARMER"}`)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details["payer_type"], "must be one of")
}
