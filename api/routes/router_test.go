package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/internal/payments"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/config"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type memoryCache struct {
	data     map[string]string
	counters map[string]int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string]string{}, counters: map[string]int64{}}
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryCache) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryCache) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }

func (m *memoryCache) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryCache) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memoryCache) Ping(context.Context) error { return nil }

type countingPayments struct {
	payments.Service
	bulkCalls int
	getCalls  int
}

func (c *countingPayments) Bulk(_ context.Context, in payments.BulkInput) (*payments.BulkResult, error) {
	c.bulkCalls++
	return &payments.BulkResult{}, nil
}

func (c *countingPayments) Get(context.Context, *auth.Actor, uuid.UUID) (*payments.View, error) {
	c.getCalls++
	return &payments.View{}, nil
}

type noopReverser struct{}

func (noopReverser) Reverse(context.Context, allocations.ReverseInput) (*allocations.ReverseResult, error) {
	return &allocations.ReverseResult{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:          config.AppConfig{Env: "test"},
		JWT:          config.JWTConfig{Secret: "router-secret", Issuer: "kisaan", ExpirationMinutes: 5},
		RateLimit:    config.RateLimitConfig{BulkWindow: time.Minute, BulkLimit: 1},
		FeatureFlags: config.FeatureFlagsConfig{ExposeMetricsPath: true},
	}
}

func bearer(t *testing.T, cfg *config.Config) string {
	t.Helper()
	return bearerAs(t, cfg, enums.ActorRoleShopOwner)
}

func bearerAs(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	shopID := uuid.New()
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{
		UserID: uuid.New(),
		ShopID: &shopID,
		Role:   role,
		JTI:    uuid.NewString(),
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func newTestRouter(cfg *config.Config, db stubPinger, pay payments.Service) http.Handler {
	var ledgerSvc ledger.Service
	return NewRouter(cfg, nil, db, newMemoryCache(), prometheus.NewRegistry(), pay, nil, nil, nil, noopReverser{}, ledgerSvc)
}

func TestHealthRoutes(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, stubPinger{}, &countingPayments{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	down := newTestRouter(cfg, stubPinger{err: fmt.Errorf("db down")}, &countingPayments{})
	resp = httptest.NewRecorder()
	down.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestMetricsRouteFollowsFlag(t *testing.T) {
	cfg := testConfig()
	resp := httptest.NewRecorder()
	newTestRouter(cfg, stubPinger{}, &countingPayments{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	cfg.FeatureFlags.ExposeMetricsPath = false
	resp = httptest.NewRecorder()
	newTestRouter(cfg, stubPinger{}, &countingPayments{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAPIRequiresBearer(t *testing.T) {
	cfg := testConfig()
	pay := &countingPayments{}
	router := newTestRouter(cfg, stubPinger{}, pay)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Zero(t, pay.getCalls)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", bearer(t, cfg))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, 1, pay.getCalls)
}

func TestBulkRouteIdempotencyAndRateLimit(t *testing.T) {
	cfg := testConfig()
	pay := &countingPayments{}
	router := newTestRouter(cfg, stubPinger{}, pay)
	token := bearer(t, cfg)
	body := fmt.Sprintf(`{"payments":[{"transaction_id":%q,"amount":"10"}],"payer_type":"BUYER","payee_type":"SHOP","method":"CASH"}`, uuid.NewString())

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/bulk", strings.NewReader(body))
		req.Header.Set("Authorization", token)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	resp := send("")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Zero(t, pay.bulkCalls)

	resp = send("batch-1")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = send("batch-1")
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "true", resp.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, pay.bulkCalls)

	resp = send("batch-2")
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, 1, pay.bulkCalls)
}

func TestReverseRouteRequiresOwnerOrAdmin(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, stubPinger{}, &countingPayments{})
	path := "/api/v1/allocations/" + uuid.NewString() + "/reverse"

	cases := []struct {
		role   enums.ActorRole
		status int
	}{
		{role: enums.ActorRoleFarmer, status: http.StatusForbidden},
		{role: enums.ActorRoleBuyer, status: http.StatusForbidden},
		{role: enums.ActorRoleShopOwner, status: http.StatusCreated},
		{role: enums.ActorRoleAdmin, status: http.StatusCreated},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, nil)
			req.Header.Set("Authorization", bearerAs(t, cfg, tc.role))
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			assert.Equal(t, tc.status, resp.Code, resp.Body.String())
		})
	}
}
