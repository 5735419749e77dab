package controllers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/kisaan-ledger/pkg/config"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	resp := serve(HealthLive(cfg), newRequest(http.MethodGet, "/health/live", "", nil, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "test", resp.Header().Get("X-Kisaan-Env"))
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	resp := serve(HealthReady(cfg, nil, map[string]Pinger{"db": ok, "redis": ok}), newRequest(http.MethodGet, "/health/ready", "", nil, nil))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = serve(HealthReady(cfg, nil, map[string]Pinger{"db": ok, "redis": down}), newRequest(http.MethodGet, "/health/ready", "", nil, nil))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	apiErr := decodeError(t, resp)
	assert.Equal(t, "DEPENDENCY_ERROR", apiErr.Code)
	assert.True(t, apiErr.Retryable)
}
