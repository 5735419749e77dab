package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeCounter struct {
	counts map[string]int64
}

func (f *fakeCounter) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return f.counts[key], nil
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	store := &fakeCounter{}
	mw := RateLimit(NewRateLimitPolicy("bulk", time.Minute, 2), store, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		mw(okHandler()).ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/payments/bulk", `{}`))
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected first two requests to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", codes[2])
	}
	if _, ok := store.counts["rl:user:bulk:"+testActor.UserID.String()]; !ok {
		t.Fatalf("expected per-user key, got %v", store.counts)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	mw := RateLimit(NewRateLimitPolicy("bulk", 0, 0), &fakeCounter{}, nil)
	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		mw(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", resp.Code)
		}
	}
}
