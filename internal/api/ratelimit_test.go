package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quire-api/microsoft-teams/pkg/clock"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         3,
	}, clock.NewMock(time.Now()))

	for i := 0; i < 3; i++ {
		if !rl.Allow("ip:1.2.3.4") {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	if rl.Allow("ip:1.2.3.4") {
		t.Fatal("request beyond burst allowed")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	clk := clock.NewMock(time.Now())
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 2,
		BurstSize:         1,
	}, clk)

	if !rl.Allow("ip:1.2.3.4") {
		t.Fatal("first request rejected")
	}
	if rl.Allow("ip:1.2.3.4") {
		t.Fatal("empty bucket allowed")
	}

	clk.Add(time.Second)
	if !rl.Allow("ip:1.2.3.4") {
		t.Fatal("bucket did not refill")
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         1,
	}, clock.NewMock(time.Now()))

	if !rl.Allow("ip:1.1.1.1") {
		t.Fatal("first client rejected")
	}
	if !rl.Allow("ip:2.2.2.2") {
		t.Fatal("second client throttled by first")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: false}, clock.NewMock(time.Now()))
	for i := 0; i < 100; i++ {
		if !rl.Allow("ip:1.2.3.4") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         1,
	}, clock.NewMock(time.Now()))

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/bot-auth-start", nil)
	req.Header.Set("X-Real-IP", "1.2.3.4")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled request status %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After not set")
	}
}
