package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestRateLimiter(t *testing.T, config RateLimiterConfig) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(config)
	t.Cleanup(rl.Stop)
	return rl
}

func authedReq(userID string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	return r.WithContext(ContextWithUserID(r.Context(), userID))
}

func TestNewRateLimiterConfig_DerivesRates(t *testing.T) {
	config := NewRateLimiterConfig(120, 10)

	if config.GeneralRate != rate.Limit(2.0) {
		t.Errorf("GeneralRate = %v, want 2 req/sec", config.GeneralRate)
	}
	if config.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", config.GeneralBurst)
	}
	if config.ConnectRate != rate.Limit(10.0/60.0) {
		t.Errorf("ConnectRate = %v", config.ConnectRate)
	}
	if config.ConnectBurst != 10 {
		t.Errorf("ConnectBurst = %d, want 10", config.ConnectBurst)
	}
}

func TestGeneralMiddleware_AllowsWithinLimit(t *testing.T) {
	rl := newTestRateLimiter(t, NewRateLimiterConfig(120, 10))

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedReq("user-1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request #%d status = %d, want 200", i+1, w.Code)
		}
	}
}

func TestGeneralMiddleware_BlocksOverLimit(t *testing.T) {
	config := NewRateLimiterConfig(120, 10)
	config.GeneralRate = rate.Limit(0.001) // 補充をほぼ無効化
	config.GeneralBurst = 3
	rl := newTestRateLimiter(t, config)

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedReq("user-1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request #%d status = %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedReq("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestGeneralMiddleware_IsolatesUsers(t *testing.T) {
	config := NewRateLimiterConfig(120, 10)
	config.GeneralRate = rate.Limit(0.001)
	config.GeneralBurst = 1
	rl := newTestRateLimiter(t, config)

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// user-1 のバーストを使い切る
	handler.ServeHTTP(httptest.NewRecorder(), authedReq("user-1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedReq("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("user-1 status = %d, want 429", w.Code)
	}

	// user-2 には影響しない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedReq("user-2"))
	if w.Code != http.StatusOK {
		t.Errorf("user-2 status = %d, want 200", w.Code)
	}
}

func TestGeneralMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := newTestRateLimiter(t, NewRateLimiterConfig(120, 10))

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/channels", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestConnectMiddleware_IndependentFromGeneral(t *testing.T) {
	config := NewRateLimiterConfig(120, 10)
	config.ConnectRate = rate.Limit(0.001)
	config.ConnectBurst = 1
	rl := newTestRateLimiter(t, config)

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	connect := rl.ConnectMiddleware()(okHandler)
	general := rl.GeneralMiddleware()(okHandler)

	// 連携開始のバーストを使い切る
	connect.ServeHTTP(httptest.NewRecorder(), authedReq("user-1"))
	w := httptest.NewRecorder()
	connect.ServeHTTP(w, authedReq("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("connect status = %d, want 429", w.Code)
	}

	// API全般のリミットには影響しない
	w = httptest.NewRecorder()
	general.ServeHTTP(w, authedReq("user-1"))
	if w.Code != http.StatusOK {
		t.Errorf("general status = %d, want 200", w.Code)
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	config := NewRateLimiterConfig(120, 10)
	config.CleanupInterval = 10 * time.Millisecond
	rl := newTestRateLimiter(t, config)

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), authedReq("user-1"))

	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("limiter count = %d, want 1", rl.GeneralLimiterCount())
	}

	// TTL（CleanupInterval×2）の経過を待つ
	deadline := time.Now().Add(time.Second)
	for rl.GeneralLimiterCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("limiter count = %d, want 0 after cleanup", rl.GeneralLimiterCount())
	}
}
