package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/taskhub/internal/access"
)

func testConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		AuthRate:        0.5,
		AuthBurst:       1,
		CleanupInterval: time.Minute,
	}
}

func actorRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	return req.WithContext(ContextWithActor(req.Context(), access.Actor{ID: id}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_GeneralPerActor(t *testing.T) {
	rl := NewRateLimiter(testConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, actorRequest("user-1"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, actorRequest("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if ra, err := strconv.Atoi(w.Header().Get("Retry-After")); err != nil || ra < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want %q", body.Code, "RATE_LIMIT_EXCEEDED")
	}

	// 別の主体は独立して制限される
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, actorRequest("user-2"))
	if w.Code != http.StatusOK {
		t.Errorf("other actor status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", got)
	}
}

func TestRateLimiter_AuthPerIP(t *testing.T) {
	rl := NewRateLimiter(testConfig())
	defer rl.Stop()
	handler := rl.AuthEndpointMiddleware()(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/users/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if got := send("10.0.0.1:1234"); got != http.StatusOK {
		t.Fatalf("first status = %d, want %d", got, http.StatusOK)
	}
	// 同一IPはポートが違っても同じ制限
	if got := send("10.0.0.1:5678"); got != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want %d", got, http.StatusTooManyRequests)
	}
	if got := send("10.0.0.2:1234"); got != http.StatusOK {
		t.Errorf("other ip status = %d, want %d", got, http.StatusOK)
	}
	if got := rl.AuthLimiterCount(); got != 2 {
		t.Errorf("AuthLimiterCount() = %d, want 2", got)
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	rl := NewRateLimiter(testConfig())
	defer rl.Stop()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), actorRequest("user-1"))

	rl.cleanup(time.Now())
	if got := rl.GeneralLimiterCount(); got != 1 {
		t.Fatalf("GeneralLimiterCount() = %d, want 1 before expiry", got)
	}
	rl.cleanup(time.Now().Add(3 * time.Minute))
	if got := rl.GeneralLimiterCount(); got != 0 {
		t.Errorf("GeneralLimiterCount() = %d, want 0 after expiry", got)
	}
}

func TestPerMinuteConfig(t *testing.T) {
	cfg := PerMinuteConfig(120, 20)
	if cfg.GeneralRate != 2 || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d, want 2/120", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.AuthBurst != 20 {
		t.Errorf("AuthBurst = %d, want 20", cfg.AuthBurst)
	}
	rl := NewRateLimiter(cfg)
	rl.Stop()
	rl.Stop()
}
