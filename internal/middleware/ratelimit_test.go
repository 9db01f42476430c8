package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		AuthRate:        1,
		AuthBurst:       2,
		PostRate:        1,
		PostBurst:       1,
		CleanupInterval: 1 * time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/posts", nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func requestFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = remoteAddr
	return req
}

// --- API全般 ---

func TestRateLimitMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.GeneralBurst = 5
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-1"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want %q", body.Code, "RATE_LIMIT_EXCEEDED")
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want %q", body.Category, "system")
	}
}

func TestRateLimitMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-a"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-b"))
	if w.Code != http.StatusOK {
		t.Errorf("user-b status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/posts", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- 投稿作成 ---

func TestPostRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	post := rl.PostMiddleware()(okHandler())

	// 投稿のバースト(1)を消費する
	w := httptest.NewRecorder()
	post.ServeHTTP(w, requestAs("user-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("first post: status = %d, want %d", w.Code, http.StatusOK)
	}
	w = httptest.NewRecorder()
	post.ServeHTTP(w, requestAs("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second post: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// API全般は影響を受けない
	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestAs("user-1"))
	if w.Code != http.StatusOK {
		t.Errorf("general: status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.PostLimiterCount() != 1 {
		t.Errorf("PostLimiterCount = %d, want 1", rl.PostLimiterCount())
	}
}

// --- 認証（クライアントIP単位） ---

func TestAuthRateLimit_KeyedByClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.AuthMiddleware()(okHandler())

	// 同一IPの異なるポートは同じキーとして扱う
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("203.0.113.7:50000"))
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("203.0.113.7:50001"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.7:50002"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("third request: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.1:40000"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.AuthLimiterCount() != 2 {
		t.Errorf("AuthLimiterCount = %d, want 2", rl.AuthLimiterCount())
	}
}

func TestAuthRateLimit_IgnoresForwardedHeader(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.AuthMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		req := requestFrom("203.0.113.7:50000")
		req.Header.Set("X-Forwarded-For", "10.0.0."+strconv.Itoa(i))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := requestFrom("203.0.113.7:50000")
	req.Header.Set("X-Forwarded-For", "10.0.0.99")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

// --- クリーンアップ ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.CleanupInterval = 50 * time.Millisecond
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs("user-cleanup"))
	rl.AuthMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("203.0.113.9:1234"))

	if rl.GeneralLimiterCount() == 0 || rl.AuthLimiterCount() == 0 {
		t.Fatal("expected limiter entries to exist")
	}

	// TTLはCleanupIntervalの2倍（100ms）
	time.Sleep(250 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 general entries after cleanup, got %d", count)
	}
	if count := rl.AuthLimiterCount(); count != 0 {
		t.Errorf("expected 0 auth entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

// --- チェーン ---

func TestRateLimitMiddleware_InChainWithSessionAndCORS(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	sessionMW := NewSessionMiddleware(validAuthenticator("rate-token", "user-rate-chain", "sess-rate"))
	corsMW := NewCORSMiddleware([]string{"http://localhost:5173"})

	// CORS -> Session -> RateLimit -> Handler
	handler := corsMW(sessionMW(rl.GeneralMiddleware()(okHandler())))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: "rate-token"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: "rate-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Error("CORS headers should be present on 429 responses")
	}
	if w.Header().Get("Access-Control-Expose-Headers") != "Retry-After" {
		t.Error("Retry-After should be readable from the browser")
	}
}

// --- 設定 ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.AuthBurst != 10 {
		t.Errorf("AuthBurst = %d, want 10", cfg.AuthBurst)
	}
	if cfg.PostRate != 0.5 { // 30/60
		t.Errorf("PostRate = %f, want 0.5", cfg.PostRate)
	}
}

func TestRateLimiterConfigPerMinute_NonPositiveClampedToOne(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(0, -5, 60)

	if cfg.GeneralBurst != 1 || cfg.AuthBurst != 1 {
		t.Errorf("bursts = %d/%d, want 1/1", cfg.GeneralBurst, cfg.AuthBurst)
	}
	if cfg.PostRate != 1.0 {
		t.Errorf("PostRate = %f, want 1.0", cfg.PostRate)
	}
}

