package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/locallibrary/internal/model"
	"golang.org/x/time/rate"
)

// newTestRequest は指定したRemoteAddrを持つテスト用リクエストを生成する。
func newTestRequest(method, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, "/authors", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2, // 2 req/sec
		GeneralBurst:    5,
		WriteRate:       1,
		WriteBurst:      10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newTestRequest(http.MethodGet, "192.0.2.1:1234"))

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     0.5, // 1トークン補充に2秒
		GeneralBurst:    2,
		WriteRate:       1,
		WriteBurst:      10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newTestRequest(http.MethodGet, "192.0.2.1:1234"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newTestRequest(http.MethodGet, "192.0.2.1:1234"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After is not an integer: %q", resp.Header.Get("Retry-After"))
	}
	if retryAfter != 2 {
		t.Errorf("Retry-After = %d, want 2", retryAfter)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		WriteRate:       1,
		WriteBurst:      1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// クライアントAがバーストを使い切る
	handler.ServeHTTP(httptest.NewRecorder(), newTestRequest(http.MethodGet, "192.0.2.1:1111"))
	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, newTestRequest(http.MethodGet, "192.0.2.1:2222"))
	if wA.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("client A second request: status = %d, want 429", wA.Result().StatusCode)
	}

	// クライアントBは影響を受けない
	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, newTestRequest(http.MethodGet, "198.51.100.7:1111"))
	if wB.Result().StatusCode != http.StatusOK {
		t.Errorf("client B: status = %d, want 200", wB.Result().StatusCode)
	}

	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", got)
	}
}

// --- WriteMiddleware のテスト ---

func TestWriteRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		WriteRate:       1,
		WriteBurst:      3,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	write := rl.WriteMiddleware()(okHandler())

	// API全般を使い切っても書き込み系は独立
	general.ServeHTTP(httptest.NewRecorder(), newTestRequest(http.MethodGet, "192.0.2.1:1"))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		write.ServeHTTP(w, newTestRequest(http.MethodPost, "192.0.2.1:1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("write request %d: status = %d, want 200", i, w.Result().StatusCode)
		}
	}

	w := httptest.NewRecorder()
	write.ServeHTTP(w, newTestRequest(http.MethodPost, "192.0.2.1:1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("write request 4: status = %d, want 429", w.Result().StatusCode)
	}

	if got := rl.WriteLimiterCount(); got != 1 {
		t.Errorf("WriteLimiterCount() = %d, want 1", got)
	}
}

// --- ClientIP のテスト ---

func TestClientIP_UntrustedPeer_IgnoresForwardedFor(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr host", "192.0.2.1:5555", "", "192.0.2.1"},
		{"ipv6 remote addr", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"forwarded header ignored", "203.0.113.7:80", "10.0.0.1", "203.0.113.7"},
		{"forwarded chain ignored", "203.0.113.7:80", "198.51.100.9, 10.0.0.2", "203.0.113.7"},
		{"remote addr without port", "unix-socket", "", "unix-socket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newTestRequest(http.MethodGet, tt.remoteAddr)
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := ClientIP(req, nil); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_TrustedProxy_UsesRightmostUntrustedHop(t *testing.T) {
	trusted := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8:ffff::/48"),
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        []string
		want       string
	}{
		{"single hop", "10.0.0.1:80", []string{"203.0.113.9"}, "203.0.113.9"},
		{"spoofed left hop skipped", "10.0.0.1:80", []string{"1.2.3.4, 203.0.113.9"}, "203.0.113.9"},
		{"chained trusted proxies", "10.0.0.1:80", []string{"203.0.113.9, 10.0.0.7"}, "203.0.113.9"},
		{"multiple header lines", "10.0.0.1:80", []string{"1.2.3.4", "203.0.113.9"}, "203.0.113.9"},
		{"ipv4-mapped hop", "10.0.0.1:80", []string{"::ffff:203.0.113.9"}, "203.0.113.9"},
		{"ipv6 proxy", "[2001:db8:ffff::1]:443", []string{"2001:db8::42"}, "2001:db8::42"},
		{"no header uses proxy", "10.0.0.1:80", nil, "10.0.0.1"},
		{"all hops trusted", "10.0.0.1:80", []string{"10.1.1.1, 10.2.2.2"}, "10.1.1.1"},
		{"garbage hop stops walk", "10.0.0.1:80", []string{"203.0.113.9, bogus"}, "10.0.0.1"},
		{"untrusted peer", "203.0.113.7:80", []string{"198.51.100.1"}, "203.0.113.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newTestRequest(http.MethodGet, tt.remoteAddr)
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if got := ClientIP(req, trusted); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware_RotatingForwardedFor_StillThrottled(t *testing.T) {
	rl := NewRateLimiter(NewRateLimiterConfig(2, 1))
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	write := rl.WriteMiddleware()(okHandler())

	allowed := 0
	for i := 0; i < 100; i++ {
		req := newTestRequest(http.MethodGet, "203.0.113.7:4000")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		w := httptest.NewRecorder()
		general.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("general allowed = %d, want 2 (burst)", allowed)
	}
	if got := rl.GeneralLimiterCount(); got != 1 {
		t.Errorf("GeneralLimiterCount() = %d, want 1", got)
	}

	allowed = 0
	for i := 0; i < 10; i++ {
		req := newTestRequest(http.MethodPost, "203.0.113.7:4000")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.0.2.%d", i))
		w := httptest.NewRecorder()
		write.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("write allowed = %d, want 1 (burst)", allowed)
	}
	if got := rl.WriteLimiterCount(); got != 1 {
		t.Errorf("WriteLimiterCount() = %d, want 1", got)
	}
}

func TestRateLimitMiddleware_TrustedProxy_KeysByForwardedClient(t *testing.T) {
	cfg := NewRateLimiterConfig(1, 1)
	cfg.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	send := func(xff string) int {
		req := newTestRequest(http.MethodGet, "10.0.0.1:80")
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("203.0.113.1"); code != http.StatusOK {
		t.Errorf("client 1 first: status = %d, want 200", code)
	}
	if code := send("203.0.113.1"); code != http.StatusTooManyRequests {
		t.Errorf("client 1 second: status = %d, want 429", code)
	}
	// 同じプロキシ経由でも別クライアントは独立
	if code := send("203.0.113.2"); code != http.StatusOK {
		t.Errorf("client 2: status = %d, want 200", code)
	}
	// 左端を偽装しても右端の実クライアントで数える
	if code := send("198.51.100.50, 203.0.113.1"); code != http.StatusTooManyRequests {
		t.Errorf("spoofed client 1: status = %d, want 429", code)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		limit float64
		want  int
	}{
		{2, 1},
		{0.5, 2},
		{10.0 / 60.0, 6},
		{0, 1},
	}

	for _, tt := range tests {
		if got := retryAfterSeconds(rate.Limit(tt.limit)); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		WriteRate:       1,
		WriteBurst:      10,
		CleanupInterval: 50 * time.Millisecond,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), newTestRequest(http.MethodGet, "192.0.2.1:1"))
	rl.WriteMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), newTestRequest(http.MethodPost, "192.0.2.1:1"))

	if rl.GeneralLimiterCount() == 0 || rl.WriteLimiterCount() == 0 {
		t.Fatal("expected limiter entries before cleanup")
	}

	// TTLは50ms * 2 = 100ms
	time.Sleep(300 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 general entries after cleanup, got %d", count)
	}
	if count := rl.WriteLimiterCount(); count != 0 {
		t.Errorf("expected 0 write entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

// --- デフォルト設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.WriteRate == 0 {
		t.Error("WriteRate should not be 0")
	}
	if cfg.WriteBurst != 10 {
		t.Errorf("WriteBurst = %d, want 10", cfg.WriteBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestNewRateLimiterConfig_FromPerMinute(t *testing.T) {
	cfg := NewRateLimiterConfig(60, 30)

	if cfg.GeneralRate != 1.0 {
		t.Errorf("GeneralRate = %f, want 1.0", cfg.GeneralRate)
	}
	if cfg.WriteRate != 0.5 {
		t.Errorf("WriteRate = %f, want 0.5", cfg.WriteRate)
	}
	if cfg.GeneralBurst != 60 || cfg.WriteBurst != 30 {
		t.Errorf("bursts = %d/%d, want 60/30", cfg.GeneralBurst, cfg.WriteBurst)
	}
}
