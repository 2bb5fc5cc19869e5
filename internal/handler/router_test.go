package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/domainwatch/internal/metrics"
	"github.com/hitoshi/domainwatch/internal/middleware"
)

// okPinger はヘルスチェックを常に成功させるHealthChecker。
type okPinger struct{ err error }

func (p *okPinger) PingContext(ctx context.Context) error { return p.err }

func newTestRouter(t *testing.T, checker HealthChecker) http.Handler {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(100),
		Burst:           100,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		RateLimiter:    rl,
		Collector:      collector,
		Logger:         logger,
		Dispatcher:     &mockDispatcher{},
		RequestLogRepo: &mockRequestLogRepo{},
		HealthChecker:  checker,
		MetricsHandler: metrics.Handler(reg),
	})
}

// TestRouter_HealthEndpoint はヘルスチェックエンドポイントを検証する。
func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &okPinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestRouter_HealthEndpointDBDown はDB障害時に503が返ることを検証する。
func TestRouter_HealthEndpointDBDown(t *testing.T) {
	router := newTestRouter(t, &okPinger{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// TestRouter_MetricsEndpoint はメトリクスエンドポイントを検証する。
func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, &okPinger{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestRouter_SecurityHeaders は全レスポンスにセキュリティヘッダーが付与されることを検証する。
func TestRouter_SecurityHeaders(t *testing.T) {
	router := newTestRouter(t, &okPinger{})

	req := httptest.NewRequest(http.MethodGet, "/get?domain=example.com", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

// TestRouter_GetAndPostRoutes は分析APIのルーティングを検証する。
func TestRouter_GetAndPostRoutes(t *testing.T) {
	router := newTestRouter(t, &okPinger{})

	req := httptest.NewRequest(http.MethodGet, "/get?domain=example.com", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("GET /get status = %d, want %d", w.Code, http.StatusAccepted)
	}

	req = httptest.NewRequest(http.MethodPost, "/post", bytes.NewBufferString(`{"domain":"example.com"}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("POST /post status = %d, want %d", w.Code, http.StatusAccepted)
	}
}

// TestRouter_RateLimitApplies は分析APIにレート制限が効くことを検証する。
func TestRouter_RateLimitApplies(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: time.Hour,
	})
	defer rl.Stop()

	router := NewRouter(&RouterDeps{
		RateLimiter:    rl,
		Logger:         logger,
		Dispatcher:     &mockDispatcher{},
		RequestLogRepo: &mockRequestLogRepo{},
		HealthChecker:  &okPinger{},
	})

	req := httptest.NewRequest(http.MethodGet, "/get?domain=example.com", nil)
	req.RemoteAddr = "203.0.113.10:51234"
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/get?domain=example.com", nil)
	req.RemoteAddr = "203.0.113.10:51234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// /health はレート制限の対象外
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.10:51234"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want %d (must bypass rate limit)", w.Code, http.StatusOK)
	}
}
