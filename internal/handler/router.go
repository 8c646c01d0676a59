package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/locallibrary/internal/metrics"
	"github.com/hitoshi/locallibrary/internal/middleware"
	"github.com/hitoshi/locallibrary/internal/tracing"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector

	// 著者
	AuthorService AuthorServiceInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Tracing → Logging → StatusMetrics → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(tracing.Middleware)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewStatusMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- カタログ ---
	// ミドルウェアスタック: RateLimit(General)、POST /authorsはRateLimit(Write)を追加
	authorHandler := NewAuthorHandler(deps.AuthorService, collector)
	r.Group(func(r chi.Router) {
		var writeMiddleware func(http.Handler) http.Handler
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			writeMiddleware = deps.RateLimiter.WriteMiddleware()
		}
		registerAuthorRoutes(r, authorHandler, writeMiddleware)
	})

	return r
}
