package handler

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsdesk/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// API
	Loader LoaderService
	DB     *sql.DB

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 観測
	MetricsHandler http.Handler

	// 静的アセット（Web UI）のルートディレクトリ。空の場合は配信しない。
	WebRoot string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//
// レート制限はAPIルート（/api/*）のみに適用する。
// /health と /metrics は監視系からの高頻度アクセスを想定して制限の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	newsHandler := NewNewsHandler(deps.Loader)
	refreshHandler := NewRefreshHandler(deps.Loader)
	healthHandler := NewHealthHandler(deps.DB)

	// 監視系エンドポイント
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// APIルート
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Get("/api/sections", newsHandler.ListSections)
		r.Get("/api/news/{section}", newsHandler.GetSection)
		r.Post("/api/refresh", refreshHandler.Refresh)
	})

	// Web UIの静的アセット
	if deps.WebRoot != "" {
		fileServer := http.FileServer(http.Dir(deps.WebRoot))
		r.Handle("/*", fileServer)
	}

	return r
}
