package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/questmirror/internal/metrics"
	"github.com/hitoshi/questmirror/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// HealthChecker はnilでもよい（アーカイブDBを使わない構成）。
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer
	Trigger       Trigger
	RateLimiter   *middleware.RateLimiter
	SiteDir       string
	Logger        *slog.Logger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → LoggingMiddleware → RecoveryMiddleware
//
// 再生成エンドポイントにはレート制限、静的サイトにはセキュリティヘッダーを追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	healthHandler := NewHealthHandler(deps.HealthChecker, deps.Logger)
	regenerateHandler := NewRegenerateHandler(deps.Trigger)

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	r.With(deps.RateLimiter.Middleware()).Post("/regenerate", regenerateHandler.Regenerate)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Handle("/*", NewSiteHandler(deps.SiteDir))
	})

	return r
}
