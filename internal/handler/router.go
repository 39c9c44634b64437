package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/authflow/internal/metrics"
	"github.com/hitoshi/authflow/internal/middleware"
)

// SetupAuthRoutes は認証関連のルーティングのみを設定したchi.Routerを返す。
func SetupAuthRoutes(service AuthServiceInterface, identities IdentityRecorder) http.Handler {
	r := chi.NewRouter()
	mountAuthRoutes(r, NewAuthHandler(service, identities))
	return r
}

func mountAuthRoutes(r chi.Router, h *AuthHandler) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/providers", h.Providers)
		r.Get("/{provider}", h.Login)
		r.Get("/{provider}/callback", h.Callback)
	})
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string

	// 認証
	AuthService      AuthServiceInterface
	IdentityRecorder IdentityRecorder

	// 監視
	HealthChecker  HealthChecker
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(metrics.StatusMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	mountAuthRoutes(r, NewAuthHandler(deps.AuthService, deps.IdentityRecorder))

	return r
}
