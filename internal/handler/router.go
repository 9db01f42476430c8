package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/podpost/internal/metrics"
	"github.com/hitoshi/podpost/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	Authenticator      middleware.Authenticator
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	CSRFConfig         middleware.CSRFConfig
	Metrics            metrics.MetricsCollector // nilの場合はステータス記録を行わない
	MetricsHandler     http.Handler             // nilの場合は /metrics を公開しない
	HealthChecker      HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 投稿
	PostService PostServiceInterface

	// ユーザー
	UserService UserServiceInterface

	// ライブストリーム（GET /posts/stream）
	StreamHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS
//	  認証ルート: RateLimit(Auth)
//	  保護ルート: Session → RateLimit(General) → CSRF
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	postHandler := NewPostHandler(deps.PostService)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 認証不要のルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())
		r.Post("/login", authHandler.Login)
		r.Post("/signup", authHandler.Signup)
	})
	r.Post("/logout", authHandler.Logout)

	r.Get("/posts", postHandler.List)
	r.Get("/posts/{id}", postHandler.Get)
	r.Get("/users/{id}", userHandler.Profile)
	r.Get("/users/{id}/posts", postHandler.ListByAuthor)
	if deps.StreamHandler != nil {
		r.Method(http.MethodGet, "/posts/stream", deps.StreamHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/me", authHandler.Me)
		r.Delete("/users/me", userHandler.Withdraw)

		// POST /posts - 投稿作成（投稿専用レート制限を追加）
		r.With(deps.RateLimiter.PostMiddleware()).Post("/posts", postHandler.Create)
		r.Delete("/posts/{id}", postHandler.Delete)
	})

	return r
}
