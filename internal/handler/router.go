package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/libman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	// nilの場合はIdempotency-Keyによる重複検出を行わない
	IdempotencyStore middleware.IdempotencyStore
	HTTPMetrics      middleware.HTTPMetricsRecorder
	// nilの場合はslog.Default()を使う
	Logger *slog.Logger

	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	AuthService    AuthServiceInterface
	CatalogService CatalogServiceInterface
	MemberService  MemberServiceInterface
	LoanService    LoanServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Auth → RateLimit(General) → RequireAdmin
//
// 貸出・返却にはさらにRateLimit(Checkout)とIdempotencyを適用する。
// 認証不要のルートはクライアントIP単位でレート制限する。
// /healthと/metricsはミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService)
	bookHandler := NewBookHandler(deps.CatalogService)
	memberHandler := NewMemberHandler(deps.MemberService)
	loanHandler := NewLoanHandler(deps.LoanService)

	authMW := middleware.NewAuthMiddleware(deps.SessionFinder)
	mutation := []func(http.Handler) http.Handler{deps.RateLimiter.CheckoutMiddleware()}
	if deps.IdempotencyStore != nil {
		mutation = append(mutation, middleware.NewIdempotencyMiddleware(deps.IdempotencyStore))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewRecoveryMiddleware(deps.HTTPMetrics))
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPMetrics))

		// --- 認証不要のルート ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/users", authHandler.Register)
			r.Post("/auth", authHandler.Login)
			r.Get("/library", bookHandler.List)
			r.Get("/library/{id}", bookHandler.Get)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Auth → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(authMW)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/users/me", authHandler.Me)
			r.Post("/auth/logout", authHandler.Logout)

			r.Post("/library", bookHandler.Create)
			r.With(middleware.RequireAdmin).Put("/library/{id}", bookHandler.Update)
			r.With(middleware.RequireAdmin).Post("/library/{id}/restock", bookHandler.Restock)
			r.With(middleware.RequireAdmin).Delete("/library/{id}", bookHandler.Delete)

			r.Route("/members", func(r chi.Router) {
				r.Get("/", memberHandler.List)
				r.Post("/", memberHandler.Create)
				r.Get("/{id}", memberHandler.Get)
				r.With(middleware.RequireAdmin).Put("/{id}", memberHandler.Update)
				r.With(middleware.RequireAdmin).Delete("/{id}", memberHandler.Delete)
			})

			r.Route("/loans", func(r chi.Router) {
				r.Get("/", loanHandler.List)
				r.With(mutation...).Post("/", loanHandler.Checkout)
				r.Get("/{id}", loanHandler.Get)
				r.With(middleware.RequireAdmin).Delete("/{id}", loanHandler.Delete)
			})

			r.With(mutation...).Post("/returns", loanHandler.Return)
		})
	})

	return r
}
