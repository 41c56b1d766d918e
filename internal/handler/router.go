package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/projecthub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	Logger            *slog.Logger
	StatusRecorder    middleware.HTTPStatusRecorder
	HTTPSRedirect     bool

	// 運用エンドポイント
	MetricsHandler http.Handler
	HealthCheck    func(ctx context.Context) error

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プロジェクト
	ProjectService ProjectServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	HTTPSRedirect → SecurityHeaders → Recovery → Metrics → Logging → CORS
//
// 認証ルート（/api/v1/auth/*）は認証ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewHTTPSRedirectMiddleware(deps.HTTPSRedirect))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	projectHandler := NewProjectHandler(deps.ProjectService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 運用エンドポイント（認証不要） ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.HealthCheck(r.Context()); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// --- 認証フロー（ブラウザリダイレクトのため認証不要） ---
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", authHandler.Login)
			r.Get("/callback", authHandler.Callback)
			r.Get("/logout", authHandler.Logout)
		})

		// --- bearerトークンが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Authenticator))

			// /users/me の別名（フロントエンドの旧パス互換）
			r.Get("/auth/me", authHandler.Me)

			// ユーザー
			r.Route("/users", func(r chi.Router) {
				r.Get("/me", authHandler.Me)
				// 他ユーザーの参照は管理者のみ
				r.With(middleware.NewRequireAdminMiddleware()).Get("/{id}", userHandler.Get)
			})

			// プロジェクト管理
			r.Route("/projects", func(r chi.Router) {
				r.Get("/", projectHandler.List)
				r.Post("/", projectHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", projectHandler.Get)
					r.Patch("/", projectHandler.Update)
					r.Delete("/", projectHandler.Delete)
				})
			})

			// 統計
			r.Get("/stats", projectHandler.Stats)
		})
	})

	return r
}
