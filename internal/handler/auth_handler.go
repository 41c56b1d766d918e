// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/hitoshi/projecthub/internal/auth"
	"github.com/hitoshi/projecthub/internal/middleware"
	"github.com/hitoshi/projecthub/internal/model"
)

const sessionCookieName = "session_token"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	StartLogin(ctx context.Context, meta auth.RequestMeta, redirectURI string) (string, error)
	HandleCallback(ctx context.Context, meta auth.RequestMeta, params auth.CallbackParams) string
	PhotoURL(ctx context.Context, userID string) string
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL  string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// requestMeta は監査ログ用のIPとUser-Agentをリクエストから取り出す。
// リバースプロキシ背後ではX-Forwarded-Forの先頭が元のクライアントIP。
func requestMeta(r *http.Request) auth.RequestMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}
	return auth.RequestMeta{
		RemoteIP:  ip,
		UserAgent: r.UserAgent(),
	}
}

// Login はOAuthフローを開始し、IDプロバイダーの認可エンドポイントへリダイレクトする。
// GET /api/v1/auth/login?redirect_uri=xxx
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	redirectURI := r.URL.Query().Get("redirect_uri")

	authURL, err := h.service.StartLogin(r.Context(), requestMeta(r), redirectURI)
	if err != nil {
		// ブラウザフローのためエラーページではなくフロントエンドに戻す
		http.Redirect(w, r, h.config.FrontendURL+"/login?error=server_error", http.StatusFound)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback はIDプロバイダーからの認可コールバックを処理する。
// 成否にかかわらずフロントエンドへの302リダイレクトで応答する。
// GET /api/v1/auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := auth.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	redirect := h.service.HandleCallback(r.Context(), requestMeta(r), params)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Logout はセッションCookieをクリアし、指定されたリダイレクト先へ302で戻す。
// redirect_uri未指定時はフロントエンドへ戻す。
// トークンはステートレスのためサーバー側の無効化は行わない（有効期限まで生き残る）。
// GET /api/v1/auth/logout?redirect_uri=xxx
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	meta := requestMeta(r)
	slog.Info("logout",
		slog.String("ip", meta.RemoteIP),
		slog.String("user_agent", meta.UserAgent),
	)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI == "" {
		redirectURI = h.config.FrontendURL
	}
	http.Redirect(w, r, redirectURI, http.StatusFound)
}

// userResponse はユーザー情報のAPIレスポンス。
// 写真がない場合はphotoUrlを明示的にnullとして返す（キーは省略しない）。
type userResponse struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	Name     string  `json:"name"`
	Role     string  `json:"role"`
	PhotoURL *string `json:"photoUrl"`
}

// Me は認証済みユーザー自身のプロフィールを返す。
// プロフィール写真URLはベストエフォートで付与する（取得失敗時はnull）。
// GET /api/v1/users/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	resp := userResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	}
	if photo := h.service.PhotoURL(r.Context(), user.ID); photo != "" {
		resp.PhotoURL = &photo
	}

	writeJSONResponse(w, http.StatusOK, resp)
}
