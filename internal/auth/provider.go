package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/projecthub/internal/model"
)

const (
	defaultLoginBase     = "https://login.microsoftonline.com"
	defaultGraphEndpoint = "https://graph.microsoft.com/v1.0"

	// 認可リクエストとコード交換で使用する固定スコープ。
	providerScope = "openid profile email User.Read"
	// アプリケーション権限でのGraph呼び出し（写真プローブ）用スコープ。
	graphAppScope = "https://graph.microsoft.com/.default"
)

// EntraConfig はMicrosoft Entra ID (Azure AD) プロバイダーの設定。
type EntraConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	CallbackURL  string

	// テスト用にオーバーライド可能なURL
	AuthorizeURL string
	TokenURL     string
	GraphURL     string

	// 外部プロバイダー呼び出しのHTTPクライアント。
	// nilの場合は10秒タイムアウトのクライアントを使用する。
	HTTPClient *http.Client
}

// EntraProvider はMicrosoft Entra IDによるOAuth 2.0認可コードフローを提供する。
type EntraProvider struct {
	config EntraConfig
	client *http.Client

	// アプリケーション権限のGraphトークンキャッシュ。
	// ロックはキャッシュの読み書きのみを守り、HTTP呼び出し中は保持しない。
	mu          sync.Mutex
	appToken    string
	appTokenExp time.Time
}

// NewEntraProvider はEntraProviderを生成する。
func NewEntraProvider(config EntraConfig) *EntraProvider {
	authority := fmt.Sprintf("%s/%s", defaultLoginBase, config.TenantID)
	if config.AuthorizeURL == "" {
		config.AuthorizeURL = authority + "/oauth2/v2.0/authorize"
	}
	if config.TokenURL == "" {
		config.TokenURL = authority + "/oauth2/v2.0/token"
	}
	if config.GraphURL == "" {
		config.GraphURL = defaultGraphEndpoint
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &EntraProvider{config: config, client: client}
}

// BuildAuthorizeURL は認可エンドポイントへのリダイレクトURLを生成する。
// stateは呼び出し側（StateStore）が発行したものを渡す。
func (p *EntraProvider) BuildAuthorizeURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {p.config.CallbackURL},
		"response_mode": {"query"},
		"scope":         {providerScope},
		"state":         {state},
	}
	return p.config.AuthorizeURL + "?" + params.Encode()
}

// TokenResponse はトークンエンドポイントのレスポンス。
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Profile はGraph APIの/meレスポンスのうち利用するフィールド。
type Profile struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
}

// Email はプロフィールのメールアドレスを返す。
// mailが空の場合はuserPrincipalNameにフォールバックする。
func (pr *Profile) Email() string {
	if pr.Mail != "" {
		return pr.Mail
	}
	return pr.UserPrincipalName
}

// Exchange は認可コードをアクセストークンに交換する。
// 認可コードは使い捨てのため、失敗してもリトライしない。
func (p *EntraProvider) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"scope":         {providerScope},
		"code":          {code},
		"redirect_uri":  {p.config.CallbackURL},
		"grant_type":    {"authorization_code"},
	}

	body, status, err := p.postForm(ctx, p.config.TokenURL, data)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token exchange returned status %d: %w", status, model.ErrUpstreamAuth)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response: %w", model.ErrUpstreamAuth)
	}

	return &tokenResp, nil
}

// FetchUserInfo はアクセストークンでGraph APIの/meからプロフィールを取得する。
func (p *EntraProvider) FetchUserInfo(ctx context.Context, accessToken string) (*Profile, error) {
	body, status, err := p.getWithRetry(ctx, p.config.GraphURL+"/me", accessToken)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("user info fetch returned status %d: %w", status, model.ErrUpstreamAuth)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	return &profile, nil
}

// ProbePhoto はユーザーのプロフィール写真の存在を確認し、存在する場合は
// 写真リソースのURLを返す。404は「写真なし」の正常系として空文字列を返す。
// それ以外の非200も警告ログを残して空文字列を返す（/meの呼び出しを失敗させない）。
func (p *EntraProvider) ProbePhoto(ctx context.Context, userID string) (string, error) {
	token, err := p.appGraphToken(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get graph app token: %w", err)
	}

	photoURL := fmt.Sprintf("%s/users/%s/photo/$value", p.config.GraphURL, url.PathEscape(userID))
	_, status, err := p.getWithRetry(ctx, photoURL, token)
	if err != nil {
		return "", fmt.Errorf("photo probe failed: %w", err)
	}

	switch {
	case status == http.StatusOK:
		return photoURL, nil
	case status == http.StatusNotFound:
		return "", nil
	default:
		slog.Warn("unexpected status when probing user photo",
			slog.Int("status", status),
			slog.String("user_id", userID),
		)
		return "", nil
	}
}

// appGraphToken はclient credentialsグラントでアプリケーション権限の
// Graphトークンを取得する。有効期限までキャッシュする。
func (p *EntraProvider) appGraphToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.appToken != "" && time.Now().Before(p.appTokenExp) {
		token := p.appToken
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()

	data := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"scope":         {graphAppScope},
		"grant_type":    {"client_credentials"},
	}

	body, status, err := p.postForm(ctx, p.config.TokenURL, data)
	if err != nil {
		return "", fmt.Errorf("graph token request failed: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("graph token request returned status %d: %w", status, model.ErrUpstreamAuth)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse graph token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty graph app token: %w", model.ErrUpstreamAuth)
	}

	p.mu.Lock()
	p.appToken = tokenResp.AccessToken
	// 期限ぎりぎりのトークンを配らないよう1分早めに失効させる
	p.appTokenExp = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - time.Minute)
	p.mu.Unlock()

	return tokenResp.AccessToken, nil
}

// postForm はフォームエンコードのPOSTを実行する。リトライしない。
func (p *EntraProvider) postForm(ctx context.Context, endpoint string, data url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	return body, resp.StatusCode, nil
}

// getWithRetry はbearerヘッダー付きGETを実行する。
// 冪等なGETに限り、トランスポートエラー時に1回だけリトライする。
func (p *EntraProvider) getWithRetry(ctx context.Context, endpoint, bearerToken string) ([]byte, int, error) {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+bearerToken)

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read response: %w", err)
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}
