// Package auth はOAuth 2.0認可コードフローとセッショントークン管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/hitoshi/projecthub/internal/metrics"
	"github.com/hitoshi/projecthub/internal/model"
	"github.com/hitoshi/projecthub/internal/repository"
)

// Provider はOAuth認証プロバイダーのインターフェース。
type Provider interface {
	// BuildAuthorizeURL は認可エンドポイントへのリダイレクトURLを生成する。
	BuildAuthorizeURL(state string) string
	// Exchange は認可コードをアクセストークンに交換する。
	Exchange(ctx context.Context, code string) (*TokenResponse, error)
	// FetchUserInfo はアクセストークンでプロフィールを取得する。
	FetchUserInfo(ctx context.Context, accessToken string) (*Profile, error)
	// ProbePhoto はプロフィール写真の存在を確認し、存在すればそのURLを返す。
	ProbePhoto(ctx context.Context, userID string) (string, error)
}

// コールバック結果（メトリクスのoutcomeラベルと失敗リダイレクトのerrorコード）。
const (
	OutcomeSuccess       = "success"
	OutcomeProviderError = "provider_error"
	OutcomeInvalidState  = "invalid_state"
	OutcomeAuthFailed    = "authentication_failed"
	OutcomeServerError   = "server_error"
)

// RequestMeta は監査ログ用のリクエスト属性。
type RequestMeta struct {
	RemoteIP  string
	UserAgent string
}

// attrs は監査ログの共通属性を返す。
func (m RequestMeta) attrs() []any {
	return []any{
		slog.String("ip", m.RemoteIP),
		slog.String("user_agent", m.UserAgent),
	}
}

// CallbackParams は認可コールバックのクエリパラメータ。
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// FrontendURL は失敗時リダイレクトとデフォルトのログイン後リダイレクト先。
	FrontendURL string
}

// Service は認証フロー全体を編成する。
// ログインリダイレクト、コールバック処理、セッショントークンの検証、
// ユーザーのget-or-createを担当する。
type Service struct {
	provider Provider
	states   StateStore
	users    repository.UserRepository
	codec    *TokenCodec
	verifier IDTokenVerifier
	metrics  metrics.AuthCollector
	config   ServiceConfig
}

// NewService はServiceを生成する。
// verifierはid_tokenの検証に使用する。本番ワイヤリングでは必ず設定すること
// （プロバイダーがid_tokenを返さない構成のテストでのみnilを許容する）。
func NewService(
	provider Provider,
	states StateStore,
	users repository.UserRepository,
	codec *TokenCodec,
	verifier IDTokenVerifier,
	collector metrics.AuthCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		provider: provider,
		states:   states,
		users:    users,
		codec:    codec,
		verifier: verifier,
		metrics:  collector,
		config:   config,
	}
}

// StartLogin はログインフローを開始し、プロバイダーの認可URLを返す。
// CSRF対策stateを発行し、ログイン後のリダイレクト先と紐付けて保存する。
func (s *Service) StartLogin(ctx context.Context, meta RequestMeta, redirectURI string) (string, error) {
	s.metrics.RecordLoginAttempt()
	slog.Info("login attempt initiated", meta.attrs()...)

	if redirectURI == "" {
		redirectURI = s.config.FrontendURL
	}

	state, err := s.states.Issue(ctx, redirectURI)
	if err != nil {
		// 失敗経路もコールバック側と同じoutcomeカウンターに計上する
		s.metrics.RecordLoginOutcome(OutcomeServerError)
		return "", fmt.Errorf("failed to issue state: %w", err)
	}

	return s.provider.BuildAuthorizeURL(state), nil
}

// HandleCallback は認可コールバックを処理し、ブラウザのリダイレクト先URLを返す。
// あらゆる失敗はフロントエンドのログインページへのリダイレクトに収束させ、
// 生のエラーページは返さない。
func (s *Service) HandleCallback(ctx context.Context, meta RequestMeta, p CallbackParams) string {
	// 1. プロバイダーからのエラー: stateの照合なしでエラーをそのまま返す
	//    （プロバイダーのエラーコードは秘密情報ではない）
	if p.Error != "" {
		slog.Error("authentication failed at provider",
			append(meta.attrs(),
				slog.String("error", p.Error),
				slog.String("error_description", p.ErrorDescription),
			)...)
		s.metrics.RecordLoginOutcome(OutcomeProviderError)
		return s.failureURL(p.Error, p.ErrorDescription)
	}

	// 2. stateの検証（CSRF対策）。消費はこれ以降の処理に先立って行い、
	//    同じstateでの再試行を成否にかかわらず不可能にする。
	redirectURI, err := s.states.Consume(ctx, p.State)
	if err != nil {
		slog.Warn("invalid state parameter, possible forged or replayed callback",
			append(meta.attrs(), slog.String("state", p.State))...)
		s.metrics.RecordLoginOutcome(OutcomeInvalidState)
		return s.failureURL(OutcomeInvalidState, "")
	}

	// 3. 認可コードをトークンに交換（認可コードは使い捨てのためリトライなし）
	start := time.Now()
	token, err := s.provider.Exchange(ctx, p.Code)
	s.metrics.RecordProviderLatency("exchange", time.Since(start))
	if err != nil {
		return s.callbackFailure(meta, "token exchange failed", err, "could not validate credentials")
	}

	// 4. id_tokenが返された場合は署名・発行者・対象者・有効期限を検証する
	if token.IDToken != "" && s.verifier != nil {
		if err := s.verifier.VerifyIDToken(ctx, token.IDToken); err != nil {
			return s.callbackFailure(meta, "id token verification failed", err, "could not validate credentials")
		}
	}

	// 5. プロフィール取得
	start = time.Now()
	profile, err := s.provider.FetchUserInfo(ctx, token.AccessToken)
	s.metrics.RecordProviderLatency("userinfo", time.Since(start))
	if err != nil {
		return s.callbackFailure(meta, "user info fetch failed", err, "could not get user info")
	}

	// 6. ローカルユーザーのget-or-create
	user, err := s.GetOrCreate(ctx, profile)
	if err != nil {
		if errors.Is(err, model.ErrInvalidProfile) {
			return s.callbackFailure(meta, "profile has no subject id", err, "invalid user info")
		}
		return s.callbackFailure(meta, "failed to get or create user", err, "")
	}

	// 7. セッショントークン発行
	sessionToken, err := s.codec.Mint(user)
	if err != nil {
		return s.callbackFailure(meta, "failed to mint session token", err, "")
	}

	slog.Info("authentication successful",
		append(meta.attrs(),
			slog.String("user_id", user.ID),
			slog.String("email", user.Email),
		)...)
	s.metrics.RecordLoginOutcome(OutcomeSuccess)

	return appendQueryParam(redirectURI, "token", sessionToken)
}

// callbackFailure はコールバック失敗をログ・メトリクスに記録し、
// フロントエンドへのリダイレクトURLを返す。
// detailが空の場合は内部情報を漏らさない一般メッセージでserver_errorとする。
func (s *Service) callbackFailure(meta RequestMeta, msg string, err error, detail string) string {
	slog.Error(msg, append(meta.attrs(), slog.String("error", err.Error()))...)

	if detail != "" && (errors.Is(err, model.ErrUpstreamAuth) || errors.Is(err, model.ErrInvalidProfile)) {
		s.metrics.RecordLoginOutcome(OutcomeAuthFailed)
		return s.failureURL(OutcomeAuthFailed, detail)
	}

	s.metrics.RecordLoginOutcome(OutcomeServerError)
	return s.failureURL(OutcomeServerError, "An unexpected error occurred")
}

// failureURL はフロントエンドのログインページへの失敗リダイレクトURLを構築する。
func (s *Service) failureURL(errorCode, description string) string {
	params := url.Values{"error": {errorCode}}
	if description != "" {
		params.Set("error_description", description)
	}
	return s.config.FrontendURL + "/login?" + params.Encode()
}

// GetOrCreate はプロバイダーのプロフィールをローカルユーザーに対応付ける。
// 未登録の場合はrole=userで作成する。プロフィールにIDが無い場合は
// model.ErrInvalidProfileを返す。冪等: 同じプロフィールIDで何度呼んでも
// 同一のユーザーを返す。
func (s *Service) GetOrCreate(ctx context.Context, profile *Profile) (*model.User, error) {
	if profile.ID == "" {
		return nil, model.ErrInvalidProfile
	}

	user, err := s.users.FindByID(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	newUser := &model.User{
		ID:        profile.ID,
		Email:     profile.Email(),
		Name:      profile.DisplayName,
		Role:      model.RoleUser,
		CreatedAt: time.Now(),
	}
	if err := s.users.Create(ctx, newUser); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("email", newUser.Email),
	)

	// 作成直後のレコードを読み直して返す（DBデフォルトを反映するため）
	created, err := s.users.FindByID(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload created user: %w", err)
	}
	if created == nil {
		return nil, fmt.Errorf("created user not found: %s", profile.ID)
	}

	return created, nil
}

// AuthenticateToken はbearerセッショントークンを検証し、ユーザーを解決する。
// トークン不正・期限切れ・ユーザー不在はいずれもmodel.ErrUnauthorizedを返す。
func (s *Service) AuthenticateToken(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %q not found: %w", claims.Subject, model.ErrUnauthorized)
	}

	return user, nil
}

// PhotoURL はユーザーのプロフィール写真URLをベストエフォートで返す。
// プローブの失敗は警告ログに残し、空文字列（写真なし）に縮退する。
func (s *Service) PhotoURL(ctx context.Context, userID string) string {
	photoURL, err := s.provider.ProbePhoto(ctx, userID)
	if err != nil {
		slog.Warn("photo probe failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordPhotoProbe("error")
		return ""
	}

	if photoURL == "" {
		s.metrics.RecordPhotoProbe("none")
		return ""
	}

	s.metrics.RecordPhotoProbe("found")
	return photoURL
}

// EnsureAdmin は初期管理者ユーザーが存在しない場合に作成する。
// emailが空の場合は何もしない。起動時に1回呼ぶ。
func (s *Service) EnsureAdmin(ctx context.Context, email, name string) error {
	if email == "" {
		return nil
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}
	if existing != nil {
		slog.Info("admin user already exists", slog.String("email", email))
		return nil
	}

	admin := &model.User{
		ID:        "admin",
		Email:     email,
		Name:      name,
		Role:      model.RoleAdmin,
		CreatedAt: time.Now(),
	}
	if err := s.users.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	slog.Info("admin user created", slog.String("email", email))
	return nil
}

// appendQueryParam はURLにクエリパラメータを1つ追加する。
func appendQueryParam(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL + "?" + key + "=" + url.QueryEscape(value)
	}

	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
