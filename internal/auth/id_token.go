package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/hitoshi/projecthub/internal/model"
)

// IDTokenVerifier はトークン交換レスポンスに含まれるid_tokenの検証を行う。
// 外部発行トークンは署名・発行者・対象者・有効期限をすべて検証する。
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, rawIDToken string) error
}

// OIDCVerifier はOIDCディスカバリとJWKSによるIDTokenVerifier実装。
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier はテナントのOIDCディスカバリエンドポイントから
// 検証器を構築する。起動時に1回呼び、以後JWKSは内部でキャッシュされる。
func NewOIDCVerifier(ctx context.Context, tenantID, clientID string) (*OIDCVerifier, error) {
	issuer := fmt.Sprintf("%s/%s/v2.0", defaultLoginBase, tenantID)
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// VerifyIDToken はid_tokenの署名・発行者・対象者・有効期限を検証する。
func (v *OIDCVerifier) VerifyIDToken(ctx context.Context, rawIDToken string) error {
	if _, err := v.verifier.Verify(ctx, rawIDToken); err != nil {
		return fmt.Errorf("id token verification failed: %v: %w", err, model.ErrUpstreamAuth)
	}
	return nil
}

// compile-time interface check
var _ IDTokenVerifier = (*OIDCVerifier)(nil)
