package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/projecthub/internal/model"
)

// SessionClaims はローカルセッショントークンのクレーム。
type SessionClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenCodec はセッショントークンの発行と検証を行う。
// トークンはHMAC-SHA256署名のJWTで、サーバー側には保存しない
// （検証は署名と有効期限の再計算のみ）。
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenCodec はTokenCodecを生成する。
// secretはデプロイ間で安定した値を外部から供給すること。
func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	return &TokenCodec{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Mint はユーザーのセッショントークンを発行する。
func (c *TokenCodec) Mint(user *model.User) (string, error) {
	return c.MintWithTTL(user, c.ttl)
}

// MintWithTTL は有効期間を指定してセッショントークンを発行する。
func (c *TokenCodec) MintWithTTL(user *model.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, nil
}

// Verify はセッショントークンの署名と有効期限を検証し、クレームを返す。
// 署名不正・形式不正・期限切れはいずれもmodel.ErrUnauthorizedとして返す。
// トークン未提供のチェックは呼び出し側の責務。
func (c *TokenCodec) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid session token: %w", model.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("session token has no subject: %w", model.ErrUnauthorized)
	}

	return claims, nil
}
