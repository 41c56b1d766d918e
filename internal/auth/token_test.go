package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/projecthub/internal/model"
)

var testUser = &model.User{
	ID:    "oid-1234",
	Email: "taro@example.com",
	Role:  model.RoleUser,
}

// 発行したトークンが検証を通り、クレームが一致することを検証
func TestTokenCodec_MintAndVerify(t *testing.T) {
	codec := NewTokenCodec("secret-key", time.Hour)

	token, err := codec.Mint(testUser)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	claims, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "oid-1234" {
		t.Errorf("sub = %q, want oid-1234", claims.Subject)
	}
	if claims.Email != "taro@example.com" {
		t.Errorf("email = %q", claims.Email)
	}
	if claims.Role != model.RoleUser {
		t.Errorf("role = %q", claims.Role)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		t.Fatal("exp and iat must be set")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("token lifetime = %v, want 1h", got)
	}
}

// 期限切れトークンがErrUnauthorizedになることを検証
func TestTokenCodec_Verify_Expired(t *testing.T) {
	codec := NewTokenCodec("secret-key", time.Hour)

	token, err := codec.MintWithTTL(testUser, -time.Minute)
	if err != nil {
		t.Fatalf("MintWithTTL failed: %v", err)
	}

	_, err = codec.Verify(token)
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

// 別の鍵で署名されたトークンが拒否されることを検証
func TestTokenCodec_Verify_WrongSecret(t *testing.T) {
	token, err := NewTokenCodec("key-a", time.Hour).Mint(testUser)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	_, err = NewTokenCodec("key-b", time.Hour).Verify(token)
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

// alg=noneのトークンが拒否されることを検証（アルゴリズム混同攻撃）
func TestTokenCodec_Verify_NoneAlgorithm(t *testing.T) {
	codec := NewTokenCodec("secret-key", time.Hour)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "oid-1234",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	_, err = codec.Verify(token)
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

// 形式不正な文字列とsubject欠落トークンの拒否を検証
func TestTokenCodec_Verify_Malformed(t *testing.T) {
	codec := NewTokenCodec("secret-key", time.Hour)

	if _, err := codec.Verify("not.a.jwt"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("malformed token error = %v, want ErrUnauthorized", err)
	}

	noSub, err := codec.Mint(&model.User{Email: "x@example.com", Role: model.RoleUser})
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if _, err := codec.Verify(noSub); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("no-subject token error = %v, want ErrUnauthorized", err)
	}
}
