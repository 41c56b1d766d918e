package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/projecthub/internal/model"
)

type mockAuthenticator struct {
	authenticateTokenFunc func(ctx context.Context, token string) (*model.User, error)
}

func (m *mockAuthenticator) AuthenticateToken(ctx context.Context, token string) (*model.User, error) {
	return m.authenticateTokenFunc(ctx, token)
}

func validAuthenticator() *mockAuthenticator {
	return &mockAuthenticator{
		authenticateTokenFunc: func(_ context.Context, token string) (*model.User, error) {
			if token != "valid-token" {
				return nil, model.ErrUnauthorized
			}
			return &model.User{ID: "oid-1", Email: "taro@example.com", Role: model.RoleUser}, nil
		},
	}
}

// 有効なbearerトークンでユーザーがコンテキストに注入されることを検証
func TestAuthMiddleware_ValidToken(t *testing.T) {
	var gotUser *model.User
	handler := NewAuthMiddleware(validAuthenticator())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if gotUser == nil || gotUser.ID != "oid-1" {
		t.Errorf("user in context = %+v, want oid-1", gotUser)
	}
}

// ヘッダー欠落・形式不正・無効トークンが401 JSONになることを検証
func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer scheme", "Basic dXNlcjpwYXNz"},
		{"bearer without token", "Bearer "},
		{"invalid token", "Bearer wrong-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(validAuthenticator())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				t.Error("handler must not be reached")
			}))

			req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("response is not JSON: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

// 内部エラーが500になり、401と区別されることを検証
func TestAuthMiddleware_InternalError(t *testing.T) {
	authenticator := &mockAuthenticator{
		authenticateTokenFunc: func(_ context.Context, _ string) (*model.User, error) {
			return nil, errors.New("connection refused")
		},
	}
	handler := NewAuthMiddleware(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not be reached")
	}))

	req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// 管理者要求ミドルウェアのロール判定を検証
func TestRequireAdminMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		user       *model.User
		wantStatus int
	}{
		{"admin passes", &model.User{ID: "admin", Role: model.RoleAdmin}, http.StatusOK},
		{"regular user forbidden", &model.User{ID: "u1", Role: model.RoleUser}, http.StatusForbidden},
		{"unauthenticated", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewRequireAdminMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/api/v1/admin", nil)
			if tt.user != nil {
				req = req.WithContext(ContextWithUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
