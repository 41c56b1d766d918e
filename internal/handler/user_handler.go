package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/projecthub/internal/middleware"
	"github.com/hitoshi/projecthub/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// UserHandler はユーザー参照のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// Get は指定IDのユーザーを返す。管理者専用。
// GET /api/v1/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
			return
		}
		slog.Error("failed to get user", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSONResponse(w, http.StatusOK, userResponse{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
	})
}
