package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/projecthub/internal/middleware"
	"github.com/hitoshi/projecthub/internal/model"
)

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleProjectError はプロジェクト操作のサービスエラーをHTTPレスポンスに変換する。
func handleProjectError(w http.ResponseWriter, err error, projectID int) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewProjectNotFoundError(projectID))
	case errors.Is(err, model.ErrForbidden):
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}
