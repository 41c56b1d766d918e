package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/projecthub/internal/middleware"
	"github.com/hitoshi/projecthub/internal/model"
	"github.com/hitoshi/projecthub/internal/project"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Project, error)
	Get(ctx context.Context, id int) (*model.Project, error)
	Create(ctx context.Context, owner *model.User, name, description, status string) (*model.Project, error)
	Update(ctx context.Context, id int, update *model.ProjectUpdate) (*model.Project, error)
	Delete(ctx context.Context, caller *model.User, id int) error
	GetStats(ctx context.Context, ownerID string) (*project.Stats, error)
}

// ProjectHandler はプロジェクト管理のHTTPハンドラー。
type ProjectHandler struct {
	service ProjectServiceInterface
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectServiceInterface) *ProjectHandler {
	return &ProjectHandler{service: service}
}

// createProjectRequest はプロジェクト作成リクエストのボディ。
type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// updateProjectRequest はプロジェクト部分更新リクエストのボディ。
// 省略されたフィールドは変更しない。
type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

// projectResponse はプロジェクト情報のAPIレスポンス。
type projectResponse struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	UserID      string `json:"user_id"`
}

func toProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
		UserID:      p.UserID,
	}
}

// validStatus はプロジェクトステータスの値を検証する。
func validStatus(status string) bool {
	return status == model.ProjectStatusActive || status == model.ProjectStatusCompleted
}

// projectIDFromURL はURLパスパラメータからプロジェクトIDを取り出す。
func projectIDFromURL(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// List はプロジェクト一覧を返す。
// GET /api/v1/projects?user_id=xxx&offset=0&limit=100
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	projects, err := h.service.List(r.Context(), q.Get("user_id"), offset, limit)
	if err != nil {
		handleProjectError(w, err, 0)
		return
	}

	resp := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, toProjectResponse(p))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// Get は指定IDのプロジェクトを返す。
// GET /api/v1/projects/{id}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDFromURL(r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("プロジェクトIDは正の整数で指定してください"))
		return
	}

	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleProjectError(w, err, id)
		return
	}

	writeJSONResponse(w, http.StatusOK, toProjectResponse(p))
}

// Create はプロジェクトを作成する。所有者は認証済みユーザーになる。
// POST /api/v1/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.Name == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("nameは必須です"))
		return
	}
	if req.Status != "" && !validStatus(req.Status) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("statusはactiveまたはcompletedを指定してください"))
		return
	}

	p, err := h.service.Create(r.Context(), user, req.Name, req.Description, req.Status)
	if err != nil {
		handleProjectError(w, err, 0)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toProjectResponse(p))
}

// Update はプロジェクトを部分更新する。
// PATCH /api/v1/projects/{id}
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDFromURL(r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("プロジェクトIDは正の整数で指定してください"))
		return
	}

	var req updateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.Status != nil && !validStatus(*req.Status) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("statusはactiveまたはcompletedを指定してください"))
		return
	}
	if req.Name != nil && *req.Name == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("nameを空にすることはできません"))
		return
	}

	p, err := h.service.Update(r.Context(), id, &model.ProjectUpdate{
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
	})
	if err != nil {
		handleProjectError(w, err, id)
		return
	}

	writeJSONResponse(w, http.StatusOK, toProjectResponse(p))
}

// Delete はプロジェクトを削除する。所有者または管理者のみ。
// DELETE /api/v1/projects/{id}
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	id, ok := projectIDFromURL(r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("プロジェクトIDは正の整数で指定してください"))
		return
	}

	if err := h.service.Delete(r.Context(), user, id); err != nil {
		handleProjectError(w, err, id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stats は認証済みユーザーのプロジェクト統計を返す。
// GET /api/v1/stats
func (h *ProjectHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	stats, err := h.service.GetStats(r.Context(), user.ID)
	if err != nil {
		handleProjectError(w, err, 0)
		return
	}

	writeJSONResponse(w, http.StatusOK, stats)
}
