// Package project はプロジェクトのCRUD操作を提供する。
package project

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/projecthub/internal/model"
	"github.com/hitoshi/projecthub/internal/repository"
)

// ページネーションの既定値と上限。
const (
	DefaultLimit = 100
	MaxLimit     = 100
)

// Service はプロジェクトのビジネスロジックを提供する。
type Service struct {
	repo repository.ProjectRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.ProjectRepository) *Service {
	return &Service{repo: repo}
}

// clampPage はoffset/limitを有効範囲に収める。
func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return offset, limit
}

// List はプロジェクト一覧を返す。ownerIDが空でない場合は所有者でフィルタする。
func (s *Service) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Project, error) {
	offset, limit = clampPage(offset, limit)

	projects, err := s.repo.List(ctx, ownerID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	return projects, nil
}

// Get は指定IDのプロジェクトを返す。存在しない場合はmodel.ErrNotFoundを返す。
func (s *Service) Get(ctx context.Context, id int) (*model.Project, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("project %d: %w", id, model.ErrNotFound)
	}

	return p, nil
}

// Create はプロジェクトを作成する。所有者は呼び出しユーザーに固定され、
// statusが空の場合はactiveになる。
func (s *Service) Create(ctx context.Context, owner *model.User, name, description, status string) (*model.Project, error) {
	if status == "" {
		status = model.ProjectStatusActive
	}

	p := &model.Project{
		Name:        name,
		Description: description,
		Status:      status,
		UserID:      owner.ID,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	slog.Info("project created",
		slog.Int("project_id", p.ID),
		slog.String("user_id", owner.ID),
	)

	return p, nil
}

// Update はプロジェクトを部分更新する。nilフィールドは変更しない。
// 存在しない場合はmodel.ErrNotFoundを返す。
// 所有権は確認しない（認証済みユーザーなら誰でも更新できる）。
func (s *Service) Update(ctx context.Context, id int, update *model.ProjectUpdate) (*model.Project, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Description != nil {
		p.Description = *update.Description
	}
	if update.Status != nil {
		p.Status = *update.Status
	}

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}

	return p, nil
}

// Delete はプロジェクトを削除する。削除できるのは所有者のみで、
// 管理者であっても他人のプロジェクトは削除できない。
// 所有者以外はmodel.ErrForbidden、存在しない場合はmodel.ErrNotFoundを返す。
func (s *Service) Delete(ctx context.Context, caller *model.User, id int) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if p.UserID != caller.ID {
		return fmt.Errorf("user %s does not own project %d: %w", caller.ID, id, model.ErrForbidden)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	slog.Info("project deleted",
		slog.Int("project_id", id),
		slog.String("user_id", caller.ID),
	)

	return nil
}

// Stats はユーザーのプロジェクト統計を表す。
type Stats struct {
	Total     int `json:"total_projects"`
	Active    int `json:"active_projects"`
	Completed int `json:"completed_projects"`
}

// GetStats は呼び出しユーザーのプロジェクト統計を返す。
func (s *Service) GetStats(ctx context.Context, ownerID string) (*Stats, error) {
	total, err := s.repo.CountByOwnerAndStatus(ctx, ownerID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to count projects: %w", err)
	}
	active, err := s.repo.CountByOwnerAndStatus(ctx, ownerID, model.ProjectStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to count active projects: %w", err)
	}
	completed, err := s.repo.CountByOwnerAndStatus(ctx, ownerID, model.ProjectStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to count completed projects: %w", err)
	}

	return &Stats{Total: total, Active: active, Completed: completed}, nil
}
