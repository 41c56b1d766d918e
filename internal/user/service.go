// Package user はユーザー情報の参照操作を提供する。
package user

import (
	"context"
	"fmt"

	"github.com/hitoshi/projecthub/internal/model"
	"github.com/hitoshi/projecthub/internal/repository"
)

// Service はユーザーのビジネスロジックを提供する。
// ユーザーの作成は認証フロー側（get-or-create）の責務のため、ここは参照のみ。
type Service struct {
	repo repository.UserRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.UserRepository) *Service {
	return &Service{repo: repo}
}

// GetByID は指定IDのユーザーを返す。存在しない場合はmodel.ErrNotFoundを返す。
func (s *Service) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("user %q: %w", id, model.ErrNotFound)
	}

	return u, nil
}
