// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/projecthub/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	// 認証フローのルックアップキーはIDのみ（emailは使わない）。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は指定emailのユーザーを取得する。見つからない場合はnilを返す。
	// 初期管理者シード処理でのみ使用する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// ProjectRepository はプロジェクトデータの永続化インターフェース。
type ProjectRepository interface {
	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int) (*model.Project, error)

	// List はプロジェクト一覧をoffset/limitページネーションで返す。
	// userIDが空文字列でない場合は所有者でフィルタする。
	List(ctx context.Context, userID string, offset, limit int) ([]*model.Project, error)

	// Create はプロジェクトを作成し、採番されたIDとタイムスタンプを反映する。
	Create(ctx context.Context, project *model.Project) error

	// Update はプロジェクトを上書き更新し、updated_atを進める。
	Update(ctx context.Context, project *model.Project) error

	// Delete は指定IDのプロジェクトを削除する。
	Delete(ctx context.Context, id int) error

	// CountByOwnerAndStatus は所有者のプロジェクト数をステータス別に返す。
	// statusが空文字列の場合は全ステータスを数える。
	CountByOwnerAndStatus(ctx context.Context, userID, status string) (int, error)
}
