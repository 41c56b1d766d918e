package model

import "time"

// プロジェクトステータス。
const (
	ProjectStatusActive    = "active"
	ProjectStatusCompleted = "completed"
)

// Project はユーザーが所有するプロジェクトを表す。
type Project struct {
	ID          int
	Name        string
	Description string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UserID      string
}

// ProjectUpdate は部分更新リクエストを表す。
// nilフィールドは変更しない。
type ProjectUpdate struct {
	Name        *string
	Description *string
	Status      *string
}
