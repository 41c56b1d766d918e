// Package model はドメインモデルを定義する。
package model

import "time"

// ユーザーロール。
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User はサービス利用ユーザーを表す。
// IDはMicrosoft Entra IDのオブジェクトIDをそのまま使用するため、
// 同一アカウントであればログインをまたいで不変。
type User struct {
	ID        string
	Email     string
	Name      string
	Role      string
	CreatedAt time.Time
}

// IsAdmin は管理者ロールかどうかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
