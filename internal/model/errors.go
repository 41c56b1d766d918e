// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証・認可フローのセンチネルエラー。
// サービス層はこれらをラップして返し、ハンドラー層がerrors.Isで
// HTTPステータスとリダイレクト先に変換する。
var (
	// ErrUpstreamAuth はIDプロバイダーがコード交換またはプロフィール取得を拒否したことを表す。
	ErrUpstreamAuth = errors.New("upstream identity provider rejected the request")
	// ErrInvalidState はCSRF対策stateが未発行または使用済みであることを表す。
	ErrInvalidState = errors.New("invalid or already consumed state")
	// ErrInvalidProfile はプロバイダーのプロフィールにサブジェクトIDが無いことを表す。
	ErrInvalidProfile = errors.New("identity provider profile has no id")
	// ErrUnauthorized はセッショントークンが欠落・不正・期限切れであることを表す。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden はロールまたは所有権チェックに失敗したことを表す。
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound はリソースが存在しないことを表す。
	ErrNotFound = errors.New("not found")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, project, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeProjectNotFound = "PROJECT_NOT_FOUND"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "リソースの所有者または管理者としてログインしてください。",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
func NewProjectNotFoundError(projectID int) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %d", projectID),
		Category: "project",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidRequestError はリクエスト解析失敗エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}
