// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string `json:"code"`     // エラーコード
	Message  string `json:"message"`  // エラーメッセージ
	Category string `json:"category"` // カテゴリ: validation, feed, system
	Action   string `json:"action"`   // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSectionNotFound   = "SECTION_NOT_FOUND"
	ErrCodeSectionLoadFailed = "SECTION_LOAD_FAILED"
	ErrCodeRefreshInProgress = "REFRESH_IN_PROGRESS"
)

// NewSectionNotFoundError はセクション未検出エラーを生成する。
func NewSectionNotFoundError(sectionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSectionNotFound,
		Message:  fmt.Sprintf("指定されたセクションが見つかりません: %s", sectionID),
		Category: "validation",
		Action:   "セクションIDを確認してください。利用可能なセクションは GET /api/sections で取得できます。",
	}
}

// NewRefreshInProgressError はリフレッシュ重複実行エラーを生成する。
func NewRefreshInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeRefreshInProgress,
		Message:  "リフレッシュが既に実行中です。",
		Category: "system",
		Action:   "実行中のリフレッシュの完了を待ってから再度お試しください。",
	}
}

// NewSectionLoadFailedError はセクション読み込み失敗エラーを生成する。
// ライブ取得が失敗し、かつキャッシュからのフォールバックもできなかった場合にのみ使用する。
func NewSectionLoadFailedError(sectionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSectionLoadFailed,
		Message:  fmt.Sprintf("セクションの読み込みに失敗しました: %s", sectionID),
		Category: "feed",
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
	}
}
