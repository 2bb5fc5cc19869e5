package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// クライアントに返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, analysis, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidDomain  = "INVALID_DOMAIN"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeSubmitFailed   = "SUBMIT_FAILED"
	ErrCodeLookupFailed   = "LOOKUP_FAILED"
)

// NewInvalidDomainError は無効なドメイン名エラーを生成する。
func NewInvalidDomainError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDomain,
		Message:  fmt.Sprintf("無効なドメイン名です: %s", reason),
		Category: "validation",
		Action:   "example.com のような正しいDNS名を指定してください。",
	}
}

// NewInvalidRequestError はリクエスト解析エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewSubmitFailedError は分析投入エラーを生成する。
func NewSubmitFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSubmitFailed,
		Message:  "ドメイン分析の受け付けに失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewLookupFailedError はレコード取得エラーを生成する。
func NewLookupFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLookupFailed,
		Message:  "ドメインレコードの取得に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
