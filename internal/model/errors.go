package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnknownProvider     = "UNKNOWN_PROVIDER"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeExpiredState        = "EXPIRED_STATE"
	ErrCodeProviderMismatch    = "PROVIDER_MISMATCH"
	ErrCodeTokenExchangeFailed = "TOKEN_EXCHANGE_FAILED"
	ErrCodeProfileFetchFailed  = "PROFILE_FETCH_FAILED"
	ErrCodeMalformedProfile    = "MALFORMED_PROFILE"
	ErrCodeProviderDenied      = "OAUTH_PROVIDER_DENIED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// restartAction はログインのやり直しを促す共通の対処方法。
const restartAction = "もう一度ログインをやり直してください。"

// NewUnknownProviderError は未対応プロバイダーエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("未対応のプロバイダーです: %s", provider),
		Category: "auth",
		Action:   "google または github を指定してください。",
	}
}

// NewInvalidStateError は無効なstateエラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "stateパラメータが無効か、既に使用されています。",
		Category: "auth",
		Action:   restartAction,
	}
}

// NewExpiredStateError はstateの有効期限切れエラーを生成する。
func NewExpiredStateError() *APIError {
	return &APIError{
		Code:     ErrCodeExpiredState,
		Message:  "ログインの有効期限が切れました。",
		Category: "auth",
		Action:   restartAction,
	}
}

// NewProviderMismatchError はstateとプロバイダーの不一致エラーを生成する。
func NewProviderMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderMismatch,
		Message:  "stateが別のプロバイダー向けに発行されています。",
		Category: "auth",
		Action:   restartAction,
	}
}

// NewTokenExchangeFailedError はトークン交換失敗エラーを生成する。
func NewTokenExchangeFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExchangeFailed,
		Message:  "認可コードのトークン交換に失敗しました。",
		Category: "provider",
		Action:   restartAction,
	}
}

// NewProfileFetchFailedError はユーザー情報取得失敗エラーを生成する。
func NewProfileFetchFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileFetchFailed,
		Message:  "プロバイダーからユーザー情報を取得できませんでした。",
		Category: "provider",
		Action:   restartAction,
	}
}

// NewMalformedProfileError は不正なユーザー情報エラーを生成する。
func NewMalformedProfileError() *APIError {
	return &APIError{
		Code:     ErrCodeMalformedProfile,
		Message:  "プロバイダーのユーザー情報にユーザーIDが含まれていません。",
		Category: "provider",
		Action:   "別のプロバイダーでログインするか、しばらく待ってから再度お試しください。",
	}
}

// NewProviderDeniedError はプロバイダー側で認可が拒否された場合のエラーを生成する。
func NewProviderDeniedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderDenied,
		Message:  fmt.Sprintf("プロバイダーで認可が拒否されました: %s", reason),
		Category: "provider",
		Action:   "アクセスを許可してから、もう一度ログインしてください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
