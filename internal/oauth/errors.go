package oauth

import (
	"errors"

	"github.com/hitoshi/authflow/internal/model"
)

// ログインフローの失敗分類。呼び出し側はerrors.Isで判定する。
var (
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrInvalidState        = errors.New("invalid state")
	ErrExpiredState        = errors.New("expired state")
	ErrProviderMismatch    = errors.New("provider mismatch")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrProfileFetchFailed  = errors.New("profile fetch failed")
	ErrMalformedProfile    = errors.New("malformed profile")

	// ErrProviderDenied はプロバイダーがerrorパラメータ付きでリダイレクトしてきた場合に返す。
	ErrProviderDenied = errors.New("provider denied authorization")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnknownProvider, model.ErrCodeUnknownProvider},
	{ErrInvalidState, model.ErrCodeInvalidState},
	{ErrExpiredState, model.ErrCodeExpiredState},
	{ErrProviderMismatch, model.ErrCodeProviderMismatch},
	{ErrTokenExchangeFailed, model.ErrCodeTokenExchangeFailed},
	{ErrProfileFetchFailed, model.ErrCodeProfileFetchFailed},
	{ErrMalformedProfile, model.ErrCodeMalformedProfile},
	{ErrProviderDenied, model.ErrCodeProviderDenied},
}

// ErrorCode はエラーをAPIエラーコードに変換する。
// 分類外のエラー（ストア障害など）はINTERNAL_ERRORになる。
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return model.ErrCodeInternal
}

// IsClientError はエラーがログインフローの分類に属するかを返す。
// 分類内のエラーはクライアント起因として400で応答する。
func IsClientError(err error) bool {
	return ErrorCode(err) != model.ErrCodeInternal
}
