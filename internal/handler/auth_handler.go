// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authflow/internal/middleware"
	"github.com/hitoshi/authflow/internal/model"
	"github.com/hitoshi/authflow/internal/oauth"
)

// プロバイダーから受け取ったerrorパラメータをレスポンスに含める際の上限文字数
const maxDenyReasonLen = 128

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, provider string) (*oauth.LoginResult, error)
	Callback(ctx context.Context, provider, state, code string) (*model.CanonicalIdentity, error)
	Deny(ctx context.Context, provider, state, reason string) error
	Providers() []model.ProviderID
}

// IdentityRecorder はコールバックで得た正規化済みIDを記録する。
type IdentityRecorder interface {
	Upsert(ctx context.Context, identity *model.CanonicalIdentity, now time.Time) (*model.Identity, error)
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service    AuthServiceInterface
	identities IdentityRecorder
	now        func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。identitiesがnilの場合は記録しない。
func NewAuthHandler(service AuthServiceInterface, identities IdentityRecorder) *AuthHandler {
	return &AuthHandler{
		service:    service,
		identities: identities,
		now:        time.Now,
	}
}

// Login はOAuthフローを開始し、プロバイダーの認可URLへリダイレクトする。
// GET /auth/{provider}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	result, err := h.service.Login(r.Context(), provider)
	if err != nil {
		writeAuthError(w, provider, err, "")
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// Callback はOAuthコールバックを処理し、正規化済みのユーザー情報をJSONで返す。
// GET /auth/{provider}/callback?state=xxx&code=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()
	state := query.Get("state")

	// ユーザーが同意画面で拒否した場合など
	if reason := query.Get("error"); reason != "" {
		reason = truncateReason(reason)
		err := h.service.Deny(r.Context(), provider, state, reason)
		writeAuthError(w, provider, err, reason)
		return
	}

	identity, err := h.service.Callback(r.Context(), provider, state, query.Get("code"))
	if err != nil {
		writeAuthError(w, provider, err, "")
		return
	}

	if h.identities != nil {
		if _, err := h.identities.Upsert(r.Context(), identity, h.now()); err != nil {
			slog.Error("failed to record identity",
				slog.String("provider", string(identity.Provider)),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
			return
		}
	}

	writeJSON(w, http.StatusOK, identity)
}

// Providers は設定済みのプロバイダー一覧を返す。
// GET /auth/providers
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	providers := h.service.Providers()
	if providers == nil {
		providers = []model.ProviderID{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": providers,
	})
}

// writeAuthError はログインフローのエラーを統一フォーマットで書き込む。
// 分類内のエラーは400、それ以外は500で応答する。
func writeAuthError(w http.ResponseWriter, provider string, err error, reason string) {
	if err == nil {
		err = oauth.ErrProviderDenied
	}
	if !oauth.IsClientError(err) {
		slog.Error("auth request failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErrorFor(err, provider, reason))
}

// apiErrorFor はエラー分類に対応するAPIエラーを返す。
func apiErrorFor(err error, provider, reason string) *model.APIError {
	switch {
	case errors.Is(err, oauth.ErrUnknownProvider):
		return model.NewUnknownProviderError(provider)
	case errors.Is(err, oauth.ErrInvalidState):
		return model.NewInvalidStateError()
	case errors.Is(err, oauth.ErrExpiredState):
		return model.NewExpiredStateError()
	case errors.Is(err, oauth.ErrProviderMismatch):
		return model.NewProviderMismatchError()
	case errors.Is(err, oauth.ErrTokenExchangeFailed):
		return model.NewTokenExchangeFailedError()
	case errors.Is(err, oauth.ErrProfileFetchFailed):
		return model.NewProfileFetchFailedError()
	case errors.Is(err, oauth.ErrMalformedProfile):
		return model.NewMalformedProfileError()
	case errors.Is(err, oauth.ErrProviderDenied):
		return model.NewProviderDeniedError(reason)
	default:
		return model.NewInternalError()
	}
}

func truncateReason(reason string) string {
	if utf8.RuneCountInString(reason) <= maxDenyReasonLen {
		return reason
	}
	return string([]rune(reason)[:maxDenyReasonLen])
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
