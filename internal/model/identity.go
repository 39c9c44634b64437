// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderID はOAuthプロバイダーの識別子。
type ProviderID string

// サポートするプロバイダー
const (
	ProviderGoogle ProviderID = "google"
	ProviderGitHub ProviderID = "github"
)

// PendingLogin はログイン開始からコールバックまでの保留中ログイン試行を表す。
// StateTokenは1回だけ消費でき、ExpiresAt以降は無効になる。
type PendingLogin struct {
	StateToken   string     `json:"state_token"`
	Provider     ProviderID `json:"provider"`
	CodeVerifier string     `json:"code_verifier,omitempty"` // PKCE verifier（未使用時は空）
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// Expired はnow時点で有効期限を過ぎているかを返す。
func (p *PendingLogin) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// TokenResponse はトークンエンドポイントの応答。コールバック処理中のみ保持する。
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
}

// RawProfile はユーザー情報エンドポイントから取得したプロバイダー固有のペイロード。
type RawProfile map[string]any

// CanonicalIdentity はプロバイダーに依存しない正規化済みの認証ユーザー情報。
// ProviderUserIDは常に空でない。
type CanonicalIdentity struct {
	Provider       ProviderID `json:"provider"`
	ProviderUserID string     `json:"provider_user_id"`
	Email          string     `json:"email,omitempty"`
	DisplayName    string     `json:"display_name,omitempty"`
	AvatarURL      string     `json:"avatar_url,omitempty"`
}

// Identity は永続化された外部IdPの紐付け情報を表す。
type Identity struct {
	ID             string
	Provider       ProviderID
	ProviderUserID string
	Email          string
	DisplayName    string
	AvatarURL      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastLoginAt    time.Time
}
