// Package oauth はOAuth 2.0認可コードフローによるログインの中核処理を提供する。
// プロバイダー設定、state管理、トークン交換、ユーザー情報の正規化を扱う。
package oauth

import (
	"fmt"
	"sort"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/authflow/internal/model"
)

// ProviderConfig は1つのOAuthプロバイダーの静的設定。起動後は変更しない。
type ProviderConfig struct {
	ID           model.ProviderID
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	UsePKCE      bool
}

// oauth2Config はx/oauth2の設定に変換する。
// クライアント認証はフォームパラメータに固定し、認証方式の自動判定による再送を避ける。
func (c ProviderConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// providerDefaults はプロバイダーごとの既定エンドポイントとスコープ。
type providerDefaults struct {
	endpoint    oauth2.Endpoint
	userInfoURL string
	scopes      []string
}

var providerTable = map[model.ProviderID]providerDefaults{
	model.ProviderGoogle: {
		endpoint:    google.Endpoint,
		userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		scopes:      []string{"openid", "email", "profile"},
	},
	model.ProviderGitHub: {
		endpoint:    github.Endpoint,
		userInfoURL: "https://api.github.com/user",
		scopes:      []string{"read:user", "user:email"},
	},
}

// ProviderCredentials はプロバイダーに登録したクライアント情報。
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Complete はクライアントID、シークレット、リダイレクトURLがすべて設定されているかを返す。
func (c ProviderCredentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != ""
}

// DefaultProviderConfig は既定のエンドポイントとスコープでProviderConfigを生成する。
// PKCEは有効で生成する。
func DefaultProviderConfig(id model.ProviderID, creds ProviderCredentials) (ProviderConfig, error) {
	defaults, ok := providerTable[id]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}

	return ProviderConfig{
		ID:           id,
		AuthURL:      defaults.endpoint.AuthURL,
		TokenURL:     defaults.endpoint.TokenURL,
		UserInfoURL:  defaults.userInfoURL,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Scopes:       append([]string(nil), defaults.scopes...),
		UsePKCE:      true,
	}, nil
}

// SupportedProviders は対応しているプロバイダーIDをソート済みで返す。
func SupportedProviders() []model.ProviderID {
	ids := make([]model.ProviderID, 0, len(providerTable))
	for id := range providerTable {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Registry は設定済みプロバイダーの読み取り専用テーブル。
// 生成後は変更されないため、並行アクセスに対してロックを必要としない。
type Registry struct {
	providers map[model.ProviderID]ProviderConfig
}

// NewRegistry は設定を検証してRegistryを生成する。
// 未対応のプロバイダー、必須項目の欠落、重複登録はエラーになる。
func NewRegistry(configs ...ProviderConfig) (*Registry, error) {
	providers := make(map[model.ProviderID]ProviderConfig, len(configs))

	for _, cfg := range configs {
		if _, ok := providerTable[cfg.ID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.ID)
		}
		if _, dup := providers[cfg.ID]; dup {
			return nil, fmt.Errorf("provider %s registered twice", cfg.ID)
		}

		var missing []string
		if cfg.ClientID == "" {
			missing = append(missing, "client id")
		}
		if cfg.RedirectURL == "" {
			missing = append(missing, "redirect url")
		}
		if cfg.AuthURL == "" {
			missing = append(missing, "authorize url")
		}
		if cfg.TokenURL == "" {
			missing = append(missing, "token url")
		}
		if cfg.UserInfoURL == "" {
			missing = append(missing, "userinfo url")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("provider %s: missing %v", cfg.ID, missing)
		}

		cfg.Scopes = append([]string(nil), cfg.Scopes...)
		providers[cfg.ID] = cfg
	}

	return &Registry{providers: providers}, nil
}

// Get はプロバイダーIDに対応する設定を返す。
// 設定されていないIDの場合はErrUnknownProviderを返す。
func (r *Registry) Get(provider string) (ProviderConfig, error) {
	cfg, ok := r.providers[model.ProviderID(provider)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	cfg.Scopes = append([]string(nil), cfg.Scopes...)
	return cfg, nil
}

// Providers は設定済みのプロバイダーIDをソート済みで返す。
func (r *Registry) Providers() []model.ProviderID {
	ids := make([]model.ProviderID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
