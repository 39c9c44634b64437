package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// StateStoreの保存先
const (
	StateStoreMemory   = "memory"
	StateStoreRedis    = "redis"
	StateStorePostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL  string `env:"GITHUB_REDIRECT_URL"`

	OAuthStateTTL    time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	OAuthHTTPTimeout time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`
	OAuthPKCE        bool          `env:"OAUTH_PKCE" envDefault:"true"`

	// State store
	StateStore    string `env:"STATE_STORE" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Database
	DatabaseURL       string `env:"DATABASE_URL"`
	PersistIdentities bool   `env:"PERSIST_IDENTITIES" envDefault:"false"`

	// Sweeper
	SweepSchedule string `env:"SWEEP_SCHEDULE" envDefault:"@every 1m"`

	// Outbound
	OutboundGuard bool `env:"OUTBOUND_GUARD" envDefault:"true"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`
}

// GoogleConfigured はGoogleの認証情報がすべて設定されているかを返す。
func (c *Config) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// GitHubConfigured はGitHubの認証情報がすべて設定されているかを返す。
func (c *Config) GitHubConfigured() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != "" && c.GitHubRedirectURL != ""
}

// NeedsDatabase はPostgreSQL接続が必要な設定かを返す。
func (c *Config) NeedsDatabase() bool {
	return c.StateStore == StateStorePostgres || c.PersistIdentities
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、不足している変数名をまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var missing []string

	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	// 一部だけ設定されたプロバイダーは設定ミスとして扱う
	missing = append(missing, partialProvider("GOOGLE", cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)...)
	missing = append(missing, partialProvider("GITHUB", cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL)...)
	if !cfg.GoogleConfigured() && !cfg.GitHubConfigured() && len(missing) == 0 {
		missing = append(missing, "GOOGLE_CLIENT_ID|GITHUB_CLIENT_ID")
	}

	if cfg.NeedsDatabase() && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.StateStore == StateStoreRedis && cfg.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.StateStore {
	case StateStoreMemory, StateStoreRedis, StateStorePostgres:
	default:
		return nil, fmt.Errorf("invalid STATE_STORE %q: must be one of memory, redis, postgres", cfg.StateStore)
	}
	if cfg.OAuthStateTTL <= 0 {
		return nil, fmt.Errorf("invalid OAUTH_STATE_TTL %s: must be positive", cfg.OAuthStateTTL)
	}
	if cfg.OAuthHTTPTimeout <= 0 {
		return nil, fmt.Errorf("invalid OAUTH_HTTP_TIMEOUT %s: must be positive", cfg.OAuthHTTPTimeout)
	}

	return cfg, nil
}

// partialProvider は一部だけ設定されたプロバイダーの不足変数名を返す。
// 全く設定されていない場合は空を返す。
func partialProvider(prefix, clientID, secret, redirectURL string) []string {
	if clientID == "" && secret == "" && redirectURL == "" {
		return nil
	}
	var missing []string
	if clientID == "" {
		missing = append(missing, prefix+"_CLIENT_ID")
	}
	if secret == "" {
		missing = append(missing, prefix+"_CLIENT_SECRET")
	}
	if redirectURL == "" {
		missing = append(missing, prefix+"_REDIRECT_URL")
	}
	return missing
}
