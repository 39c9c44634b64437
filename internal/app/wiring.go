package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authflow/internal/config"
	"github.com/hitoshi/authflow/internal/database"
	"github.com/hitoshi/authflow/internal/handler"
	"github.com/hitoshi/authflow/internal/metrics"
	"github.com/hitoshi/authflow/internal/model"
	"github.com/hitoshi/authflow/internal/oauth"
	"github.com/hitoshi/authflow/internal/repository"
	"github.com/hitoshi/authflow/internal/security"
	"github.com/hitoshi/authflow/internal/worker/cleanup"
)

const dependencyConnectTimeout = 5 * time.Second

// components は起動モード間で共有する依存関係をまとめたもの。
type components struct {
	cfg *config.Config

	db    *sql.DB
	redis *redis.Client

	registry   *oauth.Registry
	states     *oauth.StateStore
	service    *oauth.Service
	cleanup    *cleanup.CleanupJob
	metrics    *metrics.Collector
	gatherer   prometheus.Gatherer
	identities repository.IdentityRepository
}

// buildComponents は設定に従ってストア、プロバイダー設定、サービスを組み立てる。
// 呼び出し側はClose()で接続を解放すること。
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{cfg: cfg}

	registry, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}
	c.registry = registry

	if cfg.NeedsDatabase() {
		db, err := database.Connect(ctx, cfg.DatabaseURL, dependencyConnectTimeout)
		if err != nil {
			return nil, err
		}
		c.db = db
		slog.Info("database connection established")
	}

	backend, err := c.newStateBackend(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	httpClient, err := newProviderClient(cfg, registry)
	if err != nil {
		c.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.metrics = metrics.NewCollector(reg)
	c.gatherer = reg

	c.states = oauth.NewStateStore(backend, cfg.OAuthStateTTL)
	c.service = oauth.NewService(
		registry,
		c.states,
		oauth.NewExchanger(oauth.ExchangerConfig{HTTPClient: httpClient, Timeout: cfg.OAuthHTTPTimeout}),
		oauth.NewNormalizer(nil),
		c.metrics,
	)
	c.cleanup = cleanup.NewCleanupJob(c.states, slog.Default(), c.metrics)

	if cfg.PersistIdentities {
		c.identities = repository.NewPostgresIdentityRepo(c.db)
	}

	return c, nil
}

// newStateBackend はSTATE_STOREに対応する保存先を生成する。
func (c *components) newStateBackend(ctx context.Context) (repository.PendingLoginStore, error) {
	switch c.cfg.StateStore {
	case config.StateStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.cfg.RedisAddr,
			Password: c.cfg.RedisPassword,
			DB:       c.cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, dependencyConnectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.redis = client
		slog.Info("redis connection established", slog.String("addr", c.cfg.RedisAddr))
		return repository.NewRedisPendingLoginStore(client), nil
	case config.StateStorePostgres:
		return repository.NewPostgresPendingLoginStore(c.db), nil
	default:
		// 掃除はcleanupジョブが行うため、メモリストア自身のループは使わない
		return repository.NewMemoryPendingLoginStore(0), nil
	}
}

// router はHTTPハンドラーを組み立てる。
func (c *components) router() http.Handler {
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: c.cfg.CORSAllowedOrigin,
		AuthService:       c.service,
		HealthChecker:     handler.HealthCheckerFunc(c.ping),
		Metrics:           c.metrics,
		MetricsHandler:    metrics.Handler(c.gatherer),
	}
	if c.identities != nil {
		deps.IdentityRecorder = c.identities
	}
	return handler.NewRouter(deps)
}

// ping は接続中の依存先の疎通を確認する。
func (c *components) ping(ctx context.Context) error {
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close は開いた接続をすべて閉じる。
func (c *components) Close() error {
	var errs []error
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}

// newRegistry は認証情報が揃っているプロバイダーだけを登録する。
func newRegistry(cfg *config.Config) (*oauth.Registry, error) {
	creds := map[model.ProviderID]oauth.ProviderCredentials{
		model.ProviderGoogle: {
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		},
		model.ProviderGitHub: {
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
		},
	}

	var configs []oauth.ProviderConfig
	for _, id := range oauth.SupportedProviders() {
		if !creds[id].Complete() {
			continue
		}
		pc, err := oauth.DefaultProviderConfig(id, creds[id])
		if err != nil {
			return nil, err
		}
		pc.UsePKCE = cfg.OAuthPKCE
		configs = append(configs, pc)
	}

	registry, err := oauth.NewRegistry(configs...)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}
	return registry, nil
}

// newProviderClient はプロバイダー通信用のHTTPクライアントを生成する。
// OUTBOUND_GUARDが有効な場合はエンドポイントを静的に検証し、SSRF対策済みクライアントを返す。
func newProviderClient(cfg *config.Config, registry *oauth.Registry) (*http.Client, error) {
	if !cfg.OutboundGuard {
		return &http.Client{Timeout: cfg.OAuthHTTPTimeout}, nil
	}

	guard := security.NewOutboundGuard()
	for _, id := range registry.Providers() {
		pc, err := registry.Get(string(id))
		if err != nil {
			return nil, err
		}
		if err := security.ValidateURLs(guard, pc.TokenURL, pc.UserInfoURL); err != nil {
			return nil, fmt.Errorf("provider %s endpoint rejected by outbound guard: %w", id, err)
		}
	}
	return guard.NewSafeClient(cfg.OAuthHTTPTimeout), nil
}
