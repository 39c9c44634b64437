package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/authflow/internal/model"
)

// TokenExchanger はプロバイダーとの通信を抽象化する。テストでは偽実装に差し替える。
type TokenExchanger interface {
	BuildAuthorizationURL(cfg ProviderConfig, pending *model.PendingLogin) string
	Exchange(ctx context.Context, cfg ProviderConfig, code, verifier string) (*model.TokenResponse, error)
	FetchProfile(ctx context.Context, cfg ProviderConfig, token *model.TokenResponse) (model.RawProfile, error)
}

// MetricsRecorder はログインフローの計測を記録する。
type MetricsRecorder interface {
	RecordLogin(provider string)
	RecordCallback(provider, outcome string)
	RecordProviderLatency(provider, endpoint string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordLogin(string)                                  {}
func (noopMetrics) RecordCallback(string, string)                       {}
func (noopMetrics) RecordProviderLatency(string, string, time.Duration) {}

// コールバック結果のラベル
const (
	OutcomeSuccess = "success"

	unknownProviderLabel = "unknown"
)

// LoginResult はログイン開始の結果。RedirectURLへユーザーをリダイレクトする。
type LoginResult struct {
	RedirectURL string
	StateToken  string
	ExpiresAt   time.Time
}

// Service はOAuthログインの開始とコールバック処理を統括する。
type Service struct {
	registry   *Registry
	states     *StateStore
	exchanger  TokenExchanger
	normalizer *Normalizer
	metrics    MetricsRecorder
}

// NewService はServiceを生成する。metricsがnilの場合は計測しない。
func NewService(registry *Registry, states *StateStore, exchanger TokenExchanger, normalizer *Normalizer, metrics MetricsRecorder) *Service {
	if normalizer == nil {
		normalizer = NewNormalizer(nil)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		registry:   registry,
		states:     states,
		exchanger:  exchanger,
		normalizer: normalizer,
		metrics:    metrics,
	}
}

// Providers は設定済みのプロバイダーIDを返す。
func (s *Service) Providers() []model.ProviderID {
	return s.registry.Providers()
}

// Login はstateを発行し、プロバイダーの認可URLを返す。
// 未設定のプロバイダーの場合はstateを発行せずにErrUnknownProviderを返す。
func (s *Service) Login(ctx context.Context, provider string) (*LoginResult, error) {
	cfg, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	pending, err := s.states.Issue(ctx, cfg.ID, cfg.UsePKCE)
	if err != nil {
		return nil, fmt.Errorf("failed to issue state: %w", err)
	}

	s.metrics.RecordLogin(string(cfg.ID))
	slog.Info("login started",
		slog.String("provider", string(cfg.ID)),
		slog.Bool("pkce", pending.CodeVerifier != ""),
	)

	return &LoginResult{
		RedirectURL: s.exchanger.BuildAuthorizationURL(cfg, pending),
		StateToken:  pending.StateToken,
		ExpiresAt:   pending.ExpiresAt,
	}, nil
}

// Callback はstateを検証・消費し、認可コードを交換してユーザー情報を正規化する。
// stateはプロバイダーとの通信より前に消費されるため、失敗したコールバックを
// 同じstateで再試行することはできない。
func (s *Service) Callback(ctx context.Context, provider, state, code string) (identity *model.CanonicalIdentity, err error) {
	cfg, err := s.registry.Get(provider)
	if err != nil {
		s.observeCallback(unknownProviderLabel, err)
		return nil, err
	}
	defer func() { s.observeCallback(string(cfg.ID), err) }()

	pending, err := s.consume(ctx, cfg, state)
	if err != nil {
		return nil, err
	}

	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", ErrTokenExchangeFailed)
	}

	start := time.Now()
	token, err := s.exchanger.Exchange(ctx, cfg, code, pending.CodeVerifier)
	s.metrics.RecordProviderLatency(string(cfg.ID), "token", time.Since(start))
	if err != nil {
		return nil, err
	}

	start = time.Now()
	raw, err := s.exchanger.FetchProfile(ctx, cfg, token)
	s.metrics.RecordProviderLatency(string(cfg.ID), "userinfo", time.Since(start))
	if err != nil {
		return nil, err
	}

	return s.normalizer.Normalize(cfg.ID, raw)
}

// Deny はプロバイダーがerrorパラメータ付きでリダイレクトしてきた場合の処理。
// stateを通常どおり検証・消費したうえでErrProviderDeniedを返す。
func (s *Service) Deny(ctx context.Context, provider, state, reason string) (err error) {
	cfg, err := s.registry.Get(provider)
	if err != nil {
		s.observeCallback(unknownProviderLabel, err)
		return err
	}
	defer func() { s.observeCallback(string(cfg.ID), err) }()

	if _, err := s.consume(ctx, cfg, state); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrProviderDenied, reason)
}

// consume はstateを消費し、発行時のプロバイダーと一致することを確認する。
func (s *Service) consume(ctx context.Context, cfg ProviderConfig, state string) (*model.PendingLogin, error) {
	pending, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, err
	}
	if pending.Provider != cfg.ID {
		return nil, fmt.Errorf("%w: state issued for %s, callback for %s", ErrProviderMismatch, pending.Provider, cfg.ID)
	}
	return pending, nil
}

func (s *Service) observeCallback(provider string, err error) {
	if err == nil {
		s.metrics.RecordCallback(provider, OutcomeSuccess)
		slog.Info("login callback succeeded", slog.String("provider", provider))
		return
	}

	code := ErrorCode(err)
	s.metrics.RecordCallback(provider, strings.ToLower(code))
	slog.Warn("login callback failed",
		slog.String("provider", provider),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
}
