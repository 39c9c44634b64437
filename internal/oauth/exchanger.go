package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/authflow/internal/model"
)

const (
	// DefaultHTTPTimeout はプロバイダーへの1リクエストあたりの既定タイムアウト。
	DefaultHTTPTimeout = 10 * time.Second

	// maxProfileBytes はuserinfoレスポンスの読み取り上限（1MiB）。
	maxProfileBytes = 1 << 20
)

// ExchangerConfig はExchangerの設定。
type ExchangerConfig struct {
	// HTTPClient はプロバイダーとの通信に使うクライアント。nilの場合は新しいクライアントを使う。
	HTTPClient *http.Client
	// Timeout は1リクエストあたりのタイムアウト。0以下の場合はDefaultHTTPTimeout。
	Timeout time.Duration
}

// Exchanger はプロバイダーとの通信（認可URL生成、トークン交換、ユーザー情報取得）を行う。
// リトライは行わない。
type Exchanger struct {
	client  *http.Client
	timeout time.Duration
}

// NewExchanger はExchangerを生成する。
func NewExchanger(cfg ExchangerConfig) *Exchanger {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Exchanger{
		client:  withAcceptJSON(client),
		timeout: cfg.Timeout,
	}
}

// BuildAuthorizationURL はプロバイダーの認可URLを組み立てる。通信は行わない。
// 保留中ログインがcode_verifierを持つ場合はS256のcode_challengeを付与する。
func (e *Exchanger) BuildAuthorizationURL(cfg ProviderConfig, pending *model.PendingLogin) string {
	return cfg.oauth2Config().AuthCodeURL(pending.StateToken, authCodeOptions(pending.CodeVerifier)...)
}

// Exchange は認可コードをアクセストークンに交換する。
// 失敗はすべてErrTokenExchangeFailedでラップして返す。
func (e *Exchanger) Exchange(ctx context.Context, cfg ProviderConfig, code, verifier string) (*model.TokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	token, err := cfg.oauth2Config().Exchange(ctx, code, exchangeOptions(verifier)...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, fmt.Errorf("%w: token endpoint returned status %d (error=%q)",
				ErrTokenExchangeFailed, retrieveErr.Response.StatusCode, retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}

	return &model.TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
		RefreshToken: token.RefreshToken,
	}, nil
}

// FetchProfile はアクセストークンでuserinfoエンドポイントからプロフィールを取得する。
// 失敗はすべてErrProfileFetchFailedでラップして返す。
func (e *Exchanger) FetchProfile(ctx context.Context, cfg ProviderConfig, token *model.TokenResponse) (model.RawProfile, error) {
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrProfileFetchFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrProfileFetchFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileBytes))
		return nil, fmt.Errorf("%w: userinfo returned status %d", ErrProfileFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrProfileFetchFailed, err)
	}
	if len(body) > maxProfileBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrProfileFetchFailed, maxProfileBytes)
	}

	profile, err := decodeProfile(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}
	return profile, nil
}

// decodeProfile はJSONオブジェクトをRawProfileにデコードする。
// 数値はjson.Numberのまま保持し、大きなIDの精度落ちを防ぐ。
func decodeProfile(body []byte) (model.RawProfile, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var profile model.RawProfile
	if err := dec.Decode(&profile); err != nil {
		return nil, fmt.Errorf("invalid userinfo JSON: %w", err)
	}
	if profile == nil {
		return nil, errors.New("userinfo is not a JSON object")
	}
	return profile, nil
}

// acceptJSONTransport はAcceptヘッダーが未設定のリクエストにapplication/jsonを付与する。
// GitHubのトークンエンドポイントはこれがないとフォーム形式で応答する。
type acceptJSONTransport struct {
	base http.RoundTripper
}

func (t *acceptJSONTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept", "application/json")
	}
	return t.base.RoundTrip(req)
}

func withAcceptJSON(client *http.Client) *http.Client {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &acceptJSONTransport{base: base}
	return &wrapped
}
