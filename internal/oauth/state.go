package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/hitoshi/authflow/internal/model"
	"github.com/hitoshi/authflow/internal/repository"
)

// DefaultStateTTL は保留中ログインの既定の有効期間。
const DefaultStateTTL = 10 * time.Minute

// stateTokenBytes はstateトークンの乱数バイト数（256ビット）。
const stateTokenBytes = 32

// StateStore は保留中ログインの発行と1回限りの消費を扱う。
// 永続化はPendingLoginStoreに委譲する。
type StateStore struct {
	backend repository.PendingLoginStore
	ttl     time.Duration

	now         func() time.Time
	random      io.Reader
	newVerifier func() string
}

// NewStateStore はStateStoreを生成する。ttlが0以下の場合はDefaultStateTTLを使う。
func NewStateStore(backend repository.PendingLoginStore, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		backend:     backend,
		ttl:         ttl,
		now:         time.Now,
		random:      rand.Reader,
		newVerifier: newCodeVerifier,
	}
}

// TTL は発行するstateの有効期間を返す。
func (s *StateStore) TTL() time.Duration {
	return s.ttl
}

// Issue は新しいstateトークンを発行して保存する。
// usePKCEがtrueの場合はcode_verifierも生成して一緒に保存する。
func (s *StateStore) Issue(ctx context.Context, provider model.ProviderID, usePKCE bool) (*model.PendingLogin, error) {
	token, err := s.generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	now := s.now()
	login := &model.PendingLogin{
		StateToken: token,
		Provider:   provider,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if usePKCE {
		login.CodeVerifier = s.newVerifier()
	}

	if err := s.backend.Save(ctx, login); err != nil {
		return nil, fmt.Errorf("failed to save pending login: %w", err)
	}

	return login, nil
}

// Consume はstateトークンに対応する保留中ログインを取り出して削除する。
// 見つからない場合はErrInvalidState、期限切れの場合はErrExpiredStateを返す。
// 期限切れの場合もエントリは削除済みのため、同じトークンの再試行はErrInvalidStateになる。
func (s *StateStore) Consume(ctx context.Context, token string) (*model.PendingLogin, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty state", ErrInvalidState)
	}

	login, err := s.backend.Take(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to take pending login: %w", err)
	}
	if login == nil {
		return nil, ErrInvalidState
	}
	if login.Expired(s.now()) {
		return nil, ErrExpiredState
	}

	return login, nil
}

// Len は保存中の保留中ログイン数を返す。
func (s *StateStore) Len(ctx context.Context) (int, error) {
	return s.backend.Count(ctx)
}

// DeleteExpired は期限切れの保留中ログインを削除し、削除件数を返す。
func (s *StateStore) DeleteExpired(ctx context.Context) (int64, error) {
	return s.backend.DeleteExpired(ctx, s.now())
}

func (s *StateStore) generateToken() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := io.ReadFull(s.random, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
