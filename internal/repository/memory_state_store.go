package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/authflow/internal/model"
)

// MemoryPendingLoginStore はプロセス内メモリに保留中ログインを保持する。
// 単一インスタンス構成向け。複数インスタンスではRedisまたはPostgreSQL実装を使う。
type MemoryPendingLoginStore struct {
	mu     sync.Mutex
	logins map[string]*model.PendingLogin

	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryPendingLoginStore は新しいMemoryPendingLoginStoreを生成する。
// cleanupIntervalが正の場合、バックグラウンドで期限切れエントリの掃除を開始する。
func NewMemoryPendingLoginStore(cleanupInterval time.Duration) *MemoryPendingLoginStore {
	s := &MemoryPendingLoginStore{
		logins: make(map[string]*model.PendingLogin),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}

	return s
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *MemoryPendingLoginStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Save は保留中ログインを保存する。
func (s *MemoryPendingLoginStore) Save(ctx context.Context, login *model.PendingLogin) error {
	if login == nil || login.StateToken == "" {
		return fmt.Errorf("pending login: missing state token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.logins[login.StateToken]; exists {
		return fmt.Errorf("pending login: duplicate state token")
	}

	stored := *login
	s.logins[login.StateToken] = &stored
	return nil
}

// Take はエントリを取り出して削除する。取得と削除は同一ロック内で行う。
func (s *MemoryPendingLoginStore) Take(ctx context.Context, stateToken string) (*model.PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	login, exists := s.logins[stateToken]
	if !exists {
		return nil, nil
	}
	delete(s.logins, stateToken)

	return login, nil
}

// DeleteExpired は期限切れのエントリを削除する。
func (s *MemoryPendingLoginStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for token, login := range s.logins {
		if login.Expired(now) {
			delete(s.logins, token)
			deleted++
		}
	}
	return deleted, nil
}

// Count は保存中のエントリ数を返す。
func (s *MemoryPendingLoginStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logins), nil
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的に削除する。
func (s *MemoryPendingLoginStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.DeleteExpired(context.Background(), s.now())
		case <-s.stopCh:
			return
		}
	}
}

// compile-time interface check
var _ PendingLoginStore = (*MemoryPendingLoginStore)(nil)
