package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/authflow/internal/model"
)

func newPendingLogin(token string, expiresAt time.Time) *model.PendingLogin {
	return &model.PendingLogin{
		StateToken: token,
		Provider:   model.ProviderGitHub,
		CreatedAt:  expiresAt.Add(-10 * time.Minute),
		ExpiresAt:  expiresAt,
	}
}

// TestMemoryPendingLoginStore_SaveAndTake は保存したエントリを1回だけ取り出せることを検証する。
func TestMemoryPendingLoginStore_SaveAndTake(t *testing.T) {
	store := NewMemoryPendingLoginStore(0)
	ctx := context.Background()

	if err := store.Save(ctx, newPendingLogin("state-1", time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Take(ctx, "state-1")
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected pending login, got nil")
	}
	if got.Provider != model.ProviderGitHub {
		t.Errorf("provider = %q, want %q", got.Provider, model.ProviderGitHub)
	}

	again, err := store.Take(ctx, "state-1")
	if err != nil {
		t.Fatalf("second Take() error = %v", err)
	}
	if again != nil {
		t.Error("second Take() should return nil")
	}
}

// TestMemoryPendingLoginStore_Save_RejectsDuplicate は同一StateTokenの二重保存を拒否することを検証する。
func TestMemoryPendingLoginStore_Save_RejectsDuplicate(t *testing.T) {
	store := NewMemoryPendingLoginStore(0)
	ctx := context.Background()
	login := newPendingLogin("dup", time.Now().Add(time.Minute))

	if err := store.Save(ctx, login); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, login); err == nil {
		t.Fatal("expected error on duplicate state token")
	}
}

// TestMemoryPendingLoginStore_Save_RejectsEmptyToken は空のStateTokenを拒否することを検証する。
func TestMemoryPendingLoginStore_Save_RejectsEmptyToken(t *testing.T) {
	store := NewMemoryPendingLoginStore(0)
	if err := store.Save(context.Background(), newPendingLogin("", time.Now().Add(time.Minute))); err == nil {
		t.Fatal("expected error for empty state token")
	}
}

// TestMemoryPendingLoginStore_Save_CopiesValue は保存後に呼び出し側が値を変更しても影響しないことを検証する。
func TestMemoryPendingLoginStore_Save_CopiesValue(t *testing.T) {
	store := NewMemoryPendingLoginStore(0)
	ctx := context.Background()
	login := newPendingLogin("copy", time.Now().Add(time.Minute))

	if err := store.Save(ctx, login); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	login.Provider = model.ProviderGoogle

	got, _ := store.Take(ctx, "copy")
	if got.Provider != model.ProviderGitHub {
		t.Errorf("provider = %q, want %q", got.Provider, model.ProviderGitHub)
	}
}

// TestMemoryPendingLoginStore_DeleteExpired は期限切れエントリのみ削除することを検証する。
func TestMemoryPendingLoginStore_DeleteExpired(t *testing.T) {
	store := NewMemoryPendingLoginStore(0)
	ctx := context.Background()
	now := time.Now()

	store.Save(ctx, newPendingLogin("expired-1", now.Add(-time.Second)))
	store.Save(ctx, newPendingLogin("expired-2", now))
	store.Save(ctx, newPendingLogin("alive", now.Add(time.Minute)))

	deleted, err := store.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	count, _ := store.Count(ctx)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

// TestMemoryPendingLoginStore_CleanupLoop はバックグラウンド掃除で期限切れエントリが消えることを検証する。
func TestMemoryPendingLoginStore_CleanupLoop(t *testing.T) {
	store := NewMemoryPendingLoginStore(10 * time.Millisecond)
	defer store.Stop()
	ctx := context.Background()

	store.Save(ctx, newPendingLogin("stale", time.Now().Add(-time.Minute)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if count, _ := store.Count(ctx); count == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expired entry was not swept by the cleanup loop")
}

// TestMemoryPendingLoginStore_Stop_Idempotent はStopを複数回呼んでもpanicしないことを検証する。
func TestMemoryPendingLoginStore_Stop_Idempotent(t *testing.T) {
	store := NewMemoryPendingLoginStore(time.Minute)
	store.Stop()
	store.Stop()
}

// TestMemoryPendingLoginStore_Take_ConcurrentExactlyOnce は同一トークンへの並行Takeで
// 1件だけが取得に成功することを検証する。
func TestMemoryPendingLoginStore_Take_ConcurrentExactlyOnce(t *testing.T) {
	store := NewMemoryPendingLoginStore(0)
	ctx := context.Background()

	const tokens = 20
	const racers = 8
	for i := 0; i < tokens; i++ {
		store.Save(ctx, newPendingLogin(fmt.Sprintf("race-%d", i), time.Now().Add(time.Minute)))
	}

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < tokens; i++ {
		for j := 0; j < racers; j++ {
			wg.Add(1)
			go func(token string) {
				defer wg.Done()
				got, err := store.Take(ctx, token)
				if err != nil {
					t.Errorf("Take() error = %v", err)
					return
				}
				if got != nil {
					atomic.AddInt64(&wins, 1)
				}
			}(fmt.Sprintf("race-%d", i))
		}
	}
	wg.Wait()

	if wins != tokens {
		t.Errorf("successful takes = %d, want %d", wins, tokens)
	}
}
