package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authflow/internal/model"
)

const (
	defaultRedisStatePrefix = "oauth_state:"

	// redisExpiryGrace はExpiresAt経過後もキーを残す猶予。
	// 期限切れ直後のコールバックをEXPIRED_STATEとして判別するために使う。
	redisExpiryGrace = time.Minute
)

// RedisPendingLoginStore はRedisに保留中ログインを保持する。
// 取り出しはGETDELで行うため、複数インスタンスからの並行コールバックでも1回しか成功しない。
type RedisPendingLoginStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisPendingLoginStore はRedisPendingLoginStoreを生成する。
func NewRedisPendingLoginStore(client *redis.Client) *RedisPendingLoginStore {
	return &RedisPendingLoginStore{
		client: client,
		prefix: defaultRedisStatePrefix,
		now:    time.Now,
	}
}

func (r *RedisPendingLoginStore) key(stateToken string) string {
	return r.prefix + stateToken
}

// Save は保留中ログインをJSONで保存する。TTLはExpiresAtまでの残り時間に猶予を加えた値。
func (r *RedisPendingLoginStore) Save(ctx context.Context, login *model.PendingLogin) error {
	if login == nil || login.StateToken == "" {
		return fmt.Errorf("pending login: missing state token")
	}

	ttl := login.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("pending login: expires_at must be in the future")
	}

	data, err := json.Marshal(login)
	if err != nil {
		return fmt.Errorf("pending login: failed to marshal: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.key(login.StateToken), data, ttl+redisExpiryGrace).Result()
	if err != nil {
		return fmt.Errorf("failed to save pending login: %w", err)
	}
	if !ok {
		return fmt.Errorf("pending login: duplicate state token")
	}
	return nil
}

// Take はGETDELでエントリを取得と同時に削除する。
func (r *RedisPendingLoginStore) Take(ctx context.Context, stateToken string) (*model.PendingLogin, error) {
	val, err := r.client.GetDel(ctx, r.key(stateToken)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take pending login: %w", err)
	}

	var login model.PendingLogin
	if err := json.Unmarshal([]byte(val), &login); err != nil {
		return nil, fmt.Errorf("pending login: failed to unmarshal: %w", err)
	}

	return &login, nil
}

// DeleteExpired は何もしない。期限切れキーはRedisのTTLで削除される。
func (r *RedisPendingLoginStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// Count はSCANでプレフィックスに一致するキー数を数える。
func (r *RedisPendingLoginStore) Count(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to count pending logins: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ PendingLoginStore = (*RedisPendingLoginStore)(nil)
