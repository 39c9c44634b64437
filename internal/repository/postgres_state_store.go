package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/authflow/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反エラーコード。
const pgUniqueViolation = "23505"

// PostgresPendingLoginStore はPostgreSQLを使用した保留中ログインストア。
type PostgresPendingLoginStore struct {
	db *sql.DB
}

// NewPostgresPendingLoginStore はPostgresPendingLoginStoreを生成する。
func NewPostgresPendingLoginStore(db *sql.DB) *PostgresPendingLoginStore {
	return &PostgresPendingLoginStore{db: db}
}

// Save は保留中ログインを作成する。
func (r *PostgresPendingLoginStore) Save(ctx context.Context, login *model.PendingLogin) error {
	if login == nil || login.StateToken == "" {
		return fmt.Errorf("pending login: missing state token")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_logins (state_token, provider, code_verifier, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		login.StateToken, string(login.Provider), login.CodeVerifier, login.CreatedAt, login.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return fmt.Errorf("pending login: duplicate state token")
		}
		return fmt.Errorf("failed to save pending login: %w", err)
	}
	return nil
}

// Take はDELETE ... RETURNINGで取得と削除を1文で行う。
// 同一行に対する並行DELETEは行ロックで直列化され、2件目以降は0行になる。
func (r *PostgresPendingLoginStore) Take(ctx context.Context, stateToken string) (*model.PendingLogin, error) {
	login := &model.PendingLogin{StateToken: stateToken}
	var provider string
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM pending_logins
		 WHERE state_token = $1
		 RETURNING provider, code_verifier, created_at, expires_at`,
		stateToken,
	).Scan(&provider, &login.CodeVerifier, &login.CreatedAt, &login.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take pending login: %w", err)
	}

	login.Provider = model.ProviderID(provider)
	return login, nil
}

// DeleteExpired は期限切れの保留中ログインを削除する。
func (r *PostgresPendingLoginStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_logins WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired pending logins: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return deleted, nil
}

// Count は保存中の保留中ログイン数を返す。
func (r *PostgresPendingLoginStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_logins`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending logins: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ PendingLoginStore = (*PostgresPendingLoginStore)(nil)
