package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authflow/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db    *sql.DB
	newID func() string
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{
		db:    db,
		newID: func() string { return uuid.New().String() },
	}
}

// Upsert はproviderとprovider_user_idの組で作成または更新する。
// 新規作成時のみ新しいUUIDを採番し、既存レコードはIDとcreated_atを維持する。
func (r *PostgresIdentityRepo) Upsert(ctx context.Context, identity *model.CanonicalIdentity, now time.Time) (*model.Identity, error) {
	if identity == nil || identity.ProviderUserID == "" {
		return nil, fmt.Errorf("identity: missing provider user id")
	}

	stored := &model.Identity{
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		Email:          identity.Email,
		DisplayName:    identity.DisplayName,
		AvatarURL:      identity.AvatarURL,
		UpdatedAt:      now,
		LastLoginAt:    now,
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO identities
		   (id, provider, provider_user_id, email, display_name, avatar_url, created_at, updated_at, last_login_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $7)
		 ON CONFLICT (provider, provider_user_id) DO UPDATE SET
		   email = EXCLUDED.email,
		   display_name = EXCLUDED.display_name,
		   avatar_url = EXCLUDED.avatar_url,
		   updated_at = EXCLUDED.updated_at,
		   last_login_at = EXCLUDED.last_login_at
		 RETURNING id, created_at`,
		r.newID(), string(identity.Provider), identity.ProviderUserID,
		identity.Email, identity.DisplayName, identity.AvatarURL, now,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert identity: %w", err)
	}

	return stored, nil
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider model.ProviderID, providerUserID string) (*model.Identity, error) {
	identity := &model.Identity{}
	var storedProvider string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, provider, provider_user_id, email, display_name, avatar_url,
		        created_at, updated_at, last_login_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		string(provider), providerUserID,
	).Scan(
		&identity.ID, &storedProvider, &identity.ProviderUserID,
		&identity.Email, &identity.DisplayName, &identity.AvatarURL,
		&identity.CreatedAt, &identity.UpdatedAt, &identity.LastLoginAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	identity.Provider = model.ProviderID(storedProvider)
	return identity, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
