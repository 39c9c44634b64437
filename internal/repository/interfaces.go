// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/authflow/internal/model"
)

// PendingLoginStore は保留中ログイン（OAuth state）の保存先インターフェース。
// メモリ、Redis、PostgreSQLの各実装を持つ。
type PendingLoginStore interface {
	// Save は保留中ログインを保存する。同一StateTokenが既に存在する場合はエラーを返す。
	Save(ctx context.Context, login *model.PendingLogin) error

	// Take は指定StateTokenのエントリを取得すると同時に削除する。
	// 同一StateTokenに対して並行に呼ばれても、エントリを受け取るのは1呼び出しだけ。
	// 見つからない場合はnilを返す。有効期限の判定は呼び出し側で行う。
	Take(ctx context.Context, stateToken string) (*model.PendingLogin, error)

	// DeleteExpired はnow時点で期限切れのエントリを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Count は保存中のエントリ数を返す。
	Count(ctx context.Context) (int, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// Upsert は正規化済みIDをproviderとprovider_user_idをキーに作成または更新する。
	// 既存レコードの場合はプロフィール項目とlast_login_atを更新する。
	Upsert(ctx context.Context, identity *model.CanonicalIdentity, now time.Time) (*model.Identity, error)

	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider model.ProviderID, providerUserID string) (*model.Identity, error)
}
