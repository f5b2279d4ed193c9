// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/linkbot/internal/database"
	"github.com/hitoshi/linkbot/internal/model"
)

// LinkRepository は監視リンクの永続化インターフェース。
// 各メソッドは呼び出しごとに接続を取得・返却し、呼び出しをまたいで状態を持たない。
type LinkRepository interface {
	// FindByUserAndURL はユーザーIDとURLでリンクを検索する。見つからない場合はnilを返す。
	FindByUserAndURL(ctx context.Context, userID, url string) (*model.Link, error)

	// Create はリンクを作成する。
	// (user_id, url) が既に存在する場合は model.ErrLinkAlreadyExists を返す。
	Create(ctx context.Context, link *model.Link) error

	// ListByUserID はユーザーのリンク一覧を登録順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Link, error)

	// ListAll は全ユーザーのリンクを返す。
	ListAll(ctx context.Context) ([]*model.Link, error)

	// UpdateStatus はリンクの is_alive と checked_at を更新する。
	UpdateStatus(ctx context.Context, link *model.Link) error

	// DeleteByUserID はユーザーのリンクをすべて削除し、削除件数を返す。
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}

// NewLinkRepo はドライバに応じたLinkRepositoryの実装を返す。
func NewLinkRepo(db *sql.DB, driver database.Driver) LinkRepository {
	if driver == database.DriverSQLite {
		return NewSQLiteLinkRepo(db)
	}
	return NewPostgresLinkRepo(db)
}
