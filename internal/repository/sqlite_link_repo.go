package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hitoshi/linkbot/internal/database"
	"github.com/hitoshi/linkbot/internal/model"
)

// SQLiteLinkRepo は単一ファイルのSQLiteを使用したリンクリポジトリ。
// 個人・少人数利用でPostgreSQLを用意しないデプロイ向け。
type SQLiteLinkRepo struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
}

// NewSQLiteLinkRepo はSQLiteLinkRepoを生成する。
func NewSQLiteLinkRepo(db *sql.DB) *SQLiteLinkRepo {
	return &SQLiteLinkRepo{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
	}
}

func (r *SQLiteLinkRepo) selectLinks() *goqu.SelectDataset {
	cols := make([]any, len(linkColumns))
	for i, c := range linkColumns {
		cols[i] = c
	}
	return r.dialect.From("links").Select(cols...).Prepared(true)
}

// FindByUserAndURL はユーザーIDとURLでリンクを検索する。見つからない場合はnilを返す。
func (r *SQLiteLinkRepo) FindByUserAndURL(ctx context.Context, userID, url string) (*model.Link, error) {
	query, args, err := r.selectLinks().
		Where(goqu.Ex{"user_id": userID, "url": url}).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	var link *model.Link
	err = database.WithConn(ctx, r.db, func(conn *sql.Conn) error {
		l, err := scanLink(conn.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		link = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("リンクの検索に失敗しました: %w", err)
	}

	return link, nil
}

// Create はリンクを作成する。
// UNIQUE制約違反は model.ErrLinkAlreadyExists に変換する。
func (r *SQLiteLinkRepo) Create(ctx context.Context, link *model.Link) error {
	query, args, err := r.dialect.Insert("links").
		Rows(goqu.Record{
			"id":         link.ID,
			"user_id":    link.UserID,
			"url":        link.URL,
			"is_alive":   link.IsAlive,
			"checked_at": nullTime(link.CheckedAt),
			"created_at": link.CreatedAt,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	err = database.WithConn(ctx, r.db, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return model.ErrLinkAlreadyExists
		}
		return fmt.Errorf("リンクの作成に失敗しました: %w", err)
	}

	return nil
}

// ListByUserID はユーザーのリンク一覧を登録順で返す。
func (r *SQLiteLinkRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Link, error) {
	query, args, err := r.selectLinks().
		Where(goqu.Ex{"user_id": userID}).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	links, err := r.queryLinks(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("ユーザーのリンク一覧の取得に失敗しました: %w", err)
	}
	return links, nil
}

// ListAll は全ユーザーのリンクを返す。
func (r *SQLiteLinkRepo) ListAll(ctx context.Context) ([]*model.Link, error) {
	query, args, err := r.selectLinks().
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	links, err := r.queryLinks(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("リンク一覧の取得に失敗しました: %w", err)
	}
	return links, nil
}

// UpdateStatus はリンクの is_alive と checked_at を更新する。
func (r *SQLiteLinkRepo) UpdateStatus(ctx context.Context, link *model.Link) error {
	query, args, err := r.dialect.Update("links").
		Set(goqu.Record{
			"is_alive":   link.IsAlive,
			"checked_at": nullTime(link.CheckedAt),
		}).
		Where(goqu.Ex{"id": link.ID}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	var affected int64
	err = database.WithConn(ctx, r.db, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("リンク状態の更新に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("link not found: %s", link.ID)
	}

	return nil
}

// DeleteByUserID はユーザーのリンクをすべて削除し、削除件数を返す。
// 対象がない場合も0件としてエラーにしない。
func (r *SQLiteLinkRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	query, args, err := r.dialect.
		Delete("links").
		Where(goqu.Ex{"user_id": userID}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	var deleted int64
	err = database.WithConn(ctx, r.db, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ユーザーのリンク削除に失敗しました: %w", err)
	}
	return deleted, nil
}

func (r *SQLiteLinkRepo) queryLinks(ctx context.Context, query string, args []any) ([]*model.Link, error) {
	var links []*model.Link
	err := database.WithConn(ctx, r.db, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		links, err = collectLinks(rows)
		return err
	})
	return links, err
}

// compile-time interface check
var _ LinkRepository = (*SQLiteLinkRepo)(nil)
