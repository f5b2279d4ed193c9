package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"

	"github.com/hitoshi/linkbot/internal/database"
	"github.com/hitoshi/linkbot/internal/model"
)

// PostgresLinkRepo はPostgreSQLを使用したリンクリポジトリ。
type PostgresLinkRepo struct {
	db *sql.DB
	sb squirrel.StatementBuilderType
}

// NewPostgresLinkRepo はPostgresLinkRepoを生成する。
func NewPostgresLinkRepo(db *sql.DB) *PostgresLinkRepo {
	return &PostgresLinkRepo{
		db: db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// FindByUserAndURL はユーザーIDとURLでリンクを検索する。見つからない場合はnilを返す。
func (r *PostgresLinkRepo) FindByUserAndURL(ctx context.Context, userID, url string) (*model.Link, error) {
	query, args, err := r.sb.
		Select(linkColumns...).
		From("links").
		Where(squirrel.Eq{"user_id": userID, "url": url}).
		ToSql()
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
// (user_id, url) のユニーク制約違反は model.ErrLinkAlreadyExists に変換する。
func (r *PostgresLinkRepo) Create(ctx context.Context, link *model.Link) error {
	query, args, err := r.sb.
		Insert("links").
		Columns(linkColumns...).
		Values(link.ID, link.UserID, link.URL, link.IsAlive, nullTime(link.CheckedAt), link.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	err = database.WithConn(ctx, r.db, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
			return model.ErrLinkAlreadyExists
		}
		return fmt.Errorf("リンクの作成に失敗しました: %w", err)
	}

	return nil
}

// ListByUserID はユーザーのリンク一覧を登録順で返す。
func (r *PostgresLinkRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Link, error) {
	query, args, err := r.sb.
		Select(linkColumns...).
		From("links").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
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
func (r *PostgresLinkRepo) ListAll(ctx context.Context) ([]*model.Link, error) {
	query, args, err := r.sb.
		Select(linkColumns...).
		From("links").
		OrderBy("created_at ASC", "id ASC").
		ToSql()
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
func (r *PostgresLinkRepo) UpdateStatus(ctx context.Context, link *model.Link) error {
	query, args, err := r.sb.
		Update("links").
		Set("is_alive", link.IsAlive).
		Set("checked_at", nullTime(link.CheckedAt)).
		Where(squirrel.Eq{"id": link.ID}).
		ToSql()
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
func (r *PostgresLinkRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	query, args, err := r.sb.
		Delete("links").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
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

func (r *PostgresLinkRepo) queryLinks(ctx context.Context, query string, args []any) ([]*model.Link, error) {
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
var _ LinkRepository = (*PostgresLinkRepo)(nil)
