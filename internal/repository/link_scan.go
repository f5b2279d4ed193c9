package repository

import (
	"database/sql"
	"time"

	"github.com/hitoshi/linkbot/internal/model"
)

// linkColumns はlinksテーブルのSELECT対象列。scanLinkの引数順と一致させること。
var linkColumns = []string{"id", "user_id", "url", "is_alive", "checked_at", "created_at"}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanLink は1行をmodel.Linkに変換する。
func scanLink(s rowScanner) (*model.Link, error) {
	link := &model.Link{}
	var checkedAt sql.NullTime

	if err := s.Scan(&link.ID, &link.UserID, &link.URL, &link.IsAlive, &checkedAt, &link.CreatedAt); err != nil {
		return nil, err
	}

	if checkedAt.Valid {
		t := checkedAt.Time
		link.CheckedAt = &t
	}
	return link, nil
}

// collectLinks は全行を読み出してリンクのスライスを返す。
func collectLinks(rows *sql.Rows) ([]*model.Link, error) {
	defer rows.Close()

	links := make([]*model.Link, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

// nullTime は*time.TimeをNULL許容の列値に変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
