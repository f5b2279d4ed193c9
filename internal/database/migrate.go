// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteSchema はSQLite用のスキーマ定義。
// PostgreSQLのマイグレーション 000001 と同じ列と制約を持つ。
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS links (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	url        TEXT NOT NULL,
	is_alive   BOOLEAN NOT NULL DEFAULT 1,
	checked_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (user_id, url)
);

CREATE INDEX IF NOT EXISTS idx_links_user_id ON links(user_id);
`

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はDATABASE_URLのドライバに応じてスキーマを最新化する。
// PostgreSQLは埋め込みマイグレーションを順に適用し、SQLiteはスキーマを冪等に作成する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(ctx context.Context, databaseURL string) error {
	driver, err := DetectDriver(databaseURL)
	if err != nil {
		return err
	}

	if driver == DriverSQLite {
		db, _, err := Open(databaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		return EnsureSQLiteSchema(ctx, db)
	}

	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// EnsureSQLiteSchema はSQLiteにlinksテーブルが無ければ作成する。
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	return nil
}
