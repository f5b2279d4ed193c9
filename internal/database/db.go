package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver はリンクストアの永続化先を表す。
type Driver string

const (
	// DriverPostgres はPostgreSQL（lib/pq）。
	DriverPostgres Driver = "postgres"
	// DriverSQLite は単一ファイルのSQLite（modernc.org/sqlite）。
	DriverSQLite Driver = "sqlite"
)

// sqliteScheme はSQLiteを指すDATABASE_URLのスキーム。
const sqliteScheme = "sqlite://"

// DetectDriver はDATABASE_URLのスキームからドライバを判定する。
//
//	postgres://... / postgresql://...  → DriverPostgres
//	sqlite://<path>                    → DriverSQLite
func DetectDriver(databaseURL string) (Driver, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, nil
	case strings.HasPrefix(databaseURL, sqliteScheme):
		if strings.TrimPrefix(databaseURL, sqliteScheme) == "" {
			return "", fmt.Errorf("sqlite database path is empty")
		}
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme (want postgres:// or sqlite://)")
	}
}

// Open はDATABASE_URLに応じたデータベース接続プールを開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.PingContext()を使用すること。
func Open(databaseURL string) (*sql.DB, Driver, error) {
	driver, err := DetectDriver(databaseURL)
	if err != nil {
		return nil, "", err
	}

	switch driver {
	case DriverSQLite:
		db, err := sql.Open("sqlite", sqliteDSN(strings.TrimPrefix(databaseURL, sqliteScheme)))
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		// SQLiteは書き込みが直列化されるため、プール内の接続を1本に絞る
		db.SetMaxOpenConns(1)
		return db, driver, nil
	default:
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		return db, driver, nil
	}
}

// sqliteDSN はSQLiteのファイルパスにプラグマを付与したDSNを返す。
// See: https://pkg.go.dev/modernc.org/sqlite#pkg-overview
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("mode", "rwc")
	params.Set("_time_format", "sqlite")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "busy_timeout(5000)")

	return "file:" + path + "?" + params.Encode()
}

// WithConn はプールから1本の接続を取得してfnを実行し、終了時に必ず返却する。
// リポジトリの各操作はこの関数で接続を取得し、操作をまたいで接続を保持しない。
func WithConn(ctx context.Context, db *sql.DB, fn func(conn *sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	return fn(conn)
}
