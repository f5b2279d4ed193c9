// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/hitoshi/linkbot/internal/logger"
	"github.com/hitoshi/linkbot/internal/model"
	"github.com/hitoshi/linkbot/internal/security"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// LINE
	ChannelSecret      string `env:"LINE_CHANNEL_SECRET"`
	ChannelAccessToken string `env:"LINE_CHANNEL_ACCESS_TOKEN"`
	LineAPIEndpoint    string `env:"LINE_API_ENDPOINT"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	// ServeScanEnabled がfalseの場合、serveはWebhookのみを提供しスキャンはworkerに任せる
	ServeScanEnabled bool `env:"SERVE_SCAN_ENABLED" envDefault:"true"`

	// Scan
	ScanInterval         time.Duration      `env:"SCAN_INTERVAL" envDefault:"1h"`
	CheckTimeout         time.Duration      `env:"CHECK_TIMEOUT" envDefault:"5s"`
	ScanMaxConcurrent    int                `env:"SCAN_MAX_CONCURRENT" envDefault:"5"`
	CheckOnSubmit        bool               `env:"CHECK_ON_SUBMIT" envDefault:"false"`
	NotifyPolicy         model.NotifyPolicy `env:"NOTIFY_POLICY" envDefault:"transition"`
	PushRatePerSecond    float64            `env:"PUSH_RATE_PER_SECOND" envDefault:"5"`
	BlockPrivateNetworks bool               `env:"BLOCK_PRIVATE_NETWORKS" envDefault:"true"`
	// CheckAllowedPorts が空の場合、死活チェックの宛先ポートは制限しない
	CheckAllowedPorts    []int              `env:"CHECK_ALLOWED_PORTS" envSeparator:","`
	// PurgeOnUnfollow がtrueの場合のみ、ブロックしたユーザーのリンクを削除する
	PurgeOnUnfollow      bool               `env:"PURGE_ON_UNFOLLOW" envDefault:"false"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadDotEnv はカレントディレクトリの.envなどを読み込み、未設定の環境変数だけを補う。
// ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	// Required fields
	var missing []string
	if cfg.ChannelSecret == "" {
		missing = append(missing, "LINE_CHANNEL_SECRET")
	}
	if cfg.ChannelAccessToken == "" {
		missing = append(missing, "LINE_CHANNEL_ACCESS_TOKEN")
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []string

	if c.ScanInterval <= 0 {
		problems = append(problems, "SCAN_INTERVAL must be positive")
	}
	if c.CheckTimeout <= 0 {
		problems = append(problems, "CHECK_TIMEOUT must be positive")
	}
	if c.ScanMaxConcurrent <= 0 {
		problems = append(problems, "SCAN_MAX_CONCURRENT must be positive")
	}
	if err := security.ValidatePorts(c.CheckAllowedPorts); err != nil {
		problems = append(problems, "CHECK_ALLOWED_PORTS: "+err.Error())
	}
	if _, err := model.ParseNotifyPolicy(string(c.NotifyPolicy)); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
