package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/linkbot/internal/model"
)

// configEnvVars はテストごとに初期化する環境変数。
var configEnvVars = []string{
	"LINE_CHANNEL_SECRET", "LINE_CHANNEL_ACCESS_TOKEN", "LINE_API_ENDPOINT",
	"DATABASE_URL", "SERVER_PORT", "SERVE_SCAN_ENABLED",
	"SCAN_INTERVAL", "CHECK_TIMEOUT", "SCAN_MAX_CONCURRENT", "CHECK_ON_SUBMIT",
	"NOTIFY_POLICY", "PUSH_RATE_PER_SECOND", "BLOCK_PRIVATE_NETWORKS", "CHECK_ALLOWED_PORTS", "PURGE_ON_UNFOLLOW", "LOG_LEVEL",
}

// clearEnv は関連する環境変数を空にする。t.Setenvで元の値はテスト終了時に戻る。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv("LINE_CHANNEL_SECRET", "test-secret")
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "test-token")
	t.Setenv("DATABASE_URL", "sqlite:///tmp/linkbot.db")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-secret", cfg.ChannelSecret)
	assert.Equal(t, "test-token", cfg.ChannelAccessToken)
	assert.Equal(t, "sqlite:///tmp/linkbot.db", cfg.DatabaseURL)
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.True(t, cfg.ServeScanEnabled)
	assert.Equal(t, time.Hour, cfg.ScanInterval)
	assert.Equal(t, 5*time.Second, cfg.CheckTimeout)
	assert.Equal(t, 5, cfg.ScanMaxConcurrent)
	assert.False(t, cfg.CheckOnSubmit)
	assert.Equal(t, model.NotifyPolicyTransition, cfg.NotifyPolicy)
	assert.Equal(t, float64(5), cfg.PushRatePerSecond)
	assert.True(t, cfg.BlockPrivateNetworks)
	assert.Empty(t, cfg.CheckAllowedPorts, "既定ではポートを制限しない")
	assert.False(t, cfg.PurgeOnUnfollow, "既定ではリンクを削除しない")
	assert.Empty(t, cfg.LineAPIEndpoint)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVE_SCAN_ENABLED", "false")
	t.Setenv("SCAN_INTERVAL", "15m")
	t.Setenv("CHECK_TIMEOUT", "2s")
	t.Setenv("SCAN_MAX_CONCURRENT", "20")
	t.Setenv("CHECK_ON_SUBMIT", "true")
	t.Setenv("NOTIFY_POLICY", "always")
	t.Setenv("PUSH_RATE_PER_SECOND", "0.5")
	t.Setenv("BLOCK_PRIVATE_NETWORKS", "false")
	t.Setenv("CHECK_ALLOWED_PORTS", "80,443,9000")
	t.Setenv("PURGE_ON_UNFOLLOW", "true")
	t.Setenv("LINE_API_ENDPOINT", "http://localhost:9999")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.False(t, cfg.ServeScanEnabled)
	assert.Equal(t, 15*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 2*time.Second, cfg.CheckTimeout)
	assert.Equal(t, 20, cfg.ScanMaxConcurrent)
	assert.True(t, cfg.CheckOnSubmit)
	assert.Equal(t, model.NotifyPolicyAlways, cfg.NotifyPolicy)
	assert.Equal(t, 0.5, cfg.PushRatePerSecond)
	assert.False(t, cfg.BlockPrivateNetworks)
	assert.Equal(t, []int{80, 443, 9000}, cfg.CheckAllowedPorts)
	assert.True(t, cfg.PurgeOnUnfollow)
	assert.Equal(t, "http://localhost:9999", cfg.LineAPIEndpoint)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingRequiredVarsReportedTogether(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LINE_CHANNEL_SECRET")
	assert.Contains(t, err.Error(), "LINE_CHANNEL_ACCESS_TOKEN")
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparseable interval", "SCAN_INTERVAL", "hourly"},
		{"zero interval", "SCAN_INTERVAL", "0s"},
		{"negative timeout", "CHECK_TIMEOUT", "-1s"},
		{"zero concurrency", "SCAN_MAX_CONCURRENT", "0"},
		{"unknown policy", "NOTIFY_POLICY", "sometimes"},
		{"unknown log level", "LOG_LEVEL", "verbose"},
		{"non-bool flag", "CHECK_ON_SUBMIT", "maybe"},
		{"non-numeric port", "CHECK_ALLOWED_PORTS", "80,https"},
		{"port out of range", "CHECK_ALLOWED_PORTS", "443,70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv_FillsUnsetVarsOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "7000")

	path := filepath.Join(t.TempDir(), ".env")
	content := "LINE_CHANNEL_SECRET=from-file\nLINE_CHANNEL_ACCESS_TOKEN=token-from-file\nDATABASE_URL=sqlite://links.db\nSERVER_PORT=1234\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LINE_CHANNEL_SECRET")
		os.Unsetenv("LINE_CHANNEL_ACCESS_TOKEN")
		os.Unsetenv("DATABASE_URL")
	})

	require.NoError(t, LoadDotEnv(path))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ChannelSecret)
	assert.Equal(t, "sqlite://links.db", cfg.DatabaseURL)
	assert.Equal(t, "7000", cfg.ServerPort, "既存の環境変数は上書きしない")
}

func TestLoadDotEnv_MissingFileIsIgnored(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "does-not-exist.env")))
}
