// Package liveness は登録URLの死活チェックを提供する。
package liveness

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// URLValidator は送信前のURL事前検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// MetricsRecorder は死活チェック結果の記録先。
type MetricsRecorder interface {
	RecordCheck(alive bool, duration time.Duration)
}

// Checker はHEADリクエストでURLの到達可否を判定する。
// リダイレクトはhttp.Clientの既定動作で追従し、最終レスポンスが200のときだけ到達可能とする。
// リトライは行わない。一時的な失敗は次回のスキャンで吸収する。
type Checker struct {
	client    *http.Client
	validator URLValidator
	metrics   MetricsRecorder
	logger    *slog.Logger
	timeout   time.Duration
}

// NewChecker はCheckerを生成する。
// validatorがnilの場合は事前検証を行わない。
func NewChecker(client *http.Client, validator URLValidator, metrics MetricsRecorder, logger *slog.Logger, timeout time.Duration) *Checker {
	return &Checker{
		client:    client,
		validator: validator,
		metrics:   metrics,
		logger:    logger,
		timeout:   timeout,
	}
}

// Check はURLにHEADリクエストを送り、最終ステータスが200ならtrueを返す。
// 事前検証の拒否、リクエスト生成失敗、通信エラー、タイムアウト、200以外のステータスは
// 区別せずすべてfalseとする。
func (c *Checker) Check(ctx context.Context, url string) bool {
	start := time.Now()
	alive := c.head(ctx, url)
	c.metrics.RecordCheck(alive, time.Since(start))
	return alive
}

func (c *Checker) head(ctx context.Context, url string) bool {
	if c.validator != nil {
		if err := c.validator.ValidateURL(url); err != nil {
			c.logger.Warn("死活チェック対象のURLが拒否されました",
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
			return false
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		c.logger.Warn("HEADリクエストの作成に失敗しました",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return false
	}
	req.Header.Set("User-Agent", "linkbot/1.0 (+link liveness check)")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HEADリクエストに失敗しました",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("到達不能なステータスです",
			slog.String("url", url),
			slog.Int("http_status", resp.StatusCode),
		)
		return false
	}

	return true
}
