// Package notify はリンク到達不能のプッシュ通知を提供する。
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/hitoshi/linkbot/internal/model"
)

// Pusher はユーザーへのテキストプッシュ送信のインターフェース。
type Pusher interface {
	Push(ctx context.Context, userID, text string) error
}

// MetricsRecorder は通知結果の記録先。
type MetricsRecorder interface {
	RecordNotification(success bool)
}

// Notifier は送信レートを制限しながら到達不能通知をプッシュする。
type Notifier struct {
	pusher  Pusher
	limiter *rate.Limiter
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewNotifier はNotifierを生成する。
// perSecondが0以下の場合はレート制限を行わない。
func NewNotifier(pusher Pusher, perSecond float64, metrics MetricsRecorder, logger *slog.Logger) *Notifier {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Notifier{
		pusher:  pusher,
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
		logger:  logger,
	}
}

// NotifyUnreachable はリンクの所有者に到達不能を通知する。
// コンテキストがキャンセルされた場合は送信せずにエラーを返す。
func (n *Notifier) NotifyUnreachable(ctx context.Context, userID, url string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		n.metrics.RecordNotification(false)
		return fmt.Errorf("通知の送信待機が中断されました: %w", err)
	}

	if err := n.pusher.Push(ctx, userID, model.LinkUnreachableMessage(url)); err != nil {
		n.metrics.RecordNotification(false)
		n.logger.Warn("到達不能通知の送信に失敗しました",
			slog.String("user_id", userID),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("到達不能通知の送信に失敗しました: %w", err)
	}

	n.metrics.RecordNotification(true)
	n.logger.Info("到達不能通知を送信しました",
		slog.String("user_id", userID),
		slog.String("url", url),
	)
	return nil
}
