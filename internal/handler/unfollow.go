package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/linkbot/internal/line"
	"github.com/hitoshi/linkbot/internal/model"
)

// LinkPurger はユーザー単位でリンクを削除するインターフェース。
type LinkPurger interface {
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}

// NewUnfollowHandler はブロックされたユーザーのリンクを削除するイベントハンドラを返す。
// ブロック後はプッシュ通知が届かないため、スキャン対象から外す。
func NewUnfollowHandler(purger LinkPurger, logger *slog.Logger) line.EventHandlerFunc {
	return func(ctx context.Context, event model.InboundEvent) error {
		if event.UserID == "" {
			return nil
		}

		deleted, err := purger.DeleteByUserID(ctx, event.UserID)
		if err != nil {
			return fmt.Errorf("ブロックしたユーザーのリンク削除に失敗しました: %w", err)
		}

		logger.Info("ブロックしたユーザーのリンクを削除しました",
			slog.String("user_id", event.UserID),
			slog.Int64("deleted", deleted),
		)
		return nil
	}
}
