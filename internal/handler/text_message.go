package handler

import (
	"context"
	"log/slog"

	"github.com/hitoshi/linkbot/internal/line"
	"github.com/hitoshi/linkbot/internal/model"
)

// CommandHandler はテキストコマンドを解釈して応答文を返すインターフェース。
type CommandHandler interface {
	Handle(ctx context.Context, userID, text string) (reply string, ok bool, err error)
}

// Replier はリプライトークンを使った返信のインターフェース。
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// NewTextMessageHandler はテキストメッセージイベントをコマンドとして処理し、
// 応答があれば返信するイベントハンドラを返す。
// 返信の失敗はログに記録するのみで、エラーとしては返さない。
func NewTextMessageHandler(cmd CommandHandler, replier Replier, logger *slog.Logger) line.EventHandlerFunc {
	return func(ctx context.Context, event model.InboundEvent) error {
		if event.UserID == "" {
			logger.Debug("送信者を特定できないメッセージを読み飛ばしました")
			return nil
		}

		reply, ok, err := cmd.Handle(ctx, event.UserID, event.Text)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := replier.Reply(ctx, event.ReplyToken, reply); err != nil {
			logger.Warn("コマンドの応答を返信できませんでした",
				slog.String("user_id", event.UserID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
}
