// Package line はLINE Messaging APIとの連携を提供する。
// Webhookの署名検証とイベント変換、イベント種別ごとのディスパッチ、
// Reply/Push APIによるテキスト送信を含む。
package line

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// Client はLINE Messaging APIのクライアント。
// テキストメッセージの返信とプッシュ送信のみを扱う。
type Client struct {
	api    *messaging_api.MessagingApiAPI
	logger *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
// endpointが空の場合はSDKの既定エンドポイントを使用する。
func NewClient(channelAccessToken, endpoint string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	opts := []messaging_api.MessagingApiAPIOption{}
	if httpClient != nil {
		opts = append(opts, messaging_api.WithHTTPClient(httpClient))
	}
	if endpoint != "" {
		opts = append(opts, messaging_api.WithEndpoint(endpoint))
	}

	api, err := messaging_api.NewMessagingApiAPI(channelAccessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("Messaging APIクライアントの生成に失敗しました: %w", err)
	}
	return &Client{api: api, logger: logger}, nil
}

// Reply はリプライトークンを使ってテキストを1件返信する。
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	_, err := c.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	if err != nil {
		c.logger.Error("返信メッセージの送信に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("返信メッセージの送信に失敗しました: %w", err)
	}
	return nil
}

// Push はユーザーIDを宛先としてテキストを1件プッシュ送信する。
func (c *Client) Push(ctx context.Context, userID, text string) error {
	_, err := c.api.WithContext(ctx).PushMessage(&messaging_api.PushMessageRequest{
		To: userID,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	}, "")
	if err != nil {
		c.logger.Error("プッシュメッセージの送信に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("プッシュメッセージの送信に失敗しました: %w", err)
	}
	return nil
}
