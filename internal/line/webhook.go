package line

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/hitoshi/linkbot/internal/model"
)

// ErrInvalidSignature は署名ヘッダーが欠落しているか本文と一致しない場合のエラー。
var ErrInvalidSignature = errors.New("invalid signature")

// WebhookParser はWebhookリクエストの署名を検証し、イベントを変換する。
type WebhookParser struct {
	channelSecret string
}

// NewWebhookParser はWebhookParserを生成する。
func NewWebhookParser(channelSecret string) *WebhookParser {
	return &WebhookParser{channelSecret: channelSecret}
}

// Parse はX-Line-Signatureヘッダーをチャネルシークレットで検証し、
// 本文のイベントをInboundEventの列に変換する。
// 署名不一致の場合はErrInvalidSignatureを返す。
func (p *WebhookParser) Parse(r *http.Request) ([]model.InboundEvent, error) {
	cb, err := webhook.ParseRequest(p.channelSecret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("Webhookリクエストの解析に失敗しました: %w", err)
	}

	events := make([]model.InboundEvent, 0, len(cb.Events))
	for _, e := range cb.Events {
		events = append(events, toInboundEvent(e))
	}
	return events, nil
}

// toInboundEvent はSDKのイベントをプラットフォーム非依存の形に変換する。
func toInboundEvent(event webhook.EventInterface) model.InboundEvent {
	switch e := event.(type) {
	case webhook.MessageEvent:
		in := model.InboundEvent{
			Kind:       model.EventKindMessage,
			ReplyToken: e.ReplyToken,
			UserID:     sourceUserID(e.Source),
		}
		if text, ok := e.Message.(webhook.TextMessageContent); ok {
			in.Kind = model.EventKindTextMessage
			in.Text = text.Text
		}
		return in
	case webhook.FollowEvent:
		return model.InboundEvent{
			Kind:       model.EventKindFollow,
			ReplyToken: e.ReplyToken,
			UserID:     sourceUserID(e.Source),
		}
	case webhook.UnfollowEvent:
		return model.InboundEvent{
			Kind:   model.EventKindUnfollow,
			UserID: sourceUserID(e.Source),
		}
	default:
		return model.InboundEvent{Kind: model.EventKindUnknown}
	}
}

// sourceUserID は送信元からユーザーIDを取り出す。
// グループやトークルームでも発言者のIDがあればそれを返す。
func sourceUserID(source webhook.SourceInterface) string {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	default:
		return ""
	}
}
