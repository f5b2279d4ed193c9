package model

// EventKind はメッセージングプラットフォームから受信したイベントの種別。
type EventKind string

const (
	// EventKindTextMessage はテキストメッセージイベント。
	EventKindTextMessage EventKind = "message.text"
	// EventKindMessage はテキスト以外のメッセージイベント（スタンプ、画像など）。
	EventKindMessage EventKind = "message"
	// EventKindFollow は友だち追加イベント。
	EventKindFollow EventKind = "follow"
	// EventKindUnfollow はブロックイベント。
	EventKindUnfollow EventKind = "unfollow"
	// EventKindUnknown はそれ以外のイベント。
	EventKindUnknown EventKind = "unknown"
)

// InboundEvent はWebhookで受信した1件のイベントをプラットフォーム非依存の形で表す。
type InboundEvent struct {
	Kind       EventKind
	ReplyToken string
	UserID     string
	Text       string
}
