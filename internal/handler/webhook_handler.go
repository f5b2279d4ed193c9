// Package handler はHTTPエンドポイントのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/linkbot/internal/line"
	"github.com/hitoshi/linkbot/internal/model"
)

// maxWebhookBodyBytes はWebhookリクエスト本文の上限。
const maxWebhookBodyBytes = 1 << 20

// EventParser はWebhookリクエストの署名検証とイベント変換のインターフェース。
type EventParser interface {
	Parse(r *http.Request) ([]model.InboundEvent, error)
}

// EventDispatcher は変換済みイベントの振り分けのインターフェース。
type EventDispatcher interface {
	Dispatch(ctx context.Context, events []model.InboundEvent) (int, error)
}

// WebhookHandler はメッセージングプラットフォームからのWebhookを受け付ける。
type WebhookHandler struct {
	parser     EventParser
	dispatcher EventDispatcher
	logger     *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(parser EventParser, dispatcher EventDispatcher, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		parser:     parser,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Callback はWebhookを受信し、署名を検証してからイベントを処理する。
// POST /callback
//
// 署名不一致や本文の解析失敗は400を返し、イベントは一切処理しない。
// いずれかのイベント処理がストア障害などで失敗した場合は、全イベントの処理後に500を返す。
// それ以外は200と本文"OK"を返す。
func (h *WebhookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	events, err := h.parser.Parse(r)
	if err != nil {
		if errors.Is(err, line.ErrInvalidSignature) {
			h.logger.Warn("Webhookの署名検証に失敗しました",
				slog.String("remote_addr", r.RemoteAddr),
			)
		} else {
			h.logger.Warn("Webhookリクエストを解析できませんでした",
				slog.String("error", err.Error()),
			)
		}
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	handled, err := h.dispatcher.Dispatch(r.Context(), events)
	if err != nil {
		h.logger.Error("Webhookイベントの処理に失敗しました",
			slog.Int("event_count", len(events)),
			slog.Int("handled", handled),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.logger.Debug("Webhookイベントを処理しました",
		slog.Int("event_count", len(events)),
		slog.Int("handled", handled),
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
