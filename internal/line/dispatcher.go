package line

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/linkbot/internal/model"
)

// EventHandlerFunc は1件のイベントを処理する関数。
type EventHandlerFunc func(ctx context.Context, event model.InboundEvent) error

// Dispatcher はイベント種別ごとに登録されたハンドラへイベントを振り分ける。
// 登録は起動時に済ませ、以後は読み取りのみとする。
type Dispatcher struct {
	handlers map[model.EventKind]EventHandlerFunc
	logger   *slog.Logger
}

// NewDispatcher はハンドラ未登録のDispatcherを生成する。
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[model.EventKind]EventHandlerFunc),
		logger:   logger,
	}
}

// Register はイベント種別にハンドラを登録する。同じ種別への再登録は上書きする。
func (d *Dispatcher) Register(kind model.EventKind, h EventHandlerFunc) {
	d.handlers[kind] = h
}

// Dispatch はイベントを順に対応するハンドラへ渡す。
// 未登録の種別は読み飛ばし、ハンドラのエラーはログに記録して次のイベントへ進む。
// 処理したイベント数と、全イベント処理後にまとめたハンドラのエラーを返す。
func (d *Dispatcher) Dispatch(ctx context.Context, events []model.InboundEvent) (int, error) {
	handled := 0
	var errs []error
	for _, e := range events {
		h, ok := d.handlers[e.Kind]
		if !ok {
			d.logger.Debug("未対応のイベントを読み飛ばしました",
				slog.String("kind", string(e.Kind)),
			)
			continue
		}

		if err := h(ctx, e); err != nil {
			d.logger.Error("イベントの処理に失敗しました",
				slog.String("kind", string(e.Kind)),
				slog.String("user_id", e.UserID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s event: %w", e.Kind, err))
			continue
		}
		handled++
	}
	return handled, errors.Join(errs...)
}
