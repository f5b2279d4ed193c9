// Package command はチャットで受信したテキストコマンドの解釈と実行を提供する。
//
// 認識するコマンドは2種類のみ:
//   - http:// または https:// で始まるテキスト: URLの監視登録
//   - 一覧フレーズ（list, links, my links, /list）: 登録済みリンクの一覧
//
// それ以外のテキストには応答しない。
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/linkbot/internal/model"
	"github.com/hitoshi/linkbot/internal/repository"
)

// コマンド種別（メトリクスのラベル値）
const (
	CommandAdd     = "add"
	CommandList    = "list"
	CommandIgnored = "ignored"
)

// listPhrases は一覧コマンドとして扱うフレーズ。前後空白を除去し小文字化して比較する。
var listPhrases = map[string]struct{}{
	"list":     {},
	"links":    {},
	"my links": {},
	"/list":    {},
}

// LivenessChecker は登録時の即時死活チェックに使うインターフェース。
type LivenessChecker interface {
	Check(ctx context.Context, url string) bool
}

// MetricsRecorder はコマンド種別の記録先。
type MetricsRecorder interface {
	RecordCommand(command string)
}

// Config はHandlerの動作設定。
type Config struct {
	// CheckOnSubmit が true の場合、URL登録時に即時死活チェックを行い結果を応答に含める。
	CheckOnSubmit bool
}

// Handler はテキストコマンドを処理し応答文を返す。リクエスト間で状態を持たない。
type Handler struct {
	linkRepo repository.LinkRepository
	checker  LivenessChecker
	metrics  MetricsRecorder
	logger   *slog.Logger
	config   Config
	now      func() time.Time
}

// NewHandler はHandlerの新しいインスタンスを生成する。
func NewHandler(
	linkRepo repository.LinkRepository,
	checker LivenessChecker,
	metrics MetricsRecorder,
	logger *slog.Logger,
	config Config,
) *Handler {
	return &Handler{
		linkRepo: linkRepo,
		checker:  checker,
		metrics:  metrics,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// IsURLCommand はテキストがURL登録コマンドかを判定する（大文字小文字を区別する前方一致）。
func IsURLCommand(text string) bool {
	return strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://")
}

// IsListCommand はテキストが一覧コマンドかを判定する。
func IsListCommand(text string) bool {
	_, ok := listPhrases[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// Handle はユーザーのテキストを解釈して応答文を返す。
// 認識できないテキストの場合は ok=false を返し、応答は送らない。
// リンクストアの障害はエラーとして返す。
func (h *Handler) Handle(ctx context.Context, userID, text string) (reply string, ok bool, err error) {
	switch {
	case IsURLCommand(text):
		h.metrics.RecordCommand(CommandAdd)
		reply, err = h.addLink(ctx, userID, text)
	case IsListCommand(text):
		h.metrics.RecordCommand(CommandList)
		reply, err = h.listLinks(ctx, userID)
	default:
		h.metrics.RecordCommand(CommandIgnored)
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}
	return reply, true, nil
}

// addLink はURLを登録する。URLは正規化せずそのまま保存する。
func (h *Handler) addLink(ctx context.Context, userID, url string) (string, error) {
	existing, err := h.linkRepo.FindByUserAndURL(ctx, userID, url)
	if err != nil {
		h.logError("find", userID, url, err)
		return "", fmt.Errorf("リンクの確認に失敗しました: %w", err)
	}
	if existing != nil {
		return model.LinkExistsMessage(url), nil
	}

	now := h.now()
	link := model.NewLink(userID, url, now)

	if h.config.CheckOnSubmit {
		link.IsAlive = h.checker.Check(ctx, url)
		checkedAt := h.now()
		link.CheckedAt = &checkedAt
	}

	if err := h.linkRepo.Create(ctx, link); err != nil {
		// 確認から作成までの間に同じURLが登録された場合も重複として応答する
		if errors.Is(err, model.ErrLinkAlreadyExists) {
			return model.LinkExistsMessage(url), nil
		}
		h.logError("create", userID, url, err)
		return "", fmt.Errorf("リンクの登録に失敗しました: %w", err)
	}

	h.logger.Info("リンクを登録しました",
		slog.String("user_id", userID),
		slog.String("url", url),
		slog.String("link_id", link.ID),
		slog.Bool("is_alive", link.IsAlive),
		slog.Bool("checked_on_submit", h.config.CheckOnSubmit),
	)

	if !link.IsAlive {
		return model.LinkUnreachableMessage(url), nil
	}
	return model.LinkSavedMessage(url), nil
}

// listLinks はユーザーの登録リンクを1行1件で返す。
func (h *Handler) listLinks(ctx context.Context, userID string) (string, error) {
	links, err := h.linkRepo.ListByUserID(ctx, userID)
	if err != nil {
		h.logError("list", userID, "", err)
		return "", fmt.Errorf("リンク一覧の取得に失敗しました: %w", err)
	}
	return model.LinkListMessage(links), nil
}

func (h *Handler) logError(operation, userID, url string, err error) {
	h.logger.Error("リンクストアの操作に失敗しました",
		slog.String("operation", operation),
		slog.String("user_id", userID),
		slog.String("url", url),
		slog.String("error", err.Error()),
	)
}
