// Package scan は登録リンクの定期死活スキャンを提供する。
// 全リンクを並列数を制限しながらチェックし、状態を保存して到達不能を通知する。
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/linkbot/internal/model"
	"github.com/hitoshi/linkbot/internal/repository"
)

// LivenessChecker はURLの到達可否判定のインターフェース。
type LivenessChecker interface {
	Check(ctx context.Context, url string) bool
}

// Notifier は到達不能通知のインターフェース。
type Notifier interface {
	NotifyUnreachable(ctx context.Context, userID, url string) error
}

// MetricsRecorder はスキャンサイクルの記録先。
type MetricsRecorder interface {
	RecordScanCycle(duration time.Duration, linksScanned int)
}

// Config はScannerの動作設定。
type Config struct {
	// MaxConcurrency は同時に実行する死活チェックの上限。0以下の場合は5。
	MaxConcurrency int
	// Policy は到達不能通知を送る条件。空の場合はtransition。
	Policy model.NotifyPolicy
}

// Result は1サイクルの集計結果。
type Result struct {
	StartedAt time.Time
	Total     int
	Alive     int
	Dead      int
	Notified  int
	// Failed は状態の保存または通知に失敗したリンク数。
	Failed int
}

// Scanner は全リンクの死活チェックを1サイクル実行する。
type Scanner struct {
	linkRepo       repository.LinkRepository
	checker        LivenessChecker
	notifier       Notifier
	metrics        MetricsRecorder
	logger         *slog.Logger
	maxConcurrency int
	policy         model.NotifyPolicy
	now            func() time.Time
}

// NewScanner はScannerの新しいインスタンスを生成する。
func NewScanner(
	linkRepo repository.LinkRepository,
	checker LivenessChecker,
	notifier Notifier,
	metrics MetricsRecorder,
	logger *slog.Logger,
	config Config,
) *Scanner {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if config.Policy == "" {
		config.Policy = model.NotifyPolicyTransition
	}
	return &Scanner{
		linkRepo:       linkRepo,
		checker:        checker,
		notifier:       notifier,
		metrics:        metrics,
		logger:         logger,
		maxConcurrency: config.MaxConcurrency,
		policy:         config.Policy,
		now:            time.Now,
	}
}

// linkOutcome は1リンク分の処理結果。
type linkOutcome struct {
	alive    bool
	notified bool
	failed   bool
	// saveErr は状態の保存に失敗した場合のエラー。
	saveErr  error
}

// RunOnce は全リンクを1回チェックする。
// 各リンクのis_aliveとchecked_atは結果に関わらず保存するため、
// サイクル完了後はすべてのchecked_atがサイクル開始時刻以降になる。
// 1リンクの失敗は他のリンクの処理を止めない。
// ただし対象リンクすべての状態保存に失敗した場合はストア障害とみなし、エラーを返す。
func (s *Scanner) RunOnce(ctx context.Context) (Result, error) {
	start := s.now()
	result := Result{StartedAt: start}

	links, err := s.linkRepo.ListAll(ctx)
	if err != nil {
		return result, fmt.Errorf("スキャン対象リンクの取得に失敗しました: %w", err)
	}

	if len(links) == 0 {
		s.logger.Info("スキャン対象のリンクはありません")
		s.metrics.RecordScanCycle(time.Since(start), 0)
		return result, nil
	}

	s.logger.Info("スキャンサイクルを開始します",
		slog.Int("link_count", len(links)),
		slog.String("notify_policy", string(s.policy)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	unsaved := 0
	var lastSaveErr error

dispatch:
	for _, link := range links {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}
		wg.Add(1)

		go func(l *model.Link) {
			defer wg.Done()
			defer func() { <-sem }()

			o := s.scanLink(ctx, l)

			mu.Lock()
			defer mu.Unlock()
			result.Total++
			if o.alive {
				result.Alive++
			} else {
				result.Dead++
			}
			if o.notified {
				result.Notified++
			}
			if o.failed {
				result.Failed++
			}
			if o.saveErr != nil {
				unsaved++
				lastSaveErr = o.saveErr
			}
		}(link)
	}

	wg.Wait()

	duration := time.Since(start)
	s.metrics.RecordScanCycle(duration, result.Total)
	s.logger.Info("スキャンサイクルが完了しました",
		slog.Int("link_count", result.Total),
		slog.Int("alive", result.Alive),
		slog.Int("dead", result.Dead),
		slog.Int("notified", result.Notified),
		slog.Int("failed", result.Failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if result.Total > 0 && unsaved == result.Total {
		return result, fmt.Errorf("全%d件のリンク状態の保存に失敗しました: %w", unsaved, lastSaveErr)
	}
	return result, nil
}

// scanLink は1リンクをチェックして状態を保存し、必要なら通知する。
func (s *Scanner) scanLink(ctx context.Context, link *model.Link) (o linkOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("リンクのスキャン中にpanicが発生しました",
				slog.String("link_id", link.ID),
				slog.String("url", link.URL),
				slog.Any("panic", r),
			)
			o.failed = true
		}
	}()

	wasAlive := link.IsAlive
	alive := s.checker.Check(ctx, link.URL)
	o.alive = alive

	checkedAt := s.now()
	link.IsAlive = alive
	link.CheckedAt = &checkedAt

	if err := s.linkRepo.UpdateStatus(ctx, link); err != nil {
		// 保存できなかった場合は次サイクルで再判定されるため、重複通知を避けて通知しない
		s.logger.Error("リンク状態の保存に失敗しました",
			slog.String("link_id", link.ID),
			slog.String("url", link.URL),
			slog.String("error", err.Error()),
		)
		o.failed = true
		o.saveErr = err
		return o
	}

	if !s.policy.ShouldNotify(wasAlive, alive) {
		return o
	}

	if err := s.notifier.NotifyUnreachable(ctx, link.UserID, link.URL); err != nil {
		s.logger.Error("到達不能通知に失敗しました",
			slog.String("link_id", link.ID),
			slog.String("user_id", link.UserID),
			slog.String("url", link.URL),
			slog.String("error", err.Error()),
		)
		o.failed = true
		return o
	}
	o.notified = true
	return o
}
