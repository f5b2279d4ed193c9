package scan

import (
	"context"
	"log/slog"
	"time"
)

// CycleRunner は1サイクル分のスキャンを実行するインターフェース。
type CycleRunner interface {
	RunOnce(ctx context.Context) (Result, error)
}

// Scheduler は一定間隔でスキャンサイクルを実行する。
// サイクルはティッカーのループ内で同期的に実行されるため重ならない。
// 実行中に発火したティックはtime.Tickerが読み捨てる。
type Scheduler struct {
	runner CycleRunner
	logger *slog.Logger
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(runner CycleRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, logger: logger}
}

// Start は起動直後に1回スキャンし、以後interval毎に繰り返す。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("スキャンスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("スキャンスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if _, err := s.runner.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("スキャンサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
