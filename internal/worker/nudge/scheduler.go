package nudge

import (
	"context"
	"log/slog"
	"time"
)

// Runner はジョブ1回分の実行インターフェース。
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Scheduler は一定間隔でナッジジョブを実行する。
type Scheduler struct {
	runner Runner
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, logger: logger}
}

// Start は起動直後に1回ジョブを実行し、以降はinterval間隔で実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ナッジスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ナッジスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.runner.Run(ctx); err != nil {
		s.logger.Error("ナッジジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
