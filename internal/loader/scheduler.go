package loader

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler は定期リフレッシュのスケジューリングを行う。
// 起動直後に1回初期読み込みを実行し、以降は一定間隔で
// 全セクションの強制リフレッシュを実行する。
type Scheduler struct {
	loader *Loader
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(loader *Loader, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		loader: loader,
		logger: logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リフレッシュスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後はキャッシュ優先の初期読み込み
	s.loader.LoadAll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リフレッシュスケジューラを停止しました")
			return
		case <-ticker.C:
			if !s.loader.RefreshAll(ctx) {
				s.logger.Info("前回のリフレッシュが継続中のためこのサイクルをスキップします")
			}
		}
	}
}
