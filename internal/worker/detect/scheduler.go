package detect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/relwatch/internal/model"
	"github.com/hitoshi/relwatch/internal/repository"
)

// Scheduler はリリース検出のスケジューリングと並列制御を行う。
// ティッカーで確認対象フィードを取得し、semaphoreパターンで
// 最大並列数を制御しながら検出を実行する。
type Scheduler struct {
	feedRepo       repository.FeedRepository
	detector       FeedDetectorService
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	feedRepo repository.FeedRepository,
	detector FeedDetectorService,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		feedRepo:       feedRepo,
		detector:       detector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("検出スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("検出サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("検出スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("検出サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は確認対象フィードを1回取得し、並列で検出を実行する。
// semaphoreパターンで並列数を制御する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 確認対象フィードを取得（FOR UPDATE SKIP LOCKED）
	feeds, err := s.feedRepo.ListDueForCheck(ctx)
	if err != nil {
		return err
	}

	if len(feeds) == 0 {
		s.logger.Info("確認対象のフィードはありません")
		return nil
	}

	s.logger.Info("検出サイクルを開始します",
		slog.Int("feed_count", len(feeds)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, feed := range feeds {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(f *model.Feed) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.detector.Detect(ctx, f); err != nil {
				s.logger.Error("リリース検出に失敗しました",
					slog.String("feed_id", f.ID),
					slog.String("error", err.Error()),
				)
			}
		}(feed)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("検出サイクルが完了しました",
		slog.Int("feed_count", len(feeds)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
