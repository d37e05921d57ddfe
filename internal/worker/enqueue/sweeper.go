// Package enqueue は未処理FeedLogの解析キューへの投入を提供する。
package enqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/relwatch/internal/metrics"
	"github.com/hitoshi/relwatch/internal/queue"
	"github.com/hitoshi/relwatch/internal/repository"
)

// defaultBatchLimit は1回のスイープで取得するFeedLogの最大件数。
const defaultBatchLimit = 500

// Sweeper はwaitまたはerror状態のFeedLogを定期的にスキャンし、
// 解析キューへ投入する。
//
// スナップショットの取得とキュー投入の間に状態遷移が起きることは許容する。
// 既に処理中・処理済みのFeedLogが投入されても、消費側のクレームが
// 失敗するだけで害はない（at-least-once配送の一部として扱う）。
// このジョブがFeedLogを終端状態に遷移させることはない。
type Sweeper struct {
	feedLogRepo repository.FeedLogRepository
	queue       queue.AnalysisQueue
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	batchLimit  int
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// batchLimitが0以下の場合はデフォルト値500を使用する。
func NewSweeper(
	feedLogRepo repository.FeedLogRepository,
	q queue.AnalysisQueue,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	batchLimit int,
) *Sweeper {
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	return &Sweeper{
		feedLogRepo: feedLogRepo,
		queue:       q,
		collector:   collector,
		logger:      logger,
		batchLimit:  batchLimit,
	}
}

// Start は指定間隔のティッカーでスイーパーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("キュー投入スイーパーを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("キュー投入スイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("キュー投入スイーパーを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("キュー投入スイープの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は未処理FeedLogのスナップショットを1回取得し、キューへ投入する。
// 投入失敗したFeedLogはスキップし、次回のスイープで再試行する。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()

	logs, err := s.feedLogRepo.ListPending(ctx, s.batchLimit)
	if err != nil {
		return err
	}

	if len(logs) == 0 {
		return nil
	}

	sent := 0
	for _, log := range logs {
		if err := s.queue.Send(ctx, log.ID); err != nil {
			s.logger.Error("キューへの投入に失敗しました",
				slog.String("feed_log_id", log.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
	}

	s.collector.RecordQueueSent(sent)

	duration := time.Since(start)
	s.logger.Info("キュー投入スイープが完了しました",
		slog.Int("pending_count", len(logs)),
		slog.Int("sent_count", sent),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
