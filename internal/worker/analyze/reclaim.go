package analyze

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/relwatch/internal/metrics"
	"github.com/hitoshi/relwatch/internal/repository"
)

// defaultStuckAge はin_progress状態を滞留とみなすまでの経過時間。
const defaultStuckAge = 30 * time.Minute

// Reclaimer はワーカーのクラッシュ等でin_progressのまま滞留した
// FeedLogを定期的にerror状態へ戻し、再スイープの対象にする。
//
// クレーム中のワーカーが長時間の解析後にMark系メソッドを呼んでも、
// 回収済みの行はin_progressではなくなっているため条件付きUPDATEが
// 失敗するだけで、二重の結果記録は起きない。
type Reclaimer struct {
	feedLogRepo repository.FeedLogRepository
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	stuckAge    time.Duration
}

// NewReclaimer はReclaimerの新しいインスタンスを生成する。
// stuckAgeが0以下の場合はデフォルト値30分を使用する。
func NewReclaimer(
	feedLogRepo repository.FeedLogRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	stuckAge time.Duration,
) *Reclaimer {
	if stuckAge <= 0 {
		stuckAge = defaultStuckAge
	}
	return &Reclaimer{
		feedLogRepo: feedLogRepo,
		collector:   collector,
		logger:      logger,
		stuckAge:    stuckAge,
	}
}

// Start は指定間隔のティッカーで回収ジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Reclaimer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("滞留回収ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("stuck_age", r.stuckAge),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("滞留回収ジョブを停止しました")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("滞留回収の実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は滞留中のFeedLogを1回回収する。
func (r *Reclaimer) RunOnce(ctx context.Context) error {
	reclaimed, err := r.feedLogRepo.ReclaimStuck(ctx, r.stuckAge)
	if err != nil {
		return err
	}

	if reclaimed > 0 {
		r.collector.RecordStuckReclaimed(int(reclaimed))
		r.logger.Warn("滞留中のフィードログを回収しました",
			slog.Int64("reclaimed_count", reclaimed),
		)
	}

	return nil
}
