// Package detect は新規リリースの検出とFeedLog作成を提供する。
// スケジューラ、検出器、バックオフ戦略を含む。
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/relwatch/internal/github"
	"github.com/hitoshi/relwatch/internal/metrics"
	"github.com/hitoshi/relwatch/internal/model"
	"github.com/hitoshi/relwatch/internal/repository"
)

// FeedDetectorService はフィード1件のリリース検出インターフェース。
type FeedDetectorService interface {
	// Detect は指定フィードの新規リリースを検出し、結果に応じてフィード状態を更新する。
	Detect(ctx context.Context, feed *model.Feed) error
}

// Detector は新規リリースを検出してFeedLogをwait状態で作成する。
//
// 処理順序が重要: FeedLogの作成がすべて完了してからウォーターマークを
// 前進させる。途中でクラッシュした場合、ウォーターマークは前進しないため
// 次回の検出で同じリリースが再取得されるが、feed_id + release_idの
// 冪等性判定により重複作成は起きない。
type Detector struct {
	feedRepo       repository.FeedRepository
	feedLogRepo    repository.FeedLogRepository
	dataSourceRepo repository.DataSourceRepository
	finder         github.ReleaseFinder
	collector      metrics.MetricsCollector
	logger         *slog.Logger
}

// NewDetector はDetectorの新しいインスタンスを生成する。
func NewDetector(
	feedRepo repository.FeedRepository,
	feedLogRepo repository.FeedLogRepository,
	dataSourceRepo repository.DataSourceRepository,
	finder github.ReleaseFinder,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Detector {
	return &Detector{
		feedRepo:       feedRepo,
		feedLogRepo:    feedLogRepo,
		dataSourceRepo: dataSourceRepo,
		finder:         finder,
		collector:      collector,
		logger:         logger,
	}
}

// Detect は指定フィードの新規リリースを検出する。
// ウォーターマーク（last_release_at）より後に公開されたリリースごとに
// FeedLogをwait状態で作成し、ウォーターマークを観測した最大公開日時まで
// 前進させる。新規リリースがない場合、ウォーターマークは変更しない。
func (d *Detector) Detect(ctx context.Context, feed *model.Feed) error {
	ds, err := d.dataSourceRepo.FindByID(ctx, feed.DataSourceID)
	if err != nil {
		return fmt.Errorf("データソースの取得に失敗しました: %w", err)
	}
	if ds == nil {
		return fmt.Errorf("データソースが見つかりません (data_source_id=%s)", feed.DataSourceID)
	}

	releases, err := d.finder.ListReleases(ctx, ds.Owner, ds.Repo, feed.LastReleaseAt)
	if err != nil {
		d.collector.RecordDetectFailure(failureReason(err))
		d.logger.Warn("リリース一覧の取得に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("repo", ds.FullName()),
			slog.String("error", err.Error()),
		)

		ApplyCheckBackoff(feed, err.Error())
		if updateErr := d.feedRepo.UpdateCheckState(ctx, feed); updateErr != nil {
			return fmt.Errorf("フィード状態の更新に失敗しました: %w", updateErr)
		}
		return err
	}

	created := 0
	var maxPublishedAt time.Time
	for _, release := range releases {
		if release.PublishedAt.After(maxPublishedAt) {
			maxPublishedAt = release.PublishedAt
		}

		existing, err := d.feedLogRepo.FindByFeedAndRelease(ctx, feed.ID, release.ID)
		if err != nil {
			return fmt.Errorf("フィードログの検索に失敗しました: %w", err)
		}
		if existing != nil {
			// 前回の検出で作成済み（ウォーターマーク前進前のクラッシュ等）
			continue
		}

		log := &model.FeedLog{
			ID:          uuid.New().String(),
			FeedID:      feed.ID,
			ReleaseID:   release.ID,
			ReleaseName: release.Name,
			ReleaseDate: release.PublishedAt,
			Status:      model.FeedLogStatusWait,
		}
		if err := d.feedLogRepo.Create(ctx, log); err != nil {
			return fmt.Errorf("フィードログの作成に失敗しました: %w", err)
		}
		created++
	}

	// 作成がすべて完了した後にのみウォーターマークを前進させる
	if len(releases) > 0 {
		if err := d.feedRepo.AdvanceWatermark(ctx, feed.ID, maxPublishedAt); err != nil {
			return fmt.Errorf("ウォーターマークの前進に失敗しました: %w", err)
		}
	}

	if created > 0 {
		d.collector.RecordReleasesDetected(created)
		d.logger.Info("新規リリースを検出しました",
			slog.String("feed_id", feed.ID),
			slog.String("repo", ds.FullName()),
			slog.Int("created_count", created),
		)
	}

	ApplyCheckSuccess(feed)
	if err := d.feedRepo.UpdateCheckState(ctx, feed); err != nil {
		return fmt.Errorf("フィード状態の更新に失敗しました: %w", err)
	}

	return nil
}

// failureReason は検出失敗エラーをメトリクスのラベル値に変換する。
func failureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrUpstreamRateLimited):
		return "rate_limited"
	case errors.Is(err, model.ErrUpstreamMalformed):
		return "malformed"
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}

// compile-time interface check
var _ FeedDetectorService = (*Detector)(nil)
