// Package notify は解析完了したFeedLogのユーザー別ダイジェスト通知への集約を提供する。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/relwatch/internal/metrics"
	"github.com/hitoshi/relwatch/internal/model"
	"github.com/hitoshi/relwatch/internal/repository"
)

// Aggregator はdone状態へ遷移したFeedLogをユーザー別にまとめ、
// ダイジェスト通知を作成する。
//
// 前回実行時刻のウォーターマーク（system_settings）を使用し、
// updated_atがウォーターマークより後のdone行だけを対象にする。
// ウォーターマークの更新は全ユーザーの通知作成が成功した後にのみ行うため、
// 途中で失敗した場合は次回の実行で再試行される（通知はat-least-once）。
type Aggregator struct {
	feedLogRepo      repository.FeedLogRepository
	notificationRepo repository.NotificationRepository
	settingRepo      repository.SystemSettingRepository
	userRepo         repository.UserRepository
	collector        metrics.MetricsCollector
	logger           *slog.Logger
}

// NewAggregator はAggregatorの新しいインスタンスを生成する。
func NewAggregator(
	feedLogRepo repository.FeedLogRepository,
	notificationRepo repository.NotificationRepository,
	settingRepo repository.SystemSettingRepository,
	userRepo repository.UserRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		feedLogRepo:      feedLogRepo,
		notificationRepo: notificationRepo,
		settingRepo:      settingRepo,
		userRepo:         userRepo,
		collector:        collector,
		logger:           logger,
	}
}

// Start は指定間隔のティッカーで集約ジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (a *Aggregator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("通知集約ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("通知集約ジョブを停止しました")
			return
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.Error("通知集約の実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は通知集約を1回実行する。
func (a *Aggregator) RunOnce(ctx context.Context) error {
	start := time.Now()

	setting, err := a.settingRepo.GetOrCreate(ctx,
		model.SystemSettingLastNotificationRunAt,
		time.Time{}.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ウォーターマークの取得に失敗しました: %w", err)
	}

	since, err := time.Parse(time.RFC3339Nano, setting.Value)
	if err != nil {
		return fmt.Errorf("ウォーターマークのパースに失敗しました (value=%q): %w", setting.Value, err)
	}

	completed, err := a.feedLogRepo.ListDoneUpdatedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("解析完了フィードログの取得に失敗しました: %w", err)
	}

	if len(completed) == 0 {
		return nil
	}

	// ユーザー別にグループ化する。通知内の項目順を安定させるため、
	// リリース日時の降順に並べる。
	byUser := make(map[string][]repository.CompletedFeedLog)
	var maxUpdatedAt time.Time
	for _, log := range completed {
		byUser[log.UserID] = append(byUser[log.UserID], log)
		if log.UpdatedAt.After(maxUpdatedAt) {
			maxUpdatedAt = log.UpdatedAt
		}
	}

	// 同一実行内の全通知はcreated_atを共有する
	now := time.Now()

	emitted := 0
	for userID, logs := range byUser {
		// 退会済みユーザーのFeedLogが残っている場合は通知を作成しない
		user, err := a.userRepo.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("ユーザーの取得に失敗しました (user_id=%s): %w", userID, err)
		}
		if user == nil {
			a.logger.Warn("存在しないユーザーへの通知をスキップします",
				slog.String("user_id", userID),
			)
			continue
		}

		if err := a.createDigest(ctx, userID, logs, now); err != nil {
			// ウォーターマークを前進させずに中断する。次回の実行で
			// 作成済みユーザー分も再対象になるが、通知はat-least-once。
			return fmt.Errorf("ダイジェスト通知の作成に失敗しました (user_id=%s): %w", userID, err)
		}
		emitted++
	}

	if err := a.settingRepo.Update(ctx,
		model.SystemSettingLastNotificationRunAt,
		maxUpdatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("ウォーターマークの更新に失敗しました: %w", err)
	}

	a.collector.RecordNotificationsEmitted(emitted)

	duration := time.Since(start)
	a.logger.Info("通知集約が完了しました",
		slog.Int("completed_count", len(completed)),
		slog.Int("notification_count", emitted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// createDigest は1ユーザー分のダイジェスト通知を作成する。
// nowには実行単位で1回だけ取得した時刻を渡す。
func (a *Aggregator) createDigest(ctx context.Context, userID string, logs []repository.CompletedFeedLog, now time.Time) error {
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].ReleaseDate.After(logs[j].ReleaseDate)
	})

	notification := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Read:      false,
		CreatedAt: now,
	}

	items := make([]*model.NotificationItem, 0, len(logs))
	for _, log := range logs {
		items = append(items, &model.NotificationItem{
			ID:             uuid.New().String(),
			NotificationID: notification.ID,
			FeedLogID:      log.ID,
			Title:          fmt.Sprintf("%s %s", log.DataSourceName, log.ReleaseName),
			CreatedAt:      now,
		})
	}

	return a.notificationRepo.CreateWithItems(ctx, notification, items)
}
