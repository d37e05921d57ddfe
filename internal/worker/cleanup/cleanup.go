// Package cleanup は古いデータの自動削除ジョブを提供する。
// 保持期間を超過した終端状態（done/failed）のfeed_logsと通知を
// 日次バッチで削除する。notification_itemsはCASCADE削除で処理される。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過したデータの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
//
// 削除対象は終端状態のfeed_logsのみ。wait/error/in_progressの行は
// どれだけ古くてもパイプラインの処理対象であり削除しない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 終端feed_logsと通知の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は保持期間を超過した終端feed_logsと通知を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	logsDeleted, err := j.deleteRows(ctx,
		`DELETE FROM feed_logs
		 WHERE status IN ('done', 'failed')
		   AND updated_at < now() - $1::interval`,
		interval,
	)
	if err != nil {
		return fmt.Errorf("フィードログクリーンアップの実行に失敗: %w", err)
	}

	notificationsDeleted, err := j.deleteRows(ctx,
		`DELETE FROM notifications WHERE created_at < now() - $1::interval`,
		interval,
	)
	if err != nil {
		return fmt.Errorf("通知クリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("feed_logs_deleted", logsDeleted),
		slog.Int64("notifications_deleted", notificationsDeleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// deleteRows は削除クエリを実行し、削除件数を返す。
func (j *CleanupJob) deleteRows(ctx context.Context, query, interval string) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("クリーンアップクエリの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, err
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	return deleted, nil
}
