package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/relwatch/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// CreateWithItems は通知と通知項目を同一トランザクションで作成する。
// いずれかの挿入に失敗した場合はすべてロールバックする。
func (r *PostgresNotificationRepo) CreateWithItems(ctx context.Context, n *model.Notification, items []*model.NotificationItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, read, created_at)
		 VALUES ($1, $2, $3, $4)`,
		n.ID, n.UserID, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("通知の作成に失敗しました: %w", err)
	}

	for _, item := range items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO notification_items (id, notification_id, feed_log_id, title, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			item.ID, item.NotificationID, item.FeedLogID, item.Title, item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("通知項目の作成に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
