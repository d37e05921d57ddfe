package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/relwatch/internal/model"
)

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

// scanFeed は1行分のFeedをスキャンする。
func scanFeed(scan func(dest ...interface{}) error) (*model.Feed, error) {
	feed := &model.Feed{}
	var lastReleaseAt sql.NullTime
	var errorMessage sql.NullString

	if err := scan(
		&feed.ID, &feed.UserID, &feed.DataSourceID, &feed.Cycle,
		&lastReleaseAt, &feed.NextCheckAt, &feed.ConsecutiveErrors,
		&errorMessage, &feed.CreatedAt, &feed.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if lastReleaseAt.Valid {
		t := lastReleaseAt.Time
		feed.LastReleaseAt = &t
	}
	feed.ErrorMessage = nullStringValue(errorMessage)

	return feed, nil
}

const feedColumns = `id, user_id, data_source_id, cycle, last_release_at,
	        next_check_at, consecutive_errors, error_message, created_at, updated_at`

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id,
	)

	feed, err := scanFeed(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// Create はフィードを作成する。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	var lastReleaseAt sql.NullTime
	if feed.LastReleaseAt != nil {
		lastReleaseAt = sql.NullTime{Time: *feed.LastReleaseAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, user_id, data_source_id, cycle, last_release_at,
		                    next_check_at, consecutive_errors, error_message,
		                    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		feed.ID, feed.UserID, feed.DataSourceID, feed.Cycle, lastReleaseAt,
		feed.NextCheckAt, feed.ConsecutiveErrors, nullString(feed.ErrorMessage),
		feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return nil
}

// ListDueForCheck は確認対象のフィードを取得する。
// next_check_at <= now() のフィードをFOR UPDATE SKIP LOCKEDで排他的に取得する。
func (r *PostgresFeedRepo) ListDueForCheck(ctx context.Context) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+`
		 FROM feeds
		 WHERE next_check_at <= now()
		 ORDER BY next_check_at ASC
		 FOR UPDATE SKIP LOCKED`,
	)
	if err != nil {
		return nil, fmt.Errorf("確認対象フィードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("確認対象フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("確認対象フィードの走査に失敗しました: %w", err)
	}

	return feeds, nil
}

// UpdateCheckState はフィードの確認スケジューリング状態を更新する。
// last_release_atはAdvanceWatermarkのみが変更するため、ここでは触れない。
func (r *PostgresFeedRepo) UpdateCheckState(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    next_check_at = $2,
		    consecutive_errors = $3,
		    error_message = $4,
		    updated_at = now()
		 WHERE id = $1`,
		feed.ID, feed.NextCheckAt, feed.ConsecutiveErrors, nullString(feed.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("確認状態の更新に失敗しました: %w", err)
	}
	return nil
}

// AdvanceWatermark はウォーターマークをobservedまで前進させる。
// WHERE句で現在値と比較することで単調非減少をストレージ層で保証する。
func (r *PostgresFeedRepo) AdvanceWatermark(ctx context.Context, feedID string, observed time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET last_release_at = $2, updated_at = now()
		 WHERE id = $1 AND (last_release_at IS NULL OR last_release_at < $2)`,
		feedID, observed,
	)
	if err != nil {
		return fmt.Errorf("ウォーターマークの更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
