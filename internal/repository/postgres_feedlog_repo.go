package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/relwatch/internal/model"
)

// PostgresFeedLogRepo はPostgreSQLを使用したFeedLogリポジトリ。
// 状態遷移はすべてWHERE句で現在の状態を照合する条件付きUPDATEで行い、
// これが唯一の排他制御機構となる（外部ロックは使用しない）。
type PostgresFeedLogRepo struct {
	db *sql.DB
}

// NewPostgresFeedLogRepo はPostgresFeedLogRepoを生成する。
func NewPostgresFeedLogRepo(db *sql.DB) *PostgresFeedLogRepo {
	return &PostgresFeedLogRepo{db: db}
}

const feedLogColumns = `id, feed_id, release_id, release_name, release_date,
	        status, summary, summary_items, error_message, created_at, updated_at`

// scanFeedLog は1行分のFeedLogをスキャンする。
func scanFeedLog(scan func(dest ...interface{}) error) (*model.FeedLog, error) {
	log := &model.FeedLog{}
	var summary, errorMessage sql.NullString
	var items []byte

	if err := scan(
		&log.ID, &log.FeedID, &log.ReleaseID, &log.ReleaseName, &log.ReleaseDate,
		&log.Status, &summary, &items, &errorMessage, &log.CreatedAt, &log.UpdatedAt,
	); err != nil {
		return nil, err
	}

	log.Summary = nullStringValue(summary)
	log.ErrorMessage = nullStringValue(errorMessage)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &log.Items); err != nil {
			return nil, fmt.Errorf("要約項目のデコードに失敗しました: %w", err)
		}
	}

	return log, nil
}

// FindByID は指定IDのFeedLogを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedLogRepo) FindByID(ctx context.Context, id string) (*model.FeedLog, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feedLogColumns+` FROM feed_logs WHERE id = $1`, id,
	)

	log, err := scanFeedLog(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FeedLogの取得に失敗しました: %w", err)
	}
	return log, nil
}

// FindByFeedAndRelease はfeed_idとrelease_idでFeedLogを検索する。見つからない場合はnilを返す。
func (r *PostgresFeedLogRepo) FindByFeedAndRelease(ctx context.Context, feedID string, releaseID int64) (*model.FeedLog, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feedLogColumns+` FROM feed_logs WHERE feed_id = $1 AND release_id = $2`,
		feedID, releaseID,
	)

	log, err := scanFeedLog(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リリースIDによるFeedLogの検索に失敗しました: %w", err)
	}
	return log, nil
}

// Create はFeedLogをwait状態で作成する。
func (r *PostgresFeedLogRepo) Create(ctx context.Context, log *model.FeedLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_logs (id, feed_id, release_id, release_name, release_date,
		                        status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.FeedID, log.ReleaseID, log.ReleaseName, log.ReleaseDate,
		log.Status, log.CreatedAt, log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("FeedLogの作成に失敗しました: %w", err)
	}
	return nil
}

// ListPending はwaitまたはerror状態のFeedLogをスナップショットとして取得する。
func (r *PostgresFeedLogRepo) ListPending(ctx context.Context, limit int) ([]*model.FeedLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedLogColumns+`
		 FROM feed_logs
		 WHERE status IN ($1, $2)
		 LIMIT $3`,
		model.FeedLogStatusWait, model.FeedLogStatusError, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("解析待ちFeedLogの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var logs []*model.FeedLog
	for rows.Next() {
		log, err := scanFeedLog(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("解析待ちFeedLogの読み取りに失敗しました: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("解析待ちFeedLogの走査に失敗しました: %w", err)
	}

	return logs, nil
}

// Claim はFeedLogをin_progress状態へ排他的に遷移させる。
// 単一の条件付きUPDATEにより、N個の並行クレームのうち成功するのは必ず1つだけになる。
func (r *PostgresFeedLogRepo) Claim(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE feed_logs
		 SET status = $2, updated_at = now()
		 WHERE id = $1 AND status IN ($3, $4)`,
		id, model.FeedLogStatusInProgress,
		model.FeedLogStatusWait, model.FeedLogStatusError,
	)
	if err != nil {
		return fmt.Errorf("FeedLogのクレームに失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("クレーム結果の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.ErrClaimConflict
	}
	return nil
}

// MarkDone は解析成功を記録する。summaryとitemsを状態遷移と同一UPDATEで原子的に書き込む。
func (r *PostgresFeedLogRepo) MarkDone(ctx context.Context, id string, summary string, items []model.SummaryItem) error {
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("要約項目のエンコードに失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE feed_logs
		 SET status = $2, summary = $3, summary_items = $4, error_message = NULL, updated_at = now()
		 WHERE id = $1 AND status = $5`,
		id, model.FeedLogStatusDone, summary, encoded, model.FeedLogStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("FeedLogの完了記録に失敗しました: %w", err)
	}
	return requireTransition(result)
}

// MarkError は一時的失敗を記録しerror状態へ遷移させる。
func (r *PostgresFeedLogRepo) MarkError(ctx context.Context, id string, errMsg string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE feed_logs
		 SET status = $2, error_message = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, model.FeedLogStatusError, errMsg, model.FeedLogStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("FeedLogのエラー記録に失敗しました: %w", err)
	}
	return requireTransition(result)
}

// MarkFailed は恒久的失敗を記録しfailed状態へ遷移させる。
func (r *PostgresFeedLogRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE feed_logs
		 SET status = $2, error_message = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, model.FeedLogStatusFailed, errMsg, model.FeedLogStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("FeedLogの失敗記録に失敗しました: %w", err)
	}
	return requireTransition(result)
}

// requireTransition は条件付きUPDATEが1行に適用されたことを検証する。
// 0行の場合は所有権を失っている（別経路が状態を変更した）ことを意味する。
func requireTransition(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("状態遷移結果の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return model.ErrClaimConflict
	}
	return nil
}

// ListDoneUpdatedSince はupdated_atがsinceより後のdone状態FeedLogを
// 所有ユーザー・リポジトリ情報付きで取得する。
func (r *PostgresFeedLogRepo) ListDoneUpdatedSince(ctx context.Context, since time.Time) ([]CompletedFeedLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT fl.id, fl.feed_id, fl.release_id, fl.release_name, fl.release_date,
		        fl.status, fl.summary, fl.summary_items, fl.error_message,
		        fl.created_at, fl.updated_at,
		        f.user_id, d.owner || '/' || d.repo
		 FROM feed_logs fl
		 INNER JOIN feeds f ON fl.feed_id = f.id
		 INNER JOIN data_sources d ON f.data_source_id = d.id
		 WHERE fl.status = $1 AND fl.updated_at > $2
		 ORDER BY fl.updated_at ASC`,
		model.FeedLogStatusDone, since,
	)
	if err != nil {
		return nil, fmt.Errorf("解析完了FeedLogの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var results []CompletedFeedLog
	for rows.Next() {
		var c CompletedFeedLog
		var summary, errorMessage sql.NullString
		var items []byte

		if err := rows.Scan(
			&c.ID, &c.FeedID, &c.ReleaseID, &c.ReleaseName, &c.ReleaseDate,
			&c.Status, &summary, &items, &errorMessage,
			&c.CreatedAt, &c.UpdatedAt,
			&c.UserID, &c.DataSourceName,
		); err != nil {
			return nil, fmt.Errorf("解析完了FeedLogの読み取りに失敗しました: %w", err)
		}

		c.Summary = nullStringValue(summary)
		c.ErrorMessage = nullStringValue(errorMessage)
		if len(items) > 0 {
			if err := json.Unmarshal(items, &c.Items); err != nil {
				return nil, fmt.Errorf("要約項目のデコードに失敗しました: %w", err)
			}
		}

		results = append(results, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("解析完了FeedLogの走査に失敗しました: %w", err)
	}

	return results, nil
}

// ReclaimStuck はin_progressのまま滞留している行をerror状態へ戻す。
// ワーカークラッシュでリースだけが失効した行の回収経路。
func (r *PostgresFeedLogRepo) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	interval := fmt.Sprintf("%d seconds", int64(olderThan.Seconds()))

	result, err := r.db.ExecContext(ctx,
		`UPDATE feed_logs
		 SET status = $1, error_message = '解析が滞留したため回収されました', updated_at = now()
		 WHERE status = $2 AND updated_at < now() - $3::interval`,
		model.FeedLogStatusError, model.FeedLogStatusInProgress, interval,
	)
	if err != nil {
		return 0, fmt.Errorf("滞留FeedLogの回収に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("回収件数の取得に失敗しました: %w", err)
	}
	return affected, nil
}

// compile-time interface check
var _ FeedLogRepository = (*PostgresFeedLogRepo)(nil)
