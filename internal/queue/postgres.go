package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// defaultLease は受信メッセージのデフォルトの不可視期間。
const defaultLease = 10 * time.Minute

// PostgresQueue はPostgreSQLのテーブルを使用するAnalysisQueue実装。
// 受信はFOR UPDATE SKIP LOCKEDで行い、複数の消費者が同じメッセージを
// 同時にリースすることはない。リース期限が切れたメッセージは
// 自動的に再配送対象となる。
type PostgresQueue struct {
	db    *sql.DB
	lease time.Duration
}

// NewPostgresQueue はPostgresQueueを生成する。
// leaseが0以下の場合はデフォルト値を使用する。
func NewPostgresQueue(db *sql.DB, lease time.Duration) *PostgresQueue {
	if lease <= 0 {
		lease = defaultLease
	}
	return &PostgresQueue{db: db, lease: lease}
}

// Send はフィードログIDをキューに投入する。
func (q *PostgresQueue) Send(ctx context.Context, feedLogID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO analysis_queue (id, feed_log_id, visible_at, enqueued_at, receive_count)
		 VALUES ($1, $2, now(), now(), 0)`,
		uuid.New().String(), feedLogID,
	)
	if err != nil {
		return fmt.Errorf("キューへの投入に失敗しました: %w", err)
	}
	return nil
}

// Receive は可視状態のメッセージを最大max件リースする。
func (q *PostgresQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx,
		`UPDATE analysis_queue
		 SET visible_at = now() + $1 * INTERVAL '1 second',
		     receive_count = receive_count + 1
		 WHERE id IN (
		     SELECT id FROM analysis_queue
		     WHERE visible_at <= now()
		     ORDER BY enqueued_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, feed_log_id, receive_count`,
		int64(q.lease.Seconds()), max,
	)
	if err != nil {
		return nil, fmt.Errorf("キューからの受信に失敗しました: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Receipt, &m.FeedLogID, &m.ReceiveCount); err != nil {
			return nil, fmt.Errorf("メッセージのスキャンに失敗しました: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("メッセージの読み取りに失敗しました: %w", err)
	}

	return messages, nil
}

// Complete は処理済みメッセージをキューから削除する。
func (q *PostgresQueue) Complete(ctx context.Context, receipt string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM analysis_queue WHERE id = $1`, receipt,
	)
	if err != nil {
		return fmt.Errorf("メッセージの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AnalysisQueue = (*PostgresQueue)(nil)
