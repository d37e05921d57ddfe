// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/relwatch/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// DataSourceRepository は監視対象リポジトリの永続化インターフェース。
type DataSourceRepository interface {
	// FindByID は指定IDのDataSourceを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.DataSource, error)

	// FindByOwnerRepo はowner/repoでDataSourceを検索する。見つからない場合はnilを返す。
	FindByOwnerRepo(ctx context.Context, owner, repo string) (*model.DataSource, error)

	// Create はDataSourceを作成する。
	Create(ctx context.Context, ds *model.DataSource) error
}

// FeedRepository はフィード（監視購読）の永続化インターフェース。
type FeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Feed, error)

	// Create はフィードを作成する。
	Create(ctx context.Context, feed *model.Feed) error

	// ListDueForCheck は確認対象のフィードを取得する。
	// next_check_at <= now() のフィードをFOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForCheck(ctx context.Context) ([]*model.Feed, error)

	// UpdateCheckState はフィードの確認スケジューリング状態を更新する。
	// next_check_at、consecutive_errors、error_messageを更新する。
	// ウォーターマーク（last_release_at）はこのメソッドでは変更しない。
	UpdateCheckState(ctx context.Context, feed *model.Feed) error

	// AdvanceWatermark はウォーターマークをobservedまで前進させる。
	// 現在値がobserved以上の場合は何もしない（単調非減少の保証）。
	AdvanceWatermark(ctx context.Context, feedID string, observed time.Time) error
}

// FeedLogRepository はFeedLogの永続化と状態機械の操作インターフェース。
// 状態遷移の排他制御はすべてClaim/Mark系メソッドの条件付きUPDATEで表現する。
type FeedLogRepository interface {
	// FindByID は指定IDのFeedLogを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.FeedLog, error)

	// FindByFeedAndRelease はfeed_idとrelease_idでFeedLogを検索する。
	// 作成の冪等性判定に使用する。見つからない場合はnilを返す。
	FindByFeedAndRelease(ctx context.Context, feedID string, releaseID int64) (*model.FeedLog, error)

	// Create はFeedLogをwait状態で作成する。
	Create(ctx context.Context, log *model.FeedLog) error

	// ListPending はwaitまたはerror状態のFeedLogをスナップショットとして取得する。
	// 順序保証はない。スイープ中に状態遷移した行は含まれる場合も含まれない場合もある。
	ListPending(ctx context.Context, limit int) ([]*model.FeedLog, error)

	// Claim はFeedLogをin_progress状態へ排他的に遷移させる。
	// 現在の状態がwaitまたはerrorの場合のみ成功する単一の条件付きUPDATEであり、
	// 別ワーカーが既に所有している場合はmodel.ErrClaimConflictを返す。
	Claim(ctx context.Context, id string) error

	// MarkDone は解析成功を記録する。summaryとitemsをstatus=doneへの遷移と
	// 同一のUPDATEで原子的に書き込む。in_progress状態でない場合は
	// model.ErrClaimConflictを返し、状態を変更しない。
	MarkDone(ctx context.Context, id string, summary string, items []model.SummaryItem) error

	// MarkError は一時的失敗を記録しerror状態へ遷移させる。
	// in_progress状態でない場合はmodel.ErrClaimConflictを返す。
	MarkError(ctx context.Context, id string, errMsg string) error

	// MarkFailed は恒久的失敗を記録しfailed状態（終端）へ遷移させる。
	// in_progress状態でない場合はmodel.ErrClaimConflictを返す。
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// ListDoneUpdatedSince はupdated_atがsinceより後のdone状態FeedLogを
	// 所有ユーザー情報付きで取得する。通知集約ジョブが使用する。
	ListDoneUpdatedSince(ctx context.Context, since time.Time) ([]CompletedFeedLog, error)

	// ReclaimStuck はin_progress状態のままolderThanを超えて滞留している行を
	// error状態へ戻し、再スイープの対象にする。戻した行数を返す。
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CompletedFeedLog は解析完了したFeedLogと所有ユーザー・リポジトリ情報を結合した構造体。
type CompletedFeedLog struct {
	model.FeedLog
	UserID         string
	DataSourceName string
}

// NotificationRepository は通知の永続化インターフェース。
type NotificationRepository interface {
	// CreateWithItems は通知と通知項目を同一トランザクションで作成する。
	CreateWithItems(ctx context.Context, n *model.Notification, items []*model.NotificationItem) error
}

// SystemSettingRepository はシステム設定の永続化インターフェース。
type SystemSettingRepository interface {
	// GetOrCreate は指定キーの設定を取得する。存在しない場合はdefaultValueで作成して返す。
	GetOrCreate(ctx context.Context, key, defaultValue string) (*model.SystemSetting, error)

	// Update は指定キーの設定値を更新する。
	Update(ctx context.Context, key, value string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
