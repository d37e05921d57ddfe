// Package model はドメインモデルを定義する。
package model

import "time"

// DataSource は監視対象のGitHubリポジトリを表す。
// 作成後はowner/repoは不変として扱う。
type DataSource struct {
	ID        string
	Owner     string
	Repo      string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName は "owner/repo" 形式のリポジトリ名を返す。
func (d *DataSource) FullName() string {
	return d.Owner + "/" + d.Repo
}

// CheckCycle はフィードのリリース確認サイクルを表す。
type CheckCycle string

const (
	// CheckCycleDaily は日次の確認サイクル。
	CheckCycleDaily CheckCycle = "daily"
	// CheckCycleWeekly は週次の確認サイクル。
	CheckCycleWeekly CheckCycle = "weekly"
)

// Interval はサイクルに対応する確認間隔を返す。
// 未知のサイクルは日次として扱う。
func (c CheckCycle) Interval() time.Duration {
	switch c {
	case CheckCycleWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Valid はサイクル値が定義済みかを返す。
func (c CheckCycle) Valid() bool {
	return c == CheckCycleDaily || c == CheckCycleWeekly
}

// Feed はユーザーによるDataSourceの監視購読を表す。
// LastReleaseAtは検出済みリリースのウォーターマークで、単調非減少を維持する。
// NextCheckAt・ConsecutiveErrors・ErrorMessageは確認スケジューリング用の状態。
type Feed struct {
	ID                string
	UserID            string
	DataSourceID      string
	Cycle             CheckCycle
	LastReleaseAt     *time.Time
	NextCheckAt       time.Time
	ConsecutiveErrors int
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
