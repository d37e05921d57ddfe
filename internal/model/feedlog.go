package model

import "time"

// FeedLogStatus はFeedLogの解析状態を表す。
// 閉じた状態機械であり、遷移の可否はCanTransitionToで判定する。
type FeedLogStatus string

const (
	// FeedLogStatusWait は解析待ちの初期状態。
	FeedLogStatusWait FeedLogStatus = "wait"
	// FeedLogStatusInProgress はワーカーが解析中の状態。
	FeedLogStatusInProgress FeedLogStatus = "in_progress"
	// FeedLogStatusError は一時的な失敗。スイープにより再キューされる。
	FeedLogStatusError FeedLogStatus = "error"
	// FeedLogStatusFailed は恒久的な失敗。再キューされない終端状態。
	FeedLogStatusFailed FeedLogStatus = "failed"
	// FeedLogStatusDone は解析完了の終端状態。
	FeedLogStatusDone FeedLogStatus = "done"
)

// CanTransitionTo は現在の状態からnextへの遷移が合法かを返す。
// 合法な遷移:
//
//	wait        → in_progress
//	error       → in_progress
//	in_progress → done / error / failed
func (s FeedLogStatus) CanTransitionTo(next FeedLogStatus) bool {
	switch s {
	case FeedLogStatusWait, FeedLogStatusError:
		return next == FeedLogStatusInProgress
	case FeedLogStatusInProgress:
		return next == FeedLogStatusDone || next == FeedLogStatusError || next == FeedLogStatusFailed
	case FeedLogStatusDone, FeedLogStatusFailed:
		return false
	default:
		return false
	}
}

// IsTerminal は終端状態（done/failed）かを返す。
func (s FeedLogStatus) IsTerminal() bool {
	return s == FeedLogStatusDone || s == FeedLogStatusFailed
}

// IsClaimable はクレーム（in_progressへの排他遷移）の対象かを返す。
func (s FeedLogStatus) IsClaimable() bool {
	return s == FeedLogStatusWait || s == FeedLogStatusError
}

// SummaryItem は解析結果の1項目を表す。
// LinkTitle/LinkURLは任意で、出典リンクがある場合のみ設定される。
type SummaryItem struct {
	Text      string `json:"text"`
	LinkTitle string `json:"link_title,omitempty"`
	LinkURL   string `json:"link_url,omitempty"`
}

// FeedLog は1つのFeedにおける1つの上流リリースの検出・解析試行を表す。
// (FeedID, ReleaseID)の組み合わせで一意であり、作成は冪等である。
// SummaryとItemsは解析完了（done）まで空のまま。
type FeedLog struct {
	ID           string
	FeedID       string
	ReleaseID    int64
	ReleaseName  string
	ReleaseDate  time.Time
	Status       FeedLogStatus
	Summary      string
	Items        []SummaryItem
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
