// Package queue は解析ジョブのat-least-once配送キューを提供する。
package queue

import "context"

// Message はキューから受信した解析ジョブを表す。
type Message struct {
	// Receipt は受信したメッセージの完了操作に使用するID。
	Receipt string
	// FeedLogID は解析対象のフィードログID。
	FeedLogID string
	// ReceiveCount はこのメッセージの累計受信回数。
	ReceiveCount int
}

// AnalysisQueue は解析ジョブの送受信インターフェース。
// 配送はat-least-once。同一フィードログのメッセージが重複して
// 配送されることがあるため、消費側は冪等に処理しなければならない。
type AnalysisQueue interface {
	// Send はフィードログIDをキューに投入する。
	Send(ctx context.Context, feedLogID string) error

	// Receive は可視状態のメッセージを最大max件受信する。
	// 受信したメッセージはリース期間の間、他の受信者から不可視になる。
	// リース期間内にCompleteされなかったメッセージは再び可視になる。
	Receive(ctx context.Context, max int) ([]Message, error)

	// Complete は処理済みメッセージをキューから削除する。
	// リース期限切れで既に削除・再配送されたメッセージの完了は無視される。
	Complete(ctx context.Context, receipt string) error
}
