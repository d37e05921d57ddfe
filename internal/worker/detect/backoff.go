package detect

import (
	"time"

	"github.com/hitoshi/relwatch/internal/model"
)

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
)

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyCheckSuccess は確認成功時にフィードの状態をリセットする。
// 連続エラー回数を0にし、サイクル間隔に基づいてnext_check_atを設定する。
func ApplyCheckSuccess(feed *model.Feed) {
	feed.ConsecutiveErrors = 0
	feed.ErrorMessage = ""
	feed.NextCheckAt = time.Now().Add(feed.Cycle.Interval())
	feed.UpdatedAt = time.Now()
}

// ApplyCheckBackoff は確認失敗時にフィードへバックオフ戦略を適用する。
// 連続エラー回数をインクリメントし、指数バックオフでnext_check_atを設定する。
// バックオフがサイクル間隔を超えることはない。
func ApplyCheckBackoff(feed *model.Feed, reason string) {
	feed.ConsecutiveErrors++
	feed.ErrorMessage = reason

	delay := CalculateBackoff(feed.ConsecutiveErrors - 1)
	if interval := feed.Cycle.Interval(); delay > interval {
		delay = interval
	}
	feed.NextCheckAt = time.Now().Add(delay)
	feed.UpdatedAt = time.Now()
}
