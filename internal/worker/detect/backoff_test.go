package detect

import (
	"testing"
	"time"

	"github.com/hitoshi/relwatch/internal/model"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		consecutiveErrors int
		want              time.Duration
	}{
		{0, 30 * time.Minute},
		{1, 60 * time.Minute},
		{2, 2 * time.Hour},
		{3, 4 * time.Hour},
		{4, 8 * time.Hour},
		{5, 12 * time.Hour},
		{10, 12 * time.Hour},
	}

	for _, tt := range tests {
		if got := CalculateBackoff(tt.consecutiveErrors); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.consecutiveErrors, got, tt.want)
		}
	}
}

func TestApplyCheckSuccess(t *testing.T) {
	feed := &model.Feed{
		Cycle:             model.CheckCycleDaily,
		ConsecutiveErrors: 3,
		ErrorMessage:      "previous error",
	}

	before := time.Now()
	ApplyCheckSuccess(feed)

	if feed.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", feed.ConsecutiveErrors)
	}
	if feed.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", feed.ErrorMessage)
	}

	want := before.Add(24 * time.Hour)
	if feed.NextCheckAt.Before(want.Add(-time.Minute)) || feed.NextCheckAt.After(want.Add(time.Minute)) {
		t.Errorf("NextCheckAt = %v, want ~%v", feed.NextCheckAt, want)
	}
}

func TestApplyCheckBackoff(t *testing.T) {
	feed := &model.Feed{Cycle: model.CheckCycleDaily}

	before := time.Now()
	ApplyCheckBackoff(feed, "接続エラー")

	if feed.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", feed.ConsecutiveErrors)
	}
	if feed.ErrorMessage != "接続エラー" {
		t.Errorf("ErrorMessage = %q, want %q", feed.ErrorMessage, "接続エラー")
	}

	// 初回は30分のバックオフ
	want := before.Add(30 * time.Minute)
	if feed.NextCheckAt.Before(want.Add(-time.Minute)) || feed.NextCheckAt.After(want.Add(time.Minute)) {
		t.Errorf("NextCheckAt = %v, want ~%v", feed.NextCheckAt, want)
	}
}

func TestApplyCheckBackoff_CappedAtCycleInterval(t *testing.T) {
	// 週次サイクルでも遅延の上限はmaxBackoff（12時間）で頭打ちになる。
	// 日次サイクルでは12時間 < 24時間のためサイクル間隔の制限はかからない。
	feed := &model.Feed{Cycle: model.CheckCycleDaily, ConsecutiveErrors: 20}

	before := time.Now()
	ApplyCheckBackoff(feed, "接続エラー")

	limit := before.Add(feed.Cycle.Interval()).Add(time.Minute)
	if feed.NextCheckAt.After(limit) {
		t.Errorf("バックオフはサイクル間隔を超えないべき: NextCheckAt = %v", feed.NextCheckAt)
	}
}
