package detect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/relwatch/internal/model"
)

// countingDetector はFeedDetectorServiceのテスト用モック。
// 並列実行数のピークを記録する。
type countingDetector struct {
	mu             sync.Mutex
	current        int32
	peakConcurrent int32
	detected       atomic.Int32
}

func (d *countingDetector) Detect(_ context.Context, _ *model.Feed) error {
	cur := atomic.AddInt32(&d.current, 1)
	defer atomic.AddInt32(&d.current, -1)

	d.mu.Lock()
	if cur > d.peakConcurrent {
		d.peakConcurrent = cur
	}
	d.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	d.detected.Add(1)
	return nil
}

func TestRunOnce_DetectsAllDueFeeds(t *testing.T) {
	feeds := make([]*model.Feed, 5)
	for i := range feeds {
		feeds[i] = &model.Feed{ID: "feed", Cycle: model.CheckCycleDaily}
	}

	detector := &countingDetector{}
	scheduler := NewScheduler(&mockFeedRepo{dueFeeds: feeds}, detector, newTestLogger(), 10)

	if err := scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if got := detector.detected.Load(); got != 5 {
		t.Errorf("検出実行数 = %d, want 5", got)
	}
}

func TestRunOnce_RespectsMaxConcurrency(t *testing.T) {
	feeds := make([]*model.Feed, 8)
	for i := range feeds {
		feeds[i] = &model.Feed{ID: "feed", Cycle: model.CheckCycleDaily}
	}

	detector := &countingDetector{}
	scheduler := NewScheduler(&mockFeedRepo{dueFeeds: feeds}, detector, newTestLogger(), 2)

	if err := scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if detector.peakConcurrent > 2 {
		t.Errorf("並列実行数のピーク = %d, 上限2を超えないべき", detector.peakConcurrent)
	}
}

func TestRunOnce_NoDueFeeds(t *testing.T) {
	detector := &countingDetector{}
	scheduler := NewScheduler(&mockFeedRepo{}, detector, newTestLogger(), 10)

	if err := scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if got := detector.detected.Load(); got != 0 {
		t.Errorf("検出実行数 = %d, want 0", got)
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	detector := &countingDetector{}
	scheduler := NewScheduler(&mockFeedRepo{}, detector, newTestLogger(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("コンテキストキャンセル後にStartが停止しなかった")
	}
}
