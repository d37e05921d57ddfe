package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue はインメモリのAnalysisQueue実装。
// 単体テストとローカル動作確認用。PostgresQueueと同じ
// リースおよび再配送のセマンティクスを持つ。
type MemoryQueue struct {
	mu      sync.Mutex
	lease   time.Duration
	entries []*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	receipt      string
	feedLogID    string
	visibleAt    time.Time
	enqueuedAt   time.Time
	receiveCount int
}

// NewMemoryQueue はMemoryQueueを生成する。
// leaseが0以下の場合はデフォルト値を使用する。
func NewMemoryQueue(lease time.Duration) *MemoryQueue {
	if lease <= 0 {
		lease = defaultLease
	}
	return &MemoryQueue{lease: lease, now: time.Now}
}

// Send はフィードログIDをキューに投入する。
func (q *MemoryQueue) Send(_ context.Context, feedLogID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.entries = append(q.entries, &memoryEntry{
		receipt:    uuid.New().String(),
		feedLogID:  feedLogID,
		visibleAt:  now,
		enqueuedAt: now,
	})
	return nil
}

// Receive は可視状態のメッセージを最大max件リースする。
func (q *MemoryQueue) Receive(_ context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var messages []Message
	for _, e := range q.entries {
		if len(messages) >= max {
			break
		}
		if e.visibleAt.After(now) {
			continue
		}
		e.visibleAt = now.Add(q.lease)
		e.receiveCount++
		messages = append(messages, Message{
			Receipt:      e.receipt,
			FeedLogID:    e.feedLogID,
			ReceiveCount: e.receiveCount,
		})
	}
	return messages, nil
}

// Complete は処理済みメッセージをキューから削除する。
func (q *MemoryQueue) Complete(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.receipt == receipt {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	return nil
}

// Len はキュー内のメッセージ数を返す（テスト用）。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// compile-time interface check
var _ AnalysisQueue = (*MemoryQueue)(nil)
