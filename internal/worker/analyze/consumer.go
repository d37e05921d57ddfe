package analyze

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/relwatch/internal/metrics"
	"github.com/hitoshi/relwatch/internal/model"
	"github.com/hitoshi/relwatch/internal/queue"
)

const (
	// defaultPollInterval はキューが空のときの待機時間。
	defaultPollInterval = 5 * time.Second
	// receiveBatchSize は1回の受信で取得するメッセージの最大件数。
	receiveBatchSize = 10
)

// Consumer は解析キューからメッセージを受信し、解析器へ振り分ける。
//
// メッセージの完了規則:
//   - Analyzeがnilまたはmodel.ErrClaimConflictを返した場合は完了する。
//     クレーム競合は二重処理の正常な防止であり、再配送しても無駄なため。
//   - それ以外のエラー（永続化層の障害）では完了せず、リース期限切れによる
//     再配送に任せる。
type Consumer struct {
	queue        queue.AnalysisQueue
	analyzer     FeedLogAnalyzerService
	collector    metrics.MetricsCollector
	logger       *slog.Logger
	workers      int
	pollInterval time.Duration
}

// NewConsumer はConsumerの新しいインスタンスを生成する。
// workersが0以下の場合はデフォルト値4を使用する。
func NewConsumer(
	q queue.AnalysisQueue,
	analyzer FeedLogAnalyzerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	workers int,
) *Consumer {
	if workers <= 0 {
		workers = 4
	}
	return &Consumer{
		queue:        q,
		analyzer:     analyzer,
		collector:    collector,
		logger:       logger,
		workers:      workers,
		pollInterval: defaultPollInterval,
	}
}

// Start はワーカープールを起動し、キューの消費を開始する。
// コンテキストがキャンセルされるまで実行を継続し、
// 全ワーカーの終了を待ってから戻る。
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("解析コンシューマを開始しました",
		slog.Int("workers", c.workers),
	)

	done := make(chan struct{})
	jobs := make(chan queue.Message)

	for i := 0; i < c.workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for msg := range jobs {
				c.handle(ctx, msg)
			}
		}()
	}

	c.receiveLoop(ctx, jobs)
	close(jobs)

	for i := 0; i < c.workers; i++ {
		<-done
	}
	c.logger.Info("解析コンシューマを停止しました")
}

// receiveLoop はキューからメッセージを受信してワーカーへ渡す。
func (c *Consumer) receiveLoop(ctx context.Context, jobs chan<- queue.Message) {
	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := c.queue.Receive(ctx, receiveBatchSize)
		if err != nil {
			c.logger.Error("キューからの受信に失敗しました",
				slog.String("error", err.Error()),
			)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		if len(messages) == 0 {
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.collector.RecordQueueReceived(len(messages))
		for _, msg := range messages {
			select {
			case jobs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handle はメッセージ1件を解析し、完了規則に従ってキューから削除する。
func (c *Consumer) handle(ctx context.Context, msg queue.Message) {
	err := c.analyzer.Analyze(ctx, msg.FeedLogID)
	if err != nil && !errors.Is(err, model.ErrClaimConflict) {
		// 永続化層の障害。完了せず再配送に任せる。
		c.logger.Error("フィードログの解析に失敗しました",
			slog.String("feed_log_id", msg.FeedLogID),
			slog.Int("receive_count", msg.ReceiveCount),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.queue.Complete(ctx, msg.Receipt); err != nil {
		// 完了失敗は重複配送につながるが、クレーム機構が二重処理を防ぐ
		c.logger.Warn("メッセージの完了に失敗しました",
			slog.String("feed_log_id", msg.FeedLogID),
			slog.String("error", err.Error()),
		)
	}
}

// sleep はポーリング間隔だけ待機する。コンテキストがキャンセルされた場合はfalseを返す。
func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.pollInterval):
		return true
	}
}
