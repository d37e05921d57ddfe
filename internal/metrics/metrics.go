// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordReleasesDetected(count int)
	RecordDetectFailure(reason string)
	RecordClaimWon()
	RecordClaimConflict()
	RecordAnalysisOutcome(outcome string)
	RecordSummarizeLatency(duration time.Duration)
	RecordQueueSent(count int)
	RecordQueueReceived(count int)
	RecordNotificationsEmitted(count int)
	RecordStuckReclaimed(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	releasesDetected     prometheus.Counter
	detectFailures       *prometheus.CounterVec
	claimsWon            prometheus.Counter
	claimConflicts       prometheus.Counter
	analysisOutcomes     *prometheus.CounterVec
	summarizeLatency     prometheus.Histogram
	queueSent            prometheus.Counter
	queueReceived        prometheus.Counter
	notificationsEmitted prometheus.Counter
	stuckReclaimed       prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		releasesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relwatch_releases_detected_total",
			Help: "検出された新規リリースの合計数",
		}),
		detectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relwatch_detect_failures_total",
			Help: "リリース検出失敗の原因別合計数",
		}, []string{"reason"}),
		claimsWon: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relwatch_claims_won_total",
			Help: "解析クレーム獲得の合計数",
		}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relwatch_claim_conflicts_total",
			Help: "解析クレーム競合（他ワーカーが処理中）の合計数",
		}),
		analysisOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relwatch_analysis_outcomes_total",
			Help: "解析結果（done/error/failed）別の合計数",
		}, []string{"outcome"}),
		summarizeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relwatch_summarize_latency_seconds",
			Help:    "LLM要約のレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		queueSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relwatch_queue_sent_total",
			Help: "解析キューに投入されたメッセージの合計数",
		}),
		queueReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relwatch_queue_received_total",
			Help: "解析キューから受信されたメッセージの合計数",
		}),
		notificationsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relwatch_notifications_emitted_total",
			Help: "生成された通知の合計数",
		}),
		stuckReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relwatch_stuck_reclaimed_total",
			Help: "回収された滞留中（in_progress）フィードログの合計数",
		}),
	}

	reg.MustRegister(
		c.releasesDetected,
		c.detectFailures,
		c.claimsWon,
		c.claimConflicts,
		c.analysisOutcomes,
		c.summarizeLatency,
		c.queueSent,
		c.queueReceived,
		c.notificationsEmitted,
		c.stuckReclaimed,
	)

	return c
}

// RecordReleasesDetected は検出された新規リリース数を記録する。
func (c *Collector) RecordReleasesDetected(count int) {
	c.releasesDetected.Add(float64(count))
}

// RecordDetectFailure はリリース検出失敗を原因別に記録する。
func (c *Collector) RecordDetectFailure(reason string) {
	c.detectFailures.WithLabelValues(reason).Inc()
}

// RecordClaimWon はクレーム獲得を記録する。
func (c *Collector) RecordClaimWon() {
	c.claimsWon.Inc()
}

// RecordClaimConflict はクレーム競合を記録する。
func (c *Collector) RecordClaimConflict() {
	c.claimConflicts.Inc()
}

// RecordAnalysisOutcome は解析結果を記録する。
func (c *Collector) RecordAnalysisOutcome(outcome string) {
	c.analysisOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSummarizeLatency はLLM要約のレイテンシを記録する。
func (c *Collector) RecordSummarizeLatency(duration time.Duration) {
	c.summarizeLatency.Observe(duration.Seconds())
}

// RecordQueueSent はキューへの投入数を記録する。
func (c *Collector) RecordQueueSent(count int) {
	c.queueSent.Add(float64(count))
}

// RecordQueueReceived はキューからの受信数を記録する。
func (c *Collector) RecordQueueReceived(count int) {
	c.queueReceived.Add(float64(count))
}

// RecordNotificationsEmitted は生成された通知数を記録する。
func (c *Collector) RecordNotificationsEmitted(count int) {
	c.notificationsEmitted.Add(float64(count))
}

// RecordStuckReclaimed は回収された滞留フィードログ数を記録する。
func (c *Collector) RecordStuckReclaimed(count int) {
	c.stuckReclaimed.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
