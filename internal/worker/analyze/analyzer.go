// Package analyze はFeedLogのクレーム取得・リリース本文の要約・結果記録を提供する。
// キュー消費者、解析器、滞留回収ジョブを含む。
package analyze

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/relwatch/internal/github"
	"github.com/hitoshi/relwatch/internal/metrics"
	"github.com/hitoshi/relwatch/internal/model"
	"github.com/hitoshi/relwatch/internal/repository"
	"github.com/hitoshi/relwatch/internal/security"
	"github.com/hitoshi/relwatch/internal/summarizer"
)

// FeedLogAnalyzerService はFeedLog1件の解析インターフェース。
type FeedLogAnalyzerService interface {
	// Analyze は指定FeedLogをクレームして解析する。
	// nilまたはmodel.ErrClaimConflictを返した場合、メッセージは処理済みとして
	// 完了してよい。それ以外のエラーは永続化層の障害であり、メッセージは
	// 完了せず再配送に任せる。
	Analyze(ctx context.Context, feedLogID string) error
}

// Analyzer はFeedLogの解析を実行する。
//
// 排他制御は条件付きUPDATEによるクレームのみで行う。同一FeedLogの
// メッセージが重複配送されても、クレームに勝てるのは1ワーカーだけであり、
// 敗者は即座にスキップする。
type Analyzer struct {
	feedLogRepo    repository.FeedLogRepository
	feedRepo       repository.FeedRepository
	dataSourceRepo repository.DataSourceRepository
	finder         github.ReleaseFinder
	sanitizer      security.ReleaseSanitizerService
	summarizer     summarizer.Service
	collector      metrics.MetricsCollector
	logger         *slog.Logger
}

// NewAnalyzer はAnalyzerの新しいインスタンスを生成する。
func NewAnalyzer(
	feedLogRepo repository.FeedLogRepository,
	feedRepo repository.FeedRepository,
	dataSourceRepo repository.DataSourceRepository,
	finder github.ReleaseFinder,
	san security.ReleaseSanitizerService,
	svc summarizer.Service,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Analyzer {
	return &Analyzer{
		feedLogRepo:    feedLogRepo,
		feedRepo:       feedRepo,
		dataSourceRepo: dataSourceRepo,
		finder:         finder,
		sanitizer:      san,
		summarizer:     svc,
		collector:      collector,
		logger:         logger,
	}
}

// Analyze は指定FeedLogをクレームして解析する。
func (a *Analyzer) Analyze(ctx context.Context, feedLogID string) error {
	log, err := a.feedLogRepo.FindByID(ctx, feedLogID)
	if err != nil {
		return fmt.Errorf("フィードログの取得に失敗しました: %w", err)
	}
	if log == nil {
		// 削除済みFeedLogへの古いメッセージ。完了扱いにする。
		a.logger.Warn("フィードログが見つかりません", slog.String("feed_log_id", feedLogID))
		return nil
	}
	if log.Status.IsTerminal() {
		// 重複配送されたメッセージ。処理済みのため完了扱いにする。
		return nil
	}

	if err := a.feedLogRepo.Claim(ctx, feedLogID); err != nil {
		if errors.Is(err, model.ErrClaimConflict) {
			a.collector.RecordClaimConflict()
			return model.ErrClaimConflict
		}
		return fmt.Errorf("フィードログのクレームに失敗しました: %w", err)
	}
	a.collector.RecordClaimWon()

	result, analysisErr := a.analyze(ctx, log)
	if analysisErr == nil {
		if err := a.feedLogRepo.MarkDone(ctx, feedLogID, result.Summary, result.Items); err != nil {
			return fmt.Errorf("解析結果の記録に失敗しました: %w", err)
		}
		a.collector.RecordAnalysisOutcome("done")
		a.logger.Info("フィードログの解析が完了しました",
			slog.String("feed_log_id", feedLogID),
			slog.String("release_name", log.ReleaseName),
		)
		return nil
	}

	switch {
	case model.IsRetryableAnalysisError(analysisErr):
		if err := a.feedLogRepo.MarkError(ctx, feedLogID, analysisErr.Error()); err != nil {
			return fmt.Errorf("一時的失敗の記録に失敗しました: %w", err)
		}
		a.collector.RecordAnalysisOutcome("error")
		a.logger.Warn("フィードログの解析が一時的に失敗しました",
			slog.String("feed_log_id", feedLogID),
			slog.String("error", analysisErr.Error()),
		)
		return nil

	case model.IsPermanentAnalysisError(analysisErr):
		if err := a.feedLogRepo.MarkFailed(ctx, feedLogID, analysisErr.Error()); err != nil {
			return fmt.Errorf("恒久的失敗の記録に失敗しました: %w", err)
		}
		a.collector.RecordAnalysisOutcome("failed")
		a.logger.Error("フィードログの解析が恒久的に失敗しました",
			slog.String("feed_log_id", feedLogID),
			slog.String("error", analysisErr.Error()),
		)
		return nil

	default:
		// 分類外のエラー（永続化層の障害など）。クレームしたまま伝播させ、
		// 滞留回収ジョブによるerror状態への復帰に任せる。
		return analysisErr
	}
}

// analyze はリリース詳細の取得から要約までを実行する。
func (a *Analyzer) analyze(ctx context.Context, log *model.FeedLog) (*summarizer.Result, error) {
	feed, err := a.feedRepo.FindByID(ctx, log.FeedID)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil {
		return nil, fmt.Errorf("フィードが見つかりません (feed_id=%s): %w", log.FeedID, model.ErrUpstreamMalformed)
	}

	ds, err := a.dataSourceRepo.FindByID(ctx, feed.DataSourceID)
	if err != nil {
		return nil, fmt.Errorf("データソースの取得に失敗しました: %w", err)
	}
	if ds == nil {
		return nil, fmt.Errorf("データソースが見つかりません (data_source_id=%s): %w", feed.DataSourceID, model.ErrUpstreamMalformed)
	}

	detail, err := a.finder.GetRelease(ctx, ds.Owner, ds.Repo, log.ReleaseID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := a.summarizer.Summarize(ctx, summarizer.Request{
		RepoFullName: ds.FullName(),
		ReleaseName:  detail.Name,
		Body:         a.sanitizer.PlainText(detail.Body),
		HTMLURL:      detail.HTMLURL,
	})
	if err != nil {
		return nil, err
	}
	a.collector.RecordSummarizeLatency(time.Since(start))

	// LLM出力にはリリースノート由来のマークアップが混入し得るため、
	// 保存前にサニタイズする
	result.Summary = a.sanitizer.SanitizeHTML(result.Summary)
	for i := range result.Items {
		result.Items[i].Text = a.sanitizer.SanitizeHTML(result.Items[i].Text)
	}

	return result, nil
}

// compile-time interface check
var _ FeedLogAnalyzerService = (*Analyzer)(nil)
