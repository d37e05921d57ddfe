package detect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/relwatch/internal/github"
	"github.com/hitoshi/relwatch/internal/model"
	"github.com/hitoshi/relwatch/internal/repository"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// nopCollector はMetricsCollectorのテスト用no-op実装。
type nopCollector struct{}

func (nopCollector) RecordReleasesDetected(int)           {}
func (nopCollector) RecordDetectFailure(string)           {}
func (nopCollector) RecordClaimWon()                      {}
func (nopCollector) RecordClaimConflict()                 {}
func (nopCollector) RecordAnalysisOutcome(string)         {}
func (nopCollector) RecordSummarizeLatency(time.Duration) {}
func (nopCollector) RecordQueueSent(int)                  {}
func (nopCollector) RecordQueueReceived(int)              {}
func (nopCollector) RecordNotificationsEmitted(int)       {}
func (nopCollector) RecordStuckReclaimed(int)             {}

// mockFeedRepo はFeedRepositoryのテスト用モック。
// 呼び出し順序の検証のためcallsに操作名を記録する。
type mockFeedRepo struct {
	calls           []string
	dueFeeds        []*model.Feed
	watermarkFeedID string
	watermarkValue  time.Time
	updatedFeed     *model.Feed
	advanceErr      error
}

func (m *mockFeedRepo) FindByID(_ context.Context, _ string) (*model.Feed, error) {
	return nil, nil
}

func (m *mockFeedRepo) Create(_ context.Context, _ *model.Feed) error {
	return nil
}

func (m *mockFeedRepo) ListDueForCheck(_ context.Context) ([]*model.Feed, error) {
	return m.dueFeeds, nil
}

func (m *mockFeedRepo) UpdateCheckState(_ context.Context, feed *model.Feed) error {
	m.calls = append(m.calls, "UpdateCheckState")
	m.updatedFeed = feed
	return nil
}

func (m *mockFeedRepo) AdvanceWatermark(_ context.Context, feedID string, observed time.Time) error {
	m.calls = append(m.calls, "AdvanceWatermark")
	if m.advanceErr != nil {
		return m.advanceErr
	}
	m.watermarkFeedID = feedID
	m.watermarkValue = observed
	return nil
}

// mockFeedLogRepo はFeedLogRepositoryのテスト用モック。
type mockFeedLogRepo struct {
	calls     []string
	existing  map[int64]*model.FeedLog
	created   []*model.FeedLog
	createErr error
}

func (m *mockFeedLogRepo) FindByID(_ context.Context, _ string) (*model.FeedLog, error) {
	return nil, nil
}

func (m *mockFeedLogRepo) FindByFeedAndRelease(_ context.Context, _ string, releaseID int64) (*model.FeedLog, error) {
	return m.existing[releaseID], nil
}

func (m *mockFeedLogRepo) Create(_ context.Context, log *model.FeedLog) error {
	m.calls = append(m.calls, "Create")
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, log)
	return nil
}

func (m *mockFeedLogRepo) ListPending(_ context.Context, _ int) ([]*model.FeedLog, error) {
	return nil, nil
}

func (m *mockFeedLogRepo) Claim(_ context.Context, _ string) error {
	return nil
}

func (m *mockFeedLogRepo) MarkDone(_ context.Context, _ string, _ string, _ []model.SummaryItem) error {
	return nil
}

func (m *mockFeedLogRepo) MarkError(_ context.Context, _ string, _ string) error {
	return nil
}

func (m *mockFeedLogRepo) MarkFailed(_ context.Context, _ string, _ string) error {
	return nil
}

func (m *mockFeedLogRepo) ListDoneUpdatedSince(_ context.Context, _ time.Time) ([]repository.CompletedFeedLog, error) {
	return nil, nil
}

func (m *mockFeedLogRepo) ReclaimStuck(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

// mockDataSourceRepo はDataSourceRepositoryのテスト用モック。
type mockDataSourceRepo struct {
	ds *model.DataSource
}

func (m *mockDataSourceRepo) FindByID(_ context.Context, _ string) (*model.DataSource, error) {
	return m.ds, nil
}

func (m *mockDataSourceRepo) FindByOwnerRepo(_ context.Context, _, _ string) (*model.DataSource, error) {
	return nil, nil
}

func (m *mockDataSourceRepo) Create(_ context.Context, _ *model.DataSource) error {
	return nil
}

// mockFinder はReleaseFinderのテスト用モック。
type mockFinder struct {
	releases  []github.Release
	listErr   error
	gotSince  *time.Time
	listCalls int
}

func (m *mockFinder) ListReleases(_ context.Context, _, _ string, since *time.Time) ([]github.Release, error) {
	m.listCalls++
	m.gotSince = since
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.releases, nil
}

func (m *mockFinder) GetRelease(_ context.Context, _, _ string, _ int64) (*github.ReleaseDetail, error) {
	return nil, nil
}

func newTestDetector(feedRepo *mockFeedRepo, logRepo *mockFeedLogRepo, finder *mockFinder) *Detector {
	return NewDetector(
		feedRepo,
		logRepo,
		&mockDataSourceRepo{ds: &model.DataSource{ID: "ds-1", Owner: "golang", Repo: "go"}},
		finder,
		nopCollector{},
		newTestLogger(),
	)
}

func testFeed(lastReleaseAt *time.Time) *model.Feed {
	return &model.Feed{
		ID:            "feed-1",
		UserID:        "user-1",
		DataSourceID:  "ds-1",
		Cycle:         model.CheckCycleDaily,
		LastReleaseAt: lastReleaseAt,
	}
}

func TestDetect_CreatesLogsAndAdvancesWatermark(t *testing.T) {
	r1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r2 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	feedRepo := &mockFeedRepo{}
	logRepo := &mockFeedLogRepo{existing: map[int64]*model.FeedLog{}}
	finder := &mockFinder{releases: []github.Release{
		// 順序保証はないため、新しいリリースを先頭に置く
		{ID: 2, Name: "v1.1.0", PublishedAt: r2},
		{ID: 1, Name: "v1.0.0", PublishedAt: r1},
	}}

	detector := newTestDetector(feedRepo, logRepo, finder)
	if err := detector.Detect(context.Background(), testFeed(nil)); err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}

	if len(logRepo.created) != 2 {
		t.Fatalf("作成されたFeedLog数 = %d, want 2", len(logRepo.created))
	}
	for _, log := range logRepo.created {
		if log.Status != model.FeedLogStatusWait {
			t.Errorf("FeedLogはwait状態で作成されるべき, got %s", log.Status)
		}
		if log.ID == "" {
			t.Error("FeedLog.ID は設定されるべき")
		}
	}

	// ウォーターマークは観測した最大公開日時（r2）まで前進する
	if !feedRepo.watermarkValue.Equal(r2) {
		t.Errorf("ウォーターマーク = %v, want %v", feedRepo.watermarkValue, r2)
	}
	if feedRepo.watermarkFeedID != "feed-1" {
		t.Errorf("watermarkFeedID = %q, want %q", feedRepo.watermarkFeedID, "feed-1")
	}
}

func TestDetect_WatermarkAdvancesAfterCreation(t *testing.T) {
	feedRepo := &mockFeedRepo{}
	logRepo := &mockFeedLogRepo{existing: map[int64]*model.FeedLog{}}
	finder := &mockFinder{releases: []github.Release{
		{ID: 1, Name: "v1.0.0", PublishedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}

	detector := newTestDetector(feedRepo, logRepo, finder)
	if err := detector.Detect(context.Background(), testFeed(nil)); err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}

	// 作成 → ウォーターマーク前進 の順序（クラッシュ時のat-least-once保証）
	if len(logRepo.calls) == 0 || logRepo.calls[0] != "Create" {
		t.Fatalf("Createが先に呼ばれるべき: %v", logRepo.calls)
	}
	if len(feedRepo.calls) < 2 || feedRepo.calls[0] != "AdvanceWatermark" {
		t.Fatalf("AdvanceWatermarkはCreate後・UpdateCheckState前に呼ばれるべき: %v", feedRepo.calls)
	}
}

func TestDetect_SkipsExistingLogs(t *testing.T) {
	r1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r2 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	feedRepo := &mockFeedRepo{}
	logRepo := &mockFeedLogRepo{existing: map[int64]*model.FeedLog{
		1: {ID: "log-1", FeedID: "feed-1", ReleaseID: 1},
	}}
	finder := &mockFinder{releases: []github.Release{
		{ID: 1, Name: "v1.0.0", PublishedAt: r1},
		{ID: 2, Name: "v1.1.0", PublishedAt: r2},
	}}

	detector := newTestDetector(feedRepo, logRepo, finder)
	if err := detector.Detect(context.Background(), testFeed(nil)); err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}

	// 作成済みのrelease_id=1はスキップし、release_id=2のみ作成
	if len(logRepo.created) != 1 {
		t.Fatalf("作成されたFeedLog数 = %d, want 1", len(logRepo.created))
	}
	if logRepo.created[0].ReleaseID != 2 {
		t.Errorf("作成されたFeedLogのReleaseID = %d, want 2", logRepo.created[0].ReleaseID)
	}

	// ウォーターマークはスキップ分も含めた最大公開日時まで前進する
	if !feedRepo.watermarkValue.Equal(r2) {
		t.Errorf("ウォーターマーク = %v, want %v", feedRepo.watermarkValue, r2)
	}
}

func TestDetect_EmptyReleaseListLeavesWatermarkUntouched(t *testing.T) {
	feedRepo := &mockFeedRepo{}
	logRepo := &mockFeedLogRepo{existing: map[int64]*model.FeedLog{}}
	finder := &mockFinder{}

	detector := newTestDetector(feedRepo, logRepo, finder)
	watermark := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feed := testFeed(&watermark)

	if err := detector.Detect(context.Background(), feed); err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}

	for _, call := range feedRepo.calls {
		if call == "AdvanceWatermark" {
			t.Error("新規リリースなしの場合、ウォーターマークは変更されないべき")
		}
	}
	if feed.ConsecutiveErrors != 0 {
		t.Errorf("確認成功時はConsecutiveErrors = 0 であるべき, got %d", feed.ConsecutiveErrors)
	}
}

func TestDetect_PassesWatermarkAsSince(t *testing.T) {
	feedRepo := &mockFeedRepo{}
	logRepo := &mockFeedLogRepo{existing: map[int64]*model.FeedLog{}}
	finder := &mockFinder{}

	detector := newTestDetector(feedRepo, logRepo, finder)
	watermark := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := detector.Detect(context.Background(), testFeed(&watermark)); err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}

	if finder.gotSince == nil || !finder.gotSince.Equal(watermark) {
		t.Errorf("sinceにはウォーターマークが渡されるべき, got %v", finder.gotSince)
	}
}

func TestDetect_UpstreamErrorAppliesBackoff(t *testing.T) {
	feedRepo := &mockFeedRepo{}
	logRepo := &mockFeedLogRepo{existing: map[int64]*model.FeedLog{}}
	finder := &mockFinder{listErr: model.ErrUpstreamUnavailable}

	detector := newTestDetector(feedRepo, logRepo, finder)
	feed := testFeed(nil)

	err := detector.Detect(context.Background(), feed)
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Fatalf("上流エラーは呼び出し元へ伝播すべき, got %v", err)
	}

	if feed.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", feed.ConsecutiveErrors)
	}
	if feedRepo.updatedFeed == nil {
		t.Error("バックオフ適用後にUpdateCheckStateが呼ばれるべき")
	}
	for _, call := range feedRepo.calls {
		if call == "AdvanceWatermark" {
			t.Error("検出失敗時にウォーターマークは変更されないべき")
		}
	}
}

func TestDetect_RerunIsIdempotent(t *testing.T) {
	r1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	feedRepo := &mockFeedRepo{}
	logRepo := &mockFeedLogRepo{existing: map[int64]*model.FeedLog{}}
	finder := &mockFinder{releases: []github.Release{
		{ID: 1, Name: "v1.0.0", PublishedAt: r1},
	}}

	detector := newTestDetector(feedRepo, logRepo, finder)
	feed := testFeed(nil)

	if err := detector.Detect(context.Background(), feed); err != nil {
		t.Fatalf("1回目のDetect がエラーを返した: %v", err)
	}

	// ウォーターマーク前進前にクラッシュした想定で、同じリリースが再度返る
	logRepo.existing[1] = logRepo.created[0]
	if err := detector.Detect(context.Background(), feed); err != nil {
		t.Fatalf("2回目のDetect がエラーを返した: %v", err)
	}

	if len(logRepo.created) != 1 {
		t.Errorf("再実行で重複作成されないべき, 作成数 = %d", len(logRepo.created))
	}
}
