package github

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/relwatch/internal/model"
)

// AtomFinder はGitHubのreleases.atomフィードを使用するReleaseFinder実装。
// トークンなしで動作し、REST APIのレート制限を消費しないため、
// GITHUB_TOKENが未設定の環境でのフォールバックとして使用する。
//
// AtomエントリにはREST APIのリリースIDが含まれないため、
// エントリIDのFNV-64aハッシュを安定した代替IDとして使用する。
// REST APIとの併用（後からトークンを設定する等）では同一リリースのIDが
// 一致しない点に注意。
type AtomFinder struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// atomBaseURL はGitHubのWebホスト。リリースAtomフィードの取得元。
const atomBaseURL = "https://github.com"

// NewAtomFinder はAtomFinderの新しいインスタンスを生成する。
func NewAtomFinder(httpClient *http.Client, logger *slog.Logger) *AtomFinder {
	return &AtomFinder{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    atomBaseURL,
	}
}

// ListReleases はreleases.atomフィードからリリース一覧を取得する。
// sinceが指定された場合は published_at > since のリリースのみを返す。
func (f *AtomFinder) ListReleases(ctx context.Context, owner, repo string, since *time.Time) ([]Release, error) {
	feed, err := f.fetchFeed(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	var releases []Release
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}

		publishedAt := entryTime(entry)
		if publishedAt == nil {
			continue
		}
		if since != nil && !publishedAt.After(*since) {
			continue
		}

		releases = append(releases, Release{
			ID:          entryID(entry),
			Name:        entry.Title,
			PublishedAt: *publishedAt,
		})
	}

	return releases, nil
}

// GetRelease はreleases.atomフィードから指定リリースの詳細を取得する。
// エントリIDのハッシュがreleaseIDと一致するエントリの本文を返す。
func (f *AtomFinder) GetRelease(ctx context.Context, owner, repo string, releaseID int64) (*ReleaseDetail, error) {
	feed, err := f.fetchFeed(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	for _, entry := range feed.Items {
		if entry == nil || entryID(entry) != releaseID {
			continue
		}

		body := entry.Content
		if body == "" {
			body = entry.Description
		}

		return &ReleaseDetail{
			Name:    entry.Title,
			Body:    body,
			HTMLURL: entry.Link,
		}, nil
	}

	// フィードは直近のリリースしか含まないため、古いリリースは取得できないことがある
	return nil, fmt.Errorf("Atomフィードにリリースが見つかりません (release_id=%d): %w",
		releaseID, model.ErrUpstreamMalformed)
}

// fetchFeed はreleases.atomフィードを取得してパースする。
func (f *AtomFinder) fetchFeed(ctx context.Context, owner, repo string) (*gofeed.Feed, error) {
	url := fmt.Sprintf("%s/%s/%s/releases.atom", f.baseURL, owner, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Relwatch/1.0 Release Watcher")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Error("Atomフィードの取得に失敗しました",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("Atomフィードの取得に失敗しました: %w", model.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("Atomフィードがステータス %d を返しました: %w",
			resp.StatusCode, model.ErrUpstreamRateLimited)
	default:
		f.logger.Warn("Atomフィードがエラーステータスを返しました",
			slog.String("url", url),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("Atomフィードがステータス %d を返しました: %w",
			resp.StatusCode, model.ErrUpstreamUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", model.ErrUpstreamUnavailable)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		f.logger.Error("Atomフィードのパースに失敗しました",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("Atomフィードのパースに失敗しました: %w", model.ErrUpstreamMalformed)
	}

	return parsed, nil
}

// entryID はAtomエントリの安定した数値IDを導出する。
func entryID(entry *gofeed.Item) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(entry.GUID))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// entryTime はAtomエントリの公開日時を返す。
// GitHubのreleases.atomはupdatedのみを持つため、updatedを優先する。
func entryTime(entry *gofeed.Item) *time.Time {
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed
	}
	return entry.PublishedParsed
}

// compile-time interface check
var _ ReleaseFinder = (*AtomFinder)(nil)
