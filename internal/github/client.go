package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/relwatch/internal/model"
)

const (
	// defaultBaseURL はGitHub REST APIのエンドポイント。
	// GitHub Enterprise利用時は設定で差し替え可能。
	defaultBaseURL = "https://api.github.com"
	// listPerPage はリリース一覧取得の1ページあたりの件数。
	listPerPage = 100
	// defaultRequestsPerSecond はAPI呼び出しのデフォルトレート。
	// 認証済みの上限（5000req/h）を大きく下回る保守的な値にする。
	defaultRequestsPerSecond = 1.0
)

// ClientConfig はClientの設定パラメータ。
type ClientConfig struct {
	// BaseURL はAPIエンドポイント。空の場合はapi.github.comを使用する。
	BaseURL string
	// Token はGitHubのアクセストークン。空の場合は未認証でリクエストする。
	Token string
	// RequestsPerSecond はクライアント側レート制限。0以下の場合はデフォルト値を使用する。
	RequestsPerSecond float64
}

// Client はGitHub REST APIのリリース取得クライアント。
// x/time/rateによるクライアント側レート制限を行い、
// レスポンスをmodel.ErrUpstream*のエラー分類にマッピングする。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
	limiter    *rate.Limiter
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config ClientConfig) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		token:      config.Token,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// releaseResponse はGitHub APIのリリースレスポンスのデコード用構造体。
type releaseResponse struct {
	ID          int64      `json:"id"`
	Name        *string    `json:"name"`
	TagName     string     `json:"tag_name"`
	Body        *string    `json:"body"`
	HTMLURL     string     `json:"html_url"`
	Draft       bool       `json:"draft"`
	PublishedAt *time.Time `json:"published_at"`
}

// ListReleases は指定リポジトリのリリース一覧を取得する。
// ドラフト（published_atを持たないリリース）は除外する。
// sinceが指定された場合は published_at > since のリリースのみを返す。
func (c *Client) ListReleases(ctx context.Context, owner, repo string, since *time.Time) ([]Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d", c.baseURL, owner, repo, listPerPage)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var responses []releaseResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		c.logger.Error("リリース一覧のパースに失敗しました",
			slog.String("repo", owner+"/"+repo),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("リリース一覧のパースに失敗しました: %w", model.ErrUpstreamMalformed)
	}

	var releases []Release
	for _, r := range responses {
		if r.Draft || r.PublishedAt == nil {
			continue
		}
		if since != nil && !r.PublishedAt.After(*since) {
			continue
		}

		name := r.TagName
		if r.Name != nil && *r.Name != "" {
			name = *r.Name
		}

		releases = append(releases, Release{
			ID:          r.ID,
			Name:        name,
			PublishedAt: *r.PublishedAt,
		})
	}

	return releases, nil
}

// GetRelease は指定リリースの詳細を取得する。
func (c *Client) GetRelease(ctx context.Context, owner, repo string, releaseID int64) (*ReleaseDetail, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/%d", c.baseURL, owner, repo, releaseID)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var r releaseResponse
	if err := json.Unmarshal(body, &r); err != nil {
		c.logger.Error("リリース詳細のパースに失敗しました",
			slog.String("repo", owner+"/"+repo),
			slog.Int64("release_id", releaseID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("リリース詳細のパースに失敗しました: %w", model.ErrUpstreamMalformed)
	}

	name := r.TagName
	if r.Name != nil && *r.Name != "" {
		name = *r.Name
	}

	detail := &ReleaseDetail{
		Name:    name,
		HTMLURL: r.HTMLURL,
	}
	if r.Body != nil {
		detail.Body = *r.Body
	}

	return detail, nil
}

// get はレート制限を適用してGETリクエストを実行し、レスポンスボディを返す。
// HTTPステータスをエラー分類にマッピングする。
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "Relwatch/1.0 Release Watcher")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("GitHub APIの呼び出しに失敗しました",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("GitHub APIの呼び出しに失敗しました: %w", model.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		c.logger.Warn("GitHub APIがエラーステータスを返しました",
			slog.String("url", url),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", model.ErrUpstreamUnavailable)
	}

	return body, nil
}

// classifyStatus はHTTPレスポンスをエラー分類にマッピングする。
// 429およびレート制限起因の403はErrUpstreamRateLimited、
// 5xxとその他の4xxはErrUpstreamUnavailableとする。
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("GitHub APIがステータス %d を返しました: %w", resp.StatusCode, model.ErrUpstreamRateLimited)
	case resp.StatusCode == http.StatusForbidden && rateLimitExhausted(resp):
		return fmt.Errorf("GitHub APIのレート制限を超過しました: %w", model.ErrUpstreamRateLimited)
	default:
		return fmt.Errorf("GitHub APIがステータス %d を返しました: %w", resp.StatusCode, model.ErrUpstreamUnavailable)
	}
}

// rateLimitExhausted は403レスポンスがレート制限起因かをヘッダーから判定する。
func rateLimitExhausted(resp *http.Response) bool {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return false
	}
	n, err := strconv.Atoi(remaining)
	return err == nil && n <= 0
}

// compile-time interface check
var _ ReleaseFinder = (*Client)(nil)
