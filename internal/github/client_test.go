package github

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/relwatch/internal/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestClient(serverURL string) *Client {
	return NewClient(&http.Client{Timeout: 5 * time.Second}, newTestLogger(), ClientConfig{
		BaseURL:           serverURL,
		RequestsPerSecond: 1000, // テストではレート制限を事実上無効化
	})
}

func TestListReleases_ReturnsAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/golang/go/releases" {
			t.Errorf("予期しないパス: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": 1, "name": "v1.0.0", "tag_name": "v1.0.0", "published_at": "2024-01-01T00:00:00Z"},
			{"id": 2, "name": "v1.1.0", "tag_name": "v1.1.0", "published_at": "2024-01-05T00:00:00Z"}
		]`))
	}))
	defer server.Close()

	releases, err := newTestClient(server.URL).ListReleases(context.Background(), "golang", "go", nil)
	if err != nil {
		t.Fatalf("ListReleases がエラーを返した: %v", err)
	}
	if len(releases) != 2 {
		t.Fatalf("リリース数 = %d, want 2", len(releases))
	}
	if releases[0].ID != 1 || releases[1].ID != 2 {
		t.Errorf("リリースIDが期待と異なる: %+v", releases)
	}
}

func TestListReleases_SinceFilterIsStrict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": 1, "name": "r1", "tag_name": "r1", "published_at": "2024-01-01T00:00:00Z"},
			{"id": 2, "name": "r2", "tag_name": "r2", "published_at": "2024-01-05T00:00:00Z"}
		]`))
	}))
	defer server.Close()

	// ウォーターマークと同時刻のリリースは除外される（厳密な不等号）
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	releases, err := newTestClient(server.URL).ListReleases(context.Background(), "golang", "go", &since)
	if err != nil {
		t.Fatalf("ListReleases がエラーを返した: %v", err)
	}
	if len(releases) != 1 {
		t.Fatalf("リリース数 = %d, want 1（境界リリースは除外）", len(releases))
	}
	if releases[0].ID != 2 {
		t.Errorf("残るリリースは r2 であるべき, got ID=%d", releases[0].ID)
	}
}

func TestListReleases_SkipsDrafts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": 1, "name": "draft", "tag_name": "draft", "draft": true, "published_at": null},
			{"id": 2, "name": "v1.0.0", "tag_name": "v1.0.0", "published_at": "2024-01-05T00:00:00Z"}
		]`))
	}))
	defer server.Close()

	releases, err := newTestClient(server.URL).ListReleases(context.Background(), "golang", "go", nil)
	if err != nil {
		t.Fatalf("ListReleases がエラーを返した: %v", err)
	}
	if len(releases) != 1 || releases[0].ID != 2 {
		t.Errorf("ドラフトは除外されるべき: %+v", releases)
	}
}

func TestListReleases_NameFallsBackToTagName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": 1, "name": null, "tag_name": "v2.0.0", "published_at": "2024-01-05T00:00:00Z"}
		]`))
	}))
	defer server.Close()

	releases, err := newTestClient(server.URL).ListReleases(context.Background(), "golang", "go", nil)
	if err != nil {
		t.Fatalf("ListReleases がエラーを返した: %v", err)
	}
	if releases[0].Name != "v2.0.0" {
		t.Errorf("nameがnullの場合はtag_nameを使用すべき, got %q", releases[0].Name)
	}
}

func TestListReleases_ServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ListReleases(context.Background(), "golang", "go", nil)
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Errorf("500 は ErrUpstreamUnavailable を返すべき, got %v", err)
	}
}

func TestListReleases_TooManyRequestsIsRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ListReleases(context.Background(), "golang", "go", nil)
	if !errors.Is(err, model.ErrUpstreamRateLimited) {
		t.Errorf("429 は ErrUpstreamRateLimited を返すべき, got %v", err)
	}
}

func TestListReleases_ForbiddenWithExhaustedQuotaIsRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ListReleases(context.Background(), "golang", "go", nil)
	if !errors.Is(err, model.ErrUpstreamRateLimited) {
		t.Errorf("残量0の403 は ErrUpstreamRateLimited を返すべき, got %v", err)
	}
}

func TestListReleases_MalformedJSONIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not valid json`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ListReleases(context.Background(), "golang", "go", nil)
	if !errors.Is(err, model.ErrUpstreamMalformed) {
		t.Errorf("不正なJSON は ErrUpstreamMalformed を返すべき, got %v", err)
	}
}

func TestGetRelease_ReturnsDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/golang/go/releases/42" {
			t.Errorf("予期しないパス: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"id": 42, "name": "v1.2.0", "tag_name": "v1.2.0",
			"body": "## Changes\n- fix things",
			"html_url": "https://github.com/golang/go/releases/tag/v1.2.0",
			"published_at": "2024-01-05T00:00:00Z"
		}`))
	}))
	defer server.Close()

	detail, err := newTestClient(server.URL).GetRelease(context.Background(), "golang", "go", 42)
	if err != nil {
		t.Fatalf("GetRelease がエラーを返した: %v", err)
	}
	if detail.Name != "v1.2.0" {
		t.Errorf("detail.Name = %q, want %q", detail.Name, "v1.2.0")
	}
	if detail.Body == "" {
		t.Error("detail.Body は設定されるべき")
	}
	if detail.HTMLURL == "" {
		t.Error("detail.HTMLURL は設定されるべき")
	}
}

func TestClient_SendsAuthorizationHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(&http.Client{}, newTestLogger(), ClientConfig{
		BaseURL:           server.URL,
		Token:             "test-token",
		RequestsPerSecond: 1000,
	})
	if _, err := client.ListReleases(context.Background(), "golang", "go", nil); err != nil {
		t.Fatalf("ListReleases がエラーを返した: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
	}
}
