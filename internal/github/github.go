// Package github はGitHubリポジトリのリリース情報取得を提供する。
// REST APIクライアントと、トークン不要のAtomフィードフォールバックを含む。
package github

import (
	"context"
	"time"
)

// Release はリリース一覧の1項目を表す。
type Release struct {
	ID          int64
	Name        string
	PublishedAt time.Time
}

// ReleaseDetail はリリースの詳細（解析対象の本文）を表す。
type ReleaseDetail struct {
	Name    string
	Body    string
	HTMLURL string
}

// ReleaseFinder はリリースの列挙と詳細取得のインターフェース。
// ListReleasesの結果の順序は保証されない。呼び出し側は順序に依存してはならない。
// 失敗はmodel.ErrUpstream*のいずれかにラップして返す。
type ReleaseFinder interface {
	// ListReleases は指定リポジトリのリリース一覧を取得する。
	// sinceが指定された場合、published_at > since のリリースのみを返す
	// （境界リリースの再処理を避けるため厳密な不等号で比較する）。
	ListReleases(ctx context.Context, owner, repo string, since *time.Time) ([]Release, error)

	// GetRelease は指定リリースの詳細を取得する。
	GetRelease(ctx context.Context, owner, repo string, releaseID int64) (*ReleaseDetail, error)
}
