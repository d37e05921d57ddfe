// Package summarizer はリリースノート本文のLLM要約を提供する。
package summarizer

import (
	"context"

	"github.com/hitoshi/relwatch/internal/model"
)

// Request は要約対象のリリース情報を表す。
type Request struct {
	// RepoFullName は "owner/repo" 形式のリポジトリ名。
	RepoFullName string
	// ReleaseName はリリース名（例: "v1.22.0"）。
	ReleaseName string
	// Body はサニタイズ済みのリリースノート本文。
	Body string
	// HTMLURL はリリースページのURL。
	HTMLURL string
}

// Result は要約結果を表す。
type Result struct {
	// Summary は1〜2文の全体要約。
	Summary string
	// Items は変更点の箇条書き。
	Items []model.SummaryItem
}

// Service はリリースノートの要約インターフェース。
// 失敗はmodel.ErrSummarizerUnavailable（一時的）または
// model.ErrSummarizerRejected（恒久的）にラップして返す。
type Service interface {
	Summarize(ctx context.Context, req Request) (*Result, error)
}
