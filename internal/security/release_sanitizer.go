package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ReleaseSanitizerService はリリースノート本文のサニタイズ機能を定義する。
// GitHubのリリース本文（REST APIのマークダウン、AtomフィードのHTML）は
// 第三者が任意に記述できるコンテンツであるため、保存前およびLLMへの
// 投入前にサニタイズする。
type ReleaseSanitizerService interface {
	// SanitizeHTML はリリース本文のHTMLをサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, a, ul, ol, li, blockquote, pre, code, strong, em, h1-h4）のみを
	// 通過させ、script, iframe, styleタグおよびon*イベント属性を除去する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeHTML(rawHTML string) string

	// PlainText はHTMLタグをすべて除去したプレーンテキストを返す。
	// LLMプロンプトへの投入前に使用し、プロンプトインジェクションに
	// 使われやすいマークアップを排除する。
	PlainText(rawHTML string) string
}

// releaseSanitizer はReleaseSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type releaseSanitizer struct {
	htmlPolicy *bluemonday.Policy
	textPolicy *bluemonday.Policy
}

// NewReleaseSanitizer はReleaseSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, h1-h4
//   - script, iframe, style等は許可リストに含めないことで自動的に除去される
//   - aタグ: href属性のみ許可し、rel="noreferrer noopener" を強制付与
//   - リンクのURLスキームはhttpsのみ許可
func NewReleaseSanitizer() *releaseSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
		"h1", "h2", "h3", "h4",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.RequireNoReferrerOnLinks(true)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &releaseSanitizer{
		htmlPolicy: p,
		textPolicy: bluemonday.StrictPolicy(),
	}
}

// SanitizeHTML はリリース本文のHTMLをサニタイズして安全なHTMLを返す。
func (s *releaseSanitizer) SanitizeHTML(rawHTML string) string {
	return s.htmlPolicy.Sanitize(rawHTML)
}

// PlainText はHTMLタグをすべて除去したプレーンテキストを返す。
func (s *releaseSanitizer) PlainText(rawHTML string) string {
	return strings.TrimSpace(s.textPolicy.Sanitize(rawHTML))
}
