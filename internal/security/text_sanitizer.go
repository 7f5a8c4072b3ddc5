// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はプロジェクト・タスク・タグの入力文字列をサニタイズする。
// タイトルやタグ名はHTMLを全て除去したプレーンテキストとし、
// 説明文のみ許可リストベースのポリシーで最低限の書式を残す。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は入力文字列のサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// PlainText はHTMLを全て除去し、前後の空白を取り除いたテキストを返す。
	// "R&D" のような通常の文字はエスケープせずそのまま残す。
	PlainText(raw string) string
	// RichText は許可タグ（p, br, a, ul, ol, li, pre, code, strong, em）のみを通過させる。
	// aタグのhrefはhttpsスキームのみ許可し、rel="nofollow noreferrer" を付与する。
	RichText(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	strict *bluemonday.Policy
	rich   *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements(
		"p", "br", "ul", "ol", "li",
		"pre", "code", "strong", "em",
	)
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowRelativeURLs(false)
	rich.RequireNoFollowOnLinks(true)
	rich.RequireNoReferrerOnLinks(true)
	rich.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &textSanitizer{
		strict: bluemonday.StrictPolicy(),
		rich:   rich,
	}
}

// PlainText はHTMLを全て除去したテキストを返す。
// エンティティは一度展開してから除去するため、"&lt;script&gt;" のような入力もタグとして扱われる。
func (s *textSanitizer) PlainText(raw string) string {
	stripped := s.strict.Sanitize(html.UnescapeString(raw))
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// RichText は許可タグのみを残したHTMLを返す。
func (s *textSanitizer) RichText(raw string) string {
	return strings.TrimSpace(s.rich.Sanitize(raw))
}
