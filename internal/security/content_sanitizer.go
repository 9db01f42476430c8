package security

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は投稿本文のHTMLサニタイズを定義する。
// 同一入力に対して常に同一出力を返す。
type ContentSanitizerService interface {
	Sanitize(rawHTML string) string
}

// postElements は投稿本文で残す要素。
var postElements = []string{
	"p", "br", "span",
	"ul", "ol", "li",
	"blockquote", "pre", "code",
	"strong", "em", "del",
}

// microformatClass はメンションやハッシュタグのリンクに付く連合向けクラスのみ許可する。
var microformatClass = regexp.MustCompile(`^(?:(?:h-card|u-url|mention|hashtag|invisible|ellipsis)\s*)+$`)

type contentSanitizer struct {
	policy *bluemonday.Policy // 並行利用に対して安全
}

// NewContentSanitizer は投稿向けの許可リストポリシーを構築する。
// リンクは絶対URL (http/https/mailto) のみ残し、target="_blank" と
// rel="nofollow noreferrer noopener" を付与する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{policy: postPolicy()}
}

func postPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(postElements...)

	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("class").Matching(microformatClass).OnElements("a", "span")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)

	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	return p
}

func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
