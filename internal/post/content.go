package post

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// VisibleText はHTML断片から表示されるテキストを取り出す。
// エンティティは展開され、タグは除去される。
func VisibleText(fragment string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

// VisibleLength は表示テキストの文字数（rune数）を返す。前後の空白は数えない。
func VisibleLength(fragment string) int {
	return utf8.RuneCountInString(strings.TrimSpace(VisibleText(fragment)))
}
