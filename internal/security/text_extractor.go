package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextExtractor は抽出済みHTMLから全タグを除去してプレーンテキストを得る。
// 記事本文は解析と重複判定にのみ使うため、マークアップは一切保持しない。
type TextExtractor struct {
	policy *bluemonday.Policy
}

// blockElements はテキスト化の際に単語が連結しないよう空白に置き換える要素。
var blockElements = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li|/h[1-6]|/tr|/td|/th|/blockquote|/section|/article)\b[^>]*>`)

// NewTextExtractor はbluemondayのStrictPolicyを持つTextExtractorを生成する。
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{policy: bluemonday.StrictPolicy()}
}

// ToText はHTMLをタグ・script・styleを含まないプレーンテキストに変換する。
// 文字参照はデコードし、連続する空白は1つにまとめる。
func (e *TextExtractor) ToText(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	spaced := blockElements.ReplaceAllString(rawHTML, " $0")
	stripped := e.policy.Sanitize(spaced)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
