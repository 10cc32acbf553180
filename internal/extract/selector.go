package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/medpulse/internal/model"
	"github.com/hitoshi/medpulse/internal/security"
)

// selectorRules はCMSごとのCSSセレクタ定義。
type selectorRules struct {
	title   []string
	content []string
	summary []string
	date    []string
	remove  string
}

// SelectorExtractor はCSSセレクタで記事を抽出するExtractor。
type SelectorExtractor struct {
	name  string
	rules selectorRules
	text  *security.TextExtractor
}

// NewWordPress はWordPressテーマの標準的なマークアップ向けExtractorを生成する。
func NewWordPress(text *security.TextExtractor) *SelectorExtractor {
	return &SelectorExtractor{
		name: CMSWordPress,
		text: text,
		rules: selectorRules{
			title:   []string{"h1.entry-title", "h1.post-title", "article h1", ".wp-block-post-title"},
			content: []string{".entry-content", ".post-content", ".wp-block-post-content", "article .content"},
			summary: []string{".entry-summary"},
			date:    []string{"time.entry-date", "time.published", ".wp-block-post-date time", "time[datetime]"},
			remove:  "script, style, noscript, .sharedaddy, .jp-relatedposts, .wp-block-buttons, .addtoany_share_save_container",
		},
	}
}

// NewDrupal はDrupalのノード表示向けExtractorを生成する。
func NewDrupal(text *security.TextExtractor) *SelectorExtractor {
	return &SelectorExtractor{
		name: CMSDrupal,
		text: text,
		rules: selectorRules{
			title:   []string{"h1.page-title", "h1.node__title", ".field--name-title", "article h1"},
			content: []string{".field--name-body", ".node__content .field--type-text-with-summary", ".field-name-body", ".node__content"},
			summary: []string{".field--name-field-summary", ".field--name-field-teaser"},
			date:    []string{".node__meta time", ".field--name-created time", "span.date-display-single", "time[datetime]"},
			remove:  "script, style, noscript, .field--name-field-tags, .links, .contextual",
		},
	}
}

// Name はExtractorの名前を返す。
func (e *SelectorExtractor) Name() string { return e.name }

// Extract はセレクタに一致した本文をプレーンテキストとして抽出する。
// 本文が見つからない場合は ErrNoContent を返す。
func (e *SelectorExtractor) Extract(page *model.RawPage) (*model.ExtractedArticle, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return nil, err
	}

	content := e.contentText(doc)
	if content == "" {
		return nil, ErrNoContent
	}

	title := firstText(doc, e.rules.title...)
	if title == "" {
		title = pageTitle(doc)
	}
	summary := pageSummary(doc)
	if summary == "" {
		summary = firstText(doc, e.rules.summary...)
	}

	return &model.ExtractedArticle{
		Title:       title,
		Summary:     summary,
		Content:     content,
		PublishedAt: publishedAt(doc, e.rules.date...),
	}, nil
}

func (e *SelectorExtractor) contentText(doc *goquery.Document) string {
	for _, sel := range e.rules.content {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		if e.rules.remove != "" {
			container.Find(e.rules.remove).Remove()
		}
		raw, err := container.Html()
		if err != nil {
			continue
		}
		if text := e.text.ToText(raw); text != "" {
			return text
		}
	}
	return ""
}
