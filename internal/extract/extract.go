// Package extract はHTMLページから記事のタイトル・本文・公開日時を抽出する。
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/hitoshi/medpulse/internal/model"
	"github.com/hitoshi/medpulse/internal/security"
)

// CMS種別。Source.CMSType と同じ値を使う。
const (
	CMSWordPress = "wordpress"
	CMSDrupal    = "drupal"
	CMSGeneric   = "generic"
)

// ErrNoContent は本文を抽出できなかったことを表す。
var ErrNoContent = errors.New("no article content found")

// Extractor はRawPageから構造化された記事を抽出する。
type Extractor interface {
	Name() string
	Extract(page *model.RawPage) (*model.ExtractedArticle, error)
}

// Registry はソースとページに応じてExtractorを選択する。
type Registry struct {
	byCMS   map[string]Extractor
	generic Extractor
}

// NewRegistry は WordPress・Drupal・汎用の各Extractorを持つRegistryを生成する。
func NewRegistry() *Registry {
	text := security.NewTextExtractor()
	generic := NewGeneric(text)
	return &Registry{
		byCMS: map[string]Extractor{
			CMSWordPress: NewWordPress(text),
			CMSDrupal:    NewDrupal(text),
			CMSGeneric:   generic,
		},
		generic: generic,
	}
}

// For はExtractorを選ぶ。ソースに明示されたCMS種別を優先し、
// 未指定の場合はページから判定する。判定できなければ汎用Extractorを返す。
func (r *Registry) For(source *model.Source, page *model.RawPage) Extractor {
	if source != nil {
		if ex, ok := r.byCMS[strings.ToLower(source.CMSType)]; ok {
			return ex
		}
	}
	if ex, ok := r.byCMS[Detect(page)]; ok {
		return ex
	}
	return r.generic
}

// Extract は選択したExtractorで抽出し、CMS向けのセレクタで本文が取れなかった場合は汎用Extractorで再試行する。
func (r *Registry) Extract(source *model.Source, page *model.RawPage) (*model.ExtractedArticle, error) {
	ex := r.For(source, page)
	article, err := ex.Extract(page)
	if errors.Is(err, ErrNoContent) && ex != r.generic {
		return r.generic.Extract(page)
	}
	return article, err
}

// Detect はgeneratorメタタグやCMS固有のマーカーからCMS種別を判定する。
func Detect(page *model.RawPage) string {
	if page == nil || len(page.Body) == 0 {
		return CMSGeneric
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return CMSGeneric
	}

	generator := strings.ToLower(doc.Find(`meta[name="generator"], meta[name="Generator"]`).AttrOr("content", ""))
	switch {
	case strings.Contains(generator, "wordpress"):
		return CMSWordPress
	case strings.Contains(generator, "drupal"):
		return CMSDrupal
	}

	body := page.Body
	switch {
	case bytes.Contains(body, []byte("/wp-content/")), bytes.Contains(body, []byte("/wp-json/")):
		return CMSWordPress
	case bytes.Contains(body, []byte("data-drupal-")), bytes.Contains(body, []byte("Drupal.settings")),
		bytes.Contains(body, []byte("/sites/default/files/")):
		return CMSDrupal
	}
	return CMSGeneric
}

func parseDocument(page *model.RawPage) (*goquery.Document, error) {
	if page == nil || len(page.Body) == 0 {
		return nil, ErrNoContent
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// firstText はセレクタを順に試し、最初に見つかった空でないテキストを返す。
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		text := strings.Join(strings.Fields(doc.Find(sel).First().Text()), " ")
		if text != "" {
			return text
		}
	}
	return ""
}

// metaContent はname/property属性で指定したmetaタグのcontentを返す。
func metaContent(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, key, key)
		if v := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}

// pageTitle はog:titleと<title>から見出しを補う。
func pageTitle(doc *goquery.Document) string {
	if t := metaContent(doc, "og:title", "twitter:title"); t != "" {
		return t
	}
	return firstText(doc, "title")
}

// pageSummary はmeta descriptionから要約を取得する。
func pageSummary(doc *goquery.Document) string {
	return metaContent(doc, "og:description", "description", "twitter:description")
}

// publishedAt は公開日時を表すmetaタグとtime要素から日時を解析する。
func publishedAt(doc *goquery.Document, timeSelectors ...string) *time.Time {
	candidates := []string{
		metaContent(doc, "article:published_time", "datePublished", "dc.date", "DC.date.issued", "citation_publication_date"),
	}
	for _, sel := range timeSelectors {
		s := doc.Find(sel).First()
		candidates = append(candidates, s.AttrOr("datetime", ""), s.AttrOr("content", ""), strings.TrimSpace(s.Text()))
	}
	return parseDate(candidates...)
}

// parseDate は最初に解析できた日時をUTCで返す。タイムゾーンの無い日時はUTCとみなす。
func parseDate(values ...string) *time.Time {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		t, err := dateparse.ParseIn(v, time.UTC)
		if err != nil {
			continue
		}
		t = t.UTC()
		return &t
	}
	return nil
}
