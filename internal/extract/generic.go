package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/hitoshi/medpulse/internal/model"
	"github.com/hitoshi/medpulse/internal/security"
)

// Generic はreadabilityアルゴリズムで本文を推定する汎用Extractor。
type Generic struct {
	text *security.TextExtractor
}

// NewGeneric はGenericを生成する。
func NewGeneric(text *security.TextExtractor) *Generic {
	return &Generic{text: text}
}

// Name はExtractorの名前を返す。
func (g *Generic) Name() string { return CMSGeneric }

// Extract はページ全体から本文を推定して抽出する。
func (g *Generic) Extract(page *model.RawPage) (*model.ExtractedArticle, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return nil, err
	}

	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(page.Body), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoContent, err)
	}

	content := g.text.ToText(article.Content)
	if content == "" {
		content = strings.Join(strings.Fields(article.TextContent), " ")
	}
	if content == "" {
		return nil, ErrNoContent
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = pageTitle(doc)
	}
	summary := pageSummary(doc)
	if summary == "" {
		summary = strings.TrimSpace(article.Excerpt)
	}

	return &model.ExtractedArticle{
		Title:       title,
		Summary:     summary,
		Content:     content,
		PublishedAt: publishedAt(doc, "article time[datetime]", "time[datetime]"),
	}, nil
}
