package discovery

import (
	"context"
	"fmt"

	"github.com/hitoshi/medpulse/internal/model"
)

// Getter はソースのクロール規則に従ってページを取得する。
type Getter interface {
	Get(ctx context.Context, source *model.Source, rawURL string) (*model.RawPage, error)
}

// Method は記事URLの列挙方法を表す。
type Method string

const (
	MethodFeed         Method = "feed"
	MethodAutodiscover Method = "autodiscover"
	MethodLinks        Method = "links"
)

// Result は列挙結果。
type Result struct {
	Method  Method
	FeedURL string
	URLs    []string
}

// Discoverer はソースから記事URLを列挙する。
type Discoverer struct {
	getter  Getter
	maxURLs int
}

// NewDiscoverer はDiscovererを生成する。maxURLsが0以下の場合は件数を制限しない。
func NewDiscoverer(getter Getter, maxURLs int) *Discoverer {
	return &Discoverer{getter: getter, maxURLs: maxURLs}
}

// Discover は記事URLを列挙する。
// FeedURLがあればフィードを読む。無ければベースページからフィードを自動検出し、
// それも無ければベースパス配下のリンクを集める。
func (d *Discoverer) Discover(ctx context.Context, source *model.Source) (*Result, error) {
	if source.FeedURL != "" {
		urls, err := d.fromFeed(ctx, source, source.FeedURL)
		if err != nil {
			return nil, err
		}
		return &Result{Method: MethodFeed, FeedURL: source.FeedURL, URLs: d.limit(urls)}, nil
	}

	page, err := d.getter.Get(ctx, source, source.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get base page: %w", err)
	}
	pageURL := finalURL(page)

	if IsFeed(page.ContentType, page.Body) {
		urls, err := ListFeedLinks(page.Body, pageURL)
		if err != nil {
			return nil, err
		}
		return &Result{Method: MethodFeed, FeedURL: pageURL, URLs: d.limit(urls)}, nil
	}

	if feedURL := DetectFeedURL(page.Body, pageURL); feedURL != "" {
		urls, err := d.fromFeed(ctx, source, feedURL)
		if err == nil {
			return &Result{Method: MethodAutodiscover, FeedURL: feedURL, URLs: d.limit(urls)}, nil
		}
	}

	urls, err := HarvestLinks(page.Body, pageURL)
	if err != nil {
		return nil, err
	}
	return &Result{Method: MethodLinks, URLs: d.limit(urls)}, nil
}

func (d *Discoverer) fromFeed(ctx context.Context, source *model.Source, feedURL string) ([]string, error) {
	page, err := d.getter.Get(ctx, source, feedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return ListFeedLinks(page.Body, finalURL(page))
}

func (d *Discoverer) limit(urls []string) []string {
	if d.maxURLs > 0 && len(urls) > d.maxURLs {
		return urls[:d.maxURLs]
	}
	return urls
}

func finalURL(page *model.RawPage) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return page.URL
}
