package discovery

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

// ListFeedLinks はRSS/Atomフィードから記事URLをフィードの並び順で返す。
// リンクが無くGUIDがURL形式の項目はGUIDを使う。
func ListFeedLinks(body []byte, feedURL string) ([]string, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	base, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}

	seen := make(map[string]bool, len(parsed.Items))
	links := make([]string, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		link := strings.TrimSpace(item.Link)
		if link == "" && isHTTPURL(item.GUID) {
			link = item.GUID
		}
		if link == "" {
			continue
		}
		resolved := resolveURL(base, link)
		if !isHTTPURL(resolved) || seen[resolved] {
			continue
		}
		seen[resolved] = true
		links = append(links, resolved)
	}
	return links, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
