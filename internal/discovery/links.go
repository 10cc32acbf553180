package discovery

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// skipExtensions は記事ページではないリンクの拡張子。
var skipExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true,
	".pdf": true, ".zip": true, ".mp3": true, ".mp4": true, ".css": true, ".js": true,
	".xml": true, ".rss": true,
}

// HarvestLinks はベースページのリンクのうち、同一ホストかつベースパス配下のものを文書順で返す。
// フィードを持たないソースの記事URL列挙に使う。
func HarvestLinks(htmlBody []byte, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	basePath := base.Path
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") ||
			strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		u := base.ResolveReference(ref)
		u.Fragment = ""
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		if !strings.EqualFold(u.Hostname(), base.Hostname()) {
			return
		}
		if !strings.HasPrefix(u.Path, basePath) || strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(base.Path, "/") {
			return
		}
		if skipExtensions[strings.ToLower(path.Ext(u.Path))] {
			return
		}
		link := u.String()
		if seen[link] {
			return
		}
		seen[link] = true
		links = append(links, link)
	})
	return links, nil
}
