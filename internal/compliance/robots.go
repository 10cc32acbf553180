package compliance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// maxRobotsBodyBytes はrobots.txtとして読み込む最大サイズ。
const maxRobotsBodyBytes = 512 * 1024

// ErrRobotsUnavailable はrobots.txtを取得・確認できなかったことを表す。
var ErrRobotsUnavailable = errors.New("robots.txt unavailable")

// RobotsVerdict はrobots.txtの判定結果。
type RobotsVerdict struct {
	Allowed    bool
	CrawlDelay time.Duration
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	status    int
	fetchedAt time.Time
}

// RobotsChecker はrobots.txtを取得してURL単位でキャッシュする。
// コンプライアンス検証とフェッチ時の確認の両方で共有する。
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration

	mu    sync.RWMutex
	cache map[string]*robotsEntry // robots.txtのURLがキー
	now   func() time.Time
}

// NewRobotsChecker はRobotsCheckerを生成する。ttlが0以下の場合は24時間。
func NewRobotsChecker(client *http.Client, userAgent string, ttl time.Duration) *RobotsChecker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		cache:     make(map[string]*robotsEntry),
		now:       time.Now,
	}
}

// Check はソースが申告したrobots.txtを取得し、targetPathへのクロール可否を返す。
// 取得失敗や2xx以外の応答は許可とみなさず ErrRobotsUnavailable を返す。
func (c *RobotsChecker) Check(ctx context.Context, robotsURL, targetPath string) (*RobotsVerdict, error) {
	entry, err := c.load(ctx, robotsURL)
	if err != nil {
		return nil, err
	}
	if entry.status < 200 || entry.status >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrRobotsUnavailable, entry.status)
	}
	return c.verdict(entry, targetPath), nil
}

// Allowed はページURLのホストのrobots.txtに従ってフェッチ可否を返す。
// robots.txtが4xxなら全許可、取得失敗や5xxは ErrRobotsUnavailable を返す。
func (c *RobotsChecker) Allowed(ctx context.Context, pageURL string) (*RobotsVerdict, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("robots: invalid page URL %q", pageURL)
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	entry, err := c.load(ctx, robotsURL)
	if err != nil {
		return nil, err
	}
	if entry.status >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrRobotsUnavailable, entry.status)
	}
	return c.verdict(entry, requestPath(u)), nil
}

func (c *RobotsChecker) verdict(entry *robotsEntry, path string) *RobotsVerdict {
	agent := agentToken(c.userAgent)
	v := &RobotsVerdict{Allowed: entry.data.TestAgent(path, agent)}
	if group := entry.data.FindGroup(agent); group != nil {
		v.CrawlDelay = group.CrawlDelay
	}
	return v
}

// load はキャッシュが有効ならそれを返し、無ければ取得する。
// 通信エラーと5xxはキャッシュしない。
func (c *RobotsChecker) load(ctx context.Context, robotsURL string) (*robotsEntry, error) {
	c.mu.RLock()
	entry, ok := c.cache[robotsURL]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry, nil
	}

	body, status, err := c.fetch(ctx, robotsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRobotsUnavailable, err)
	}

	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrRobotsUnavailable, err)
	}
	entry = &robotsEntry{data: data, status: status, fetchedAt: c.now()}

	if status < 500 {
		c.mu.Lock()
		c.cache[robotsURL] = entry
		c.mu.Unlock()
	}
	return entry, nil
}

func (c *RobotsChecker) fetch(ctx context.Context, robotsURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// agentToken はUser-Agent文字列からrobots.txt照合用の製品名を取り出す。
// "MedPulseBot/1.0 (+https://...)" は "MedPulseBot" になる。
func agentToken(userAgent string) string {
	fields := strings.Fields(userAgent)
	if len(fields) == 0 {
		return "*"
	}
	token, _, _ := strings.Cut(fields[0], "/")
	return token
}

func requestPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}
