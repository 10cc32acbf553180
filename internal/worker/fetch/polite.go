package fetch

import (
	"context"
	"time"

	"github.com/hitoshi/medpulse/internal/model"
	"github.com/hitoshi/medpulse/internal/ratelimit"
)

// PageFetcher はページを1回取得する。
type PageFetcher interface {
	Fetch(ctx context.Context, source *model.Source, rawURL string) (*model.RawPage, error)
}

// DomainLimiter はドメイン単位のクロール間隔を守るためのリミッタ。
type DomainLimiter interface {
	Acquire(ctx context.Context, domain string, crawlDelay time.Duration) (*ratelimit.Token, error)
	Release(t *ratelimit.Token)
}

// PoliteGetter はドメインのトークンを取得してからページを取得する。
// 再試行も1回の取得として扱い、試行ごとにクロール間隔を空ける。
// 取得の再試行はこの型だけが行う。
type PoliteGetter struct {
	fetcher  PageFetcher
	limiter  DomainLimiter
	robots   RobotsPolicy
	policy   RetryPolicy
	minDelay time.Duration
}

// NewPoliteGetter はPoliteGetterを生成する。
// minDelayはソースのクロール間隔がこれを下回る場合に使う下限。
// robotsがnilでなければ robots.txt の Crawl-delay も間隔の下限に加える。
func NewPoliteGetter(fetcher PageFetcher, limiter DomainLimiter, robots RobotsPolicy, policy RetryPolicy, minDelay time.Duration) *PoliteGetter {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &PoliteGetter{fetcher: fetcher, limiter: limiter, robots: robots, policy: policy, minDelay: minDelay}
}

// Get はクロール間隔とリトライポリシーに従ってページを取得する。
func (g *PoliteGetter) Get(ctx context.Context, source *model.Source, rawURL string) (*model.RawPage, error) {
	delay := g.crawlDelay(ctx, source, rawURL)
	domain := ratelimit.DomainOf(rawURL)

	var page *model.RawPage
	err := Retry(ctx, g.policy, func(ctx context.Context) error {
		token, err := g.limiter.Acquire(ctx, domain, delay)
		if err != nil {
			return err
		}
		defer g.limiter.Release(token)

		page, err = g.fetcher.Fetch(ctx, source, rawURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// crawlDelay はソースの設定値、下限、robots.txt の Crawl-delay のうち最大の値を返す。
// robots.txt を取得できない場合の判定はFetcherに任せる。
func (g *PoliteGetter) crawlDelay(ctx context.Context, source *model.Source, rawURL string) time.Duration {
	delay := max(source.CrawlDelay(), g.minDelay)
	if g.robots == nil {
		return delay
	}
	verdict, err := g.robots.Allowed(ctx, rawURL)
	if err != nil || verdict == nil {
		return delay
	}
	return max(delay, verdict.CrawlDelay)
}
