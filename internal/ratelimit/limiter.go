// Package ratelimit はドメイン単位のクロール間隔と同時実行数を制御する。
//
// 同一ドメインへのフェッチは、前回フェッチの「終了」からクロール間隔が経過するまで開始されない。
// 待機はセマフォとタイマーで行い、ビジーウェイトはしない。
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Config はドメインリミッターの設定を保持する。
type Config struct {
	Concurrency     int           // ドメインあたりの同時フェッチ数上限。既定1
	CleanupInterval time.Duration // 未使用ドメイン状態の掃除間隔
	// OnWait は許可が出るまでの待ち時間を通知する。メトリクス記録用。nilなら何もしない
	OnWait func(domain string, waited time.Duration)
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		Concurrency:     1,
		CleanupInterval: 10 * time.Minute,
	}
}

// domainState は1ドメイン分の状態。
// sem はFIFOで待機者を起こすため、同一ドメイン内の順序は獲得要求順になる。
type domainState struct {
	sem *semaphore.Weighted

	mu        sync.Mutex
	lastEnd   time.Time
	lastDelay time.Duration

	// refs は保持者と待機者の合計。DomainLimiter.mu で保護する。
	refs int
}

// DomainLimiter はドメインごとのフェッチ許可を発行する。
// 起動時に1つ生成し、フェッチワーカー間で共有する。
type DomainLimiter struct {
	config Config

	mu      sync.Mutex
	domains map[string]*domainState

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Token はAcquireで得たフェッチ許可。成功・失敗にかかわらずReleaseで返却する。
type Token struct {
	domain   string
	state    *domainState
	released atomic.Bool
}

// Domain は許可対象のドメインを返す。
func (t *Token) Domain() string { return t.domain }

// New はDomainLimiterを生成し、バックグラウンドで状態の掃除を開始する。
func New(config Config) *DomainLimiter {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}
	l := &DomainLimiter{
		config:  config,
		domains: make(map[string]*domainState),
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Stop は掃除ゴルーチンを停止する。複数回呼んでもよい。
func (l *DomainLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Acquire はdomainへのフェッチが許可されるまで待機し、Tokenを返す。
// 同時実行枠の空きと、前回フェッチ終了から crawlDelay の経過の両方を待つ。
// ctxがキャンセルされた場合は ctx.Err() を返し、枠は消費しない。
func (l *DomainLimiter) Acquire(ctx context.Context, domain string, crawlDelay time.Duration) (*Token, error) {
	start := time.Now()
	st := l.ref(domain)

	if err := st.sem.Acquire(ctx, 1); err != nil {
		l.unref(domain)
		return nil, err
	}

	st.mu.Lock()
	readyAt := st.lastEnd.Add(crawlDelay)
	if crawlDelay > st.lastDelay {
		st.lastDelay = crawlDelay
	}
	st.mu.Unlock()

	if wait := time.Until(readyAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			st.sem.Release(1)
			l.unref(domain)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if l.config.OnWait != nil {
		l.config.OnWait(domain, time.Since(start))
	}
	return &Token{domain: domain, state: st}, nil
}

// Release はフェッチ終了を記録して許可を返却する。
// 次の待機者の待ち時間はこの時刻から計算される。二重に呼んでも1回分のみ処理する。
func (l *DomainLimiter) Release(t *Token) {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	now := time.Now()
	t.state.mu.Lock()
	if now.After(t.state.lastEnd) {
		t.state.lastEnd = now
	}
	t.state.mu.Unlock()

	t.state.sem.Release(1)
	l.unref(t.domain)
}

// DomainCount は現在管理しているドメイン数を返す。テストおよびメトリクス用。
func (l *DomainLimiter) DomainCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.domains)
}

func (l *DomainLimiter) ref(domain string) *domainState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{sem: semaphore.NewWeighted(int64(l.config.Concurrency))}
		l.domains[domain] = st
	}
	st.refs++
	return st
}

func (l *DomainLimiter) unref(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.domains[domain]; ok {
		st.refs--
	}
}

func (l *DomainLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

// cleanup は保持者も待機者もおらず、クロール間隔と掃除間隔の両方を過ぎたドメインを削除する。
func (l *DomainLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for domain, st := range l.domains {
		if st.refs > 0 {
			continue
		}
		st.mu.Lock()
		idle := now.Sub(st.lastEnd)
		expired := idle > st.lastDelay && idle > l.config.CleanupInterval
		st.mu.Unlock()
		if expired {
			delete(l.domains, domain)
		}
	}
}

// DomainOf はURLからレート制御単位のドメインを取り出す。
// ホスト名を小文字化し、先頭の "www." を除去する。
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(rawURL)
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
