package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/medpulse/internal/compliance"
	"github.com/hitoshi/medpulse/internal/metrics"
	"github.com/hitoshi/medpulse/internal/model"
)

// URLValidator はSSRF検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// RobotsPolicy はrobots.txtによるクロール可否を判定する。
type RobotsPolicy interface {
	Allowed(ctx context.Context, pageURL string) (*compliance.RobotsVerdict, error)
}

// FetcherConfig はFetcherの設定。
type FetcherConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
}

// Fetcher は記事ページを1件取得する。
// SSRF検証とrobots.txtの確認を行い、失敗は一時的・恒久的に分類して返す。
type Fetcher struct {
	guard       URLValidator
	client      *http.Client
	robots      RobotsPolicy
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewFetcher はFetcherを生成する。clientにはSSRF防止付きクライアントを渡す。
func NewFetcher(
	guard URLValidator,
	client *http.Client,
	robots RobotsPolicy,
	m metrics.MetricsCollector,
	logger *slog.Logger,
	cfg FetcherConfig,
) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 * 1024 * 1024
	}
	return &Fetcher{
		guard:       guard,
		client:      client,
		robots:      robots,
		metrics:     m,
		logger:      logger,
		timeout:     cfg.Timeout,
		maxBodySize: cfg.MaxBodySize,
	}
}

// Fetch はURLを取得する。
// SSRF検証失敗・robots.txtによる拒否・4xx はPermanent、タイムアウト・接続エラー・429・5xx はTransient。
func (f *Fetcher) Fetch(ctx context.Context, source *model.Source, rawURL string) (*model.RawPage, error) {
	if err := f.guard.ValidateURL(rawURL); err != nil {
		return nil, model.NewPermanentFetchError(rawURL, "blocked by URL guard", 0, err)
	}

	if f.robots != nil {
		verdict, err := f.robots.Allowed(ctx, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, model.NewTransientFetchError(rawURL, "robots.txt unavailable", 0, err)
		}
		if !verdict.Allowed {
			f.logger.Info("robots.txtにより取得が拒否されました",
				slog.String("source_id", source.ID),
				slog.String("url", rawURL),
			)
			return nil, model.NewPermanentFetchError(rawURL, "disallowed by robots.txt", 0, nil)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewPermanentFetchError(rawURL, "invalid request", 0, err)
	}
	req.Header.Set("Accept", "text/html, application/xhtml+xml, application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		// 呼び出し元のキャンセルは分類せずにそのまま返す
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, model.NewTransientFetchError(rawURL, "request timed out", 0, err)
		}
		return nil, model.NewTransientFetchError(rawURL, "request failed", 0, err)
	}
	defer resp.Body.Close()

	f.metrics.RecordHTTPStatus(resp.StatusCode)

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultTransient:
		return nil, model.NewTransientFetchError(rawURL, "server returned retryable status", resp.StatusCode, nil)
	case FetchResultPermanent:
		return nil, model.NewPermanentFetchError(rawURL, "server returned non-retryable status", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.NewTransientFetchError(rawURL, "failed to read body", resp.StatusCode, err)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, model.NewPermanentFetchError(rawURL,
			fmt.Sprintf("response exceeds %d bytes", f.maxBodySize), resp.StatusCode, nil)
	}

	duration := time.Since(start)
	f.metrics.RecordFetchLatency(duration)

	f.logger.Debug("ページを取得しました",
		slog.String("source_id", source.ID),
		slog.String("url", rawURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return &model.RawPage{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

