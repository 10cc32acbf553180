package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/medpulse/internal/analytics"
	"github.com/hitoshi/medpulse/internal/cache"
	"github.com/hitoshi/medpulse/internal/compliance"
	"github.com/hitoshi/medpulse/internal/config"
	"github.com/hitoshi/medpulse/internal/logger"
	"github.com/hitoshi/medpulse/internal/metrics"
	"github.com/hitoshi/medpulse/internal/model"
	"github.com/hitoshi/medpulse/internal/repository"
	"github.com/hitoshi/medpulse/internal/security"
	"github.com/hitoshi/medpulse/internal/source"
	"github.com/hitoshi/medpulse/internal/worker/classify"
	fetchpkg "github.com/hitoshi/medpulse/internal/worker/fetch"
)

// staleProcessingAfter は processing のまま残った記事を失敗扱いにするまでの時間。
const staleProcessingAfter = 15 * time.Minute

// components はサブコマンド間で共有する依存関係。
type components struct {
	sources    *repository.PostgresSourceRepo
	audits     *repository.PostgresAuditRepo
	articles   *repository.PostgresArticleRepo
	failedURLs *repository.PostgresFailedURLRepo
	analytics  *repository.PostgresAnalyticsRepo

	guard      security.URLGuard
	robots     *compliance.RobotsChecker
	registry   *source.Registry
	compliance *compliance.Service
}

// newComponents はリポジトリとソース管理・コンプライアンス検証のサービスを構築する。
func newComponents(cfg *config.Config, db *sql.DB, m metrics.MetricsCollector, l *slog.Logger) *components {
	c := &components{
		sources:    repository.NewPostgresSourceRepo(db),
		audits:     repository.NewPostgresAuditRepo(db),
		articles:   repository.NewPostgresArticleRepo(db),
		failedURLs: repository.NewPostgresFailedURLRepo(db),
		analytics:  repository.NewPostgresAnalyticsRepo(db),
		guard:      security.NewURLGuard(),
	}

	robotsClient := c.guard.NewSafeClient(cfg.FetchTimeout, cfg.UserAgent)
	c.robots = compliance.NewRobotsChecker(robotsClient, cfg.UserAgent, cfg.RobotsCacheTTL)

	validator := compliance.NewValidator(c.robots, compliance.ValidatorConfig{
		MinCrawlDelaySeconds: cfg.MinCrawlDelaySeconds,
		AcceptanceThreshold:  cfg.ComplianceAcceptanceThreshold,
	})
	c.compliance = compliance.NewService(c.sources, c.audits, validator, m, logger.Component(l, "compliance"))
	c.registry = source.NewRegistry(c.sources, c.guard, cfg.MinCrawlDelaySeconds, logger.Component(l, "source"))
	return c
}

// newAnalytics はRedisに接続し、キャッシュ付きのAggregatorを構築する。
// 戻り値のredis.Clientは呼び出し側でCloseする。
func (c *components) newAnalytics(ctx context.Context, cfg *config.Config, m metrics.MetricsCollector, l *slog.Logger) (*analytics.Aggregator, *cache.RedisCache, *redis.Client, error) {
	client, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	analyticsCache := cache.NewRedisCache(client, cfg.AnalyticsCacheTTL, logger.Component(l, "cache"))
	agg := analytics.NewAggregator(c.analytics, analyticsCache, m, logger.Component(l, "analytics"))
	return agg, analyticsCache, client, nil
}

// newMetricsRegistry はアプリケーションのメトリクスとランタイムのメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// retryPolicy は設定からフェッチのリトライポリシーを組み立てる。
func retryPolicy(cfg *config.Config) fetchpkg.RetryPolicy {
	return fetchpkg.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  cfg.RetryMultiplier,
		MaxDelay:    cfg.RetryMaxDelay,
	}
}

// classifyConfig は設定から記事解析ワーカーの設定を組み立てる。
func classifyConfig(cfg *config.Config) classify.Config {
	return classify.Config{
		Workers:    cfg.NLPWorkers,
		BatchSize:  cfg.NLPBatchSize,
		Timeout:    cfg.NLPTimeout,
		MaxRetries: cfg.NLPMaxRetries,
		StaleAfter: staleProcessingAfter,
	}
}

// aggregateWindow は aggregate サブコマンドの引数から集計期間を決める。
// 引数が無い場合は now を含む週。
func aggregateWindow(args []string, now time.Time) (model.Window, error) {
	if len(args) == 0 {
		return analytics.WeekWindow(now), nil
	}
	w, err := analytics.ParseWeek(args[0])
	if err != nil {
		return model.Window{}, fmt.Errorf("invalid week %q (expected YYYY-MM-DD): %w", args[0], err)
	}
	return w, nil
}

// seedPath は seed サブコマンドで読み込むファイルを決める。引数が優先。
func seedPath(cfg *config.Config, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.SourcesFile != "" {
		return cfg.SourcesFile, nil
	}
	return "", fmt.Errorf("seed file is not specified: pass a path or set SOURCES_FILE")
}
