// Package app はサブコマンドごとの依存関係の組み立てと起動を行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/medpulse/internal/analytics"
	"github.com/hitoshi/medpulse/internal/article"
	"github.com/hitoshi/medpulse/internal/compliance"
	"github.com/hitoshi/medpulse/internal/config"
	"github.com/hitoshi/medpulse/internal/database"
	"github.com/hitoshi/medpulse/internal/dedup"
	"github.com/hitoshi/medpulse/internal/discovery"
	"github.com/hitoshi/medpulse/internal/extract"
	"github.com/hitoshi/medpulse/internal/handler"
	"github.com/hitoshi/medpulse/internal/logger"
	"github.com/hitoshi/medpulse/internal/metrics"
	"github.com/hitoshi/medpulse/internal/middleware"
	"github.com/hitoshi/medpulse/internal/model"
	"github.com/hitoshi/medpulse/internal/nlp/sentiment"
	"github.com/hitoshi/medpulse/internal/nlp/topic"
	"github.com/hitoshi/medpulse/internal/ratelimit"
	"github.com/hitoshi/medpulse/internal/source"
	"github.com/hitoshi/medpulse/internal/worker/classify"
	"github.com/hitoshi/medpulse/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/medpulse/internal/worker/fetch"
)

// cleanupInterval はクリーンアップジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信するとルートコンテキストをキャンセルする。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rest := commandArgs(args)
	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(ctx, cfg, rest)
	case CommandValidate:
		return runValidate(ctx, cfg, rest)
	case CommandAggregate:
		return runAggregate(ctx, cfg, rest)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続とRedis接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established")

	l := slog.Default()

	// 2. メトリクスとドメインサービスの初期化
	reg, collector := newMetricsRegistry()
	c := newComponents(cfg, db, collector, l)

	agg, analyticsCache, redisClient, err := c.newAnalytics(ctx, cfg, collector, l)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	articleService := article.NewService(c.articles)

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitAPI), logger.Component(l, "ratelimit"))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            logger.Component(l, "http"),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		CachePinger:       analyticsCache,
		MetricsHandler:    metrics.Handler(reg),
		SourceService:     c.registry,
		ComplianceService: c.compliance,
		ArticleService:    articleService,
		AnalyticsService:  agg,
	})

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // 検証はrobots.txtの取得を伴う
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// フェッチスケジューラ、記事解析、週次集計、コンプライアンス再検証、クリーンアップを並行して実行し、
// ctxがキャンセルされると全ジョブの終了を待って戻る。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established (worker)")

	l := slog.Default()
	reg, collector := newMetricsRegistry()
	c := newComponents(cfg, db, collector, l)

	agg, _, redisClient, err := c.newAnalytics(ctx, cfg, collector, l)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// 2. 取得パイプラインの初期化
	limiter := ratelimit.New(ratelimit.Config{
		Concurrency: cfg.DomainConcurrency,
		OnWait: func(_ string, waited time.Duration) {
			collector.RecordRateLimitWait(waited)
		},
	})
	defer limiter.Stop()

	fetchLogger := logger.Component(l, "fetch")
	fetcher := fetchpkg.NewFetcher(
		c.guard, c.guard.NewSafeClient(cfg.FetchTimeout, cfg.UserAgent), c.robots,
		collector, fetchLogger,
		fetchpkg.FetcherConfig{Timeout: cfg.FetchTimeout, MaxBodySize: cfg.FetchMaxSize},
	)
	getter := fetchpkg.NewPoliteGetter(fetcher, limiter, c.robots, retryPolicy(cfg), time.Duration(cfg.MinCrawlDelaySeconds)*time.Second)
	ingestor := fetchpkg.NewIngestor(
		discovery.NewDiscoverer(getter, cfg.FetchMaxArticlesPerSource),
		getter,
		extract.NewRegistry(),
		dedup.New(c.articles, model.DedupScope(cfg.DedupScope)),
		c.registry, c.failedURLs,
		collector, fetchLogger,
	)
	scheduler := fetchpkg.NewScheduler(c.sources, ingestor, fetchLogger, cfg.FetchWorkers, cfg.FetchQueueSize)

	// 3. 解析・集計・再検証・クリーンアップの初期化
	processor := classify.NewProcessor(
		c.articles,
		sentiment.NewAnalyzer(nil),
		topic.NewDefaultClassifier(cfg.TopicMinConfidence),
		collector, logger.Component(l, "classify"),
		classifyConfig(cfg),
	)
	analyticsJob := analytics.NewJob(agg, logger.Component(l, "analytics"))
	revalidation, err := compliance.NewScheduler(c.compliance, cfg.ComplianceRevalidationCron, logger.Component(l, "compliance"))
	if err != nil {
		return err
	}
	cleanupJob := cleanup.NewCleanupJob(c.analytics, cfg.AnalyticsRetentionDays, logger.Component(l, "cleanup"))

	// 4. メトリクスエンドポイント
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.Int("fetch_workers", cfg.FetchWorkers),
		slog.Duration("nlp_interval", cfg.NLPInterval),
		slog.Duration("analytics_interval", cfg.AnalyticsInterval),
		slog.String("revalidation_cron", cfg.ComplianceRevalidationCron),
	)

	var wg sync.WaitGroup
	for _, job := range []func(){
		func() { scheduler.Start(ctx, cfg.FetchInterval) },
		func() { processor.Start(ctx, cfg.NLPInterval) },
		func() { analyticsJob.Start(ctx, cfg.AnalyticsInterval) },
		func() { revalidation.Start(ctx) },
		func() { cleanupJob.Start(ctx, cleanupInterval) },
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job()
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down worker...")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed はYAMLのシードファイルからソースを登録する。登録済みのbase_urlはスキップする。
func runSeed(ctx context.Context, cfg *config.Config, args []string) error {
	path, err := seedPath(cfg, args)
	if err != nil {
		return err
	}
	drafts, err := source.LoadSeedFile(path)
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	l := slog.Default()
	_, collector := newMetricsRegistry()
	c := newComponents(cfg, db, collector, l)

	res := c.registry.Seed(ctx, drafts, "seed")
	slog.Info("source seeding completed",
		slog.String("file", path),
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
	)
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d sources could not be registered", res.Failed, len(drafts))
	}
	return nil
}

// runValidate はコンプライアンス検証を即時実行する。
// 引数にソースIDがあればそのソースのみ、無ければ有効な全ソースを検証する。
func runValidate(ctx context.Context, cfg *config.Config, args []string) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	l := slog.Default()
	_, collector := newMetricsRegistry()
	c := newComponents(cfg, db, collector, l)

	if len(args) > 0 {
		result, err := c.compliance.ValidateSource(ctx, args[0], "cli")
		var complianceErr *model.ComplianceError
		if err != nil && !errors.As(err, &complianceErr) {
			return fmt.Errorf("validation failed: %w", err)
		}
		slog.Info("source validated",
			slog.String("source_id", result.SourceID),
			slog.Float64("score", result.Score),
			slog.String("status", string(result.Status)),
			slog.Any("violations", result.Violations),
			slog.Any("recommendations", result.Recommendations),
		)
		return nil
	}

	summary, err := c.compliance.RevalidateAll(ctx)
	if err != nil {
		return fmt.Errorf("revalidation failed: %w", err)
	}
	if summary.Errors > 0 {
		return fmt.Errorf("%d of %d sources could not be validated", summary.Errors, summary.Total)
	}
	return nil
}

// runAggregate は週次集計を即時実行する。引数に日付（YYYY-MM-DD）があればその日を含む週を集計する。
func runAggregate(ctx context.Context, cfg *config.Config, args []string) error {
	window, err := aggregateWindow(args, time.Now())
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	l := slog.Default()
	_, collector := newMetricsRegistry()
	c := newComponents(cfg, db, collector, l)

	agg, _, redisClient, err := c.newAnalytics(ctx, cfg, collector, l)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	wa, err := agg.Aggregate(ctx, window)
	if err != nil {
		return err
	}
	slog.Info("weekly analytics aggregated",
		slog.String("window", window.Key()),
		slog.Int("total_articles", wa.TotalArticles),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
