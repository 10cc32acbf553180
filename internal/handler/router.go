package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/medpulse/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック
	HealthChecker HealthChecker
	CachePinger   CachePinger

	// MetricsHandler が設定されている場合は /metrics に公開する
	MetricsHandler http.Handler

	// ソース・コンプライアンス
	SourceService     SourceServiceInterface
	ComplianceService ComplianceServiceInterface

	// 記事
	ArticleService ArticleServiceInterface

	// 集計
	AnalyticsService AnalyticsServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → Actor → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sourceHandler := NewSourceHandler(deps.SourceService, deps.ComplianceService)
	articleHandler := NewArticleHandler(deps.ArticleService)
	analyticsHandler := NewAnalyticsHandler(deps.AnalyticsService)

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.CachePinger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewActorMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ソース管理
		r.Route("/api/sources", func(r chi.Router) {
			r.Get("/", sourceHandler.ListSources)
			// POST /api/sources - ソース登録（書き込み用レート制限を追加）
			r.With(deps.RateLimiter.WriteMiddleware()).Post("/", sourceHandler.RegisterSource)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sourceHandler.GetSource)
				r.Put("/", sourceHandler.UpdateSource)
				r.Delete("/", sourceHandler.DeactivateSource)

				// コンプライアンス検証は外部サイトへのアクセスを伴う
				r.With(deps.RateLimiter.WriteMiddleware()).Post("/validate", sourceHandler.ValidateSource)
				r.Get("/audit", sourceHandler.GetAuditTrail)
			})
		})

		r.Get("/api/compliance/dashboard", sourceHandler.GetDashboard)

		// 記事
		r.Route("/api/articles", func(r chi.Router) {
			r.Get("/", articleHandler.ListArticles)
			r.Get("/{id}", articleHandler.GetArticle)
		})

		// 集計
		r.Get("/api/analytics/weekly", analyticsHandler.GetWeekly)
	})

	return r
}
