// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordFetchSuccess(sourceID string)
	RecordFetchFailure(sourceID string, kind string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordArticlesIngested(count int)
	RecordDuplicateSkipped()
	RecordRateLimitWait(duration time.Duration)
	RecordClassification(outcome string)
	RecordComplianceValidation(status string)
	RecordAggregation(success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess      prometheus.Counter
	fetchFail         *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
	articlesIngested  prometheus.Counter
	duplicatesSkipped prometheus.Counter
	rateLimitWait     prometheus.Histogram
	classifications   *prometheus.CounterVec
	validations       *prometheus.CounterVec
	aggregations      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medpulse_fetch_success_total",
			Help: "ページフェッチ成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medpulse_fetch_fail_total",
			Help: "ページフェッチ失敗の合計数（transient/permanent別）",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medpulse_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medpulse_fetch_latency_seconds",
			Help:    "ページフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		articlesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medpulse_articles_ingested_total",
			Help: "新規登録された記事の合計数",
		}),
		duplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medpulse_duplicates_skipped_total",
			Help: "重複としてスキップされた記事の合計数",
		}),
		rateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medpulse_rate_limit_wait_seconds",
			Help:    "ドメイン単位のフェッチ許可待ち時間（秒）",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medpulse_classifications_total",
			Help: "記事解析の結果別件数",
		}, []string{"outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medpulse_compliance_validations_total",
			Help: "コンプライアンス検証の結果別件数",
		}, []string{"status"}),
		aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medpulse_aggregations_total",
			Help: "週次集計の実行回数（成功/失敗別）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.httpStatus,
		c.fetchLatency,
		c.articlesIngested,
		c.duplicatesSkipped,
		c.rateLimitWait,
		c.classifications,
		c.validations,
		c.aggregations,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(sourceID string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を分類別に記録する。
func (c *Collector) RecordFetchFailure(sourceID string, kind string) {
	c.fetchFail.WithLabelValues(kind).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordArticlesIngested は新規登録された記事数を記録する。
func (c *Collector) RecordArticlesIngested(count int) {
	c.articlesIngested.Add(float64(count))
}

// RecordDuplicateSkipped は重複スキップを記録する。
func (c *Collector) RecordDuplicateSkipped() {
	c.duplicatesSkipped.Inc()
}

// RecordRateLimitWait はフェッチ許可の待ち時間を記録する。
func (c *Collector) RecordRateLimitWait(duration time.Duration) {
	c.rateLimitWait.Observe(duration.Seconds())
}

// RecordClassification は記事解析の結果（completed/failed）を記録する。
func (c *Collector) RecordClassification(outcome string) {
	c.classifications.WithLabelValues(outcome).Inc()
}

// RecordComplianceValidation は検証結果の状態を記録する。
func (c *Collector) RecordComplianceValidation(status string) {
	c.validations.WithLabelValues(status).Inc()
}

// RecordAggregation は集計の成否を記録する。
func (c *Collector) RecordAggregation(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.aggregations.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var _ MetricsCollector = (*Collector)(nil)
