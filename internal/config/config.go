package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Cache
	RedisURL string

	// Server
	ServerPort        string
	MetricsPort       string
	CORSAllowedOrigin string
	RateLimitAPI      int

	// Logging
	LogLevel slog.Level

	// Fetch
	UserAgent                 string
	FetchTimeout              time.Duration
	FetchMaxSize              int64
	FetchWorkers              int
	FetchQueueSize            int
	FetchInterval             time.Duration
	FetchMaxArticlesPerSource int
	RetryMaxAttempts          int
	RetryBaseDelay            time.Duration
	RetryMultiplier           float64
	RetryMaxDelay             time.Duration
	DomainConcurrency         int

	// Compliance
	MinCrawlDelaySeconds          int
	ComplianceAcceptanceThreshold float64
	ComplianceRevalidationCron    string
	RobotsCacheTTL                time.Duration
	SourcesFile                   string

	// Dedup
	DedupScope string

	// NLP
	NLPWorkers         int
	NLPBatchSize       int
	NLPTimeout         time.Duration
	NLPInterval        time.Duration
	NLPMaxRetries      int
	TopicMinConfidence float64

	// Analytics
	AnalyticsInterval      time.Duration
	AnalyticsCacheTTL      time.Duration
	AnalyticsRetentionDays int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitAPI = getEnvInt("RATE_LIMIT_API", 120)
	cfg.LogLevel = parseLogLevel(getEnvString("LOG_LEVEL", "info"))

	cfg.UserAgent = getEnvString("USER_AGENT", "MedPulseBot/1.0 (+https://medpulse.example.com/bot)")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 15*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchWorkers = getEnvInt("FETCH_WORKERS", 8)
	cfg.FetchQueueSize = getEnvInt("FETCH_QUEUE_SIZE", 64)
	cfg.FetchInterval = getEnvDuration("FETCH_INTERVAL", 30*time.Minute)
	cfg.FetchMaxArticlesPerSource = getEnvInt("FETCH_MAX_ARTICLES_PER_SOURCE", 50)
	cfg.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", 3)
	cfg.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", 2*time.Second)
	cfg.RetryMultiplier = getEnvFloat("RETRY_MULTIPLIER", 2.0)
	cfg.RetryMaxDelay = getEnvDuration("RETRY_MAX_DELAY", 60*time.Second)
	cfg.DomainConcurrency = getEnvInt("DOMAIN_CONCURRENCY", 1)

	cfg.MinCrawlDelaySeconds = getEnvInt("MIN_CRAWL_DELAY_SECONDS", 2)
	if cfg.MinCrawlDelaySeconds < 2 {
		cfg.MinCrawlDelaySeconds = 2
	}
	cfg.ComplianceAcceptanceThreshold = getEnvFloat("COMPLIANCE_ACCEPTANCE_THRESHOLD", 0.8)
	cfg.ComplianceRevalidationCron = getEnvString("COMPLIANCE_REVALIDATION_CRON", "0 3 1 * *")
	cfg.RobotsCacheTTL = getEnvDuration("ROBOTS_CACHE_TTL", 24*time.Hour)
	cfg.SourcesFile = getEnvString("SOURCES_FILE", "")

	cfg.DedupScope = getEnvString("DEDUP_SCOPE", "source")
	if cfg.DedupScope != "source" && cfg.DedupScope != "global" {
		return nil, fmt.Errorf("invalid DEDUP_SCOPE: %q (must be source or global)", cfg.DedupScope)
	}

	cfg.NLPWorkers = getEnvInt("NLP_WORKERS", 4)
	cfg.NLPBatchSize = getEnvInt("NLP_BATCH_SIZE", 25)
	cfg.NLPTimeout = getEnvDuration("NLP_TIMEOUT", 5*time.Second)
	cfg.NLPInterval = getEnvDuration("NLP_INTERVAL", time.Minute)
	cfg.NLPMaxRetries = getEnvInt("NLP_MAX_RETRIES", 3)
	cfg.TopicMinConfidence = getEnvFloat("TOPIC_MIN_CONFIDENCE", 0.2)

	cfg.AnalyticsInterval = getEnvDuration("ANALYTICS_INTERVAL", 24*time.Hour)
	cfg.AnalyticsCacheTTL = getEnvDuration("ANALYTICS_CACHE_TTL", 48*time.Hour)
	cfg.AnalyticsRetentionDays = getEnvInt("ANALYTICS_RETENTION_DAYS", 365)

	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
