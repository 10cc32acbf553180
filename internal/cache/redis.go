// Package cache は週次集計結果のRedisキャッシュを提供する。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/medpulse/internal/model"
)

// キャッシュするディメンション。
const (
	DimensionSummary   = "summary"
	DimensionSentiment = "sentiment"
	DimensionTopic     = "topic"
	DimensionCountry   = "country"
)

var dimensions = []string{DimensionSummary, DimensionSentiment, DimensionTopic, DimensionCountry}

// pingTimeout は接続確認のタイムアウト。
const pingTimeout = 5 * time.Second

// NewClient はREDIS_URL形式の接続文字列からクライアントを生成し、疎通を確認する。
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Key は analytics:{dimension}:{window}:{hash} 形式のキーを返す。
// hash は期間とディメンションから決まる短いダイジェストで、読み出し側でも同じ値を計算できる。
func Key(dimension string, window model.Window) string {
	w := window.Key()
	sum := sha256.Sum256([]byte(dimension + "|" + w))
	return fmt.Sprintf("analytics:%s:%s:%s", dimension, w, hex.EncodeToString(sum[:6]))
}

type summary struct {
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	TotalArticles int       `json:"total_articles"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// RedisCache は週次集計をディメンションごとのキーに保存する。
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache はRedisCacheを生成する。
func NewRedisCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// PutWeekly は全ディメンションのキーを1つの MULTI/EXEC で書き込む。
// 読み出し側が新旧のディメンションを混在して観測することはない。
func (c *RedisCache) PutWeekly(ctx context.Context, wa *model.WeeklyAnalytics) error {
	window := model.Window{Start: wa.PeriodStart, End: wa.PeriodEnd}

	values := make(map[string][]byte, len(dimensions))
	var err error
	if values[DimensionSummary], err = json.Marshal(summary{
		PeriodStart:   wa.PeriodStart,
		PeriodEnd:     wa.PeriodEnd,
		TotalArticles: wa.TotalArticles,
		GeneratedAt:   wa.GeneratedAt,
	}); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if values[DimensionSentiment], err = marshalCounts(wa.BySentiment); err != nil {
		return err
	}
	if values[DimensionTopic], err = marshalCounts(wa.ByTopic); err != nil {
		return err
	}
	if values[DimensionCountry], err = marshalCounts(wa.ByCountry); err != nil {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, dim := range dimensions {
			pipe.Set(ctx, Key(dim, window), values[dim], c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("集計キャッシュの書き込みに失敗しました: %w", err)
	}

	c.logger.Debug("集計キャッシュを更新しました",
		slog.String("window", window.Key()),
		slog.Duration("ttl", c.ttl),
	)
	return nil
}

// GetWeekly はキャッシュから週次集計を組み立てる。
// いずれかのディメンションが欠けている場合はnilを返す。
func (c *RedisCache) GetWeekly(ctx context.Context, window model.Window) (*model.WeeklyAnalytics, error) {
	keys := make([]string, len(dimensions))
	for i, dim := range dimensions {
		keys[i] = Key(dim, window)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("集計キャッシュの読み出しに失敗しました: %w", err)
	}

	raw := make(map[string][]byte, len(dimensions))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, nil
		}
		raw[dimensions[i]] = []byte(s)
	}

	var sum summary
	if err := json.Unmarshal(raw[DimensionSummary], &sum); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	wa := &model.WeeklyAnalytics{
		PeriodStart:   sum.PeriodStart,
		PeriodEnd:     sum.PeriodEnd,
		TotalArticles: sum.TotalArticles,
		GeneratedAt:   sum.GeneratedAt,
	}
	if err := json.Unmarshal(raw[DimensionSentiment], &wa.BySentiment); err != nil {
		return nil, fmt.Errorf("failed to decode sentiment counts: %w", err)
	}
	if err := json.Unmarshal(raw[DimensionTopic], &wa.ByTopic); err != nil {
		return nil, fmt.Errorf("failed to decode topic counts: %w", err)
	}
	if err := json.Unmarshal(raw[DimensionCountry], &wa.ByCountry); err != nil {
		return nil, fmt.Errorf("failed to decode country counts: %w", err)
	}
	return wa, nil
}

// Ping はRedisの疎通を確認する。
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func marshalCounts(counts []model.DimensionCount) ([]byte, error) {
	if counts == nil {
		counts = []model.DimensionCount{}
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dimension counts: %w", err)
	}
	return b, nil
}
