// Package analytics は完了済み記事の週次集計を提供する。
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/hitoshi/medpulse/internal/metrics"
	"github.com/hitoshi/medpulse/internal/model"
)

// Store は集計スナップショットの取得と集計結果の永続化を行う。
type Store interface {
	Snapshot(ctx context.Context, window model.Window) ([]model.AnalyticsRow, error)
	Upsert(ctx context.Context, analytics *model.WeeklyAnalytics) error
	Find(ctx context.Context, window model.Window) (*model.WeeklyAnalytics, error)
}

// Cache は集計結果のキャッシュ。
type Cache interface {
	PutWeekly(ctx context.Context, analytics *model.WeeklyAnalytics) error
	GetWeekly(ctx context.Context, window model.Window) (*model.WeeklyAnalytics, error)
}

var errEmptyWindow = errors.New("window end must be after start")

// Aggregator は記事を集計し、キャッシュとテーブルに書き込む。
// 記事行は読み取るのみで変更しない。
type Aggregator struct {
	store   Store
	cache   Cache
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewAggregator はAggregatorを生成する。
func NewAggregator(store Store, cache Cache, m metrics.MetricsCollector, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:   store,
		cache:   cache,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Aggregate は期間内の完了済み記事を集計する。
// weekly_analytics を更新したあとキャッシュを全ディメンション一括で置き換える。
// 失敗時は AggregationError を返し、前回のキャッシュはそのまま残る。
func (a *Aggregator) Aggregate(ctx context.Context, window model.Window) (*model.WeeklyAnalytics, error) {
	start := time.Now()

	wa, err := a.aggregate(ctx, window)
	if err != nil {
		a.metrics.RecordAggregation(false)
		a.logger.Error("週次集計に失敗しました",
			slog.String("window", window.Key()),
			slog.String("error", err.Error()),
		)
		return nil, &model.AggregationError{Window: window, Err: err}
	}

	a.metrics.RecordAggregation(true)
	a.logger.Info("週次集計が完了しました",
		slog.String("window", window.Key()),
		slog.Int("total_articles", wa.TotalArticles),
		slog.Duration("duration", time.Since(start)),
	)
	return wa, nil
}

func (a *Aggregator) aggregate(ctx context.Context, window model.Window) (*model.WeeklyAnalytics, error) {
	if !window.End.After(window.Start) {
		return nil, errEmptyWindow
	}

	rows, err := a.store.Snapshot(ctx, window)
	if err != nil {
		return nil, err
	}

	wa := Build(window, rows, a.now().UTC())

	// テーブルの更新に成功した集計だけをキャッシュに載せる
	if err := a.store.Upsert(ctx, wa); err != nil {
		return nil, err
	}
	if err := a.cache.PutWeekly(ctx, wa); err != nil {
		return nil, err
	}
	return wa, nil
}

// Get は期間の集計結果を返す。
// キャッシュ、weekly_analytics の順に参照し、どちらにも無ければその場で集計する。
func (a *Aggregator) Get(ctx context.Context, window model.Window) (*model.WeeklyAnalytics, error) {
	wa, err := a.cache.GetWeekly(ctx, window)
	if err != nil {
		a.logger.Warn("集計キャッシュの読み出しに失敗しました",
			slog.String("window", window.Key()),
			slog.String("error", err.Error()),
		)
	}
	if wa != nil {
		return wa, nil
	}

	wa, err = a.store.Find(ctx, window)
	if err != nil {
		return nil, err
	}
	if wa != nil {
		if err := a.cache.PutWeekly(ctx, wa); err != nil {
			a.logger.Warn("集計キャッシュの再投入に失敗しました",
				slog.String("window", window.Key()),
				slog.String("error", err.Error()),
			)
		}
		return wa, nil
	}

	return a.Aggregate(ctx, window)
}

// Build はスナップショット行から集計結果を組み立てる。
// 各ディメンションは件数の降順、同数の場合は値の昇順に並べる。
func Build(window model.Window, rows []model.AnalyticsRow, generatedAt time.Time) *model.WeeklyAnalytics {
	sentiment := make(map[string]int)
	topic := make(map[string]int)
	country := make(map[string]int)
	total := 0

	for _, r := range rows {
		if r.Count <= 0 {
			continue
		}
		total += r.Count
		sentiment[r.SentimentLabel] += r.Count
		topic[r.TopicCategory] += r.Count
		country[r.Country] += r.Count
	}

	return &model.WeeklyAnalytics{
		PeriodStart:   window.Start,
		PeriodEnd:     window.End,
		TotalArticles: total,
		BySentiment:   toCounts(sentiment, total),
		ByTopic:       toCounts(topic, total),
		ByCountry:     toCounts(country, total),
		GeneratedAt:   generatedAt,
	}
}

func toCounts(m map[string]int, total int) []model.DimensionCount {
	counts := make([]model.DimensionCount, 0, len(m))
	for value, n := range m {
		counts = append(counts, model.DimensionCount{
			Value:      value,
			Count:      n,
			Percentage: percentage(n, total),
		})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Value < counts[j].Value
	})
	return counts
}

// percentage は小数第2位に丸めた構成比を返す。
func percentage(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)*10000/float64(total)) / 100
}

// WeekWindow は t を含むISO週（月曜 00:00 UTC から翌週月曜まで）を返す。
func WeekWindow(t time.Time) model.Window {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
	return model.Window{Start: start, End: start.AddDate(0, 0, 7)}
}

// ParseWeek は YYYY-MM-DD 形式の日付を含む週を返す。
func ParseWeek(date string) (model.Window, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return model.Window{}, err
	}
	return WeekWindow(t), nil
}
