package model

import "time"

// Window は集計対象期間 [Start, End) を表す。
type Window struct {
	Start time.Time
	End   time.Time
}

// Key はキャッシュキーに用いる期間の文字列表現を返す。
func (w Window) Key() string {
	return w.Start.UTC().Format("2006-01-02") + "_" + w.End.UTC().Format("2006-01-02")
}

// WeeklyAnalytics は期間内の完了済み記事をディメンションごとに集計した結果。
// 記事データから再計算可能なキャッシュとして扱う。
type WeeklyAnalytics struct {
	PeriodStart   time.Time        `json:"period_start"`
	PeriodEnd     time.Time        `json:"period_end"`
	TotalArticles int              `json:"total_articles"`
	BySentiment   []DimensionCount `json:"by_sentiment"`
	ByTopic       []DimensionCount `json:"by_topic"`
	ByCountry     []DimensionCount `json:"by_country"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// DimensionCount はディメンション値ごとの件数と構成比を表す。
type DimensionCount struct {
	Value      string  `json:"value"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// AnalyticsRow は集計スナップショットの1行（ラベル・トピック・国の組み合わせごとの件数）。
type AnalyticsRow struct {
	SentimentLabel string
	TopicCategory  string
	Country        string
	Count          int
}
