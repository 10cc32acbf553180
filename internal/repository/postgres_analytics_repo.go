package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/medpulse/internal/model"
)

// PostgresAnalyticsRepo はPostgreSQLを使用した週次集計リポジトリ。
type PostgresAnalyticsRepo struct {
	db *sql.DB
}

// NewPostgresAnalyticsRepo はPostgresAnalyticsRepoを生成する。
func NewPostgresAnalyticsRepo(db *sql.DB) *PostgresAnalyticsRepo {
	return &PostgresAnalyticsRepo{db: db}
}

// Snapshot は期間内の completed 記事を組み合わせごとに数える。
// REPEATABLE READ の読み取り専用トランザクションで実行する。
func (r *PostgresAnalyticsRepo) Snapshot(ctx context.Context, window model.Window) ([]model.AnalyticsRow, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT COALESCE(a.sentiment_label, 'neutral'),
		        COALESCE(a.topic_category, 'general'),
		        COALESCE(NULLIF(s.country, ''), 'unknown'),
		        COUNT(*)
		 FROM articles a
		 JOIN sources s ON s.id = a.source_id
		 WHERE a.processing_status = 'completed'
		   AND a.published_at >= $1 AND a.published_at < $2
		 GROUP BY 1, 2, 3`,
		window.Start, window.End,
	)
	if err != nil {
		return nil, fmt.Errorf("集計スナップショットの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []model.AnalyticsRow
	for rows.Next() {
		var row model.AnalyticsRow
		if err := rows.Scan(&row.SentimentLabel, &row.TopicCategory, &row.Country, &row.Count); err != nil {
			return nil, fmt.Errorf("集計スナップショットの読み取りに失敗しました: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("集計スナップショットの読み取りに失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot transaction: %w", err)
	}
	return result, nil
}

// Upsert は集計結果を期間単位で丸ごと置き換える。
func (r *PostgresAnalyticsRepo) Upsert(ctx context.Context, wa *model.WeeklyAnalytics) error {
	bySentiment, err := json.Marshal(wa.BySentiment)
	if err != nil {
		return fmt.Errorf("failed to encode sentiment counts: %w", err)
	}
	byTopic, err := json.Marshal(wa.ByTopic)
	if err != nil {
		return fmt.Errorf("failed to encode topic counts: %w", err)
	}
	byCountry, err := json.Marshal(wa.ByCountry)
	if err != nil {
		return fmt.Errorf("failed to encode country counts: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO weekly_analytics (period_start, period_end, total_articles, by_sentiment, by_topic, by_country, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (period_start, period_end) DO UPDATE SET
		     total_articles = EXCLUDED.total_articles,
		     by_sentiment = EXCLUDED.by_sentiment,
		     by_topic = EXCLUDED.by_topic,
		     by_country = EXCLUDED.by_country,
		     generated_at = EXCLUDED.generated_at`,
		wa.PeriodStart, wa.PeriodEnd, wa.TotalArticles,
		string(bySentiment), string(byTopic), string(byCountry), wa.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("週次集計の保存に失敗しました: %w", err)
	}
	return nil
}

// Find は期間の集計結果を取得する。見つからない場合はnilを返す。
func (r *PostgresAnalyticsRepo) Find(ctx context.Context, window model.Window) (*model.WeeklyAnalytics, error) {
	wa := &model.WeeklyAnalytics{}
	var bySentiment, byTopic, byCountry []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT period_start, period_end, total_articles, by_sentiment, by_topic, by_country, generated_at
		 FROM weekly_analytics WHERE period_start = $1 AND period_end = $2`,
		window.Start, window.End,
	).Scan(&wa.PeriodStart, &wa.PeriodEnd, &wa.TotalArticles, &bySentiment, &byTopic, &byCountry, &wa.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("週次集計の取得に失敗しました: %w", err)
	}

	if err := json.Unmarshal(bySentiment, &wa.BySentiment); err != nil {
		return nil, fmt.Errorf("failed to decode sentiment counts: %w", err)
	}
	if err := json.Unmarshal(byTopic, &wa.ByTopic); err != nil {
		return nil, fmt.Errorf("failed to decode topic counts: %w", err)
	}
	if err := json.Unmarshal(byCountry, &wa.ByCountry); err != nil {
		return nil, fmt.Errorf("failed to decode country counts: %w", err)
	}
	return wa, nil
}

// DeleteOlderThan は period_end が cutoff より前の集計結果を削除する。
func (r *PostgresAnalyticsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM weekly_analytics WHERE period_end < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("古い週次集計の削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

var _ AnalyticsRepository = (*PostgresAnalyticsRepo)(nil)
