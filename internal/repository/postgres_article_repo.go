package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/medpulse/internal/model"
)

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// psql は$1形式のプレースホルダを使うクエリビルダ。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var articleColumns = []string{
	"id", "source_id", "url", "title", "summary", "content", "published_at", "content_hash",
	"processing_status", "sentiment_score", "sentiment_label", "sentiment_confidence",
	"topic_category", "topic_confidence", "word_count", "error_message", "retry_count",
	"fetched_at", "processed_at", "created_at", "updated_at",
}

func articleColumnList(prefix string) string {
	list := ""
	for i, c := range articleColumns {
		if i > 0 {
			list += ", "
		}
		list += prefix + c
	}
	return list
}

// scanArticle は記事行を読み取る。extraには末尾に追加で選択した列の格納先を渡す。
func scanArticle(row rowScanner, extra ...any) (*model.Article, error) {
	a := &model.Article{}
	var summary, label, topic, errMsg sql.NullString
	var score, sentConf, topicConf sql.NullFloat64
	var publishedAt, processedAt sql.NullTime

	dest := []any{
		&a.ID, &a.SourceID, &a.URL, &a.Title, &summary, &a.Content, &publishedAt, &a.ContentHash,
		&a.ProcessingStatus, &score, &label, &sentConf,
		&topic, &topicConf, &a.WordCount, &errMsg, &a.RetryCount,
		&a.FetchedAt, &processedAt, &a.CreatedAt, &a.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	a.Summary = nullStringValue(summary)
	a.SentimentLabel = model.SentimentLabel(nullStringValue(label))
	a.TopicCategory = nullStringValue(topic)
	a.ErrorMessage = nullStringValue(errMsg)
	a.SentimentScore = score.Float64
	a.SentimentConfidence = sentConf.Float64
	a.TopicConfidence = topicConf.Float64
	if publishedAt.Valid {
		a.PublishedAt = &publishedAt.Time
	}
	if processedAt.Valid {
		a.ProcessedAt = &processedAt.Time
	}
	return a, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	var country sql.NullString
	a, err := scanArticle(r.db.QueryRowContext(ctx,
		`SELECT `+articleColumnList("a.")+`, s.country
		 FROM articles a JOIN sources s ON s.id = a.source_id
		 WHERE a.id = $1`, id), &country)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	a.Country = nullStringValue(country)
	return a, nil
}

// ExistsByHash はスコープ内に同一content_hashの記事が存在するかを返す。
func (r *PostgresArticleRepo) ExistsByHash(ctx context.Context, sourceID, contentHash string, scope model.DedupScope) (bool, error) {
	var exists bool
	var err error
	if scope == model.DedupScopeGlobal {
		err = r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM articles WHERE content_hash = $1)`, contentHash,
		).Scan(&exists)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM articles WHERE source_id = $1 AND content_hash = $2)`,
			sourceID, contentHash,
		).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("content_hash による重複確認に失敗しました: %w", err)
	}
	return exists, nil
}

const insertArticleSQL = `INSERT INTO articles (id, source_id, url, title, summary, content, published_at,
	        content_hash, processing_status, word_count, fetched_at, created_at, updated_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	 ON CONFLICT (source_id, content_hash) DO NOTHING
	 RETURNING id`

func insertArticleArgs(a *model.Article) []any {
	return []any{
		a.ID, a.SourceID, a.URL, a.Title, nullString(a.Summary), a.Content, a.PublishedAt,
		a.ContentHash, a.ProcessingStatus, a.WordCount, a.FetchedAt, a.CreatedAt, a.UpdatedAt,
	}
}

// InsertIfAbsent はスコープ内に同一content_hashの記事が無い場合のみ挿入する。
// ソース単位ではユニーク制約とON CONFLICTで判定と挿入を1文で行う。
// 全体スコープではハッシュ単位のアドバイザリロックを取ってから存在確認と挿入を行う。
func (r *PostgresArticleRepo) InsertIfAbsent(ctx context.Context, a *model.Article, scope model.DedupScope) (bool, error) {
	if scope != model.DedupScopeGlobal {
		var id string
		err := r.db.QueryRowContext(ctx, insertArticleSQL, insertArticleArgs(a)...).Scan(&id)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to insert article: %w", err)
		}
		return true, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a.ContentHash); err != nil {
		return false, fmt.Errorf("failed to acquire dedup lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM articles WHERE content_hash = $1)`, a.ContentHash,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	if exists {
		return false, nil
	}

	var id string
	err = tx.QueryRowContext(ctx, insertArticleSQL, insertArticleArgs(a)...).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert article: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// List は絞り込み条件に一致する記事を公開日時の降順で返す。
func (r *PostgresArticleRepo) List(ctx context.Context, filter model.ArticleFilter) ([]*model.Article, error) {
	query, args, err := buildListQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("記事一覧クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var articles []*model.Article
	for rows.Next() {
		var country sql.NullString
		a, err := scanArticle(rows, &country)
		if err != nil {
			return nil, fmt.Errorf("記事一覧の読み取りに失敗しました: %w", err)
		}
		a.Country = nullStringValue(country)
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の読み取りに失敗しました: %w", err)
	}
	return articles, nil
}

func buildListQuery(filter model.ArticleFilter) (string, []any, error) {
	b := psql.Select(articleColumnList("a."), "s.country").
		From("articles a").
		Join("sources s ON s.id = a.source_id").
		OrderBy("a.published_at DESC NULLS LAST", "a.created_at DESC")

	if filter.SourceID != "" {
		b = b.Where(sq.Eq{"a.source_id": filter.SourceID})
	}
	if filter.Status != "" {
		b = b.Where(sq.Eq{"a.processing_status": string(filter.Status)})
	}
	if filter.SentimentLabel != "" {
		b = b.Where(sq.Eq{"a.sentiment_label": string(filter.SentimentLabel)})
	}
	if filter.TopicCategory != "" {
		b = b.Where(sq.Eq{"a.topic_category": filter.TopicCategory})
	}
	if filter.Country != "" {
		b = b.Where(sq.Eq{"s.country": filter.Country})
	}
	if filter.From != nil {
		b = b.Where(sq.GtOrEq{"a.published_at": *filter.From})
	}
	if filter.To != nil {
		b = b.Where(sq.Lt{"a.published_at": *filter.To})
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		b = b.Offset(uint64(filter.Offset))
	}
	return b.ToSql()
}

// ClaimPending は pending の記事を最大limit件 processing に遷移させて返す。
func (r *PostgresArticleRepo) ClaimPending(ctx context.Context, limit int) ([]*model.Article, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE articles SET processing_status = 'processing', updated_at = NOW()
		 WHERE id IN (
		     SELECT id FROM articles
		     WHERE processing_status = 'pending'
		     ORDER BY created_at ASC
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+articleColumnList(""),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("解析対象記事の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var articles []*model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("解析対象記事の読み取りに失敗しました: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("解析対象記事の読み取りに失敗しました: %w", err)
	}
	return articles, nil
}

// MarkCompleted は processing の記事に解析結果を書き込み completed に遷移させる。
func (r *PostgresArticleRepo) MarkCompleted(ctx context.Context, a *model.Article) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET processing_status = 'completed',
		        sentiment_score = $2, sentiment_label = $3, sentiment_confidence = $4,
		        topic_category = $5, topic_confidence = $6, word_count = $7,
		        error_message = NULL, processed_at = $8, updated_at = $8
		 WHERE id = $1 AND processing_status = 'processing'`,
		a.ID, a.SentimentScore, string(a.SentimentLabel), a.SentimentConfidence,
		a.TopicCategory, a.TopicConfidence, a.WordCount, a.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("解析結果の保存に失敗しました: %w", err)
	}
	return requireTransition(result, a.ID)
}

// MarkFailed は processing の記事を failed に遷移させ、エラー内容を記録する。
// 停止による中断は解析の失敗ではないため retry_count を増やさない。
func (r *PostgresArticleRepo) MarkFailed(ctx context.Context, id, reason string) error {
	increment := 1
	if reason == model.ReasonInterrupted {
		increment = 0
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET processing_status = 'failed', error_message = $2,
		        retry_count = retry_count + $3, updated_at = NOW()
		 WHERE id = $1 AND processing_status = 'processing'`,
		id, reason, increment,
	)
	if err != nil {
		return fmt.Errorf("解析失敗の記録に失敗しました: %w", err)
	}
	return requireTransition(result, id)
}

// RequeueFailed は retry_count が maxRetries 未満の failed 記事を pending に戻す。
func (r *PostgresArticleRepo) RequeueFailed(ctx context.Context, maxRetries int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET processing_status = 'pending', updated_at = NOW()
		 WHERE processing_status = 'failed' AND retry_count < $1`,
		maxRetries,
	)
	if err != nil {
		return 0, fmt.Errorf("失敗記事の再キューに失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// FailStale は olderThan より長く processing のまま残った記事を failed にする。
func (r *PostgresArticleRepo) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET processing_status = 'failed', error_message = $2, updated_at = NOW()
		 WHERE processing_status = 'processing' AND updated_at < $1`,
		time.Now().Add(-olderThan), model.ReasonInterrupted,
	)
	if err != nil {
		return 0, fmt.Errorf("滞留記事の失敗処理に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

func requireTransition(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: article %s is not processing", model.ErrInvalidTransition, id)
	}
	return nil
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
