package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresFailedURLRepo はPostgreSQLを使用した失敗URLリポジトリ。
type PostgresFailedURLRepo struct {
	db *sql.DB
}

// NewPostgresFailedURLRepo はPostgresFailedURLRepoを生成する。
func NewPostgresFailedURLRepo(db *sql.DB) *PostgresFailedURLRepo {
	return &PostgresFailedURLRepo{db: db}
}

// Record は失敗したURLを記録する。記録済みの場合は理由を更新し attempts を1増やす。
func (r *PostgresFailedURLRepo) Record(ctx context.Context, sourceID, url, reason string, statusCode int) error {
	status := sql.NullInt64{Int64: int64(statusCode), Valid: statusCode != 0}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO failed_urls (source_id, url, reason, status_code, attempts, failed_at)
		 VALUES ($1, $2, $3, $4, 1, NOW())
		 ON CONFLICT (source_id, url) DO UPDATE
		 SET reason = EXCLUDED.reason, status_code = EXCLUDED.status_code,
		     attempts = failed_urls.attempts + 1, failed_at = NOW()`,
		sourceID, url, reason, status,
	)
	if err != nil {
		return fmt.Errorf("失敗URLの記録に失敗しました: %w", err)
	}
	return nil
}

// ListBySource はソースの失敗URLを返す。
func (r *PostgresFailedURLRepo) ListBySource(ctx context.Context, sourceID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT url FROM failed_urls WHERE source_id = $1`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("失敗URLの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("失敗URLの読み取りに失敗しました: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("失敗URLの読み取りに失敗しました: %w", err)
	}
	return urls, nil
}

var _ FailedURLRepository = (*PostgresFailedURLRepo)(nil)
