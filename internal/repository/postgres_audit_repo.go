package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/medpulse/internal/model"
)

// PostgresAuditRepo はPostgreSQLを使用した監査ログリポジトリ。
type PostgresAuditRepo struct {
	db *sql.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sql.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// ListBySource はソースの監査ログを古い順に返す。
func (r *PostgresAuditRepo) ListBySource(ctx context.Context, sourceID string) ([]*model.ComplianceAuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_id, action, details, score_before, score_after, actor, created_at
		 FROM compliance_audit_log WHERE source_id = $1
		 ORDER BY created_at ASC`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("監査ログの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []*model.ComplianceAuditEntry
	for rows.Next() {
		e := &model.ComplianceAuditEntry{}
		var details sql.NullString
		var before, after sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Action, &details, &before, &after, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("監査ログの読み取りに失敗しました: %w", err)
		}
		e.Details = nullStringValue(details)
		if before.Valid {
			v := before.Float64
			e.ScoreBefore = &v
		}
		if after.Valid {
			v := after.Float64
			e.ScoreAfter = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監査ログの読み取りに失敗しました: %w", err)
	}
	return entries, nil
}

var _ AuditRepository = (*PostgresAuditRepo)(nil)
