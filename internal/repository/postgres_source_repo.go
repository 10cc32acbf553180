package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/medpulse/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, name, base_url, feed_url, cms_type, language, country,
	crawl_delay_seconds, robots_txt_url, terms_of_service_url, legal_contact_email,
	fair_use_basis, compliance_score, validation_status, last_validation_at,
	is_active, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*model.Source, error) {
	src := &model.Source{}
	var feedURL, cmsType, country, robotsURL, tosURL, email sql.NullString
	var lastValidationAt sql.NullTime

	err := row.Scan(
		&src.ID, &src.Name, &src.BaseURL, &feedURL, &cmsType, &src.Language, &country,
		&src.CrawlDelaySeconds, &robotsURL, &tosURL, &email,
		&src.FairUseBasis, &src.ComplianceScore, &src.ValidationStatus, &lastValidationAt,
		&src.IsActive, &src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	src.FeedURL = nullStringValue(feedURL)
	src.CMSType = nullStringValue(cmsType)
	src.Country = nullStringValue(country)
	src.RobotsTxtURL = nullStringValue(robotsURL)
	src.TermsOfServiceURL = nullStringValue(tosURL)
	src.LegalContactEmail = nullStringValue(email)
	if lastValidationAt.Valid {
		src.LastValidationAt = &lastValidationAt.Time
	}
	return src, nil
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	src, err := scanSource(r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return src, nil
}

// FindByBaseURL はbase_urlでソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByBaseURL(ctx context.Context, baseURL string) (*model.Source, error) {
	src, err := scanSource(r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE base_url = $1`, baseURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("base_url によるソースの検索に失敗しました: %w", err)
	}
	return src, nil
}

// ListActive は有効なソースを名前順で返す。
func (r *PostgresSourceRepo) ListActive(ctx context.Context) ([]*model.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources WHERE is_active = TRUE ORDER BY name ASC`)
}

// ListFetchable は有効かつ validated のソースを返す。
func (r *PostgresSourceRepo) ListFetchable(ctx context.Context) ([]*model.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources
		WHERE is_active = TRUE AND validation_status = 'validated'
		ORDER BY last_validation_at ASC NULLS FIRST`)
}

func (r *PostgresSourceRepo) list(ctx context.Context, query string, args ...any) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソース一覧の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の読み取りに失敗しました: %w", err)
	}
	return sources, nil
}

// CreateWithAudit はソースと監査ログを同一トランザクションで作成する。
func (r *PostgresSourceRepo) CreateWithAudit(ctx context.Context, src *model.Source, entry *model.ComplianceAuditEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sources (id, name, base_url, feed_url, cms_type, language, country,
		        crawl_delay_seconds, robots_txt_url, terms_of_service_url, legal_contact_email,
		        fair_use_basis, compliance_score, validation_status, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		src.ID, src.Name, src.BaseURL, nullString(src.FeedURL), nullString(src.CMSType),
		src.Language, nullString(src.Country), src.CrawlDelaySeconds,
		nullString(src.RobotsTxtURL), nullString(src.TermsOfServiceURL), nullString(src.LegalContactEmail),
		src.FairUseBasis, src.ComplianceScore, src.ValidationStatus, src.IsActive,
		src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}

	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateWithAudit はソース設定を更新し、監査ログを追記する。
func (r *PostgresSourceRepo) UpdateWithAudit(ctx context.Context, src *model.Source, entry *model.ComplianceAuditEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE sources SET name = $2, base_url = $3, feed_url = $4, cms_type = $5, language = $6,
		        country = $7, crawl_delay_seconds = $8, robots_txt_url = $9, terms_of_service_url = $10,
		        legal_contact_email = $11, fair_use_basis = $12, validation_status = $13, updated_at = $14
		 WHERE id = $1`,
		src.ID, src.Name, src.BaseURL, nullString(src.FeedURL), nullString(src.CMSType), src.Language,
		nullString(src.Country), src.CrawlDelaySeconds, nullString(src.RobotsTxtURL),
		nullString(src.TermsOfServiceURL), nullString(src.LegalContactEmail), src.FairUseBasis,
		src.ValidationStatus, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	if err := requireOneRow(result, src.ID); err != nil {
		return err
	}

	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeactivateWithAudit はソースを無効化し、監査ログを追記する。
func (r *PostgresSourceRepo) DeactivateWithAudit(ctx context.Context, id string, entry *model.ComplianceAuditEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE sources SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate source: %w", err)
	}
	if err := requireOneRow(result, id); err != nil {
		return err
	}

	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateValidationWithAudit は検証結果を反映し、監査ログを追記する。
func (r *PostgresSourceRepo) UpdateValidationWithAudit(ctx context.Context, src *model.Source, entries []*model.ComplianceAuditEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE sources SET compliance_score = $2, validation_status = $3,
		        last_validation_at = $4, updated_at = $4
		 WHERE id = $1`,
		src.ID, src.ComplianceScore, src.ValidationStatus, src.LastValidationAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update validation: %w", err)
	}
	if err := requireOneRow(result, src.ID); err != nil {
		return err
	}

	for _, entry := range entries {
		if err := insertAuditEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkFetchFailedWithAudit はソースを failed にし、監査ログを追記する。
func (r *PostgresSourceRepo) MarkFetchFailedWithAudit(ctx context.Context, id string, entry *model.ComplianceAuditEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE sources SET validation_status = 'failed', updated_at = $2 WHERE id = $1`,
		id, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark source as failed: %w", err)
	}
	if err := requireOneRow(result, id); err != nil {
		return err
	}

	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Dashboard は有効なソースの検証状態別件数を返す。
func (r *PostgresSourceRepo) Dashboard(ctx context.Context) (*model.ComplianceDashboard, error) {
	d := &model.ComplianceDashboard{}
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE validation_status = 'validated'),
		        COUNT(*) FILTER (WHERE validation_status = 'pending'),
		        COUNT(*) FILTER (WHERE validation_status = 'failed')
		 FROM sources WHERE is_active = TRUE`,
	).Scan(&d.TotalSources, &d.CompliantSources, &d.PendingReview, &d.FailedValidation)
	if err != nil {
		return nil, fmt.Errorf("コンプライアンス集計の取得に失敗しました: %w", err)
	}
	return d, nil
}

func insertAuditEntry(ctx context.Context, tx *sql.Tx, entry *model.ComplianceAuditEntry) error {
	if entry == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO compliance_audit_log (id, source_id, action, details, score_before, score_after, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.SourceID, entry.Action, nullString(entry.Details),
		nullFloat(entry.ScoreBefore), nullFloat(entry.ScoreAfter), entry.Actor, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func requireOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrSourceNotFound, id)
	}
	return nil
}

// nullString は空文字列をNULLに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)
