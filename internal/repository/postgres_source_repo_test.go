package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/medpulse/internal/model"
)

var sourceRowColumns = []string{
	"id", "name", "base_url", "feed_url", "cms_type", "language", "country",
	"crawl_delay_seconds", "robots_txt_url", "terms_of_service_url", "legal_contact_email",
	"fair_use_basis", "compliance_score", "validation_status", "last_validation_at",
	"is_active", "created_at", "updated_at",
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func testSource() *model.Source {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return &model.Source{
		ID:                "src-1",
		Name:              "Medical News",
		BaseURL:           "https://news.example.com/health",
		Language:          "en",
		Country:           "US",
		CrawlDelaySeconds: 2,
		FairUseBasis:      "news reporting",
		ValidationStatus:  model.ValidationStatusPending,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestPostgresSourceRepo_ImplementsInterface(t *testing.T) {
	var _ SourceRepository = (*PostgresSourceRepo)(nil)
}

func TestPostgresSourceRepo_CreateWithAudit_Commits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSourceRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sources").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO compliance_audit_log").
		WithArgs("audit-1", "src-1", model.AuditActionSourceRegistered, sqlmock.AnyArg(), nil, nil, "system", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry := &model.ComplianceAuditEntry{
		ID:        "audit-1",
		SourceID:  "src-1",
		Action:    model.AuditActionSourceRegistered,
		Details:   "registered",
		Actor:     "system",
		CreatedAt: time.Now(),
	}
	if err := repo.CreateWithAudit(context.Background(), testSource(), entry); err != nil {
		t.Fatalf("CreateWithAudit() error = %v", err)
	}
	expectationsMet(t, mock)
}

// 監査ログの挿入に失敗した場合はソースも作成されない（ロールバックされる）。
func TestPostgresSourceRepo_CreateWithAudit_RollsBackOnAuditFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSourceRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sources").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO compliance_audit_log").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	entry := &model.ComplianceAuditEntry{ID: "audit-1", SourceID: "src-1", Action: model.AuditActionSourceRegistered, Actor: "system"}
	if err := repo.CreateWithAudit(context.Background(), testSource(), entry); err == nil {
		t.Fatal("監査ログ挿入失敗時はエラーを返すべき")
	}
	expectationsMet(t, mock)
}

func TestPostgresSourceRepo_FindByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSourceRepo(db)

	mock.ExpectQuery("SELECT .+ FROM sources WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sourceRowColumns))

	src, err := repo.FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if src != nil {
		t.Errorf("存在しないIDではnilを返すべき: got %+v", src)
	}
	expectationsMet(t, mock)
}

func TestPostgresSourceRepo_FindByID_ScansNullableColumns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSourceRepo(db)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM sources WHERE id").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows(sourceRowColumns).AddRow(
			"src-1", "Medical News", "https://news.example.com", nil, nil, "en", nil,
			5, "https://news.example.com/robots.txt", nil, "legal@example.com",
			"news reporting", 0.55, "failed", now,
			true, now, now,
		))

	src, err := repo.FindByID(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if src.RobotsTxtURL != "https://news.example.com/robots.txt" {
		t.Errorf("RobotsTxtURL = %q", src.RobotsTxtURL)
	}
	if src.TermsOfServiceURL != "" || src.Country != "" {
		t.Errorf("NULL列は空文字列になるべき: tos=%q country=%q", src.TermsOfServiceURL, src.Country)
	}
	if src.ValidationStatus != model.ValidationStatusFailed {
		t.Errorf("ValidationStatus = %q, want failed", src.ValidationStatus)
	}
	if src.LastValidationAt == nil {
		t.Error("LastValidationAt が設定されていない")
	}
	expectationsMet(t, mock)
}

func TestPostgresSourceRepo_DeactivateWithAudit_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSourceRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sources SET is_active = FALSE").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.DeactivateWithAudit(context.Background(), "missing", &model.ComplianceAuditEntry{})
	if !errors.Is(err, model.ErrSourceNotFound) {
		t.Fatalf("ErrSourceNotFound を返すべき: got %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresSourceRepo_UpdateValidationWithAudit_WritesAllEntries(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSourceRepo(db)

	src := testSource()
	now := time.Now()
	src.ComplianceScore = 1.0
	src.ValidationStatus = model.ValidationStatusValidated
	src.LastValidationAt = &now

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sources SET compliance_score").
		WithArgs("src-1", 1.0, model.ValidationStatusValidated, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO compliance_audit_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO compliance_audit_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entries := []*model.ComplianceAuditEntry{
		{ID: "a1", SourceID: "src-1", Action: model.AuditActionValidationRun, Actor: "system", CreatedAt: now},
		{ID: "a2", SourceID: "src-1", Action: model.AuditActionScoreChanged, Actor: "system", CreatedAt: now},
	}
	if err := repo.UpdateValidationWithAudit(context.Background(), src, entries); err != nil {
		t.Fatalf("UpdateValidationWithAudit() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresSourceRepo_MarkFetchFailedWithAudit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSourceRepo(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sources SET validation_status = 'failed'").
		WithArgs("src-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO compliance_audit_log").
		WithArgs("a1", "src-1", model.AuditActionFetchFailed, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "fetcher", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry := &model.ComplianceAuditEntry{
		ID: "a1", SourceID: "src-1", Action: model.AuditActionFetchFailed,
		Details: "base page returned 403", Actor: "fetcher", CreatedAt: now,
	}
	if err := repo.MarkFetchFailedWithAudit(context.Background(), "src-1", entry); err != nil {
		t.Fatalf("MarkFetchFailedWithAudit() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresSourceRepo_MarkFetchFailedWithAudit_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSourceRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sources SET validation_status = 'failed'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	entry := &model.ComplianceAuditEntry{ID: "a1", SourceID: "missing", Action: model.AuditActionFetchFailed, CreatedAt: time.Now()}
	err := repo.MarkFetchFailedWithAudit(context.Background(), "missing", entry)
	if !errors.Is(err, model.ErrSourceNotFound) {
		t.Fatalf("ErrSourceNotFound を返すべき: got %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgresSourceRepo_Dashboard(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresSourceRepo(db)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"total", "validated", "pending", "failed"}).AddRow(10, 6, 3, 1))

	d, err := repo.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}
	want := model.ComplianceDashboard{TotalSources: 10, CompliantSources: 6, PendingReview: 3, FailedValidation: 1}
	if *d != want {
		t.Errorf("Dashboard() = %+v, want %+v", *d, want)
	}
	expectationsMet(t, mock)
}

func TestPostgresAuditRepo_ListBySource(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresAuditRepo(db)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM compliance_audit_log WHERE source_id").
		WithArgs("src-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_id", "action", "details", "score_before", "score_after", "actor", "created_at"}).
			AddRow("a1", "src-1", "source_registered", "registered", nil, nil, "system", now).
			AddRow("a2", "src-1", "score_changed", nil, 0.05, 1.0, "system", now))

	entries, err := repo.ListBySource(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("ListBySource() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].ScoreBefore != nil {
		t.Error("NULLのscore_beforeはnilであるべき")
	}
	if entries[1].ScoreBefore == nil || *entries[1].ScoreBefore != 0.05 || *entries[1].ScoreAfter != 1.0 {
		t.Errorf("スコア変化が正しく読み取られていない: %+v", entries[1])
	}
	expectationsMet(t, mock)
}
