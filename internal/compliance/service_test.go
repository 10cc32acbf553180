package compliance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hitoshi/medpulse/internal/model"
)

// --- Service テスト用モック ---

// mockSourceRepo はテスト用のSourceRepositoryモック。
type mockSourceRepo struct {
	sources    map[string]*model.Source
	audit      []*model.ComplianceAuditEntry
	updateErr  error
	listErr    error
	dashboard  *model.ComplianceDashboard
	validCalls int
}

func newMockSourceRepo(sources ...*model.Source) *mockSourceRepo {
	m := &mockSourceRepo{sources: make(map[string]*model.Source)}
	for _, s := range sources {
		m.sources[s.ID] = s
	}
	return m
}

func (m *mockSourceRepo) FindByID(_ context.Context, id string) (*model.Source, error) {
	s, ok := m.sources[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *mockSourceRepo) FindByBaseURL(_ context.Context, _ string) (*model.Source, error) {
	return nil, nil
}

func (m *mockSourceRepo) ListActive(_ context.Context) ([]*model.Source, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var list []*model.Source
	for _, s := range m.sources {
		if s.IsActive {
			list = append(list, s)
		}
	}
	return list, nil
}

func (m *mockSourceRepo) ListFetchable(_ context.Context) ([]*model.Source, error) {
	return nil, nil
}

func (m *mockSourceRepo) CreateWithAudit(_ context.Context, _ *model.Source, _ *model.ComplianceAuditEntry) error {
	return nil
}

func (m *mockSourceRepo) UpdateWithAudit(_ context.Context, _ *model.Source, _ *model.ComplianceAuditEntry) error {
	return nil
}

func (m *mockSourceRepo) DeactivateWithAudit(_ context.Context, _ string, _ *model.ComplianceAuditEntry) error {
	return nil
}

func (m *mockSourceRepo) UpdateValidationWithAudit(_ context.Context, src *model.Source, entries []*model.ComplianceAuditEntry) error {
	m.validCalls++
	if m.updateErr != nil {
		return m.updateErr
	}
	copied := *src
	m.sources[src.ID] = &copied
	m.audit = append(m.audit, entries...)
	return nil
}

func (m *mockSourceRepo) MarkFetchFailedWithAudit(_ context.Context, _ string, _ *model.ComplianceAuditEntry) error {
	return nil
}

func (m *mockSourceRepo) Dashboard(_ context.Context) (*model.ComplianceDashboard, error) {
	return m.dashboard, nil
}

// mockAuditRepo はテスト用のAuditRepositoryモック。
type mockAuditRepo struct {
	source *mockSourceRepo
}

func (m *mockAuditRepo) ListBySource(_ context.Context, sourceID string) ([]*model.ComplianceAuditEntry, error) {
	var entries []*model.ComplianceAuditEntry
	for _, e := range m.source.audit {
		if e.SourceID == sourceID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// mockRecorder はテスト用のRecorderモック。
type mockRecorder struct {
	statuses []string
}

func (m *mockRecorder) RecordComplianceValidation(status string) {
	m.statuses = append(m.statuses, status)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestService(repo *mockSourceRepo, robots RobotsVerifier, rec Recorder) *Service {
	return NewService(repo, &mockAuditRepo{source: repo}, newTestValidator(robots), rec, newTestLogger())
}

func TestService_ValidateSource_PersistsValidatedResult(t *testing.T) {
	src := fullyDocumentedSource()
	src.IsActive = true
	src.ValidationStatus = model.ValidationStatusPending
	repo := newMockSourceRepo(src)
	rec := &mockRecorder{}
	svc := newTestService(repo, allowAll(), rec)

	result, err := svc.ValidateSource(context.Background(), "src-1", "api")
	if err != nil {
		t.Fatalf("ValidateSource() error = %v", err)
	}
	if result.Status != model.ValidationStatusValidated {
		t.Errorf("Status = %q, want validated", result.Status)
	}

	saved := repo.sources["src-1"]
	if saved.ValidationStatus != model.ValidationStatusValidated || saved.ComplianceScore != 1.0 {
		t.Errorf("保存された状態 = %q/%v", saved.ValidationStatus, saved.ComplianceScore)
	}
	if saved.LastValidationAt == nil {
		t.Error("LastValidationAt が設定されていない")
	}

	// スコアが0から1.0に変化したため validation_run と score_changed の2件
	if len(repo.audit) != 2 {
		t.Fatalf("監査ログ件数 = %d, want 2", len(repo.audit))
	}
	if repo.audit[0].Action != model.AuditActionValidationRun || repo.audit[1].Action != model.AuditActionScoreChanged {
		t.Errorf("監査ログのアクション = %s, %s", repo.audit[0].Action, repo.audit[1].Action)
	}
	if repo.audit[0].Actor != "api" {
		t.Errorf("Actor = %q, want api", repo.audit[0].Actor)
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != "validated" {
		t.Errorf("recorded statuses = %v", rec.statuses)
	}
}

// 入力が変わらなければ再検証しても同じスコアと状態になり、score_changed は記録されない。
func TestService_ValidateSource_IsIdempotent(t *testing.T) {
	src := fullyDocumentedSource()
	repo := newMockSourceRepo(src)
	svc := newTestService(repo, allowAll(), nil)

	first, err := svc.ValidateSource(context.Background(), "src-1", "system")
	if err != nil {
		t.Fatalf("first ValidateSource() error = %v", err)
	}
	auditAfterFirst := len(repo.audit)

	second, err := svc.ValidateSource(context.Background(), "src-1", "system")
	if err != nil {
		t.Fatalf("second ValidateSource() error = %v", err)
	}
	if first.Score != second.Score || first.Status != second.Status {
		t.Errorf("再検証で結果が変わった: %v/%s -> %v/%s", first.Score, first.Status, second.Score, second.Status)
	}
	if got := len(repo.audit) - auditAfterFirst; got != 1 {
		t.Errorf("2回目の監査ログ件数 = %d, want 1 (validation_run のみ)", got)
	}
}

func TestService_ValidateSource_ReturnsComplianceError(t *testing.T) {
	repo := newMockSourceRepo(&model.Source{ID: "src-1", BaseURL: "https://news.example.com", CrawlDelaySeconds: 2})
	svc := newTestService(repo, allowAll(), nil)

	result, err := svc.ValidateSource(context.Background(), "src-1", "system")

	var complianceErr *model.ComplianceError
	if !errors.As(err, &complianceErr) {
		t.Fatalf("ComplianceError を返すべき: got %v", err)
	}
	if len(complianceErr.Violations) != 4 || len(complianceErr.Recommendations) == 0 {
		t.Errorf("違反と推奨事項が伝わっていない: %+v", complianceErr)
	}
	if result == nil || result.Score != 0.05 {
		t.Errorf("結果も返すべき: %+v", result)
	}
	if repo.sources["src-1"].ValidationStatus != model.ValidationStatusFailed {
		t.Errorf("不合格の状態が保存されていない: %q", repo.sources["src-1"].ValidationStatus)
	}
}

func TestService_ValidateSource_NotFound(t *testing.T) {
	svc := newTestService(newMockSourceRepo(), allowAll(), nil)

	if _, err := svc.ValidateSource(context.Background(), "missing", "system"); !errors.Is(err, model.ErrSourceNotFound) {
		t.Fatalf("ErrSourceNotFound を返すべき: got %v", err)
	}
}

// 保存に失敗した場合は不合格扱いにせずエラーを返す。
func TestService_ValidateSource_SaveFailure(t *testing.T) {
	repo := newMockSourceRepo(fullyDocumentedSource())
	repo.updateErr = errors.New("connection refused")
	svc := newTestService(repo, allowAll(), nil)

	result, err := svc.ValidateSource(context.Background(), "src-1", "system")
	if err == nil {
		t.Fatal("保存失敗時はエラーを返すべき")
	}
	if result != nil {
		t.Error("保存に失敗した結果を返してはならない")
	}
}

func TestService_RevalidateAll_CountsOutcomes(t *testing.T) {
	good := fullyDocumentedSource()
	good.IsActive = true
	bad := &model.Source{ID: "src-2", BaseURL: "https://other.example.com", CrawlDelaySeconds: 2, IsActive: true}
	inactive := fullyDocumentedSource()
	inactive.ID = "src-3"
	repo := newMockSourceRepo(good, bad, inactive)
	svc := newTestService(repo, allowAll(), nil)

	summary, err := svc.RevalidateAll(context.Background())
	if err != nil {
		t.Fatalf("RevalidateAll() error = %v", err)
	}
	want := RevalidationSummary{Total: 2, Validated: 1, Failed: 1}
	if *summary != want {
		t.Errorf("summary = %+v, want %+v", *summary, want)
	}
	if repo.validCalls != 2 {
		t.Errorf("検証回数 = %d, want 2（無効なソースは対象外）", repo.validCalls)
	}
}

func TestService_RevalidateAll_ListError(t *testing.T) {
	repo := newMockSourceRepo()
	repo.listErr = errors.New("db down")
	svc := newTestService(repo, allowAll(), nil)

	if _, err := svc.RevalidateAll(context.Background()); err == nil {
		t.Fatal("一覧取得失敗時はエラーを返すべき")
	}
}

func TestService_AuditTrail(t *testing.T) {
	repo := newMockSourceRepo(fullyDocumentedSource())
	svc := newTestService(repo, allowAll(), nil)

	if _, err := svc.ValidateSource(context.Background(), "src-1", "system"); err != nil {
		t.Fatalf("ValidateSource() error = %v", err)
	}
	entries, err := svc.AuditTrail(context.Background(), "src-1")
	if err != nil {
		t.Fatalf("AuditTrail() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("len(entries) = %d, want 2", len(entries))
	}

	if _, err := svc.AuditTrail(context.Background(), "missing"); !errors.Is(err, model.ErrSourceNotFound) {
		t.Errorf("ErrSourceNotFound を返すべき: got %v", err)
	}
}

func TestService_Dashboard(t *testing.T) {
	repo := newMockSourceRepo()
	repo.dashboard = &model.ComplianceDashboard{TotalSources: 3, CompliantSources: 1, PendingReview: 1, FailedValidation: 1}
	svc := newTestService(repo, allowAll(), nil)

	d, err := svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}
	if *d != *repo.dashboard {
		t.Errorf("Dashboard() = %+v", *d)
	}
}
