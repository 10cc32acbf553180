// Package source はニュースソースの登録・更新・無効化を管理する。
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/medpulse/internal/model"
	"github.com/hitoshi/medpulse/internal/repository"
	"github.com/hitoshi/medpulse/internal/security"
)

// 既定値。
const (
	DefaultCrawlDelaySeconds = 2
	DefaultLanguage          = "en"
)

var supportedCMSTypes = map[string]bool{
	"":          true,
	"wordpress": true,
	"drupal":    true,
	"generic":   true,
}

// URLValidator はURLの安全性検証を行う。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Registry はソースの設定と検証状態を管理する。
// 作成・更新・無効化のたびに監査ログを同一トランザクションで追記する。
type Registry struct {
	repo          repository.SourceRepository
	guard         URLValidator
	minCrawlDelay int
	logger        *slog.Logger
}

// NewRegistry はRegistryを生成する。minCrawlDelayは2未満にできない。
func NewRegistry(repo repository.SourceRepository, guard URLValidator, minCrawlDelay int, logger *slog.Logger) *Registry {
	if minCrawlDelay < DefaultCrawlDelaySeconds {
		minCrawlDelay = DefaultCrawlDelaySeconds
	}
	return &Registry{repo: repo, guard: guard, minCrawlDelay: minCrawlDelay, logger: logger}
}

// Register はソースを登録する。base_url と fair_use_basis は必須。
// 登録直後の検証状態は pending。
func (r *Registry) Register(ctx context.Context, draft model.SourceDraft, actor string) (*model.Source, error) {
	d, err := r.normalize(draft)
	if err != nil {
		return nil, err
	}

	existing, err := r.repo.FindByBaseURL(ctx, d.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing source: %w", err)
	}
	if existing != nil {
		return nil, &model.ValidationError{Problems: []string{"base_url is already registered"}}
	}

	now := time.Now()
	src := &model.Source{
		ID:               uuid.New().String(),
		ValidationStatus: model.ValidationStatusPending,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	applyDraft(src, d)

	entry := newAuditEntry(src.ID, model.AuditActionSourceRegistered,
		fmt.Sprintf("registered %s (%s)", src.Name, src.BaseURL), actor, now)
	if err := r.repo.CreateWithAudit(ctx, src, entry); err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}

	r.logger.Info("ソースを登録しました",
		slog.String("source_id", src.ID),
		slog.String("base_url", src.BaseURL),
		slog.Int("crawl_delay_seconds", src.CrawlDelaySeconds),
	)
	return src, nil
}

// Get は指定IDのソースを返す。見つからない場合はnilを返す。
func (r *Registry) Get(ctx context.Context, id string) (*model.Source, error) {
	return r.repo.FindByID(ctx, id)
}

// ListActive は有効なソースを返す。
func (r *Registry) ListActive(ctx context.Context) ([]*model.Source, error) {
	return r.repo.ListActive(ctx)
}

// Update はソース設定を更新する。コンプライアンスの入力が変わるため検証状態は pending に戻す。
func (r *Registry) Update(ctx context.Context, id string, draft model.SourceDraft, actor string) (*model.Source, error) {
	src, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find source: %w", err)
	}
	if src == nil {
		return nil, model.ErrSourceNotFound
	}

	d, err := r.normalize(draft)
	if err != nil {
		return nil, err
	}
	if d.BaseURL != src.BaseURL {
		other, err := r.repo.FindByBaseURL(ctx, d.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing source: %w", err)
		}
		if other != nil && other.ID != id {
			return nil, &model.ValidationError{Problems: []string{"base_url is already registered"}}
		}
	}

	now := time.Now()
	applyDraft(src, d)
	src.ValidationStatus = model.ValidationStatusPending
	src.UpdatedAt = now

	entry := newAuditEntry(src.ID, model.AuditActionSourceUpdated,
		fmt.Sprintf("updated %s (%s); validation reset to pending", src.Name, src.BaseURL), actor, now)
	if err := r.repo.UpdateWithAudit(ctx, src, entry); err != nil {
		return nil, fmt.Errorf("failed to update source: %w", err)
	}

	r.logger.Info("ソースを更新しました", slog.String("source_id", src.ID))
	return src, nil
}

// Deactivate はソースを無効化する。監査履歴を保持するため物理削除は行わない。
func (r *Registry) Deactivate(ctx context.Context, id, actor string) error {
	entry := newAuditEntry(id, model.AuditActionSourceDeactivated, "source deactivated", actor, time.Now())
	if err := r.repo.DeactivateWithAudit(ctx, id, entry); err != nil {
		if errors.Is(err, model.ErrSourceNotFound) {
			return err
		}
		return fmt.Errorf("failed to deactivate source: %w", err)
	}

	r.logger.Info("ソースを無効化しました", slog.String("source_id", id))
	return nil
}

// MarkFetchFailed は恒久的に取得できないソースを failed にし、理由を監査ログに残す。
// 再び取得対象にするには設定を更新して再検証する。
func (r *Registry) MarkFetchFailed(ctx context.Context, id, reason, actor string) error {
	entry := newAuditEntry(id, model.AuditActionFetchFailed, reason, actor, time.Now())
	if err := r.repo.MarkFetchFailedWithAudit(ctx, id, entry); err != nil {
		if errors.Is(err, model.ErrSourceNotFound) {
			return err
		}
		return fmt.Errorf("failed to mark source as failed: %w", err)
	}

	r.logger.Warn("取得できないためソースを failed にしました",
		slog.String("source_id", id),
		slog.String("reason", reason),
	)
	return nil
}

// normalize は入力を検証し、既定値を補ったコピーを返す。
// 問題がある場合はすべての問題をまとめた ValidationError を返す。
func (r *Registry) normalize(draft model.SourceDraft) (model.SourceDraft, error) {
	d := model.SourceDraft{
		Name:              strings.TrimSpace(draft.Name),
		BaseURL:           strings.TrimSpace(draft.BaseURL),
		FeedURL:           strings.TrimSpace(draft.FeedURL),
		CMSType:           strings.ToLower(strings.TrimSpace(draft.CMSType)),
		Language:          strings.ToLower(strings.TrimSpace(draft.Language)),
		Country:           strings.ToUpper(strings.TrimSpace(draft.Country)),
		CrawlDelaySeconds: draft.CrawlDelaySeconds,
		RobotsTxtURL:      strings.TrimSpace(draft.RobotsTxtURL),
		TermsOfServiceURL: strings.TrimSpace(draft.TermsOfServiceURL),
		LegalContactEmail: strings.TrimSpace(draft.LegalContactEmail),
		FairUseBasis:      strings.TrimSpace(draft.FairUseBasis),
	}

	var problems []string
	if d.BaseURL == "" {
		problems = append(problems, "base_url is required")
	} else if err := r.checkURL(d.BaseURL); err != nil {
		problems = append(problems, fmt.Sprintf("base_url: %v", err))
	}
	if d.FairUseBasis == "" {
		problems = append(problems, "fair_use_basis is required")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"feed_url", d.FeedURL},
		{"robots_txt_url", d.RobotsTxtURL},
		{"terms_of_service_url", d.TermsOfServiceURL},
	} {
		if field.value == "" {
			continue
		}
		if err := r.checkURL(field.value); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", field.name, err))
		}
	}
	if !supportedCMSTypes[d.CMSType] {
		problems = append(problems, fmt.Sprintf("cms_type %q is not supported", d.CMSType))
	}
	if len(problems) > 0 {
		return d, &model.ValidationError{Problems: problems}
	}

	if d.CrawlDelaySeconds == 0 {
		d.CrawlDelaySeconds = DefaultCrawlDelaySeconds
	}
	if d.CrawlDelaySeconds < r.minCrawlDelay {
		d.CrawlDelaySeconds = r.minCrawlDelay
	}
	if d.Language == "" {
		d.Language = DefaultLanguage
	}
	if d.Name == "" {
		if u, err := url.Parse(d.BaseURL); err == nil {
			d.Name = u.Hostname()
		}
	}
	return d, nil
}

func (r *Registry) checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return security.ErrInvalidURL
	}
	if r.guard != nil {
		return r.guard.ValidateURL(rawURL)
	}
	return nil
}

func applyDraft(src *model.Source, d model.SourceDraft) {
	src.Name = d.Name
	src.BaseURL = d.BaseURL
	src.FeedURL = d.FeedURL
	src.CMSType = d.CMSType
	src.Language = d.Language
	src.Country = d.Country
	src.CrawlDelaySeconds = d.CrawlDelaySeconds
	src.RobotsTxtURL = d.RobotsTxtURL
	src.TermsOfServiceURL = d.TermsOfServiceURL
	src.LegalContactEmail = d.LegalContactEmail
	src.FairUseBasis = d.FairUseBasis
}

func newAuditEntry(sourceID string, action model.AuditAction, details, actor string, at time.Time) *model.ComplianceAuditEntry {
	if actor == "" {
		actor = "system"
	}
	return &model.ComplianceAuditEntry{
		ID:        uuid.New().String(),
		SourceID:  sourceID,
		Action:    action,
		Details:   details,
		Actor:     actor,
		CreatedAt: at,
	}
}
