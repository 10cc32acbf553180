package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/medpulse/internal/middleware"
	"github.com/hitoshi/medpulse/internal/model"
)

// maxSourceBodySize はソース登録・更新リクエストのボディ上限。
const maxSourceBodySize = 64 << 10

// SourceServiceInterface はソースハンドラーが必要とするサービスインターフェース。
type SourceServiceInterface interface {
	Register(ctx context.Context, draft model.SourceDraft, actor string) (*model.Source, error)
	Get(ctx context.Context, id string) (*model.Source, error)
	ListActive(ctx context.Context) ([]*model.Source, error)
	Update(ctx context.Context, id string, draft model.SourceDraft, actor string) (*model.Source, error)
	Deactivate(ctx context.Context, id, actor string) error
}

// ComplianceServiceInterface はコンプライアンス検証サービスのインターフェース。
type ComplianceServiceInterface interface {
	ValidateSource(ctx context.Context, id, actor string) (*model.ComplianceResult, error)
	Dashboard(ctx context.Context) (*model.ComplianceDashboard, error)
	AuditTrail(ctx context.Context, sourceID string) ([]*model.ComplianceAuditEntry, error)
}

// SourceHandler はソース管理とコンプライアンス検証のHTTPハンドラー。
type SourceHandler struct {
	sources    SourceServiceInterface
	compliance ComplianceServiceInterface
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(sources SourceServiceInterface, compliance ComplianceServiceInterface) *SourceHandler {
	return &SourceHandler{sources: sources, compliance: compliance}
}

// --- リクエスト・レスポンス型 ---

// sourceRequest はソース登録・更新リクエストのボディ。
type sourceRequest struct {
	Name              string `json:"name"`
	BaseURL           string `json:"base_url"`
	FeedURL           string `json:"feed_url"`
	CMSType           string `json:"cms_type"`
	Language          string `json:"language"`
	Country           string `json:"country"`
	CrawlDelaySeconds int    `json:"crawl_delay_seconds"`
	RobotsTxtURL      string `json:"robots_txt_url"`
	TermsOfServiceURL string `json:"terms_of_service_url"`
	LegalContactEmail string `json:"legal_contact_email"`
	FairUseBasis      string `json:"fair_use_basis"`
}

func (r sourceRequest) draft() model.SourceDraft {
	return model.SourceDraft{
		Name:              r.Name,
		BaseURL:           r.BaseURL,
		FeedURL:           r.FeedURL,
		CMSType:           r.CMSType,
		Language:          r.Language,
		Country:           r.Country,
		CrawlDelaySeconds: r.CrawlDelaySeconds,
		RobotsTxtURL:      r.RobotsTxtURL,
		TermsOfServiceURL: r.TermsOfServiceURL,
		LegalContactEmail: r.LegalContactEmail,
		FairUseBasis:      r.FairUseBasis,
	}
}

// sourceResponse はソース情報のAPIレスポンス。
type sourceResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	BaseURL           string     `json:"base_url"`
	FeedURL           string     `json:"feed_url,omitempty"`
	CMSType           string     `json:"cms_type,omitempty"`
	Language          string     `json:"language"`
	Country           string     `json:"country,omitempty"`
	CrawlDelaySeconds int        `json:"crawl_delay_seconds"`
	RobotsTxtURL      string     `json:"robots_txt_url,omitempty"`
	TermsOfServiceURL string     `json:"terms_of_service_url,omitempty"`
	LegalContactEmail string     `json:"legal_contact_email,omitempty"`
	FairUseBasis      string     `json:"fair_use_basis"`
	ComplianceScore   float64    `json:"compliance_score"`
	ValidationStatus  string     `json:"validation_status"`
	LastValidationAt  *time.Time `json:"last_validation_at,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toSourceResponse(s *model.Source) sourceResponse {
	return sourceResponse{
		ID:                s.ID,
		Name:              s.Name,
		BaseURL:           s.BaseURL,
		FeedURL:           s.FeedURL,
		CMSType:           s.CMSType,
		Language:          s.Language,
		Country:           s.Country,
		CrawlDelaySeconds: s.CrawlDelaySeconds,
		RobotsTxtURL:      s.RobotsTxtURL,
		TermsOfServiceURL: s.TermsOfServiceURL,
		LegalContactEmail: s.LegalContactEmail,
		FairUseBasis:      s.FairUseBasis,
		ComplianceScore:   s.ComplianceScore,
		ValidationStatus:  string(s.ValidationStatus),
		LastValidationAt:  s.LastValidationAt,
		IsActive:          s.IsActive,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// complianceResultResponse は検証結果のAPIレスポンス。
type complianceResultResponse struct {
	SourceID                string    `json:"source_id"`
	IsCompliant             bool      `json:"is_compliant"`
	Score                   float64   `json:"score"`
	Status                  string    `json:"status"`
	Violations              []string  `json:"violations"`
	Recommendations         []string  `json:"recommendations"`
	RobotsCrawlDelaySeconds float64   `json:"robots_crawl_delay_seconds,omitempty"`
	CheckedAt               time.Time `json:"checked_at"`
}

func toComplianceResultResponse(r *model.ComplianceResult) complianceResultResponse {
	violations := r.Violations
	if violations == nil {
		violations = []string{}
	}
	recommendations := r.Recommendations
	if recommendations == nil {
		recommendations = []string{}
	}
	return complianceResultResponse{
		SourceID:                r.SourceID,
		IsCompliant:             r.IsCompliant,
		Score:                   r.Score,
		Status:                  string(r.Status),
		Violations:              violations,
		Recommendations:         recommendations,
		RobotsCrawlDelaySeconds: r.RobotsCrawlDelay.Seconds(),
		CheckedAt:               r.CheckedAt,
	}
}

// auditEntryResponse は監査ログ1件のAPIレスポンス。
type auditEntryResponse struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Details     string    `json:"details,omitempty"`
	ScoreBefore *float64  `json:"score_before,omitempty"`
	ScoreAfter  *float64  `json:"score_after,omitempty"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"created_at"`
}

// dashboardResponse はコンプライアンスダッシュボードのAPIレスポンス。
type dashboardResponse struct {
	TotalSources     int `json:"total_sources"`
	CompliantSources int `json:"compliant_sources"`
	PendingReview    int `json:"pending_review"`
	FailedValidation int `json:"failed_validation"`
}

// --- ハンドラー ---

// RegisterSource はソースを登録する。
// POST /api/sources
func (h *SourceHandler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSourceRequest(w, r)
	if !ok {
		return
	}

	src, err := h.sources.Register(r.Context(), req.draft(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, toSourceResponse(src))
}

// ListSources は有効なソースの一覧を返す。
// GET /api/sources
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.ListActive(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]sourceResponse, len(sources))
	for i, s := range sources {
		resp[i] = toSourceResponse(s)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"sources": resp})
}

// GetSource はソース1件を返す。
// GET /api/sources/{id}
func (h *SourceHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	src, err := h.sources.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if src == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(id))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toSourceResponse(src))
}

// UpdateSource はソース設定を更新する。更新後の検証状態は pending に戻る。
// PUT /api/sources/{id}
func (h *SourceHandler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, ok := decodeSourceRequest(w, r)
	if !ok {
		return
	}

	src, err := h.sources.Update(r.Context(), id, req.draft(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		if errors.Is(err, model.ErrSourceNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(id))
			return
		}
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toSourceResponse(src))
}

// DeactivateSource はソースを無効化する。
// DELETE /api/sources/{id}
func (h *SourceHandler) DeactivateSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.sources.Deactivate(r.Context(), id, middleware.ActorFromContext(r.Context())); err != nil {
		if errors.Is(err, model.ErrSourceNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(id))
			return
		}
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateSource はソースのコンプライアンス検証を実行する。
// 不合格の場合も検証結果（違反項目と推奨対応）を422で返す。
// POST /api/sources/{id}/validate
func (h *SourceHandler) ValidateSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.compliance.ValidateSource(r.Context(), id, middleware.ActorFromContext(r.Context()))
	if err != nil {
		var complianceErr *model.ComplianceError
		if errors.As(err, &complianceErr) && result != nil {
			middleware.WriteJSON(w, http.StatusUnprocessableEntity, toComplianceResultResponse(result))
			return
		}
		if errors.Is(err, model.ErrSourceNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(id))
			return
		}
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toComplianceResultResponse(result))
}

// GetAuditTrail はソースの監査ログを古い順に返す。
// GET /api/sources/{id}/audit
func (h *SourceHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.compliance.AuditTrail(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrSourceNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(id))
			return
		}
		handleServiceError(w, err)
		return
	}

	resp := make([]auditEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = auditEntryResponse{
			ID:          e.ID,
			Action:      string(e.Action),
			Details:     e.Details,
			ScoreBefore: e.ScoreBefore,
			ScoreAfter:  e.ScoreAfter,
			Actor:       e.Actor,
			CreatedAt:   e.CreatedAt,
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"source_id": id, "entries": resp})
}

// GetDashboard はコンプライアンス状況の集計を返す。
// GET /api/compliance/dashboard
func (h *SourceHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.compliance.Dashboard(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dashboardResponse{
		TotalSources:     d.TotalSources,
		CompliantSources: d.CompliantSources,
		PendingReview:    d.PendingReview,
		FailedValidation: d.FailedValidation,
	})
}

func decodeSourceRequest(w http.ResponseWriter, r *http.Request) (sourceRequest, bool) {
	var req sourceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSourceBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestBody())
		return req, false
	}
	return req, true
}
