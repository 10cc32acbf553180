package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/medpulse/internal/model"
	"github.com/hitoshi/medpulse/internal/repository"
)

// SourceValidator はソース1件の検証を行う。
type SourceValidator interface {
	Validate(ctx context.Context, src *model.Source) *model.ComplianceResult
}

// Recorder は検証結果をメトリクスに記録する。
type Recorder interface {
	RecordComplianceValidation(status string)
}

// RevalidationSummary は一括再検証の結果。
type RevalidationSummary struct {
	Total     int
	Validated int
	Failed    int
	Errors    int
}

// Service はコンプライアンス検証の実行と結果の永続化を行う。
type Service struct {
	sources   repository.SourceRepository
	audits    repository.AuditRepository
	validator SourceValidator
	recorder  Recorder
	logger    *slog.Logger
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(
	sources repository.SourceRepository,
	audits repository.AuditRepository,
	validator SourceValidator,
	recorder Recorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		sources:   sources,
		audits:    audits,
		validator: validator,
		recorder:  recorder,
		logger:    logger,
	}
}

// ValidateSource はソースを検証し、スコア・状態・検証日時と監査ログを同一トランザクションで保存する。
// 不合格の場合は結果とともに ComplianceError を返す。
func (s *Service) ValidateSource(ctx context.Context, id, actor string) (*model.ComplianceResult, error) {
	src, err := s.sources.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find source: %w", err)
	}
	if src == nil {
		return nil, model.ErrSourceNotFound
	}

	result := s.validator.Validate(ctx, src)

	before := src.ComplianceScore
	after := result.Score
	checkedAt := result.CheckedAt
	src.ComplianceScore = result.Score
	src.ValidationStatus = result.Status
	src.LastValidationAt = &checkedAt
	src.UpdatedAt = checkedAt

	entries := []*model.ComplianceAuditEntry{{
		ID:       uuid.New().String(),
		SourceID: src.ID,
		Action:   model.AuditActionValidationRun,
		Details: fmt.Sprintf("status=%s score=%.2f violations=[%s]",
			result.Status, result.Score, strings.Join(result.Violations, "; ")),
		ScoreBefore: &before,
		ScoreAfter:  &after,
		Actor:       actor,
		CreatedAt:   checkedAt,
	}}
	if before != after {
		entries = append(entries, &model.ComplianceAuditEntry{
			ID:          uuid.New().String(),
			SourceID:    src.ID,
			Action:      model.AuditActionScoreChanged,
			Details:     fmt.Sprintf("compliance score changed from %.2f to %.2f", before, after),
			ScoreBefore: &before,
			ScoreAfter:  &after,
			Actor:       actor,
			CreatedAt:   checkedAt,
		})
	}

	if err := s.sources.UpdateValidationWithAudit(ctx, src, entries); err != nil {
		return nil, fmt.Errorf("failed to save validation result: %w", err)
	}
	if s.recorder != nil {
		s.recorder.RecordComplianceValidation(string(result.Status))
	}

	if !result.IsCompliant {
		s.logger.Warn("ソースがコンプライアンス要件を満たしていません",
			slog.String("source_id", src.ID),
			slog.Float64("score", result.Score),
			slog.Any("violations", result.Violations),
		)
		return result, &model.ComplianceError{
			SourceID:        src.ID,
			Score:           result.Score,
			Violations:      result.Violations,
			Recommendations: result.Recommendations,
		}
	}

	s.logger.Info("ソースの検証が完了しました",
		slog.String("source_id", src.ID),
		slog.Float64("score", result.Score),
		slog.String("status", string(result.Status)),
	)
	return result, nil
}

// RevalidateAll は有効なすべてのソースを再検証する。
// 個別のソースのエラーは記録して続行する。
func (s *Service) RevalidateAll(ctx context.Context) (*RevalidationSummary, error) {
	start := time.Now()
	sources, err := s.sources.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sources: %w", err)
	}

	summary := &RevalidationSummary{Total: len(sources)}
	for _, src := range sources {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		result, err := s.ValidateSource(ctx, src.ID, "scheduler")
		var complianceErr *model.ComplianceError
		switch {
		case err == nil && result.Status == model.ValidationStatusValidated:
			summary.Validated++
		case err == nil || errors.As(err, &complianceErr):
			summary.Failed++
		default:
			summary.Errors++
			s.logger.Error("ソースの再検証に失敗しました",
				slog.String("source_id", src.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("ソースの一括再検証が完了しました",
		slog.Int("total", summary.Total),
		slog.Int("validated", summary.Validated),
		slog.Int("failed", summary.Failed),
		slog.Int("errors", summary.Errors),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return summary, nil
}

// Dashboard はコンプライアンス状況の集計を返す。
func (s *Service) Dashboard(ctx context.Context) (*model.ComplianceDashboard, error) {
	d, err := s.sources.Dashboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build compliance dashboard: %w", err)
	}
	return d, nil
}

// AuditTrail はソースの監査ログを古い順に返す。
func (s *Service) AuditTrail(ctx context.Context, sourceID string) ([]*model.ComplianceAuditEntry, error) {
	src, err := s.sources.FindByID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find source: %w", err)
	}
	if src == nil {
		return nil, model.ErrSourceNotFound
	}
	return s.audits.ListBySource(ctx, sourceID)
}
